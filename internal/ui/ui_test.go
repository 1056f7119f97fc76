package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRenderer_PlainForNonTerminal(t *testing.T) {
	// Given: output that is not a terminal
	buf := &bytes.Buffer{}

	// When
	r := NewRenderer(NewConfig(buf))

	// Then
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)

	_, err := NewTUIRenderer(NewConfig(buf))
	assert.ErrorIs(t, err, errNotTTY)
}

func TestStage_Names(t *testing.T) {
	assert.Equal(t, "Indexing", StageIndexing.String())
	assert.Equal(t, "SAVE", StagePersisting.Icon())
	assert.Equal(t, "Unknown", Stage(42).String())
}

func TestPlainRenderer_Output(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: 3, Total: 10, CurrentFile: "src/lib.rs"})
	r.UpdateProgress(ProgressEvent{Stage: StagePersisting, Message: "writing index"})
	r.UpdateProgress(ProgressEvent{Stage: StageScanning})
	r.AddError(ErrorEvent{File: "bad.rs", Err: errors.New("unreadable"), IsWarn: true})
	r.Complete(CompletionStats{Files: 10, Symbols: 42, Duration: 1500 * time.Millisecond, Warnings: 1, IndexPath: "/x/index.bin"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "[INDEX] 3/10 src/lib.rs", lines[0])
	assert.Equal(t, "[SAVE] writing index", lines[1])
	assert.Equal(t, "WARN: bad.rs: unreadable", lines[2])
	assert.Equal(t, "Indexed 10 files, 42 symbols in 1.5s (0 errors, 1 warnings)", lines[3])
	assert.Equal(t, "Index: /x/index.bin", lines[4])
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestProgressTracker_Stats(t *testing.T) {
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 4)
	p.Update(1, "a.rs")
	p.Update(2, "")
	p.AddError(ErrorEvent{Err: errors.New("x")})
	p.AddError(ErrorEvent{Err: errors.New("y"), IsWarn: true})

	st := p.Stats()
	assert.Equal(t, StageIndexing, st.Stage)
	assert.InDelta(t, 0.5, st.Progress, 1e-9)
	assert.Equal(t, "a.rs", st.CurrentFile)
	assert.Equal(t, 1, st.ErrorCount)
	assert.Equal(t, 1, st.WarnCount)

	p.SetStage(StagePersisting, 0)
	st = p.Stats()
	assert.Zero(t, st.Progress)
	assert.Zero(t, st.ETA)
	assert.Empty(t, st.CurrentFile)
}

func TestIndexingModel_View(t *testing.T) {
	// Given: a model mid-way through indexing
	tracker := NewProgressTracker()
	m := newIndexingModel(tracker, "/repo")
	m.styles = NoColorStyles()
	tracker.SetStage(StageIndexing, 10)
	tracker.Update(5, "src/main.rs")

	// When
	view := m.View()

	// Then: stages, counts and the current file are shown
	assert.Contains(t, view, "✓ Scanning")
	assert.Contains(t, view, "● Indexing")
	assert.Contains(t, view, "○ Saving")
	assert.Contains(t, view, "5/10")
	assert.Contains(t, view, "src/main.rs")
	assert.Contains(t, view, "/repo")
}

func TestIndexingModel_CompleteQuits(t *testing.T) {
	m := newIndexingModel(NewProgressTracker(), "")
	m.styles = NoColorStyles()

	_, cmd := m.Update(errorMsg{File: "a.rs", Err: errors.New("boom")})
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "a.rs: boom")

	_, cmd = m.Update(completeMsg{Files: 7, Symbols: 9, Size: 2048, Duration: time.Second})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	view := m.View()
	assert.Contains(t, view, "Indexed 7 files")
	assert.Contains(t, view, "2.0 KiB")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 MiB", formatBytes(3<<19))
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "2m05s", formatDuration(125*time.Second))
	assert.Equal(t, "...c/d.go", truncatePath("a/b/c/d.go", 9))
	assert.Equal(t, "short", truncatePath("short", 9))
}
