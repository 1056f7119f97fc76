package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var errNotTTY = errors.New("output is not a terminal")

// TUIRenderer draws progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexingModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errNotTTY
	}
	tracker := NewProgressTracker()
	model := newIndexingModel(tracker, cfg.ProjectDir)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st := r.tracker.Stats(); event.Stage != st.Stage || event.Total != st.Total {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile)
	if r.program != nil {
		r.program.Send(refreshMsg{})
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer. It waits briefly for the final frame.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type (
	refreshMsg  struct{}
	errorMsg    ErrorEvent
	completeMsg CompletionStats
	tickMsg     time.Time
)

// maxShownErrors is how many recent errors the view lists.
const maxShownErrors = 5

type indexingModel struct {
	tracker    *ProgressTracker
	width      int
	complete   bool
	stats      CompletionStats
	errors     []ErrorEvent
	spinner    spinner.Model
	bar        progress.Model
	styles     Styles
	projectDir string
}

func newIndexingModel(tracker *ProgressTracker, projectDir string) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &indexingModel{
		tracker:    tracker,
		width:      80,
		spinner:    s,
		bar:        progress.New(progress.WithSolidFill(ColorAccent), progress.WithWidth(40), progress.WithoutPercentage()),
		styles:     DefaultStyles(),
		projectDir: projectDir,
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(60, msg.Width-30))
	case errorMsg:
		m.errors = append(m.errors, ErrorEvent(msg))
		if len(m.errors) > maxShownErrors {
			m.errors = m.errors[len(m.errors)-maxShownErrors:]
		}
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tickMsg:
		return m, tickCmd()
	}
	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	if m.complete {
		return m.renderComplete()
	}
	st := m.tracker.Stats()

	var b strings.Builder
	header := "codesearch index"
	if m.projectDir != "" {
		header += "  " + m.styles.Label.Render(m.projectDir)
	}
	b.WriteString(m.styles.Header.Render(header))
	b.WriteString("\n\n")
	b.WriteString(m.renderStages(st.Stage))
	b.WriteString("\n\n")

	if st.Total > 0 {
		fmt.Fprintf(&b, "%s %d/%d", m.bar.ViewAs(st.Progress), st.Current, st.Total)
		if st.ETA > 0 {
			fmt.Fprintf(&b, "  %s", m.styles.Label.Render("eta "+formatDuration(st.ETA)))
		}
	} else {
		fmt.Fprintf(&b, "%s %s", m.spinner.View(), st.Stage)
		if st.Current > 0 {
			fmt.Fprintf(&b, " %d", st.Current)
		}
	}
	b.WriteString("\n")
	if st.CurrentFile != "" {
		b.WriteString(m.styles.Dim.Render(truncatePath(st.CurrentFile, m.width-4)))
		b.WriteString("\n")
	}
	for _, e := range m.errors {
		style := m.styles.Error
		if e.IsWarn {
			style = m.styles.Warning
		}
		line := e.Err.Error()
		if e.File != "" {
			line = e.File + ": " + line
		}
		b.WriteString(style.Render(truncatePath(line, m.width-4)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *indexingModel) renderStages(current Stage) string {
	stages := []Stage{StageScanning, StageIndexing, StagePersisting}
	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("✓ "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render("● "+s.String()))
		default:
			parts = append(parts, m.styles.Stage.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render("  ›  "))
}

func (m *indexingModel) renderComplete() string {
	s := m.stats
	lines := []string{
		m.styles.Success.Render(fmt.Sprintf("✓ Indexed %d files", s.Files)),
		fmt.Sprintf("%s %d", m.styles.Label.Render("symbols "), s.Symbols),
		fmt.Sprintf("%s %s", m.styles.Label.Render("size    "), formatBytes(s.Size)),
		fmt.Sprintf("%s %s", m.styles.Label.Render("time    "), formatDuration(s.Duration)),
	}
	if s.Errors > 0 || s.Warnings > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("%d errors, %d warnings", s.Errors, s.Warnings)))
	}
	if s.IndexPath != "" {
		lines = append(lines, m.styles.Dim.Render(s.IndexPath))
	}
	return m.styles.Panel.Render(strings.Join(lines, "\n")) + "\n"
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// truncatePath keeps the tail of s, which is the informative part of a path.
func truncatePath(s string, maxLen int) string {
	if maxLen < 4 || len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen+3:]
}
