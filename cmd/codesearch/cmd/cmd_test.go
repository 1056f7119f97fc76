package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/telemetry"
	"github.com/Aman-CERP/codesearch/internal/ui"
	"github.com/Aman-CERP/codesearch/pkg/version"
)

var corpusFiles = map[string]string{
	"src/lib.rs":  "pub struct Parser {}\n\nimpl Parser {\n    pub fn parse(&self) {}\n    fn foo_bar(&self) { /* foo then bar */ }\n}\n",
	"src/main.rs": "fn main() {\n    let foo = 1;\n}\n\nfn run() { foo(); }\n",
	"docs/bar.md": "# bar\nonly bar here\n",
}

// isolate points user config and data directories at a temp dir and
// returns a project root holding the test corpus.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("CODESEARCH_BACKENDS_LSP", "false")
	t.Setenv("NO_COLOR", "1")

	root := t.TempDir()
	for rel, content := range corpusFiles {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd_DefaultOutput(t *testing.T) {
	// Given: the version command without flags
	// When: executing it
	out, err := run(t, "version")

	// Then: the full version line is printed
	require.NoError(t, err)
	assert.Contains(t, out, "codesearch")
	assert.Contains(t, out, version.Version)
	assert.Contains(t, out, "commit")
}

func TestVersionCmd_ShortOutput(t *testing.T) {
	out, err := run(t, "version", "--short")

	require.NoError(t, err)
	assert.Equal(t, version.Version, strings.TrimSpace(out))
}

func TestVersionCmd_JSONOutput(t *testing.T) {
	// Given: the version command with --json
	// When: executing it
	out, err := run(t, "version", "--json")

	// Then: the build info decodes with every field set
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.OS)
}

func TestInitCmd_WritesConfigOnce(t *testing.T) {
	// Given: a project without .codesearch.yaml
	root := isolate(t)

	// When: running init twice
	out, err := run(t, "init", "--root", root)
	require.NoError(t, err)
	_, again := run(t, "init", "--root", root)

	// Then: the file is written and the second run refuses to overwrite it
	assert.Contains(t, out, projectConfigFile)
	data, err := os.ReadFile(filepath.Join(root, projectConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "127.0.0.1:7878")
	require.Error(t, again)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(again))

	// And: --force overwrites it
	_, err = run(t, "init", "--root", root, "--force")
	assert.NoError(t, err)
}

func TestIndexCmd_PlainOutput(t *testing.T) {
	// Given: a project with three files
	root := isolate(t)

	// When: indexing with plain output
	out, err := run(t, "index", root, "--no-tui")

	// Then: the summary counts the files and the index file exists
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 3 files")
	assert.FileExists(t, filepath.Join(root, ".codesearch", "index.bin"))
}

func TestQueryCmd_InProcess(t *testing.T) {
	// Given: a project and no running server
	root := isolate(t)

	// When: querying in process
	out, err := run(t, "query", "foo AND bar", "--root", root, "--local", "--json")

	// Then: only the line with both words matches
	require.NoError(t, err)
	var res hits
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "src/lib.rs", res.Matches[0].Path)
	assert.Equal(t, 5, res.Matches[0].Line)
}

func TestQueryCmd_ParseErrorCarriesCode(t *testing.T) {
	root := isolate(t)

	_, err := run(t, "query", "(foo", "--root", root, "--local")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQueryParse, errors.GetCode(err))
}

func TestSearchPathCmd_TextOutput(t *testing.T) {
	// Given: a project with docs/bar.md
	root := isolate(t)

	// When: searching paths for "bar"
	out, err := run(t, "search", "path", "bar", "--root", root, "--local")

	// Then: the file is listed with its first line
	require.NoError(t, err)
	assert.Equal(t, "docs/bar.md # bar\n", out)
}

func TestSearchTextCmd_NoMatches(t *testing.T) {
	root := isolate(t)

	out, err := run(t, "search", "text", "nothing-like-this", "--root", root, "--local")

	require.NoError(t, err)
	assert.Equal(t, "no matches\n", out)
}

func TestStatsTelemetryCmd_ReadsStore(t *testing.T) {
	// Given: a telemetry database with two recorded searches
	root := isolate(t)
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	require.NoError(t, os.WriteFile(filepath.Join(root, projectConfigFile),
		[]byte("telemetry:\n  enabled: true\n  path: "+dbPath+"\n"), 0o644))

	store, err := telemetry.OpenSQLite(dbPath)
	require.NoError(t, err)
	m := telemetry.New(store, telemetry.Config{})
	m.Record(telemetry.Event{Action: "query", Query: "parse", ResultCount: 2, Latency: time.Millisecond})
	m.Record(telemetry.Event{Action: "query", Query: "missing", Latency: 20 * time.Millisecond})
	require.NoError(t, m.Close())

	// When: reading the report
	out, err := run(t, "stats", "telemetry", "--root", root, "--json")

	// Then: both requests and the zero-result query are reported
	require.NoError(t, err)
	var report telemetryReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, int64(2), report.Actions["query"])
	assert.Equal(t, int64(1), report.Latencies[telemetry.BucketP10])
	assert.Contains(t, report.ZeroResultQueries, "missing")
}

func TestStatsTelemetryCmd_NoDatabase(t *testing.T) {
	root := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, projectConfigFile),
		[]byte("telemetry:\n  path: "+filepath.Join(t.TempDir(), "absent.db")+"\n"), 0o644))

	_, err := run(t, "stats", "telemetry", "--root", root)

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigNotFound, errors.GetCode(err))
}

func TestStatsCmd_InProcessBuildsIndex(t *testing.T) {
	root := isolate(t)

	out, err := run(t, "stats", "--root", root, "--local")

	require.NoError(t, err)
	assert.Contains(t, out, "Files:        3")
	assert.Contains(t, out, "Watching:     false")
}

func TestStatusCmd_NotRunning(t *testing.T) {
	// Given: nothing listening on the configured address
	root := isolate(t)

	// When: asking for status
	out, err := run(t, "status", "--root", root, "--addr", "127.0.0.1:1")

	// Then: the command reports the server as down without failing
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}

func TestPrinter_FormatHit(t *testing.T) {
	p := &printer{styles: ui.NoColorStyles()}

	tests := []struct {
		name string
		hit  hit
		want string
	}{
		{"text", hit{Path: "a.rs", Line: 3, Column: 5, Text: "  let x = 1;"}, "a.rs:3:5 let x = 1;"},
		{"symbol", hit{Path: "a.rs", Line: 1, Name: "parse", Kind: "function", Signature: "fn parse()"}, "a.rs:1 [function] fn parse()"},
		{"name only", hit{Path: "a.rs", Line: 2, Name: "Parser", Kind: "struct"}, "a.rs:2 [struct] Parser"},
		{"path", hit{Path: "docs/bar.md"}, "docs/bar.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.formatHit(tt.hit))
		})
	}
}
