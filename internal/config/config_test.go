package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config lookup at an empty directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "127.0.0.1:7878", cfg.Server.Addr)
	assert.Equal(t, ".codesearch", cfg.Index.Dir)
	assert.Equal(t, runtime.NumCPU(), cfg.Index.Workers)
	assert.True(t, cfg.Backends.Symbols)
	assert.True(t, cfg.Backends.LSP)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, "rust", cfg.LSP.DefaultLanguage)
	assert.Contains(t, cfg.Paths.Exclude, "**/.git/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/.codesearch/**")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFiles_UsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Server.Addr, cfg.Server.Addr)
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	// Given: a project config disabling LSP and adding an exclude
	isolate(t)
	dir := t.TempDir()
	yamlContent := `
server:
  addr: 127.0.0.1:9999
backends:
  lsp: false
paths:
  exclude:
    - "**/fixtures/**"
lsp:
  default_language: go
  servers:
    zig:
      command: zls
      extensions: [".zig"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte(yamlContent), 0o644))

	// When: loading
	cfg, err := Load(dir)

	// Then: file values win, untouched values keep defaults
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.False(t, cfg.Backends.LSP)
	assert.True(t, cfg.Backends.Symbols)
	assert.Equal(t, "go", cfg.LSP.DefaultLanguage)
	assert.Equal(t, "zls", cfg.LSP.Servers["zig"].Command)
	assert.Contains(t, cfg.Paths.Exclude, "**/fixtures/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/node_modules/**")
	assert.Equal(t, []string{"zig"}, cfg.LSPLanguages())
}

func TestLoad_UserConfigBelowProjectConfig(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "codesearch"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "codesearch", "config.yaml"),
		[]byte("server:\n  log_level: debug\n  addr: 127.0.0.1:1111\n"), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName),
		[]byte("server:\n  addr: 127.0.0.1:2222\n"), 0o644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "127.0.0.1:2222", cfg.Server.Addr)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName),
		[]byte("backends:\n  semantic: true\n"), 0o644))

	t.Setenv("CODESEARCH_ADDR", "0.0.0.0:7000")
	t.Setenv("CODESEARCH_BACKENDS_SEMANTIC", "false")
	t.Setenv("CODESEARCH_RRF_CONSTANT", "30")
	t.Setenv("CODESEARCH_BACKENDS_FUZZY", "not-a-bool")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.Server.Addr)
	assert.False(t, cfg.Backends.Semantic)
	assert.True(t, cfg.Backends.Fuzzy)
	assert.Equal(t, 30, cfg.Search.RRFConstant)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte("server: [unclosed"), 0o644))

	_, err := Load(dir)

	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad addr", func(c *Config) { c.Server.Addr = "nohostport" }},
		{"bad level", func(c *Config) { c.Server.LogLevel = "loud" }},
		{"absolute index dir", func(c *Config) { c.Index.Dir = "/tmp/idx" }},
		{"zero workers", func(c *Config) { c.Index.Workers = 0 }},
		{"bad debounce", func(c *Config) { c.Index.WatchDebounce = "soon" }},
		{"weights sum", func(c *Config) { c.Search.BM25Weight = 0.9 }},
		{"limit above max", func(c *Config) { c.Search.DefaultLimit = 5000 }},
		{"fuzzy threshold", func(c *Config) { c.Search.FuzzyThreshold = 2 }},
		{"lsp without command", func(c *Config) { c.LSP.Servers["x"] = LSPServerConfig{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_Paths(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, filepath.Join("/repo", ".codesearch", "index.bin"), cfg.IndexPath("/repo"))
	assert.Equal(t, 200*time.Millisecond, cfg.WatchDebounceDuration())

	cfg.Telemetry.Path = "/tmp/t.db"
	assert.Equal(t, "/tmp/t.db", cfg.TelemetryPath())
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Backends.Fuzzy = false
	cfg.Search.DefaultLimit = 25

	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ProjectFileName)))
	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.False(t, loaded.Backends.Fuzzy)
	assert.Equal(t, 25, loaded.Search.DefaultLimit)
}

func TestScanOptions_FromConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Paths.Include = []string{"src/**"}
	cfg.Index.MaxFileSize = 1024

	opts := cfg.ScanOptions("/repo")

	assert.Equal(t, "/repo", opts.Root)
	assert.Equal(t, []string{"src/**"}, opts.Include)
	assert.Contains(t, opts.Exclude, "**/.git/**")
	assert.True(t, opts.RespectGitignore)
	assert.Equal(t, int64(1024), opts.MaxFileSize)
}
