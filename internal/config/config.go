package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/codesearch/internal/scanner"
)

// ProjectFileName is the per-repository configuration file.
const ProjectFileName = ".codesearch.yaml"

// Config represents the complete codesearch configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Backends  BackendsConfig  `yaml:"backends" json:"backends"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	LSP       LSPConfig       `yaml:"lsp" json:"lsp"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// PathsConfig configures which paths to include and exclude.
// Patterns use doublestar syntax and are matched against slash-separated
// paths relative to the root being searched.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ServerConfig configures the TCP request server.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr     string `yaml:"addr" json:"addr"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFile overrides the default ~/.codesearch/logs/server.log.
	LogFile string `yaml:"log_file" json:"log_file"`
}

// IndexConfig configures the symbol index and its watcher.
type IndexConfig struct {
	// Dir is the index directory relative to the indexed root.
	Dir string `yaml:"dir" json:"dir"`
	// Workers bounds concurrent file indexing during a full build.
	Workers int `yaml:"workers" json:"workers"`
	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize   int64  `yaml:"max_file_size" json:"max_file_size"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// BackendsConfig names the backends enabled in this process. A disabled
// LSP backend makes calls, calledby and references queries fail; every
// other disabled backend yields empty results.
type BackendsConfig struct {
	Symbols  bool `yaml:"symbols" json:"symbols"`
	LSP      bool `yaml:"lsp" json:"lsp"`
	Semantic bool `yaml:"semantic" json:"semantic"`
	Fuzzy    bool `yaml:"fuzzy" json:"fuzzy"`
}

// SearchConfig configures search defaults and hybrid semantic fusion.
type SearchConfig struct {
	// DefaultLimit applies when a request does not carry a limit.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	// MaxResults caps any single backend call.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// BM25Weight and SemanticWeight must sum to 1.0.
	BM25Weight     float64 `yaml:"bm25_weight" json:"bm25_weight"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	// RRFConstant is the reciprocal rank fusion smoothing parameter (k).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// FuzzyThreshold is the minimum Jaro-Winkler similarity (0-1).
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" json:"fuzzy_threshold"`
}

// LSPConfig configures language servers.
type LSPConfig struct {
	// DefaultLanguage is used when a query value has no recognizable extension.
	DefaultLanguage string `yaml:"default_language" json:"default_language"`
	// Servers adds or overrides per-language server commands.
	Servers map[string]LSPServerConfig `yaml:"servers" json:"servers"`
}

// LSPServerConfig describes how to launch one language server.
type LSPServerConfig struct {
	Command    string   `yaml:"command" json:"command"`
	Args       []string `yaml:"args" json:"args"`
	Extensions []string `yaml:"extensions" json:"extensions"`
}

// TelemetryConfig configures the local request metrics store.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Path of the SQLite database; empty means ~/.codesearch/telemetry.db.
	Path string `yaml:"path" json:"path"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/.codesearch/**",
	"**/vendor/**",
	"**/target/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/*.min.js",
	"**/*.lock",
	"**/go.sum",
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: append([]string(nil), defaultExcludePatterns...),
		},
		Server: ServerConfig{
			Addr:     "127.0.0.1:7878",
			LogLevel: "info",
		},
		Index: IndexConfig{
			Dir:           ".codesearch",
			Workers:       runtime.NumCPU(),
			MaxFileSize:   1 << 20,
			WatchDebounce: "200ms",
		},
		Backends: BackendsConfig{
			Symbols:  true,
			LSP:      true,
			Semantic: true,
			Fuzzy:    true,
		},
		Search: SearchConfig{
			DefaultLimit:   50,
			MaxResults:     1000,
			BM25Weight:     0.5,
			SemanticWeight: 0.5,
			RRFConstant:    60,
			FuzzyThreshold: 0.8,
		},
		LSP: LSPConfig{
			DefaultLanguage: "rust",
			Servers:         map[string]LSPServerConfig{},
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/codesearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/codesearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codesearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "codesearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "codesearch", "config.yaml")
}

// DataDir returns ~/.codesearch, the home of logs and telemetry.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".codesearch")
	}
	return filepath.Join(home, ".codesearch")
}

// Load loads configuration for the project rooted at dir.
// Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/codesearch/config.yaml)
//  3. Project config (.codesearch.yaml in dir)
//  4. Environment variables (CODESEARCH_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userPath := GetUserConfigPath()
	if fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if dir != "" {
		if err := cfg.loadFromFile(dir); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile loads .codesearch.yaml or .codesearch.yml from dir if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ProjectFileName, ".codesearch.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path on top of the current values. Fields absent from
// the file keep their current value; present booleans are honored even
// when false.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	excludes := c.Paths.Exclude
	c.Paths.Exclude = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		c.Paths.Exclude = excludes
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	// Excludes accumulate rather than replace.
	c.Paths.Exclude = mergeUnique(excludes, c.Paths.Exclude)
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODESEARCH_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CODESEARCH_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CODESEARCH_INDEX_DIR"); v != "" {
		c.Index.Dir = v
	}
	if v := os.Getenv("CODESEARCH_LSP_DEFAULT_LANGUAGE"); v != "" {
		c.LSP.DefaultLanguage = v
	}
	if v := os.Getenv("CODESEARCH_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("CODESEARCH_BM25_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Search.BM25Weight = w
		}
	}
	if v := os.Getenv("CODESEARCH_SEMANTIC_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Search.SemanticWeight = w
		}
	}

	envBool("CODESEARCH_BACKENDS_SYMBOLS", &c.Backends.Symbols)
	envBool("CODESEARCH_BACKENDS_LSP", &c.Backends.LSP)
	envBool("CODESEARCH_BACKENDS_SEMANTIC", &c.Backends.Semantic)
	envBool("CODESEARCH_BACKENDS_FUZZY", &c.Backends.Fuzzy)
	envBool("CODESEARCH_TELEMETRY", &c.Telemetry.Enabled)
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr must be host:port, got %q", c.Server.Addr)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if c.Index.Dir == "" || filepath.IsAbs(c.Index.Dir) {
		return fmt.Errorf("index.dir must be a relative directory name, got %q", c.Index.Dir)
	}
	if c.Index.Workers < 1 {
		return fmt.Errorf("index.workers must be positive, got %d", c.Index.Workers)
	}
	if c.Index.MaxFileSize < 0 {
		return fmt.Errorf("index.max_file_size must be non-negative, got %d", c.Index.MaxFileSize)
	}
	if _, err := time.ParseDuration(c.Index.WatchDebounce); err != nil {
		return fmt.Errorf("index.watch_debounce: %w", err)
	}

	if c.Search.DefaultLimit < 1 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search.max_results (%d) must be >= default_limit (%d)", c.Search.MaxResults, c.Search.DefaultLimit)
	}
	if c.Search.BM25Weight < 0 || c.Search.BM25Weight > 1 {
		return fmt.Errorf("bm25_weight must be between 0 and 1, got %f", c.Search.BM25Weight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}
	if sum := c.Search.BM25Weight + c.Search.SemanticWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("bm25_weight + semantic_weight must equal 1.0, got %.2f", sum)
	}
	if c.Search.RRFConstant < 1 {
		return fmt.Errorf("rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.FuzzyThreshold < 0 || c.Search.FuzzyThreshold > 1 {
		return fmt.Errorf("fuzzy_threshold must be between 0 and 1, got %f", c.Search.FuzzyThreshold)
	}

	for lang, srv := range c.LSP.Servers {
		if srv.Command == "" {
			return fmt.Errorf("lsp.servers.%s.command is required", lang)
		}
	}
	return nil
}

// WatchDebounceDuration returns the parsed watch debounce interval.
func (c *Config) WatchDebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Index.WatchDebounce)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// ScanOptions returns the walk rules for root.
func (c *Config) ScanOptions(root string) scanner.Options {
	return scanner.Options{
		Root:             root,
		Include:          c.Paths.Include,
		Exclude:          c.Paths.Exclude,
		RespectGitignore: true,
		MaxFileSize:      c.Index.MaxFileSize,
	}
}

// IndexPath returns the on-disk index file for root.
func (c *Config) IndexPath(root string) string {
	return filepath.Join(root, c.Index.Dir, "index.bin")
}

// TelemetryPath returns the telemetry database path.
func (c *Config) TelemetryPath() string {
	if c.Telemetry.Path != "" {
		return c.Telemetry.Path
	}
	return filepath.Join(DataDir(), "telemetry.db")
}

// LSPLanguages returns the configured override languages in sorted order.
func (c *Config) LSPLanguages() []string {
	langs := make([]string, 0, len(c.LSP.Servers))
	for lang := range c.LSP.Servers {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
