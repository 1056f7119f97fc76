package symbols

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how to find definitions in one grammar.
type LanguageConfig struct {
	Name       string
	Extensions []string
	Grammar    *sitter.Language

	// Definitions maps a node type to the kind it defines.
	Definitions map[string]Kind

	// Containers are node types whose function definitions are methods.
	Containers map[string]bool
}

// Registry resolves languages by name or file extension.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*LanguageConfig
	byExt  map[string]*LanguageConfig
}

// NewRegistry creates a registry with the built-in grammars.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[string]*LanguageConfig),
		byExt:  make(map[string]*LanguageConfig),
	}
	for _, cfg := range builtinLanguages() {
		r.Register(cfg)
	}
	return r
}

// Register adds or replaces a language.
func (r *Registry) Register(cfg *LanguageConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[cfg.Name] = cfg
	for _, ext := range cfg.Extensions {
		r.byExt[strings.ToLower(ext)] = cfg
	}
}

// ByName returns the language called name.
func (r *Registry) ByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byName[strings.ToLower(name)]
	return cfg, ok
}

// ForPath returns the language for a file by its extension.
func (r *Registry) ForPath(path string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return cfg, ok
}

// Languages returns registered language names, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the shared built-in registry.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() { defaultRegistry = NewRegistry() })
	return defaultRegistry
}

func builtinLanguages() []*LanguageConfig {
	tsDefs := map[string]Kind{
		"function_declaration":           KindFunction,
		"generator_function_declaration": KindFunction,
		"class_declaration":              KindClass,
		"abstract_class_declaration":     KindClass,
		"method_definition":              KindMethod,
		"interface_declaration":          KindInterface,
		"type_alias_declaration":         KindType,
		"enum_declaration":               KindEnum,
		"module":                         KindModule,
	}
	jsDefs := map[string]Kind{
		"function_declaration":           KindFunction,
		"generator_function_declaration": KindFunction,
		"class_declaration":              KindClass,
		"method_definition":              KindMethod,
	}

	return []*LanguageConfig{
		{
			Name:       "rust",
			Extensions: []string{".rs"},
			Grammar:    rust.GetLanguage(),
			Definitions: map[string]Kind{
				"function_item":           KindFunction,
				"function_signature_item": KindFunction,
				"struct_item":             KindStruct,
				"union_item":              KindStruct,
				"enum_item":               KindEnum,
				"trait_item":              KindTrait,
				"type_item":               KindType,
				"const_item":              KindConstant,
				"static_item":             KindConstant,
				"mod_item":                KindModule,
				"macro_definition":        KindMacro,
			},
			Containers: map[string]bool{"impl_item": true, "trait_item": true},
		},
		{
			Name:       "go",
			Extensions: []string{".go"},
			Grammar:    golang.GetLanguage(),
			Definitions: map[string]Kind{
				"function_declaration": KindFunction,
				"method_declaration":   KindMethod,
				"type_spec":            KindType, // refined by the type_spec's type child
				"const_spec":           KindConstant,
			},
		},
		{
			Name:       "python",
			Extensions: []string{".py", ".pyi"},
			Grammar:    python.GetLanguage(),
			Definitions: map[string]Kind{
				"function_definition": KindFunction,
				"class_definition":    KindClass,
			},
			Containers: map[string]bool{"class_definition": true},
		},
		{
			Name:        "javascript",
			Extensions:  []string{".js", ".mjs", ".cjs", ".jsx"},
			Grammar:     javascript.GetLanguage(),
			Definitions: jsDefs,
		},
		{
			Name:        "typescript",
			Extensions:  []string{".ts", ".mts", ".cts"},
			Grammar:     typescript.GetLanguage(),
			Definitions: tsDefs,
		},
		{
			Name:        "tsx",
			Extensions:  []string{".tsx"},
			Grammar:     tsx.GetLanguage(),
			Definitions: tsDefs,
		},
		{
			Name:       "java",
			Extensions: []string{".java"},
			Grammar:    java.GetLanguage(),
			Definitions: map[string]Kind{
				"class_declaration":       KindClass,
				"record_declaration":      KindClass,
				"interface_declaration":   KindInterface,
				"enum_declaration":        KindEnum,
				"method_declaration":      KindMethod,
				"constructor_declaration": KindMethod,
			},
		},
	}
}
