package symbols

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

const maxSignatureLen = 200

// Extractor pulls definitions out of source files. Safe for concurrent use;
// every call gets its own tree-sitter parser.
type Extractor struct {
	registry *Registry
}

// NewExtractor creates an extractor over the default registry.
func NewExtractor() *Extractor {
	return &Extractor{registry: DefaultRegistry()}
}

// NewExtractorWithRegistry creates an extractor over a custom registry.
func NewExtractorWithRegistry(r *Registry) *Extractor {
	return &Extractor{registry: r}
}

// Supports reports whether path has a registered grammar.
func (e *Extractor) Supports(path string) bool {
	_, ok := e.registry.ForPath(path)
	return ok
}

// LanguageFor returns the language name for path, if it has a grammar.
func (e *Extractor) LanguageFor(path string) (string, bool) {
	cfg, ok := e.registry.ForPath(path)
	if !ok {
		return "", false
	}
	return cfg.Name, true
}

// Languages returns the names of every language with a grammar.
func (e *Extractor) Languages() []string {
	return e.registry.Languages()
}

// Extract returns the definitions in content, choosing the grammar from
// the extension of path. Files without a grammar yield no symbols.
func (e *Extractor) Extract(path string, content []byte) ([]Symbol, error) {
	cfg, ok := e.registry.ForPath(path)
	if !ok {
		return nil, nil
	}
	return e.extract(context.Background(), cfg, content)
}

// ExtractLanguage is Extract with an explicit language name.
func (e *Extractor) ExtractLanguage(ctx context.Context, language string, content []byte) ([]Symbol, error) {
	cfg, ok := e.registry.ByName(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
	return e.extract(ctx, cfg, content)
}

func (e *Extractor) extract(ctx context.Context, cfg *LanguageConfig, content []byte) ([]Symbol, error) {
	tree, err := parse(ctx, cfg, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var out []Symbol
	e.walk(tree.RootNode(), cfg, content, false, &out)
	return out, nil
}

func parse(ctx context.Context, cfg *LanguageConfig, content []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(cfg.Grammar)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s source: %w", cfg.Name, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("failed to parse %s source: nil tree", cfg.Name)
	}
	return tree, nil
}

// walk visits named nodes depth-first. inContainer is true directly inside
// an impl, trait or class body, where functions are methods.
func (e *Extractor) walk(n *sitter.Node, cfg *LanguageConfig, src []byte, inContainer bool, out *[]Symbol) {
	kind, isDef := cfg.Definitions[n.Type()]
	if isDef {
		if sym, ok := symbolFor(n, kind, src, inContainer); ok {
			*out = append(*out, sym)
		}
	}

	childContainer := inContainer
	switch {
	case cfg.Containers[n.Type()]:
		childContainer = true
	case isDef && (kind == KindFunction || kind == KindMethod):
		childContainer = false
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child != nil {
			e.walk(child, cfg, src, childContainer, out)
		}
	}
}

func symbolFor(n *sitter.Node, kind Kind, src []byte, inContainer bool) (Symbol, bool) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return Symbol{}, false
	}
	name := nameNode.Content(src)
	if name == "" {
		return Symbol{}, false
	}

	if kind == KindFunction && inContainer {
		kind = KindMethod
	}
	if n.Type() == "type_spec" {
		kind = goTypeKind(n)
	}

	start := nameNode.StartPoint()
	return Symbol{
		Name:      name,
		Kind:      kind,
		Line:      int(start.Row) + 1,
		Column:    int(start.Column) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		Signature: signature(n.Content(src)),
	}, true
}

func goTypeKind(spec *sitter.Node) Kind {
	t := spec.ChildByFieldName("type")
	if t == nil {
		return KindType
	}
	switch t.Type() {
	case "struct_type":
		return KindStruct
	case "interface_type":
		return KindInterface
	}
	return KindType
}

// signature is the declaration text up to its body or first line break.
func signature(text string) string {
	if i := strings.IndexAny(text, "{\n"); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if len(text) > maxSignatureLen {
		text = text[:maxSignatureLen]
	}
	return text
}
