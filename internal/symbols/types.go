// Package symbols extracts named definitions from source files with
// tree-sitter and runs tree-sitter queries for structural search.
package symbols

// Kind tags a symbol. The string values travel over the wire.
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindClass     Kind = "class"
	KindStruct    Kind = "struct"
	KindEnum      Kind = "enum"
	KindTrait     Kind = "trait"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindConstant  Kind = "constant"
	KindModule    Kind = "module"
	KindMacro     Kind = "macro"
)

// ParseKind maps a kind name to a Kind, reporting whether it is known.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindFunction, KindMethod, KindClass, KindStruct, KindEnum, KindTrait,
		KindInterface, KindType, KindConstant, KindModule, KindMacro:
		return k, true
	}
	return "", false
}

// Symbol is one named definition. Line and Column locate the name and are
// 1-based.
type Symbol struct {
	Name      string
	Kind      Kind
	Line      int
	Column    int
	EndLine   int
	Signature string
}

// Match is one capture of a structural query.
type Match struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Text    string `json:"text"`
	Capture string `json:"capture"`
	Node    string `json:"node"`
}
