// Package query implements the structured query language: a parser into a
// boolean AST and an executor that federates leaf searches across backends.
package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Field selects the backend a leaf query runs against.
type Field string

const (
	FieldText       Field = "text"
	FieldRegex      Field = "regex"
	FieldFunction   Field = "function"
	FieldClass      Field = "class"
	FieldStruct     Field = "struct"
	FieldEnum       Field = "enum"
	FieldTrait      Field = "trait"
	FieldMethod     Field = "method"
	FieldSymbol     Field = "symbol"
	FieldFile       Field = "file"
	FieldPath       Field = "path"
	FieldCalls      Field = "calls"
	FieldCalledBy   Field = "calledby"
	FieldReferences Field = "references"
	FieldSemantic   Field = "semantic"
	FieldFuzzy      Field = "fuzzy"
	FieldSyntax     Field = "syntax"
)

// fieldAliases maps accepted spellings to fields.
var fieldAliases = map[string]Field{
	"text": FieldText, "regex": FieldRegex, "re": FieldRegex,
	"function": FieldFunction, "fn": FieldFunction, "func": FieldFunction,
	"class": FieldClass, "struct": FieldStruct, "enum": FieldEnum,
	"trait": FieldTrait, "interface": FieldTrait, "method": FieldMethod,
	"symbol": FieldSymbol, "sym": FieldSymbol,
	"file": FieldFile, "path": FieldPath,
	"calls": FieldCalls, "calledby": FieldCalledBy, "called_by": FieldCalledBy,
	"references": FieldReferences, "refs": FieldReferences,
	"semantic": FieldSemantic, "fuzzy": FieldFuzzy, "syntax": FieldSyntax,
}

// ParseField resolves a field name or alias, case-insensitively.
func ParseField(name string) (Field, bool) {
	f, ok := fieldAliases[strings.ToLower(name)]
	return f, ok
}

// SymbolKind returns the index kind for kind-filtered symbol fields, and
// "" for FieldSymbol (any kind).
func (f Field) SymbolKind() (string, bool) {
	switch f {
	case FieldFunction, FieldClass, FieldStruct, FieldEnum, FieldTrait, FieldMethod:
		return string(f), true
	case FieldSymbol:
		return "", true
	}
	return "", false
}

// IsLSP reports whether the field is answered by a language server.
func (f Field) IsLSP() bool {
	return f == FieldCalls || f == FieldCalledBy || f == FieldReferences
}

// Query is a node of the query AST: *Search or *Logical.
type Query interface {
	String() string
	query()
}

// Search is a leaf query.
type Search struct {
	Field Field
	Value string
}

func (*Search) query() {}

func (s *Search) String() string {
	v := s.Value
	if v == "" || strings.ContainsAny(v, " \t\"()") {
		v = strconv.Quote(v)
	}
	return string(s.Field) + ":" + v
}

// Operator combines two queries.
type Operator int

const (
	And Operator = iota
	Or
	// Not is binary: left results minus right keys.
	Not
)

func (o Operator) String() string {
	switch o {
	case And:
		return "AND"
	case Or:
		return "OR"
	case Not:
		return "NOT"
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// Logical composes two queries.
type Logical struct {
	Op    Operator
	Left  Query
	Right Query
}

func (*Logical) query() {}

func (l *Logical) String() string {
	if l.Op == Not {
		return "(" + l.Left.String() + " AND NOT " + l.Right.String() + ")"
	}
	return "(" + l.Left.String() + " " + l.Op.String() + " " + l.Right.String() + ")"
}

// Metadata carries result paging. Nil means unset.
type Metadata struct {
	Limit  *int `json:"limit,omitempty"`
	Offset *int `json:"offset,omitempty"`
}

// Result is the uniform result shape every backend maps into.
type Result struct {
	Path    string  `json:"path"`
	Line    int     `json:"line"`
	Column  int     `json:"column,omitempty"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
	Context string  `json:"context,omitempty"`
	Kind    string  `json:"kind,omitempty"`
}

type key struct {
	path string
	line int
}

func (r Result) key() key { return key{r.Path, r.Line} }
