package embed

import (
	"regexp"
	"strings"
	"unicode"
)

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// TokenizeCode splits text into lowercase tokens, breaking identifiers on
// camelCase and snake_case boundaries. Tokens shorter than two characters
// are dropped.
func TokenizeCode(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range SplitIdentifier(word) {
			if len(part) >= 2 {
				tokens = append(tokens, strings.ToLower(part))
			}
		}
	}
	return tokens
}

// SplitIdentifier splits snake_case and camelCase identifiers.
//
//	"parseHTTPRequest" -> ["parse", "HTTP", "Request"]
//	"index_file"       -> ["index", "file"]
func SplitIdentifier(word string) []string {
	var out []string
	for _, part := range strings.Split(word, "_") {
		if part != "" {
			out = append(out, splitCamel(part)...)
		}
	}
	return out
}

func splitCamel(s string) []string {
	var (
		out []string
		cur strings.Builder
	)
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevLower || nextLower) && cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// stopWords are keywords common to most languages that carry no meaning
// for similarity.
var stopWords = map[string]struct{}{
	"func": {}, "function": {}, "fn": {}, "def": {}, "class": {},
	"return": {}, "import": {}, "const": {}, "var": {}, "let": {},
	"int": {}, "string": {}, "bool": {}, "void": {}, "true": {},
	"false": {}, "nil": {}, "null": {}, "this": {}, "self": {},
	"new": {}, "pub": {}, "impl": {}, "struct": {}, "the": {},
}

// IsStopWord reports whether a lowercase token is ignored for similarity.
func IsStopWord(tok string) bool {
	_, ok := stopWords[tok]
	return ok
}
