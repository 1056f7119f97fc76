package query

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/Aman-CERP/codesearch/internal/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	text string
	// quoted is set when the whole token was a quoted string.
	quoted bool
	pos    int
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of query"
	case tokLParen:
		return `"("`
	case tokRParen:
		return `")"`
	}
	return strconv.Quote(t.text)
}

// Parse parses a query string.
//
// Terms are field:value pairs or bare words (text search). Values with
// spaces or parentheses are double-quoted. Adjacent terms are ANDed;
// AND, OR and NOT are upper-case keywords with NOT binding as "and not";
// parentheses group. limit:N and offset:N anywhere set the metadata.
//
// A word whose prefix before the first colon is letters only is a field
// term even when the field is unknown; the executor rejects unknown fields.
// Values starting with "//" (URLs) are text. Quote any other text that
// contains a colon, e.g. "note:this".
func Parse(input string) (Query, Metadata, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, Metadata{}, err
	}
	toks, meta, err := extractMetadata(toks)
	if err != nil {
		return nil, Metadata{}, err
	}
	if len(toks) == 0 {
		return nil, meta, errors.New(errors.ErrCodeQueryEmpty, "query is empty", nil)
	}

	p := &parser{toks: toks}
	q, err := p.parseOr()
	if err != nil {
		return nil, Metadata{}, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, Metadata{}, parseErr(t.pos, "unexpected "+t.describe())
	}
	return q, meta, nil
}

func parseErr(pos int, msg string) error {
	return errors.Newf(errors.ErrCodeQueryParse, "%s at position %d", msg, pos).
		WithDetail("position", strconv.Itoa(pos))
}

func lex(input string) ([]token, error) {
	var toks []token
	rs := []rune(input)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		default:
			start := i
			var b strings.Builder
			quotedWhole := r == '"'
			for i < len(rs) && !unicode.IsSpace(rs[i]) && rs[i] != '(' && rs[i] != ')' {
				if rs[i] == '"' {
					s, next, err := readQuoted(rs, i)
					if err != nil {
						return nil, err
					}
					b.WriteString(s)
					i = next
					continue
				}
				b.WriteRune(rs[i])
				i++
			}
			text := b.String()
			quotedWhole = quotedWhole && rs[i-1] == '"'
			kind := tokWord
			if !quotedWhole {
				switch text {
				case "AND", "&&":
					kind = tokAnd
				case "OR", "||":
					kind = tokOr
				case "NOT":
					kind = tokNot
				}
			}
			toks = append(toks, token{kind: kind, text: text, quoted: quotedWhole, pos: start})
		}
	}
	return toks, nil
}

// readQuoted reads a double-quoted segment starting at rs[i] and returns
// its unescaped contents and the index after the closing quote.
func readQuoted(rs []rune, i int) (string, int, error) {
	start := i
	var b strings.Builder
	for i++; i < len(rs); i++ {
		switch rs[i] {
		case '\\':
			if i+1 < len(rs) {
				i++
				b.WriteRune(rs[i])
			}
		case '"':
			return b.String(), i + 1, nil
		default:
			b.WriteRune(rs[i])
		}
	}
	return "", 0, parseErr(start, "unterminated quote")
}

// extractMetadata removes limit:N and offset:N terms.
func extractMetadata(toks []token) ([]token, Metadata, error) {
	var meta Metadata
	out := toks[:0]
	for _, t := range toks {
		if t.kind == tokWord && !t.quoted {
			name, value, ok := strings.Cut(t.text, ":")
			if ok && (name == "limit" || name == "offset") {
				n, err := strconv.Atoi(value)
				if err != nil || n < 0 {
					return nil, Metadata{}, parseErr(t.pos, name+" must be a non-negative integer")
				}
				if name == "limit" {
					meta.Limit = &n
				} else {
					meta.Offset = &n
				}
				continue
			}
		}
		out = append(out, t)
	}
	return out, meta, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token {
	if p.i >= len(p.toks) {
		end := 0
		if n := len(p.toks); n > 0 {
			end = p.toks[n-1].pos + len([]rune(p.toks[n-1].text))
		}
		return token{kind: tokEOF, pos: end}
	}
	return p.toks[p.i]
}

func (p *parser) next() token {
	t := p.peek()
	if p.i < len(p.toks) {
		p.i++
	}
	return t
}

func (p *parser) parseOr() (Query, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: Or, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Query, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := And
		switch p.peek().kind {
		case tokAnd:
			p.next()
			if p.peek().kind == tokNot {
				p.next()
				op = Not
			}
		case tokNot:
			p.next()
			op = Not
		case tokWord, tokLParen:
			// implicit AND
		default:
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Query, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		q, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, parseErr(c.pos, "expected \")\", got "+c.describe())
		}
		return q, nil
	case tokWord:
		return parseTerm(t)
	case tokNot:
		return nil, parseErr(t.pos, "NOT needs a query on its left")
	}
	return nil, parseErr(t.pos, "unexpected "+t.describe())
}

func parseTerm(t token) (Query, error) {
	if t.quoted {
		return &Search{Field: FieldText, Value: t.text}, nil
	}
	name, value, ok := strings.Cut(t.text, ":")
	// "std::io" and URLs such as "http://host" are plain text.
	if !ok || name == "" || strings.HasPrefix(value, ":") || strings.HasPrefix(value, "//") || !isIdent(name) {
		return &Search{Field: FieldText, Value: t.text}, nil
	}
	field, known := ParseField(name)
	if !known {
		// Left for the executor to reject as an unsupported field.
		field = Field(strings.ToLower(name))
	}
	if value == "" {
		return nil, parseErr(t.pos, "missing value for field "+name)
	}
	return &Search{Field: field, Value: value}, nil
}

func isIdent(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '_' {
			return false
		}
	}
	return true
}
