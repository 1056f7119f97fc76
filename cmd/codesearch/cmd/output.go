package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/codesearch/internal/ui"
)

// hit is the union of the match shapes returned by the search actions.
type hit struct {
	Path      string  `json:"path"`
	Line      int     `json:"line,omitempty"`
	Column    int     `json:"column,omitempty"`
	Text      string  `json:"text,omitempty"`
	Name      string  `json:"name,omitempty"`
	Kind      string  `json:"kind,omitempty"`
	Signature string  `json:"signature,omitempty"`
	Score     float64 `json:"score,omitempty"`
}

type hits struct {
	Matches []hit `json:"matches"`
}

// printer writes results as text or JSON.
type printer struct {
	out    io.Writer
	json   bool
	styles ui.Styles
}

func newPrinter(out io.Writer, asJSON, noColor bool) *printer {
	return &printer{
		out:    out,
		json:   asJSON,
		styles: ui.GetStyles(noColor || ui.DetectNoColor() || !ui.IsTTY(out)),
	}
}

// value writes v as indented JSON.
func (p *printer) value(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) hits(res hits) error {
	if p.json {
		if res.Matches == nil {
			res.Matches = []hit{}
		}
		return p.value(res)
	}
	if len(res.Matches) == 0 {
		_, err := fmt.Fprintln(p.out, p.styles.Dim.Render("no matches"))
		return err
	}
	for _, h := range res.Matches {
		if _, err := fmt.Fprintln(p.out, p.formatHit(h)); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) formatHit(h hit) string {
	var b strings.Builder
	b.WriteString(p.styles.Label.Render(h.Path))
	if h.Line > 0 {
		fmt.Fprintf(&b, ":%d", h.Line)
		if h.Column > 0 {
			fmt.Fprintf(&b, ":%d", h.Column)
		}
	}
	text := h.Text
	switch {
	case h.Signature != "":
		text = h.Signature
	case text == "" && h.Name != "":
		text = h.Name
	}
	if h.Kind != "" {
		b.WriteString(" " + p.styles.Dim.Render("["+h.Kind+"]"))
	}
	if text = strings.TrimSpace(text); text != "" {
		b.WriteString(" " + text)
	}
	return b.String()
}
