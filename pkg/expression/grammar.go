// Package expression resolves ${...} placeholders in semantic-model SQL
// fragments into alias-qualified expressions.
package expression

import "strings"

// SegmentKind tags a piece of parsed expression text.
type SegmentKind int

const (
	// Literal text is emitted verbatim.
	Literal SegmentKind = iota
	// SelfTable is ${TABLE}, the alias of the view that owns the expression.
	SelfTable
	// FieldRef is ${view.field} or ${field} (same view).
	FieldRef
)

// selfTableToken is the placeholder name for the owning view's table.
const selfTableToken = "TABLE"

// Segment is one piece of a parsed expression.
type Segment struct {
	Kind  SegmentKind
	Text  string // raw text, including the ${...} wrapper for placeholders
	View  string // FieldRef only; empty means the owning view
	Field string // FieldRef only
}

// Parse splits an expression into literal and placeholder segments.
// An unterminated or empty placeholder is kept as literal text.
func Parse(expr string) []Segment {
	var segs []Segment
	literal := func(s string) {
		if s == "" {
			return
		}
		if n := len(segs); n > 0 && segs[n-1].Kind == Literal {
			segs[n-1].Text += s
			return
		}
		segs = append(segs, Segment{Kind: Literal, Text: s})
	}

	rest := expr
	for rest != "" {
		start := strings.Index(rest, "${")
		if start < 0 {
			literal(rest)
			break
		}
		end := strings.IndexByte(rest[start+2:], '}')
		if end < 0 {
			literal(rest)
			break
		}
		literal(rest[:start])

		raw := rest[start : start+2+end+1]
		inner := strings.TrimSpace(rest[start+2 : start+2+end])
		rest = rest[start+2+end+1:]

		switch {
		case inner == "":
			literal(raw)
		case inner == selfTableToken:
			segs = append(segs, Segment{Kind: SelfTable, Text: raw})
		default:
			view, field := "", inner
			if dot := strings.IndexByte(inner, '.'); dot >= 0 {
				view, field = strings.TrimSpace(inner[:dot]), strings.TrimSpace(inner[dot+1:])
			}
			if field == "" {
				literal(raw)
				continue
			}
			segs = append(segs, Segment{Kind: FieldRef, Text: raw, View: view, Field: field})
		}
	}
	return segs
}

// HasPlaceholders reports whether expr contains any resolvable placeholder.
func HasPlaceholders(expr string) bool {
	for _, s := range Parse(expr) {
		if s.Kind != Literal {
			return true
		}
	}
	return false
}

// References returns the distinct views named explicitly by ${view.field}
// placeholders, in order of first appearance.
func References(expr string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range Parse(expr) {
		if s.Kind == FieldRef && s.View != "" && !seen[s.View] {
			seen[s.View] = true
			out = append(out, s.View)
		}
	}
	return out
}
