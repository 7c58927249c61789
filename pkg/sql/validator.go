// Package sql checks generated SQL before it is handed back to a caller.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips the trailing semicolon.
//
// The validation order is:
// 1. Strip trailing semicolon and whitespace (normalize)
// 2. Check for multiple statements (any remaining semicolons outside quotes)
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{NormalizedSQL: sqlQuery}
	}

	normalized := stripTrailingSemicolon(sqlQuery)
	if hasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}
	return ValidationResult{NormalizedSQL: normalized}
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals and quoted identifiers.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	return strings.ContainsRune(scan(sqlQuery).masked, ';')
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}

// scanned is a statement with the contents of every quoted span blanked
// out, plus the string literals that were blanked.
type scanned struct {
	masked   string
	literals []string
}

// scan walks sqlQuery once, tracking single-quoted literals, double-quoted
// identifiers and backtick identifiers. Both the SQL standard doubled quote
// ('') and a backslash escape (\') stay inside a literal. Keywords found in
// masked are therefore never inside quotes.
func scan(sqlQuery string) scanned {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateBacktick
	)

	var out scanned
	var masked, literal strings.Builder
	runes := []rune(sqlQuery)
	state := stateNormal

	for i := 0; i < len(runes); i++ {
		char := runes[i]
		switch state {
		case stateNormal:
			masked.WriteRune(char)
			switch char {
			case '\'':
				state = stateSingleQuote
				literal.Reset()
			case '"':
				state = stateDoubleQuote
			case '`':
				state = stateBacktick
			}

		case stateSingleQuote:
			switch {
			case char == '\\' && i+1 < len(runes):
				literal.WriteRune(runes[i+1])
				masked.WriteString("  ")
				i++
			case char == '\'' && i+1 < len(runes) && runes[i+1] == '\'':
				literal.WriteRune('\'')
				masked.WriteString("  ")
				i++
			case char == '\'':
				masked.WriteRune(char)
				out.literals = append(out.literals, literal.String())
				state = stateNormal
			default:
				literal.WriteRune(char)
				masked.WriteRune(' ')
			}

		case stateDoubleQuote, stateBacktick:
			closer := '"'
			if state == stateBacktick {
				closer = '`'
			}
			if char == closer {
				masked.WriteRune(char)
				state = stateNormal
			} else {
				masked.WriteRune(' ')
			}
		}
	}

	// an unterminated literal is still checked
	if state == stateSingleQuote {
		out.literals = append(out.literals, literal.String())
	}
	out.masked = masked.String()
	return out
}

// TopLevel returns sqlQuery with quoted spans and everything inside
// parentheses blanked, so only the outermost statement's clauses remain.
// A LIMIT inside a subquery is not visible in the result.
func TopLevel(sqlQuery string) string {
	return maskNested(scan(sqlQuery).masked)
}

// maskNested blanks text inside parentheses. masked must already have its
// quoted spans blanked.
func maskNested(masked string) string {
	var b strings.Builder
	depth := 0
	for _, r := range masked {
		switch {
		case r == '(':
			if depth == 0 {
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
			depth++
		case r == ')' && depth > 0:
			depth--
			if depth == 0 {
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
		case depth > 0:
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
