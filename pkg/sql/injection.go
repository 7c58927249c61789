package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a string literal that looks like an
// injection payload.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Literal     string // The literal that was checked
}

// CheckLiteralForInjection uses libinjection to detect SQL injection
// patterns in one string literal. Returns nil when the literal is clean.
//
// Example:
//
//	CheckLiteralForInjection("Search") // nil
//	CheckLiteralForInjection("x' OR '1'='1") // IsSQLi == true
func CheckLiteralForInjection(literal string) *InjectionCheckResult {
	if literal == "" {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(literal)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Literal:     literal,
	}
}

// CheckStatementLiterals checks every string literal of sqlQuery and
// returns the ones that failed, in statement order.
func CheckStatementLiterals(sqlQuery string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, lit := range scan(sqlQuery).literals {
		if r := CheckLiteralForInjection(lit); r != nil {
			results = append(results, r)
		}
	}
	return results
}
