package sql

import (
	"regexp"
	"strings"
)

// StatementType is the kind of SQL statement, from its first keyword.
type StatementType string

const (
	TypeSelect  StatementType = "SELECT"
	TypeInsert  StatementType = "INSERT"
	TypeUpdate  StatementType = "UPDATE"
	TypeDelete  StatementType = "DELETE"
	TypeMerge   StatementType = "MERGE"
	TypeCall    StatementType = "CALL"
	TypeDDL     StatementType = "DDL"     // CREATE, ALTER, DROP, TRUNCATE
	TypeUnknown StatementType = "UNKNOWN" // unrecognized, transaction control, or data-modifying CTE
)

// modifyingCTEPattern matches CTEs that contain data-modifying operations.
// Example: WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE|MERGE)\b`)

var typePrefixes = []struct {
	keyword string
	typ     StatementType
}{
	{"INSERT", TypeInsert},
	{"UPDATE", TypeUpdate},
	{"DELETE", TypeDelete},
	{"MERGE", TypeMerge},
	{"CALL", TypeCall},
	{"CREATE", TypeDDL},
	{"ALTER", TypeDDL},
	{"DROP", TypeDDL},
	{"TRUNCATE", TypeDDL},
}

// DetectStatementType classifies sql by its first keyword. A WITH statement
// is a SELECT unless one of its CTEs modifies data. Pass SQL with quoted
// spans masked so literals cannot fake a keyword.
func DetectStatementType(sql string) StatementType {
	normalized := strings.ToUpper(strings.TrimLeft(strings.TrimSpace(sql), "( \t\r\n"))

	switch {
	case strings.HasPrefix(normalized, "SELECT"):
		return TypeSelect
	case strings.HasPrefix(normalized, "WITH"):
		if modifyingCTEPattern.MatchString(sql) {
			return TypeUnknown
		}
		return TypeSelect
	}
	for _, p := range typePrefixes {
		if strings.HasPrefix(normalized, p.keyword) {
			return p.typ
		}
	}
	return TypeUnknown
}
