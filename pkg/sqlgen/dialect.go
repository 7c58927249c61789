package sqlgen

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

// Dialect names.
const (
	DialectBigQuery = "bigquery"
	DialectPostgres = "postgres"
)

// Dialect renders the warehouse-specific parts of a statement.
type Dialect interface {
	Name() string
	// QuoteTable quotes a possibly dotted physical table name.
	QuoteTable(table string) string
	// TimeFilter renders a relative date window as a WHERE predicate.
	TimeFilter(f models.TimeFilter) (string, error)
}

// NewDialect returns the dialect registered under name.
func NewDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DialectBigQuery:
		return BigQuery{}, nil
	case DialectPostgres:
		return Postgres{}, nil
	}
	return nil, fmt.Errorf("unsupported sql dialect: %q", name)
}

// unquote strips quoting a model author may have put around a table name.
func unquote(table string) string {
	return strings.NewReplacer("`", "", `"`, "").Replace(strings.TrimSpace(table))
}

// BigQuery quotes dotted tables with backticks and uses DATE arithmetic.
type BigQuery struct{}

func (BigQuery) Name() string { return DialectBigQuery }

func (BigQuery) QuoteTable(table string) string {
	t := unquote(table)
	if strings.Contains(t, ".") {
		return "`" + t + "`"
	}
	return t
}

func (BigQuery) TimeFilter(f models.TimeFilter) (string, error) {
	unit, err := checkWindow(f)
	if err != nil {
		return "", err
	}
	part := strings.ToUpper(unit)
	if f.Count == 0 {
		return fmt.Sprintf("DATE_TRUNC(DATE(%s), %s) = DATE_TRUNC(CURRENT_DATE(), %s)", f.Expression, part, part), nil
	}
	return fmt.Sprintf("DATE(%s) >= DATE_SUB(CURRENT_DATE(), INTERVAL %d %s)", f.Expression, f.Count, part), nil
}

// Postgres quotes every table segment with pgx and uses interval arithmetic.
type Postgres struct{}

func (Postgres) Name() string { return DialectPostgres }

func (Postgres) QuoteTable(table string) string {
	return pgx.Identifier(strings.Split(unquote(table), ".")).Sanitize()
}

func (Postgres) TimeFilter(f models.TimeFilter) (string, error) {
	unit, err := checkWindow(f)
	if err != nil {
		return "", err
	}
	if f.Count == 0 {
		return fmt.Sprintf("date_trunc('%s', %s) = date_trunc('%s', CURRENT_DATE)", unit, f.Expression, unit), nil
	}
	// interval literals have no quarter unit
	count := f.Count
	if unit == "quarter" {
		unit, count = "month", count*3
	}
	return fmt.Sprintf("%s >= CURRENT_DATE - INTERVAL '%d %ss'", f.Expression, count, unit), nil
}

func checkWindow(f models.TimeFilter) (string, error) {
	if f.Expression == "" {
		return "", fmt.Errorf("time filter on %s has no expression", f.Field)
	}
	if f.Count < 0 {
		return "", fmt.Errorf("time filter on %s has negative count %d", f.Field, f.Count)
	}
	switch f.Unit {
	case "day", "week", "month", "quarter", "year":
		return f.Unit, nil
	}
	return "", fmt.Errorf("time filter on %s has unsupported unit %q", f.Field, f.Unit)
}
