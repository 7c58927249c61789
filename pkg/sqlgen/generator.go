// Package sqlgen renders query plans into a single SELECT statement.
package sqlgen

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
	sqlguard "github.com/ekaya-inc/ekaya-grounding/pkg/sql"
)

// DefaultLimit applies when neither the plan nor the generator sets one.
const DefaultLimit = 100

var limitPattern = regexp.MustCompile(`(?i)\bLIMIT\s+\d+\b`)

// ErrEmptyPlan is returned for a plan without selected fields.
var ErrEmptyPlan = errors.New("query plan selects no fields")

var joinKeywords = map[models.JoinKind]string{
	models.JoinKindLeftOuter: "LEFT JOIN",
	models.JoinKindInner:     "INNER JOIN",
	models.JoinKindFullOuter: "FULL OUTER JOIN",
	models.JoinKindCross:     "CROSS JOIN",
}

// Generator renders plans. It holds no state between calls, so one value
// can serve concurrent requests, and the same plan always renders the same
// bytes.
type Generator struct {
	DefaultLimit int
	Dialect      Dialect
}

// New creates a generator for the named dialect.
func New(dialect string, defaultLimit int) (*Generator, error) {
	d, err := NewDialect(dialect)
	if err != nil {
		return nil, err
	}
	return &Generator{DefaultLimit: defaultLimit, Dialect: d}, nil
}

// Render produces the SQL for plan:
//
//	SELECT ... FROM ... [JOIN ...] [WHERE ...] [GROUP BY ...] LIMIT n
//
// The limit is the plan's when set, otherwise the generator default.
func (g *Generator) Render(plan *models.QueryPlan) (string, error) {
	if plan == nil || len(plan.SelectedFields) == 0 {
		return "", ErrEmptyPlan
	}
	dialect := g.dialect()

	var b strings.Builder
	b.WriteString("SELECT ")
	names := selectNames(plan.SelectedFields)
	for i, f := range plan.SelectedFields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.SelectExpression())
		b.WriteString(" AS ")
		b.WriteString(names[i])
	}

	b.WriteString(" FROM ")
	b.WriteString(dialect.QuoteTable(plan.BaseTable))
	b.WriteString(" AS ")
	b.WriteString(plan.BaseAlias)

	for _, step := range plan.JoinPath {
		kw, ok := joinKeywords[step.Kind]
		if !ok {
			return "", fmt.Errorf("join %s has unsupported kind %q", step.View, step.Kind)
		}
		fmt.Fprintf(&b, " %s %s AS %s", kw, dialect.QuoteTable(step.Table), step.Alias)
		if step.Kind != models.JoinKindCross {
			if step.On == "" {
				return "", fmt.Errorf("join %s has no ON condition", step.View)
			}
			b.WriteString(" ON ")
			b.WriteString(step.On)
		}
	}

	if len(plan.Filters) > 0 {
		preds := make([]string, 0, len(plan.Filters))
		for _, f := range plan.Filters {
			p, err := dialect.TimeFilter(f)
			if err != nil {
				return "", err
			}
			preds = append(preds, p)
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(preds, " AND "))
	}

	if plan.HasAggregate() {
		var ordinals []string
		for i, f := range plan.SelectedFields {
			if !f.IsMeasure {
				ordinals = append(ordinals, strconv.Itoa(i+1))
			}
		}
		if len(ordinals) > 0 {
			b.WriteString(" GROUP BY ")
			b.WriteString(strings.Join(ordinals, ", "))
		}
	}

	return EnforceLimit(b.String(), g.limit(plan)), nil
}

// EnforceLimit appends "LIMIT n" as the final clause unless sql already
// carries a LIMIT with an integer literal.
func EnforceLimit(sql string, n int) string {
	if HasLimit(sql) {
		return sql
	}
	return strings.TrimRight(sql, " \t\r\n") + " LIMIT " + strconv.Itoa(n)
}

// HasLimit reports whether the outermost statement of sql has a LIMIT clause
// with an integer. Quoted text and subqueries are ignored.
func HasLimit(sql string) bool {
	return limitPattern.MatchString(sqlguard.TopLevel(sql))
}

func (g *Generator) limit(plan *models.QueryPlan) int {
	if plan.Limit != nil && *plan.Limit > 0 {
		return *plan.Limit
	}
	if g.DefaultLimit > 0 {
		return g.DefaultLimit
	}
	return DefaultLimit
}

func (g *Generator) dialect() Dialect {
	if g.Dialect == nil {
		return BigQuery{}
	}
	return g.Dialect
}

// selectNames aliases each column by field name, falling back to
// view_field for names selected from more than one view.
func selectNames(fields []*models.GroundedField) []string {
	counts := map[string]int{}
	for _, f := range fields {
		counts[f.Name]++
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		if counts[f.Name] > 1 {
			out[i] = f.Alias + "_" + f.Name
		} else {
			out[i] = f.Name
		}
	}
	return out
}
