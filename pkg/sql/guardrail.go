package sql

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-grounding/pkg/logging"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

// Guardrail failure tags.
const (
	TagMultipleStatements = "multiple_statements"
	TagNotSelect          = "not_select"
	TagLimitMissing       = "limit_missing"
	TagLimitNotFinal      = "limit_not_final"
	TagLimitRepeated      = "limit_repeated"
	TagInjectionPattern   = "injection_pattern"
	TagDryRunFailed       = "dry_run_failed"
	TagDryRunUnavailable  = "dry_run_unavailable"
)

var (
	limitKeyword = regexp.MustCompile(`(?i)\bLIMIT\b`)
	limitClause  = regexp.MustCompile(`(?i)\bLIMIT\s+\d+\b`)
)

// Guardrail checks SQL without ever changing it. Static checks run first;
// the compile-only dry run runs only when they pass and dry runs are
// enabled.
type Guardrail struct {
	dryRunner datasource.DryRunner
	dryRun    bool
	logger    *zap.Logger
}

// NewGuardrail creates a guardrail. dryRunner may be nil; with dry runs
// enabled that yields a passing report tagged dry_run_unavailable.
func NewGuardrail(dryRunner datasource.DryRunner, enableDryRun bool, logger *zap.Logger) *Guardrail {
	return &Guardrail{
		dryRunner: dryRunner,
		dryRun:    enableDryRun,
		logger:    logger.Named("guardrail"),
	}
}

// Validate returns the verdict on sqlQuery. Report.SQL is always the input.
func (g *Guardrail) Validate(ctx context.Context, sqlQuery string) *models.ValidationReport {
	report := &models.ValidationReport{SQL: sqlQuery, Passed: true}

	if tag, detail := CheckStatic(sqlQuery); tag != "" {
		report.Passed = false
		report.Tag = tag
		report.Detail = detail
		g.logger.Warn("SQL rejected by static checks",
			zap.String("tag", tag),
			zap.String("detail", detail),
			zap.String("sql", logging.SanitizeSQL(sqlQuery)))
		return report
	}

	if !g.dryRun {
		return report
	}
	if g.dryRunner == nil {
		report.Tag = TagDryRunUnavailable
		report.Detail = "no warehouse connection configured for dry runs"
		return report
	}

	report.DryRun = true
	err := g.dryRunner.DryRun(ctx, sqlQuery)
	if errors.Is(err, datasource.ErrDryRunUnsupported) {
		report.DryRun = false
		report.Tag = TagDryRunUnavailable
		report.Detail = err.Error()
		return report
	}
	if err != nil {
		report.Passed = false
		report.Tag = TagDryRunFailed
		report.Detail = logging.SanitizeError(err)
		g.logger.Warn("SQL failed dry run",
			zap.String("sql", logging.SanitizeSQL(sqlQuery)),
			zap.String("error", report.Detail))
	}
	return report
}

// CheckStatic runs the checks that need no warehouse and returns the first
// failure tag with a short detail, or "" when all pass.
func CheckStatic(sqlQuery string) (tag, detail string) {
	v := ValidateAndNormalize(sqlQuery)
	if v.Error != nil {
		return TagMultipleStatements, v.Error.Error()
	}

	s := scan(v.NormalizedSQL)
	body := strings.TrimSpace(s.masked)

	if typ := DetectStatementType(body); typ != TypeSelect {
		return TagNotSelect, fmt.Sprintf("%s statement starting with %q", typ, firstWord(body))
	}

	keywords := limitKeyword.FindAllStringIndex(body, -1)
	clauses := limitClause.FindAllStringIndex(body, -1)
	switch {
	case len(clauses) == 0:
		return TagLimitMissing, "no LIMIT clause with an integer literal"
	case len(keywords) > 1:
		return TagLimitRepeated, fmt.Sprintf("LIMIT appears %d times", len(keywords))
	case clauses[0][1] != len(body):
		return TagLimitNotFinal, "LIMIT is followed by " + strings.TrimSpace(body[clauses[0][1]:])
	}

	if found := CheckStatementLiterals(v.NormalizedSQL); len(found) > 0 {
		return TagInjectionPattern, "literal matches injection fingerprint " + found[0].Fingerprint
	}
	return "", ""
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
