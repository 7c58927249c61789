package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrNotReady = errors.New("no semantic model loaded")

	ErrModel            = errors.New("invalid semantic model")
	ErrExpression       = errors.New("unresolvable expression")
	ErrNoExploreMatch   = errors.New("no explore matches the question")
	ErrNoMeasureFound   = errors.New("question implies aggregation but no measure matched")
	ErrUnreachableField = errors.New("field is not reachable in the explore")
	ErrAmbiguousIntent  = errors.New("question matches several explores equally")
)

// Error kinds exposed to callers.
const (
	KindModel            = "model_error"
	KindExpression       = "expression_error"
	KindNoExploreMatch   = "no_explore_match"
	KindNoMeasureFound   = "no_measure_found"
	KindUnreachableField = "unreachable_field"
	KindAmbiguousIntent  = "ambiguous_intent"
	KindNotFound         = "not_found"
	KindNotReady         = "not_ready"
	KindInternal         = "internal_error"
)

// ModelError reports a malformed semantic model. It is raised at assembly
// time, before any planning.
type ModelError struct {
	View    string
	Explore string
	Field   string
	Reason  string
}

func (e *ModelError) Error() string {
	var where []string
	if e.Explore != "" {
		where = append(where, "explore "+e.Explore)
	}
	if e.View != "" {
		where = append(where, "view "+e.View)
	}
	if e.Field != "" {
		where = append(where, "field "+e.Field)
	}
	if len(where) == 0 {
		return "model error: " + e.Reason
	}
	return fmt.Sprintf("model error (%s): %s", strings.Join(where, ", "), e.Reason)
}

func (e *ModelError) Unwrap() error { return ErrModel }

// ExpressionError reports a placeholder that cannot be resolved.
type ExpressionError struct {
	Field      string
	Expression string
	// Chain is the sequence of fields visited before resolution gave up.
	Chain  []string
	Reason string
}

func (e *ExpressionError) Error() string {
	msg := fmt.Sprintf("expression error in %s: %s", e.Field, e.Reason)
	if len(e.Chain) > 1 {
		msg += " (" + strings.Join(e.Chain, " -> ") + ")"
	}
	return msg
}

func (e *ExpressionError) Unwrap() error { return ErrExpression }

// PlanError is a typed planning refusal. It carries enough detail for the
// caller to explain why no SQL was produced.
type PlanError struct {
	Err        error // one of the planning sentinels
	Message    string
	Candidates []models.ExploreScore
	Field      string
	View       string
}

func (e *PlanError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Message
}

func (e *PlanError) Unwrap() error { return e.Err }

// Kind returns the stable kind string of the refusal.
func (e *PlanError) Kind() string {
	return KindOf(e.Err)
}

// NewPlanError builds a PlanError for one of the planning sentinels.
func NewPlanError(sentinel error, format string, args ...any) *PlanError {
	return &PlanError{Err: sentinel, Message: fmt.Sprintf(format, args...)}
}

// KindOf maps an error onto the kind string exposed in results.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrModel):
		return KindModel
	case errors.Is(err, ErrExpression):
		return KindExpression
	case errors.Is(err, ErrNoExploreMatch):
		return KindNoExploreMatch
	case errors.Is(err, ErrNoMeasureFound):
		return KindNoMeasureFound
	case errors.Is(err, ErrUnreachableField):
		return KindUnreachableField
	case errors.Is(err, ErrAmbiguousIntent):
		return KindAmbiguousIntent
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	default:
		return KindInternal
	}
}
