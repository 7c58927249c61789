package expression

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ekaya-inc/ekaya-grounding/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

// DefaultMaxDepth bounds nested field references.
const DefaultMaxDepth = 5

// Scope answers the two questions resolution needs about the active explore.
type Scope interface {
	// Alias returns the table alias of a view, or false if the view is not
	// reachable in the explore.
	Alias(view string) (string, bool)
	// Field returns a declared field of a view.
	Field(view, name string) (*models.Field, bool)
}

// Resolver rewrites placeholders against a Scope. It holds no state between calls.
type Resolver struct {
	scope    Scope
	maxDepth int
}

// NewResolver creates a resolver. maxDepth <= 0 uses DefaultMaxDepth.
func NewResolver(scope Scope, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{scope: scope, maxDepth: maxDepth}
}

// SourceExpression returns the raw expression a field resolves from, applying
// the LookML default of ${TABLE}.<name> for dimensions without one.
func SourceExpression(f *models.Field) string {
	if strings.TrimSpace(f.Expression) != "" {
		return f.Expression
	}
	if f.IsMeasure() {
		return ""
	}
	return "${" + selfTableToken + "}." + f.Name
}

// ResolveField returns the resolved inner expression of a field declared on
// view. Measures are returned unwrapped; callers apply the aggregate.
func (r *Resolver) ResolveField(view string, f *models.Field) (string, error) {
	expr, _, err := r.ResolveFieldViews(view, f)
	return expr, err
}

// ResolveFieldViews is ResolveField that also reports every view the
// expression reads from, directly or through nested references. The owning
// view always comes first.
func (r *Resolver) ResolveFieldViews(view string, f *models.Field) (string, []string, error) {
	qualified := view + "." + f.Name
	src := SourceExpression(f)
	if src == "" && f.IsMeasure() && f.Aggregate != models.AggregateCount {
		return "", nil, &apperrors.ExpressionError{
			Field:  qualified,
			Reason: fmt.Sprintf("%s measure has no expression", f.Aggregate),
		}
	}
	views := []string{view}
	expr, err := r.resolve(src, view, []string{qualified}, &views)
	if err != nil {
		return "", nil, err
	}
	return expr, views, nil
}

// Resolve rewrites free-standing expression text, such as a join ON clause,
// with bare ${field} references bound to view.
func (r *Resolver) Resolve(expr, view string) (string, error) {
	return r.resolve(expr, view, nil, nil)
}

func (r *Resolver) resolve(expr, view string, chain []string, touched *[]string) (string, error) {
	segs := Parse(expr)
	if !hasPlaceholder(segs) {
		return expr, nil
	}

	owner := ""
	if len(chain) > 0 {
		owner = chain[0]
	}
	fail := func(reason string, extra ...string) error {
		return &apperrors.ExpressionError{
			Field:      owner,
			Expression: expr,
			Chain:      append(slices.Clone(chain), extra...),
			Reason:     reason,
		}
	}

	var b strings.Builder
	for _, seg := range segs {
		switch seg.Kind {
		case Literal:
			b.WriteString(seg.Text)

		case SelfTable:
			alias, ok := r.scope.Alias(view)
			if !ok {
				return "", fail(fmt.Sprintf("view %q is not reachable", view))
			}
			touch(touched, view)
			b.WriteString(alias)

		case FieldRef:
			target := seg.View
			if target == "" {
				target = view
			}
			if _, ok := r.scope.Alias(target); !ok {
				return "", fail(fmt.Sprintf("%s references view %q which is not reachable", seg.Text, target))
			}
			field, ok := r.scope.Field(target, seg.Field)
			if !ok {
				return "", fail(fmt.Sprintf("%s references unknown field", seg.Text))
			}

			qualified := target + "." + field.Name
			if slices.Contains(chain, qualified) {
				return "", fail("cyclic reference", qualified)
			}
			if len(chain) >= r.maxDepth {
				return "", fail(fmt.Sprintf("reference depth exceeds %d", r.maxDepth), qualified)
			}

			touch(touched, target)
			inner, err := r.resolve(SourceExpression(field), target, append(slices.Clone(chain), qualified), touched)
			if err != nil {
				return "", err
			}
			if field.IsMeasure() {
				inner = field.Aggregate.Wrap(inner)
			}
			b.WriteString(inner)
		}
	}
	return b.String(), nil
}

func touch(touched *[]string, view string) {
	if touched != nil && !slices.Contains(*touched, view) {
		*touched = append(*touched, view)
	}
}

func hasPlaceholder(segs []Segment) bool {
	for _, s := range segs {
		if s.Kind != Literal {
			return true
		}
	}
	return false
}
