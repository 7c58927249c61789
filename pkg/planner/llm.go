package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-grounding/pkg/grounding"
	"github.com/ekaya-inc/ekaya-grounding/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-grounding/pkg/llm"
	"github.com/ekaya-inc/ekaya-grounding/pkg/logging"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

const llmSystemMessage = `You map analytics questions onto a semantic model.
Choose exactly one explore and the smallest set of fields from that explore that answers the question.
Only use explores and fields listed in the schema. Never write SQL.
Include every dimension the question groups by. If the question asks for a total, average, count or rate, include a measure.
If two explores answer the question equally well with different fields, set "ambiguous" to true and explain why in "reason".
If nothing in the schema answers the question, return an empty "explore".
Respond with a single JSON object:
{"explore": "<name>", "fields": ["view.field", ...], "time_filter": {"field": "view.field", "unit": "day|week|month|quarter|year", "count": <int, 0 for the current unit>} or null, "ambiguous": false, "reason": "<one sentence>"}`

// llmSelection is the JSON the model answers with.
type llmSelection struct {
	Explore    string         `json:"explore"`
	Fields     []string       `json:"fields"`
	TimeFilter *llmTimeFilter `json:"time_filter"`
	Ambiguous  bool           `json:"ambiguous"`
	Reason     string         `json:"reason"`
}

type llmTimeFilter struct {
	Field string          `json:"field"`
	Unit  string          `json:"unit"`
	Count json.RawMessage `json:"count"`
}

// timeRange converts the model's filter, or returns nil when the unit or
// count is unusable. Models sometimes quote the count.
func (f *llmTimeFilter) timeRange() *TimeRange {
	if f == nil || !validUnit(f.Unit) {
		return nil
	}
	count, ok := jsonutil.FlexibleIntValue(f.Count)
	if !ok || count < 0 {
		return nil
	}
	return &TimeRange{Unit: f.Unit, Count: count}
}

// LLMOptions tune the LLM planner.
type LLMOptions struct {
	Temperature float64
	// Attempts is how many times a selection that names unknown explores or
	// fields is sent back with corrections.
	Attempts int
}

// LLMPlanner asks a language model to pick the explore and fields, then
// validates the answer against the grounding index so its plans carry the
// same guarantees as the rule planner's.
type LLMPlanner struct {
	client llm.LLMClient
	opts   Options
	llm    LLMOptions
	logger *zap.Logger
}

// NewLLMPlanner creates an LLM planner over client.
func NewLLMPlanner(client llm.LLMClient, opts Options, llmOpts LLMOptions, logger *zap.Logger) *LLMPlanner {
	if llmOpts.Attempts <= 0 {
		llmOpts.Attempts = 1
	}
	return &LLMPlanner{
		client: client,
		opts:   opts,
		llm:    llmOpts,
		logger: logger.Named("planner.llm"),
	}
}

// Name implements Planner.
func (p *LLMPlanner) Name() string { return NameLLM }

// Plan implements Planner.
func (p *LLMPlanner) Plan(ctx context.Context, req Request, snap *grounding.Snapshot) (*models.QueryPlan, error) {
	if err := snapshotError(snap); err != nil {
		return nil, err
	}

	conversationID := uuid.New()
	ctx = llm.WithConversationID(ctx, conversationID)
	logger := p.logger.With(zap.String("conversation_id", conversationID.String()))

	a := Analyze(req.Question)
	schema := SchemaContext(snap)

	var feedback []string
	var lastErr error
	for attempt := 1; attempt <= p.llm.Attempts; attempt++ {
		prompt := buildPrompt(req.Question, schema, feedback)

		resp, err := p.client.GenerateResponse(ctx, prompt, llmSystemMessage, p.llm.Temperature)
		if err != nil {
			return nil, fmt.Errorf("llm planner: %w", err)
		}

		sel, err := llm.ParseJSONResponse[llmSelection](resp.Content)
		if err != nil {
			logger.Warn("Unparseable planner response",
				zap.Int("attempt", attempt),
				zap.String("response", logging.TruncateString(resp.Content, logging.MaxSQLLogLength)),
				zap.Error(err))
			feedback = []string{fmt.Sprintf("Your previous answer was not a valid JSON object: %v", err)}
			lastErr = apperrors.NewPlanError(apperrors.ErrNoExploreMatch, "planner response was not valid JSON")
			continue
		}

		plan, problems, err := p.validate(a, req, snap, sel)
		if err != nil {
			return nil, err
		}
		if len(problems) == 0 {
			logger.Info("Plan selected",
				zap.Int("attempt", attempt),
				zap.String("explore", plan.Explore),
				zap.Strings("fields", plan.FieldNames()))
			return plan, nil
		}

		logger.Warn("Planner selection rejected",
			zap.Int("attempt", attempt),
			zap.Strings("problems", problems))
		feedback = problems
		lastErr = problemsError(sel, problems)
	}
	return nil, lastErr
}

// validate checks a selection against the index. Correctable problems
// (unknown names) are returned for another attempt; refusals and
// unanswerable questions are returned as errors.
func (p *LLMPlanner) validate(a *Analysis, req Request, snap *grounding.Snapshot, sel llmSelection) (*models.QueryPlan, []string, error) {
	if sel.Ambiguous {
		pe := apperrors.NewPlanError(apperrors.ErrAmbiguousIntent, "%s", strings.TrimSpace(sel.Reason))
		return nil, nil, pe
	}
	if sel.Explore == "" {
		pe := apperrors.NewPlanError(apperrors.ErrNoExploreMatch, "%s", strings.TrimSpace(sel.Reason))
		return nil, nil, pe
	}

	idx, ok := snap.Index(sel.Explore)
	if !ok || idx.Explore().Hidden {
		return nil, []string{fmt.Sprintf("Explore %q does not exist. Choose one of: %s.",
			sel.Explore, strings.Join(exploreNames(snap), ", "))}, nil
	}
	if len(sel.Fields) == 0 {
		return nil, []string{"Select at least one field."}, nil
	}

	var fields []*models.GroundedField
	var problems []string
	seen := map[string]bool{}
	for _, name := range sel.Fields {
		if seen[name] {
			continue
		}
		seen[name] = true
		f, ok := idx.Lookup(name)
		if !ok {
			problems = append(problems, unknownFieldProblem(idx, name))
			continue
		}
		fields = append(fields, f)
	}
	if len(problems) > 0 {
		return nil, problems, nil
	}

	if err := checkAggregation(a, fields, idx.Explore().Name); err != nil {
		return nil, nil, err
	}

	tr := a.Time
	preferred := ""
	if r := sel.TimeFilter.timeRange(); r != nil {
		tr = r
		preferred = sel.TimeFilter.Field
	}

	plan, err := buildPlan(idx, fields, tr, preferred, req, p.opts, NameLLM)
	if err != nil {
		return nil, nil, err
	}
	return plan, nil, nil
}

func unknownFieldProblem(idx *grounding.Index, name string) string {
	short := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		short = name[i+1:]
	}
	var similar []string
	for _, f := range idx.Fields() {
		if f.Name == short {
			similar = append(similar, f.QualifiedName)
		}
	}
	msg := fmt.Sprintf("Field %q is not available in explore %s.", name, idx.Explore().Name)
	if len(similar) > 0 {
		msg += fmt.Sprintf(" Did you mean %s?", strings.Join(similar, " or "))
	}
	return msg
}

// problemsError is the refusal returned once every attempt is used up.
func problemsError(sel llmSelection, problems []string) error {
	if field, ok := findUnknownField(sel, problems); ok {
		pe := apperrors.NewPlanError(apperrors.ErrUnreachableField, "%s", strings.Join(problems, " "))
		pe.Field = field
		return pe
	}
	return apperrors.NewPlanError(apperrors.ErrNoExploreMatch, "%s", strings.Join(problems, " "))
}

func findUnknownField(sel llmSelection, problems []string) (string, bool) {
	for _, f := range sel.Fields {
		for _, p := range problems {
			if strings.Contains(p, fmt.Sprintf("%q", f)) {
				return f, true
			}
		}
	}
	return "", false
}

func exploreNames(snap *grounding.Snapshot) []string {
	var out []string
	for _, idx := range snap.Indexes {
		if !idx.Explore().Hidden {
			out = append(out, idx.Explore().Name)
		}
	}
	return out
}

func buildPrompt(question, schema string, feedback []string) string {
	var b strings.Builder
	b.WriteString(schema)
	b.WriteString("\n# Question\n")
	b.WriteString(question)
	b.WriteString("\n")
	if len(feedback) > 0 {
		b.WriteString("\n# Corrections\nYour previous answer was rejected:\n")
		for _, f := range feedback {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// SchemaContext describes every visible explore and its selectable fields.
func SchemaContext(snap *grounding.Snapshot) string {
	var b strings.Builder
	b.WriteString("# Schema\n")
	for _, idx := range snap.Indexes {
		e := idx.Explore()
		if e.Hidden {
			continue
		}
		fmt.Fprintf(&b, "\n## Explore %s", e.Name)
		if e.Label != "" {
			fmt.Fprintf(&b, " (%s)", e.Label)
		}
		b.WriteString("\n")
		if e.Description != "" {
			fmt.Fprintf(&b, "%s\n", e.Description)
		}
		fmt.Fprintf(&b, "Base view: %s\n", e.BaseView)
		for _, view := range idx.JoinOrder() {
			step, _ := idx.JoinStep(view)
			req := ""
			if step.Required {
				req = ", required"
			}
			fmt.Fprintf(&b, "Join: %s (%s, %s%s)\n", view, step.Relationship, step.Kind, req)
		}
		b.WriteString("Fields:\n")
		for _, f := range idx.Fields() {
			kind := "dimension"
			if f.IsMeasure {
				kind = "measure " + string(f.Aggregate)
			}
			fmt.Fprintf(&b, "- %s [%s, %s]", f.QualifiedName, kind, f.ValueKind)
			if f.Label != "" {
				fmt.Fprintf(&b, " %q", f.Label)
			}
			if f.Description != "" {
				fmt.Fprintf(&b, ": %s", f.Description)
			}
			if len(f.Synonyms) > 0 {
				fmt.Fprintf(&b, " (also: %s)", strings.Join(f.Synonyms, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
