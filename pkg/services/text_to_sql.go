package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-grounding/pkg/catalog"
	"github.com/ekaya-inc/ekaya-grounding/pkg/config"
	"github.com/ekaya-inc/ekaya-grounding/pkg/grounding"
	"github.com/ekaya-inc/ekaya-grounding/pkg/llm"
	"github.com/ekaya-inc/ekaya-grounding/pkg/logging"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
	"github.com/ekaya-inc/ekaya-grounding/pkg/planner"
	"github.com/ekaya-inc/ekaya-grounding/pkg/semantic"
	sqlguard "github.com/ekaya-inc/ekaya-grounding/pkg/sql"
	"github.com/ekaya-inc/ekaya-grounding/pkg/sqlgen"
)

// llmPlannerAttempts is how many answers the LLM planner may give before an
// unknown field or explore becomes a refusal.
const llmPlannerAttempts = 2

// GenerateRequest is one question submitted for SQL generation.
type GenerateRequest struct {
	Question string `json:"question"`
	// Limit overrides the configured default row limit.
	Limit *int `json:"limit,omitempty"`
}

// TextToSQLService turns questions into validated SQL against the loaded
// semantic model.
type TextToSQLService interface {
	// LoadModel parses and assembles the model at path, then grounds it.
	// The previous model stays in use when loading fails.
	LoadModel(ctx context.Context, path string) error

	// Refresh reloads catalog metadata for the model's tables and publishes a
	// new grounding snapshot.
	Refresh(ctx context.Context) error

	// Generate plans, renders and validates SQL for one question. The result
	// carries either SQL or an error kind, never both.
	Generate(ctx context.Context, req GenerateRequest) *models.Result

	// Snapshot returns the published grounding snapshot, or nil.
	Snapshot() *grounding.Snapshot
}

// invalidator is implemented by caching catalog sources.
type invalidator interface {
	Invalidate()
}

type textToSQLService struct {
	store     *grounding.Store
	source    catalog.Source
	planner   planner.Planner
	generator *sqlgen.Generator
	guardrail *sqlguard.Guardrail
	logger    *zap.Logger

	// reload serializes grounding with the model swap, so a refresh of an
	// older model can never publish after a newer model is loaded.
	reload sync.Mutex
	model  *models.SemanticModel
}

// NewTextToSQLService wires the grounding store, planner, generator and
// guardrail. A nil source grounds on the model alone; a nil guardrail skips
// validation.
func NewTextToSQLService(
	cfg *config.GeneratorConfig,
	source catalog.Source,
	p planner.Planner,
	guardrail *sqlguard.Guardrail,
	logger *zap.Logger,
) (TextToSQLService, error) {
	generator, err := sqlgen.New(cfg.Dialect, cfg.DefaultLimit)
	if err != nil {
		return nil, err
	}
	return &textToSQLService{
		store:     grounding.NewStore(grounding.Options{MaxDepth: cfg.MaxResolveDepth}, logger),
		source:    source,
		planner:   p,
		generator: generator,
		guardrail: guardrail,
		logger:    logger.Named("text-to-sql"),
	}, nil
}

// BuildPlanner returns the planner selected by configuration.
func BuildPlanner(cfg *config.Config, logger *zap.Logger) (planner.Planner, error) {
	opts := planner.Options{
		Epsilon:  cfg.Generator.AmbiguityEpsilon,
		MaxJoins: cfg.Generator.MaxJoins,
	}

	switch cfg.Generator.Planner {
	case planner.NameRule, "":
		return planner.NewRulePlanner(opts, logger), nil
	case planner.NameLLM:
		client, err := llm.NewClientFromConfig(&cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("configure llm planner: %w", err)
		}
		return planner.NewLLMPlanner(client, opts, planner.LLMOptions{
			Temperature: cfg.LLM.Temperature,
			Attempts:    llmPlannerAttempts,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown planner %q", cfg.Generator.Planner)
	}
}

func (s *textToSQLService) LoadModel(ctx context.Context, path string) error {
	decl, err := semantic.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load semantic model: %w", err)
	}
	model, err := semantic.Assemble(decl)
	if err != nil {
		return fmt.Errorf("assemble semantic model %s: %w", path, err)
	}

	s.reload.Lock()
	defer s.reload.Unlock()
	if _, err := s.ground(ctx, model); err != nil {
		return err
	}
	s.model = model

	s.logger.Info("Semantic model loaded",
		zap.String("path", path),
		zap.String("model", model.Name),
		zap.String("version", model.Version),
		zap.Int("views", len(model.Views)),
		zap.Int("explores", len(model.Explores)))
	return nil
}

func (s *textToSQLService) Refresh(ctx context.Context) error {
	s.reload.Lock()
	defer s.reload.Unlock()
	model := s.model
	if model == nil {
		return apperrors.ErrNotReady
	}

	if c, ok := s.source.(invalidator); ok {
		c.Invalidate()
	}
	_, err := s.ground(ctx, model)
	return err
}

// ground loads the catalog for model's tables and rebuilds the snapshot.
// Without catalog metadata the model is grounded on its own declarations.
func (s *textToSQLService) ground(ctx context.Context, model *models.SemanticModel) (*grounding.Snapshot, error) {
	if s.source == nil {
		return s.rebuild(ctx, model, catalog.Empty())
	}

	cat, err := s.source.Load(ctx, model.Tables())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("Catalog unavailable, grounding without physical metadata",
			zap.String("model", model.Name),
			zap.String("error", logging.SanitizeError(err)))
		cat = catalog.Empty()
	}
	return s.rebuild(ctx, model, cat)
}

func (s *textToSQLService) rebuild(ctx context.Context, model *models.SemanticModel, cat *catalog.Snapshot) (*grounding.Snapshot, error) {
	snap, err := s.store.Rebuild(ctx, model, cat)
	if err != nil {
		return nil, fmt.Errorf("ground semantic model %s: %w", model.Name, err)
	}
	return snap, nil
}

func (s *textToSQLService) Snapshot() *grounding.Snapshot {
	return s.store.Current()
}

func (s *textToSQLService) Generate(ctx context.Context, req GenerateRequest) *models.Result {
	start := time.Now()
	result := &models.Result{
		RequestID: uuid.New().String(),
		Question:  req.Question,
	}
	logger := s.logger.With(
		zap.String("request_id", result.RequestID),
		zap.String("planner", s.planner.Name()))

	snap := s.store.Current()
	if snap == nil {
		return refuse(result, apperrors.ErrNotReady)
	}

	plan, err := s.planner.Plan(ctx, planner.Request{Question: req.Question, Limit: req.Limit}, snap)
	if err != nil {
		refuse(result, err)
		logger.Info("Question refused",
			zap.String("question", logging.SanitizeQuestion(req.Question)),
			zap.String("kind", result.ErrorKind),
			zap.String("reason", result.Message),
			zap.Duration("elapsed", time.Since(start)))
		return result
	}

	sqlText, err := s.generator.Render(plan)
	if err != nil {
		logger.Error("Failed to render plan",
			zap.String("explore", plan.Explore),
			zap.Error(err))
		return refuse(result, err)
	}

	result.SQL = sqlText
	result.Plan = plan
	if s.guardrail != nil {
		result.Validation = s.guardrail.Validate(ctx, sqlText)
	}

	fields := []zap.Field{
		zap.String("explore", plan.Explore),
		zap.Strings("fields", plan.FieldNames()),
		zap.Int("joins", len(plan.JoinPath)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if result.Validation != nil {
		fields = append(fields,
			zap.Bool("passed", result.Validation.Passed),
			zap.String("tag", result.Validation.Tag))
	}
	logger.Info("SQL generated", fields...)
	return result
}

// refuse records err on result. Planning refusals keep their candidates and
// the offending field so callers can explain the outcome.
func refuse(result *models.Result, err error) *models.Result {
	result.SQL = ""
	result.Plan = nil
	result.ErrorKind = apperrors.KindOf(err)
	result.Message = err.Error()

	var pe *apperrors.PlanError
	if errors.As(err, &pe) && (len(pe.Candidates) > 0 || pe.Field != "" || pe.View != "") {
		result.Details = &models.RefusalDetails{
			Candidates: pe.Candidates,
			Field:      pe.Field,
			View:       pe.View,
		}
	}
	return result
}
