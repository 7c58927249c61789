package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
	"github.com/ekaya-inc/ekaya-grounding/pkg/planner"
	"github.com/ekaya-inc/ekaya-grounding/pkg/services"
)

// maxToolLimit caps the limit argument of generate_sql.
const maxToolLimit = 10000

// SQLToolDeps contains dependencies for the SQL generation tools.
type SQLToolDeps struct {
	Service services.TextToSQLService
	Logger  *zap.Logger
}

// generateSQLResponse is the generate_sql payload for an answered question.
type generateSQLResponse struct {
	RequestID  string                   `json:"request_id"`
	SQL        string                   `json:"sql"`
	Explore    string                   `json:"explore"`
	Fields     []string                 `json:"fields"`
	Joins      []string                 `json:"joins,omitempty"`
	Filters    []models.TimeFilter      `json:"filters,omitempty"`
	Validation *models.ValidationReport `json:"validation,omitempty"`
}

type refreshResponse struct {
	Status   string `json:"status"`
	Snapshot string `json:"snapshot"`
}

// RegisterSQLTools adds generate_sql, describe_model and refresh_catalog.
func RegisterSQLTools(s *server.MCPServer, deps *SQLToolDeps) {
	registerGenerateSQLTool(s, deps)
	registerDescribeModelTool(s, deps)
	registerRefreshCatalogTool(s, deps)
}

func registerGenerateSQLTool(s *server.MCPServer, deps *SQLToolDeps) {
	tool := mcp.NewTool(
		"generate_sql",
		mcp.WithDescription(
			"Translate a business question into a single read-only SELECT statement grounded in the semantic model. "+
				"Only fields declared in the model are used. When the question cannot be answered the result is an "+
				"error whose code explains why (no_explore_match, no_measure_found, unreachable_field, ambiguous_intent).",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question in plain language, e.g. \"average order value by device\""),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description(fmt.Sprintf("Row limit for the generated SQL (default from configuration, max: %d)", maxToolLimit)),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		question = trimString(question)
		if question == "" {
			return NewErrorResult("invalid_parameters", "question cannot be empty"), nil
		}

		genReq := services.GenerateRequest{Question: question}
		if v, ok := getOptionalFloat(req, "limit"); ok {
			limit := int(v)
			if limit < 1 || limit > maxToolLimit {
				return NewErrorResult("invalid_parameters",
					fmt.Sprintf("limit must be between 1 and %d", maxToolLimit)), nil
			}
			genReq.Limit = &limit
		}

		result := deps.Service.Generate(ctx, genReq)
		switch result.ErrorKind {
		case "":
		case apperrors.KindInternal:
			return nil, fmt.Errorf("generate sql: %s", result.Message)
		default:
			return NewErrorResultWithDetails(result.ErrorKind, result.Message, result.Details), nil
		}

		resp := generateSQLResponse{
			RequestID:  result.RequestID,
			SQL:        result.SQL,
			Explore:    result.Plan.Explore,
			Fields:     result.Plan.FieldNames(),
			Filters:    result.Plan.Filters,
			Validation: result.Validation,
		}
		for _, j := range result.Plan.JoinPath {
			resp.Joins = append(resp.Joins, j.View)
		}
		return jsonResult(resp)
	})
}

func registerDescribeModelTool(s *server.MCPServer, deps *SQLToolDeps) {
	tool := mcp.NewTool(
		"describe_model",
		mcp.WithDescription(
			"List the explores of the semantic model with their joins and selectable fields. "+
				"Use this to phrase questions in the model's vocabulary.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap := deps.Service.Snapshot()
		if snap == nil {
			return NewErrorResult(apperrors.KindNotReady, apperrors.ErrNotReady.Error()), nil
		}
		return mcp.NewToolResultText(planner.SchemaContext(snap)), nil
	})
}

func registerRefreshCatalogTool(s *server.MCPServer, deps *SQLToolDeps) {
	tool := mcp.NewTool(
		"refresh_catalog",
		mcp.WithDescription("Reload warehouse column metadata and reground the semantic model."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Service.Refresh(ctx); err != nil {
			if errors.Is(err, apperrors.ErrNotReady) {
				return NewErrorResult(apperrors.KindNotReady, err.Error()), nil
			}
			deps.Logger.Error("Catalog refresh failed", zap.Error(err))
			return nil, fmt.Errorf("refresh catalog: %w", err)
		}

		resp := refreshResponse{Status: "ok"}
		if snap := deps.Service.Snapshot(); snap != nil {
			resp.Snapshot = snap.Version
		}
		return jsonResult(resp)
	})
}
