package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/auth"
	"github.com/ekaya-inc/ekaya-grounding/pkg/logging"
)

// Security levels attached to audit events.
const (
	SecurityNormal   = "normal"
	SecurityWarning  = "warning"
	SecurityCritical = "critical"
)

// AuditEvent is one tool call as recorded in the audit log.
type AuditEvent struct {
	Tool          string
	Subject       string
	Successful    bool
	Duration      time.Duration
	Params        map[string]any
	ErrorCode     string
	ErrorMessage  string
	SecurityLevel string
	SecurityFlags []string
}

// AuditLogger records MCP tool calls as structured log entries.
type AuditLogger struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewAuditLogger creates an AuditLogger.
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.Named("mcp-audit")}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *AuditLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *AuditLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *AuditLogger) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	event := a.buildEvent(ctx, id, req)
	event.Successful = result == nil || !result.IsError
	classifyToolResult(event, result)
	a.record(event)
}

func (a *AuditLogger) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	event := a.buildEvent(ctx, id, req)
	event.ErrorMessage = logging.SanitizeError(err)
	a.record(event)
}

func (a *AuditLogger) buildEvent(ctx context.Context, id any, req *mcplib.CallToolRequest) *AuditEvent {
	start := time.Now()
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		start = v.(time.Time)
	}
	var subject string
	if claims, ok := auth.GetClaims(ctx); ok {
		subject = claims.Subject
	}
	return &AuditEvent{
		Subject:       subject,
		Tool:          req.Params.Name,
		Duration:      time.Since(start),
		Params:        sanitizeParams(req.Params.Arguments),
		SecurityLevel: SecurityNormal,
	}
}

func (a *AuditLogger) record(event *AuditEvent) {
	fields := []zap.Field{
		zap.String("tool", event.Tool),
		zap.Bool("successful", event.Successful),
		zap.Duration("duration", event.Duration),
		zap.Any("params", event.Params),
		zap.String("security_level", event.SecurityLevel),
	}
	if event.Subject != "" {
		fields = append(fields, zap.String("subject", event.Subject))
	}
	if event.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", event.ErrorCode))
	}
	if event.ErrorMessage != "" {
		fields = append(fields, zap.String("error", event.ErrorMessage))
	}
	if len(event.SecurityFlags) > 0 {
		fields = append(fields, zap.Strings("security_flags", event.SecurityFlags))
	}

	switch {
	case event.SecurityLevel != SecurityNormal:
		a.logger.Warn("MCP tool call", fields...)
	default:
		a.logger.Info("MCP tool call", fields...)
	}
}

// toolPayload is the part of a tool result the audit log inspects.
type toolPayload struct {
	Code       string `json:"code"`
	Validation *struct {
		Tag string `json:"tag"`
	} `json:"validation"`
}

// classifyToolResult records the refusal code and flags generated SQL whose
// literals tripped the injection check.
func classifyToolResult(event *AuditEvent, result *mcplib.CallToolResult) {
	if result == nil {
		return
	}
	for _, c := range result.Content {
		tc, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		var payload toolPayload
		if err := json.Unmarshal([]byte(tc.Text), &payload); err != nil {
			return
		}
		if result.IsError {
			event.ErrorCode = payload.Code
		}
		if payload.Validation != nil && payload.Validation.Tag == "injection_pattern" {
			event.SecurityLevel = SecurityCritical
			event.SecurityFlags = append(event.SecurityFlags, "sql_injection_pattern")
		}
		return
	}
}

var sensitiveKeywords = []string{"password", "secret", "token", "key", "credential"}

// sanitizeParams prepares request arguments for the audit log. Questions are
// truncated and sensitive values hashed.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = sanitizeValue(k, v)
	}
	return sanitized
}

func sanitizeValue(key string, value any) any {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return hashSensitiveValue(value)
		}
	}

	switch val := value.(type) {
	case string:
		if lower == "question" {
			return logging.SanitizeQuestion(val)
		}
		return logging.TruncateString(val, logging.MaxQuestionLogLength)
	case map[string]any:
		return sanitizeParams(val)
	default:
		return value
	}
}

// hashSensitiveValue returns a SHA-256 hash prefix for sensitive values,
// allowing correlation across audit entries without storing the actual value.
func hashSensitiveValue(value any) string {
	str, ok := value.(string)
	if !ok {
		str = fmt.Sprintf("%v", value)
	}
	hash := sha256.Sum256([]byte(str))
	return "sha256:" + hex.EncodeToString(hash[:8])
}
