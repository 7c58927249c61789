// Package mcp exposes SQL generation as Model Context Protocol tools.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-grounding/pkg/services"
)

// Server wraps the mcp-go MCPServer with the grounding tools registered.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates an MCP server with tool call auditing.
func NewServer(name, version string, logger *zap.Logger) *Server {
	audit := NewAuditLogger(logger)
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithHooks(audit.Hooks()),
	)

	return &Server{
		mcp:    mcpServer,
		logger: logger,
	}
}

// NewGroundingServer creates a server with the health, generate_sql,
// describe_model and refresh_catalog tools bound to svc.
func NewGroundingServer(version string, svc services.TextToSQLService, logger *zap.Logger) *Server {
	s := NewServer("ekaya-grounding", version, logger)
	tools.RegisterHealthTool(s.mcp, version, svc)
	tools.RegisterSQLTools(s.mcp, &tools.SQLToolDeps{Service: svc, Logger: logger.Named("mcp")})
	return s
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer creates an HTTP transport server wrapping this MCP server.
// The HTTP mux handles routing to /mcp, so no endpoint path is configured here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}

// RegisterTool is a convenience wrapper for registering a tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}
