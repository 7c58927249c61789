package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-grounding/pkg/grounding"
)

// SnapshotProvider exposes the published grounding snapshot.
type SnapshotProvider interface {
	Snapshot() *grounding.Snapshot
}

type healthResult struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Model    string `json:"model,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and the grounded model.
// snapshots may be nil.
func RegisterHealthTool(s *server.MCPServer, version string, snapshots SnapshotProvider) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		health := healthResult{Status: "ok", Version: version}
		if snapshots != nil {
			if snap := snapshots.Snapshot(); snap != nil {
				health.Model = snap.Model.Name
				health.Snapshot = snap.Version
			} else {
				health.Status = "not_ready"
			}
		}

		result, err := jsonResult(health)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return result, nil
	})
}
