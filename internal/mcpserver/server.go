package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all TrustGrid tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("trustgrid", "1.0.0")
	client := NewTrustGridClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetTrustScore, h.HandleGetTrustScore)
	s.AddTool(ToolCheckTrusted, h.HandleCheckTrusted)
	s.AddTool(ToolComputeScore, h.HandleComputeScore)
	s.AddTool(ToolIssueAttestation, h.HandleIssueAttestation)
	s.AddTool(ToolGetScoreHistory, h.HandleGetScoreHistory)
	s.AddTool(ToolGetOracleConfig, h.HandleGetOracleConfig)

	return s
}
