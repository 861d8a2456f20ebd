// Package mcpserver exposes the merchant shield client as MCP tools so an
// assistant can score transactions and review risk listings.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/mbd888/merchantshield/internal/shield"
)

// NewMCPServer creates a configured MCP server with all tools registered.
func NewMCPServer(client *shield.Client, version string) *server.MCPServer {
	s := server.NewMCPServer("merchantshield", version)
	h := NewHandlers(client)

	s.AddTool(ToolSessionStatus, h.HandleSessionStatus)
	s.AddTool(ToolAnalyzeTransaction, h.HandleAnalyzeTransaction)
	s.AddTool(ToolListTransactions, h.HandleListTransactions)
	s.AddTool(ToolMerchantTransactions, h.HandleMerchantTransactions)
	s.AddTool(ToolSubmissionHistory, h.HandleSubmissionHistory)

	return s
}
