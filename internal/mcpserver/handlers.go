package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbd888/merchantshield/internal/auth"
	"github.com/mbd888/merchantshield/internal/risk"
	"github.com/mbd888/merchantshield/internal/shield"
	"github.com/mbd888/merchantshield/internal/transactions"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *shield.Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *shield.Client) *Handlers {
	return &Handlers{client: client}
}

// HandleSessionStatus reports the current session.
func (h *Handlers) HandleSessionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := h.client.Sessions.Snapshot()
	if snap.User == nil {
		return mcp.NewToolResultText("Not logged in. Log in with shieldctl before analyzing transactions."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Logged in as %s (%s)\n", snap.User.Username, snap.User.Role)
	switch {
	case !snap.HasToken():
		sb.WriteString("Token: none\n")
	case auth.IsPlaceholder(snap.Token):
		sb.WriteString("Token: local placeholder (the backend issued no token)\n")
	default:
		sb.WriteString("Token: issued by the backend\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleAnalyzeTransaction scores one transaction.
func (h *Handlers) HandleAnalyzeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	amount, ok := args["amount"]
	if !ok {
		return mcp.NewToolResultError("amount is required"), nil
	}

	form := risk.Form{"Amount": amount, "Time": args["time"]}
	if raw, ok := args["features"].(map[string]any); ok {
		for k, v := range raw {
			if risk.IsFeatureKey(k) {
				form[k] = v
			}
		}
	}

	a, err := h.client.Analyzer.Analyze(ctx, form)
	if err != nil {
		return mcp.NewToolResultError(describe("Analysis failed", err)), nil
	}
	return mcp.NewToolResultText(formatAssessment(a)), nil
}

// HandleListTransactions lists recent transactions across merchants.
func (h *Handlers) HandleListTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	minLabel, err := risk.ParseLabel(req.GetString("min_label", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	records, err := h.client.Transactions.ListAll(ctx, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(describe("Failed to list transactions", err)), nil
	}
	return mcp.NewToolResultText(formatRecords(filterByLabel(records, minLabel))), nil
}

// HandleMerchantTransactions lists one merchant's transactions.
func (h *Handlers) HandleMerchantTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username := req.GetString("username", "")
	if username == "" {
		return mcp.NewToolResultError("username is required"), nil
	}
	minLabel, err := risk.ParseLabel(req.GetString("min_label", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	records, err := h.client.Transactions.ListByMerchant(ctx, username)
	if err != nil {
		return mcp.NewToolResultError(describe("Failed to list transactions", err)), nil
	}
	return mcp.NewToolResultText(formatRecords(filterByLabel(records, minLabel))), nil
}

// HandleSubmissionHistory lists locally recorded assessments.
func (h *Handlers) HandleSubmissionHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	history, err := h.client.Analyzer.History(ctx, req.GetString("username", ""), req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read history: %v", err)), nil
	}
	if len(history) == 0 {
		return mcp.NewToolResultText("No assessments recorded yet."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d assessment(s):\n\n", len(history))
	for i, a := range history {
		fmt.Fprintf(&sb, "%d. %s  %s  p=%.4f  %s  %s\n",
			i+1, a.ShortID, a.Username(), a.FraudProbability, a.Label, a.AssessedAt.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func filterByLabel(records []transactions.Record, min risk.Label) []transactions.Record {
	out := records[:0:0]
	for _, r := range records {
		if r.RiskLabel.AtLeast(min) {
			out = append(out, r)
		}
	}
	return out
}

// describe turns client errors into text an assistant can act on.
func describe(prefix string, err error) string {
	var validation *auth.ValidationError
	if errors.As(err, &validation) {
		return fmt.Sprintf("%s: %s", prefix, validation.Message)
	}
	return fmt.Sprintf("%s: %v", prefix, err)
}

func formatAssessment(a *risk.Assessment) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction %s for %s\n", a.ShortID, a.Username())
	fmt.Fprintf(&sb, "  Fraud probability: %.4f\n", a.FraudProbability)
	fmt.Fprintf(&sb, "  Risk: %s\n", strings.ToUpper(string(a.Label)))
	if a.Flagged {
		sb.WriteString("  Flagged: yes\n")
	}
	fmt.Fprintf(&sb, "  %s\n", a.Explanation)
	return sb.String()
}

func formatRecords(records []transactions.Record) string {
	if len(records) == 0 {
		return "No transactions found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d transaction(s):\n\n", len(records))
	for i, r := range records {
		fmt.Fprintf(&sb, "%d. %s  %s  p=%.4f  %s  %s\n",
			i+1, r.TransactionID, r.MerchantUsername, r.FraudProbability, r.RiskLabel, r.Timestamp)
	}
	return sb.String()
}
