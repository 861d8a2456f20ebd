package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the merchant shield MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolSessionStatus = mcp.NewTool("session_status",
	mcp.WithDescription(
		"Show who the client is logged in as, their role and how the session token was obtained. "+
			"Call this first: analyzing a transaction requires a logged-in merchant."),
)

var ToolAnalyzeTransaction = mcp.NewTool("analyze_transaction",
	mcp.WithDescription(
		"Submit a card transaction for fraud scoring as the logged-in merchant. "+
			"Returns the fraud probability, a risk label (low/moderate/high) and a one-line explanation. "+
			"Every call is a new submission with a fresh transaction id."),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Transaction amount")),
	mcp.WithNumber("time",
		mcp.Description("Seconds elapsed since the first transaction in the dataset (default 0)")),
	mcp.WithObject("features",
		mcp.Description("Anonymised model features V1 to V28 as numbers, e.g. {\"V1\": -1.35, \"V2\": 0.07}. Other keys are ignored.")),
)

var ToolListTransactions = mcp.NewTool("list_transactions",
	mcp.WithDescription(
		"List recent transactions across all merchants, newest first, with their risk labels. "+
			"Use min_label to focus on risky ones."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of transactions to fetch (default 100)")),
	mcp.WithString("min_label",
		mcp.Description("Only show transactions at or above this risk label"),
		mcp.Enum("low", "moderate", "high")),
)

var ToolMerchantTransactions = mcp.NewTool("merchant_transactions",
	mcp.WithDescription(
		"List one merchant's transactions, newest first, with their risk labels."),
	mcp.WithString("username",
		mcp.Required(),
		mcp.Description("The merchant's username")),
	mcp.WithString("min_label",
		mcp.Description("Only show transactions at or above this risk label"),
		mcp.Enum("low", "moderate", "high")),
)

var ToolSubmissionHistory = mcp.NewTool("submission_history",
	mcp.WithDescription(
		"List the assessments this client has recorded locally, newest first. "+
			"Unlike list_transactions this never calls the backend."),
	mcp.WithString("username",
		mcp.Description("Restrict to one merchant (default: all)")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of assessments to return (default 50)")),
)
