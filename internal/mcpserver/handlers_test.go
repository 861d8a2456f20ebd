package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbd888/merchantshield/internal/config"
	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/mbd888/merchantshield/internal/session"
	"github.com/mbd888/merchantshield/internal/shield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(t *testing.T, handler http.Handler) (*Handlers, *shield.Client) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := config.Defaults()
	cfg.APIURL = ts.URL
	cfg.SessionStore = config.StoreMemory

	client, err := shield.New(context.Background(), cfg, shield.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewHandlers(client), client
}

func loggedIn(t *testing.T, client *shield.Client, username, token string) {
	t.Helper()
	err := client.Sessions.Establish(context.Background(), token,
		session.User{Username: username, Role: session.RoleMerchant}, session.ModeTokenBacked)
	require.NoError(t, err)
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

const listing = `{"transactions":[
	{"transaction_id":"aaaaaaaa-1","fraud_probability":0.91,"timestamp":"2024-01-03T00:00:00Z","username":"m1"},
	{"transaction_id":"bbbbbbbb-2","fraud_probability":0.30,"timestamp":"2024-01-02T00:00:00Z","username":"m2"},
	{"transaction_id":"cccccccc-3","fraud_probability":0.01,"timestamp":"2024-01-01T00:00:00Z","username":"m1"}
]}`

// ============================================================
// session_status
// ============================================================

func TestHandleSessionStatus(t *testing.T) {
	h, client := newTestSetup(t, http.NotFoundHandler())
	ctx := context.Background()

	result, err := h.HandleSessionStatus(ctx, makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Not logged in")

	loggedIn(t, client, "m1", "tok")
	result, err = h.HandleSessionStatus(ctx, makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Logged in as m1 (merchant)")
	assert.Contains(t, text, "issued by the backend")

	loggedIn(t, client, "m1", "session-bTE6MTcwMDAwMDAwMDAwMA")
	result, err = h.HandleSessionStatus(ctx, makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "placeholder")
}

// ============================================================
// analyze_transaction
// ============================================================

func TestHandleAnalyzeTransaction(t *testing.T) {
	var got map[string]any
	h, client := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze-risk", r.URL.Path)
		assert.Equal(t, "Bearer tok-m1", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"fraud_probability": 0.83}`))
	}))
	loggedIn(t, client, "m1", "tok-m1")

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(map[string]any{
		"amount":   149.62,
		"features": map[string]any{"V1": -1.36, "V2": 0.07, "note": "ignored"},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "for m1")
	assert.Contains(t, text, "Risk: HIGH")
	assert.Contains(t, text, "Flagged: yes")
	assert.Contains(t, text, "flagged as high risk")

	assert.Equal(t, "m1", got["username"])
	assert.Equal(t, 149.62, got["Amount"])
	assert.Equal(t, float64(0), got["Time"])
	assert.Equal(t, -1.36, got["V1"])
	assert.NotContains(t, got, "note")

	history, err := client.Analyzer.History(context.Background(), "m1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHandleAnalyzeTransaction_NotLoggedIn(t *testing.T) {
	var calls atomic.Int32
	h, _ := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(map[string]any{"amount": 10}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "must be logged in")
	assert.Zero(t, calls.Load())
}

func TestHandleAnalyzeTransaction_Validation(t *testing.T) {
	h, client := newTestSetup(t, http.NotFoundHandler())
	loggedIn(t, client, "m1", "tok")

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "amount is required")

	result, err = h.HandleAnalyzeTransaction(context.Background(), makeRequest(map[string]any{
		"amount":   10,
		"features": map[string]any{"V3": "not a number"},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Analysis failed")
}

func TestHandleAnalyzeTransaction_BackendDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	cfg := config.Defaults()
	cfg.APIURL = ts.URL
	cfg.SessionStore = config.StoreMemory
	client, err := shield.New(context.Background(), cfg, shield.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer client.Close()
	loggedIn(t, client, "m1", "tok")

	result, err := NewHandlers(client).HandleAnalyzeTransaction(context.Background(),
		makeRequest(map[string]any{"amount": 1}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Could not connect to server")
}

// ============================================================
// list_transactions / merchant_transactions
// ============================================================

func TestHandleListTransactions(t *testing.T) {
	var query string
	h, _ := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(listing))
	}))

	result, err := h.HandleListTransactions(context.Background(), makeRequest(map[string]any{"limit": float64(3)}))
	require.NoError(t, err)
	assert.Equal(t, "limit=3", query)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 3 transaction(s)")
	assert.Less(t, strings.Index(text, "AAAAAAAA"), strings.Index(text, "CCCCCCCC"))

	result, err = h.HandleListTransactions(context.Background(), makeRequest(map[string]any{"min_label": "moderate"}))
	require.NoError(t, err)
	text = resultText(t, result)
	assert.Contains(t, text, "Found 2 transaction(s)")
	assert.NotContains(t, text, "CCCCCCCC")

	result, err = h.HandleListTransactions(context.Background(), makeRequest(map[string]any{"min_label": "extreme"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListTransactions_HTTPError(t *testing.T) {
	h, _ := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database offline"}`))
	}))

	result, err := h.HandleListTransactions(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "database offline")
}

func TestHandleMerchantTransactions(t *testing.T) {
	var path string
	h, _ := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))

	result, err := h.HandleMerchantTransactions(context.Background(), makeRequest(map[string]any{"username": "m1"}))
	require.NoError(t, err)
	assert.Equal(t, "/api/get-transactions/m1", path)
	assert.Equal(t, "No transactions found.", resultText(t, result))

	result, err = h.HandleMerchantTransactions(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "username is required")
}

// ============================================================
// submission_history
// ============================================================

func TestHandleSubmissionHistory(t *testing.T) {
	h, client := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"fraud_probability": "0.2"}`))
	}))

	result, err := h.HandleSubmissionHistory(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No assessments recorded yet.", resultText(t, result))

	loggedIn(t, client, "m1", "tok")
	_, err = client.Analyzer.Analyze(context.Background(), map[string]any{"Amount": 5})
	require.NoError(t, err)

	result, err = h.HandleSubmissionHistory(context.Background(), makeRequest(map[string]any{"username": "m1"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "1 assessment(s)")
	assert.Contains(t, text, "moderate")
}

func TestNewMCPServer(t *testing.T) {
	_, client := newTestSetup(t, http.NotFoundHandler())
	assert.NotNil(t, NewMCPServer(client, "test"))
}
