// Package transport issues authenticated requests to the fraud-scoring
// backend and decodes its loosely typed responses into raw JSON.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mbd888/merchantshield/internal/metrics"
	"github.com/mbd888/merchantshield/internal/traces"
)

const (
	// DefaultTimeout bounds every request when Config.Timeout is zero.
	DefaultTimeout = 15 * time.Second

	// APIKeyHeader carries the API key on risk analysis calls.
	APIKeyHeader = "X-API-Key"

	excerptLen = 100
)

// TokenSource yields the current bearer token, or "" when there is none.
// It is consulted on every request.
type TokenSource interface {
	Token() string
}

// Config holds the fixed settings of a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// HTTPClient overrides the underlying client. Its Timeout is replaced
	// by Config.Timeout.
	HTTPClient *http.Client
}

// Request describes one backend call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

// Client talks to the backend with a fixed base URL and timeout.
type Client struct {
	baseURL    string
	apiKey     string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client. tokens may be nil for unauthenticated use.
func New(cfg Config, tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		hc = &copied
	}
	hc.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		tokens:     tokens,
		httpClient: hc,
		logger:     logger,
	}
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get is shorthand for a GET without a body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post is shorthand for a JSON POST.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Do performs the request and returns the decoded body as raw JSON. An
// empty body is returned as JSON null.
//
// Errors are *NetworkError when the backend is unreachable, *DecodeError
// when a JSON body does not parse and *HTTPError for non-2xx statuses.
func (c *Client) Do(ctx context.Context, r Request) (json.RawMessage, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	route := Route(r.Path)

	ctx, span := traces.StartSpan(ctx, "backend "+method+" "+route,
		traces.Endpoint(route), traces.Method(method))
	defer span.End()

	start := time.Now()
	body, err := c.do(ctx, method, r)
	elapsed := time.Since(start)

	metrics.BackendRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
	metrics.BackendRequestsTotal.WithLabelValues(route, outcome(err)).Inc()

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		span.SetAttributes(traces.StatusCode(httpErr.Status))
	}
	if err != nil {
		traces.Fail(span, err)
		c.logger.Debug("backend request failed",
			"method", method, "endpoint", route, "duration", elapsed, "error", err)
		return nil, err
	}

	c.logger.Debug("backend request", "method", method, "endpoint", route, "duration", elapsed)
	return body, nil
}

func (c *Client) do(ctx context.Context, method string, r Request) (json.RawMessage, error) {
	u, err := url.Parse(c.baseURL + r.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(r.Query) > 0 {
		u.RawQuery = r.Query.Encode()
	}

	var reqBody io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, r)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent {
		// These statuses carry no body whatever the headers claim.
		contentType = ""
	}
	decoded, err := decodeBody(contentType, raw)
	if err != nil {
		var decErr *DecodeError
		if errors.As(err, &decErr) {
			decErr.Status = resp.StatusCode
		}
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			Status:  resp.StatusCode,
			Message: errorMessage(decoded, resp.StatusCode),
			Body:    raw,
		}
	}
	return decoded, nil
}

func (c *Client) setHeaders(req *http.Request, r Request) {
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range r.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	if c.apiKey != "" && strings.Contains(r.Path, "analyze-risk") {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
}

var jsonNull = json.RawMessage("null")

// decodeBody applies the content-type rules: a declared JSON body must
// parse, and an empty one does not; anything else is parsed when it
// happens to be JSON and wrapped as {"message": text} otherwise. An empty
// body without a JSON content type is null.
func decodeBody(contentType string, raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)

	if isJSONContentType(contentType) {
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, &DecodeError{Excerpt: excerpt(raw), Err: err}
		}
		return json.RawMessage(trimmed), nil
	}

	if len(trimmed) == 0 {
		return jsonNull, nil
	}

	if json.Valid(trimmed) {
		return json.RawMessage(trimmed), nil
	}
	wrapped, err := json.Marshal(map[string]string{"message": string(raw)})
	if err != nil {
		return nil, fmt.Errorf("wrap text body: %w", err)
	}
	return wrapped, nil
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func excerpt(raw []byte) string {
	if utf8.RuneCount(raw) <= excerptLen {
		return string(raw)
	}
	return string([]rune(string(raw))[:excerptLen])
}

// errorMessage extracts a human message from an error body.
func errorMessage(body json.RawMessage, status int) string {
	var fields struct {
		Error   any `json:"error"`
		Message any `json:"message"`
	}
	if json.Unmarshal(body, &fields) == nil {
		if s, ok := fields.Error.(string); ok && s != "" {
			return s
		}
		if s, ok := fields.Message.(string); ok && s != "" {
			return s
		}
	}
	return fmt.Sprintf("HTTP error! status: %d", status)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		netErr  *NetworkError
		decErr  *DecodeError
		httpErr *HTTPError
	)
	switch {
	case errors.As(err, &netErr):
		return "network_error"
	case errors.As(err, &decErr):
		return "decode_error"
	case errors.As(err, &httpErr):
		if httpErr.Status >= 500 {
			return "http_5xx"
		}
		return "http_4xx"
	default:
		return "client_error"
	}
}

// Route collapses a request path into a bounded metric label: the query is
// dropped and per-merchant paths share one route.
func Route(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	const merchantPrefix = "/api/get-transactions/"
	if strings.HasPrefix(path, merchantPrefix) {
		return merchantPrefix + "{username}"
	}
	if path == "" {
		return "/"
	}
	return path
}
