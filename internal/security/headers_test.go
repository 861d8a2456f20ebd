package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHeadersMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(HeadersMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.String(200, "ok")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	}
	for header, expected := range headers {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("%s = %q, want %q", header, got, expected)
		}
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'none'") {
		t.Errorf("Content-Security-Policy = %q", csp)
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name              string
		allowedOrigins    []string
		requestOrigin     string
		expectHeader      bool
		expectCredentials bool
	}{
		{
			name:              "allowed origin",
			allowedOrigins:    []string{"https://dashboard.example.com"},
			requestOrigin:     "https://dashboard.example.com",
			expectHeader:      true,
			expectCredentials: true,
		},
		{
			name:              "trailing slash in config",
			allowedOrigins:    []string{"https://dashboard.example.com/"},
			requestOrigin:     "https://dashboard.example.com",
			expectHeader:      true,
			expectCredentials: true,
		},
		{
			name:           "wildcard allows all without credentials",
			allowedOrigins: []string{"*"},
			requestOrigin:  "https://anything.example.com",
			expectHeader:   true,
		},
		{
			name:           "empty list allows all",
			allowedOrigins: nil,
			requestOrigin:  "https://anything.example.com",
			expectHeader:   true,
		},
		{
			name:           "disallowed origin",
			allowedOrigins: []string{"https://dashboard.example.com"},
			requestOrigin:  "https://evil.example.com",
			expectHeader:   false,
		},
		{
			name:           "no origin header",
			allowedOrigins: []string{"*"},
			requestOrigin:  "",
			expectHeader:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORSMiddleware(tt.allowedOrigins))
			router.GET("/test", func(c *gin.Context) {
				c.String(200, "ok")
			})

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			got := w.Header().Get("Access-Control-Allow-Origin")
			if tt.expectHeader && got != tt.requestOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.requestOrigin)
			}
			if !tt.expectHeader && got != "" {
				t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
			}
			creds := w.Header().Get("Access-Control-Allow-Credentials") == "true"
			if creds != tt.expectCredentials {
				t.Errorf("Allow-Credentials = %v, want %v", creds, tt.expectCredentials)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware([]string{"*"}))
	router.POST("/v1/analyze", func(c *gin.Context) {
		t.Error("handler must not run for preflight")
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/analyze", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestSizeMiddleware(8))
	router.POST("/echo", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too large")
			return
		}
		c.String(http.StatusOK, string(body))
	})

	small := httptest.NewRecorder()
	router.ServeHTTP(small, httptest.NewRequest("POST", "/echo", strings.NewReader("tiny")))
	if small.Code != http.StatusOK || small.Body.String() != "tiny" {
		t.Errorf("small body: %d %q", small.Code, small.Body.String())
	}

	big := httptest.NewRecorder()
	router.ServeHTTP(big, httptest.NewRequest("POST", "/echo", strings.NewReader("this is far too long")))
	if big.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body status = %d, want 413", big.Code)
	}
}
