package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/merchantshield/internal/auth"
	"github.com/mbd888/merchantshield/internal/health"
	"github.com/mbd888/merchantshield/internal/risk"
	"github.com/mbd888/merchantshield/internal/session"
	"github.com/mbd888/merchantshield/internal/transactions"
)

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthResponse is the /health payload
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Session
// -----------------------------------------------------------------------------

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// sessionView never carries the raw token.
type sessionView struct {
	Authenticated bool              `json:"authenticated"`
	User          *session.User     `json:"user,omitempty"`
	Mode          session.Mode      `json:"mode,omitempty"`
	Placeholder   bool              `json:"placeholder"`
	Token         session.TokenInfo `json:"token"`
}

func (s *Server) currentSession() sessionView {
	snap := s.client.Sessions.Snapshot()
	return sessionView{
		Authenticated: snap.HasToken(),
		User:          snap.User,
		Mode:          snap.Mode,
		Placeholder:   auth.IsPlaceholder(snap.Token),
		Token:         session.Inspect(snap.Token, time.Now()),
	}
}

func (s *Server) signupHandler(c *gin.Context) {
	var form auth.SignupForm
	if err := c.ShouldBindJSON(&form); err != nil {
		badRequest(c, "Request body must be a JSON signup form")
		return
	}

	user, err := s.client.Auth.Signup(c.Request.Context(), form)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user":    user,
		"message": "Registration successful. Please log in.",
	})
}

func (s *Server) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Request body must be a JSON object with username and password")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(c, &auth.ValidationError{Message: "Username and password are required"})
		return
	}

	result, err := s.client.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	s.hub.PublishSession(result.Username, string(result.Role))
	c.JSON(http.StatusOK, s.currentSession())
}

func (s *Server) sessionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentSession())
}

func (s *Server) logoutHandler(c *gin.Context) {
	if err := s.client.Auth.Logout(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	s.hub.PublishSession("", "")
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

// queryLimit parses ?limit. Absent means 0, which callees treat as their
// default.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (s *Server) listTransactionsHandler(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	records, err := s.client.Transactions.ListAll(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": records, "count": len(records)})
}

func (s *Server) merchantTransactionsHandler(c *gin.Context) {
	records, err := s.client.Transactions.ListByMerchant(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": records, "count": len(records)})
}

// -----------------------------------------------------------------------------
// Risk
// -----------------------------------------------------------------------------

func (s *Server) analyzeHandler(c *gin.Context) {
	if s.client.Sessions.User() == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "not_authenticated",
			"message": "You must be logged in to analyze a transaction",
		})
		return
	}

	var form risk.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		badRequest(c, "Request body must be a JSON object of transaction fields")
		return
	}

	assessment, err := s.client.Analyzer.Analyze(c.Request.Context(), form)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"assessment": assessment,
		"record":     transactions.FromAssessment(assessment),
	})
}

func (s *Server) submissionsHandler(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	history, err := s.client.Analyzer.History(c.Request.Context(), c.Query("username"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if history == nil {
		history = []*risk.Assessment{}
	}
	c.JSON(http.StatusOK, gin.H{"submissions": history, "count": len(history)})
}
