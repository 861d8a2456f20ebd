// Package auth turns the backend's heterogeneous signup and login
// responses into a canonical user and session.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/merchantshield/internal/metrics"
	"github.com/mbd888/merchantshield/internal/session"
)

const (
	signupPath = "/api/signup"
	loginPath  = "/api/login"

	// AdminUsername is the one username granted the admin role. The
	// backend never asserts roles, so this is decided locally.
	AdminUsername = "admin"

	placeholderPrefix = "session-"
)

// Backend is the slice of the transport the adapter needs.
type Backend interface {
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// LoginResult is the canonical outcome of a login.
type LoginResult struct {
	Username string       `json:"username"`
	Role     session.Role `json:"role"`
	Token    string       `json:"token"`
	Mode     session.Mode `json:"mode"`
}

// SignupForm is what a merchant fills in to register.
type SignupForm struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Adapter performs signup, login and logout against the backend and keeps
// the session in step.
type Adapter struct {
	backend  Backend
	sessions *session.Manager
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdapter creates an adapter.
func NewAdapter(backend Backend, sessions *session.Manager, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{backend: backend, sessions: sessions, logger: logger, now: time.Now}
}

// RoleFor derives the role from the username alone.
func RoleFor(username string) session.Role {
	if username == AdminUsername {
		return session.RoleAdmin
	}
	return session.RoleMerchant
}

// Signup validates the form locally and registers the merchant.
func (a *Adapter) Signup(ctx context.Context, form SignupForm) (*session.User, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return a.RegisterMerchant(ctx, strings.TrimSpace(form.Username), form.Password)
}

// Validate checks required fields and the password confirmation.
func (f SignupForm) Validate() error {
	switch {
	case strings.TrimSpace(f.Username) == "":
		return &ValidationError{Field: "username", Message: "Username is required"}
	case f.Password == "":
		return &ValidationError{Field: "password", Message: "Password is required"}
	case f.Password != f.ConfirmPassword:
		return &ValidationError{Field: "confirmPassword", Message: "Passwords do not match"}
	}
	return nil
}

// RegisterMerchant posts the credentials to the signup endpoint. The
// backend returns no user, so the result is built locally and is
// provisional until the merchant logs in. The session is not touched.
func (a *Adapter) RegisterMerchant(ctx context.Context, username, password string) (*session.User, error) {
	if _, err := a.backend.Post(ctx, signupPath, credentials{Username: username, Password: password}); err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}
	a.logger.Info("merchant registered", "username", username)
	return &session.User{Username: username, Role: session.RoleMerchant}, nil
}

// Login authenticates and persists the resulting session before
// returning it. A backend that confirms the login without a token gets a
// locally synthesised placeholder token and ModeMessageOnly.
func (a *Adapter) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	raw, err := a.backend.Post(ctx, loginPath, credentials{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	shape := matchLogin(raw, username)
	var result LoginResult
	switch shape.kind {
	case shapeTokenBacked:
		result = LoginResult{
			Username: shape.username,
			Token:    shape.token,
			Mode:     session.ModeTokenBacked,
		}
	case shapeMessageOnly:
		result = LoginResult{
			Username: shape.username,
			Token:    placeholderToken(shape.username, a.now()),
			Mode:     session.ModeMessageOnly,
		}
		a.logger.Warn("backend returned no token, using a placeholder session",
			"username", shape.username)
	default:
		return nil, shapeError(shape, raw)
	}
	result.Role = RoleFor(result.Username)

	user := session.User{Username: result.Username, Role: result.Role}
	if err := a.sessions.Establish(ctx, result.Token, user, result.Mode); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	metrics.LoginsTotal.WithLabelValues(string(result.Mode)).Inc()
	a.logger.Info("logged in", "username", result.Username, "role", result.Role, "mode", result.Mode)
	return &result, nil
}

// Logout forgets the session locally. The backend has no logout endpoint.
func (a *Adapter) Logout(ctx context.Context) error {
	if err := a.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// IsPlaceholder reports whether token was synthesised by a message-only
// login. The transport cannot tell the difference.
func IsPlaceholder(token string) bool {
	return strings.HasPrefix(token, placeholderPrefix)
}

func placeholderToken(username string, now time.Time) string {
	seed := username + ":" + strconv.FormatInt(now.UnixMilli(), 10)
	return placeholderPrefix + base64.RawURLEncoding.EncodeToString([]byte(seed))
}

func shapeError(shape loginShape, raw json.RawMessage) *ResponseShapeError {
	msg := shape.message
	if msg == "" {
		msg = shape.err
	}
	if msg == "" {
		msg = "Invalid response from server: " + string(raw)
	}
	return &ResponseShapeError{Message: msg, Raw: raw}
}
