// Package session owns the client's authentication state: the bearer token,
// the last known user and how the token was obtained.
//
// The state is persisted through a Store on every mutation and rehydrated
// once at startup. It is the single source of truth the transport consults
// before each outbound request.
package session

import (
	"context"
	"errors"
)

// Role is the dashboard role of a user.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleMerchant Role = "merchant"
)

// User is the identity attached to a session.
type User struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Mode records how the current token was obtained.
type Mode string

const (
	// ModeNone means no token is held.
	ModeNone Mode = ""
	// ModeTokenBacked means the backend issued the token.
	ModeTokenBacked Mode = "token_backed"
	// ModeMessageOnly means the backend confirmed the login without a
	// token and the client synthesised a placeholder.
	ModeMessageOnly Mode = "message_only"
)

// Session is the persisted authentication state. A user may be present
// without a token.
type Session struct {
	Token string `json:"token,omitempty"`
	User  *User  `json:"user,omitempty"`
	Mode  Mode   `json:"mode,omitempty"`
}

// HasToken reports whether a bearer token is held.
func (s Session) HasToken() bool {
	return s.Token != ""
}

// ErrNotFound is returned by a Store when nothing has been saved.
var ErrNotFound = errors.New("session: nothing stored")

// Store persists the serialised session under a single key.
// Delete removes the key entirely; absence is the "no session" state.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
}
