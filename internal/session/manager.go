package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mbd888/merchantshield/internal/metrics"
)

// Manager serialises access to the session and keeps the store in step
// with memory. The in-memory copy only changes after a successful save.
type Manager struct {
	mu      sync.RWMutex
	store   Store
	current Session
	logger  *slog.Logger
}

// NewManager creates a manager with an empty session. Call Load to
// rehydrate from the store.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Load rehydrates the session from the store. A missing, unreadable or
// unparseable stored value leaves the session empty and is not an error;
// only a done ctx is returned.
func (m *Manager) Load(ctx context.Context) error {
	data, err := m.store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		m.replace(Session{})
		return nil
	}
	if err != nil {
		m.replace(Session{})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("load session: %w", ctxErr)
		}
		m.logger.Error("session store unreadable, starting empty", "error", err)
		return nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		m.logger.Warn("stored session is corrupt, starting empty", "error", err)
		m.replace(Session{})
		return nil
	}
	if s.Token == "" {
		s.Mode = ModeNone
	}
	m.replace(s)
	return nil
}

// Token returns the current bearer token, or "" when none is held.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Token
}

// User returns a copy of the current user, or nil.
func (m *Manager) User() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current.User == nil {
		return nil
	}
	u := *m.current.User
	return &u
}

// Mode returns how the current token was obtained.
func (m *Manager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Mode
}

// Snapshot returns a copy of the whole session.
func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySession(m.current)
}

// SetToken replaces the token and keeps the user. An empty token drops the
// token but keeps the user.
func (m *Manager) SetToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := copySession(m.current)
	next.Token = token
	if token == "" {
		next.Mode = ModeNone
	} else if next.Mode == ModeNone {
		next.Mode = ModeTokenBacked
	}
	return m.commit(ctx, next)
}

// Establish atomically installs a token, user and mode and persists them.
func (m *Manager) Establish(ctx context.Context, token string, user User, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := Session{Token: token, User: &user, Mode: mode}
	if token == "" {
		next.Mode = ModeNone
	}
	return m.commit(ctx, next)
}

// Clear forgets the session and deletes the stored key.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	m.current = Session{}
	metrics.SessionActive.Set(0)
	return nil
}

// commit persists next and swaps it in. Caller holds m.mu.
func (m *Manager) commit(ctx context.Context, next Session) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Save(ctx, data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	m.current = next
	setActiveGauge(next)
	return nil
}

func (m *Manager) replace(s Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	setActiveGauge(s)
}

func setActiveGauge(s Session) {
	if s.HasToken() {
		metrics.SessionActive.Set(1)
	} else {
		metrics.SessionActive.Set(0)
	}
}

func copySession(s Session) Session {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}
