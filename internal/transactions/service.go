package transactions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/mbd888/merchantshield/internal/auth"
)

const (
	allPath      = "/api/get-all-transactions"
	merchantPath = "/api/get-transactions/"

	// DefaultLimit matches the backend's own default page size.
	DefaultLimit = 100
)

// Backend is the slice of the transport the service needs.
type Backend interface {
	Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
}

// Service lists transactions from the backend as canonical records.
type Service struct {
	backend      Backend
	normalizer   *Normalizer
	defaultLimit int
}

// NewService creates a listing service. A non-positive defaultLimit uses
// DefaultLimit.
func NewService(backend Backend, logger *slog.Logger, defaultLimit int) *Service {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Service{
		backend:      backend,
		normalizer:   NewNormalizer(logger),
		defaultLimit: defaultLimit,
	}
}

// ListAll fetches the most recent transactions across all merchants.
func (s *Service) ListAll(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	raw, err := s.backend.Get(ctx, allPath, url.Values{"limit": {strconv.Itoa(limit)}})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return s.normalizer.NormalizeList(raw), nil
}

// ListByMerchant fetches one merchant's transactions.
func (s *Service) ListByMerchant(ctx context.Context, username string) ([]Record, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, &auth.ValidationError{Field: "username", Message: "Username is required"}
	}
	raw, err := s.backend.Get(ctx, merchantPath+url.PathEscape(username), nil)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", username, err)
	}
	return s.normalizer.NormalizeList(raw), nil
}
