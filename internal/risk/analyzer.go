package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/merchantshield/internal/auth"
	"github.com/mbd888/merchantshield/internal/metrics"
	"github.com/mbd888/merchantshield/internal/session"
	"github.com/mbd888/merchantshield/internal/traces"
)

const (
	analyzePath = "/api/analyze-risk"

	// DefaultHistoryLimit caps History when no limit is given.
	DefaultHistoryLimit = 50
)

// Backend is the slice of the transport the analyzer needs.
type Backend interface {
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// UserSource yields the logged-in user, or nil.
type UserSource interface {
	User() *session.User
}

// Analyzer submits transactions for scoring and records the verdicts.
type Analyzer struct {
	backend  Backend
	users    UserSource
	builder  *Builder
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewAnalyzer creates an analyzer. store and notifier may be nil.
func NewAnalyzer(backend Backend, users UserSource, builder *Builder, store Store, notifier Notifier, logger *slog.Logger) *Analyzer {
	if builder == nil {
		builder = NewBuilder()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		backend:  backend,
		users:    users,
		builder:  builder,
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// analyzeResponse is the backend's verdict. Flagged may be omitted.
type analyzeResponse struct {
	FraudProbability any   `json:"fraud_probability"`
	Flagged          *bool `json:"flagged"`
}

// Analyze builds a fresh submission for the session user, posts it and
// returns the classified verdict. Recording and notification are best
// effort.
func (a *Analyzer) Analyze(ctx context.Context, form Form) (*Assessment, error) {
	sub, err := a.builder.Build(form, a.users.User())
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "risk.Analyze",
		traces.Merchant(sub.Username), traces.TransactionID(sub.TransactionID))
	defer span.End()

	raw, err := a.backend.Post(ctx, analyzePath, sub)
	if err != nil {
		traces.Fail(span, err)
		return nil, fmt.Errorf("analyze %s: %w", sub.ShortID(), err)
	}

	var resp analyzeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &auth.ResponseShapeError{Message: "Invalid response from server: " + string(raw), Raw: raw}
	}
	p, ok := Number(resp.FraudProbability)
	if !ok {
		return nil, &auth.ResponseShapeError{Message: "Invalid response from server: " + string(raw), Raw: raw}
	}
	if c := ClampProbability(p); c != p {
		a.logger.Warn("fraud probability out of range, clamped", "id", sub.ShortID(), "probability", p)
		p = c
	}

	label, explanation := Classify(p)
	flagged := p > HighThreshold
	if resp.Flagged != nil {
		flagged = *resp.Flagged
	}
	assessment := &Assessment{
		Submission:       sub,
		ShortID:          sub.ShortID(),
		FraudProbability: p,
		Flagged:          flagged,
		Label:            label,
		Explanation:      explanation,
		AssessedAt:       a.now().UTC(),
	}
	metrics.AssessmentsTotal.WithLabelValues(string(label)).Inc()

	if a.store != nil {
		if err := a.store.Record(ctx, assessment); err != nil {
			a.logger.Warn("failed to record assessment", "id", assessment.ShortID, "error", err)
		}
	}
	if a.notifier != nil {
		a.notifier.PublishAssessment(assessment)
	}

	a.logger.Info("transaction analyzed",
		"id", assessment.ShortID,
		"username", sub.Username,
		"probability", p,
		"label", label)
	return assessment, nil
}

// History lists recorded assessments, newest first. An empty username
// lists every merchant.
func (a *Analyzer) History(ctx context.Context, username string, limit int) ([]*Assessment, error) {
	if a.store == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return a.store.ListByUsername(ctx, username, limit)
}
