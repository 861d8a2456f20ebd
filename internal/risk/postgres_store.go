package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists assessments in the risk_submissions table.
// The schema lives in the goose migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	if a.Submission == nil {
		return fmt.Errorf("assessment %s has no submission", a.ShortID)
	}
	payload, err := json.Marshal(a.Submission)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_submissions
			(transaction_id, short_id, username, submitted_at, fraud_probability, flagged, risk_label, payload, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		a.Submission.TransactionID,
		a.ShortID,
		a.Submission.Username,
		a.Submission.DateTime,
		a.FraudProbability,
		a.Flagged,
		string(a.Label),
		payload,
		a.AssessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUsername(ctx context.Context, username string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT short_id, fraud_probability, flagged, risk_label, payload, assessed_at
		FROM risk_submissions
		WHERE ($1 = '' OR username = $1)
		ORDER BY assessed_at DESC, id DESC
		LIMIT $2
	`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var (
			a       Assessment
			label   string
			payload []byte
		)
		if err := rows.Scan(&a.ShortID, &a.FraudProbability, &a.Flagged, &label, &payload, &a.AssessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		var sub Submission
		if err := json.Unmarshal(payload, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode submission %s: %w", a.ShortID, err)
		}
		a.Submission = &sub
		a.Label = Label(label)
		a.Explanation = explanations[a.Label]
		a.AssessedAt = a.AssessedAt.UTC()
		result = append(result, &a)
	}
	return result, rows.Err()
}
