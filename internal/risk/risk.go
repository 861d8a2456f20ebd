// Package risk classifies fraud probabilities, builds outbound risk
// submissions and keeps an audit trail of the backend's verdicts.
//
// Classification is a fixed three-tier rule: above 0.5 is high, 0.1 to 0.5
// inclusive is moderate and below 0.1 is low.
package risk

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Label is the risk tier of a transaction.
type Label string

const (
	LabelLow      Label = "low"
	LabelModerate Label = "moderate"
	LabelHigh     Label = "high"
)

// Tier boundaries.
const (
	HighThreshold     = 0.5
	ModerateThreshold = 0.1
)

var explanations = map[Label]string{
	LabelHigh:     "This transaction has been flagged as high risk",
	LabelModerate: "This transaction shows moderate risk indicators",
	LabelLow:      "This transaction appears safe",
}

// ClampProbability pins p to [0, 1].
func ClampProbability(p float64) float64 {
	return min(max(p, 0), 1)
}

// Classify maps a probability to its label and explanation. Both
// boundaries belong to the moderate tier.
func Classify(p float64) (Label, string) {
	var l Label
	switch {
	case p > HighThreshold:
		l = LabelHigh
	case p >= ModerateThreshold:
		l = LabelModerate
	default:
		l = LabelLow
	}
	return l, explanations[l]
}

// Rank orders labels from low (0) to high (2). Unknown labels rank -1.
func (l Label) Rank() int {
	switch l {
	case LabelLow:
		return 0
	case LabelModerate:
		return 1
	case LabelHigh:
		return 2
	default:
		return -1
	}
}

// AtLeast reports whether l is min or riskier.
func (l Label) AtLeast(min Label) bool {
	return l.Rank() >= min.Rank()
}

// ParseLabel accepts a label name in any case. Empty means low.
func ParseLabel(s string) (Label, error) {
	switch l := Label(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LabelLow, nil
	case LabelLow, LabelModerate, LabelHigh:
		return l, nil
	default:
		return "", fmt.Errorf("unknown risk label %q", s)
	}
}

// Assessment is the backend's verdict on one submission.
type Assessment struct {
	Submission       *Submission `json:"submission"`
	ShortID          string      `json:"short_id"`
	FraudProbability float64     `json:"fraud_probability"`
	Flagged          bool        `json:"flagged"`
	Label            Label       `json:"risk_label"`
	Explanation      string      `json:"explanation"`
	AssessedAt       time.Time   `json:"assessed_at"`
}

// Username is the merchant the submission was made for.
func (a *Assessment) Username() string {
	if a.Submission == nil {
		return ""
	}
	return a.Submission.Username
}

// Store persists assessments for the audit trail.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	// ListByUsername returns the newest assessments first. An empty
	// username lists every merchant.
	ListByUsername(ctx context.Context, username string, limit int) ([]*Assessment, error)
}

// Notifier is told about every new assessment.
type Notifier interface {
	PublishAssessment(a *Assessment)
}
