// Package transactions maps the backend's loosely shaped transaction
// listings into canonical, display-ready records.
package transactions

import (
	"encoding/json"
	"time"

	"github.com/mbd888/merchantshield/internal/risk"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is one canonical transaction. It is a value: normalising a list
// of records again yields the same records.
type Record struct {
	TransactionID    string        `json:"transaction_id"`
	FraudProbability float64       `json:"fraud_probability"`
	RiskLabel        risk.Label    `json:"risk_label"`
	Timestamp        string        `json:"timestamp"`
	MerchantUsername string        `json:"merchant_username"`
	Payload          risk.Features `json:"payload"`
	Explanation      string        `json:"explanation"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, any]()
	om.Set("transaction_id", r.TransactionID)
	om.Set("fraud_probability", r.FraudProbability)
	om.Set("risk_label", r.RiskLabel)
	om.Set("timestamp", r.Timestamp)
	om.Set("merchant_username", r.MerchantUsername)
	om.Set("payload", r.Payload)
	om.Set("explanation", r.Explanation)
	return json.Marshal(om)
}

// FromAssessment is the record the backend will eventually list for an
// assessment made by this client.
func FromAssessment(a *risk.Assessment) Record {
	r := Record{
		TransactionID:    a.ShortID,
		FraudProbability: a.FraudProbability,
		RiskLabel:        a.Label,
		Explanation:      a.Explanation,
		Timestamp:        a.AssessedAt.UTC().Format(time.RFC3339Nano),
	}
	if a.Submission != nil {
		r.MerchantUsername = a.Submission.Username
		r.Timestamp = a.Submission.DateTime
		r.Payload = a.Submission.Features
	}
	return r
}
