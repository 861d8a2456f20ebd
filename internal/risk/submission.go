package risk

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbd888/merchantshield/internal/auth"
	"github.com/mbd888/merchantshield/internal/idgen"
	"github.com/mbd888/merchantshield/internal/session"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DateTimeField is the wire name of the submission timestamp.
const DateTimeField = "date/time"

// Submission is the outbound payload asking the backend to score one
// transaction. TransactionID is generated client-side and is authoritative.
type Submission struct {
	TransactionID string
	Username      string
	DateTime      string
	Features      Features
}

// ShortID is the canonical display id the backend's record will carry.
func (s *Submission) ShortID() string {
	return idgen.Short(s.TransactionID)
}

func (s Submission) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, any]()
	om.Set("transaction_id", s.TransactionID)
	om.Set("username", s.Username)
	om.Set(DateTimeField, s.DateTime)
	s.Features.appendTo(om)
	return json.Marshal(om)
}

func (s *Submission) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	id, _ := fields["transaction_id"].(string)
	username, _ := fields["username"].(string)
	dt, _ := fields[DateTimeField].(string)
	*s = Submission{
		TransactionID: id,
		Username:      username,
		DateTime:      dt,
		Features:      FeaturesFrom(fields),
	}
	return nil
}

// Form is raw transaction input as entered by a merchant. Keys other than
// Amount, Time and V1..V28 style features are ignored.
type Form map[string]any

// Builder creates submissions. Each Build call yields a new logical
// submission; retrying means building again.
type Builder struct {
	now   func() time.Time
	newID func() string
}

// BuilderOption customises a Builder.
type BuilderOption func(*Builder)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// WithIDGenerator overrides the identifier source.
func WithIDGenerator(gen func() string) BuilderOption {
	return func(b *Builder) { b.newID = gen }
}

// NewBuilder creates a builder stamping uuids and the current UTC time.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{now: time.Now, newID: idgen.New}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build creates a submission for user from form. A nil user is rejected.
func (b *Builder) Build(form Form, user *session.User) (*Submission, error) {
	if user == nil || user.Username == "" {
		return nil, &auth.ValidationError{Message: "You must be logged in to analyze a transaction"}
	}

	var f Features
	var err error
	if f.Amount, err = mustNumber("Amount", form["Amount"]); err != nil {
		return nil, &auth.ValidationError{Field: "Amount", Message: err.Error()}
	}
	if f.Time, err = mustNumber("Time", form["Time"]); err != nil {
		return nil, &auth.ValidationError{Field: "Time", Message: err.Error()}
	}
	for k, v := range form {
		if !IsFeatureKey(k) {
			continue
		}
		n, err := mustNumber(k, v)
		if err != nil {
			return nil, &auth.ValidationError{Field: k, Message: err.Error()}
		}
		if f.V == nil {
			f.V = make(map[string]float64)
		}
		f.V[k] = n
	}

	return &Submission{
		TransactionID: b.newID(),
		Username:      user.Username,
		DateTime:      b.now().UTC().Format(time.RFC3339Nano),
		Features:      f,
	}, nil
}

// String is a compact form for logs.
func (s *Submission) String() string {
	return fmt.Sprintf("%s(%s)", s.ShortID(), s.Username)
}
