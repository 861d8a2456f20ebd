package risk

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mbd888/merchantshield/internal/auth"
	"github.com/mbd888/merchantshield/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var merchant = &session.User{Username: "m1", Role: session.RoleMerchant}

// steppingClock advances by one millisecond per call.
func steppingClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestBuild_CopiesAmountTimeAndFeatures(t *testing.T) {
	b := NewBuilder(
		WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("X", 3600)) }),
		WithIDGenerator(func() string { return "abc123xyz-0000" }),
	)
	sub, err := b.Build(Form{
		"Amount":   42,
		"Time":     "17",
		"V1":       0.5,
		"V28":      "-1.25",
		"username": "spoofed",
		"note":     "ignored",
		"V100":     9,
	}, merchant)
	require.NoError(t, err)

	assert.Equal(t, "abc123xyz-0000", sub.TransactionID)
	assert.Equal(t, "ABC123XY", sub.ShortID())
	assert.Equal(t, "m1", sub.Username)
	assert.Equal(t, "2023-12-31T23:00:00Z", sub.DateTime)
	assert.Equal(t, 42.0, sub.Features.Amount)
	assert.Equal(t, 17.0, sub.Features.Time)
	assert.Equal(t, map[string]float64{"V1": 0.5, "V28": -1.25}, sub.Features.V)
}

func TestBuild_DistinctIDsAndTimestamps(t *testing.T) {
	b := NewBuilder(WithClock(steppingClock(time.Now())))
	form := Form{"Amount": 10, "Time": 1, "V1": 0.1}

	first, err := b.Build(form, merchant)
	require.NoError(t, err)
	second, err := b.Build(form, merchant)
	require.NoError(t, err)

	assert.NotEqual(t, first.TransactionID, second.TransactionID)
	assert.NotEqual(t, first.DateTime, second.DateTime)
	assert.Len(t, first.TransactionID, 36)
}

func TestBuild_RequiresUser(t *testing.T) {
	b := NewBuilder()
	for _, u := range []*session.User{nil, {}} {
		_, err := b.Build(Form{"Amount": 1}, u)
		var vErr *auth.ValidationError
		require.ErrorAs(t, err, &vErr)
	}
}

func TestBuild_RejectsNonNumericFields(t *testing.T) {
	b := NewBuilder()
	for _, field := range []string{"Amount", "Time", "V3"} {
		_, err := b.Build(Form{field: "lots"}, merchant)
		var vErr *auth.ValidationError
		require.ErrorAs(t, err, &vErr, field)
		assert.Equal(t, field, vErr.Field)
	}
}

func TestBuild_BlankFieldsAreZero(t *testing.T) {
	sub, err := NewBuilder().Build(Form{"Amount": "", "V2": " "}, merchant)
	require.NoError(t, err)
	assert.Zero(t, sub.Features.Amount)
	assert.Equal(t, 0.0, sub.Features.V["V2"])
}

func TestSubmission_JSON(t *testing.T) {
	sub := &Submission{
		TransactionID: "11111111-2222-3333-4444-555555555555",
		Username:      "m1",
		DateTime:      "2024-01-01T00:00:00Z",
		Features:      Features{Amount: 42, Time: 3, V: map[string]float64{"V2": 1, "V1": 0.5}},
	}
	data, err := json.Marshal(sub)
	require.NoError(t, err)
	want := `{"transaction_id":"11111111-2222-3333-4444-555555555555","username":"m1","date/time":"2024-01-01T00:00:00Z","Amount":42,"Time":3,"V1":0.5,"V2":1}`
	assert.Equal(t, want, string(data))

	var back Submission
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *sub, back)
}

func TestSubmission_String(t *testing.T) {
	sub := &Submission{TransactionID: "deadbeef-cafe", Username: "m1"}
	assert.Equal(t, "DEADBEEF(m1)", fmt.Sprint(sub))
}
