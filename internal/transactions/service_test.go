package transactions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mbd888/merchantshield/internal/auth"
	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/mbd888/merchantshield/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := transport.New(transport.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, nil, logging.Discard())
	return NewService(client, logging.Discard(), 0)
}

func TestService_ListAll(t *testing.T) {
	var gotPath, gotLimit string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"a1b2c3d4e5","username":"m1","fraud_probability":0.2,"timestamp":"2024-01-01T00:00:00Z"}]}`))
	})

	got, err := svc.ListAll(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "/api/get-all-transactions", gotPath)
	assert.Equal(t, "100", gotLimit)
	require.Len(t, got, 1)
	assert.Equal(t, "A1B2C3D4", got[0].TransactionID)

	_, err = svc.ListAll(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, "25", gotLimit)
}

func TestService_ListByMerchant(t *testing.T) {
	var gotPath string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`[]`))
	})

	got, err := svc.ListByMerchant(context.Background(), "shop one")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "/api/get-transactions/shop%20one", gotPath)
}

func TestService_ListByMerchantRequiresUsername(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called")
	})
	_, err := svc.ListByMerchant(context.Background(), " ")
	var vErr *auth.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestService_BackendErrors(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database unavailable"}`))
	})

	_, err := svc.ListAll(context.Background(), 10)
	var httpErr *transport.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "database unavailable", httpErr.Message)
}
