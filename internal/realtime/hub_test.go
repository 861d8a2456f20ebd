package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/mbd888/merchantshield/internal/risk"
)

func testHub() *Hub {
	return NewHub(logging.Discard(), nil)
}

func assessment(username string, p float64) *risk.Assessment {
	label, explanation := risk.Classify(p)
	sub := &risk.Submission{
		TransactionID: "abcdef12-0000",
		Username:      username,
		DateTime:      "2024-01-01T00:00:00Z",
		Features:      risk.Features{Amount: 10},
	}
	return &risk.Assessment{
		Submission:       sub,
		ShortID:          sub.ShortID(),
		FraudProbability: p,
		Label:            label,
		Explanation:      explanation,
	}
}

func analyzedEvent(merchant string, label risk.Label) *Event {
	return &Event{Type: EventTransactionAnalyzed, merchant: merchant, label: label}
}

// ---------------------------------------------------------------------------
// Subscription filters
// ---------------------------------------------------------------------------

func TestSubscription_ZeroValueMatchesEverything(t *testing.T) {
	var sub Subscription
	if !sub.Matches(analyzedEvent("m1", risk.LabelLow)) {
		t.Error("zero subscription should receive analyzed events")
	}
	if !sub.Matches(&Event{Type: EventSessionChanged}) {
		t.Error("zero subscription should receive session events")
	}
}

func TestSubscription_EventTypeFilter(t *testing.T) {
	sub := Subscription{EventTypes: []EventType{EventSessionChanged}}
	if sub.Matches(analyzedEvent("m1", risk.LabelHigh)) {
		t.Error("should NOT receive analyzed events")
	}
	if !sub.Matches(&Event{Type: EventSessionChanged}) {
		t.Error("should receive session events")
	}
}

func TestSubscription_MerchantFilter(t *testing.T) {
	sub := Subscription{Merchants: []string{"m1", "m3"}}
	if !sub.Matches(analyzedEvent("m1", risk.LabelLow)) {
		t.Error("should match m1")
	}
	if sub.Matches(analyzedEvent("m2", risk.LabelHigh)) {
		t.Error("should NOT match m2")
	}
	if !sub.Matches(&Event{Type: EventSessionChanged}) {
		t.Error("merchant filter does not apply to session events")
	}
}

func TestSubscription_MinLabel(t *testing.T) {
	sub := Subscription{MinLabel: risk.LabelModerate}
	tests := []struct {
		label risk.Label
		want  bool
	}{
		{risk.LabelLow, false},
		{risk.LabelModerate, true},
		{risk.LabelHigh, true},
	}
	for _, tt := range tests {
		if got := sub.Matches(analyzedEvent("m1", tt.label)); got != tt.want {
			t.Errorf("label %s: got %v, want %v", tt.label, got, tt.want)
		}
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://dashboard.local:3000"})
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://api.local/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	if !check(req("")) {
		t.Error("non-browser clients allowed")
	}
	if !check(req("http://api.local")) {
		t.Error("same host allowed")
	}
	if !check(req("http://dashboard.local:3000")) {
		t.Error("configured origin allowed")
	}
	if check(req("http://evil.example")) {
		t.Error("unknown origin rejected")
	}
	if !originChecker([]string{"*"})(req("http://evil.example")) {
		t.Error("wildcard allows any origin")
	}
}

// ---------------------------------------------------------------------------
// Hub loop
// ---------------------------------------------------------------------------

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256)}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	if got := h.Stats()["connectedClients"].(int); got != 1 {
		t.Errorf("Expected 1 connected client, got %d", got)
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	if got := h.Stats()["connectedClients"].(int); got != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %d", got)
	}
	if got := h.Stats()["totalClients"].(int64); got != 1 {
		t.Errorf("Expected 1 total client, got %d", got)
	}
}

func TestHub_PublishAssessment(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	highOnly := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{MinLabel: risk.LabelHigh}}
	everything := &Client{hub: h, send: make(chan []byte, 8)}
	h.register <- highOnly
	h.register <- everything

	h.PublishAssessment(assessment("m1", 0.05))
	h.PublishAssessment(assessment("m1", 0.95))

	var first map[string]any
	select {
	case msg := <-everything.send:
		if err := json.Unmarshal(msg, &first); err != nil {
			t.Fatalf("bad event json: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	if first["type"] != string(EventTransactionAnalyzed) {
		t.Errorf("unexpected type %v", first["type"])
	}
	data := first["data"].(map[string]any)
	if data["transaction_id"] != "ABCDEF12" || data["risk_label"] != "low" || data["merchant_username"] != "m1" {
		t.Errorf("unexpected record %v", data)
	}

	select {
	case msg := <-highOnly.send:
		if !strings.Contains(string(msg), `"risk_label":"high"`) {
			t.Errorf("high-only client got %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("high-only client should receive the high event")
	}
	select {
	case msg := <-highOnly.send:
		t.Errorf("high-only client should get exactly one event, got %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := &Client{hub: h, send: make(chan []byte)} // unbuffered, never read
	h.register <- slow
	h.PublishSession("m1", "merchant")
	time.Sleep(100 * time.Millisecond)

	if got := h.Stats()["connectedClients"].(int); got != 0 {
		t.Errorf("slow client should be dropped, %d connected", got)
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}

	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("upgrade after shutdown: got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// WebSocket end to end
// ---------------------------------------------------------------------------

func TestHub_WebSocketFeed(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?merchant=m2&minLabel=moderate"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for h.Stats()["connectedClients"].(int) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	h.PublishAssessment(assessment("m1", 0.9)) // wrong merchant
	h.PublishAssessment(assessment("m2", 0.01)) // below min label
	h.PublishAssessment(assessment("m2", 0.3))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event struct {
		Type string `json:"type"`
		Data struct {
			Merchant string `json:"merchant_username"`
			Label    string `json:"risk_label"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Data.Merchant != "m2" || event.Data.Label != "moderate" {
		t.Errorf("unexpected event %s", msg)
	}
}

func TestHandleWebSocket_BadMinLabel(t *testing.T) {
	h := testHub()
	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws?minLabel=severe", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}
}
