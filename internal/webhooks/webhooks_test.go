package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// newTestDispatcher returns a dispatcher with fast retries for tests.
func newTestDispatcher(store Store) *Dispatcher {
	d := NewDispatcher(store)
	d.baseDelay = time.Millisecond
	return d
}

func waitFor(t *testing.T, ch <-chan *http.Request) *http.Request {
	t.Helper()
	select {
	case req := <-ch:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
		return nil
	}
}

// ---------------------------------------------------------------------------
// MemoryStore tests
// ---------------------------------------------------------------------------

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID:        "wh_test1",
		URL:       "https://example.com/hook",
		Secret:    "secret123",
		Events:    []EventType{EventScoreUpdated},
		Active:    true,
		CreatedAt: time.Now(),
	}

	// Create
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Get
	got, err := store.Get(ctx, "wh_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("Expected URL, got %s", got.URL)
	}

	// Update
	sub.Active = false
	store.Update(ctx, sub)
	got, _ = store.Get(ctx, "wh_test1")
	if got.Active {
		t.Error("Expected inactive after update")
	}

	// Delete
	store.Delete(ctx, "wh_test1")
	_, err = store.Get(ctx, "wh_test1")
	if err == nil {
		t.Error("Expected error after delete")
	}
}

func TestMemoryStore_GetByEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "wh1", Events: []EventType{EventScoreUpdated}})
	store.Create(ctx, &Subscription{ID: "wh2", Events: []EventType{EventThresholdUpdated}})
	store.Create(ctx, &Subscription{ID: "wh3", Events: []EventType{EventScoreUpdated, EventScoreComputed}})

	subs, err := store.GetByEvent(ctx, EventScoreUpdated)
	if err != nil {
		t.Fatalf("GetByEvent failed: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("Expected 2 subscribers for score.updated, got %d", len(subs))
	}
}

// ---------------------------------------------------------------------------
// Subscription filtering
// ---------------------------------------------------------------------------

func TestSubscriptionWants(t *testing.T) {
	sub := &Subscription{
		Account: "0xAAAA000000000000000000000000000000000001",
		Events:  []EventType{EventScoreUpdated, EventThresholdUpdated},
	}

	matching := &Event{
		Type: EventScoreUpdated,
		Data: map[string]interface{}{"account": "0xaaaa000000000000000000000000000000000001"},
	}
	if !sub.wants(matching) {
		t.Error("Expected case-insensitive account match")
	}

	other := &Event{
		Type: EventScoreUpdated,
		Data: map[string]interface{}{"account": "0xbbbb000000000000000000000000000000000002"},
	}
	if sub.wants(other) {
		t.Error("Expected other account to be filtered out")
	}

	// Threshold changes have no account and reach scoped subscribers too.
	config := &Event{
		Type: EventThresholdUpdated,
		Data: map[string]interface{}{"previous": 50, "current": 80},
	}
	if !sub.wants(config) {
		t.Error("Expected configuration event to pass the account filter")
	}

	unsubscribed := &Event{Type: EventOracleUpdated, Data: map[string]interface{}{}}
	if sub.wants(unsubscribed) {
		t.Error("Expected unsubscribed event type to be filtered out")
	}
}

// ---------------------------------------------------------------------------
// Signing
// ---------------------------------------------------------------------------

func TestSign(t *testing.T) {
	d := NewDispatcher(NewMemoryStore())
	payload := []byte(`{"hello":"world"}`)
	secret := "test-secret"

	sig := d.sign(payload, secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if sig != expected {
		t.Errorf("Signature mismatch: got %s, want %s", sig, expected)
	}
}

func TestSign_DifferentSecrets(t *testing.T) {
	d := NewDispatcher(NewMemoryStore())
	payload := []byte(`{"hello":"world"}`)

	if d.sign(payload, "secret1") == d.sign(payload, "secret2") {
		t.Error("Different secrets should produce different signatures")
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func TestDispatch_SendsToSubscribers(t *testing.T) {
	received := make(chan *http.Request, 1)
	var body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body.Store(data)
		received <- r
	}))
	defer srv.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    srv.URL,
		Secret: "s3cret",
		Events: []EventType{EventScoreUpdated},
		Active: true,
	})

	d := newTestDispatcher(store)
	event := &Event{
		ID:        "evt_1",
		Type:      EventScoreUpdated,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"account": "0xaaaa000000000000000000000000000000000001",
			"score":   uint16(75),
		},
	}
	if err := d.Dispatch(ctx, event); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	req := waitFor(t, received)
	if req.Header.Get("X-TrustGrid-Event") != "score.updated" {
		t.Errorf("Expected event header, got %q", req.Header.Get("X-TrustGrid-Event"))
	}

	// Payload carries the event and a valid HMAC signature.
	payload := body.Load().([]byte)
	var got Event
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("Failed to parse payload: %v", err)
	}
	if got.ID != "evt_1" || got.Type != EventScoreUpdated {
		t.Errorf("Unexpected payload: %+v", got)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(payload)
	if req.Header.Get("X-TrustGrid-Signature") != hex.EncodeToString(mac.Sum(nil)) {
		t.Error("Signature does not verify against the payload")
	}
}

func TestDispatch_SkipsInactiveSubscribers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    srv.URL,
		Events: []EventType{EventScoreUpdated},
		Active: false,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventScoreUpdated, Data: map[string]interface{}{}})

	time.Sleep(100 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("Expected no deliveries to inactive subscriber, got %d", calls.Load())
	}
}

func TestDispatch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		close(done)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    srv.URL,
		Events: []EventType{EventScoreUpdated},
		Active: true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventScoreUpdated, Data: map[string]interface{}{}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not retried to success")
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}

	// Outcome recorded on the subscription.
	deadline := time.Now().Add(time.Second)
	for {
		sub, _ := store.Get(ctx, "wh1")
		if sub.LastSuccess != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("LastSuccess was not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDispatch_RejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	received := make(chan *http.Request, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		received <- r
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    srv.URL,
		Events: []EventType{EventScoreUpdated},
		Active: true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventScoreUpdated, Data: map[string]interface{}{}})

	waitFor(t, received)
	time.Sleep(100 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt after 400, got %d", calls.Load())
	}

	deadline := time.Now().Add(time.Second)
	for {
		sub, _ := store.Get(ctx, "wh1")
		if sub.LastError != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("LastError was not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDispatch_BreakerSkipsFailingEndpoint(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    srv.URL,
		Events: []EventType{EventScoreUpdated},
		Active: true,
	})

	d := newTestDispatcher(store)

	// Trip the breaker with failing deliveries, synchronously.
	for i := 0; i < 5; i++ {
		sub, _ := store.Get(ctx, "wh1")
		d.send(ctx, sub, &Event{Type: EventScoreUpdated, Data: map[string]interface{}{}})
	}
	tripped := calls.Load()
	if tripped != 5 {
		t.Fatalf("Expected 5 attempts before the breaker trips, got %d", tripped)
	}

	// Further sends are dropped without reaching the endpoint.
	sub, _ := store.Get(ctx, "wh1")
	d.send(ctx, sub, &Event{Type: EventScoreUpdated, Data: map[string]interface{}{}})
	if calls.Load() != tripped {
		t.Errorf("Expected open breaker to skip delivery, got %d calls", calls.Load())
	}
}
