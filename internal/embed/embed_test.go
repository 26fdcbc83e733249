package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlasgtm/gtmbrain/internal/logging"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestClient(t *testing.T, handler http.Handler, retry RetryPolicy) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	retry.sleep = noSleep
	c, err := NewClient(Config{
		Endpoint: srv.URL,
		APIKey:   "test-key",
		Model:    "voyage-2",
		Retry:    retry,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func embedHandler(t *testing.T, wantInputType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if wantInputType != "" && req.InputType != wantInputType {
			t.Errorf("input_type = %q, want %q", req.InputType, wantInputType)
		}
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float32{float32(i), 1}, "index": i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}
}

func TestEmbedQuerySetsQueryInputType(t *testing.T) {
	c := newTestClient(t, embedHandler(t, "query"), RetryPolicy{MaxAttempts: 1})
	vec, err := c.EmbedQuery(context.Background(), "enterprise fintech")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("unexpected vector: %v", vec)
	}
}

func TestEmbedDocumentsSetsDocumentInputType(t *testing.T) {
	c := newTestClient(t, embedHandler(t, "document"), RetryPolicy{MaxAttempts: 1})
	vecs, err := c.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedDocuments: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	if vecs[2][0] != 2 {
		t.Fatalf("order not preserved: %v", vecs)
	}
}

func TestEmbedDocumentsSplitsBatches(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req apiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) > MaxBatchSize {
			t.Errorf("batch of %d exceeds cap", len(req.Input))
		}
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float32{1}, "index": i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}), RetryPolicy{MaxAttempts: 1})

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("doc %d", i)
	}
	vecs, err := c.EmbedDocuments(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedDocuments: %v", err)
	}
	if len(vecs) != 250 {
		t.Fatalf("expected 250 vectors, got %d", len(vecs))
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 batches, got %d", got)
	}
}

func TestRetryOn429ThenSuccess(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		embedHandler(t, "")(w, r)
	}), RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	if _, err := c.EmbedQuery(context.Background(), "q"); err != nil {
		t.Fatalf("expected recovery after 429s: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestRetryExhaustionIsRateLimited(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	_, err := c.EmbedQuery(context.Background(), "q")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestNon429FailsImmediately(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond})

	_, err := c.EmbedQuery(context.Background(), "q")
	if err == nil || errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected immediate non-retry failure, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestEmptyInputsRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}), RetryPolicy{MaxAttempts: 1})

	if _, err := c.EmbedQuery(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank query")
	}
	if _, err := c.EmbedDocuments(context.Background(), []string{"ok", ""}); err == nil {
		t.Fatal("expected error for blank document")
	}
	vecs, err := c.EmbedDocuments(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("nil input: got %v, %v", vecs, err)
	}
}

func TestDelayHonorsRetryAfterAndCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 6, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	if d := p.delay(0, 3*time.Second); d != 3*time.Second {
		t.Fatalf("Retry-After ignored: %v", d)
	}
	if d := p.delay(0, time.Hour); d != 10*time.Second {
		t.Fatalf("Retry-After not capped: %v", d)
	}
	for i := 0; i < 20; i++ {
		if d := p.delay(5, 0); d > 10*time.Second {
			t.Fatalf("jittered backoff exceeds cap: %v", d)
		}
	}
}
