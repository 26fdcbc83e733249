package vector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/atlasgtm/gtmbrain/internal/logging"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func okEnvelope(result any) []byte {
	b, _ := json.Marshal(map[string]any{"result": result, "status": "ok", "time": 0.001})
	return b
}

func TestSearchDecodesEnvelope(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/icp_rules/points/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["filter"] == nil {
			t.Error("expected filter in search request")
		}
		w.Write(okEnvelope([]map[string]any{
			{"id": "aaaa", "score": 0.91, "payload": map[string]any{"brain_id": "brain_x_1", "name": "r1"}},
			{"id": "bbbb", "score": 0.72, "payload": map[string]any{"brain_id": "brain_x_1", "name": "r2"}},
		}))
	}))

	hits, err := c.Search(context.Background(), "icp_rules", SearchRequest{
		Vector: []float32{0.1, 0.2},
		Limit:  5,
		Filter: ByBrain("brain_x_1"),
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "aaaa" || hits[0].Score != 0.91 {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if hits[1].Payload["name"] != "r2" {
		t.Fatalf("payload lost: %+v", hits[1])
	}
}

func TestSearchRequiresVector(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	if _, err := c.Search(context.Background(), "icp_rules", SearchRequest{}); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	err := c.Upsert(context.Background(), "brains", []Point{{ID: "p1", Vector: []float32{1}}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, err := New(Config{URL: url}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Count(context.Background(), "brains", Filter{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientErrorIsNotUnavailable(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"bad vector"}}`, http.StatusBadRequest)
	}))
	err := c.Upsert(context.Background(), "brains", []Point{{ID: "p1", Vector: []float32{1}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("4xx misclassified as unavailable: %v", err)
	}
}

func TestEnvelopeStatusErrorSurfaced(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": null, "status": {"error": "collection not found"}, "time": 0}`))
	}))
	_, err := c.Scroll(context.Background(), "missing", Filter{}, 10)
	if err == nil || !strings.Contains(err.Error(), "collection not found") {
		t.Fatalf("expected envelope error, got %v", err)
	}
}

func TestEnsureCollectionCreatesOnlyWhenMissing(t *testing.T) {
	var created bool
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/brains":
			http.Error(w, `{"status":{"error":"not found"}}`, http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/brains":
			created = true
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			vectors := body["vectors"].(map[string]any)
			if vectors["size"].(float64) != 1024 {
				t.Errorf("unexpected dim: %v", vectors["size"])
			}
			w.Write(okEnvelope(true))
		case r.Method == http.MethodGet && r.URL.Path == "/collections/icp_rules":
			w.Write(okEnvelope(map[string]any{"status": "green"}))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))

	if err := c.EnsureCollection(context.Background(), "brains", 1024); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if !created {
		t.Fatal("missing collection was not created")
	}
	if err := c.EnsureCollection(context.Background(), "icp_rules", 1024); err != nil {
		t.Fatalf("EnsureCollection existing: %v", err)
	}
}

func TestDeleteByFilterRefusesEmptyFilter(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	if err := c.DeleteByFilter(context.Background(), "insights", Filter{}); err == nil {
		t.Fatal("expected refusal of unfiltered delete")
	}
}

func TestCountAndScroll(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/insights/points/count":
			w.Write(okEnvelope(map[string]any{"count": 7}))
		case "/collections/insights/points/scroll":
			w.Write(okEnvelope(map[string]any{
				"points": []map[string]any{
					{"id": 12345, "payload": map[string]any{"text": "t"}},
				},
				"next_page_offset": nil,
			}))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	n, err := c.Count(context.Background(), "insights", ByBrain("brain_x_1"))
	if err != nil || n != 7 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	points, err := c.Scroll(context.Background(), "insights", ByBrain("brain_x_1"), 10)
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(points) != 1 || points[0].ID != "12345" {
		t.Fatalf("unexpected points: %+v", points)
	}
}

func TestFilterRendering(t *testing.T) {
	f := ByBrain("brain_x_1").And("category", "firmographic")
	m := f.asMap()
	must := m["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(must))
	}
	first := must[0].(map[string]any)
	if first["key"] != "brain_id" {
		t.Fatalf("brain_id condition missing: %v", first)
	}
	if (Filter{}).asMap() != nil {
		t.Fatal("empty filter should render as nil")
	}
}
