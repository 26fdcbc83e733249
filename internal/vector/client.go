// Package vector is a thin Qdrant REST client covering the operations the
// knowledge base needs: collection bootstrap, upsert, retrieve, filtered
// search/scroll/count, and delete. Responses arrive in Qdrant's
// {result, status, time} envelope; only result is surfaced.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/atlasgtm/gtmbrain/internal/logging"
)

// ErrUnavailable marks failures of the store itself: connection refused,
// timeouts, 5xx responses. Callers treat these as retriable-later, as
// opposed to request errors which are the caller's fault.
var ErrUnavailable = errors.New("vector store unavailable")

const maxErrorBody = 1024

// Point is a stored vector with its payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload"`
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// SearchRequest parameterizes a semantic search within one collection.
type SearchRequest struct {
	Vector         []float32
	Limit          int
	Filter         Filter
	ScoreThreshold float64
}

// Store is the persistence surface the lifecycle and search layers depend
// on. *Client implements it against Qdrant; tests substitute in-memory
// fakes.
type Store interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Retrieve(ctx context.Context, collection string, ids []string) ([]Point, error)
	Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error)
	Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Point, error)
	Count(ctx context.Context, collection string, filter Filter) (int, error)
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error
	DeletePoints(ctx context.Context, collection string, ids []string) error
}

// Config holds connection settings for a Qdrant instance.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client talks to Qdrant over its REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logging.Logger
}

var _ Store = (*Client)(nil)

// New builds a Client. The URL is required; timeout defaults to 15s.
func New(cfg Config, log *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("qdrant url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		log:     log.With("component", "vector"),
	}, nil
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

// statusError is an HTTP-level failure from Qdrant, before envelope
// decoding. 5xx instances also match ErrUnavailable.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant status=%d body=%q", e.Code, e.Body)
}

func (e *statusError) Is(target error) bool {
	return target == ErrUnavailable && e.Code >= 500
}

// EnsureCollection creates the collection if it does not exist. Existing
// collections are left untouched regardless of their parameters.
func (c *Client) EnsureCollection(ctx context.Context, name string, dim int) error {
	err := c.doJSON(ctx, http.MethodGet, "/collections/"+name, nil, nil)
	if err == nil {
		return nil
	}
	var se *statusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	if err := c.doJSON(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
		return err
	}
	c.log.Info("collection created", "collection", name, "dim", dim)
	return nil
}

// Upsert writes points with wait=true so subsequent reads see them.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	raw := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("point id required")
		}
		raw = append(raw, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	req := map[string]any{"points": raw}
	return c.doJSON(ctx, http.MethodPut, c.path(collection, "/points?wait=true"), req, nil)
}

// Retrieve fetches points by ID. Missing IDs are simply absent from the
// result, not an error.
func (c *Client) Retrieve(ctx context.Context, collection string, ids []string) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	req := map[string]any{"ids": ids, "with_payload": true, "with_vector": false}
	var out []struct {
		ID      json.RawMessage `json:"id"`
		Payload map[string]any  `json:"payload"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.path(collection, "/points"), req, &out); err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(out))
	for _, r := range out {
		points = append(points, Point{ID: decodeID(r.ID), Payload: r.Payload})
	}
	return points, nil
}

// Search runs a filtered similarity search.
func (c *Client) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"vector":       req.Vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := req.Filter.asMap(); f != nil {
		body["filter"] = f
	}
	if req.ScoreThreshold > 0 {
		body["score_threshold"] = req.ScoreThreshold
	}
	var out []struct {
		ID      json.RawMessage `json:"id"`
		Score   float64         `json:"score"`
		Payload map[string]any  `json:"payload"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.path(collection, "/points/search"), body, &out); err != nil {
		return nil, err
	}
	hits := make([]ScoredPoint, 0, len(out))
	for _, r := range out {
		hits = append(hits, ScoredPoint{ID: decodeID(r.ID), Score: r.Score, Payload: r.Payload})
	}
	return hits, nil
}

// Scroll pages through points matching a filter, payloads only. A single
// page of up to limit points is returned; the knowledge base keeps
// collections small enough that one page suffices for listings.
func (c *Client) Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 100
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := filter.asMap(); f != nil {
		body["filter"] = f
	}
	var out struct {
		Points []struct {
			ID      json.RawMessage `json:"id"`
			Payload map[string]any  `json:"payload"`
		} `json:"points"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.path(collection, "/points/scroll"), body, &out); err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(out.Points))
	for _, r := range out.Points {
		points = append(points, Point{ID: decodeID(r.ID), Payload: r.Payload})
	}
	return points, nil
}

// Count returns the exact number of points matching a filter.
func (c *Client) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	body := map[string]any{"exact": true}
	if f := filter.asMap(); f != nil {
		body["filter"] = f
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.path(collection, "/points/count"), body, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// DeleteByFilter removes every point matching the filter. An empty filter
// is rejected rather than emptying the collection.
func (c *Client) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	f := filter.asMap()
	if f == nil {
		return fmt.Errorf("refusing unfiltered delete on %s", collection)
	}
	req := map[string]any{"filter": f}
	return c.doJSON(ctx, http.MethodPost, c.path(collection, "/points/delete?wait=true"), req, nil)
}

// DeletePoints removes points by ID.
func (c *Client) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	req := map[string]any{"points": ids}
	return c.doJSON(ctx, http.MethodPost, c.path(collection, "/points/delete?wait=true"), req, nil)
}

func (c *Client) path(collection, suffix string) string {
	return "/collections/" + collection + suffix
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{Code: resp.StatusCode, Body: truncate(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if msg := envelopeStatusError(env.Status); msg != "" {
		return fmt.Errorf("qdrant: %s", msg)
	}
	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: timeout: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// envelopeStatusError returns a message when the envelope status is not
// "ok". Qdrant encodes errors either as a bare string or {"error": "..."}.
func envelopeStatusError(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if strings.EqualFold(asString, "ok") {
			return ""
		}
		return asString
	}
	var asObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil && strings.TrimSpace(asObject.Error) != "" {
		return strings.TrimSpace(asObject.Error)
	}
	return "status=" + s
}

func decodeID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return fmt.Sprintf("%d", n)
	}
	return strings.Trim(string(raw), `"`)
}

func truncate(raw []byte) string {
	if len(raw) <= maxErrorBody {
		return string(raw)
	}
	return string(raw[:maxErrorBody]) + "..."
}
