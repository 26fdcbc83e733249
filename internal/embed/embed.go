// Package embed provides text-to-vector embedding via a Voyage-compatible
// HTTP API. Queries and documents are embedded asymmetrically: the
// input_type field tells the provider which side of the similarity
// comparison the text sits on.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atlasgtm/gtmbrain/internal/logging"
)

// MaxBatchSize is the provider's per-request input cap. EmbedDocuments
// splits larger inputs transparently.
const MaxBatchSize = 100

// ErrRateLimited marks a 429 that survived every retry. By the time it
// surfaces, nothing has been written to the store of record.
var ErrRateLimited = errors.New("embedding provider rate limited")

// InputType tells the provider whether text is a search query or a stored
// document. Mixing them up degrades retrieval quality silently, so the
// two entry points take no input_type parameter at all.
type InputType string

const (
	InputQuery    InputType = "query"
	InputDocument InputType = "document"
)

// Embedder is the embedding surface the gate, lifecycle, and search
// layers depend on. Tests substitute deterministic fakes.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// RetryPolicy controls how transient embedding failures are retried.
// Only 429 responses are retried; other failures surface immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the provider's guidance: up to 6 attempts,
// exponential backoff with full jitter, capped at 60s per wait.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// delay computes the wait before the next attempt, honoring a
// server-provided Retry-After when present.
func (p RetryPolicy) delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > p.MaxDelay {
			return p.MaxDelay
		}
		return retryAfter
	}
	backoff := p.BaseDelay * time.Duration(1<<attempt)
	if backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}
	// Full jitter: anywhere in [0, backoff].
	return time.Duration(rand.Int63n(int64(backoff) + 1))
}

func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Config holds embedding provider settings.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
	Retry    RetryPolicy
}

// Client implements Embedder against a Voyage-style /v1/embeddings API.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logging.Logger
}

var _ Embedder = (*Client)(nil)

// NewClient validates the config and builds a Client.
func NewClient(cfg Config, log *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("embedding endpoint required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("embedding model required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With("component", "embed"),
	}, nil
}

// EmbedQuery embeds a single search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty query text")
	}
	vecs, err := c.embed(ctx, []string{text}, InputQuery)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedDocuments embeds stored content, splitting into batches of at most
// MaxBatchSize. Results are returned in input order.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("empty document text at index %d", i)
		}
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embed(ctx, texts[start:end], InputDocument)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type apiRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type apiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// httpError carries the status and Retry-After of a failed attempt.
type httpError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *httpError) Error() string {
	return fmt.Sprintf("embedding API status=%d: %s", e.status, e.body)
}

func (c *Client) embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.Retry.MaxAttempts; attempt++ {
		vecs, err := c.attempt(ctx, texts, inputType)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		var he *httpError
		if !errors.As(err, &he) || he.status != http.StatusTooManyRequests {
			return nil, err
		}
		if attempt == c.cfg.Retry.MaxAttempts-1 {
			break
		}
		d := c.cfg.Retry.delay(attempt, he.retryAfter)
		c.log.Warn("rate limited, backing off",
			"attempt", attempt+1, "delay", d.String(), "batch", len(texts))
		if err := c.cfg.Retry.wait(ctx, d); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRateLimited, c.cfg.Retry.MaxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	body, err := json.Marshal(apiRequest{Input: texts, Model: c.cfg.Model, InputType: string(inputType)})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if h := resp.Header.Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &httpError{status: resp.StatusCode, body: truncate(raw), retryAfter: retryAfter}
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func truncate(raw []byte) string {
	const max = 512
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
