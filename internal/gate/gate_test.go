package gate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/atlasgtm/gtmbrain/internal/brain"
	"github.com/atlasgtm/gtmbrain/internal/logging"
	"github.com/atlasgtm/gtmbrain/internal/vector"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// fakeStore implements only Search; the gate never touches anything else.
type fakeStore struct {
	vector.Store
	hits    []vector.ScoredPoint
	lastReq vector.SearchRequest
	err     error
}

func (f *fakeStore) Search(ctx context.Context, collection string, req vector.SearchRequest) ([]vector.ScoredPoint, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func highQualitySource() brain.Source {
	return brain.Source{
		Type:           brain.SourceCallTranscript,
		ID:             "call_123",
		CompanyName:    "Acme Corp",
		ExtractedQuote: "we need SOC2 by Q3",
	}
}

func TestScore(t *testing.T) {
	cases := []struct {
		name   string
		source brain.Source
		want   float64
	}{
		{"manual entry bare", brain.Source{Type: brain.SourceManualEntry, ID: "m1"}, 0.50},
		{"linkedin bare", brain.Source{Type: brain.SourceLinkedInMessage, ID: "l1"}, 0.55},
		{"email bare", brain.Source{Type: brain.SourceEmailReply, ID: "e1"}, 0.60},
		{"call bare", brain.Source{Type: brain.SourceCallTranscript, ID: "c1"}, 0.70},
		{"call with quote", brain.Source{Type: brain.SourceCallTranscript, ID: "c1", ExtractedQuote: "q"}, 0.80},
		{"call with quote and company", highQualitySource(), 0.90},
		{"unknown type", brain.Source{Type: "webhook", ID: "w1"}, 0.50},
		{"email with quote and company", brain.Source{Type: brain.SourceEmailReply, ID: "e1", ExtractedQuote: "q", CompanyName: "Acme"}, 0.80},
	}
	for _, c := range cases {
		if got := Score(c.source); got != c.want {
			t.Errorf("%s: Score = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestRequiresValidation(t *testing.T) {
	cases := []struct {
		name       string
		category   brain.Category
		importance brain.Importance
		confidence float64
		want       bool
	}{
		{"high importance", brain.CategoryPainPoint, brain.ImportanceHigh, 0.95, true},
		{"buying process", brain.CategoryBuyingProcess, brain.ImportanceLow, 0.95, true},
		{"icp signal", brain.CategoryICPSignal, brain.ImportanceLow, 0.95, true},
		{"low confidence", brain.CategoryPainPoint, brain.ImportanceMedium, 0.79, true},
		{"boundary confidence", brain.CategoryPainPoint, brain.ImportanceMedium, 0.80, false},
		{"clean pass", brain.CategoryObjection, brain.ImportanceLow, 0.90, false},
	}
	for _, c := range cases {
		if got := RequiresValidation(c.category, c.importance, c.confidence); got != c.want {
			t.Errorf("%s: RequiresValidation = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestEvaluateRejectsBelowFloorWithoutEmbedding(t *testing.T) {
	emb := &fakeEmbedder{}
	g := New(emb, &fakeStore{}, logging.NewNop())

	res, err := g.Evaluate(context.Background(), Insight{
		BrainID:    "brain_fintech_1",
		Content:    "prospects keep mentioning budget freezes",
		Category:   brain.CategoryPainPoint,
		Importance: brain.ImportanceMedium,
		Source:     brain.Source{Type: brain.SourceManualEntry, ID: "m1"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %s, want rejected", res.Outcome)
	}
	if res.Confidence != 0.50 {
		t.Fatalf("confidence = %v", res.Confidence)
	}
	if !strings.Contains(res.Reason, "below threshold") {
		t.Fatalf("reason = %q", res.Reason)
	}
	if emb.calls != 0 {
		t.Fatalf("embedder called %d times on cheap rejection", emb.calls)
	}
}

func TestEvaluateDuplicate(t *testing.T) {
	store := &fakeStore{hits: []vector.ScoredPoint{{ID: "existing-id", Score: 0.9234}}}
	g := New(&fakeEmbedder{}, store, logging.NewNop())

	res, err := g.Evaluate(context.Background(), Insight{
		BrainID:    "brain_fintech_1",
		Content:    "prospects keep mentioning budget freezes",
		Category:   brain.CategoryPainPoint,
		Importance: brain.ImportanceMedium,
		Source:     highQualitySource(),
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %s, want duplicate", res.Outcome)
	}
	if res.DuplicateID != "existing-id" || res.Similarity != 0.923 {
		t.Fatalf("unexpected duplicate result: %+v", res)
	}
	if store.lastReq.Limit != 1 || store.lastReq.ScoreThreshold != DefaultDuplicateSimilarity {
		t.Fatalf("duplicate search not top-1 thresholded: %+v", store.lastReq)
	}
	if len(store.lastReq.Filter.Must) != 1 || store.lastReq.Filter.Must[0].Field != "brain_id" {
		t.Fatalf("duplicate search not brain-scoped: %+v", store.lastReq.Filter)
	}
}

func TestEvaluatePassed(t *testing.T) {
	g := New(&fakeEmbedder{}, &fakeStore{}, logging.NewNop())

	res, err := g.Evaluate(context.Background(), Insight{
		BrainID:    "brain_fintech_1",
		Content:    "security reviews add 3 weeks to every deal",
		Category:   brain.CategoryObjection,
		Importance: brain.ImportanceMedium,
		Source:     highQualitySource(),
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Outcome != OutcomePassed {
		t.Fatalf("outcome = %s, want passed", res.Outcome)
	}
	if res.Confidence != 0.90 {
		t.Fatalf("confidence = %v", res.Confidence)
	}
	if res.NeedsValidation {
		t.Fatal("0.90 objection/medium should not need validation")
	}
}

func TestEvaluatePassedFlagsValidation(t *testing.T) {
	g := New(&fakeEmbedder{}, &fakeStore{}, logging.NewNop())

	res, err := g.Evaluate(context.Background(), Insight{
		BrainID:    "brain_fintech_1",
		Content:    "champions route deals through procurement first",
		Category:   brain.CategoryBuyingProcess,
		Importance: brain.ImportanceMedium,
		Source:     highQualitySource(),
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Outcome != OutcomePassed || !res.NeedsValidation {
		t.Fatalf("buying_process pass should need validation: %+v", res)
	}
}

func TestEvaluateContentBounds(t *testing.T) {
	g := New(&fakeEmbedder{}, &fakeStore{}, logging.NewNop())

	_, err := g.Evaluate(context.Background(), Insight{Content: "too short"})
	if !errors.Is(err, brain.ErrInvalidInput) {
		t.Fatalf("short content: %v", err)
	}
	_, err = g.Evaluate(context.Background(), Insight{Content: strings.Repeat("x", MaxContentLen+1)})
	if !errors.Is(err, brain.ErrInvalidInput) {
		t.Fatalf("long content: %v", err)
	}
}

func TestEvaluateContentBoundsCountCharacters(t *testing.T) {
	g := New(&fakeEmbedder{}, &fakeStore{}, logging.NewNop())

	// 4 characters but 12 bytes: still below the 10-character minimum.
	_, err := g.Evaluate(context.Background(), Insight{Content: strings.Repeat("寿", 4)})
	if !errors.Is(err, brain.ErrInvalidInput) {
		t.Fatalf("multibyte short content: %v", err)
	}

	// 2000 characters but 6000 bytes: within the 5000-character maximum.
	res, err := g.Evaluate(context.Background(), Insight{
		BrainID:    "brain_fintech_1",
		Content:    strings.Repeat("寿", 2000),
		Category:   brain.CategoryObjection,
		Importance: brain.ImportanceLow,
		Source:     highQualitySource(),
	})
	if err != nil {
		t.Fatalf("multibyte content within bounds: %v", err)
	}
	if res.Outcome != OutcomePassed {
		t.Fatalf("outcome: %v", res.Outcome)
	}
}

func TestEvaluateSurfacesInfrastructureErrors(t *testing.T) {
	boom := errors.New("store down")
	g := New(&fakeEmbedder{}, &fakeStore{err: boom}, logging.NewNop())

	_, err := g.Evaluate(context.Background(), Insight{
		BrainID:    "brain_fintech_1",
		Content:    "a perfectly valid insight about the market",
		Category:   brain.CategoryObjection,
		Importance: brain.ImportanceLow,
		Source:     highQualitySource(),
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error surfaced, got %v", err)
	}
}

func TestWithMinConfidence(t *testing.T) {
	g := New(&fakeEmbedder{}, &fakeStore{}, logging.NewNop()).WithMinConfidence(0.95)

	res, err := g.Evaluate(context.Background(), Insight{
		BrainID:    "brain_fintech_1",
		Content:    "a perfectly valid insight about the market",
		Category:   brain.CategoryObjection,
		Importance: brain.ImportanceLow,
		Source:     highQualitySource(),
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Outcome != OutcomeRejected {
		t.Fatalf("raised floor should reject 0.90: %+v", res)
	}
}
