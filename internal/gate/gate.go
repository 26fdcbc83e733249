// Package gate implements the insight quality gate: a confidence scorer,
// a duplicate detector, and a validation policy composed into a single
// ordered evaluation. The gate reads from the store for duplicate
// detection but never writes; persisting a passed insight is the
// caller's job.
package gate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/atlasgtm/gtmbrain/internal/brain"
	"github.com/atlasgtm/gtmbrain/internal/embed"
	"github.com/atlasgtm/gtmbrain/internal/logging"
	"github.com/atlasgtm/gtmbrain/internal/vector"
)

// Default thresholds. MinConfidence rejects outright; DuplicateSimilarity
// is the top-1 score at or above which an insight is a duplicate.
const (
	DefaultMinConfidence       = 0.70
	DefaultDuplicateSimilarity = 0.85

	MinContentLen = 10
	MaxContentLen = 5000
)

// Scoring weights. Confidence starts at the base and accumulates bonuses
// for provenance quality, capped at 1.0.
const (
	baseConfidence = 0.5
	quoteBonus     = 0.10
	companyBonus   = 0.10
)

// sourceTypeBonus rewards source types roughly by how hard they are to
// fake: transcripts beat emails beat LinkedIn beats manual entry.
// Unrecognized types score zero bonus rather than failing.
var sourceTypeBonus = map[brain.SourceType]float64{
	brain.SourceCallTranscript:  0.20,
	brain.SourceEmailReply:      0.10,
	brain.SourceLinkedInMessage: 0.05,
	brain.SourceManualEntry:     0.0,
}

// Score computes the confidence for an insight from its provenance,
// rounded to 2 decimals. Content is not inspected; only the source
// metadata drives the score.
func Score(source brain.Source) float64 {
	c := baseConfidence
	c += sourceTypeBonus[source.Type]
	if strings.TrimSpace(source.ExtractedQuote) != "" {
		c += quoteBonus
	}
	if strings.TrimSpace(source.CompanyName) != "" {
		c += companyBonus
	}
	if c > 1.0 {
		c = 1.0
	}
	return round2(c)
}

// RequiresValidation reports whether a passed insight needs human review
// before it can influence outbound behavior: high importance, a
// strategy-shaping category, or confidence under 0.80.
func RequiresValidation(category brain.Category, importance brain.Importance, confidence float64) bool {
	if importance == brain.ImportanceHigh {
		return true
	}
	if category == brain.CategoryBuyingProcess || category == brain.CategoryICPSignal {
		return true
	}
	return confidence < 0.80
}

// Outcome is the gate verdict.
type Outcome string

const (
	OutcomePassed    Outcome = "passed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDuplicate Outcome = "duplicate"
)

// Insight is the candidate under evaluation. Enums are already parsed;
// the gate validates only what it owns (content bounds).
type Insight struct {
	BrainID    string
	Content    string
	Category   brain.Category
	Importance brain.Importance
	Source     brain.Source
}

// Result is the gate verdict plus everything the caller needs to either
// report a rejection or persist a pass.
type Result struct {
	Outcome         Outcome
	Confidence      float64
	NeedsValidation bool
	Reason          string
	DuplicateID     string
	Similarity      float64
}

// Gate evaluates insights in a fixed order: content bounds, confidence
// floor, duplicate detection, validation policy. The confidence check
// runs before any embedding call, so cheap rejections cost nothing.
type Gate struct {
	embedder            embed.Embedder
	store               vector.Store
	minConfidence       float64
	duplicateSimilarity float64
	log                 *logging.Logger
}

// New builds a Gate with the default thresholds.
func New(embedder embed.Embedder, store vector.Store, log *logging.Logger) *Gate {
	return &Gate{
		embedder:            embedder,
		store:               store,
		minConfidence:       DefaultMinConfidence,
		duplicateSimilarity: DefaultDuplicateSimilarity,
		log:                 log.With("component", "gate"),
	}
}

// WithMinConfidence overrides the confidence floor, e.g. from a brain's
// configured quality_gate_threshold.
func (g *Gate) WithMinConfidence(threshold float64) *Gate {
	clone := *g
	clone.minConfidence = threshold
	return &clone
}

// Evaluate runs the quality gate. Errors are infrastructure failures
// (embedding or store); a rejected or duplicate insight is a successful
// evaluation with a non-passed outcome.
func (g *Gate) Evaluate(ctx context.Context, ins Insight) (Result, error) {
	if err := checkContent(ins.Content); err != nil {
		return Result{}, err
	}

	confidence := Score(ins.Source)
	if confidence < g.minConfidence {
		g.log.Info("insight rejected",
			"brain_id", ins.BrainID, "confidence", confidence, "threshold", g.minConfidence)
		return Result{
			Outcome:    OutcomeRejected,
			Confidence: confidence,
			Reason:     fmt.Sprintf("Confidence %.2f below threshold %.2f", confidence, g.minConfidence),
		}, nil
	}

	dupID, similarity, found, err := g.checkDuplicate(ctx, ins.BrainID, ins.Content)
	if err != nil {
		return Result{}, err
	}
	if found {
		g.log.Info("duplicate detected",
			"brain_id", ins.BrainID, "existing_id", dupID, "similarity", round3(similarity))
		return Result{
			Outcome:     OutcomeDuplicate,
			Confidence:  confidence,
			DuplicateID: dupID,
			Similarity:  round3(similarity),
			Reason:      fmt.Sprintf("Similar insight exists (ID: %s, similarity: %.3f)", dupID, similarity),
		}, nil
	}

	needsValidation := RequiresValidation(ins.Category, ins.Importance, confidence)
	g.log.Info("insight passed",
		"brain_id", ins.BrainID, "confidence", confidence, "needs_validation", needsValidation)
	return Result{
		Outcome:         OutcomePassed,
		Confidence:      confidence,
		NeedsValidation: needsValidation,
	}, nil
}

// checkDuplicate searches the brain's insights for the closest match and
// flags it when similarity reaches the threshold.
func (g *Gate) checkDuplicate(ctx context.Context, brainID, content string) (string, float64, bool, error) {
	vec, err := g.embedder.EmbedQuery(ctx, content)
	if err != nil {
		return "", 0, false, fmt.Errorf("embed for duplicate check: %w", err)
	}
	hits, err := g.store.Search(ctx, brain.CollectionInsights, vector.SearchRequest{
		Vector:         vec,
		Limit:          1,
		Filter:         vector.ByBrain(brainID),
		ScoreThreshold: g.duplicateSimilarity,
	})
	if err != nil {
		return "", 0, false, fmt.Errorf("duplicate search: %w", err)
	}
	if len(hits) == 0 {
		return "", 0, false, nil
	}
	return hits[0].ID, hits[0].Score, true, nil
}

func checkContent(content string) error {
	// Limits are in characters, not bytes: multibyte content counts by
	// code point.
	n := utf8.RuneCountInString(content)
	if n < MinContentLen {
		return fmt.Errorf("%w: insight content too short (minimum %d characters)", brain.ErrInvalidInput, MinContentLen)
	}
	if n > MaxContentLen {
		return fmt.Errorf("%w: insight content exceeds %d characters", brain.ErrInvalidInput, MaxContentLen)
	}
	return nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
