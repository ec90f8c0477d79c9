// Package retrieval implements context-aware retrieval over a knowledge
// store collaborator. Candidates are fetched by query shape, scored for
// context relevance under a selectable strategy, filtered, and ranked by
// confidence times relevance.
package retrieval

import (
	"context"
	"time"

	"github.com/ceterislabs/ceteris/pkg/ctxstore"
)

// Strategy selects how a candidate's context relevance is computed.
type Strategy string

const (
	StrategyExactMatch         Strategy = "exact_match"
	StrategySemanticSimilarity Strategy = "semantic_similarity"
	StrategyTemporalRecency    Strategy = "temporal_recency"
	StrategyHierarchical       Strategy = "hierarchical"
	StrategyWeighted           Strategy = "weighted"
	StrategyCustom             Strategy = "custom"
)

// neutralRelevance is the score assigned when no context signal is
// available: missing context, empty variable set, or empty hierarchy.
const neutralRelevance = 0.5

// Candidate is a raw retrieval candidate produced by the knowledge store
// before relevance scoring. Content is either a string or a mapping.
type Candidate struct {
	Content    any            `json:"content"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Result is a scored retrieval result.
type Result struct {
	Content    any            `json:"content"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
	Relevance  float64        `json:"relevance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Score is the overall ranking score, recomputed rather than stored.
func (r Result) Score() float64 {
	return r.Confidence * r.Relevance
}

// ScoreFunc is a caller-supplied relevance function used by the CUSTOM
// strategy. It must return a value in [0,1]; out-of-range values are
// clamped. The context may be nil.
type ScoreFunc func(candidate Candidate, c *ctxstore.Context) float64

// Relation is a single relation instance held by the knowledge store.
type Relation struct {
	Source     string         `json:"source"`
	Type       string         `json:"type"`
	Target     string         `json:"target"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// KnowledgeStore is the collaborator contract the retriever consumes for
// raw candidate retrieval. Implementations may perform I/O; the retriever
// treats each call as an opaque synchronous call.
type KnowledgeStore interface {
	GetEntityProperties(ctx context.Context, entityID string) (map[string]any, error)
	GetEntityRelations(ctx context.Context, entityID string) ([]Relation, error)
	GetRelationsFrom(ctx context.Context, source, relType string) ([]Relation, error)
	GetRelation(ctx context.Context, source, relType, target string) ([]Relation, error)
	Query(ctx context.Context, query map[string]any, filters map[string]any) ([]Candidate, error)
	SearchText(ctx context.Context, text string, filters map[string]any) ([]Candidate, error)
}

// Cache is the optional result cache collaborator. Failures are swallowed
// by the retriever and degrade to the uncached path.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Options carries the per-call retrieval parameters.
type Options struct {
	// ContextID scopes relevance scoring. Empty selects the active context;
	// retrieval without any context falls back to neutral relevance.
	ContextID string

	// Strategy defaults to StrategyWeighted when empty.
	Strategy Strategy

	// MaxResults truncates the ranked result list. Defaults to 10.
	MaxResults int

	MinConfidence float64
	MinRelevance  float64

	// Filters are passed through to the knowledge store.
	Filters map[string]any
}

// DefaultWeights returns the default weight mapping for the WEIGHTED
// strategy.
func DefaultWeights() map[Strategy]float64 {
	return map[Strategy]float64{
		StrategyExactMatch:         1.0,
		StrategySemanticSimilarity: 0.8,
		StrategyTemporalRecency:    0.6,
		StrategyHierarchical:       0.7,
	}
}
