package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ceterislabs/ceteris/pkg/ctxstore"
)

// ErrUnsupportedQuery is returned for query payloads the retriever cannot
// dispatch to any knowledge-store path.
var ErrUnsupportedQuery = errors.New("unsupported query shape")

const (
	defaultMaxResults = 10
	defaultCacheTTL   = 5 * time.Minute
)

// Config carries retriever construction options.
type Config struct {
	// Cache is optional; nil disables result caching.
	Cache Cache

	// CacheTTL defaults to 5 minutes.
	CacheTTL time.Duration

	// Weights overrides the default WEIGHTED strategy weights.
	Weights map[Strategy]float64

	// MinRelevance is the base relevance threshold scaled by
	// RetrieveWithSensitivity.
	MinRelevance float64
}

// Retriever scores knowledge-store candidates for context relevance.
type Retriever struct {
	kb       KnowledgeStore
	contexts *ctxstore.Store
	cache    Cache
	cacheTTL time.Duration

	minRelevance float64

	mu      sync.RWMutex
	weights map[Strategy]float64
	custom  map[string]ScoreFunc
}

// New creates a retriever over the given knowledge store and context store.
// The context store may be nil, in which case every strategy falls back to
// neutral relevance.
func New(kb KnowledgeStore, contexts *ctxstore.Store, cfg Config) *Retriever {
	weights := cfg.Weights
	if weights == nil {
		weights = DefaultWeights()
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &Retriever{
		kb:           kb,
		contexts:     contexts,
		cache:        cfg.Cache,
		cacheTTL:     ttl,
		minRelevance: cfg.MinRelevance,
		weights:      weights,
		custom:       make(map[string]ScoreFunc),
	}
}

// RegisterRelevanceFunc adds or overwrites a named scoring function used by
// the CUSTOM strategy.
func (r *Retriever) RegisterRelevanceFunc(name string, fn ScoreFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[name] = fn
}

// SetWeight adjusts one WEIGHTED strategy weight.
func (r *Retriever) SetWeight(strategy Strategy, weight float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weights[strategy] = weight
}

func (r *Retriever) snapshotWeights() map[Strategy]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[Strategy]float64, len(r.weights))
	for k, v := range r.weights {
		cp[k] = v
	}
	return cp
}

// Retrieve runs the full retrieval pipeline: cache lookup, candidate fetch
// dispatched by query shape, relevance scoring, threshold filtering, and
// ranking by overall score. The query is a free-text string, an "entity:ID"
// or "relation:SRC:TYPE[:TGT]" reference, or a structured key/value mapping.
func (r *Retriever) Retrieve(ctx context.Context, query any, opts Options) ([]Result, error) {
	return r.retrieve(ctx, query, opts, nil)
}

func (r *Retriever) retrieve(ctx context.Context, query any, opts Options, weights map[Strategy]float64) ([]Result, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyWeighted
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}

	scope, err := r.resolveContext(opts.ContextID)
	if err != nil {
		return nil, err
	}

	key := cacheKey(query, scope, opts)
	if cached, ok := r.cacheGet(ctx, key); ok {
		return cached, nil
	}

	candidates, err := r.fetchCandidates(ctx, query, opts.Filters)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, candidate := range candidates {
		relevance := r.scoreRelevance(candidate, scope, opts.Strategy, weights)
		if candidate.Confidence < opts.MinConfidence || relevance < opts.MinRelevance {
			continue
		}
		results = append(results, Result{
			Content:    candidate.Content,
			Source:     candidate.Source,
			Confidence: candidate.Confidence,
			Relevance:  relevance,
			Metadata:   candidate.Metadata,
			Timestamp:  candidate.Timestamp,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score() > results[j].Score()
	})
	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}

	r.cacheSet(ctx, key, results)
	return results, nil
}

// ResolveAmbiguity retrieves a widened candidate pool, groups it by derived
// category, keeps the best-scoring candidate per group, and returns the top
// groups. Useful when a query matches several distinct kinds of answer.
func (r *Retriever) ResolveAmbiguity(ctx context.Context, query any, contextID string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 1
	}

	pool, err := r.Retrieve(ctx, query, Options{
		ContextID:  contextID,
		Strategy:   StrategyWeighted,
		MaxResults: maxResults * 5,
	})
	if err != nil {
		return nil, err
	}

	best := make(map[string]Result)
	order := make([]string, 0)
	for _, result := range pool {
		category := categorize(result.Content)
		current, seen := best[category]
		if !seen {
			order = append(order, category)
		}
		if !seen || result.Score() > current.Score() {
			best[category] = result
		}
	}

	grouped := make([]Result, 0, len(order))
	for _, category := range order {
		grouped = append(grouped, best[category])
	}
	sort.SliceStable(grouped, func(i, j int) bool {
		return grouped[i].Score() > grouped[j].Score()
	})
	if len(grouped) > maxResults {
		grouped = grouped[:maxResults]
	}
	return grouped, nil
}

// RetrieveWithSensitivity scales every relevance weight and the base
// minimum-relevance threshold by the given sensitivity, clamped to [0,1],
// before delegating to Retrieve. Zero sensitivity ignores context entirely;
// one applies full contextual weighting.
func (r *Retriever) RetrieveWithSensitivity(ctx context.Context, query any, contextID string, sensitivity float64) ([]Result, error) {
	sensitivity = clamp01(sensitivity)

	scaled := r.snapshotWeights()
	for strategy, weight := range scaled {
		scaled[strategy] = weight * sensitivity
	}

	return r.retrieve(ctx, query, Options{
		ContextID:    contextID,
		Strategy:     StrategyWeighted,
		MinRelevance: r.minRelevance * sensitivity,
	}, scaled)
}

// resolveContext maps an optional context id to a context record. An
// explicit unknown id is an error; no id and no active context degrades to
// nil, which scores every candidate at neutral relevance.
func (r *Retriever) resolveContext(contextID string) (*ctxstore.Context, error) {
	if r.contexts == nil {
		return nil, nil
	}
	if contextID != "" {
		return r.contexts.Get(contextID)
	}
	c, _ := r.contexts.Active()
	return c, nil
}

// fetchCandidates dispatches the query to the knowledge store by shape.
func (r *Retriever) fetchCandidates(ctx context.Context, query any, filters map[string]any) ([]Candidate, error) {
	switch q := query.(type) {
	case map[string]any:
		return r.kb.Query(ctx, q, filters)
	case string:
		if id, ok := strings.CutPrefix(q, "entity:"); ok {
			return r.entityCandidates(ctx, id)
		}
		if ref, ok := strings.CutPrefix(q, "relation:"); ok {
			return r.relationCandidates(ctx, ref)
		}
		return r.kb.SearchText(ctx, q, filters)
	case nil:
		return nil, fmt.Errorf("%w: nil query", ErrUnsupportedQuery)
	default:
		return r.kb.SearchText(ctx, stringify(query), filters)
	}
}

// entityCandidates assembles one candidate from an entity's properties and
// relations.
func (r *Retriever) entityCandidates(ctx context.Context, entityID string) ([]Candidate, error) {
	properties, err := r.kb.GetEntityProperties(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("entity properties %q: %w", entityID, err)
	}
	relations, err := r.kb.GetEntityRelations(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("entity relations %q: %w", entityID, err)
	}

	content := map[string]any{
		"type": "entity",
		"id":   entityID,
	}
	for name, value := range properties {
		content[name] = value
	}
	if len(relations) > 0 {
		rels := make([]any, 0, len(relations))
		for _, rel := range relations {
			rels = append(rels, map[string]any{
				"source":   rel.Source,
				"relation": rel.Type,
				"target":   rel.Target,
			})
		}
		content["relations"] = rels
	}

	return []Candidate{{
		Content:    content,
		Source:     "knowledge_store",
		Confidence: 1.0,
		Timestamp:  time.Now().UTC(),
	}}, nil
}

// relationCandidates parses "SRC:TYPE" or "SRC:TYPE:TGT" references and
// produces one candidate per matching relation instance.
func (r *Retriever) relationCandidates(ctx context.Context, ref string) ([]Candidate, error) {
	parts := strings.SplitN(ref, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: relation reference %q", ErrUnsupportedQuery, ref)
	}

	var relations []Relation
	var err error
	if len(parts) == 3 && parts[2] != "" {
		relations, err = r.kb.GetRelation(ctx, parts[0], parts[1], parts[2])
	} else {
		relations, err = r.kb.GetRelationsFrom(ctx, parts[0], parts[1])
	}
	if err != nil {
		return nil, fmt.Errorf("relations %q: %w", ref, err)
	}

	candidates := make([]Candidate, 0, len(relations))
	for _, rel := range relations {
		confidence := rel.Confidence
		if confidence == 0 {
			confidence = 1.0
		}
		candidates = append(candidates, Candidate{
			Content: map[string]any{
				"type":     "relation",
				"source":   rel.Source,
				"relation": rel.Type,
				"target":   rel.Target,
			},
			Source:     "knowledge_store",
			Confidence: confidence,
			Metadata:   rel.Metadata,
			Timestamp:  rel.CreatedAt,
		})
	}
	return candidates, nil
}

// categorize derives an ambiguity-resolution group for a result: an
// explicit "type" field, an entity tag, the first mapping key, or the first
// word of string content.
func categorize(content any) string {
	switch c := content.(type) {
	case map[string]any:
		if t, ok := c["type"].(string); ok && t != "" {
			return t
		}
		if id, ok := c["id"]; ok {
			return "entity:" + stringify(id)
		}
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		if len(keys) == 0 {
			return "unknown"
		}
		sort.Strings(keys)
		return keys[0]
	case string:
		fields := strings.Fields(c)
		if len(fields) == 0 {
			return "unknown"
		}
		return fields[0]
	default:
		return "unknown"
	}
}

// cacheKey derives a stable key from the query text, resolved context,
// strategy, and filters.
func cacheKey(query any, scope *ctxstore.Context, opts Options) string {
	contextID := ""
	if scope != nil {
		contextID = scope.ID
	}
	filters, _ := json.Marshal(opts.Filters)
	payload := fmt.Sprintf("%s|%s|%s|%s", queryText(query), contextID, opts.Strategy, filters)
	sum := sha256.Sum256([]byte(payload))
	return "retrieval:" + hex.EncodeToString(sum[:16])
}

// queryText renders a query payload in a canonical textual form.
func queryText(query any) string {
	if m, ok := query.(map[string]any); ok {
		if encoded, err := json.Marshal(m); err == nil {
			return string(encoded)
		}
	}
	return stringify(query)
}

func (r *Retriever) cacheGet(ctx context.Context, key string) ([]Result, bool) {
	if r.cache == nil {
		return nil, false
	}
	value, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		slog.Debug("retrieval cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	results, ok := value.([]Result)
	return results, ok
}

func (r *Retriever) cacheSet(ctx context.Context, key string, results []Result) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, results, r.cacheTTL); err != nil {
		slog.Debug("retrieval cache set failed", "key", key, "error", err)
	}
}
