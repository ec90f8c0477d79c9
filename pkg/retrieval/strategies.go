package retrieval

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ceterislabs/ceteris/pkg/ctxstore"
)

// scoreRelevance computes a candidate's context relevance under the given
// strategy. A nil context yields neutral relevance regardless of strategy.
// The weights mapping only applies to the WEIGHTED strategy.
func (r *Retriever) scoreRelevance(candidate Candidate, c *ctxstore.Context, strategy Strategy, weights map[Strategy]float64) float64 {
	if c == nil {
		return neutralRelevance
	}

	switch strategy {
	case StrategyExactMatch:
		return exactMatchRelevance(candidate, c)
	case StrategySemanticSimilarity:
		return semanticRelevance(candidate, c)
	case StrategyTemporalRecency:
		return temporalRelevance(candidate, c)
	case StrategyHierarchical:
		return r.hierarchicalRelevance(candidate, c)
	case StrategyCustom:
		return r.customRelevance(candidate, c)
	case StrategyWeighted:
		fallthrough
	default:
		return r.weightedRelevance(candidate, c, weights)
	}
}

// exactMatchRelevance counts context variables appearing inside the
// candidate's content. Mapping content earns 0.5 per key match, 0.5 per
// value match, and 1.0 for an exact key/value pair; string content earns
// 1.0 per variable value found as a substring. The total is normalized by
// the variable count plus one, which keeps the score strictly below 1.
func exactMatchRelevance(candidate Candidate, c *ctxstore.Context) float64 {
	if len(c.Variables) == 0 {
		return neutralRelevance
	}

	var score float64
	switch content := candidate.Content.(type) {
	case map[string]any:
		for name, v := range c.Variables {
			want := stringify(v.Value)
			if got, ok := content[name]; ok {
				if stringify(got) == want {
					score += 1.0
				} else {
					score += 0.5
				}
				continue
			}
			for _, got := range content {
				if stringify(got) == want {
					score += 0.5
					break
				}
			}
		}
	case string:
		for _, v := range c.Variables {
			if val := stringify(v.Value); val != "" && strings.Contains(content, val) {
				score += 1.0
			}
		}
	default:
		text := stringify(candidate.Content)
		for _, v := range c.Variables {
			if val := stringify(v.Value); val != "" && strings.Contains(text, val) {
				score += 1.0
			}
		}
	}

	return score / float64(len(c.Variables)+1)
}

// semanticRelevance averages the Jaccard similarity between the candidate's
// textual content and each variable's stringified value.
func semanticRelevance(candidate Candidate, c *ctxstore.Context) float64 {
	if len(c.Variables) == 0 {
		return neutralRelevance
	}

	text := tokenize(contentText(candidate.Content))
	var total float64
	for _, v := range c.Variables {
		total += jaccard(text, tokenize(stringify(v.Value)))
	}
	return total / float64(len(c.Variables))
}

// temporalRelevance applies exponential decay to the distance between the
// candidate timestamp and the context creation time, with a 24 hour
// half-life.
func temporalRelevance(candidate Candidate, c *ctxstore.Context) float64 {
	ts := candidate.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	deltaHours := math.Abs(ts.Sub(c.CreatedAt).Hours())
	return math.Exp2(-deltaHours / 24)
}

// hierarchicalRelevance walks the context's ancestor chain, scoring exact
// match at every level with a 0.8 per-level discount, and keeps the best.
func (r *Retriever) hierarchicalRelevance(candidate Candidate, c *ctxstore.Context) float64 {
	if r.contexts == nil {
		return neutralRelevance
	}
	chain := r.contexts.Hierarchy(c.ID)
	if len(chain) == 0 {
		return neutralRelevance
	}

	best := 0.0
	discount := 1.0
	for _, ancestor := range chain {
		if s := exactMatchRelevance(candidate, ancestor) * discount; s > best {
			best = s
		}
		discount *= 0.8
	}
	return best
}

// weightedRelevance combines the four base strategies with a normalized
// weighted sum. A zero total weight yields neutral relevance.
func (r *Retriever) weightedRelevance(candidate Candidate, c *ctxstore.Context, weights map[Strategy]float64) float64 {
	if weights == nil {
		weights = r.snapshotWeights()
	}

	var total, sum float64
	for strategy, weight := range weights {
		if weight == 0 {
			continue
		}
		var s float64
		switch strategy {
		case StrategyExactMatch:
			s = exactMatchRelevance(candidate, c)
		case StrategySemanticSimilarity:
			s = semanticRelevance(candidate, c)
		case StrategyTemporalRecency:
			s = temporalRelevance(candidate, c)
		case StrategyHierarchical:
			s = r.hierarchicalRelevance(candidate, c)
		default:
			continue
		}
		total += weight * s
		sum += weight
	}
	if sum == 0 {
		return neutralRelevance
	}
	return total / sum
}

// customRelevance averages all registered custom scoring functions.
func (r *Retriever) customRelevance(candidate Candidate, c *ctxstore.Context) float64 {
	r.mu.RLock()
	funcs := make([]ScoreFunc, 0, len(r.custom))
	for _, fn := range r.custom {
		funcs = append(funcs, fn)
	}
	r.mu.RUnlock()

	if len(funcs) == 0 {
		return neutralRelevance
	}

	var total float64
	for _, fn := range funcs {
		total += clamp01(fn(candidate, c))
	}
	return total / float64(len(funcs))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// stringify renders an arbitrary payload for matching heuristics.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

// contentText renders candidate content as free text. Mapping content is
// joined key by key in sorted order so the result is deterministic.
func contentText(content any) string {
	m, ok := content.(map[string]any)
	if !ok {
		return stringify(content)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(' ')
		b.WriteString(stringify(m[k]))
		b.WriteByte(' ')
	}
	return b.String()
}

// tokenize lowercases and splits on whitespace, returning a word set.
func tokenize(text string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		set[word] = true
	}
	return set
}

// jaccard computes |a∩b| / |a∪b|; two empty sets score zero.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for word := range a {
		if b[word] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
