package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ceterislabs/ceteris/pkg/ctxstore"
	"github.com/ceterislabs/ceteris/pkg/retrieval"
)

const scoreTimeout = 10 * time.Second

// NewRelevanceFunc builds a relevance scorer that compares a candidate's
// textual content against the active context's variables in embedding space.
// It is meant to be registered with a retriever under the custom strategy.
// Any embedding failure falls back to a neutral 0.5 score.
func NewRelevanceFunc(embedder Embedder) retrieval.ScoreFunc {
	return func(candidate retrieval.Candidate, active *ctxstore.Context) float64 {
		contextText := contextText(active)
		if contextText == "" {
			return 0.5
		}

		ctx, cancel := context.WithTimeout(context.Background(), scoreTimeout)
		defer cancel()

		vectors, err := embedder.EmbedBatch(ctx, []string{candidateText(candidate), contextText})
		if err != nil {
			slog.Debug("embedding relevance fallback", "error", err)
			return 0.5
		}

		score := float64(CosineSimilarity(vectors[0], vectors[1]))
		if score < 0 {
			return 0
		}
		if score > 1 {
			return 1
		}
		return score
	}
}

func candidateText(candidate retrieval.Candidate) string {
	switch content := candidate.Content.(type) {
	case string:
		return content
	case map[string]any:
		keys := make([]string, 0, len(content))
		for k := range content {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s %v", k, content[k]))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v", content)
	}
}

func contextText(active *ctxstore.Context) string {
	if active == nil || len(active.Variables) == 0 {
		return ""
	}
	names := make([]string, 0, len(active.Variables))
	for name := range active.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %v", name, active.Variables[name].Value))
	}
	return strings.Join(parts, " ")
}
