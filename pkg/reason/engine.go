// Package reason composes the exact prover, the contextualized retriever,
// and the default reasoner into one query pipeline: exact proof first,
// relevance retrieval on failure, defeasible defaults last. Each component
// stays independently usable; the engine only sequences them.
package reason

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ceterislabs/ceteris/pkg/ctxstore"
	"github.com/ceterislabs/ceteris/pkg/defaults"
	"github.com/ceterislabs/ceteris/pkg/retrieval"
)

// MethodRetrieval tags answers produced by the retrieval stage. The other
// method tags come from the defaults package.
const MethodRetrieval = "contextual_retrieval"

// Answer is the unified outcome of a query.
type Answer struct {
	Success     bool               `json:"success"`
	Method      string             `json:"method"`
	Conclusion  string             `json:"conclusion,omitempty"`
	Confidence  float64            `json:"confidence"`
	Explanation string             `json:"explanation,omitempty"`
	Results     []retrieval.Result `json:"results,omitempty"`
	Decision    *defaults.Decision `json:"decision,omitempty"`
}

// Options carries per-query parameters.
type Options struct {
	ContextID           string
	MaxResults          int
	MinConfidence       float64
	MinRelevance        float64
	ConfidenceThreshold float64
}

// Engine runs the three-stage pipeline.
type Engine struct {
	prover    defaults.Prover
	retriever *retrieval.Retriever
	reasoner  *defaults.Reasoner
	contexts  *ctxstore.Store
}

// NewEngine assembles an engine from its parts. Retriever and reasoner may
// be nil, in which case their stages are skipped.
func NewEngine(prover defaults.Prover, retriever *retrieval.Retriever, reasoner *defaults.Reasoner, contexts *ctxstore.Store) *Engine {
	return &Engine{
		prover:    prover,
		retriever: retriever,
		reasoner:  reasoner,
		contexts:  contexts,
	}
}

// Contexts returns the engine's context store.
func (e *Engine) Contexts() *ctxstore.Store {
	return e.contexts
}

// Reasoner returns the engine's default reasoner.
func (e *Engine) Reasoner() *defaults.Reasoner {
	return e.reasoner
}

// Retriever returns the engine's retriever.
func (e *Engine) Retriever() *retrieval.Retriever {
	return e.retriever
}

// Answer resolves a query: exact proof, then contextualized retrieval, then
// default reasoning. The first stage that produces a usable answer wins.
func (e *Engine) Answer(ctx context.Context, query string, opts Options) (*Answer, error) {
	if e.prover != nil {
		proof, err := e.prover.Prove(ctx, query)
		if err != nil {
			slog.Debug("exact proof failed", "query", query, "error", err)
		} else if proof != nil && proof.Success {
			explanation := proof.Explanation
			if explanation == "" {
				explanation = "proved by standard inference"
			}
			return &Answer{
				Success:     true,
				Method:      defaults.MethodStandard,
				Conclusion:  query,
				Confidence:  1.0,
				Explanation: explanation,
			}, nil
		}
	}

	if e.retriever != nil {
		results, err := e.retriever.Retrieve(ctx, query, retrieval.Options{
			ContextID:     opts.ContextID,
			MaxResults:    opts.MaxResults,
			MinConfidence: opts.MinConfidence,
			MinRelevance:  opts.MinRelevance,
		})
		if err != nil {
			slog.Debug("retrieval stage failed", "query", query, "error", err)
		} else if len(results) > 0 {
			top := results[0]
			return &Answer{
				Success:     true,
				Method:      MethodRetrieval,
				Conclusion:  fmt.Sprintf("%v", top.Content),
				Confidence:  top.Score(),
				Explanation: fmt.Sprintf("retrieved %d contextually relevant results", len(results)),
				Results:     results,
			}, nil
		}
	}

	if e.reasoner != nil {
		decision, err := e.reasoner.Apply(ctx, query, defaults.ApplyOptions{
			ContextID:           opts.ContextID,
			ConfidenceThreshold: opts.ConfidenceThreshold,
		})
		if err != nil {
			return nil, fmt.Errorf("default reasoning: %w", err)
		}
		return &Answer{
			Success:     decision.Success,
			Method:      decision.Method,
			Conclusion:  decision.Conclusion,
			Confidence:  decision.Confidence,
			Explanation: decision.Explanation,
			Decision:    decision,
		}, nil
	}

	return &Answer{
		Success:     false,
		Method:      defaults.MethodStandard,
		Explanation: "no reasoning stage produced an answer",
	}, nil
}
