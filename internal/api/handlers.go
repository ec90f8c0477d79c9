// Package api implements the HTTP surface: routing, middleware, handlers,
// and RFC 7807 error responses.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ceterislabs/ceteris/internal/snapshot"
	"github.com/ceterislabs/ceteris/internal/validation"
	"github.com/ceterislabs/ceteris/pkg/ctxstore"
	"github.com/ceterislabs/ceteris/pkg/defaults"
	"github.com/ceterislabs/ceteris/pkg/reason"
	"github.com/ceterislabs/ceteris/pkg/retrieval"
	"github.com/ceterislabs/ceteris/pkg/types"
)

// KnowledgeWriter is the mutation slice of the knowledge base the API needs.
type KnowledgeWriter interface {
	AddEntity(ctx context.Context, id string) error
	AddProperty(ctx context.Context, entityID, name string, value any, confidence float64) error
	AddRelation(ctx context.Context, source, relType, target string, confidence float64) error
	RemoveEntity(ctx context.Context, id string) error
}

// RuleLoader feeds rules and facts to the exact prover.
type RuleLoader interface {
	LoadRules(source string) error
	AddFact(fact string) error
}

// Handler implements the API handlers.
type Handler struct {
	contexts  *ctxstore.Store
	retriever *retrieval.Retriever
	reasoner  *defaults.Reasoner
	engine    *reason.Engine
	knowledge KnowledgeWriter
	rules     RuleLoader
	uploader  snapshot.Uploader
	apiKey    string
	version   string
	model     string
}

// HandlerConfig wires the handler's collaborators.
type HandlerConfig struct {
	Contexts  *ctxstore.Store
	Retriever *retrieval.Retriever
	Reasoner  *defaults.Reasoner
	Engine    *reason.Engine
	Knowledge KnowledgeWriter
	Rules     RuleLoader
	Uploader  snapshot.Uploader
	APIKey    string
	Version   string
	Model     string
}

// NewHandler creates a Handler from its collaborators.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		contexts:  cfg.Contexts,
		retriever: cfg.Retriever,
		reasoner:  cfg.Reasoner,
		engine:    cfg.Engine,
		knowledge: cfg.Knowledge,
		rules:     cfg.Rules,
		uploader:  cfg.Uploader,
		apiKey:    cfg.APIKey,
		version:   cfg.Version,
		model:     cfg.Model,
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body, writing a 400 problem on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return false
	}
	return true
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:         "healthy",
		Version:        h.version,
		ContextCount:   h.contexts.Len(),
		DefaultCount:   len(h.reasoner.Defaults()),
		EmbeddingModel: h.model,
	}
	if active, ok := h.contexts.Active(); ok {
		resp.ActiveContextID = active.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// Query handles POST /api/v1/query, running the full answer pipeline.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req types.QueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateQueryRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	opts := reason.Options{
		ContextID:     req.ContextID,
		MaxResults:    req.MaxResults,
		MinConfidence: req.MinConfidence,
		MinRelevance:  req.MinRelevance,
	}
	if req.ConfidenceThreshold != nil {
		opts.ConfidenceThreshold = *req.ConfidenceThreshold
	}

	answer, err := h.engine.Answer(r.Context(), req.Query, opts)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
