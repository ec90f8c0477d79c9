package api

import (
	"net/http"

	"github.com/ceterislabs/ceteris/internal/validation"
	"github.com/ceterislabs/ceteris/pkg/retrieval"
	"github.com/ceterislabs/ceteris/pkg/types"
)

// Retrieve handles POST /api/v1/retrieve.
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req types.RetrieveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateRetrieveRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	var (
		results []retrieval.Result
		err     error
	)
	switch {
	case req.Sensitivity != nil:
		results, err = h.retriever.RetrieveWithSensitivity(r.Context(), req.Query, req.ContextID, *req.Sensitivity)
	case req.ResolveAmbiguity:
		results, err = h.retriever.ResolveAmbiguity(r.Context(), req.Query, req.ContextID, req.MaxResults)
	default:
		results, err = h.retriever.Retrieve(r.Context(), req.Query, retrieval.Options{
			ContextID:     req.ContextID,
			Strategy:      retrieval.Strategy(req.Strategy),
			MaxResults:    req.MaxResults,
			MinConfidence: req.MinConfidence,
			MinRelevance:  req.MinRelevance,
			Filters:       req.Filters,
		})
	}
	if err != nil {
		MapDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.RetrieveResponse{Results: results, Count: len(results)})
}
