package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ceterislabs/ceteris/internal/validation"
	"github.com/ceterislabs/ceteris/pkg/types"
)

// AddEntity handles POST /api/v1/entities, registering an entity and its
// properties.
func (h *Handler) AddEntity(w http.ResponseWriter, r *http.Request) {
	var req types.EntityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateEntityRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	if err := h.knowledge.AddEntity(r.Context(), req.ID); err != nil {
		MapDomainError(w, r, err)
		return
	}
	for name, value := range req.Properties {
		if err := h.knowledge.AddProperty(r.Context(), req.ID, name, value, req.Confidence); err != nil {
			MapDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, types.CreatedResponse{ID: req.ID})
}

// RemoveEntity handles DELETE /api/v1/entities/{id}.
func (h *Handler) RemoveEntity(w http.ResponseWriter, r *http.Request) {
	if err := h.knowledge.RemoveEntity(r.Context(), chi.URLParam(r, "id")); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddRelation handles POST /api/v1/relations.
func (h *Handler) AddRelation(w http.ResponseWriter, r *http.Request) {
	var req types.RelationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateRelationRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	if err := h.knowledge.AddRelation(r.Context(), req.Source, req.Type, req.Target, req.Confidence); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// AddFact handles POST /api/v1/facts, adding a ground fact to the prover.
func (h *Handler) AddFact(w http.ResponseWriter, r *http.Request) {
	var req types.FactRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validation.ValidateRequired("fact", req.Fact); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return
	}

	if err := h.rules.AddFact(req.Fact); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// LoadRules handles POST /api/v1/rules, loading a rule block into the prover.
func (h *Handler) LoadRules(w http.ResponseWriter, r *http.Request) {
	var req types.RulesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validation.ValidateRequired("rules", req.Rules); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return
	}

	if err := h.rules.LoadRules(req.Rules); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
