package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ceterislabs/ceteris/internal/validation"
	"github.com/ceterislabs/ceteris/pkg/defaults"
	"github.com/ceterislabs/ceteris/pkg/types"
)

// ListDefaults handles GET /api/v1/defaults.
func (h *Handler) ListDefaults(w http.ResponseWriter, r *http.Request) {
	all := h.reasoner.Defaults()
	resp := types.ListDefaultsResponse{
		Defaults: make([]types.DefaultWithExceptions, 0, len(all)),
	}
	for _, d := range all {
		resp.Defaults = append(resp.Defaults, types.DefaultWithExceptions{
			Default:    *d,
			Exceptions: h.reasoner.ExceptionsFor(d.ID),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDefault handles GET /api/v1/defaults/{id}.
func (h *Handler) GetDefault(w http.ResponseWriter, r *http.Request) {
	d, err := h.reasoner.GetDefault(chi.URLParam(r, "id"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DefaultWithExceptions{
		Default:    *d,
		Exceptions: h.reasoner.ExceptionsFor(d.ID),
	})
}

// AddDefault handles POST /api/v1/defaults.
func (h *Handler) AddDefault(w http.ResponseWriter, r *http.Request) {
	var req types.AddDefaultRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateAddDefaultRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	id, err := h.reasoner.AddDefault(defaults.Default{
		Prerequisite:  req.Prerequisite,
		Justification: req.Justification,
		Consequent:    req.Consequent,
		Kind:          defaults.Kind(req.Kind),
		Priority:      req.Priority,
		Confidence:    req.Confidence,
		Metadata:      req.Metadata,
	})
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.CreatedResponse{ID: id})
}

// RemoveDefault handles DELETE /api/v1/defaults/{id}. Removing a default
// cascades to its exceptions.
func (h *Handler) RemoveDefault(w http.ResponseWriter, r *http.Request) {
	if err := h.reasoner.RemoveDefault(chi.URLParam(r, "id")); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddException handles POST /api/v1/defaults/{id}/exceptions.
func (h *Handler) AddException(w http.ResponseWriter, r *http.Request) {
	var req types.AddExceptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateAddExceptionRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	defaultID := chi.URLParam(r, "id")
	if _, err := h.reasoner.GetDefault(defaultID); err != nil {
		MapDomainError(w, r, err)
		return
	}

	id, err := h.reasoner.AddException(defaults.Exception{
		DefaultID:  defaultID,
		Condition:  req.Condition,
		Priority:   req.Priority,
		Confidence: req.Confidence,
		Metadata:   req.Metadata,
	})
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.CreatedResponse{ID: id})
}

// RemoveException handles DELETE /api/v1/exceptions/{id}.
func (h *Handler) RemoveException(w http.ResponseWriter, r *http.Request) {
	if err := h.reasoner.RemoveException(chi.URLParam(r, "id")); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyDefaults handles POST /api/v1/defaults/apply, running default
// reasoning without the retrieval stage.
func (h *Handler) ApplyDefaults(w http.ResponseWriter, r *http.Request) {
	var req types.ApplyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validation.ValidateRequired("query", req.Query); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return
	}

	opts := defaults.ApplyOptions{ContextID: req.ContextID}
	if req.ConfidenceThreshold != nil {
		opts.ConfidenceThreshold = *req.ConfidenceThreshold
	}

	decision, err := h.reasoner.Apply(r.Context(), req.Query, opts)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
