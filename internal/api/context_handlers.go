package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ceterislabs/ceteris/internal/validation"
	"github.com/ceterislabs/ceteris/pkg/ctxstore"
	"github.com/ceterislabs/ceteris/pkg/types"
)

// CreateContext handles POST /api/v1/contexts.
func (h *Handler) CreateContext(w http.ResponseWriter, r *http.Request) {
	var req types.CreateContextRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateCreateContextRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	created, err := h.contexts.Create(req.Name, ctxstore.Type(req.Type), ctxstore.CreateOptions{
		ParentID:  req.ParentID,
		Metadata:  req.Metadata,
		Variables: req.Variables,
	})
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListContexts handles GET /api/v1/contexts.
func (h *Handler) ListContexts(w http.ResponseWriter, r *http.Request) {
	contexts := h.contexts.List()
	writeJSON(w, http.StatusOK, types.ListContextsResponse{
		Contexts: contexts,
		Count:    len(contexts),
	})
}

// GetContext handles GET /api/v1/contexts/{id}.
func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	c, err := h.contexts.Get(chi.URLParam(r, "id"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateContext handles PATCH /api/v1/contexts/{id}.
func (h *Handler) UpdateContext(w http.ResponseWriter, r *http.Request) {
	var req types.UpdateContextRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.contexts.Update(id, req.Metadata, req.Variables); err != nil {
		MapDomainError(w, r, err)
		return
	}

	c, err := h.contexts.Get(id)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteContext handles DELETE /api/v1/contexts/{id}.
func (h *Handler) DeleteContext(w http.ResponseWriter, r *http.Request) {
	if err := h.contexts.Delete(chi.URLParam(r, "id")); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivateContext handles POST /api/v1/contexts/{id}/activate.
func (h *Handler) ActivateContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.contexts.SetActive(id); err != nil {
		MapDomainError(w, r, err)
		return
	}

	c, err := h.contexts.Get(id)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ActiveContext handles GET /api/v1/contexts/active.
func (h *Handler) ActiveContext(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contexts.Active()
	if !ok {
		MapDomainError(w, r, ctxstore.ErrNoActiveContext)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RevertContext handles POST /api/v1/contexts/revert.
func (h *Handler) RevertContext(w http.ResponseWriter, r *http.Request) {
	if err := h.contexts.Revert(); err != nil {
		MapDomainError(w, r, err)
		return
	}

	c, ok := h.contexts.Active()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ContextHistory handles GET /api/v1/contexts/history.
func (h *Handler) ContextHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HistoryResponse{History: h.contexts.History()})
}

// SetVariable handles PUT /api/v1/contexts/{id}/variables.
func (h *Handler) SetVariable(w http.ResponseWriter, r *http.Request) {
	var req types.SetVariableRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateSetVariableRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.contexts.SetVariable(id, req.Name, req.Value, req.Type, req.Metadata); err != nil {
		MapDomainError(w, r, err)
		return
	}

	c, err := h.contexts.Get(id)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RemoveVariable handles DELETE /api/v1/contexts/{id}/variables/{name}.
func (h *Handler) RemoveVariable(w http.ResponseWriter, r *http.Request) {
	if err := h.contexts.RemoveVariable(chi.URLParam(r, "id"), chi.URLParam(r, "name")); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ContextSnapshot handles GET /api/v1/contexts/{id}/snapshot, returning the
// flattened variable view of a context and its ancestors.
func (h *Handler) ContextSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.contexts.Get(id); err != nil {
		MapDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.SnapshotResponse{
		ContextID: id,
		Variables: h.contexts.Snapshot(id),
	})
}

// MergeContexts handles POST /api/v1/contexts/merge.
func (h *Handler) MergeContexts(w http.ResponseWriter, r *http.Request) {
	var req types.MergeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateMergeRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	if err := h.contexts.Merge(req.SourceID, req.TargetID, req.Override); err != nil {
		MapDomainError(w, r, err)
		return
	}

	c, err := h.contexts.Get(req.TargetID)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeriveContext handles POST /api/v1/contexts/{id}/derive.
func (h *Handler) DeriveContext(w http.ResponseWriter, r *http.Request) {
	var req types.DeriveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateDeriveRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	child, err := h.contexts.Derive(chi.URLParam(r, "id"), req.Name, ctxstore.Type(req.Type), req.Metadata, req.InheritVariables)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, child)
}

// ExportContexts handles GET /api/v1/contexts/export, streaming the full
// context document.
func (h *Handler) ExportContexts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.contexts.Save(w); err != nil {
		MapDomainError(w, r, err)
	}
}

// ImportContexts handles POST /api/v1/contexts/import, replacing the store
// state with the posted document. Malformed documents leave state intact.
func (h *Handler) ImportContexts(w http.ResponseWriter, r *http.Request) {
	if err := h.contexts.Load(r.Body); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ContextSnapshotURL handles GET /api/v1/contexts/snapshot/url, returning a
// pre-signed download URL for the uploaded context document.
func (h *Handler) ContextSnapshotURL(w http.ResponseWriter, r *http.Request) {
	url, expiry, err := h.uploader.PresignedURL(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Snapshot storage not configured")
		return
	}
	writeJSON(w, http.StatusOK, types.SnapshotURLResponse{URL: url, ExpiresAt: expiry})
}
