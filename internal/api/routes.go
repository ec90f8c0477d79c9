package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Route("/contexts", func(r chi.Router) {
				r.Post("/", h.CreateContext)
				r.Get("/", h.ListContexts)
				r.Get("/active", h.ActiveContext)
				r.Post("/revert", h.RevertContext)
				r.Get("/history", h.ContextHistory)
				r.Post("/merge", h.MergeContexts)
				r.Get("/export", h.ExportContexts)
				r.Post("/import", h.ImportContexts)
				r.Get("/snapshot/url", h.ContextSnapshotURL)

				r.Route("/{id}", func(r chi.Router) {
					r.Use(ULIDParam("id"))
					r.Get("/", h.GetContext)
					r.Patch("/", h.UpdateContext)
					r.Delete("/", h.DeleteContext)
					r.Post("/activate", h.ActivateContext)
					r.Post("/derive", h.DeriveContext)
					r.Get("/snapshot", h.ContextSnapshot)
					r.Put("/variables", h.SetVariable)
					r.Delete("/variables/{name}", h.RemoveVariable)
				})
			})

			r.Post("/retrieve", h.Retrieve)

			r.Route("/defaults", func(r chi.Router) {
				r.Get("/", h.ListDefaults)
				r.Post("/", h.AddDefault)
				r.Post("/apply", h.ApplyDefaults)
				r.Route("/{id}", func(r chi.Router) {
					r.Use(ULIDParam("id"))
					r.Get("/", h.GetDefault)
					r.Delete("/", h.RemoveDefault)
					r.Post("/exceptions", h.AddException)
				})
			})
			r.With(ULIDParam("id")).Delete("/exceptions/{id}", h.RemoveException)

			r.Post("/entities", h.AddEntity)
			r.Delete("/entities/{id}", h.RemoveEntity)
			r.Post("/relations", h.AddRelation)
			r.Post("/facts", h.AddFact)
			r.Post("/rules", h.LoadRules)

			r.Post("/query", h.Query)
		})
	})

	return r
}
