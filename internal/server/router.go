// Package server exposes the reviewer and operator HTTP API.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// New assembles the API router. The review endpoints are consumed by the
// review UI, hence the permissive CORS policy; the admin endpoints share it
// because the whole server binds to an internal address.
func New(h *Handler) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	router.Get("/healthz", h.health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/review", func(r chi.Router) {
			r.Get("/tickets", h.listTickets)
			r.With(middleware.AllowContentType("application/json")).
				Post("/tickets/{id}/resolve", h.resolveTicket)
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/{id}", h.getDocument)
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(middleware.AllowContentType("application/json")).
				Post("/documents/{id}/reject", h.rejectDocument)
		})

		r.Get("/archive/export", h.exportArchive)
	})

	return router
}
