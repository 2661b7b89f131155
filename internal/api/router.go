package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/vnmchuo/blog-generator/internal/logger"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(logger.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", h.HandleGenerate)
		r.Post("/validate", h.HandleValidateKey)
		r.Get("/validate", h.HandleCredentialHealth)
		r.Get("/usage", h.HandleUsage)
	})

	return r
}
