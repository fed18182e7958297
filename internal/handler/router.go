package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Limiter wraps a handler with per-client throttling.
type Limiter interface {
	Middleware(next http.Handler) http.Handler
}

// NewRouter mounts the order API. Mutating routes pass through limiter when
// one is given.
func NewRouter(h *Handler, limiter Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	limited := func(next http.Handler) http.Handler { return next }
	if limiter != nil {
		limited = limiter.Middleware
	}

	r.Route("/api/orders", func(r chi.Router) {
		r.With(limited).Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/stream", h.Stream)
		r.Get("/customer/{name}", h.ListByCustomer)
		r.Get("/status/{status}", h.ListByStatus)
		r.Get("/search", h.Search)
		r.Get("/search/status/{status}", h.SearchByStatus)
		r.Get("/search/date-range", h.SearchByDateRange)
		r.Get("/{id}", h.GetOrder)
		r.With(limited).Put("/{id}/status", h.UpdateStatus)
		r.With(limited).Delete("/{id}", h.DeleteOrder)
	})
	r.Get("/api/analytics/orders", h.Analytics)
	r.With(limited).Post("/api/admin/search/rebuild", h.RebuildSearch)
	return r
}
