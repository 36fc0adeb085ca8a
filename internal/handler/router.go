package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mmeshcher/escobar-tracker/internal/metrics"
	custommiddleware "github.com/mmeshcher/escobar-tracker/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса учёта эскобаров.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.loginLimiter.Handler)

				r.Post("/register", h.Register)
				r.Post("/login", h.Login)
			})
			r.Post("/logout", h.Logout)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/me", h.Me)
				r.Get("/logs", h.GetLogs)
				r.Get("/requests", h.GetRequests)
				r.Post("/requests", h.SubmitRequest)
				r.Get("/feed", h.MemberFeed)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/announcements", h.GetAnnouncements)
		})

		r.Route("/officer", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.With(h.loginLimiter.Handler).Post("/login", h.OfficerLogin)

			r.Group(func(r chi.Router) {
				r.Use(h.officerMiddleware.Middleware)

				r.Get("/members", h.GetMembers)
				r.Post("/members/{memberID}/adjust", h.AdjustBalance)
				r.Post("/members/{memberID}/toggle", h.ToggleDisabled)
				r.Get("/requests", h.GetPendingRequests)
				r.Post("/requests/{requestID}/resolve", h.ResolveRequest)
				r.Post("/announcements", h.PostAnnouncement)
				r.Get("/feed", h.OfficerFeed)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
