package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, hc *HealthChecker, reg *prometheus.Registry) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://brightreach.org", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks (no /api prefix so probes stay stable)
	r.Get("/health", hc.HandleHealth)
	r.Get("/health/ready", hc.HandleReadiness)

	r.Method("GET", "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/segment", func(r chi.Router) {
			r.Post("/resolve", h.ResolveSegment)
			r.Post("/choice", h.CommitChoice)
		})

		r.Route("/experiments", func(r chi.Router) {
			r.Post("/", h.CreateExperiment)
			r.Post("/{key}/assign", h.AssignVariant)
			r.Get("/{key}/results", h.GetExperimentResults)
			r.Post("/{key}/convert", h.RecordConversion)
			// The path segment carries the experiment UUID here, not the
			// experiment key; several drafts can share one key.
			r.Post("/{key}/activate", h.ActivateExperiment)
		})

		r.Post("/visibility/project", h.ProjectVisibility)

		r.Route("/insights", func(r chi.Router) {
			r.Get("/send-times", h.GetSendTimeInsights)
			r.Get("/time-series", h.GetTimeSeries)
		})
	})

	return r
}
