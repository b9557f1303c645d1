// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shray7/hatch-sync/internal/middleware"
)

// NewRouter assembles the full HTTP surface.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(h.cfg.Server.RateLimitReqs, h.cfg.Server.RateLimitWindow))
	r.Use(middleware.PrometheusMetrics)

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/grow/data", h.GrowData)
	r.Get("/grow/photos", h.GrowPhotos)
	r.Post("/sync", h.TriggerSync)

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", h.ListDevices)
		r.Route("/{deviceID}", func(r chi.Router) {
			r.Get("/", h.GetDevice)
			r.Post("/volume", h.SetVolume)
			r.Post("/audio_track", h.SetAudioTrack)
		})
	})

	return r
}
