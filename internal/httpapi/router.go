// Package httpapi wires the render API routes and middleware.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"proofrender/internal/httpapi/handlers"
	"proofrender/internal/httpkit"
	"proofrender/internal/metrics"
	"proofrender/internal/pkg/logger"
	"proofrender/internal/pkg/middleware"
)

type Deps struct {
	Handlers       handlers.Deps
	AllowedOrigins []string
	// RequestTimeout bounds every API route except downloads.
	RequestTimeout time.Duration
	// Metrics records per-route request metrics when set.
	Metrics *metrics.Middleware
	Log     *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))
	if d.Metrics != nil {
		r.Use(d.Metrics.Handler)
	}
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept", middleware.RequestIDHeader},
		ExposedHeaders: []string{"Content-Disposition", middleware.RequestIDHeader},
		MaxAgeSeconds:  600,
	}))

	h := handlers.New(d.Handlers)
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if d.RequestTimeout > 0 {
				r.Use(middleware.Timeout(d.RequestTimeout))
			}
			r.Post("/upload", wrap(h.Upload))
			r.Post("/render", wrap(h.PostRender))
			r.Get("/status/{jobId}", wrap(h.GetStatus))
			r.Get("/presets", wrap(h.ListPresets))
			r.Get("/presets/{name}", wrap(h.GetPreset))
		})

		r.Get("/download/{jobId}", wrap(h.Download))
	})

	return r
}
