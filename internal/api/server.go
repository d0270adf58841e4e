package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/statekeeper/internal/api/handler"
	mw "github.com/edvin/statekeeper/internal/api/middleware"
	"github.com/edvin/statekeeper/internal/metrics"
)

type Server struct {
	router  chi.Router
	logger  zerolog.Logger
	catalog handler.Catalog
	sweeper handler.Sweeper
	checks  map[string]metrics.HealthFunc
}

// NewServer builds the read-only catalog API. checks are reported by /healthz
// under their map keys.
func NewServer(logger zerolog.Logger, cat handler.Catalog, sweeper handler.Sweeper, checks map[string]metrics.HealthFunc) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
		catalog: cat,
		sweeper: sweeper,
		checks:  checks,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Route("/v1/environments/{env}", func(r chi.Router) {
		records := handler.NewRecords(s.catalog)
		r.Get("/records", records.List)
		r.Get("/records/{ref}", records.Get)
		r.Get("/stats", records.Stats)

		verify := handler.NewVerify(s.sweeper)
		r.Get("/verify", verify.Run)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{"healthy": healthy, "checks": checks})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
