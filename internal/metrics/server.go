package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthTimeout = 3 * time.Second

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

// Handler returns a mux serving /metrics and /healthz. Every check must pass
// for /healthz to answer 200.
func Handler(checks ...HealthFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// NewServer creates the HTTP server for Handler.
func NewServer(addr string, checks ...HealthFunc) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(checks...),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
