package main

import (
	"net/http"

	"github.com/polisai/enigma/pkg/api"
	"github.com/polisai/enigma/pkg/telemetry"
)

// newAdminHandler serves liveness, readiness and metrics on the admin
// listener. Readiness requires a loaded crypt configuration.
func newAdminHandler(source api.SnapshotSource, metrics *telemetry.Metrics) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if source.CurrentSnapshot() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("no encryption configuration loaded"))
			return
		}
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}
