// Package api serves the agent's local status endpoints.
package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter wires the local endpoints to src.
func NewRouter(src Sources, logger *zap.Logger) *mux.Router {
	h := &handlers{src: src, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			logger.Debug("health write failed", zap.Error(err))
		}
	}).Methods("GET")
	r.HandleFunc("/status", h.status).Methods("GET")
	r.HandleFunc("/permissions", h.permissions).Methods("GET")
	r.HandleFunc("/usage", h.usage).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return r
}
