package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/medicops/medic/infrastructure/middleware"
)

// registerHealth wires /health, /health/live, /health/ready. These and
// /metrics bypass authentication and rate limiting entirely (spec.md §6).
func (d *Deps) registerHealth(r *mux.Router) {
	checker := middleware.NewHealthChecker(d.Version)
	checker.RegisterCheck("store", func() error {
		_, err := d.Store.ListActiveMonitorableServices(context.Background())
		return err
	})

	r.HandleFunc("/health", checker.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health/live", middleware.LivenessHandler()).Methods(http.MethodGet)
	ready := true
	r.HandleFunc("/health/ready", middleware.ReadinessHandler(&ready)).Methods(http.MethodGet)
}
