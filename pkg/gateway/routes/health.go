package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/smarttriage/platform/pkg/observability/metrics"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	service string
	checks  map[string]Check
}

func NewHealthHandler(service string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{service: service, checks: checks}
}

func (h *HealthHandler) Register(r *mux.Router) {
	r.HandleFunc("/", h.handleLanding).Methods(http.MethodGet)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

func (h *HealthHandler) handleLanding(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": h.service,
		"links": map[string]string{
			"intake":    "/api/v1/intake/catalog",
			"submit":    "/api/v1/intake/submit",
			"dashboard": "/api/v1/dashboard",
		},
	})
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *HealthHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	respondJSON(w, status, map[string]interface{}{"status": state, "checks": results})
}
