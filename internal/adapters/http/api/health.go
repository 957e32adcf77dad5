package api

import (
	"net/http"

	"github.com/okian/elevation/pkg/logger"
	"github.com/okian/elevation/pkg/metrics"
)

// HealthHandler handles readiness, liveness and metrics requests.
type HealthHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps Dependencies, l logger.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: l}
}

type statusResponse struct {
	Status string `json:"status"`
	Cause  string `json:"cause,omitempty"`
}

// HandleReady handles GET /ready requests. It always answers OK.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, _ *http.Request) {
	_ = writeJSON(w, http.StatusOK, statusResponse{Status: "OK"})
}

// HandleHealth handles GET /healthz requests for the request's tenant.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.deps.Health(ctx, Tenant(ctx)); err != nil {
		h.logger.Warn(ctx, "health check failed", append(RequestFields(ctx), logger.Error(err))...)
		_ = writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "FAIL", Cause: "Failed to open elevation_dataset"})
		return
	}
	_ = writeJSON(w, http.StatusOK, statusResponse{Status: "OK"})
}

// MetricsHandler serves the service's Prometheus registry.
func (h *HealthHandler) MetricsHandler() http.Handler {
	return metrics.Handler()
}
