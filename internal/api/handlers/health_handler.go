package handlers

import (
	"net/http"

	"norelock.dev/listenify/providerhost/internal/services/system"
	"norelock.dev/listenify/providerhost/internal/utils"
)

// HealthHandler handles HTTP requests related to system health.
type HealthHandler struct {
	logger    *utils.Logger
	healthSvc *system.HealthService
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(healthSvc *system.HealthService, logger *utils.Logger) *HealthHandler {
	return &HealthHandler{
		logger:    logger.Named("health_handler"),
		healthSvc: healthSvc,
	}
}

// Check handles requests to check the health of the system. A degraded
// system still answers 200 since providers keep being served.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	health := h.healthSvc.GetHealth()

	statusCode := http.StatusOK
	if health.Status == system.StatusDown {
		statusCode = http.StatusServiceUnavailable
	}

	utils.RespondWithJSON(w, statusCode, health)
}
