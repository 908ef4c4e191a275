package handler

import (
	"net/http"

	"Parley/internal/hub"

	"github.com/gin-gonic/gin"
)

// MonitorHandler handles monitoring API endpoints
type MonitorHandler interface {
	GetStats(c *gin.Context)
	Health(c *gin.Context)
}

type monitorHandler struct {
	monitorService *hub.MonitorService
}

// NewMonitorHandler creates a new monitor handler
func NewMonitorHandler(monitorService *hub.MonitorService) MonitorHandler {
	return &monitorHandler{
		monitorService: monitorService,
	}
}

// GetStats returns the session, transport, conversation and call state
// @Summary Get engine statistics
// @Tags Monitor
// @Produce json
// @Success 200 {object} model.MonitorResponse
// @Router /parley/api/monitor/stats [get]
func (h *monitorHandler) GetStats(c *gin.Context) {
	stats := h.monitorService.GetStats()

	c.JSON(http.StatusOK, gin.H{
		"HttpStatusCode": http.StatusOK,
		"ResponseBody":   stats,
		"IsSuccess":      true,
		"Message":        "Engine statistics retrieved successfully",
	})
}

// Health answers 503 while the engine is degraded.
func (h *monitorHandler) Health(c *gin.Context) {
	stats := h.monitorService.GetStats()

	code := http.StatusOK
	if stats.Status == "degraded" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"HttpStatusCode": code,
		"ResponseBody":   gin.H{"status": stats.Status, "identity": stats.Identity},
		"IsSuccess":      code == http.StatusOK,
		"Message":        "Engine status is " + stats.Status,
	})
}
