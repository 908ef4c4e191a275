package approuters

import (
	"Parley/internal/configuration"
	"Parley/internal/handler"
	"Parley/internal/hub"

	"github.com/gin-gonic/gin"
)

// MonitorRouters sets up monitoring API routes
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorService := hub.NewMonitorService(container.Hub)
	monitorHandler := handler.NewMonitorHandler(monitorService)

	monitorGroup := router.Group("/parley/api/monitor")
	{
		monitorGroup.GET("/stats", monitorHandler.GetStats)
		monitorGroup.GET("/health", monitorHandler.Health)
	}
}
