// Package v1 provides the operator-facing HTTP control surface over the
// orchestrator: start/list/status/logs/stop/kill/resume/purge, in the
// same Echo handler shape the predecessor used for its own external API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/swarmctl/swarmctl/internal/orchestrator"
)

// Handler handles HTTP requests against an Orchestrator.
type Handler struct {
	orch *orchestrator.Orchestrator
}

// NewHandler creates a new handler.
func NewHandler(orch *orchestrator.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes registers external routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/clusters", h.StartCluster)
	e.GET("/v1/clusters", h.ListClusters)
	e.GET("/v1/clusters/:cluster_id", h.GetClusterStatus)
	e.GET("/v1/clusters/:cluster_id/logs", h.GetClusterLogs)
	e.POST("/v1/clusters/:cluster_id/stop", h.StopCluster)
	e.POST("/v1/clusters/:cluster_id/kill", h.KillCluster)
	e.POST("/v1/clusters/:cluster_id/resume", h.ResumeCluster)
	e.DELETE("/v1/clusters/:cluster_id", h.PurgeCluster)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
