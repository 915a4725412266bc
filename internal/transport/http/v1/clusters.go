package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/swarmctl/swarmctl/internal/domain"
	"github.com/swarmctl/swarmctl/internal/isolation"
	"github.com/swarmctl/swarmctl/internal/orchestrator"
	"github.com/swarmctl/swarmctl/internal/template"
)

// StartClusterRequest is the request body for POST /v1/clusters.
type StartClusterRequest struct {
	ClusterID string                   `json:"cluster_id,omitempty"`
	Config    []domain.AgentDefinition `json:"config,omitempty"`
	Template  *template.Template       `json:"template,omitempty"`
	Provider  string                   `json:"provider,omitempty"`
	Input     StartClusterInput        `json:"input"`
	Isolation *isolation.Spec          `json:"isolation,omitempty"`
}

// StartClusterInput is the seed input for a new cluster.
type StartClusterInput struct {
	Source   domain.InputSource `json:"source,omitempty"`
	Text     string             `json:"text,omitempty"`
	FilePath string             `json:"file_path,omitempty"`
}

// StartCluster starts a new cluster.
// POST /v1/clusters
func (h *Handler) StartCluster(c echo.Context) error {
	ctx := c.Request().Context()

	var req StartClusterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(req.Config) == 0 && req.Template == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "one of config or template is required"})
	}

	cluster, err := h.orch.Start(ctx, orchestrator.StartOptions{
		ClusterID: req.ClusterID,
		Config:    req.Config,
		Template:  req.Template,
		Provider:  req.Provider,
		Input: orchestrator.InputSpec{
			Source:   req.Input.Source,
			Text:     req.Input.Text,
			FilePath: req.Input.FilePath,
		},
		Isolation: req.Isolation,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, cluster)
}

// ListClusters lists every cluster loaded in this process.
// GET /v1/clusters
func (h *Handler) ListClusters(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"clusters": h.orch.List(),
	})
}

// GetClusterStatus returns a cluster's record and agent runtime states.
// GET /v1/clusters/:cluster_id
func (h *Handler) GetClusterStatus(c echo.Context) error {
	clusterID := c.Param("cluster_id")
	cluster, states, err := h.orch.Status(clusterID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"cluster": cluster,
		"agents":  states,
	})
}

// GetClusterLogs queries the cluster's ledger.
// GET /v1/clusters/:cluster_id/logs?topic=&sender=&since=&limit=
func (h *Handler) GetClusterLogs(c echo.Context) error {
	ctx := c.Request().Context()
	clusterID := c.Param("cluster_id")

	filter := domain.MessageFilter{
		Topic:  c.QueryParam("topic"),
		Sender: c.QueryParam("sender"),
	}
	if limit := c.QueryParam("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	if since := c.QueryParam("since"); since != "" {
		if n, err := strconv.ParseInt(since, 10, 64); err == nil {
			filter.Since = n
		}
	}

	msgs, err := h.orch.Logs(ctx, clusterID, filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": msgs})
}

// stopRequest is the shared body shape for stop/kill.
type stopRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StopCluster cooperatively stops a cluster.
// POST /v1/clusters/:cluster_id/stop
func (h *Handler) StopCluster(c echo.Context) error {
	ctx := c.Request().Context()
	var req stopRequest
	_ = c.Bind(&req)
	if err := h.orch.Stop(ctx, c.Param("cluster_id"), req.Reason); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// KillCluster immediately cancels every in-flight task and stops the
// cluster.
// POST /v1/clusters/:cluster_id/kill
func (h *Handler) KillCluster(c echo.Context) error {
	ctx := c.Request().Context()
	var req stopRequest
	_ = c.Bind(&req)
	if err := h.orch.Kill(ctx, c.Param("cluster_id"), req.Reason); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// ResumeCluster reloads a persisted cluster and rebuilds agent state
// from the ledger.
// POST /v1/clusters/:cluster_id/resume
func (h *Handler) ResumeCluster(c echo.Context) error {
	ctx := c.Request().Context()
	cluster, err := h.orch.Resume(ctx, c.Param("cluster_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, cluster)
}

// PurgeCluster permanently deletes a stopped cluster's ledger and
// persisted config.
// DELETE /v1/clusters/:cluster_id
func (h *Handler) PurgeCluster(c echo.Context) error {
	if err := h.orch.Purge(c.Param("cluster_id")); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
