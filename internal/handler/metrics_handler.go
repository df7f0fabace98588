package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smartgrade-api/internal/service"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/jobs"
	"github.com/noah-isme/smartgrade-api/pkg/response"
)

// Pinger is satisfied by *sqlx.DB and the redis client wrapper.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// QueueStatser reports background queue counters.
type QueueStatser interface {
	Stats() jobs.Stats
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics      *service.MetricsService
	dependencies map[string]Pinger
	queues       map[string]QueueStatser
}

// NewMetricsHandler constructs a metrics handler. Dependencies are probed by Ready.
func NewMetricsHandler(metrics *service.MetricsService, dependencies map[string]Pinger, queues map[string]QueueStatser) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, dependencies: dependencies, queues: queues}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness usage.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready pings every registered dependency.
func (h *MetricsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.dependencies))
	healthy := true
	for name, dep := range h.dependencies {
		if dep == nil {
			continue
		}
		if err := dep.PingContext(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, response.Envelope{
			Error: appErrors.Clone(&appErrors.Error{Code: "NOT_READY", Status: http.StatusServiceUnavailable}, "dependency check failed"),
			Meta:  map[string]interface{}{"checks": checks},
		})
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "ready", "checks": checks}, nil)
}

// Snapshot godoc
// @Summary Process metrics snapshot
// @Tags Metrics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /metrics/snapshot [get]
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	queues := make(map[string]jobs.Stats, len(h.queues))
	for name, q := range h.queues {
		queues[name] = q.Stats()
	}
	response.JSON(c, http.StatusOK, gin.H{"process": h.metrics.Snapshot(), "queues": queues}, nil)
}
