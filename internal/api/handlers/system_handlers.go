package handlers

import (
	"net/http"
	"time"

	"ppe-sentinel/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// SystemHandler serves health, host statistics and the Prometheus metrics
type SystemHandler struct {
	store     EvidenceStore
	streams   StreamController
	mqtt      ConnectionChecker
	gatherer  prometheus.Gatherer
	startedAt time.Time
}

// NewSystemHandler creates a new system handler. mqtt and gatherer may be nil.
func NewSystemHandler(store EvidenceStore, streams StreamController, mqtt ConnectionChecker, gatherer prometheus.Gatherer) *SystemHandler {
	return &SystemHandler{
		store:     store,
		streams:   streams,
		mqtt:      mqtt,
		gatherer:  gatherer,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers the system routes
func (h *SystemHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.Health)
	router.GET("/system/stats", h.SystemStats)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// Health reports whether the evidence store is reachable
func (h *SystemHandler) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":  "ok",
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
		"streams": len(h.streams.Streams()),
	}

	count, err := h.store.Count(c.Request.Context())
	if err != nil {
		log.Errorf("Health check: evidence store unavailable: %v", err)
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = err.Error()
	} else {
		body["evidence_count"] = count
	}

	if h.mqtt != nil {
		body["mqtt_connected"] = h.mqtt.IsConnected()
	}

	c.JSON(status, body)
}

// SystemStats returns host, runtime and stream statistics
func (h *SystemHandler) SystemStats(c *gin.Context) {
	c.JSON(http.StatusOK, utils.GetSystemStats(h.streams))
}
