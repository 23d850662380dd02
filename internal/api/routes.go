package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/sol-sniffer/internal/config"
	"github.com/rawblock/sol-sniffer/internal/events"
	"github.com/rawblock/sol-sniffer/internal/metrics"
	"github.com/rawblock/sol-sniffer/internal/supervisor"
)

// maxRecentEvents caps the /events/recent response size to prevent a
// runaway ?n= query from copying the whole ring buffer into a response.
const maxRecentEvents = 10000

// APIHandler holds the wiring the observability surface reads from; it
// never mutates pipeline state except through config.Store.Apply and the
// supervisor's own Pause/Resume/Restart.
type APIHandler struct {
	metricsReg *metrics.Registry
	collector  *events.Collector
	sup        *supervisor.Supervisor
	cfgStore   *config.Store
	wsHub      *Hub
}

// SetupRouter builds the Gin engine exposing the sniffer's health, metrics,
// event-replay, supervisor-state and config endpoints, plus the live
// WebSocket event stream: a CORS middleware driven by ALLOWED_ORIGINS, a
// public group and a bearer-token + rate-limited protected group.
func SetupRouter(reg *metrics.Registry, collector *events.Collector, sup *supervisor.Supervisor, cfgStore *config.Store, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		metricsReg: reg,
		collector:  collector,
		sup:        sup,
		cfgStore:   cfgStore,
		wsHub:      wsHub,
	}

	pub := r.Group("/")
	{
		pub.GET("/healthz", handler.handleHealthz)
		pub.GET("/ws", wsHub.Subscribe)
	}

	protected := r.Group("/")
	protected.Use(AuthMiddleware())
	protected.Use(NewRateLimiter(60, 10).Middleware())
	{
		protected.GET("/metrics", handler.handleMetrics)
		protected.GET("/events/recent", handler.handleEventsRecent)
		protected.GET("/events/trace/:id", handler.handleEventsForTrace)
		protected.GET("/supervisor/state", handler.handleSupervisorState)
		protected.POST("/supervisor/pause", handler.handleSupervisorPause)
		protected.POST("/supervisor/resume", handler.handleSupervisorResume)
		protected.POST("/supervisor/restart/:worker", handler.handleSupervisorRestart)
		protected.GET("/config", handler.handleGetConfig)
		protected.PATCH("/config", handler.handlePatchConfig)
	}

	return r
}

// handleHealthz reports liveness and the current supervisor state for
// load-balancer / orchestrator health checks.
func (h *APIHandler) handleHealthz(c *gin.Context) {
	status := "operational"
	if h.sup != nil && h.sup.State() == supervisor.Error {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"service":    "sol-sniffer",
		"supervisor": h.sup.State().String(),
	})
}

// handleMetrics returns the full metrics registry snapshot as JSON.
func (h *APIHandler) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metricsReg.Snapshot())
}

// handleEventsRecent returns the last n PipelineEvents (default 100, capped
// at maxRecentEvents).
func (h *APIHandler) handleEventsRecent(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("n", "100"))
	if err != nil || n <= 0 {
		n = 100
	}
	if n > maxRecentEvents {
		n = maxRecentEvents
	}
	c.JSON(http.StatusOK, gin.H{"events": h.collector.Recent(n)})
}

// handleEventsForTrace returns every recorded event for a single trace id,
// reconstructing that transaction's path through the pipeline.
func (h *APIHandler) handleEventsForTrace(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trace id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": h.collector.ForTrace(id)})
}

// handleSupervisorState reports the supervisor's lifecycle FSM state.
func (h *APIHandler) handleSupervisorState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.sup.State().String()})
}

func (h *APIHandler) handleSupervisorPause(c *gin.Context) {
	if err := h.sup.Pause(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.sup.State().String()})
}

func (h *APIHandler) handleSupervisorResume(c *gin.Context) {
	if err := h.sup.Resume(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.sup.State().String()})
}

func (h *APIHandler) handleSupervisorRestart(c *gin.Context) {
	name := c.Param("worker")
	if err := h.sup.Restart(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restarted": name, "count": h.sup.RestartCount(name)})
}

// handleGetConfig returns the current reloadable tunable configuration.
func (h *APIHandler) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfgStore.Get())
}

// handlePatchConfig accepts a full Tunable document and applies it
// atomically, rejecting anything that fails validation.
func (h *APIHandler) handlePatchConfig(c *gin.Context) {
	var cfg config.Tunable
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.cfgStore.Apply(cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.cfgStore.Get())
}
