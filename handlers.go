package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"otplink/internal/forwarding"
	"otplink/internal/maintenance"
	"otplink/internal/store"
	"otplink/internal/worker"
)

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping() error
}

// Handlers contains all HTTP handlers
type Handlers struct {
	kv         store.KV
	pinger     Pinger
	configs    *forwarding.ConfigStore
	dedup      *forwarding.DedupWindow
	records    *forwarding.RecordLog
	dispatcher *worker.Dispatcher
	janitor    *maintenance.Janitor
}

// NewHandlers creates new HTTP handlers
func NewHandlers(kv store.KV, pinger Pinger, configs *forwarding.ConfigStore, dedup *forwarding.DedupWindow, records *forwarding.RecordLog, dispatcher *worker.Dispatcher, janitor *maintenance.Janitor) *Handlers {
	return &Handlers{
		kv:         kv,
		pinger:     pinger,
		configs:    configs,
		dedup:      dedup,
		records:    records,
		dispatcher: dispatcher,
		janitor:    janitor,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Health check
	router.GET("/healthz", h.HealthCheck)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api/v1")
	{
		// Inbound message delivery
		api.POST("/sms", h.DeliverSMS)

		// Companion configuration sync
		api.PUT("/config", h.SyncConfig)
		api.GET("/config", h.GetConfig)

		// Companion dedup query
		api.GET("/dedup", h.CheckDedup)

		// Forwarding history
		api.GET("/records", h.GetRecords)

		// Janitor control
		api.POST("/maintenance/run", h.RunMaintenance)
		api.GET("/maintenance/status", h.GetMaintenanceStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Store:     "ok",
		Metrics:   make(map[string]string),
	}

	if h.pinger != nil {
		if err := h.pinger.Ping(); err != nil {
			response.Status = "error"
			response.Store = "error"
			logrus.Errorf("Store health check failed: %v", err)
		}
	}

	if h.janitor.IsRunning() {
		response.Metrics["janitor"] = "running"
		response.Metrics["next_run"] = h.janitor.NextRun().Format(time.RFC3339)
	} else {
		response.Metrics["janitor"] = "stopped"
	}
	response.Metrics["records"] = strconv.Itoa(h.records.Size())
	response.Metrics["processed_keys"] = strconv.Itoa(h.dedup.Size())

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// DeliverSMS accepts one inbound message and detaches processing to the
// worker pool. The caller gets no pipeline result; outcomes are logged and
// counted only.
func (h *Handlers) DeliverSMS(c *gin.Context) {
	var req DeliverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	accepted := h.dispatcher.Submit(worker.Job{
		Sender:     req.Sender,
		Message:    req.Message,
		ReceivedAt: req.ReceivedAt(),
	})
	if !accepted {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "queue_full",
			Message: "Message dropped, worker queue is full",
			Code:    http.StatusServiceUnavailable,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// SyncConfig stores the full forwarding configuration blob written by the
// companion application. The write commits before the call succeeds.
func (h *Handlers) SyncConfig(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Empty configuration payload",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if err := h.configs.Save(string(raw)); err != nil {
		if errors.Is(err, forwarding.ErrInvalidConfig) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "Configuration payload is not valid JSON",
				Code:    http.StatusBadRequest,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "storage_error",
			Message: "Failed to store configuration",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Configuration synced successfully"})
}

// GetConfig returns the stored configuration blob verbatim.
func (h *Handlers) GetConfig(c *gin.Context) {
	raw, err := h.kv.Get(forwarding.ConfigKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "No configuration stored",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "storage_error",
			Message: "Failed to read configuration",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.Data(http.StatusOK, "application/json", []byte(raw))
}

// CheckDedup answers whether an (otp, sender, timestamp) event was already
// processed, using the identical bucketing formula as the pipeline so the
// companion application never disagrees on what counts as a duplicate.
func (h *Handlers) CheckDedup(c *gin.Context) {
	otpValue := c.Query("otp")
	sender := c.Query("sender")
	if otpValue == "" || sender == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "otp and sender query parameters are required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	at := time.Now()
	if ts := c.Query("timestamp"); ts != "" {
		millis, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "timestamp must be epoch milliseconds",
				Code:    http.StatusBadRequest,
			})
			return
		}
		at = time.UnixMilli(millis)
	}

	key := forwarding.DedupKey(otpValue, sender, at)
	c.JSON(http.StatusOK, DedupCheckResponse{
		Processed: h.dedup.AlreadyProcessed(key),
		Key:       key,
	})
}

// GetRecords returns the forwarding history, newest first.
func (h *Handlers) GetRecords(c *gin.Context) {
	records, err := h.records.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "storage_error",
			Message: "Failed to fetch records",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// RunMaintenance triggers a janitor pass immediately.
func (h *Handlers) RunMaintenance(c *gin.Context) {
	h.janitor.RunOnce()
	c.JSON(http.StatusOK, gin.H{"message": "Maintenance completed successfully"})
}

// GetMaintenanceStatus returns the janitor schedule state.
func (h *Handlers) GetMaintenanceStatus(c *gin.Context) {
	status := "stopped"
	if h.janitor.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.janitor.NextRun(),
		"last_run": h.janitor.LastRun(),
	})
}
