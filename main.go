package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"otplink/internal/forwarding"
	"otplink/internal/mailer"
	"otplink/internal/maintenance"
	"otplink/internal/metrics"
	"otplink/internal/pipeline"
	"otplink/internal/store"
	"otplink/internal/worker"
)

func main() {
	// Configure logging
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting OTPLink Forwarding Service")

	// Load configuration
	config, err := LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	if level, err := logrus.ParseLevel(config.Log.Level); err == nil {
		logrus.SetLevel(level)
	}

	// Initialize the durable store
	kv, err := openStore(config.Store)
	if err != nil {
		logrus.Fatalf("Failed to initialize store: %v", err)
	}

	// Initialize metrics
	m := metrics.New()

	// Initialize pipeline components
	configs := forwarding.NewConfigStore(kv)
	dedup := forwarding.NewDedupWindow(kv)
	records := forwarding.NewRecordLog(kv)
	sender := mailer.NewSMTP(config.SMTP.Timeout)
	pipe := pipeline.New(configs, dedup, records, sender, m)

	// Initialize the worker pool: deliveries detach here
	dispatcher := worker.NewDispatcher(config.Workers.Count, config.Workers.QueueSize, func(job worker.Job) {
		pipe.Process(job.Sender, job.Message, job.ReceivedAt)
	})

	// Initialize the maintenance janitor
	janitor := maintenance.NewJanitor(config.Maintenance.Interval, dedup, records, m)
	if err := janitor.Start(); err != nil {
		logrus.Fatalf("Failed to start janitor: %v", err)
	}

	// Initialize HTTP handlers
	handlers := NewHandlers(kv, kv, configs, dedup, records, dispatcher, janitor)

	// Setup HTTP server
	router := setupRouter(handlers)
	server := &http.Server{
		Addr:         ":" + config.Server.Port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("Starting HTTP server on port %s", config.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server first so no new deliveries arrive
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	// Drain in-flight pipeline work
	dispatcher.Stop()

	// Stop the janitor
	janitor.Stop()

	logrus.Info("Server stopped gracefully")
}

// openStore connects the configured durable store backend.
func openStore(cfg StoreConfig) (*store.DB, error) {
	switch cfg.Driver {
	case "mysql":
		return store.Open("mysql", cfg.GetDSN())
	default:
		return store.Open("sqlite", cfg.Path)
	}
}

// setupRouter sets up the HTTP router with middleware
func setupRouter(handlers *Handlers) *gin.Engine {
	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	// Create router
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())

	// Setup routes
	handlers.SetupRoutes(router)

	return router
}

// loggerMiddleware adds logging middleware
func loggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}
