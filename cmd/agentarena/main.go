// Package main is the entry point for the agent-arena server. The
// single binary runs message ingestion, the orchestrator turn loop, the
// CLI worker runtime and the WebSocket gateway with shared
// infrastructure.
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
	"go.uber.org/zap"

	agenthandlers "github.com/agentarena/agentarena/internal/agent/handlers"
	"github.com/agentarena/agentarena/internal/common/config"
	"github.com/agentarena/agentarena/internal/common/httpmw"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/common/tracing"
	grouphandlers "github.com/agentarena/agentarena/internal/group/handlers"
)

const version = "0.1.0"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting agent-arena...", zap.String("version", version))

	if !cfg.Tracing.Enabled {
		tracing.Disable()
	}

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Event bus (in-memory by default, NATS if configured)
	eventBus, busCleanup, err := provideEventBus(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer func() {
		if err := busCleanup(); err != nil {
			log.Error("Event bus close error", zap.Error(err))
		}
	}()

	// 5. Group store
	arenaStore, storeCleanup, err := provideGroupStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize group store", zap.Error(err))
	}
	defer func() {
		if err := storeCleanup(); err != nil {
			log.Error("Group store close error", zap.Error(err))
		}
	}()

	// 6. Agent roster, personal memory, workspaces
	agentRegistry, personal, workspaceMgr, err := provideAgentPlane(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize agent plane", zap.Error(err))
	}

	// 7. Orchestrator + worker runtime
	orchestratorSvc, callLog, err := provideOrchestration(cfg, log, eventBus, arenaStore, agentRegistry, personal)
	if err != nil {
		log.Fatal("Failed to initialize orchestration", zap.Error(err))
	}
	if err := orchestratorSvc.Start(ctx); err != nil {
		log.Fatal("Failed to start orchestrator", zap.Error(err))
	}
	log.Info("Orchestrator started")

	// 8. WebSocket gateway
	gateway, err := provideGateway(ctx, log, eventBus)
	if err != nil {
		log.Fatal("Failed to initialize gateway", zap.Error(err))
	}

	// 9. HTTP server (WebSocket + HTTP endpoints)
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "agent-arena"))
	router.Use(httpmw.OtelTracing("agent-arena"))

	// WebSocket endpoint - primary realtime transport
	gateway.SetupRoutes(router)

	grouphandlers.RegisterGroupRoutes(router, gateway.Dispatcher, arenaStore, callLog, log)
	grouphandlers.RegisterMessageRoutes(router, gateway.Dispatcher, arenaStore, orchestratorSvc, eventBus, log)
	agenthandlers.RegisterAgentRoutes(router, gateway.Dispatcher, agentRegistry, workspaceMgr, log)
	log.Info("Registered HTTP + WebSocket handlers")

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "Agent Arena",
			"version": version,
			"status":  "running",
		})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"agents_loaded": agentRegistry.Count(),
		})
	})

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("websocket", "/ws"),
		zap.String("health", "/health"),
		zap.String("http", "/api/v1"),
	)

	// 10. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agent-arena...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := orchestratorSvc.Stop(); err != nil {
		log.Error("Orchestrator stop error", zap.Error(err))
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("agent-arena stopped")
}
