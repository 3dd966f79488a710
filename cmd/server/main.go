package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/config"
	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/api"
	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/store"
	"github.com/taskpilot/taskpilot/internal/tools"
	"github.com/taskpilot/taskpilot/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger := utils.MustNewLogger(cfg.Logging)
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx := context.Background()

	postgres, err := store.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		sugar.Fatalf("postgres: failed to connect: %v", err)
	}
	defer postgres.Close()

	if err := postgres.Ping(ctx); err != nil {
		sugar.Fatalf("postgres: ping failed: %v", err)
	}
	if err := postgres.EnsureSchema(ctx); err != nil {
		sugar.Fatalf("postgres: ensure schema: %v", err)
	}

	var audit *store.Audit
	if cfg.Mongo.URI != "" {
		audit, err = store.NewAudit(ctx, cfg.Mongo)
		if err != nil {
			sugar.Fatalf("mongo: failed to connect: %v", err)
		}
		defer func() {
			if err := audit.Close(context.Background()); err != nil {
				sugar.Warnf("mongo: close error: %v", err)
			}
		}()

		if err := audit.EnsureCollections(ctx); err != nil {
			sugar.Fatalf("mongo: ensure collections: %v", err)
		}
	} else {
		sugar.Info("mongo: MONGO_URI not set, agent run auditing disabled")
	}

	authService, err := auth.NewService(cfg.JWTSecret)
	if err != nil {
		sugar.Fatalf("failed to initialise auth service: %v", err)
	}

	conversations := store.NewConversations(postgres)
	tasks := store.NewTasks(postgres)
	gateway := tools.NewGateway(tasks, sugar)
	orchestrator := agent.NewOrchestrator(agent.NewClient(cfg.LLM), gateway, sugar)

	router := setupRouter(authService, conversations, tasks, orchestrator, audit, sugar)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("server crashed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("graceful shutdown failed: %v", err)
	}

	sugar.Info("server stopped cleanly")
}

func setupRouter(
	authService *auth.Service,
	conversations *store.Conversations,
	tasks *store.Tasks,
	orchestrator *agent.Orchestrator,
	audit *store.Audit,
	sugar *zap.SugaredLogger,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	api.NewHandler(conversations, tasks, orchestrator, audit, sugar).RegisterRoutes(router, authService)

	return router
}
