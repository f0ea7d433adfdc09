package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-cap-alerts/internal/api"
	"github.com/mr1hm/go-cap-alerts/internal/blobstore"
	"github.com/mr1hm/go-cap-alerts/internal/broadcast"
	"github.com/mr1hm/go-cap-alerts/internal/cap"
	"github.com/mr1hm/go-cap-alerts/internal/config"
	"github.com/mr1hm/go-cap-alerts/internal/dispatch"
	"github.com/mr1hm/go-cap-alerts/internal/ingestion"
	"github.com/mr1hm/go-cap-alerts/internal/logging"
	"github.com/mr1hm/go-cap-alerts/internal/msglog"
	"github.com/mr1hm/go-cap-alerts/internal/ratelimit"
	"github.com/mr1hm/go-cap-alerts/internal/recipient"
	"github.com/mr1hm/go-cap-alerts/internal/repository"
	"github.com/mr1hm/go-cap-alerts/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	blobs, err := blobstore.Open(cfg.DB.BlobPath)
	if err != nil {
		logging.Fatalf("Failed to open blob store: %v", err)
	}
	defer blobs.Close()

	dir, err := loadDirectory(cfg.DB.DirectoryPath)
	if err != nil {
		logging.Fatalf("Failed to load recipient directory: %v", err)
	}
	resolver := recipient.NewResolver(dir)

	// Admissions are recorded in the database so the window survives restarts.
	limiter, err := ratelimit.New(db.LimitStore(), cfg.RateLimit.Ceiling, cfg.RateLimit.Window)
	if err != nil {
		logging.Fatalf("Failed to create rate limiter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Outbox status events for /api/stream
	broadcaster := broadcast.NewBroadcaster()

	senders := newSenders(cfg)
	fanout := dispatch.NewFanout(db, db, limiter, senders, broadcaster, dispatch.Config{
		Workers:     cfg.Worker.Count,
		QueueSize:   cfg.Worker.BufferSize,
		SendTimeout: cfg.Dispatch.SendTimeout,
	})
	fanout.Start(ctx)

	sched := scheduler.NewScheduler(cfg.Dispatch, fanout, limiter)
	if err := sched.Start(ctx); err != nil {
		logging.Fatalf("Failed to start scheduler: %v", err)
	}

	recorder := msglog.NewRecorder(db)
	relay, err := ingestion.NewDispatchRelay(recorder, resolver, fanout, cfg.Feeds.Targets, cfg.Feeds.Channel)
	if err != nil {
		logging.Fatalf("Failed to configure feed relay: %v", err)
	}

	// Start ingestion manager
	mgr := ingestion.NewManager(cfg, db, recorder, relay)
	mgr.Start(ctx)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "X-Alert-ID"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RequestsPerSecond, "/health", "/metrics", "/api/stream"))

	handler := api.NewHandler(api.Deps{
		Alerts:    db,
		Outbox:    db,
		Recorder:  recorder,
		Assembler: cap.NewAssembler(blobs),
		Resolver:  resolver,
		Fanout:    fanout,
		Events:    broadcaster,
		Blobs:     blobs,
		Limiter:   limiter,
		Senders:   senders,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	broadcaster.Close() // ends open event streams so Shutdown does not wait on them
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	cancel()
	mgr.Stop()
	sched.Stop()
	fanout.Stop()

	slog.Info("shutdown complete")
}

func loadDirectory(path string) (*recipient.YAMLDirectory, error) {
	if path == "" {
		slog.Warn("no recipient directory configured, only raw addresses will resolve")
		return recipient.ParseYAMLDirectory(nil)
	}
	return recipient.LoadYAMLDirectory(path)
}
