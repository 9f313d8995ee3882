// Package main is the entry point for the Mission Control event-and-proxy
// core: event ingestion, the durable Event Store, the live Stream Broker,
// the Fan-out Hub, and the Chat Proxy, served behind a single gin router.
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

	"github.com/missioncontrol/core/internal/api"
	"github.com/missioncontrol/core/internal/chatproxy"
	"github.com/missioncontrol/core/internal/common/config"
	"github.com/missioncontrol/core/internal/common/httpmw"
	"github.com/missioncontrol/core/internal/common/logger"
	"github.com/missioncontrol/core/internal/common/tracing"
	"github.com/missioncontrol/core/internal/fanout"
	"github.com/missioncontrol/core/internal/ingest"
	"github.com/missioncontrol/core/internal/store"
	"github.com/missioncontrol/core/internal/stream"

	// Blank-imported for their init() self-registration with the store
	// package's backend factory, per the Provide() dispatch pattern.
	_ "github.com/missioncontrol/core/internal/store/postgres"
	_ "github.com/missioncontrol/core/internal/store/sqlite"
)

const serverName = "missioncontrol"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Mission Control core...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Provide(ctx, store.ProvideParams{
		URL:      cfg.Database.URL,
		Path:     cfg.Database.Path,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal("Failed to initialize Event Store", zap.Error(err))
	}
	defer st.Close()
	log.Info("Event Store ready", zap.String("url", cfg.Database.URL))

	provided, closeBroker, err := stream.Provide(cfg.Broker.URL, cfg.Broker.Capacity, log)
	if err != nil {
		log.Fatal("Failed to initialize Stream Broker", zap.Error(err))
	}
	defer closeBroker()
	log.Info("Stream Broker ready", zap.Bool("nats", provided.NATS != nil))

	ingestor := ingest.New(st, provided.Broker, cfg.Broker.StreamKey, cfg.ChatProxy.Agents, log)

	hub := fanout.New(provided.Broker, cfg.Broker.StreamKey, cfg.Auth.Token, log)

	registry := chatproxy.NewRegistry(cfg.ChatProxy.Agents, cfg.Auth.UpstreamScheme)
	proxy := chatproxy.New(registry, ingestor, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, serverName))
	router.Use(httpmw.OtelTracing(serverName))

	api.SetupRoutes(router, st, ingestor, hub, proxy, cfg.Auth.Token, log)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Mission Control listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Mission Control...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}

	log.Info("Mission Control stopped")
}
