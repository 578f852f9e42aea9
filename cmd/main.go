package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	grpcapi "ai-voice-session-service/internal/api/grpc"
	"ai-voice-session-service/internal/app"
	"ai-voice-session-service/internal/config"
	httpapi "ai-voice-session-service/internal/http"
	"ai-voice-session-service/internal/observability"
	"ai-voice-session-service/internal/observability/logging"
)

const (
	shutdownTimeout     = 10 * time.Second
	healthCheckInterval = 15 * time.Second
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg := config.Load()

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	// Observability server: /metrics, /healthz, /readyz
	obsServer := observability.NewServer(":"+cfg.Observability.MetricsPort, application.Ready)
	obsServer.Start()

	// gRPC health + reflection
	grpcServer := grpcapi.New(map[string]grpcapi.Check{"archive": application.Ready})
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	go grpcServer.Watch(watchCtx, healthCheckInterval)

	// Session HTTP API
	handler := httpapi.NewHandler(application.Session, application.Repository())
	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("AI voice session service started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopWatch()
	grpcServer.Shutdown()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	application.Shutdown()
	if err := obsServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown failed")
	}
}
