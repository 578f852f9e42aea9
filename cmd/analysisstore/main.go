// Command analysisstore serves GET /call-details for the session daemon's
// analysis poller by proxying the voice provider's call API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"ai-voice-session-service/internal/api/calldetails"
	"ai-voice-session-service/internal/config"
	"ai-voice-session-service/internal/observability"
	"ai-voice-session-service/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	store := cfg.AnalysisStore
	client := calldetails.NewClient(store.UpstreamURL, store.APIKey, nil, store.RequestTimeout)
	if !client.Configured() {
		log.Warn().Msg("VAPI_API_KEY not set; /call-details will answer 500")
	}

	srv := &http.Server{
		Addr:              ":" + store.Port,
		Handler:           calldetails.NewRouter(calldetails.NewHandler(client)),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      store.RequestTimeout + 5*time.Second,
	}

	obsServer := observability.NewServer(":"+cfg.Observability.MetricsPort, nil)
	obsServer.Start()

	go func() {
		log.Info().Str("addr", srv.Addr).Str("upstream", store.UpstreamURL).Msg("Analysis store started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Analysis store failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Analysis store shutdown failed")
	}
	_ = obsServer.Shutdown(ctx)
}
