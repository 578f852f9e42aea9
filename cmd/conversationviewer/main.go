// Command conversationviewer shows published conversation entries and
// analysis outcomes live in the browser. It consumes both Kafka topics and
// relays events over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"ai-voice-session-service/internal/config"
	"ai-voice-session-service/internal/observability/logging"
	"ai-voice-session-service/internal/viewer"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	brokers := strings.Join(cfg.Kafka.Brokers, ",")
	if brokers == "" {
		brokers = "localhost:9092"
	}

	port := flag.String("port", "8081", "HTTP server port")
	brokerList := flag.String("brokers", brokers, "Kafka brokers (comma-separated)")
	topicConversation := flag.String("topic-conversation", cfg.Kafka.TopicConversation, "conversation entry topic")
	topicAnalysis := flag.String("topic-analysis", cfg.Kafka.TopicAnalysis, "analysis outcome topic")
	lookback := flag.Duration("lookback", time.Hour, "how far back to start reading")
	flag.Parse()

	logging.Init(logging.Config{Level: cfg.Observability.LogLevel, Format: "console"})

	hub := viewer.NewHub()
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, topic := range []string{*topicConversation, *topicAnalysis} {
		reader := viewer.NewReader(ctx, strings.Split(*brokerList, ","), topic, *lookback)
		defer reader.Close()
		go viewer.Consume(ctx, reader, topic, hub)
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(viewer.Page))
	})
	r.Get("/ws", hub.Handler())

	srv := &http.Server{Addr: ":" + *port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().
			Str("addr", "http://localhost:"+*port).
			Str("brokers", *brokerList).
			Strs("topics", []string{*topicConversation, *topicAnalysis}).
			Msg("Conversation viewer started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	hub.Stop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
}
