package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-session-service/internal/config"
	"ai-voice-session-service/internal/events"
	"ai-voice-session-service/internal/observability/logging"
	"ai-voice-session-service/internal/schema"
	"ai-voice-session-service/internal/service/analysis"
	"ai-voice-session-service/internal/service/session"
	"ai-voice-session-service/internal/service/transport"
	"ai-voice-session-service/internal/service/transport/mock"
	"ai-voice-session-service/internal/service/transport/ws"
	"ai-voice-session-service/internal/store"
)

const analysisClientPoolSize = 4

// Application holds process-wide state for the session daemon.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Session   *session.Session
	Transport transport.Transport
	Publisher *events.Publisher

	archive *store.SQLiteStore
	stopErr context.CancelFunc
	errDone chan struct{}
}

// New wires the transport, poller, sinks and session from cfg.
func New(cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	t, err := newTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}
	a.Transport = t

	poller := analysis.NewPoller(
		analysis.NewHTTPStore(cfg.Analysis.BaseURL,
			analysis.NewPooledHTTPClient(analysisClientPoolSize, cfg.Analysis.RequestTimeout)),
		analysis.Config{
			Interval:     cfg.Analysis.Interval,
			MaxAttempts:  cfg.Analysis.MaxAttempts,
			PrePollDelay: cfg.Analysis.PrePollDelay,
		},
	)

	a.Publisher = events.New(&events.Config{
		Enabled:           cfg.Kafka.Enabled,
		Brokers:           cfg.Kafka.Brokers,
		TopicConversation: cfg.Kafka.TopicConversation,
		TopicAnalysis:     cfg.Kafka.TopicAnalysis,
		Principal:         cfg.Kafka.Principal,
	}, events.WithValidator(schema.New()))

	opts := []session.Option{
		session.WithPublisher(a.Publisher),
		session.WithClearDelay(cfg.Transcript.ClearDelay),
		session.WithAssistantID(cfg.Transport.AssistantID),
		session.WithMetadata(map[string]string{"principal": cfg.Service.Principal}),
	}

	if cfg.Store.Enabled {
		archive, err := store.NewSQLite(cfg.Store.DBPath)
		if err != nil {
			_ = a.Publisher.Close()
			return nil, fmt.Errorf("open call archive: %w", err)
		}
		a.archive = archive
		opts = append(opts, session.WithArchive(archive))
	}

	a.Session = session.New(t, poller, opts...)

	a.Logger.Info().
		Str("transport", cfg.Transport.Provider).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("archive", cfg.Store.Enabled).
		Dur("pollInterval", poller.Config().Interval).
		Int("pollMaxAttempts", poller.Config().MaxAttempts).
		Msg("AI voice session application created")
	return a, nil
}

func newTransport(cfg config.TransportConfig) (transport.Transport, error) {
	switch cfg.Provider {
	case "mock":
		return mock.New(mock.WithStep(cfg.MockStep)), nil
	case "ws":
		return ws.New(ws.Config{
			URL:          cfg.URL,
			APIKey:       cfg.APIKey,
			StartTimeout: cfg.StartTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport provider %q", cfg.Provider)
	}
}

// Repository returns the call archive, or nil when it is disabled.
func (a *Application) Repository() store.Repository {
	if a.archive == nil {
		return nil
	}
	return a.archive
}

// Ready reports whether the archive (when enabled) is reachable.
func (a *Application) Ready(ctx context.Context) error {
	if a.archive == nil {
		return nil
	}
	return a.archive.Ping(ctx)
}

// Start records the startup time and begins logging session errors.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()

	ctx, cancel := context.WithCancel(context.Background())
	a.stopErr = cancel
	a.errDone = make(chan struct{})
	go a.logSessionErrors(ctx)

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("AI voice session service starting")
	return nil
}

func (a *Application) logSessionErrors(ctx context.Context) {
	defer close(a.errDone)
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-a.Session.Errors():
			a.Logger.Error().Err(err).Msg("Session error")
		}
	}
}

// Shutdown closes the session and then its sinks.
func (a *Application) Shutdown() {
	a.Logger.Info().Msg("AI voice session service shutting down")

	if err := a.Session.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Session close failed")
	}
	if a.stopErr != nil {
		a.stopErr()
		<-a.errDone
	}
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Publisher close failed")
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Archive close failed")
		}
	}
}
