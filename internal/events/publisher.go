// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-voice-session-service/internal/models"
	"ai-voice-session-service/internal/observability/metrics"
)

// Validator checks an event before it is published.
type Validator interface {
	Validate(event any) error
}

// Publisher publishes call events to separate Kafka topics: one for
// finalized conversation entries, one for analysis outcomes.
type Publisher struct {
	writerConversation *kafka.Writer
	writerAnalysis     *kafka.Writer
	principal          string
	topicConversation  string
	topicAnalysis      string
	enabled            bool
	validator          Validator
	metrics            *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers           []string
	TopicConversation string
	TopicAnalysis     string
	Principal         string
	Enabled           bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithValidator rejects events that fail v before they reach Kafka.
func WithValidator(v Validator) Option {
	return func(p *Publisher) { p.validator = v }
}

// New creates a new Kafka event publisher with separate topics for
// conversation entries and analysis outcomes.
func New(cfg *Config, opts ...Option) *Publisher {
	p := &Publisher{metrics: metrics.DefaultMetrics}
	for _, opt := range opts {
		opt(p)
	}

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}

	p.principal = cfg.Principal
	p.topicConversation = cfg.TopicConversation
	p.topicAnalysis = cfg.TopicAnalysis

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerConversation = newWriter(cfg.Brokers, cfg.TopicConversation, transport)
	p.writerAnalysis = newWriter(cfg.Brokers, cfg.TopicAnalysis, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicConversation", cfg.TopicConversation).
		Str("topicAnalysis", cfg.TopicAnalysis).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // keyed by call id, keeps a call on one partition
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishConversation publishes a finalized conversation entry.
func (p *Publisher) PublishConversation(ctx context.Context, ev models.ConversationEntryEvent) error {
	return p.publish(ctx, p.writerConversation, p.topicConversation, ev.EventType, ev.CallID, ev)
}

// PublishAnalysis publishes the terminal analysis outcome of a call.
func (p *Publisher) PublishAnalysis(ctx context.Context, ev models.CallAnalysisEvent) error {
	return p.publish(ctx, p.writerAnalysis, p.topicAnalysis, ev.EventType, ev.CallID, ev)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	if p.validator != nil {
		if err := p.validator.Validate(event); err != nil {
			log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Rejected invalid event")
			p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
			return err
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventId", Value: []byte(uuid.NewString())},
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerConversation != nil {
		if e := p.writerConversation.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing conversation writer")
			err = e
		}
	}
	if p.writerAnalysis != nil {
		if e := p.writerAnalysis.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing analysis writer")
			err = e
		}
	}
	return err
}
