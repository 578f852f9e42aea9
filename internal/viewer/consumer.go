package viewer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-voice-session-service/internal/models"
)

const readRetryDelay = time.Second

// Event is a published call event as shown to browsers. Exactly one of
// Entry and Analysis is set.
type Event struct {
	EventType string                         `json:"eventType"`
	CallID    string                         `json:"callId"`
	Entry     *models.ConversationEntryEvent `json:"entry,omitempty"`
	Analysis  *models.CallAnalysisEvent      `json:"analysis,omitempty"`
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// NewReader creates a partition-0 reader on topic positioned lookback ago.
func NewReader(ctx context.Context, brokers []string, topic string, lookback time.Duration) *kafka.Reader {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if err := r.SetOffsetAt(ctx, time.Now().Add(-lookback)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the start")
	}
	return r
}

// Decode maps a Kafka message to a viewer event by its eventType header,
// falling back to the payload's eventType field.
func Decode(msg kafka.Message) (Event, bool) {
	eventType := ""
	for _, h := range msg.Headers {
		if h.Key == "eventType" {
			eventType = string(h.Value)
		}
	}
	if eventType == "" {
		var probe struct {
			EventType string `json:"eventType"`
		}
		if err := json.Unmarshal(msg.Value, &probe); err != nil {
			return Event{}, false
		}
		eventType = probe.EventType
	}

	switch eventType {
	case models.EventTypeConversationEntry:
		var e models.ConversationEntryEvent
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			return Event{}, false
		}
		return Event{EventType: eventType, CallID: e.CallID, Entry: &e}, true
	case models.EventTypeCallAnalysis:
		var a models.CallAnalysisEvent
		if err := json.Unmarshal(msg.Value, &a); err != nil {
			return Event{}, false
		}
		return Event{EventType: eventType, CallID: a.CallID, Analysis: &a}, true
	default:
		return Event{}, false
	}
}

// Consume reads r until ctx is done and publishes decoded events to hub.
func Consume(ctx context.Context, r MessageReader, topic string, hub *Hub) {
	logger := log.With().Str("component", "viewer-consumer").Str("topic", topic).Logger()
	logger.Info().Msg("Consuming")

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("Kafka read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}

		ev, ok := Decode(msg)
		if !ok {
			logger.Warn().Int64("offset", msg.Offset).Msg("Skipping undecodable message")
			continue
		}

		logger.Debug().Str("eventType", ev.EventType).Str("callId", ev.CallID).Msg("Received")
		if !hub.Publish(ev) {
			return
		}
	}
}
