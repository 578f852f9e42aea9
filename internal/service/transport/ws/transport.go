// Package ws implements the call transport over a provider WebSocket relay.
//
// Protocol: the client sends {"type":"start",...}; the relay answers with
// {"type":"call-created","id":"..."} or {"type":"error","message":"..."}.
// Every later text frame is an event whose type is the event name, with an
// optional "volume" and "payload". The client ends the call with
// {"type":"stop"}.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-voice-session-service/internal/models"
	"ai-voice-session-service/internal/observability/logging"
	"ai-voice-session-service/internal/observability/metrics"
	"ai-voice-session-service/internal/service/transport"
)

const (
	defaultStartTimeout = 15 * time.Second
	closeGrace          = 2 * time.Second

	frameStart       = "start"
	frameStop        = "stop"
	frameCallCreated = "call-created"
)

var (
	// ErrCallInProgress is returned by Start while a connection is open.
	ErrCallInProgress = errors.New("ws: call already in progress")
	// ErrNoCallID is returned when the relay accepts a call without an id.
	ErrNoCallID = errors.New("ws: relay returned no call id")
)

// RejectedError is returned when the relay refuses to start a call.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ws: call rejected: %s", e.Message)
}

// Config holds the relay connection settings.
type Config struct {
	URL          string
	APIKey       string
	StartTimeout time.Duration
}

type startFrame struct {
	Type        string              `json:"type"`
	AssistantID string              `json:"assistantId,omitempty"`
	Contact     *models.ContactInfo `json:"contact,omitempty"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

type inboundFrame struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Volume  float64        `json:"volume,omitempty"`
	Message string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Transport implements transport.Transport over a WebSocket relay.
type Transport struct {
	transport.Emitter

	cfg    Config
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu      sync.Mutex
	conn    *connection
	metrics *metrics.Metrics
}

// New creates a WebSocket transport.
func New(cfg Config) *Transport {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	return &Transport{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.StartTimeout},
		log:     logging.WithComponent("ws-transport"),
		metrics: metrics.DefaultMetrics,
	}
}

// Start dials the relay, requests a call and waits for its id.
func (t *Transport) Start(ctx context.Context, cfg transport.StartConfig) (transport.CallInfo, error) {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return transport.CallInfo{}, ErrCallInProgress
	}
	// Reserve the slot while dialing.
	pending := &connection{done: make(chan struct{})}
	t.conn = pending
	t.mu.Unlock()

	info, c, err := t.open(ctx, cfg)

	t.mu.Lock()
	if err != nil {
		t.conn = nil
		t.mu.Unlock()
		return transport.CallInfo{}, err
	}
	t.conn = c
	t.mu.Unlock()

	go t.readLoop(c)
	return info, nil
}

func (t *Transport) open(ctx context.Context, cfg transport.StartConfig) (transport.CallInfo, *connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.StartTimeout)
	defer cancel()

	headers := make(http.Header)
	if t.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	conn, resp, err := t.dialer.DialContext(dialCtx, t.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return transport.CallInfo{}, nil, fmt.Errorf("ws: dial failed (status %d): %w", resp.StatusCode, err)
		}
		return transport.CallInfo{}, nil, fmt.Errorf("ws: dial failed: %w", err)
	}

	start := startFrame{
		Type:        frameStart,
		AssistantID: cfg.AssistantID,
		Contact:     cfg.Contact,
		Metadata:    cfg.Metadata,
	}
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		return transport.CallInfo{}, nil, fmt.Errorf("ws: send start: %w", err)
	}

	deadline := time.Now().Add(t.cfg.StartTimeout)
	if d, ok := dialCtx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var first inboundFrame
	if err := conn.ReadJSON(&first); err != nil {
		_ = conn.Close()
		return transport.CallInfo{}, nil, fmt.Errorf("ws: read call-created: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch first.Type {
	case frameCallCreated:
		if first.ID == "" {
			_ = conn.Close()
			return transport.CallInfo{}, nil, ErrNoCallID
		}
		c := &connection{ws: conn, callID: first.ID, done: make(chan struct{})}
		t.log.Info().Str("callId", first.ID).Msg("Relay accepted call")
		return transport.CallInfo{ID: first.ID}, c, nil
	case string(transport.EventError):
		_ = conn.Close()
		msg := first.Message
		if msg == "" {
			msg = transport.ErrorMessage(first.Payload)
		}
		return transport.CallInfo{}, nil, &RejectedError{Message: msg}
	default:
		_ = conn.Close()
		return transport.CallInfo{}, nil, fmt.Errorf("ws: unexpected first frame %q", first.Type)
	}
}

// Stop sends a stop frame, closes the connection and emits call-end if the
// relay did not. Safe to call when idle.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	c := t.conn
	t.mu.Unlock()

	if c == nil || c.ws == nil {
		return nil
	}

	c.stopping()
	if err := c.writeJSON(map[string]string{"type": frameStop}); err != nil {
		t.log.Debug().Err(err).Str("callId", c.callID).Msg("Failed to send stop frame")
	}
	c.close()

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (t *Transport) readLoop(c *connection) {
	log := logging.WithCall("ws-transport", c.callID)
	defer func() {
		t.mu.Lock()
		if t.conn == c {
			t.conn = nil
		}
		t.mu.Unlock()

		if c.markEnded() {
			t.Emit(transport.Event{Name: transport.EventCallEnd})
		}
		close(c.done)
	}()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.isStopping() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			log.Warn().Err(err).Msg("Relay connection lost")
			// An unexpected drop is fatal for the call.
			if !c.hasEnded() {
				t.Emit(transport.Event{
					Name:    transport.EventError,
					Payload: map[string]any{"message": "connection lost: " + err.Error()},
				})
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("Dropping malformed relay frame")
			continue
		}

		ev, ok := toEvent(frame)
		if !ok {
			log.Debug().Str("type", frame.Type).Msg("Ignoring unknown relay frame")
			continue
		}
		t.metrics.RecordTransportEvent(string(ev.Name))

		if ev.Name == transport.EventCallEnd {
			if c.markEnded() {
				t.Emit(ev)
			}
			continue
		}
		t.Emit(ev)
	}
}

func toEvent(f inboundFrame) (transport.Event, bool) {
	name := transport.EventName(f.Type)
	for _, known := range transport.AllEvents {
		if name != known {
			continue
		}
		ev := transport.Event{Name: name, Volume: f.Volume, Payload: f.Payload}
		if name == transport.EventError && f.Message != "" {
			if ev.Payload == nil {
				ev.Payload = map[string]any{}
			}
			if _, ok := ev.Payload["message"]; !ok {
				ev.Payload["message"] = f.Message
			}
		}
		return ev, true
	}
	return transport.Event{}, false
}

// connection is one relay session.
type connection struct {
	ws     *websocket.Conn
	callID string
	done   chan struct{}

	writeMu   sync.Mutex
	stateMu   sync.Mutex
	stop      bool
	ended     bool
	closeOnce sync.Once
}

func (c *connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(closeGrace))
	return c.ws.WriteJSON(v)
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

func (c *connection) stopping() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.stop = true
}

func (c *connection) isStopping() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.stop
}

// markEnded returns true the first time it is called.
func (c *connection) markEnded() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.ended {
		return false
	}
	c.ended = true
	return true
}

func (c *connection) hasEnded() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.ended
}
