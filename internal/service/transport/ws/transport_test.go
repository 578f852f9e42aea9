package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ai-voice-session-service/internal/models"
	"ai-voice-session-service/internal/service/transport"
)

func newRelay(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn, r)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type recorder struct {
	mu     sync.Mutex
	events []transport.Event
}

func (r *recorder) handle(ev transport.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []transport.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transport.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) count(name transport.EventName) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestTransport_StartAndEvents(t *testing.T) {
	var gotStart startFrame
	var gotAuth string
	received := make(chan struct{})
	stopped := make(chan struct{})

	url := newRelay(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		gotAuth = r.Header.Get("Authorization")
		if err := conn.ReadJSON(&gotStart); err != nil {
			return
		}
		close(received)
		_ = conn.WriteJSON(map[string]any{"type": "call-created", "id": "relay-42"})
		_ = conn.WriteJSON(map[string]any{"type": "call-start"})
		_ = conn.WriteJSON(map[string]any{"type": "volume-level", "volume": 0.7})
		_ = conn.WriteJSON(map[string]any{
			"type":    "message",
			"payload": map[string]any{"type": "transcript", "role": "user", "transcript": "hi", "transcriptType": "final"},
		})
		_ = conn.WriteJSON(map[string]any{"type": "unknown-frame"})

		var stop map[string]string
		if err := conn.ReadJSON(&stop); err == nil && stop["type"] == "stop" {
			close(stopped)
		}
	})

	tr := New(Config{URL: url, APIKey: "secret", StartTimeout: time.Second})
	rec := &recorder{}
	for _, name := range transport.AllEvents {
		tr.Subscribe(name, rec.handle)
	}

	info, err := tr.Start(context.Background(), transport.StartConfig{
		AssistantID: "asst-1",
		Contact:     &models.ContactInfo{Name: "Ada"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if info.ID != "relay-42" {
		t.Errorf("expected call id relay-42, got %s", info.ID)
	}

	waitFor(t, func() bool { return rec.count(transport.EventMessage) == 1 })
	<-received

	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
	if gotStart.Type != "start" || gotStart.AssistantID != "asst-1" || gotStart.Contact.Name != "Ada" {
		t.Errorf("unexpected start frame: %+v", gotStart)
	}

	events := rec.snapshot()
	if events[0].Name != transport.EventCallStart {
		t.Errorf("expected call-start first, got %s", events[0].Name)
	}
	if events[1].Volume != 0.7 {
		t.Errorf("expected volume 0.7, got %v", events[1].Volume)
	}
	if events[2].Payload["transcript"] != "hi" {
		t.Errorf("expected transcript payload, got %v", events[2].Payload)
	}

	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Error("relay never received stop frame")
	}
	if got := rec.count(transport.EventCallEnd); got != 1 {
		t.Errorf("expected exactly 1 call-end, got %d", got)
	}
}

func TestTransport_RelayCallEndNotDuplicated(t *testing.T) {
	url := newRelay(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		var start startFrame
		_ = conn.ReadJSON(&start)
		_ = conn.WriteJSON(map[string]any{"type": "call-created", "id": "c1"})
		_ = conn.WriteJSON(map[string]any{"type": "call-end"})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	tr := New(Config{URL: url})
	rec := &recorder{}
	tr.Subscribe(transport.EventCallEnd, rec.handle)
	tr.Subscribe(transport.EventError, rec.handle)

	if _, err := tr.Start(context.Background(), transport.StartConfig{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, func() bool { return rec.count(transport.EventCallEnd) == 1 })
	time.Sleep(20 * time.Millisecond)

	if got := rec.count(transport.EventCallEnd); got != 1 {
		t.Errorf("expected 1 call-end, got %d", got)
	}
	if got := rec.count(transport.EventError); got != 0 {
		t.Errorf("expected no error on normal close, got %d", got)
	}
}

func TestTransport_Rejected(t *testing.T) {
	url := newRelay(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		var start startFrame
		_ = conn.ReadJSON(&start)
		_ = conn.WriteJSON(map[string]any{"type": "error", "message": "invalid assistant"})
	})

	tr := New(Config{URL: url})
	_, err := tr.Start(context.Background(), transport.StartConfig{AssistantID: "bad"})

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Message != "invalid assistant" {
		t.Errorf("unexpected message %q", rejected.Message)
	}

	// The slot is released so a retry can start.
	if _, err := tr.Start(context.Background(), transport.StartConfig{}); errors.Is(err, ErrCallInProgress) {
		t.Error("expected slot to be released after rejection")
	}
}

func TestTransport_MissingCallID(t *testing.T) {
	url := newRelay(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		var start startFrame
		_ = conn.ReadJSON(&start)
		_ = conn.WriteJSON(map[string]any{"type": "call-created"})
	})

	tr := New(Config{URL: url})
	if _, err := tr.Start(context.Background(), transport.StartConfig{}); !errors.Is(err, ErrNoCallID) {
		t.Fatalf("expected ErrNoCallID, got %v", err)
	}
}

func TestTransport_StartTimeout(t *testing.T) {
	url := newRelay(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		var start startFrame
		_ = conn.ReadJSON(&start)
		time.Sleep(200 * time.Millisecond)
	})

	tr := New(Config{URL: url, StartTimeout: 30 * time.Millisecond})
	if _, err := tr.Start(context.Background(), transport.StartConfig{}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestTransport_DialFailure(t *testing.T) {
	tr := New(Config{URL: "ws://127.0.0.1:1/none", StartTimeout: 100 * time.Millisecond})
	if _, err := tr.Start(context.Background(), transport.StartConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestTransport_ConnectionLostEmitsError(t *testing.T) {
	url := newRelay(t, func(conn *websocket.Conn, r *http.Request) {
		var start startFrame
		_ = conn.ReadJSON(&start)
		_ = conn.WriteJSON(map[string]any{"type": "call-created", "id": "c2"})
		_ = conn.WriteJSON(map[string]any{"type": "call-start"})
		// Drop without a close frame.
		_ = conn.UnderlyingConn().Close()
	})

	tr := New(Config{URL: url})
	rec := &recorder{}
	tr.Subscribe(transport.EventError, rec.handle)
	tr.Subscribe(transport.EventCallEnd, rec.handle)

	if _, err := tr.Start(context.Background(), transport.StartConfig{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, func() bool { return rec.count(transport.EventCallEnd) == 1 })

	events := rec.snapshot()
	if events[0].Name != transport.EventError {
		t.Fatalf("expected error before call-end, got %v", events)
	}
	if transport.IsSessionEnded(events[0].Payload) {
		t.Error("connection loss must not be classified as a benign end")
	}
}

func TestTransport_StopWhenIdle(t *testing.T) {
	tr := New(Config{URL: "ws://unused"})
	if err := tr.Stop(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestToEvent(t *testing.T) {
	tests := []struct {
		name  string
		frame inboundFrame
		want  transport.EventName
		ok    bool
	}{
		{"speech start", inboundFrame{Type: "speech-start"}, transport.EventSpeechStart, true},
		{"user transcript", inboundFrame{Type: "user-transcript"}, transport.EventUserTranscript, true},
		{"unknown", inboundFrame{Type: "pong"}, "", false},
		{"call created is not an event", inboundFrame{Type: "call-created"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := toEvent(tt.frame)
			if ok != tt.ok || ev.Name != tt.want {
				t.Errorf("toEvent() = (%s, %v), want (%s, %v)", ev.Name, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestToEvent_ErrorMessageLifted(t *testing.T) {
	ev, ok := toEvent(inboundFrame{Type: "error", Message: "Meeting has ended"})
	if !ok {
		t.Fatal("expected error frame to map")
	}
	if !transport.IsSessionEnded(ev.Payload) {
		t.Errorf("expected benign end, got payload %v", ev.Payload)
	}
}
