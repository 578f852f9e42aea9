package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"ai-voice-session-service/internal/models"
)

func entryMessage(t *testing.T, withHeader bool) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(models.ConversationEntryEvent{
		EventType: models.EventTypeConversationEntry,
		CallID:    "call-1",
		Sequence:  1,
		Speaker:   models.SpeakerUser,
		Text:      "hello",
		Timestamp: 1700000000000,
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	msg := kafka.Message{Key: []byte("call-1"), Value: payload}
	if withHeader {
		msg.Headers = []kafka.Header{{Key: "eventType", Value: []byte(models.EventTypeConversationEntry)}}
	}
	return msg
}

func TestDecode(t *testing.T) {
	analysisPayload, _ := json.Marshal(models.CallAnalysisEvent{
		EventType: models.EventTypeCallAnalysis,
		CallID:    "call-2",
		Status:    "SUCCEEDED",
		Attempts:  4,
		Summary:   "ok",
		Timestamp: 1700000000000,
	})

	tests := []struct {
		name       string
		msg        kafka.Message
		wantOK     bool
		wantCallID string
		wantEntry  bool
	}{
		{"entry with header", entryMessage(t, true), true, "call-1", true},
		{"entry without header", entryMessage(t, false), true, "call-1", true},
		{"analysis", kafka.Message{Value: analysisPayload}, true, "call-2", false},
		{"unknown type", kafka.Message{Value: []byte(`{"eventType":"other"}`)}, false, "", false},
		{"not json", kafka.Message{Value: []byte(`nope`)}, false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Decode(tt.msg)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if ev.CallID != tt.wantCallID {
				t.Errorf("expected callId %s, got %s", tt.wantCallID, ev.CallID)
			}
			if (ev.Entry != nil) != tt.wantEntry || (ev.Analysis != nil) == tt.wantEntry {
				t.Errorf("unexpected event shape %+v", ev)
			}
		})
	}
}

// fakeReader returns queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu   sync.Mutex
	msgs []kafka.Message
	errs []error
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func TestConsume_PublishesDecodedEvents(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	reader := &fakeReader{msgs: []kafka.Message{
		{Value: []byte(`garbage`)},
		entryMessage(t, true),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Consume(ctx, reader, "calls.conversation", hub)
		close(done)
	}()

	select {
	case ev := <-hub.broadcast:
		if ev.Entry == nil || ev.Entry.Text != "hello" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestConsume_ReturnsWhenCancelledDuringRetry(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	reader := &fakeReader{errs: []error{errors.New("leader not available")}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Consume(ctx, reader, "calls.analysis", hub)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return during retry backoff")
	}
}

func TestHub_BroadcastsToClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.Clients())
	}

	ev, _ := Decode(entryMessage(t, true))
	if !hub.Publish(ev) {
		t.Fatal("Publish failed on running hub")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.EventType != models.EventTypeConversationEntry || got.Entry == nil || got.Entry.Speaker != models.SpeakerUser {
		t.Errorf("unexpected event %+v", got)
	}

	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Clients() != 0 {
		t.Errorf("expected client to be unregistered, got %d", hub.Clients())
	}
}

func TestHub_PublishAfterStop(t *testing.T) {
	hub := NewHub()
	hub.Stop()

	// Fill the buffer so the only ready case is done.
	for i := 0; i < broadcastBuffer; i++ {
		hub.broadcast <- Event{}
	}
	if hub.Publish(Event{}) {
		t.Error("expected Publish to fail on a stopped hub")
	}
}
