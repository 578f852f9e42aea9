package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ai-voice-session-service/internal/config"
	"ai-voice-session-service/internal/models"
	"ai-voice-session-service/internal/service/call"
	"ai-voice-session-service/internal/service/transport/mock"
	"ai-voice-session-service/internal/service/transport/ws"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Service:    config.ServiceConfig{Principal: "svc-test"},
		Transport:  config.TransportConfig{Provider: "mock", MockStep: 5 * time.Millisecond},
		Transcript: config.TranscriptConfig{ClearDelay: time.Millisecond},
		Analysis: config.AnalysisConfig{
			BaseURL:        "http://127.0.0.1:1",
			Interval:       time.Millisecond,
			MaxAttempts:    1,
			RequestTimeout: time.Second,
		},
		Store: config.StoreConfig{Enabled: true, DBPath: filepath.Join(t.TempDir(), "calls.db")},
	}
}

func TestNew_WiresMockTransportAndArchive(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Shutdown()

	if _, ok := a.Transport.(*mock.Transport); !ok {
		t.Errorf("expected mock transport, got %T", a.Transport)
	}
	if a.Repository() == nil {
		t.Error("expected archive repository when store is enabled")
	}
	if err := a.Ready(context.Background()); err != nil {
		t.Errorf("expected ready, got %v", err)
	}
}

func TestNew_ArchiveDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Enabled = false

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Shutdown()

	if a.Repository() != nil {
		t.Error("expected nil repository when store is disabled")
	}
	if err := a.Ready(context.Background()); err != nil {
		t.Errorf("expected ready without archive, got %v", err)
	}
}

func TestNew_WSTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Enabled = false
	cfg.Transport = config.TransportConfig{Provider: "ws", URL: "ws://127.0.0.1:1/call"}

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Shutdown()

	if _, ok := a.Transport.(*ws.Transport); !ok {
		t.Errorf("expected ws transport, got %T", a.Transport)
	}
}

func TestNew_UnknownTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transport.Provider = "carrier-pigeon"

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestApplication_CallIsArchived(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx := context.Background()
	callID, err := a.Session.StartCall(ctx, &models.ContactInfo{Name: "Ada"})
	if err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for a.Session.Snapshot().Phase != call.PhaseEnded && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if phase := a.Session.Snapshot().Phase; phase != call.PhaseEnded {
		t.Fatalf("expected scripted call to end, got %v", phase)
	}

	// Shutdown drains the sink queue before closing the archive; reopen to read.
	a.Shutdown()

	b, err := New(a.Cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer b.Shutdown()

	rec, err := b.Repository().GetCall(ctx, callID)
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if rec.Contact == nil || rec.Contact.Name != "Ada" {
		t.Errorf("expected contact to be archived, got %+v", rec.Contact)
	}
	if rec.EndedAt == nil {
		t.Error("expected end to be archived")
	}
	if len(rec.Conversation) != len(mock.DefaultUtterances) {
		t.Errorf("expected %d entries, got %d", len(mock.DefaultUtterances), len(rec.Conversation))
	}
}
