// Package store provides the durable call archive.
package store

import (
	"context"
	"errors"
	"time"

	"ai-voice-session-service/internal/models"
)

// ErrNotFound is returned when a call is not archived.
var ErrNotFound = errors.New("store: call not found")

// CallRecord is an archived call with its conversation and analysis outcome.
type CallRecord struct {
	CallID         string                     `json:"callId"`
	Contact        *models.ContactInfo        `json:"contact,omitempty"`
	StartedAt      time.Time                  `json:"startedAt"`
	EndedAt        *time.Time                 `json:"endedAt,omitempty"`
	EndReason      string                     `json:"endReason,omitempty"`
	AnalysisStatus string                     `json:"analysisStatus,omitempty"`
	Attempts       int                        `json:"attempts,omitempty"`
	Summary        string                     `json:"summary,omitempty"`
	StructuredData map[string]any             `json:"structuredData,omitempty"`
	AnalysisError  string                     `json:"analysisError,omitempty"`
	Conversation   []models.ConversationEntry `json:"conversation"`
}

// Repository defines the interface for persisting calls.
type Repository interface {
	// CreateCall records a call the transport accepted. Idempotent per call id.
	CreateCall(ctx context.Context, callID string, contact *models.ContactInfo, startedAt time.Time) error

	// EndCall stamps the end time and reason. Only the first end is kept.
	EndCall(ctx context.Context, callID string, endedAt time.Time, reason string) error

	// AppendEntry stores a finalized conversation entry. Re-appending the same
	// sequence number is a no-op.
	AppendEntry(ctx context.Context, callID string, seq int, entry models.ConversationEntry) error

	// SaveAnalysis stores the terminal analysis outcome.
	SaveAnalysis(ctx context.Context, ev models.CallAnalysisEvent) error

	// GetCall returns a call with its conversation, or ErrNotFound.
	GetCall(ctx context.Context, callID string) (*CallRecord, error)

	// ListCalls returns the most recently started calls, without conversations.
	ListCalls(ctx context.Context, limit int) ([]*CallRecord, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
