package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ai-voice-session-service/internal/models"
)

const defaultListLimit = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writes to prevent SQLITE_BUSY
}

// NewSQLite opens (or creates) the archive at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS calls (
		call_id TEXT PRIMARY KEY,
		contact_name TEXT,
		contact_email TEXT,
		contact_phone TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		end_reason TEXT,
		analysis_status TEXT,
		attempts INTEGER DEFAULT 0,
		summary TEXT,
		structured_data TEXT,
		analysis_error TEXT,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_calls_started ON calls(started_at);

	CREATE TABLE IF NOT EXISTS conversation_entries (
		call_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (call_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateCall records a call the transport accepted.
func (s *SQLiteStore) CreateCall(ctx context.Context, callID string, contact *models.ContactInfo, startedAt time.Time) error {
	query := `
	INSERT INTO calls (call_id, contact_name, contact_email, contact_phone, started_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(call_id) DO UPDATE SET
		contact_name = excluded.contact_name,
		contact_email = excluded.contact_email,
		contact_phone = excluded.contact_phone,
		started_at = excluded.started_at,
		updated_at = excluded.updated_at`

	var name, email, phone any
	if contact != nil {
		name, email, phone = nullable(contact.Name), nullable(contact.Email), nullable(contact.Phone)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, query,
		callID, name, email, phone, startedAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("create call: %w", err)
	}
	return nil
}

// EndCall stamps the first end of a call.
func (s *SQLiteStore) EndCall(ctx context.Context, callID string, endedAt time.Time, reason string) error {
	query := `UPDATE calls SET ended_at = ?, end_reason = ?, updated_at = ? WHERE call_id = ? AND ended_at IS NULL`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, query, endedAt.UnixMilli(), reason, time.Now().UnixMilli(), callID); err != nil {
		return fmt.Errorf("end call: %w", err)
	}
	return nil
}

// AppendEntry stores a finalized conversation entry.
func (s *SQLiteStore) AppendEntry(ctx context.Context, callID string, seq int, entry models.ConversationEntry) error {
	query := `
	INSERT INTO conversation_entries (call_id, seq, speaker, text, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(call_id, seq) DO NOTHING`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, query,
		callID, seq, entry.Speaker.String(), entry.Text, entry.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

// SaveAnalysis stores the terminal analysis outcome. A call row is created
// if the outcome arrives before the call was recorded.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, ev models.CallAnalysisEvent) error {
	query := `
	INSERT INTO calls (call_id, started_at, analysis_status, attempts, summary, structured_data, analysis_error, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(call_id) DO UPDATE SET
		analysis_status = excluded.analysis_status,
		attempts = excluded.attempts,
		summary = excluded.summary,
		structured_data = excluded.structured_data,
		analysis_error = excluded.analysis_error,
		updated_at = excluded.updated_at`

	var structured any
	if ev.StructuredData != nil {
		raw, err := json.Marshal(ev.StructuredData)
		if err != nil {
			return fmt.Errorf("marshal structured data: %w", err)
		}
		structured = string(raw)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, query,
		ev.CallID, ev.Timestamp, ev.Status, ev.Attempts,
		nullable(ev.Summary), structured, nullable(ev.Error), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

const callColumns = `call_id, contact_name, contact_email, contact_phone, started_at, ended_at,
	end_reason, analysis_status, attempts, summary, structured_data, analysis_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*CallRecord, error) {
	var (
		rec                                    CallRecord
		name, email, phone                     sql.NullString
		endReason, status, summary, structured sql.NullString
		analysisErr                            sql.NullString
		startedAt                              int64
		endedAt                                sql.NullInt64
		attempts                               sql.NullInt64
	)

	err := row.Scan(&rec.CallID, &name, &email, &phone, &startedAt, &endedAt,
		&endReason, &status, &attempts, &summary, &structured, &analysisErr)
	if err != nil {
		return nil, err
	}

	if name.Valid || email.Valid || phone.Valid {
		rec.Contact = &models.ContactInfo{Name: name.String, Email: email.String, Phone: phone.String}
	}
	rec.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		rec.EndedAt = &t
	}
	rec.EndReason = endReason.String
	rec.AnalysisStatus = status.String
	rec.Attempts = int(attempts.Int64)
	rec.Summary = summary.String
	rec.AnalysisError = analysisErr.String
	if structured.Valid && structured.String != "" {
		if err := json.Unmarshal([]byte(structured.String), &rec.StructuredData); err != nil {
			return nil, fmt.Errorf("decode structured data: %w", err)
		}
	}
	return &rec, nil
}

// GetCall returns a call with its conversation.
func (s *SQLiteStore) GetCall(ctx context.Context, callID string) (*CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE call_id = ?`, callID)
	rec, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan call row: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT speaker, text, created_at FROM conversation_entries WHERE call_id = ? ORDER BY seq`, callID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	rec.Conversation = []models.ConversationEntry{}
	for rows.Next() {
		var speaker, text string
		var createdAt int64
		if err := rows.Scan(&speaker, &text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		rec.Conversation = append(rec.Conversation, models.ConversationEntry{
			Speaker:   parseSpeaker(speaker),
			Text:      text,
			Timestamp: time.UnixMilli(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return rec, nil
}

// ListCalls returns the most recently started calls.
func (s *SQLiteStore) ListCalls(ctx context.Context, limit int) ([]*CallRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM calls ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var calls []*CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		calls = append(calls, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return calls, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseSpeaker(s string) models.Speaker {
	if s == models.SpeakerUser.String() {
		return models.SpeakerUser
	}
	return models.SpeakerAssistant
}
