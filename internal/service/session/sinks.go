package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-session-service/internal/models"
	"ai-voice-session-service/internal/observability/metrics"
)

const (
	sinkBacklogWarn = 256
	sinkTimeout     = 10 * time.Second
)

// EventPublisher receives finalized conversation entries and analysis outcomes.
type EventPublisher interface {
	PublishConversation(ctx context.Context, ev models.ConversationEntryEvent) error
	PublishAnalysis(ctx context.Context, ev models.CallAnalysisEvent) error
}

// Archive persists calls, their conversation and their analysis outcome.
type Archive interface {
	CreateCall(ctx context.Context, callID string, contact *models.ContactInfo, startedAt time.Time) error
	EndCall(ctx context.Context, callID string, endedAt time.Time, reason string) error
	AppendEntry(ctx context.Context, callID string, seq int, entry models.ConversationEntry) error
	SaveAnalysis(ctx context.Context, ev models.CallAnalysisEvent) error
}

// sinkQueue runs publisher and archive writes in order on one goroutine so
// that slow sinks never hold the session lock or the transport's delivery
// goroutine. enqueue never blocks: jobs wait in an unbounded backlog.
// Failures are logged and never change session state.
type sinkQueue struct {
	publisher EventPublisher
	archive   Archive
	log       zerolog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	closed  bool
	pending []func(context.Context)
	wake    chan struct{}
	done    chan struct{}
}

func newSinkQueue(p EventPublisher, a Archive, log zerolog.Logger) *sinkQueue {
	q := &sinkQueue{
		publisher: p,
		archive:   a,
		log:       log,
		metrics:   metrics.DefaultMetrics,
	}
	if p == nil && a == nil {
		return q
	}
	q.wake = make(chan struct{}, 1)
	q.done = make(chan struct{})
	go q.run()
	return q
}

func (q *sinkQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, job := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			job(ctx)
			cancel()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

func (q *sinkQueue) enqueue(job func(context.Context)) {
	if q.wake == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, job)
	backlog := len(q.pending)
	q.mu.Unlock()

	if backlog == sinkBacklogWarn {
		q.log.Warn().Int("backlog", backlog).Msg("Sink writes are falling behind")
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// backlog reports how many jobs are waiting for the worker.
func (q *sinkQueue) backlog() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// close drains pending jobs and stops the worker.
func (q *sinkQueue) close() {
	if q.wake == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *sinkQueue) callStarted(callID string, contact *models.ContactInfo, at time.Time) {
	if q.archive == nil {
		return
	}
	q.enqueue(func(ctx context.Context) {
		if err := q.archive.CreateCall(ctx, callID, contact, at); err != nil {
			q.archiveFailed("create_call", callID, err)
		}
	})
}

func (q *sinkQueue) callEnded(callID string, at time.Time, reason string) {
	if q.archive == nil {
		return
	}
	q.enqueue(func(ctx context.Context) {
		if err := q.archive.EndCall(ctx, callID, at, reason); err != nil {
			q.archiveFailed("end_call", callID, err)
		}
	})
}

func (q *sinkQueue) entryFinalized(callID string, seq int, entry models.ConversationEntry) {
	q.enqueue(func(ctx context.Context) {
		if q.archive != nil {
			if err := q.archive.AppendEntry(ctx, callID, seq, entry); err != nil {
				q.archiveFailed("append_entry", callID, err)
			}
		}
		if q.publisher != nil {
			ev := models.ConversationEntryEvent{
				EventType: models.EventTypeConversationEntry,
				CallID:    callID,
				Sequence:  seq,
				Speaker:   entry.Speaker,
				Text:      entry.Text,
				Timestamp: entry.Timestamp.UnixMilli(),
			}
			if err := q.publisher.PublishConversation(ctx, ev); err != nil {
				q.log.Warn().Err(err).Str("callId", callID).Int("sequence", seq).Msg("Failed to publish conversation entry")
			}
		}
	})
}

func (q *sinkQueue) analysisDone(ev models.CallAnalysisEvent) {
	q.enqueue(func(ctx context.Context) {
		if q.archive != nil {
			if err := q.archive.SaveAnalysis(ctx, ev); err != nil {
				q.archiveFailed("save_analysis", ev.CallID, err)
			}
		}
		if q.publisher != nil {
			if err := q.publisher.PublishAnalysis(ctx, ev); err != nil {
				q.log.Warn().Err(err).Str("callId", ev.CallID).Msg("Failed to publish analysis outcome")
			}
		}
	})
}

func (q *sinkQueue) archiveFailed(op, callID string, err error) {
	q.metrics.RecordArchiveError(op)
	q.log.Warn().Err(err).Str("callId", callID).Str("op", op).Msg("Archive write failed")
}
