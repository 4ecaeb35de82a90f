package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"cpidash/internal/amqp"
	"cpidash/internal/storage"
)

// EventStore is the persistence the worker needs. *storage.SQLiteRepository
// satisfies it.
type EventStore interface {
	RecordQueryEvent(ctx context.Context, rec storage.EventRecord) (bool, error)
	CategoryUsage(ctx context.Context, afterSeq int64) ([]storage.CategoryCount, int64, error)
}

// EventWorker persists query events received over AMQP and periodically
// reports which categories are being looked at.
type EventWorker struct {
	store    EventStore
	interval time.Duration
	now      func() time.Time

	received   atomic.Int64
	duplicates atomic.Int64
	lastFlush  time.Time
	mark       int64
}

func NewEventWorker(store EventStore, interval time.Duration) *EventWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &EventWorker{
		store:    store,
		interval: interval,
		now:      time.Now,
	}
}

// HandleQueryEvent stores a single message. Returning an error makes the
// consumer requeue it.
func (w *EventWorker) HandleQueryEvent(ctx context.Context, msg *amqp.QueryEventMessage) error {
	ev, err := msg.Event()
	if err != nil {
		// Undecodable dates will never succeed; drop by acknowledging.
		slog.WarnContext(ctx, "Discarding query event with invalid dates", "event_id", msg.ID, "error", err)
		return nil
	}

	inserted, err := w.store.RecordQueryEvent(ctx, storage.EventRecord{
		ID:         msg.ID,
		OccurredAt: msg.Timestamp,
		Event:      ev,
	})
	if err != nil {
		return fmt.Errorf("record query event: %w", err)
	}
	if !inserted {
		w.duplicates.Add(1)
		return nil
	}
	w.received.Add(1)

	slog.DebugContext(ctx, "Stored query event",
		"event_id", msg.ID,
		"kind", ev.Kind,
		"categories", ev.Categories,
		"rows", ev.RowCount)
	return nil
}

// Flush logs category usage for events stored since the previous flush.
// The first flush covers everything already stored.
func (w *EventWorker) Flush(ctx context.Context) error {
	now := w.now()
	since := w.lastFlush
	usage, mark, err := w.store.CategoryUsage(ctx, w.mark)
	if err != nil {
		return fmt.Errorf("category usage: %w", err)
	}
	w.lastFlush, w.mark = now, mark

	received := w.received.Swap(0)
	duplicates := w.duplicates.Swap(0)
	if received == 0 && len(usage) == 0 {
		return nil
	}

	attrs := make([]any, 0, 2*len(usage)+6)
	attrs = append(attrs, "events", received, "duplicates", duplicates)
	if !since.IsZero() {
		attrs = append(attrs, "since", since.UTC().Format(time.RFC3339))
	}
	for _, u := range usage {
		attrs = append(attrs, slog.Int64("category."+u.Category, u.Count))
	}
	slog.InfoContext(ctx, "Category usage", attrs...)
	return nil
}

// Run flushes on every tick until ctx is cancelled.
func (w *EventWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush with a fresh context so shutdown still reports.
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := w.Flush(flushCtx); err != nil {
				slog.ErrorContext(flushCtx, "Final usage flush failed", "error", err)
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				slog.ErrorContext(ctx, "Usage flush failed", "error", err)
			}
		}
	}
}
