package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Enqueuer is the subset of *asynq.Client the relay needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EventRelay moves events from the in-process outbox onto the task queue.
// Events that fail to enqueue go back to the head of the outbox.
type EventRelay struct {
	Outbox   *shared.Outbox
	Queue    Enqueuer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Interval time.Duration
}

// Run flushes whenever the outbox signals and on every interval tick, until
// ctx is done. A final flush runs on shutdown.
func (r *EventRelay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = r.Flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-r.Outbox.Ready():
		case <-ticker.C:
		}
		if err := r.Flush(ctx); err != nil {
			r.logger().Warn("event relay flush", slog.Any("error", err), slog.Int("pending", r.Outbox.Len()))
		}
	}
}

// Flush enqueues every buffered event in order and stops at the first failure.
// Without a Queue the events are logged and dropped.
func (r *EventRelay) Flush(ctx context.Context) error {
	events := r.Outbox.Drain()
	if r.Queue == nil {
		for _, evt := range events {
			r.logger().Debug("ledger event", slog.String("tag", string(evt.Tag)), slog.String("entity_id", evt.EntityID))
		}
		return nil
	}
	enqueued := 0
	defer func() { r.metrics().AddRelayed(enqueued) }()
	for i, evt := range events {
		task, err := NewEventTask(evt)
		if err != nil {
			r.logger().Error("drop unencodable event", slog.String("tag", string(evt.Tag)), slog.Any("error", err))
			continue
		}
		if _, err := r.Queue.EnqueueContext(ctx, task, asynq.Queue(QueueEvents), asynq.TaskID(evt.ID.String())); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				continue
			}
			r.Outbox.Requeue(events[i:])
			return err
		}
		enqueued++
	}
	return nil
}

func (r *EventRelay) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger.With(slog.String("component", "event_relay"))
	}
	return slog.Default().With(slog.String("component", "event_relay"))
}

func (r *EventRelay) metrics() *jobmetrics.Metrics {
	if r.Metrics != nil {
		return r.Metrics
	}
	return defaultJobMetrics
}

// NewEventTask wraps an event as a TaskLedgerEvent task.
func NewEventTask(evt shared.Event) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerEvent, data), nil
}

// EventLogHandler is the default consumer of relayed events: it writes each
// one to the log so downstream subscribers can be added without touching the ledger.
func EventLogHandler(logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var evt shared.Event
		if err := json.Unmarshal(t.Payload(), &evt); err != nil {
			return asynq.SkipRetry
		}
		attrs := []any{
			slog.String("tag", string(evt.Tag)),
			slog.String("entity_id", evt.EntityID),
			slog.Time("at", evt.At),
		}
		for k, v := range evt.Attrs {
			attrs = append(attrs, slog.String(k, v))
		}
		switch evt.Tag {
		case shared.EventIntegrityFault:
			logger.Error("ledger event", append(attrs, slog.String("alert", "critical"))...)
			return nil
		case shared.EventBudgetExceeded:
			logger.Warn("ledger event", append(attrs, slog.String("alert", "budget"))...)
			return nil
		}
		logger.Info("ledger event", attrs...)
		return nil
	}
}
