// Package outbox drains durably stored domain events to the bus. Delivery is
// at-least-once: a row only becomes PUBLISHED after the sink accepts it, so a
// crash between publish and mark yields a duplicate, never a loss.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/events"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/logging"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/metrics"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
)

// Sink is the downstream bus the drainer publishes envelopes to.
type Sink interface {
	Publish(ctx context.Context, envelope events.Envelope) error
}

// Config tunes the drainer loop.
type Config struct {
	BatchSize    int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	PollInterval time.Duration
	// LeaseTimeout bounds how long a PROCESSING row may sit before it is
	// assumed stranded by a dead drainer and returned to PENDING.
	LeaseTimeout time.Duration
}

// Drainer polls the outbox and publishes due entries in creation order.
type Drainer struct {
	store domain.OutboxRepository
	sink  Sink
	cfg   Config
}

// NewDrainer creates a drainer over the given outbox store and sink.
func NewDrainer(store domain.OutboxRepository, sink Sink, cfg Config) *Drainer {
	return &Drainer{store: store, sink: sink, cfg: cfg}
}

// Run drains the outbox until the context is cancelled.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	logging.Info("Outbox drainer started",
		"poll_interval", d.cfg.PollInterval.String(),
		"batch_size", d.cfg.BatchSize,
	)

	for {
		select {
		case <-ctx.Done():
			logging.Info("Outbox drainer stopped")
			return
		case <-ticker.C:
			if err := d.DrainOnce(ctx, time.Now().UTC()); err != nil {
				logging.Error("Outbox drain pass failed", "error", err)
			}
		}
	}
}

// DrainOnce performs a single drain pass: recover stale leases, fetch due
// entries, and publish them one by one. When a publish fails, later entries
// for the same reservation are skipped so events stay in order per aggregate.
func (d *Drainer) DrainOnce(ctx context.Context, now time.Time) error {
	released, err := d.store.ReleaseStale(ctx, now.Add(-d.cfg.LeaseTimeout))
	if err != nil {
		return err
	}
	if released > 0 {
		logging.Warn("Recovered stale outbox leases", "count", released)
	}

	entries, err := d.store.FetchDue(ctx, now, d.cfg.BatchSize, d.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	metrics.OutboxPendingEvents.Set(float64(len(entries)))
	if len(entries) == 0 {
		return nil
	}

	blocked := make(map[domain.ReservationID]struct{})
	for _, entry := range entries {
		if _, held := blocked[entry.AggregateID]; held {
			continue
		}
		if err := d.publishEntry(ctx, entry, now); err != nil {
			blocked[entry.AggregateID] = struct{}{}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (d *Drainer) publishEntry(ctx context.Context, entry *domain.OutboxEntry, now time.Time) error {
	if err := d.store.Lease(ctx, entry.ID, now); err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) {
			// Another drainer replica took it; not a delivery failure.
			return nil
		}
		return err
	}

	envelope := events.NewEnvelope(entry.EventType, entry.CreatedAt, entry.Payload, entry.TraceID)
	if err := d.sink.Publish(ctx, envelope); err != nil {
		d.recordFailure(ctx, entry, now, err)
		return err
	}

	if err := d.store.MarkPublished(ctx, entry.ID); err != nil {
		// The event went out but the row could not be settled; a later pass
		// re-publishes it. Acceptable under at-least-once delivery.
		logging.ErrorContext(ctx, "Failed to mark outbox entry published",
			"outbox_id", entry.ID.String(),
			"event_type", entry.EventType,
			"error", err,
		)
		return err
	}

	metrics.OutboxPublished.Inc()
	logging.DebugContext(ctx, "Outbox entry published",
		"outbox_id", entry.ID.String(),
		"event_type", entry.EventType,
		"reservation_id", entry.AggregateID.String(),
	)
	return nil
}

func (d *Drainer) recordFailure(ctx context.Context, entry *domain.OutboxEntry, now time.Time, cause error) {
	attempts := entry.Attempts + 1

	var nextRetryAt *time.Time
	terminal := attempts >= d.cfg.MaxAttempts
	if !terminal {
		at := now.Add(d.retryDelay(attempts))
		nextRetryAt = &at
	}

	if err := d.store.MarkFailed(ctx, entry.ID, attempts, cause.Error(), nextRetryAt); err != nil {
		logging.ErrorContext(ctx, "Failed to record outbox failure",
			"outbox_id", entry.ID.String(),
			"error", err,
		)
		return
	}

	metrics.OutboxFailures.WithLabelValues(boolLabel(terminal)).Inc()
	if terminal {
		logging.ErrorContext(ctx, "Outbox entry exhausted retries",
			"outbox_id", entry.ID.String(),
			"event_type", entry.EventType,
			"reservation_id", entry.AggregateID.String(),
			"attempts", attempts,
			"error", cause,
		)
		return
	}
	logging.WarnContext(ctx, "Outbox publish failed, will retry",
		"outbox_id", entry.ID.String(),
		"event_type", entry.EventType,
		"attempts", attempts,
		"next_retry_at", nextRetryAt.Format(time.RFC3339),
		"error", cause,
	)
}

// retryDelay doubles the base delay per prior attempt, capped.
func (d *Drainer) retryDelay(attempts int) time.Duration {
	delay := d.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.cfg.BackoffCap {
			return d.cfg.BackoffCap
		}
	}
	if delay > d.cfg.BackoffCap {
		return d.cfg.BackoffCap
	}
	return delay
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
