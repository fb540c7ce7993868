package expiry

import (
	"context"
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/logging"
)

// sweepBatchSize caps how many overdue holds one sweep processes.
const sweepBatchSize = 200

// Sweeper is the database-backed expiry backstop. It scans for HOLD rows past
// their deadline and expires each; it also purges idempotency records past
// their TTL, piggybacking on the same cadence.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
}

// NewSweeper creates a sweeper with the given cadence.
func NewSweeper(expirer Expirer, interval time.Duration) *Sweeper {
	return &Sweeper{expirer: expirer, interval: interval}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info("Expiry sweeper started", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			logging.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				logging.Error("Sweep pass failed", "error", err)
			}
		}
	}
}

// SweepOnce performs one pass: expire overdue holds, then purge stale
// idempotency records. Individual expiry failures do not abort the pass.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	overdue, err := s.expirer.ListExpiredHolds(ctx, sweepBatchSize)
	if err != nil {
		return err
	}

	for _, r := range overdue {
		if err := s.expirer.ExpireReservation(ctx, r.ID(), "sweeper"); err != nil {
			logging.Error("Sweeper-driven expiry failed",
				"reservation_id", r.ID().String(),
				"error", err,
			)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	purged, err := s.expirer.PurgeIdempotencyRecords(ctx)
	if err != nil {
		return err
	}
	if len(overdue) > 0 || purged > 0 {
		logging.Info("Sweep pass complete",
			"expired_holds", len(overdue),
			"purged_idempotency_records", purged,
		)
	}
	return nil
}
