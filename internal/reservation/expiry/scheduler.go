// Package expiry drives HOLD reservations to EXPIRED once their deadline
// passes. Two mechanisms cooperate: a Redis sorted-set timer fires close to
// the deadline, and a periodic database sweeper catches anything the timer
// missed. Both funnel through the same conditional status write, so a hold
// expires exactly once no matter how many mechanisms fire.
package expiry

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/logging"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
)

// Expirer is the slice of the application service the expiry subsystem needs.
type Expirer interface {
	ExpireReservation(ctx context.Context, id domain.ReservationID, origin string) error
	ListExpiredHolds(ctx context.Context, limit int) ([]*domain.Reservation, error)
	PurgeIdempotencyRecords(ctx context.Context) (int, error)
}

// timerSetKey is the sorted set of pending hold deadlines, scored by the
// deadline in unix milliseconds.
const timerSetKey = "reservation:hold_expiry"

// timerBatchSize caps how many due timers one poll processes.
const timerBatchSize = 100

// RedisScheduler indexes hold deadlines in a Redis sorted set. Losing the
// index is harmless: the sweeper still expires the hold, just later.
type RedisScheduler struct {
	client *redis.Client
}

// NewRedisScheduler creates the primary expiry scheduler.
func NewRedisScheduler(client *redis.Client) *RedisScheduler {
	return &RedisScheduler{client: client}
}

// Schedule registers a hold deadline. Re-registering the same reservation
// overwrites the score, which is the behavior we want on retries.
func (s *RedisScheduler) Schedule(ctx context.Context, id domain.ReservationID, fireAt time.Time) error {
	return s.client.ZAdd(ctx, timerSetKey, redis.Z{
		Score:  float64(fireAt.UnixMilli()),
		Member: id.String(),
	}).Err()
}

// Cancel removes the timer for a reservation that reached a terminal state.
// Removing an absent member is a no-op.
func (s *RedisScheduler) Cancel(ctx context.Context, id domain.ReservationID) error {
	return s.client.ZRem(ctx, timerSetKey, id.String()).Err()
}

// TimerPoller fires scheduled deadlines from the Redis index.
type TimerPoller struct {
	client  *redis.Client
	expirer Expirer
	poll    time.Duration
}

// NewTimerPoller creates the loop that consumes the scheduler's index.
func NewTimerPoller(client *redis.Client, expirer Expirer, poll time.Duration) *TimerPoller {
	return &TimerPoller{client: client, expirer: expirer, poll: poll}
}

// Run polls for due timers until the context is cancelled.
func (p *TimerPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	logging.Info("Expiry timer started", "poll_interval", p.poll.String())

	for {
		select {
		case <-ctx.Done():
			logging.Info("Expiry timer stopped")
			return
		case <-ticker.C:
			if err := p.FireDue(ctx, time.Now().UTC()); err != nil {
				logging.Error("Expiry timer pass failed", "error", err)
			}
		}
	}
}

// FireDue expires every timer whose deadline is at or before now. A member is
// removed from the index only after the expiry went through, so a crash
// mid-pass just means the next pass retries.
func (p *TimerPoller) FireDue(ctx context.Context, now time.Time) error {
	members, err := p.client.ZRangeByScore(ctx, timerSetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: timerBatchSize,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range members {
		id, err := domain.ParseReservationID(member)
		if err != nil {
			// Garbage in the index; drop it rather than loop on it forever.
			logging.Warn("Dropping malformed expiry timer", "member", member)
			p.client.ZRem(ctx, timerSetKey, member)
			continue
		}

		if err := p.expirer.ExpireReservation(ctx, id, "timer"); err != nil {
			logging.Error("Timer-driven expiry failed",
				"reservation_id", member,
				"error", err,
			)
			continue
		}
		if err := p.client.ZRem(ctx, timerSetKey, member).Err(); err != nil {
			return err
		}
	}
	return nil
}

// NopScheduler is used when no Redis is configured; the sweeper alone then
// carries expiry, within one sweep interval of the deadline.
type NopScheduler struct{}

// Schedule does nothing.
func (NopScheduler) Schedule(context.Context, domain.ReservationID, time.Time) error { return nil }

// Cancel does nothing.
func (NopScheduler) Cancel(context.Context, domain.ReservationID) error { return nil }
