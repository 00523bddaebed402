// Package ratelimit enforces fixed calendar-hour send ceilings, globally and
// per sender. The fast path is an atomic hourly counter; when it is
// unreachable, checks fall back to the durable shadow rows, and to counting
// SENT rows when those are unreadable too.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailflow/pkg/metrics"
)

// SentCounter is the last-resort fallback: SENT messages in an hour window.
type SentCounter interface {
	CountSentInWindow(ctx context.Context, start, end time.Time, senderID string) (int, error)
}

// DurableCounter shadows the fast-path counters into the store. Get reads a
// missing window as zero.
type DurableCounter interface {
	Increment(ctx context.Context, key string, windowStart time.Time) error
	Get(ctx context.Context, key string) (int, error)
}

// Result of a limiter check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	NextSlotAt time.Time
}

type Limiter struct {
	counter     Counter
	sent        SentCounter
	durable     DurableCounter
	globalLimit int
	senderLimit int
	logger      *zap.Logger
	now         func() time.Time
}

func New(counter Counter, sent SentCounter, durable DurableCounter, globalLimit, senderLimit int, logger *zap.Logger) *Limiter {
	return &Limiter{
		counter:     counter,
		sent:        sent,
		durable:     durable,
		globalLimit: globalLimit,
		senderLimit: senderLimit,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the time source; tests only.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// fastKey is the fast-path counter key for the current UTC hour.
// Format: ratelimit:email:{global|sender:<id>}:YYYY-MM-DD-HH
func fastKey(scope string, hourStart time.Time) string {
	return fmt.Sprintf("ratelimit:email:%s:%s", scope, hourStart.UTC().Format("2006-01-02-15"))
}

// durableKey is the store shadow key: {global|sender:<id>}:<hourStartIso>
func durableKey(scope string, hourStart time.Time) string {
	return fmt.Sprintf("%s:%s", scope, hourStart.UTC().Format(time.RFC3339))
}

func senderScope(senderID string) string {
	return "sender:" + senderID
}

// Check reports whether a send is allowed right now. senderID may be empty.
// A sender with no counter entry reads as zero: the first send from a new
// sender is never denied by the sender-scoped limit.
func (l *Limiter) Check(ctx context.Context, senderID string) (Result, error) {
	now := l.now().UTC()
	hourStart := now.Truncate(time.Hour)
	resetAt := hourStart.Add(time.Hour)

	globalCount, err := l.counter.Get(ctx, fastKey("global", hourStart))
	if err != nil {
		return l.fallbackCheck(ctx, senderID, now, hourStart, resetAt, err)
	}

	remaining := l.globalLimit - int(globalCount)

	if senderID != "" {
		senderCount, err := l.counter.Get(ctx, fastKey(senderScope(senderID), hourStart))
		if err != nil {
			return l.fallbackCheck(ctx, senderID, now, hourStart, resetAt, err)
		}
		if r := l.senderLimit - int(senderCount); r < remaining {
			remaining = r
		}
	}

	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:   remaining > 0,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if res.Allowed {
		res.NextSlotAt = now
		metrics.IncrementRateLimitDecision("allowed")
	} else {
		res.NextSlotAt = resetAt
		metrics.IncrementRateLimitDecision("denied")
	}
	return res, nil
}

// fallbackCheck answers from the durable store when the fast path errors:
// the shadow counter rows first, a SENT-row scan if those are unreadable too.
func (l *Limiter) fallbackCheck(ctx context.Context, senderID string, now, hourStart, resetAt time.Time, cause error) (Result, error) {
	l.logger.Warn("Rate limiter fast path unavailable, falling back to store",
		zap.Error(cause),
	)
	metrics.IncrementRateLimitDecision("fallback")

	remaining, err := l.shadowRemaining(ctx, senderID, hourStart)
	if err != nil {
		l.logger.Warn("Durable rate counters unreadable, counting sent rows",
			zap.Error(err),
		)
		remaining, err = l.sentRemaining(ctx, senderID, hourStart, resetAt)
		if err != nil {
			return Result{}, fmt.Errorf("rate limit fallback failed: %w", err)
		}
	}

	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:   remaining > 0,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if res.Allowed {
		res.NextSlotAt = now
	} else {
		res.NextSlotAt = resetAt
	}
	return res, nil
}

// shadowRemaining computes the remaining budget from the durable shadow rows.
func (l *Limiter) shadowRemaining(ctx context.Context, senderID string, hourStart time.Time) (int, error) {
	globalCount, err := l.durable.Get(ctx, durableKey("global", hourStart))
	if err != nil {
		return 0, err
	}
	remaining := l.globalLimit - globalCount

	if senderID != "" {
		senderCount, err := l.durable.Get(ctx, durableKey(senderScope(senderID), hourStart))
		if err != nil {
			return 0, err
		}
		if r := l.senderLimit - senderCount; r < remaining {
			remaining = r
		}
	}
	return remaining, nil
}

// sentRemaining computes the remaining budget from SENT rows in the window.
func (l *Limiter) sentRemaining(ctx context.Context, senderID string, hourStart, resetAt time.Time) (int, error) {
	globalSent, err := l.sent.CountSentInWindow(ctx, hourStart, resetAt, "")
	if err != nil {
		return 0, err
	}
	remaining := l.globalLimit - globalSent

	if senderID != "" {
		senderSent, err := l.sent.CountSentInWindow(ctx, hourStart, resetAt, senderID)
		if err != nil {
			return 0, err
		}
		if r := l.senderLimit - senderSent; r < remaining {
			remaining = r
		}
	}
	return remaining, nil
}

// Increment records a successful send against the current hour: fast-path
// counters plus the durable shadow rows. Call it only after the transport
// accepted the message; over-count is tolerable, under-count is not.
func (l *Limiter) Increment(ctx context.Context, senderID string) {
	now := l.now().UTC()
	hourStart := now.Truncate(time.Hour)
	ttl := hourStart.Add(time.Hour).Sub(now) + time.Minute

	if _, err := l.counter.Incr(ctx, fastKey("global", hourStart), ttl); err != nil {
		l.logger.Warn("Failed to bump global rate counter", zap.Error(err))
	}
	if err := l.durable.Increment(ctx, durableKey("global", hourStart), hourStart); err != nil {
		l.logger.Warn("Failed to upsert durable global rate counter", zap.Error(err))
	}

	if senderID == "" {
		return
	}
	scope := senderScope(senderID)
	if _, err := l.counter.Incr(ctx, fastKey(scope, hourStart), ttl); err != nil {
		l.logger.Warn("Failed to bump sender rate counter",
			zap.String("sender_id", senderID),
			zap.Error(err),
		)
	}
	if err := l.durable.Increment(ctx, durableKey(scope, hourStart), hourStart); err != nil {
		l.logger.Warn("Failed to upsert durable sender rate counter",
			zap.String("sender_id", senderID),
			zap.Error(err),
		)
	}
}

// NextSlot returns when the next send may go out for this sender.
func (l *Limiter) NextSlot(ctx context.Context, senderID string) (time.Time, error) {
	res, err := l.Check(ctx, senderID)
	if err != nil {
		return time.Time{}, err
	}
	return res.NextSlotAt, nil
}
