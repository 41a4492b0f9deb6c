package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-course-trade/internal/logx"
)

// Store is the persistence side of the relay.
type Store interface {
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Message, error)
	MarkSent(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	MarkDead(ctx context.Context, id string, attempts int, lastErr string) error
}

// Sink hands a message to the broker. A nil return means the broker
// acknowledged it durably.
type Sink interface {
	Deliver(ctx context.Context, m Message) error
}

type RelayConfig struct {
	Poll        time.Duration
	Batch       int
	Lease       time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.Poll <= 0 {
		c.Poll = 500 * time.Millisecond
	}
	if c.Batch <= 0 {
		c.Batch = 100
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 12
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	return c
}

type Relay struct {
	store Store
	sink  Sink
	cfg   RelayConfig
	log   *zap.Logger
	now   func() time.Time
}

func NewRelay(store Store, sink Sink, cfg RelayConfig, log *zap.Logger) *Relay {
	return &Relay{
		store: store,
		sink:  sink,
		cfg:   cfg.withDefaults(),
		log:   logx.OrNop(log),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Run flushes on every poll tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("outbox relay started", zap.Duration("poll", r.cfg.Poll), zap.Int("batch", r.cfg.Batch))
	t := time.NewTicker(r.cfg.Poll)
	defer t.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("outbox flush failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return nil
		case <-t.C:
		}
	}
}

// Flush publishes one claimed batch and reports how many rows were sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	msgs, err := r.store.Claim(ctx, r.cfg.Batch, r.cfg.Lease)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, m := range msgs {
		if ctx.Err() != nil {
			// unprocessed rows are picked up again once their lease expires
			return sent, ctx.Err()
		}
		if err := r.sink.Deliver(ctx, m); err != nil {
			r.fail(ctx, m, err)
			continue
		}
		if err := r.store.MarkSent(ctx, m.ID); err != nil {
			// published but not marked: the row is redelivered later
			r.log.Warn("outbox mark sent failed", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

func (r *Relay) fail(ctx context.Context, m Message, cause error) {
	attempts := m.Attempts + 1
	if attempts >= r.cfg.MaxAttempts {
		r.log.Error("outbox message dead-lettered",
			zap.String("id", m.ID), zap.String("event_type", m.EventType),
			zap.Int("attempts", attempts), zap.Error(cause))
		if err := r.store.MarkDead(ctx, m.ID, attempts, cause.Error()); err != nil {
			r.log.Warn("outbox mark dead failed", zap.String("id", m.ID), zap.Error(err))
		}
		return
	}
	next := r.now().Add(Backoff(attempts, r.cfg.BaseBackoff, r.cfg.MaxBackoff))
	r.log.Warn("outbox publish failed",
		zap.String("id", m.ID), zap.String("event_type", m.EventType),
		zap.Int("attempts", attempts), zap.Time("next_attempt_at", next), zap.Error(cause))
	if err := r.store.MarkRetry(ctx, m.ID, attempts, next, cause.Error()); err != nil {
		r.log.Warn("outbox mark retry failed", zap.String("id", m.ID), zap.Error(err))
	}
}

// Backoff doubles base for every attempt after the first, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
