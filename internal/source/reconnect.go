package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/metrics"
	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

// OpenFunc (re)establishes the underlying transport.
type OpenFunc func(ctx context.Context) (Stream, error)

type Backoff struct {
	Retries int
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	d := b.Initial
	for i := 1; i < n && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Reconnecting hides transient failures of a live stream behind bounded
// reconnect attempts. Once Retries consecutive attempts fail without a frame
// being read, Next returns an error wrapping models.ErrSourceLost.
type Reconnecting struct {
	open    OpenFunc
	backoff Backoff
	metrics *metrics.Metrics
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	cur      Stream
	failures int
}

func NewReconnecting(initial Stream, open OpenFunc, backoff Backoff, m *metrics.Metrics, logger *zap.Logger) *Reconnecting {
	return &Reconnecting{
		open:    open,
		backoff: backoff,
		metrics: m,
		logger:  logger,
		sleep:   sleepCtx,
		cur:     initial,
	}
}

func (r *Reconnecting) Next(ctx context.Context) (*models.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if r.cur != nil {
			frame, err := r.cur.Next(ctx)
			if err == nil {
				r.failures = 0
				return frame, nil
			}
			if errors.Is(err, ErrEndOfStream) || ctx.Err() != nil {
				return nil, err
			}
			r.logger.Warn("source read failed", zap.Error(err))
			_ = r.cur.Close()
			r.cur = nil
		}

		if r.failures >= r.backoff.Retries {
			return nil, fmt.Errorf("%w: gave up after %d reconnect attempts", models.ErrSourceLost, r.failures)
		}
		r.failures++

		delay := r.backoff.Delay(r.failures)
		r.logger.Info("reconnecting source", zap.Int("attempt", r.failures), zap.Duration("delay", delay))
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
		if r.metrics != nil {
			r.metrics.Reconnects.Inc()
		}

		s, err := r.open(ctx)
		if err != nil {
			r.logger.Warn("reconnect failed", zap.Int("attempt", r.failures), zap.Error(err))
			continue
		}
		r.cur = s
	}
}

func (r *Reconnecting) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}
