package watchdog

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const watchInterval = 30 * time.Second

type Reaper interface {
	Reap(now time.Time, retention time.Duration) []string
}

// Watchdog periodically forgets finished sessions past their retention.
type Watchdog struct {
	reaper    Reaper
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func New(reaper Reaper, retention time.Duration, logger *zap.Logger) *Watchdog {
	return &Watchdog{
		reaper:    reaper,
		retention: retention,
		interval:  watchInterval,
		logger:    logger,
		now:       time.Now,
	}
}

func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.checkSessions()
		}
	}
}

func (w *Watchdog) checkSessions() {
	for _, id := range w.reaper.Reap(w.now(), w.retention) {
		w.logger.Info("session expired", zap.String("session_id", id))
	}
}
