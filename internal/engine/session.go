package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/evidence"
	"github.com/Capitan-Parrot/downtime-recorder/internal/metrics"
	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
	"github.com/Capitan-Parrot/downtime-recorder/internal/sampler"
	"github.com/Capitan-Parrot/downtime-recorder/internal/source"
	"github.com/Capitan-Parrot/downtime-recorder/internal/zone"
)

// Session is one monitoring run. Zones, sampler and stream are touched only by
// the pipeline goroutine; everything read from outside goes through the
// published snapshot, atomics or mu.
type Session struct {
	id            string
	locator       string
	detectorID    string
	startedAt     time.Time
	recordingsDir string

	zones    []*zone.Zone
	sampler  *sampler.Sampler
	stream   source.Stream
	ingestor *source.Ingestor
	metrics  *metrics.Metrics
	logger   *zap.Logger
	persist  Persister
	now      func() time.Time

	noFrameTimeout time.Duration
	width, height  int
	lastElapsed    time.Duration
	exhausted      bool

	snapshot   atomic.Pointer[models.LiveStats]
	frames     atomic.Int64
	finishedAt atomic.Int64

	mu     sync.Mutex
	status models.SessionStatus
	report *models.Report

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Locator() string {
	return s.locator
}

func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

func (s *Session) FinishedAt() time.Time {
	ns := s.finishedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(next models.SessionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !models.IsValidStatusTransition(s.status, next) {
		return false
	}
	s.status = next
	return true
}

func (s *Session) evidenceFormat() evidence.Format {
	return evidence.Format{Width: s.width, Height: s.height, FPS: s.ingestor.FPS()}
}

// run is the session pipeline: it owns the stream and the zones until it
// returns, and always leaves a final report behind.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	ingestCtx, stopIngest := context.WithCancel(ctx)
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		s.ingestor.Run(ingestCtx)
	}()

	reason := s.loop(ctx)

	stopIngest()
	<-ingestDone
	if err := s.stream.Close(); err != nil {
		s.logger.Warn("failed to close source", zap.Error(err))
	}

	s.finalize(reason)
}

func (s *Session) loop(ctx context.Context) error {
	timer := time.NewTimer(s.noFrameTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			return models.ErrSourceTimeout
		case frame, ok := <-s.ingestor.Frames():
			if !ok {
				if err := s.ingestor.Err(); err != nil {
					return err
				}
				s.exhausted = true
				return nil
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.noFrameTimeout)
			s.handleFrame(ctx, frame)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame *models.Frame) {
	elapsed := frame.Timestamp.Sub(s.startedAt)
	if elapsed < s.lastElapsed {
		elapsed = s.lastElapsed
	}
	s.lastElapsed = elapsed
	if frame.Width > 0 && frame.Height > 0 {
		s.width, s.height = frame.Width, frame.Height
	}

	// текущий сэмпл доводим до конца даже если пришёл stop
	batch, fresh := s.sampler.Sample(context.WithoutCancel(ctx), frame, elapsed)
	if fresh {
		for _, z := range s.zones {
			if tr := z.Observe(elapsed, batch.Detections); tr != zone.NoTransition {
				s.metrics.ZoneTransitions.WithLabelValues(tr.String()).Inc()
			}
		}
	}
	for _, z := range s.zones {
		z.AppendFrame(frame)
	}
	if fresh {
		s.publish(models.StatusRunning)
	}
	s.frames.Add(1)
}

func (s *Session) publish(status models.SessionStatus) {
	zones := make([]models.ZoneStats, len(s.zones))
	for i, z := range s.zones {
		zones[i] = z.Stats()
	}
	s.snapshot.Store(&models.LiveStats{
		SessionID:   s.id,
		Status:      status,
		ElapsedTime: models.Round2(s.lastElapsed.Seconds()),
		Zones:       zones,
	})
}

func (s *Session) finalize(reason error) {
	s.setStatus(models.StatusStopping)

	// Stop and failures end the session now; a finished recording ends at its
	// last frame.
	if !s.exhausted {
		if wall := s.now().Sub(s.startedAt); wall > s.lastElapsed {
			s.lastElapsed = wall
		}
	}
	for _, z := range s.zones {
		z.Close(s.lastElapsed)
	}

	endedAt := s.now()
	report := &models.Report{
		SessionID:       s.id,
		SourceLocator:   s.locator,
		DetectorID:      s.detectorID,
		StartedAt:       s.startedAt,
		EndedAt:         endedAt,
		DurationSeconds: models.Round2(s.lastElapsed.Seconds()),
		FrameCount:      s.frames.Load(),
		FPS:             models.Round2(s.ingestor.FPS()),
		RecordingsDir:   s.recordingsDir,
		Zones:           make([]models.ZoneReport, len(s.zones)),
	}
	for i, z := range s.zones {
		report.Zones[i] = z.Report()
	}

	final := models.StatusStopped
	reasonLabel := "none"
	if reason != nil && !errors.Is(reason, context.Canceled) {
		code := models.CodeOf(reason)
		report.FailureReason = &code
		final = models.StatusFailed
		reasonLabel = string(code)
		s.logger.Error("session failed", zap.String("reason", reasonLabel), zap.Error(reason))
	}

	if s.persist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.persist.SaveReport(ctx, report); err != nil {
			s.logger.Warn("failed to persist report", zap.Error(err))
		}
		cancel()
	}

	s.mu.Lock()
	s.report = report
	s.status = final
	s.mu.Unlock()
	s.publish(final)
	s.finishedAt.Store(endedAt.UnixNano())

	s.metrics.SessionsStopped.WithLabelValues(reasonLabel).Inc()
	s.metrics.ActiveSessions.Dec()
	s.logger.Info("session finished",
		zap.String("status", string(final)),
		zap.Float64("duration", report.DurationSeconds),
		zap.Int64("frames", report.FrameCount))
}

// stop asks the pipeline to finish and waits for the final report.
func (s *Session) stop(ctx context.Context) (*models.Report, error) {
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report, nil
}

func (s *Session) liveStats() *models.LiveStats {
	snap := *s.snapshot.Load()
	snap.Status = s.Status()
	snap.FrameCount = s.frames.Load()
	snap.FPS = models.Round2(s.ingestor.FPS())
	return &snap
}

func (s *Session) summary() models.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := models.SessionSummary{
		SessionID:     s.id,
		SourceLocator: s.locator,
		DetectorID:    s.detectorID,
		Status:        s.status,
		StartedAt:     s.startedAt,
	}
	if s.report != nil {
		endedAt := s.report.EndedAt
		out.EndedAt = &endedAt
		out.FailureReason = s.report.FailureReason
	}
	return out
}
