package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/metrics"
	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

// Detector is the external object detector.
type Detector func(ctx context.Context, frame *models.Frame, detectorID string) ([]models.Detection, error)

type Options struct {
	Interval      time.Duration
	Timeout       time.Duration
	MinConfidence float64
	// Classes limits detections to these labels; empty keeps all.
	Classes []string
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Sampler runs the detector at most once per Interval of session time and
// serves the cached batch for the frames in between.
type Sampler struct {
	detect     Detector
	detectorID string
	opts       Options
	classes    map[string]struct{}

	last    models.DetectionBatch
	sampled bool
}

func New(detect Detector, detectorID string, opts Options) *Sampler {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	var classes map[string]struct{}
	if len(opts.Classes) > 0 {
		classes = lo.SliceToMap(opts.Classes, func(c string) (string, struct{}) {
			return c, struct{}{}
		})
	}
	return &Sampler{
		detect:     detect,
		detectorID: detectorID,
		opts:       opts,
		classes:    classes,
	}
}

// Due reports whether a frame at elapsed would trigger a detection.
func (s *Sampler) Due(elapsed time.Duration) bool {
	return !s.sampled || elapsed-s.last.Elapsed >= s.opts.Interval
}

// Sample returns the detections in effect for frame and whether they were
// produced for it. A failed detector call yields an empty fresh batch.
func (s *Sampler) Sample(ctx context.Context, frame *models.Frame, elapsed time.Duration) (models.DetectionBatch, bool) {
	if !s.Due(elapsed) {
		return s.last, false
	}

	batch := models.DetectionBatch{
		Elapsed:    elapsed,
		CapturedAt: frame.Timestamp,
	}

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	started := time.Now()
	detections, err := s.call(callCtx, frame)
	s.opts.Metrics.DetectorCalls.Inc()
	s.opts.Metrics.DetectorLatency.Observe(time.Since(started).Seconds())

	if err != nil {
		s.opts.Metrics.DetectorFailures.Inc()
		s.opts.Logger.Warn("detector failed, treating sample as empty",
			zap.Duration("elapsed", elapsed), zap.Error(err))
		batch.Failed = true
	} else {
		batch.Detections = s.filter(detections)
	}

	s.last = batch
	s.sampled = true
	return batch, true
}

// call runs the detector, turning a panic into a DetectorFailure so one bad
// model cannot take the session down.
func (s *Sampler) call(ctx context.Context, frame *models.Frame) (detections []models.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			detections = nil
			err = fmt.Errorf("%w: detector panic: %v", models.ErrDetectorFailure, r)
		}
	}()
	return s.detect(ctx, frame, s.detectorID)
}

func (s *Sampler) filter(detections []models.Detection) []models.Detection {
	return lo.Filter(detections, func(d models.Detection, _ int) bool {
		if d.Score < s.opts.MinConfidence {
			return false
		}
		if s.classes != nil {
			if _, ok := s.classes[d.Class]; !ok {
				return false
			}
		}
		return true
	})
}
