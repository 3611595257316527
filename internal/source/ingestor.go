package source

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/metrics"
	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

const rateWindow = 30

type IngestorOptions struct {
	// Capacity of the frame queue, 1 or 2.
	Capacity int
	Filter   LuminanceFilter
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Ingestor pulls frames from a Stream, drops corrupt ones and hands the rest
// over through a small queue that keeps the newest frames.
type Ingestor struct {
	stream  Stream
	filter  LuminanceFilter
	metrics *metrics.Metrics
	logger  *zap.Logger

	frames chan *models.Frame

	discarded atomic.Uint64
	dropped   atomic.Uint64

	rateMu sync.Mutex
	stamps []time.Time

	err error
}

func NewIngestor(stream Stream, opts IngestorOptions) *Ingestor {
	capacity := opts.Capacity
	if capacity < 1 {
		capacity = 1
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		stream:  stream,
		filter:  opts.Filter,
		metrics: m,
		logger:  logger,
		frames:  make(chan *models.Frame, capacity),
	}
}

// Frames is closed when Run returns; Err is valid after that.
func (in *Ingestor) Frames() <-chan *models.Frame {
	return in.frames
}

// Err returns why ingestion ended: nil for end of stream or cancellation.
func (in *Ingestor) Err() error {
	return in.err
}

func (in *Ingestor) Discarded() uint64 {
	return in.discarded.Load()
}

func (in *Ingestor) Dropped() uint64 {
	return in.dropped.Load()
}

// Run reads until the stream ends, fails for good or ctx is cancelled.
func (in *Ingestor) Run(ctx context.Context) {
	defer close(in.frames)

	for {
		frame, err := in.stream.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrEndOfStream):
				in.logger.Info("source reached end of stream")
			case ctx.Err() != nil:
			default:
				in.err = err
			}
			return
		}

		w, h, ok := in.filter.Check(frame.Data)
		if !ok {
			in.discarded.Add(1)
			in.metrics.FramesCorrupt.Inc()
			continue
		}
		frame.Width, frame.Height = w, h

		in.metrics.FramesIngested.Inc()
		in.observe(frame.Timestamp)
		in.push(frame)
	}
}

// push never blocks: when the queue is full the oldest frame is thrown away.
func (in *Ingestor) push(frame *models.Frame) {
	for {
		select {
		case in.frames <- frame:
			return
		default:
		}
		select {
		case <-in.frames:
			in.dropped.Add(1)
			in.metrics.FramesDropped.Inc()
		default:
		}
	}
}

func (in *Ingestor) observe(ts time.Time) {
	in.rateMu.Lock()
	defer in.rateMu.Unlock()
	in.stamps = append(in.stamps, ts)
	if len(in.stamps) > rateWindow {
		in.stamps = in.stamps[len(in.stamps)-rateWindow:]
	}
}

// FPS is the rate of accepted frames over the last few seconds of stream time.
func (in *Ingestor) FPS() float64 {
	in.rateMu.Lock()
	defer in.rateMu.Unlock()
	if len(in.stamps) < 2 {
		return 0
	}
	span := in.stamps[len(in.stamps)-1].Sub(in.stamps[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(in.stamps)-1) / span
}
