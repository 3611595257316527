package evidence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/metrics"
	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
	"github.com/Capitan-Parrot/downtime-recorder/internal/zone"
)

const clipBuffer = 60

// Uploader mirrors finished clips to object storage.
type Uploader interface {
	Enqueue(localPath, objectKey string)
}

type Options struct {
	Dir      string
	Format   string
	Uploader Uploader
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Recorder opens evidence clips under Dir.
type Recorder struct {
	dir      string
	ext      string
	newSink  SinkFactory
	uploader Uploader
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewRecorder(opts Options) (*Recorder, error) {
	factory, ext, err := SinkFor(opts.Format)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Recorder{
		dir:      opts.Dir,
		ext:      ext,
		newSink:  factory,
		uploader: opts.Uploader,
		metrics:  m,
		logger:   logger,
	}, nil
}

// WithSink replaces the sink factory; ext is the file extension of its output.
func (r *Recorder) WithSink(factory SinkFactory, ext string) *Recorder {
	cp := *r
	cp.newSink = factory
	cp.ext = ext
	return &cp
}

// Dir returns the recordings root.
func (r *Recorder) Dir() string {
	return r.dir
}

// ClipName is the deterministic file name of the clip of zoneIndex starting at start.
func ClipName(sessionID string, zoneIndex int, start time.Duration, ext string) string {
	return filepath.Join(sessionID, fmt.Sprintf("zone%d_%08d%s", zoneIndex, start.Milliseconds(), ext))
}

// ForSession returns the zone.Recorder of one session. format is consulted at
// every clip start so the sink matches the stream as currently observed.
func (r *Recorder) ForSession(sessionID string, format func() Format) zone.Recorder {
	return &sessionRecorder{r: r, sessionID: sessionID, format: format}
}

type sessionRecorder struct {
	r         *Recorder
	sessionID string
	format    func() Format
}

func (s *sessionRecorder) Start(zoneIndex int, start time.Duration) (zone.Clip, error) {
	clip, err := s.r.start(s.sessionID, zoneIndex, start, s.format())
	if err != nil {
		s.r.metrics.RecordingFailures.Inc()
		return nil, err
	}
	s.r.metrics.RecordingsOpened.Inc()
	return clip, nil
}

func (r *Recorder) start(sessionID string, zoneIndex int, start time.Duration, format Format) (*Clip, error) {
	name := ClipName(sessionID, zoneIndex, start, r.ext)
	path := filepath.Join(r.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRecordingUnavailable, err)
	}
	sink, err := r.newSink(path, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRecordingUnavailable, err)
	}

	c := &Clip{
		path:   path,
		key:    filepath.ToSlash(name),
		sink:   sink,
		frames: make(chan *models.Frame, clipBuffer),
		owner:  r,
		logger: r.logger.With(zap.String("clip", name)),
	}
	c.wg.Add(1)
	go c.writeFrames()
	return c, nil
}

// Clip is one open evidence recording. Append and Stop must be called from the
// same goroutine.
type Clip struct {
	path   string
	key    string
	sink   Sink
	frames chan *models.Frame
	owner  *Recorder
	logger *zap.Logger

	wg       sync.WaitGroup
	once     sync.Once
	written  uint64
	writeErr error
	result   error
}

func (c *Clip) Path() string {
	return c.path
}

// Append queues a frame without blocking; frames are dropped when the writer
// falls behind.
func (c *Clip) Append(frame *models.Frame) {
	select {
	case c.frames <- frame:
	default:
		c.owner.metrics.RecordingDropped.Inc()
	}
}

func (c *Clip) writeFrames() {
	defer c.wg.Done()
	for frame := range c.frames {
		if c.writeErr != nil {
			continue
		}
		if err := c.sink.WriteFrame(frame); err != nil {
			c.writeErr = err
			c.logger.Warn("evidence write failed", zap.Error(err))
			continue
		}
		c.written++
		c.owner.metrics.RecordingFrames.Inc()
	}
}

func (c *Clip) finish() error {
	c.once.Do(func() {
		close(c.frames)
		c.wg.Wait()
		c.result = errors.Join(c.writeErr, c.sink.Close())
	})
	return c.result
}

// Stop drains pending frames, finalizes the file and returns its path.
func (c *Clip) Stop() (string, error) {
	err := c.finish()
	if _, statErr := os.Stat(c.path); statErr != nil {
		return "", errors.Join(err, statErr)
	}
	c.logger.Debug("evidence recording finished", zap.Uint64("frames", c.written))
	if c.owner.uploader != nil {
		c.owner.uploader.Enqueue(c.path, c.key)
	}
	return c.path, err
}

// Discard stops the recording and deletes its file.
func (c *Clip) Discard() error {
	err := c.finish()
	if rmErr := os.Remove(c.path); rmErr != nil && !os.IsNotExist(rmErr) {
		return errors.Join(err, rmErr)
	}
	return nil
}
