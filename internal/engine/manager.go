package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/config"
	"github.com/Capitan-Parrot/downtime-recorder/internal/evidence"
	"github.com/Capitan-Parrot/downtime-recorder/internal/metrics"
	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
	"github.com/Capitan-Parrot/downtime-recorder/internal/sampler"
	"github.com/Capitan-Parrot/downtime-recorder/internal/source"
	"github.com/Capitan-Parrot/downtime-recorder/internal/store"
	"github.com/Capitan-Parrot/downtime-recorder/internal/zone"
)

const persistTimeout = 10 * time.Second

type SourceOpener interface {
	Open(ctx context.Context, locator string) (source.Stream, error)
}

// Persister durably stores final reports.
type Persister interface {
	SaveReport(ctx context.Context, report *models.Report) error
}

type EvidenceRecorder interface {
	ForSession(sessionID string, format func() evidence.Format) zone.Recorder
	Dir() string
}

type Options struct {
	Engine           config.Engine
	DetectionTimeout time.Duration
	Opener           SourceOpener
	Detector         sampler.Detector
	Recorder         EvidenceRecorder
	// Persister is optional.
	Persister Persister
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Manager owns all sessions of the process.
type Manager struct {
	opts   Options
	store  *store.Store[*Session]
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	mu      sync.Mutex
	pending map[string]chan struct{}
	wg      sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		opts:    opts,
		store:   store.New[*Session](),
		logger:  opts.Logger,
		now:     time.Now,
		newID:   uuid.NewString,
		pending: make(map[string]chan struct{}),
	}
}

// Start opens the source and launches the session pipeline. A second start on
// a locator that is already being monitored returns the running session id.
func (m *Manager) Start(ctx context.Context, req models.StartRequest) (string, error) {
	if err := models.ValidateZones(req.Zones); err != nil {
		return "", err
	}

	release, existing, err := m.claim(ctx, req.SourceLocator)
	if err != nil {
		return "", err
	}
	if existing != "" {
		m.logger.Info("source already monitored", zap.String("session_id", existing), zap.String("source", req.SourceLocator))
		return existing, nil
	}
	defer release()

	cfg := m.opts.Engine
	openCtx, cancelOpen := context.WithTimeout(ctx, cfg.ConnectTimeout)
	stream, err := m.opts.Opener.Open(openCtx, req.SourceLocator)
	cancelOpen()
	if err != nil {
		if !errors.Is(err, models.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
		}
		return "", err
	}

	id := m.newID()
	logger := m.logger.With(zap.String("session_id", id))
	s := &Session{
		id:             id,
		locator:        req.SourceLocator,
		detectorID:     req.DetectorID,
		startedAt:      m.now(),
		recordingsDir:  filepath.Join(m.opts.Recorder.Dir(), id),
		stream:         stream,
		metrics:        m.opts.Metrics,
		logger:         logger,
		persist:        m.opts.Persister,
		now:            m.now,
		noFrameTimeout: cfg.NoFrameTimeout,
		status:         models.StatusRunning,
		done:           make(chan struct{}),
	}
	s.ingestor = source.NewIngestor(stream, source.IngestorOptions{
		Capacity: cfg.QueueCapacity,
		Filter:   source.LuminanceFilter{Min: cfg.LuminanceMin, Max: cfg.LuminanceMax},
		Metrics:  m.opts.Metrics,
		Logger:   logger,
	})
	s.sampler = sampler.New(m.opts.Detector, req.DetectorID, sampler.Options{
		Interval:      cfg.SampleInterval,
		Timeout:       m.opts.DetectionTimeout,
		MinConfidence: cfg.MinConfidence,
		Classes:       cfg.Classes,
		Metrics:       m.opts.Metrics,
		Logger:        logger,
	})

	recorder := m.opts.Recorder.ForSession(id, s.evidenceFormat)
	for i, polygon := range req.Zones {
		z, err := zone.New(i, polygon, zone.Options{
			Origin:         s.startedAt,
			AbsenceSamples: cfg.TrackAbsenceSamples,
			Recorder:       recorder,
			Logger:         logger,
		})
		if err != nil {
			// validated above
			_ = stream.Close()
			return "", err
		}
		s.zones = append(s.zones, z)
	}
	s.publish(models.StatusRunning)

	// сессия живёт дольше запроса, который её создал
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	m.store.CreateIfAbsent(s)
	m.opts.Metrics.ActiveSessions.Inc()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run(runCtx)
	}()

	logger.Info("session started",
		zap.String("source", req.SourceLocator),
		zap.String("detector_id", req.DetectorID),
		zap.Int("zones", len(s.zones)))
	return id, nil
}

// claim makes the caller the only one opening locator. It returns the id of a
// session already running on it instead, waiting for a concurrent start to
// settle first.
func (m *Manager) claim(ctx context.Context, locator string) (release func(), existing string, err error) {
	for {
		m.mu.Lock()
		if s, ok := m.store.ByLocator(locator); ok {
			m.mu.Unlock()
			return nil, s.ID(), nil
		}
		wait, busy := m.pending[locator]
		if !busy {
			ch := make(chan struct{})
			m.pending[locator] = ch
			m.mu.Unlock()
			return func() {
				m.mu.Lock()
				delete(m.pending, locator)
				m.mu.Unlock()
				close(ch)
			}, "", nil
		}
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
}

// LiveStats never blocks on the pipeline.
func (m *Manager) LiveStats(id string) (*models.LiveStats, error) {
	s, err := m.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}
	return s.liveStats(), nil
}

// Stop finishes the session and returns its final report. Stopping a finished
// session returns the report computed the first time.
func (m *Manager) Stop(ctx context.Context, id string) (*models.Report, error) {
	s, err := m.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}
	return s.stop(ctx)
}

// List returns all known sessions, oldest first.
func (m *Manager) List() []models.SessionSummary {
	return lo.Map(m.store.List(), func(s *Session, _ int) models.SessionSummary {
		return s.summary()
	})
}

// Running returns the ids of sessions whose pipeline is still active.
func (m *Manager) Running() []string {
	running := lo.Filter(m.store.List(), func(s *Session, _ int) bool {
		return s.FinishedAt().IsZero()
	})
	return lo.Map(running, func(s *Session, _ int) string { return s.ID() })
}

// Reap forgets sessions finished more than retention ago.
func (m *Manager) Reap(now time.Time, retention time.Duration) []string {
	expired := m.store.Expired(now, retention)
	for _, s := range expired {
		m.store.Remove(s.ID())
	}
	return lo.Map(expired, func(s *Session, _ int) string { return s.ID() })
}

// OpenEvidence opens a recording written under the recordings root.
func (m *Manager) OpenEvidence(path string) (*os.File, error) {
	resolved, err := m.resolveEvidence(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, path)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, path)
	}
	return f, nil
}

// Evidence returns the bytes of a recording.
func (m *Manager) Evidence(path string) ([]byte, error) {
	resolved, err := m.resolveEvidence(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, path)
		}
		return nil, err
	}
	return data, nil
}

func (m *Manager) resolveEvidence(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty evidence path", models.ErrNotFound)
	}
	root, err := filepath.Abs(m.opts.Recorder.Dir())
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", models.ErrNotFound, path)
	}
	return abs, nil
}

// Shutdown stops every running session and waits for their reports.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, id := range m.Running() {
		if _, err := m.Stop(ctx, id); err != nil {
			m.logger.Warn("failed to stop session", zap.String("session_id", id), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
