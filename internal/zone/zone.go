package zone

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

// Clip is an open evidence recording. It is owned by exactly one zone and
// stopped exactly once.
type Clip interface {
	Append(frame *models.Frame)
	Stop() (string, error)
	// Discard stops the recording and removes what was written.
	Discard() error
}

// Recorder opens an evidence recording for an idle period starting at start
// (session-relative).
type Recorder interface {
	Start(zoneIndex int, start time.Duration) (Clip, error)
}

type Transition int

const (
	NoTransition Transition = iota
	BecameActive
	BecameIdle
)

func (t Transition) String() string {
	switch t {
	case BecameActive:
		return "idle_to_active"
	case BecameIdle:
		return "active_to_idle"
	default:
		return "none"
	}
}

type Options struct {
	// Origin is the wall-clock instant of session time zero.
	Origin         time.Time
	AbsenceSamples int
	Recorder       Recorder
	Logger         *zap.Logger
}

// Zone is the ACTIVE/IDLE state machine of one polygon. It is driven by a single
// goroutine; callers synchronise externally.
type Zone struct {
	index    int
	polygon  models.Polygon
	origin   time.Time
	recorder Recorder
	logger   *zap.Logger

	state           models.ZoneState
	stateSince      time.Duration
	lastSample      time.Duration
	idle            time.Duration
	active          time.Duration
	idleTransitions int
	periods         []models.IdlePeriod
	counter         *EntryCounter
	clip            Clip
	closed          bool
}

// New creates a zone in the IDLE state at session time zero and opens the first
// idle period together with its recording.
func New(index int, polygon models.Polygon, opts Options) (*Zone, error) {
	if len(polygon) < 3 {
		return nil, fmt.Errorf("zone %d has %d points: %w", index, len(polygon), models.ErrInvalidZone)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	z := &Zone{
		index:    index,
		polygon:  append(models.Polygon(nil), polygon...),
		origin:   opts.Origin,
		recorder: opts.Recorder,
		logger:   logger.With(zap.Int("zone", index)),
		state:    models.ZoneIdle,
		counter:  NewEntryCounter(opts.AbsenceSamples),
	}
	z.openPeriod(0)
	return z, nil
}

func (z *Zone) Index() int {
	return z.index
}

func (z *Zone) State() models.ZoneState {
	return z.state
}

// Observe evaluates one detection sample taken at session time t.
func (z *Zone) Observe(t time.Duration, detections []models.Detection) Transition {
	if z.closed {
		return NoTransition
	}
	if t < z.lastSample {
		t = z.lastSample
	}
	z.accumulate(t)

	occupied := false
	var ids []string
	for _, d := range detections {
		center, ok := d.Center()
		if !ok || !z.polygon.Contains(center) {
			continue
		}
		occupied = true
		if d.TrackID != "" {
			ids = append(ids, string(d.TrackID))
		}
	}
	if entered := z.counter.Observe(ids); entered > 0 {
		z.logger.Debug("object entered", zap.Int("entered", entered), zap.Int("entry_count", z.counter.Count()))
	}

	switch {
	case occupied && z.state == models.ZoneIdle:
		if last := z.periods[len(z.periods)-1]; last.Start == t.Seconds() {
			// Occupied at the instant idleness began: nothing to account.
			z.discardPeriod()
		} else {
			z.closePeriod(t)
		}
		z.state = models.ZoneActive
		z.stateSince = t
		z.logger.Info("zone active", zap.Duration("at", t))
		return BecameActive
	case !occupied && z.state == models.ZoneActive:
		z.state = models.ZoneIdle
		z.stateSince = t
		z.idleTransitions++
		z.openPeriod(t)
		z.logger.Info("zone idle", zap.Duration("at", t))
		return BecameIdle
	}
	return NoTransition
}

// AppendFrame feeds the open evidence recording while the zone is IDLE.
func (z *Zone) AppendFrame(frame *models.Frame) {
	if z.closed || z.state != models.ZoneIdle || z.clip == nil {
		return
	}
	z.clip.Append(frame)
}

// Close accounts time up to t, closes an open idle period and releases its
// recording. Further calls are no-ops.
func (z *Zone) Close(t time.Duration) {
	if z.closed {
		return
	}
	if t < z.lastSample {
		t = z.lastSample
	}
	z.accumulate(t)
	if z.state == models.ZoneIdle {
		z.closePeriod(t)
	}
	z.closed = true
}

func (z *Zone) accumulate(t time.Duration) {
	delta := t - z.lastSample
	if z.state == models.ZoneIdle {
		z.idle += delta
	} else {
		z.active += delta
	}
	z.lastSample = t
}

func (z *Zone) openPeriod(t time.Duration) {
	z.periods = append(z.periods, models.IdlePeriod{
		Start:     t.Seconds(),
		StartedAt: z.origin.Add(t),
	})

	if z.recorder == nil {
		return
	}
	clip, err := z.recorder.Start(z.index, t)
	if err != nil {
		z.logger.Warn("evidence recording unavailable", zap.Duration("at", t), zap.Error(err))
		return
	}
	z.clip = clip
}

func (z *Zone) closePeriod(t time.Duration) {
	p := &z.periods[len(z.periods)-1]
	end := t.Seconds()
	endedAt := z.origin.Add(t)
	p.End = &end
	p.EndedAt = &endedAt
	p.Duration = end - p.Start

	if z.clip == nil {
		return
	}
	path, err := z.clip.Stop()
	z.clip = nil
	if err != nil {
		z.logger.Warn("evidence recording finalize failed", zap.Error(err))
	}
	if path != "" {
		p.EvidencePath = &path
	}
}

func (z *Zone) discardPeriod() {
	z.periods = z.periods[:len(z.periods)-1]
	if z.clip == nil {
		return
	}
	if err := z.clip.Discard(); err != nil {
		z.logger.Warn("evidence recording discard failed", zap.Error(err))
	}
	z.clip = nil
}

// Stats returns the live view as of the last sample.
func (z *Zone) Stats() models.ZoneStats {
	var streak time.Duration
	if z.state == models.ZoneIdle {
		streak = z.lastSample - z.stateSince
	}
	return models.ZoneStats{
		ZoneIndex:         z.index,
		State:             z.state,
		CurrentIdleStreak: models.Round2(streak.Seconds()),
		CumulativeIdle:    models.Round2(z.idle.Seconds()),
		CumulativeActive:  models.Round2(z.active.Seconds()),
		EntryCount:        z.counter.Count(),
		DowntimeCount:     z.closedPeriods(),
	}
}

// closedPeriods counts finished idle periods; the open one is reported as
// the current idle streak instead.
func (z *Zone) closedPeriods() int {
	n := 0
	for _, p := range z.periods {
		if p.End != nil {
			n++
		}
	}
	return n
}

// Report returns the accounting of the zone with idle periods in start order.
func (z *Zone) Report() models.ZoneReport {
	idle, active := z.idle.Seconds(), z.active.Seconds()
	periods := make([]models.IdlePeriod, len(z.periods))
	for i, p := range z.periods {
		periods[i] = roundPeriod(p)
	}
	return models.ZoneReport{
		ZoneIndex:         z.index,
		CumulativeIdle:    models.Round2(idle),
		CumulativeActive:  models.Round2(active),
		EfficiencyPercent: models.Round2(models.Efficiency(active, idle)),
		EntryCount:        z.counter.Count(),
		IdleTransitions:   z.idleTransitions,
		DowntimeCount:     len(z.periods),
		IdlePeriods:       periods,
	}
}

func roundPeriod(p models.IdlePeriod) models.IdlePeriod {
	out := p
	out.Start = models.Round2(p.Start)
	out.Duration = models.Round2(p.Duration)
	if p.End != nil {
		end := models.Round2(*p.End)
		out.End = &end
	}
	if p.EndedAt != nil {
		endedAt := *p.EndedAt
		out.EndedAt = &endedAt
	}
	if p.EvidencePath != nil {
		path := *p.EvidencePath
		out.EvidencePath = &path
	}
	return out
}
