package runner

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/kafka"
	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

type Engine interface {
	Start(ctx context.Context, req models.StartRequest) (string, error)
	Stop(ctx context.Context, id string) (*models.Report, error)
	LiveStats(id string) (*models.LiveStats, error)
	Running() []string
}

type CommandSource interface {
	Messages() <-chan kafka.Message
}

type HeartbeatSender interface {
	SendHeartbeat(msg models.Heartbeat) error
}

// Runner drives the engine from the command topic and reports progress of
// running sessions on the heartbeat topic.
type Runner struct {
	engine     Engine
	commands   CommandSource
	heartbeats HeartbeatSender
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func New(engine Engine, commands CommandSource, heartbeats HeartbeatSender, interval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		engine:     engine,
		commands:   commands,
		heartbeats: heartbeats,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

func (r *Runner) ListenAndRun(ctx context.Context) {
	r.logger.Info("listening for session commands")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner shutting down")
			return
		case msg, ok := <-r.commands.Messages():
			if !ok {
				return
			}
			if r.handle(ctx, msg.Value) {
				msg.Ack()
			}
		}
	}
}

// handle returns whether the command is done with: processed, or failed in a
// way a redelivery would not fix.
func (r *Runner) handle(ctx context.Context, value []byte) bool {
	var cmd models.SessionCommand
	if err := json.Unmarshal(value, &cmd); err != nil {
		r.logger.Warn("invalid command format", zap.Error(err))
		return true
	}

	switch cmd.Action {
	case models.CommandStart:
		return r.start(ctx, cmd)
	case models.CommandStop:
		return r.stop(ctx, cmd.SessionID)
	default:
		r.logger.Warn("unknown command", zap.String("action", string(cmd.Action)))
		return true
	}
}

func (r *Runner) start(ctx context.Context, cmd models.SessionCommand) bool {
	id, err := r.engine.Start(ctx, models.StartRequest{
		SourceLocator: cmd.SourceLocator,
		DetectorID:    cmd.DetectorID,
		Zones:         cmd.Zones,
	})
	if err != nil {
		r.logger.Warn("start failed", zap.String("source", cmd.SourceLocator), zap.Error(err))
		// источник может подняться позже, оставляем команду неподтверждённой
		return !errors.Is(err, models.ErrSourceUnavailable)
	}

	r.send(models.Heartbeat{SessionID: id, Action: models.CommandStart, TimeStamp: r.now().UTC()})
	return true
}

func (r *Runner) stop(ctx context.Context, id string) bool {
	report, err := r.engine.Stop(ctx, id)
	if err != nil {
		r.logger.Warn("stop failed", zap.String("session_id", id), zap.Error(err))
		return errors.Is(err, models.ErrSessionNotFound)
	}

	r.send(models.Heartbeat{
		SessionID: id,
		Action:    models.CommandStop,
		Frame:     report.FrameCount,
		TimeStamp: r.now().UTC(),
	})
	return true
}

// SendHeartbeats publishes the live stats of every running session each interval.
func (r *Runner) SendHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.beat()
		}
	}
}

func (r *Runner) beat() {
	for _, id := range r.engine.Running() {
		stats, err := r.engine.LiveStats(id)
		if err != nil {
			continue
		}
		r.send(models.Heartbeat{
			SessionID: id,
			Action:    models.CommandStart,
			Frame:     stats.FrameCount,
			Stats:     stats,
			TimeStamp: r.now().UTC(),
		})
	}
}

func (r *Runner) send(hb models.Heartbeat) {
	if err := r.heartbeats.SendHeartbeat(hb); err != nil {
		r.logger.Warn("error sending heartbeat", zap.String("session_id", hb.SessionID), zap.Error(err))
	}
}
