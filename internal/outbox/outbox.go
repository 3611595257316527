package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

const batchSize = 10

type Store interface {
	GetPendingOutboxMessages(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkOutboxMessageAsProcessed(ctx context.Context, id string) error
}

type Publisher interface {
	SendReport(sessionID string, payload []byte) error
}

// Dispatcher relays stored reports to the report topic. Delivery is at least
// once: a message is marked processed only after the broker accepted it.
type Dispatcher struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	logger    *zap.Logger
}

func NewDispatcher(store Store, publisher Publisher, interval time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce publishes one batch of pending messages and returns how many
// were delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	// Читаем непрочитанные сообщения
	messages, err := d.store.GetPendingOutboxMessages(ctx, batchSize)
	if err != nil {
		d.logger.Warn("error fetching outbox messages", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if err := d.publisher.SendReport(msg.SessionID, msg.Payload); err != nil {
			d.logger.Warn("failed to send report", zap.String("session_id", msg.SessionID), zap.Error(err))
			// сохраняем порядок: остальное отправим в следующий тик
			break
		}
		if err := d.store.MarkOutboxMessageAsProcessed(ctx, msg.ID); err != nil {
			d.logger.Warn("failed to mark outbox message as processed", zap.String("id", msg.ID), zap.Error(err))
			break
		}
		sent++
	}
	return sent
}
