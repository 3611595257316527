package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const retryDelay = 5 * time.Second

// Consumer оборачивает Sarama ConsumerGroup
type Consumer struct {
	group    sarama.ConsumerGroup
	topic    string
	logger   *zap.Logger
	messages chan Message
	closed   chan struct{}
}

// Message is one command read from the topic. Ack commits its offset; an
// unacknowledged message is redelivered after a rebalance or restart.
type Message struct {
	Value []byte
	ack   func()
}

func NewMessage(value []byte, ack func()) Message {
	return Message{Value: value, ack: ack}
}

func (m Message) Ack() {
	if m.ack != nil {
		m.ack()
	}
}

// NewConsumer создаёт и возвращает новый Consumer
func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	config.Consumer.Offsets.AutoCommit.Interval = time.Second

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:    group,
		topic:    topic,
		logger:   logger.With(zap.String("topic", topic)),
		messages: make(chan Message),
		closed:   make(chan struct{}),
	}, nil
}

// StartListening запускает асинхронное потребление сообщений
func (c *Consumer) StartListening(ctx context.Context) {
	handler := &consumerGroupHandler{
		messages: c.messages,
		closed:   c.closed,
		logger:   c.logger,
	}

	go func() {
		defer close(c.messages)

		for {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopped")
				return
			}

			if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
				c.logger.Warn("consume failed, retrying", zap.Duration("delay", retryDelay), zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(retryDelay):
				}
			}
		}
	}()
}

// Close останавливает потребитель и освобождает ресурсы
func (c *Consumer) Close() error {
	close(c.closed)
	return c.group.Close()
}

// Messages возвращает канал для чтения сообщений
func (c *Consumer) Messages() <-chan Message {
	return c.messages
}

// consumerGroupHandler реализует интерфейс sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	messages chan<- Message
	closed   <-chan struct{}
	logger   *zap.Logger
}

func (h *consumerGroupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info("partitions assigned",
		zap.Int32("generation", sess.GenerationID()),
		zap.Any("claims", sess.Claims()))
	return nil
}

func (h *consumerGroupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Debug("partitions released", zap.Int32("generation", sess.GenerationID()))
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			m := NewMessage(msg.Value, func() { sess.MarkMessage(msg, "") })
			select {
			case h.messages <- m:
				// подтверждение будет после обработки
			case <-sess.Context().Done():
				return nil
			case <-h.closed:
				return nil
			}
		case <-sess.Context().Done():
			return nil
		case <-h.closed:
			return nil
		}
	}
}
