package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

type Producer struct {
	producer       sarama.SyncProducer
	heartbeatTopic string
	reportTopic    string
}

// NewProducer создаёт продюсер с настройками
func NewProducer(brokers []string, heartbeatTopic, reportTopic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return newProducer(producer, heartbeatTopic, reportTopic), nil
}

func newProducer(p sarama.SyncProducer, heartbeatTopic, reportTopic string) *Producer {
	return &Producer{
		producer:       p,
		heartbeatTopic: heartbeatTopic,
		reportTopic:    reportTopic,
	}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// SendHeartbeat публикует состояние сессии
func (p *Producer) SendHeartbeat(msg models.Heartbeat) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.send(p.heartbeatTopic, msg.SessionID, payload)
}

// SendReport публикует финальный отчёт, payload уже сериализован
func (p *Producer) SendReport(sessionID string, payload []byte) error {
	return p.send(p.reportTopic, sessionID, payload)
}

func (p *Producer) send(topic, key string, payload []byte) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	return nil
}
