// Package events публикует события учёта во внешнюю шину.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/escobar-tracker/internal/model"
)

// Publisher публикует события о зафиксированных мутациях.
type Publisher interface {
	Publish(ctx context.Context, e model.LedgerEvent) error
	Close() error
}

// KafkaPublisher пишет события в топик Kafka с идентификатором участника в качестве ключа.
// События одного участника попадают в одну партицию по порядку.
// Запись асинхронная: Publish не ждёт брокера, ошибки доставки попадают в лог.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher создаёт издателя для списка брокеров через запятую.
func NewKafkaPublisher(brokers, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaPublisher{logger: logger}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(brokers)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   p.complete,
	}
	return p
}

// Publish отправляет событие в Kafka.
func (p *KafkaPublisher) Publish(ctx context.Context, e model.LedgerEvent) error {
	msg, err := message(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// complete логирует сообщения, которые не удалось доставить.
func (p *KafkaPublisher) complete(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range messages {
		p.logger.Warn("ledger event delivery failed",
			zap.Error(err),
			zap.String("memberID", string(m.Key)),
			zap.String("type", headerValue(m, "type")),
		)
	}
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Close сбрасывает буферы и закрывает соединения.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func message(e model.LedgerEvent) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.MemberID),
		Value: data,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NopPublisher отбрасывает события. Используется, когда шина не настроена.
type NopPublisher struct{}

// Publish ничего не делает.
func (NopPublisher) Publish(context.Context, model.LedgerEvent) error { return nil }

// Close ничего не делает.
func (NopPublisher) Close() error { return nil }
