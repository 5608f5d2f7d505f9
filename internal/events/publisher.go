package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/motorcart-next/internal/config"
	"github.com/motorcart-next/internal/service"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrPublisherDisabled 未配置 broker
var ErrPublisherDisabled = errors.New("event publisher disabled")

const defaultPublishTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 将审计事件写入 Kafka 主题，按实体ID分区保证单实体有序
type Publisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewPublisher 根据配置创建发布器
func NewPublisher(cfg config.EventsConfig, log *zap.SugaredLogger) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, broker := range cfg.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	if !cfg.Enabled || len(brokers) == 0 {
		return nil, ErrPublisherDisabled
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, fmt.Errorf("events.topic is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newPublisher(writer, topic, log), nil
}

func newPublisher(writer messageWriter, topic string, log *zap.SugaredLogger) *Publisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Publisher{writer: writer, topic: topic, timeout: defaultPublishTimeout, log: log}
}

// Record 实现 service.AuditSink
func (p *Publisher) Record(ctx context.Context, events []service.AuditEvent) error {
	if p == nil || len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode audit event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(event.EntityType + ":" + event.EntityID),
			Value: value,
			Time:  event.OccurredAt.UTC(),
			Headers: []kafka.Header{
				{Key: "entity_type", Value: []byte(event.EntityType)},
				{Key: "action", Value: []byte(event.Action)},
			},
		})
	}
	// 请求上下文可能已结束，发布使用独立超时
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, msgs...); err != nil {
		p.log.Warnw("event_publish_failed", "topic", p.topic, "count", len(msgs), "error", err)
		return err
	}
	return nil
}

// Close 刷新并关闭写入器
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
