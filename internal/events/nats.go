// Package events 提供会员事件总线。
// 当前实现基于 NATS JetStream，向下游系统（财务、报表）广播会员资格变更。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/squamishaccess/squamishaccess-functions/internal/domain"
)

// 事件类型常量定义
const (
	// EventMembershipActivated 表示付款处理完成、会员资格已开通或续期
	EventMembershipActivated = "membership.activated"
	// EventIPNRejected 表示 IPN 通知被判定为伪造
	EventIPNRejected = "membership.ipn_rejected"
)

// Bus 封装 NATS/JetStream 连接与事件发布操作。
type Bus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Logger
}

// Event 表示一条会员事件（JSON 格式）。
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Subject   string          `json:"subject"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventHandler 定义事件处理回调。
type EventHandler func(event *Event) error

// NewBus 创建事件总线并初始化所需的 JetStream Stream。
func NewBus(natsURL string, logger *logrus.Logger) (*Bus, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// 初始化会员事件 Stream（不存在则创建，存在则尝试更新配置）
	cfg := nats.StreamConfig{
		Name:     "MEMBERSHIP_EVENTS",
		Subjects: []string{"membership.>"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour * 30, // 保留 30 天，覆盖月度对账周期
	}
	if _, err := js.AddStream(&cfg); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		js.UpdateStream(&cfg)
	}

	return &Bus{
		conn:   nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close 关闭底层 NATS 连接。
func (b *Bus) Close() error {
	b.conn.Close()
	return nil
}

// Publish 发布事件到指定 subject。
func (b *Bus) Publish(ctx context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"subject":  subject,
		"event_id": event.ID,
		"type":     event.Type,
	}).Debug("Event published")

	return nil
}

// Subscribe 订阅匹配 subject 的事件（支持通配符）。
// ctx 取消时将自动取消订阅。
func (b *Bus) Subscribe(ctx context.Context, subject string, handler EventHandler) error {
	sub, err := b.js.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.WithError(err).Error("Failed to unmarshal event")
			msg.Nak()
			return
		}

		if err := handler(&event); err != nil {
			b.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to handle event")
			msg.Nak()
			return
		}

		msg.Ack()
	}, nats.Durable("membership-processor"), nats.ManualAck())

	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}

// PublishMembershipActivated 发布"会员资格开通/续期"事件。
func (b *Bus) PublishMembershipActivated(ctx context.Context, rec *domain.IPNRecord) error {
	data, _ := json.Marshal(rec)
	event := &Event{
		ID:        uuid.New().String(),
		Type:      EventMembershipActivated,
		Source:    "paypal-ipn",
		Subject:   EventMembershipActivated,
		Data:      data,
		Timestamp: time.Now(),
	}
	return b.Publish(ctx, event.Subject, event)
}

// PublishIPNRejected 发布"通知判定伪造"事件，供安全侧告警。
func (b *Bus) PublishIPNRejected(ctx context.Context, rec *domain.IPNRecord) error {
	data, _ := json.Marshal(rec)
	event := &Event{
		ID:        uuid.New().String(),
		Type:      EventIPNRejected,
		Source:    "paypal-ipn",
		Subject:   EventIPNRejected,
		Data:      data,
		Timestamp: time.Now(),
	}
	return b.Publish(ctx, event.Subject, event)
}
