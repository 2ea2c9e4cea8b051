package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/feed"
)

// RabbitMQConfig 描述 RabbitMQ 镜像的连接参数。
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// RabbitMQRelay 把事件发布到 fanout exchange，供任意数量的外部队列绑定。
type RabbitMQRelay struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

var _ Relay = (*RabbitMQRelay)(nil)

// NewRabbitMQRelay 创建 RabbitMQ 镜像实例。
func NewRabbitMQRelay(cfg RabbitMQConfig) (*RabbitMQRelay, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "council.feed"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	return &RabbitMQRelay{
		conn:       conn,
		ch:         ch,
		exchange:   exchange,
		routingKey: cfg.RoutingKey,
	}, nil
}

// Publish 把事件以 JSON 形式发布到 exchange。
func (r *RabbitMQRelay) Publish(ctx context.Context, event feed.Event) error {
	if r == nil || r.ch == nil {
		return errors.New("RabbitMQ 镜像未初始化")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	return r.ch.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

// Close 关闭 RabbitMQ 连接。
func (r *RabbitMQRelay) Close() error {
	if r == nil {
		return nil
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
