// Package relay 把广播事件镜像到外部系统，供站外消费者或归档服务
// 订阅。镜像是尽力而为的: 失败只记录日志与告警，绝不反压广播中心。
package relay

import (
	"context"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/feed"
)

// Relay 定义事件镜像驱动的统一接口。
type Relay interface {
	// Publish 把一条已盖章的事件投递到外部系统。
	Publish(ctx context.Context, event feed.Event) error
	// Close 释放底层连接。
	Close() error
}

// Noop 是不做任何事情的镜像实现，用于未配置外部系统的场景。
type Noop struct{}

var _ Relay = Noop{}

// Publish 直接丢弃事件。
func (Noop) Publish(context.Context, feed.Event) error { return nil }

// Close 无资源可释放。
func (Noop) Close() error { return nil }
