package feed

import (
	"fmt"
	"sync"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

const defaultSubscriberBuffer = 64

// Hub 负责为所有订阅者广播事件。发布方永远不会被慢消费者阻塞。
type Hub struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[*Subscriber]struct{}
	buffer int
	closed bool

	now func() time.Time
}

// HubOption 配置广播中心。
type HubOption func(*Hub)

// WithSubscriberBuffer 设置每个订阅者的队列容量。
func WithSubscriberBuffer(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.buffer = size
		}
	}
}

// WithHubClock 覆盖事件时间戳来源，仅用于测试。
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHub 创建广播中心。
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:   make(map[*Subscriber]struct{}),
		buffer: defaultSubscriberBuffer,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Publish 为事件分配全局序号并异步投递给所有订阅者，返回已盖章的事件。
func (h *Hub) Publish(eventType Type, content any) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	event := Event{
		Seq:       h.seq,
		Type:      eventType,
		Timestamp: h.now(),
		Content:   content,
	}
	if h.closed {
		return event
	}
	for sub := range h.subs {
		sub.enqueue(event)
	}
	return event
}

// Subscribe 注册一个新的订阅者。snapshot 中的事件会先于后续事件投递，
// 用于让晚接入的消费者看到当前讨论窗口的历史。
func (h *Hub) Subscribe(snapshot ...Event) *Subscriber {
	sub := &Subscriber{
		out:    make(chan Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		limit:  h.buffer,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.stop()
		close(sub.out)
		return sub
	}
	for _, event := range snapshot {
		sub.enqueue(event)
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	sub.detach = func() { h.remove(sub) }
	go sub.pump()
	return sub
}

// SubscriberCount 返回当前订阅者数量。
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close 关闭广播中心并断开所有订阅者。
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*Subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	logger.Named("feed").Info("广播中心已关闭", "subscribers", len(subs))
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Subscriber 持有一个有界事件队列。队列满时丢弃最旧事件，
// 并在恢复消费时先收到一条 DropNotice 状态事件。
type Subscriber struct {
	mu      sync.Mutex
	queue   []Event
	dropped uint64
	limit   int

	out    chan Event
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	detach func()
}

// Events 返回事件通道。订阅者关闭后通道随之关闭。
func (s *Subscriber) Events() <-chan Event {
	return s.out
}

// Close 注销订阅者并释放其队列。
func (s *Subscriber) Close() {
	if s.detach != nil {
		s.detach()
	}
	s.stop()
}

func (s *Subscriber) stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

// enqueue 在持有中心锁或订阅前的单线程阶段调用，本身再加订阅者锁。
func (s *Subscriber) enqueue(event Event) {
	s.mu.Lock()
	if len(s.queue) >= s.limit {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump 把队列中的事件逐个送往消费端，优先投递掉线补偿通知。
func (s *Subscriber) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			event, ok := s.next()
			if !ok {
				break
			}
			select {
			case s.out <- event:
			case <-s.done:
				return
			}
		}
	}
}

// next 弹出下一条待投递事件。若存在掉线缺口则先合成补偿通知。
func (s *Subscriber) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped > 0 {
		n := s.dropped
		s.dropped = 0
		return Event{
			Type:      TypeStatus,
			Timestamp: time.Now(),
			Content: DropNotice{
				Dropped: n,
				Message: fmt.Sprintf("队列溢出，丢弃了 %d 条较早的事件", n),
			},
		}, true
	}
	if len(s.queue) == 0 {
		return Event{}, false
	}
	event := s.queue[0]
	s.queue = s.queue[1:]
	return event, true
}
