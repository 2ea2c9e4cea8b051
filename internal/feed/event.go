package feed

import "time"

// Type 标识广播事件的种类。
type Type string

const (
	// TypeInteraction 表示一次智能体发言。
	TypeInteraction Type = "interaction"
	// TypeSynopsis 表示一轮讨论的摘要。
	TypeSynopsis Type = "synopsis"
	// TypeStatus 表示系统状态通知，例如掉线补偿或调度进展。
	TypeStatus Type = "status"
	// TypeProposal 表示提案生命周期事件。
	TypeProposal Type = "proposal"
)

// Event 是广播给订阅者的统一事件载体。Seq 为全局单调递增序号；
// 由中心合成的状态事件 Seq 为 0。
type Event struct {
	Seq       uint64    `json:"seq,omitempty"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Content   any       `json:"content"`
}

// DropNotice 是订阅者队列溢出后合成的状态内容。
type DropNotice struct {
	Dropped uint64 `json:"dropped"`
	Message string `json:"message"`
}
