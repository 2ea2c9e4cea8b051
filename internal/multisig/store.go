package multisig

import "context"

// Store 定义提案持久化后端的最小能力。实现必须保证并发安全。
// 引擎仅在成功落盘后才会把状态变化提交到内存视图。
type Store interface {
	// Save 写入或覆盖一条提案记录。
	Save(ctx context.Context, proposal Proposal) error
	// ListPending 返回所有仍处于待签名状态的提案，用于进程重启后的恢复。
	ListPending(ctx context.Context) ([]Proposal, error)
	// Close 释放底层资源。
	Close() error
}
