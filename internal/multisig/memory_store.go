package multisig

import (
	"context"
	"sync"
)

// MemoryStore 是 Store 的内存实现，适用于测试与单机运行。
type MemoryStore struct {
	mu        sync.RWMutex
	proposals map[string]Proposal
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proposals: make(map[string]Proposal)}
}

// Save 写入或覆盖提案记录。
func (s *MemoryStore) Save(_ context.Context, proposal Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal.Signatures = append([]string(nil), proposal.Signatures...)
	s.proposals[proposal.ID] = proposal
	return nil
}

// ListPending 返回所有待签名的提案副本。
func (s *MemoryStore) ListPending(_ context.Context) ([]Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending := make([]Proposal, 0)
	for _, proposal := range s.proposals {
		if proposal.State != StatePendingSignatures {
			continue
		}
		proposal.Signatures = append([]string(nil), proposal.Signatures...)
		pending = append(pending, proposal)
	}
	return pending, nil
}

// Close 对内存存储而言是空操作。
func (s *MemoryStore) Close() error {
	return nil
}
