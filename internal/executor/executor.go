// Package executor 消费已授权的提案并把交易移交给不透明的提交方。
// 引擎的职责到 Authorized 事件为止，这里负责按链 family 组装交易并
// 调用对应链的提交能力；签名与真正的上链动作都发生在提交方内部。
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chain"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

// Executor 执行一笔已授权的提案。
type Executor interface {
	Execute(ctx context.Context, proposal multisig.Proposal) error
}

// Dispatcher 按网络 family 把提案路由给对应的执行器。
type Dispatcher struct {
	registry *chain.Registry
	evm      Executor
	solana   Executor
	logger   *slog.Logger
}

var _ Executor = (*Dispatcher)(nil)

// NewDispatcher 创建按 family 分派的执行器。
func NewDispatcher(registry *chain.Registry, evm, solana Executor) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		evm:      evm,
		solana:   solana,
		logger:   logger.Named("executor"),
	}
}

// Execute 解析提案网络并分派到对应 family 的执行器。
func (d *Dispatcher) Execute(ctx context.Context, proposal multisig.Proposal) error {
	desc, err := d.registry.Resolve(proposal.Network)
	if err != nil {
		return err
	}

	var target Executor
	switch desc.Family {
	case chain.FamilyEVM:
		target = d.evm
	case chain.FamilySolana:
		target = d.solana
	}
	if target == nil {
		return fmt.Errorf("family %s 未配置执行器", desc.Family)
	}

	d.logger.Info("分派已授权提案",
		"proposal_id", proposal.ID,
		"network", proposal.Network,
		"family", string(desc.Family))
	return target.Execute(ctx, proposal)
}
