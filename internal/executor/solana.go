package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chain"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

// SwapOrder 是移交给 Solana 提交方的兑换描述。指令组装、签名与
// 广播都在提交方内部完成。
type SwapOrder struct {
	Network  string  `json:"network"`
	Cluster  string  `json:"cluster"`
	Dex      string  `json:"dex"`
	InMint   string  `json:"in_mint"`
	OutMint  string  `json:"out_mint"`
	Amount   float64 `json:"amount"`
	Deadline int64   `json:"deadline"`
}

// SolanaSubmitter 是不透明的 Solana 交易提交能力。
type SolanaSubmitter interface {
	Submit(ctx context.Context, order SwapOrder) (string, error)
}

// SolanaExecutor 校验集群可达性后把兑换移交提交方。
type SolanaExecutor struct {
	registry   *chain.Registry
	submitter  SolanaSubmitter
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

var _ Executor = (*SolanaExecutor)(nil)

// NewSolanaExecutor 创建 Solana 执行器。
func NewSolanaExecutor(registry *chain.Registry, submitter SolanaSubmitter) *SolanaExecutor {
	return &SolanaExecutor{
		registry:   registry,
		submitter:  submitter,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.Named("executor"),
		now:        time.Now,
	}
}

// Execute 解析代币 mint 地址、确认 RPC 健康后提交兑换。
func (e *SolanaExecutor) Execute(ctx context.Context, proposal multisig.Proposal) error {
	desc, err := e.registry.Resolve(proposal.Network)
	if err != nil {
		return err
	}
	inMint, err := e.registry.ResolveToken(proposal.Network, proposal.TokenIn)
	if err != nil {
		return err
	}
	outMint, err := e.registry.ResolveToken(proposal.Network, proposal.TokenOut)
	if err != nil {
		return err
	}

	if err := e.checkHealth(ctx, desc); err != nil {
		return err
	}

	order := SwapOrder{
		Network:  proposal.Network,
		Cluster:  desc.Cluster,
		Dex:      proposal.Dex,
		InMint:   inMint,
		OutMint:  outMint,
		Amount:   proposal.Amount,
		Deadline: e.now().Add(swapDeadline).Unix(),
	}
	signature, err := e.submitter.Submit(ctx, order)
	if err != nil {
		return fmt.Errorf("提交 Solana 兑换失败: %w", err)
	}
	logger.Audit().Info("swap submitted",
		"proposal_id", proposal.ID,
		"network", proposal.Network,
		"tx", signature,
	)
	return nil
}

// checkHealth 通过 getHealth JSON-RPC 探测集群可用性。
func (e *SolanaExecutor) checkHealth(ctx context.Context, desc chain.Descriptor) error {
	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"getHealth"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.RPCURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建健康检查请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求 Solana RPC 失败: %w", err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("解析健康检查响应失败: %w", err)
	}
	if decoded.Result != "ok" {
		return fmt.Errorf("网络 %s 的 RPC 状态异常: %q", desc.Name, decoded.Result)
	}
	return nil
}

// LoggingSolanaSubmitter 只记录兑换概要，用于 dry-run 环境。
type LoggingSolanaSubmitter struct{}

var _ SolanaSubmitter = LoggingSolanaSubmitter{}

// Submit 记录兑换并返回占位签名。
func (LoggingSolanaSubmitter) Submit(_ context.Context, order SwapOrder) (string, error) {
	logger.Named("executor").Info("dry-run 提交 Solana 兑换",
		"network", order.Network,
		"cluster", order.Cluster,
		"in_mint", order.InMint,
		"out_mint", order.OutMint,
		"amount", order.Amount,
	)
	return fmt.Sprintf("dry-run-%s-%d", order.Network, order.Deadline), nil
}
