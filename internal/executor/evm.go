package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chain"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

// swapRouterABI 覆盖 Uniswap V2 风格路由的兑换入口。
const swapRouterABI = `[{
	"name": "swapExactTokensForTokens",
	"type": "function",
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "amountOutMin", "type": "uint256"},
		{"name": "path", "type": "address[]"},
		{"name": "to", "type": "address"},
		{"name": "deadline", "type": "uint256"}
	],
	"outputs": [{"name": "amounts", "type": "uint256[]"}]
}]`

const swapDeadline = 20 * time.Minute

// EVMSubmitter 是不透明的 EVM 交易提交能力，内部完成签名与广播。
type EVMSubmitter interface {
	Submit(ctx context.Context, network string, tx *types.Transaction) (string, error)
}

// EVMExecutor 为 EVM 网络组装未签名的兑换交易并移交提交方。
type EVMExecutor struct {
	registry  *chain.Registry
	submitter EVMSubmitter
	router    abi.ABI
	recipient common.Address
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

var _ Executor = (*EVMExecutor)(nil)

// NewEVMExecutor 创建 EVM 执行器。recipient 是兑换产物的接收地址。
func NewEVMExecutor(registry *chain.Registry, submitter EVMSubmitter, recipient string) (*EVMExecutor, error) {
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("接收地址 %q 不是有效的 EVM 地址", recipient)
	}
	router, err := abi.JSON(strings.NewReader(swapRouterABI))
	if err != nil {
		return nil, fmt.Errorf("解析路由 ABI 失败: %w", err)
	}
	return &EVMExecutor{
		registry:  registry,
		submitter: submitter,
		router:    router,
		recipient: common.HexToAddress(recipient),
		logger:    logger.Named("executor"),
		now:       time.Now,
		clients:   make(map[string]*ethclient.Client),
	}, nil
}

// Execute 组装兑换交易并提交。交易未填 nonce 与 gas 参数，由提交方
// 在签名前补全。
func (e *EVMExecutor) Execute(ctx context.Context, proposal multisig.Proposal) error {
	desc, err := e.registry.Resolve(proposal.Network)
	if err != nil {
		return err
	}
	routerAddr, err := e.registry.ResolveDex(proposal.Network, proposal.Dex)
	if err != nil {
		return err
	}
	tokenIn, err := e.registry.ResolveToken(proposal.Network, proposal.TokenIn)
	if err != nil {
		return err
	}
	tokenOut, err := e.registry.ResolveToken(proposal.Network, proposal.TokenOut)
	if err != nil {
		return err
	}

	client, err := e.client(ctx, desc)
	if err != nil {
		return err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("查询链 ID 失败: %w", err)
	}
	if chainID.Uint64() != desc.EVMChainID {
		return fmt.Errorf("RPC 返回链 ID %d, 配置为 %d", chainID.Uint64(), desc.EVMChainID)
	}

	calldata, err := e.buildSwapCalldata(tokenIn, tokenOut, proposal.Amount)
	if err != nil {
		return err
	}

	to := common.HexToAddress(routerAddr)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID: chainID,
		To:      &to,
		Data:    calldata,
	})

	hash, err := e.submitter.Submit(ctx, proposal.Network, tx)
	if err != nil {
		return fmt.Errorf("提交兑换交易失败: %w", err)
	}
	logger.Audit().Info("swap submitted",
		"proposal_id", proposal.ID,
		"network", proposal.Network,
		"tx", hash,
	)
	return nil
}

// buildSwapCalldata 编码 swapExactTokensForTokens 调用。最小成交量
// 设为 0，滑点保护由提交方策略负责。
func (e *EVMExecutor) buildSwapCalldata(tokenIn, tokenOut string, amount float64) ([]byte, error) {
	amountIn, err := toWei(amount)
	if err != nil {
		return nil, err
	}
	path := []common.Address{
		common.HexToAddress(tokenIn),
		common.HexToAddress(tokenOut),
	}
	deadline := big.NewInt(e.now().Add(swapDeadline).Unix())

	calldata, err := e.router.Pack("swapExactTokensForTokens",
		amountIn, big.NewInt(0), path, e.recipient, deadline)
	if err != nil {
		return nil, fmt.Errorf("编码兑换调用失败: %w", err)
	}
	return calldata, nil
}

func (e *EVMExecutor) client(ctx context.Context, desc chain.Descriptor) (*ethclient.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if client, ok := e.clients[desc.Name]; ok {
		return client, nil
	}
	client, err := ethclient.DialContext(ctx, desc.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接网络 %s 的 RPC 失败: %w", desc.Name, err)
	}
	e.clients[desc.Name] = client
	return client, nil
}

// Close 断开全部 RPC 连接。
func (e *EVMExecutor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, client := range e.clients {
		client.Close()
	}
	e.clients = make(map[string]*ethclient.Client)
}

// toWei 把以太单位的数量换算成 wei，拒绝非正数。
func toWei(amount float64) (*big.Int, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("交易数量 %v 不合法", amount)
	}
	wei, _ := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18)).Int(nil)
	return wei, nil
}

// LoggingEVMSubmitter 只记录交易概要，用于没有配置真实签名方的环境。
type LoggingEVMSubmitter struct{}

var _ EVMSubmitter = LoggingEVMSubmitter{}

// Submit 记录交易并返回占位哈希。
func (LoggingEVMSubmitter) Submit(_ context.Context, network string, tx *types.Transaction) (string, error) {
	hash := tx.Hash().Hex()
	logger.Named("executor").Info("dry-run 提交 EVM 交易",
		"network", network,
		"to", tx.To().Hex(),
		"calldata_bytes", len(tx.Data()),
		"hash", hash,
	)
	return hash, nil
}
