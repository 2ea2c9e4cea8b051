package council

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chain"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/deliberate"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/llm"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/tokenscan"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

// SecurityLookup 是代币安全报告的查询能力。
type SecurityLookup interface {
	TokenSecurity(ctx context.Context, desc chain.Descriptor, tokenAddr string) (tokenscan.SecurityReport, error)
}

// PairsLookup 是交易对行情的查询能力。
type PairsLookup interface {
	Search(ctx context.Context, query string) ([]tokenscan.PairReport, error)
}

// Decider 把一次调度回合转换为模型调用，并解析回复中的指令。
// 所有智能体共享同一个 Decider 实例与分析缓存。
type Decider struct {
	model    llm.Client
	registry *chain.Registry
	security SecurityLookup
	pairs    PairsLookup
	gate     *tokenscan.Gate
	logger   *slog.Logger

	mu       sync.Mutex
	analyses map[string]tokenscan.SecurityReport
	markets  map[string]tokenscan.PairReport
}

var _ deliberate.Decider = (*Decider)(nil)

// DeciderOption 配置决策器的可选能力。
type DeciderOption func(*Decider)

// WithPairsLookup 注入交易对行情查询。配置后，分析指令除安全报告外还会
// 缓存流动性最深的交易对概况。
func WithPairsLookup(pairs PairsLookup) DeciderOption {
	return func(d *Decider) {
		d.pairs = pairs
	}
}

// NewDecider 构建议事会决策器。security 为 nil 时跳过代币分析能力。
func NewDecider(model llm.Client, registry *chain.Registry, security SecurityLookup, gate *tokenscan.Gate, opts ...DeciderOption) *Decider {
	if gate == nil {
		gate = tokenscan.NewGate(0)
	}
	d := &Decider{
		model:    model,
		registry: registry,
		security: security,
		gate:     gate,
		logger:   logger.Named("council"),
		analyses: make(map[string]tokenscan.SecurityReport),
		markets:  make(map[string]tokenscan.PairReport),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decide 让一个智能体就议题发言，并在回复包含交易指令时产出交易意向。
func (d *Decider) Decide(ctx context.Context, agent deliberate.Agent, topic string, history []deliberate.Interaction) (deliberate.Decision, error) {
	resp, err := d.model.Generate(ctx, d.buildRequest(agent, topic, history))
	if err != nil {
		return deliberate.Decision{}, err
	}

	parsed := parseReply(resp.Reply)
	for _, req := range parsed.Analyses {
		d.runAnalysis(ctx, agent, req)
	}

	decision := deliberate.Decision{Response: parsed.Text}
	if decision.Response == "" {
		decision.Response = strings.TrimSpace(resp.Reply)
	}
	if parsed.Trade != nil {
		if intent, ok := d.vetIntent(agent, *parsed.Trade); ok {
			decision.Intent = &intent
		}
	}
	return decision, nil
}

// buildRequest 组装模型调用上下文，带上当天讨论与已缓存的代币分析。
func (d *Decider) buildRequest(agent deliberate.Agent, topic string, history []deliberate.Interaction) llm.Request {
	req := llm.Request{
		AgentName:    agent.Name,
		AgentRole:    agent.Role,
		SocialHandle: agent.SocialHandle,
		Topic:        topic,
	}
	for _, interaction := range history {
		req.History = append(req.History, llm.HistoryEntry{
			AgentName: interaction.AgentName,
			Response:  interaction.Response,
		})
	}

	d.mu.Lock()
	for key, report := range d.analyses {
		summary := fmt.Sprintf("买入税 %.0f%%, 卖出税 %.0f%%", report.BuyTax*100, report.SellTax*100)
		if report.IsHoneypot {
			summary = "疑似蜜罐; " + summary
		}
		if len(report.Warnings) > 0 {
			summary += "; " + strings.Join(report.Warnings, "; ")
		}
		if pair, ok := d.markets[key]; ok {
			summary += fmt.Sprintf("; 最深交易对 %s/%s 流动性 $%.0f, 24h 成交 $%.0f",
				pair.BaseSymbol, pair.QuoteSymbol, pair.LiquidityUSD, pair.Volume24h)
		}
		req.Analyses = append(req.Analyses, llm.AnalysisCard{Token: key, Summary: summary})
	}
	d.mu.Unlock()
	return req
}

// runAnalysis 执行一条分析指令并缓存结果，失败只记录日志。
func (d *Decider) runAnalysis(ctx context.Context, agent deliberate.Agent, req analyzeRequest) {
	if d.security == nil {
		return
	}

	network := req.Network
	if network == "" {
		defaultNetwork, err := d.registry.DefaultNetwork(chain.FamilyEVM)
		if err != nil {
			d.logger.Warn("分析指令缺少网络且无默认网络", "agent", agent.ID, "token", req.Address)
			return
		}
		network = defaultNetwork
	}

	desc, err := d.registry.Resolve(network)
	if err != nil {
		d.logger.Warn("分析指令引用了未知网络",
			"agent", agent.ID, "network", network, "token", req.Address)
		return
	}

	report, err := d.security.TokenSecurity(ctx, desc, req.Address)
	if err != nil {
		d.logger.Warn("代币安全查询失败",
			"agent", agent.ID, "network", network, "token", req.Address, "error", err)
		return
	}

	d.mu.Lock()
	d.analyses[analysisKey(network, req.Address)] = report
	d.mu.Unlock()
	d.logger.Info("缓存代币分析",
		"agent", agent.ID, "network", network, "token", req.Address,
		"honeypot", report.IsHoneypot, "warnings", len(report.Warnings))

	// 行情查询失败不影响安全报告，概况只取流动性最深的交易对。
	if d.pairs != nil {
		pairs, perr := d.pairs.Search(ctx, req.Address)
		if perr != nil {
			d.logger.Warn("交易对行情查询失败",
				"agent", agent.ID, "token", req.Address, "error", perr)
			return
		}
		if len(pairs) > 0 {
			d.mu.Lock()
			d.markets[analysisKey(network, req.Address)] = pairs[0]
			d.mu.Unlock()
		}
	}
}

// vetIntent 补全默认网络与 DEX，校验链配置，并套用安全闸门。
// 不通过的意向被丢弃，智能体的发言本身不受影响。
func (d *Decider) vetIntent(agent deliberate.Agent, trade deliberate.TradeIntent) (deliberate.TradeIntent, bool) {
	if trade.Network == "" {
		defaultNetwork, err := d.registry.DefaultNetwork(chain.FamilyEVM)
		if err != nil {
			d.logger.Warn("交易意向缺少网络且无默认网络", "agent", agent.ID)
			return trade, false
		}
		trade.Network = defaultNetwork
	}
	if trade.Dex == "" {
		trade.Dex = d.registry.DefaultDex()
	}

	if _, err := d.registry.ResolveDex(trade.Network, trade.Dex); err != nil {
		d.logger.Warn("交易意向引用了未配置的 DEX",
			"agent", agent.ID, "network", trade.Network, "dex", trade.Dex, "error", err)
		return trade, false
	}
	if _, err := d.registry.ResolveToken(trade.Network, trade.TokenIn); err != nil {
		d.logger.Warn("交易意向的卖出代币未配置",
			"agent", agent.ID, "network", trade.Network, "token", trade.TokenIn)
		return trade, false
	}
	outAddr, err := d.registry.ResolveToken(trade.Network, trade.TokenOut)
	if err != nil {
		d.logger.Warn("交易意向的买入代币未配置",
			"agent", agent.ID, "network", trade.Network, "token", trade.TokenOut)
		return trade, false
	}

	if report, ok := d.cachedReport(trade.Network, outAddr); ok {
		if pass, reasons := d.gate.Evaluate(report); !pass {
			d.logger.Warn("安全闸门拦截交易意向",
				"agent", agent.ID, "network", trade.Network,
				"token", trade.TokenOut, "reasons", strings.Join(reasons, "; "))
			return trade, false
		}
	}
	return trade, true
}

func (d *Decider) cachedReport(network, address string) (tokenscan.SecurityReport, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	report, ok := d.analyses[analysisKey(network, address)]
	return report, ok
}

func analysisKey(network, address string) string {
	return network + "|" + strings.ToLower(address)
}
