package council

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/deliberate"
	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/executor"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/feed"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/observability/alerting"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/observability/metrics"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/relay"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

const (
	relayTimeout   = 5 * time.Second
	executeTimeout = 2 * time.Minute
)

// Coordinator 把调度器、提案引擎、广播中心与外围设施接成一个整体。
// 它是 deliberate.Sink 的实现，同时作为提案引擎的观察者。
type Coordinator struct {
	hub      *feed.Hub
	engine   *multisig.Engine
	relay    relay.Relay
	alerts   alerting.Dispatcher
	executor executor.Executor
	logger   *slog.Logger
	replay   bool

	mu        sync.Mutex
	window    []feed.Event
	proposals map[string]feed.Event
}

var _ deliberate.Sink = (*Coordinator)(nil)

// CoordinatorOption 配置协调器的可选能力。
type CoordinatorOption func(*Coordinator)

// WithRelay 配置事件镜像。
func WithRelay(r relay.Relay) CoordinatorOption {
	return func(c *Coordinator) {
		c.relay = r
	}
}

// WithAlerts 配置告警分发。
func WithAlerts(dispatcher alerting.Dispatcher) CoordinatorOption {
	return func(c *Coordinator) {
		c.alerts = dispatcher
	}
}

// WithExecutor 配置已授权提案的执行器。
func WithExecutor(exec executor.Executor) CoordinatorOption {
	return func(c *Coordinator) {
		c.executor = exec
	}
}

// WithSnapshotReplay 控制新订阅者接入时是否回放当前窗口。
func WithSnapshotReplay(enabled bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.replay = enabled
	}
}

// NewCoordinator 创建协调器。提案引擎随后通过 BindEngine 绑定，
// 以便把本协调器注册为引擎的观察者。
func NewCoordinator(hub *feed.Hub, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		hub:       hub,
		replay:    true,
		logger:    logger.Named("council"),
		proposals: make(map[string]feed.Event),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// BindEngine 绑定提案引擎。构建引擎时应把 HandleProposalUpdate 注册
// 为观察者。
func (c *Coordinator) BindEngine(engine *multisig.Engine) {
	c.engine = engine
}

// HandleInteraction 广播一次发言并把事件留作接入快照。
func (c *Coordinator) HandleInteraction(ctx context.Context, interaction deliberate.Interaction) {
	event := c.publish(ctx, feed.TypeInteraction, interaction)
	c.mu.Lock()
	c.window = append(c.window, event)
	c.mu.Unlock()
}

// HandleIntent 把交易意向转交提案引擎。等价冲突与校验失败只产生
// 状态事件，不中断讨论。
func (c *Coordinator) HandleIntent(ctx context.Context, agent deliberate.Agent, intent deliberate.TradeIntent) {
	if c.engine == nil {
		c.logger.Warn("提案引擎未绑定，丢弃交易意向", "agent", agent.ID)
		return
	}

	proposal, err := c.engine.Create(ctx, multisig.Intent{
		ProposedBy: agent.ID,
		Network:    intent.Network,
		Dex:        intent.Dex,
		TokenIn:    intent.TokenIn,
		TokenOut:   intent.TokenOut,
		Amount:     intent.Amount,
	})
	if err != nil {
		if errors.Is(err, multisig.ErrProposalConflict) {
			c.publish(ctx, feed.TypeStatus, deliberate.Status{
				Message: "等价提案已在签名中，忽略 " + agent.Name + " 的新意向",
			})
			return
		}
		c.logger.Error("创建提案失败", "agent", agent.ID, "error", err)
		c.alert(ctx, err, "", 0)
		c.publish(ctx, feed.TypeStatus, deliberate.Status{
			Message: "创建提案失败: " + failureReason(err),
		})
		return
	}
	c.logger.Info("提案已创建",
		"proposal_id", proposal.ID, "agent", agent.ID,
		"network", proposal.Network, "pair", proposal.TokenIn+"/"+proposal.TokenOut)
}

// HandleSynopsis 广播摘要并重置窗口快照，为下一天做准备。
func (c *Coordinator) HandleSynopsis(ctx context.Context, synopsis deliberate.Synopsis) {
	c.publish(ctx, feed.TypeSynopsis, synopsis)
	c.mu.Lock()
	c.window = nil
	c.mu.Unlock()
}

// HandleStatus 广播一条状态通知。
func (c *Coordinator) HandleStatus(ctx context.Context, status deliberate.Status) {
	c.publish(ctx, feed.TypeStatus, status)
}

// HandleProposalUpdate 接收提案引擎的状态变化，应注册为引擎观察者。
func (c *Coordinator) HandleProposalUpdate(update multisig.Update) {
	ctx := context.Background()
	metrics.IncProposalUpdate(string(update.Kind))
	event := c.publish(ctx, feed.TypeProposal, update)

	// 快照只回放未终结提案的最新状态。
	c.mu.Lock()
	if update.Proposal.State.IsTerminal() {
		delete(c.proposals, update.Proposal.ID)
	} else {
		c.proposals[update.Proposal.ID] = event
	}
	c.mu.Unlock()

	if update.Kind == multisig.UpdateAuthorized {
		c.dispatchExecution(update.Proposal)
	}
}

// Attach 注册一个新的事件订阅者。开启快照回放时，订阅者先收到当前
// 窗口已广播的发言与未终结提案的最新状态。
func (c *Coordinator) Attach() *feed.Subscriber {
	if !c.replay {
		return c.hub.Subscribe()
	}

	c.mu.Lock()
	snapshot := make([]feed.Event, 0, len(c.window)+len(c.proposals))
	snapshot = append(snapshot, c.window...)
	for _, event := range c.proposals {
		snapshot = append(snapshot, event)
	}
	c.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Seq < snapshot[j].Seq
	})
	return c.hub.Subscribe(snapshot...)
}

// dispatchExecution 异步执行已授权的提案，失败只告警不回滚授权。
func (c *Coordinator) dispatchExecution(proposal multisig.Proposal) {
	if c.executor == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
		defer cancel()
		if err := c.executor.Execute(ctx, proposal); err != nil {
			c.logger.Error("执行已授权提案失败",
				"proposal_id", proposal.ID, "error", err)
			c.alert(ctx, err, proposal.ID, 0)
			c.publish(ctx, feed.TypeStatus, deliberate.Status{
				Message: "提案 " + proposal.ID + " 执行失败: " + failureReason(err),
			})
		}
	}()
}

// publish 把事件送进广播中心并镜像到外部系统。
func (c *Coordinator) publish(ctx context.Context, eventType feed.Type, content any) feed.Event {
	event := c.hub.Publish(eventType, content)
	metrics.IncFeedEvent(string(eventType))
	if c.relay == nil {
		return event
	}

	relayCtx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := c.relay.Publish(relayCtx, event); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeRelayFailure, err, "事件镜像失败")
		c.logger.Warn("事件镜像失败", "seq", event.Seq, "error", err)
		c.alert(ctx, wrapped, "", 0)
	}
	return event
}

// alert 把需要告警的错误分发给通知渠道。
func (c *Coordinator) alert(ctx context.Context, err error, proposalID string, day int) {
	if c.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		ProposalID: proposalID,
		Day:        day,
		OccurredAt: time.Now(),
	}
	if notifyErr := c.alerts.Notify(ctx, event); notifyErr != nil {
		c.logger.Warn("告警分发失败", "error", notifyErr)
	}
}

func failureReason(err error) string {
	if e, ok := xerrors.From(err); ok {
		return string(e.Code())
	}
	return err.Error()
}
