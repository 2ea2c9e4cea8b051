package deliberate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

// Phase 表示调度器所处的阶段。
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseRunningDay       Phase = "running_day"
	PhaseAwaitingSynopsis Phase = "awaiting_synopsis"
	PhaseCompleted        Phase = "completed"
)

// Decider 是不透明的智能体决策协作方。
type Decider interface {
	Decide(ctx context.Context, agent Agent, topic string, history []Interaction) (Decision, error)
}

// Summarizer 是不透明的摘要协作方。
type Summarizer interface {
	Summarize(ctx context.Context, interactions []Interaction) (string, error)
}

// TopicSource 为每个回合的每个智能体挑选议题。
type TopicSource interface {
	Pick(day, round int, agent Agent) string
}

// Sink 消费调度器的全部输出。发言与摘要按产生顺序同步投递，
// 交易意向在同一回合内先于下一个智能体的发言投递。
type Sink interface {
	HandleInteraction(ctx context.Context, interaction Interaction)
	HandleIntent(ctx context.Context, agent Agent, intent TradeIntent)
	HandleSynopsis(ctx context.Context, synopsis Synopsis)
	HandleStatus(ctx context.Context, status Status)
}

// Scheduler 按天与回合推进讨论。单个实例只允许运行一次 Run。
type Scheduler struct {
	agents     []Agent
	decider    Decider
	summarizer Summarizer
	topics     TopicSource
	sink       Sink

	roundsPerDay    int
	totalDays       int
	maxInteractions int
	decideTimeout   time.Duration
	pauseBetween    time.Duration
	retryBackoff    time.Duration

	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	phase Phase
}

// SchedulerOption 配置调度器的可选行为。
type SchedulerOption func(*Scheduler)

// WithDecideTimeout 设置单次决策或摘要调用的超时。
func WithDecideTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.decideTimeout = timeout
		}
	}
}

// WithPauseBetweenDays 设置相邻模拟日之间的停顿。
func WithPauseBetweenDays(pause time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if pause >= 0 {
			s.pauseBetween = pause
		}
	}
}

// WithRetryBackoff 设置摘要重试前的等待时间，仅用于测试加速。
func WithRetryBackoff(backoff time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if backoff >= 0 {
			s.retryBackoff = backoff
		}
	}
}

// WithSchedulerClock 覆盖时间来源，仅用于测试。
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler 构建调度器。agents 的注册顺序即回合内的发言顺序。
func NewScheduler(
	agents []Agent,
	decider Decider,
	summarizer Summarizer,
	topics TopicSource,
	sink Sink,
	roundsPerDay, totalDays, maxInteractions int,
	opts ...SchedulerOption,
) *Scheduler {
	if roundsPerDay < 1 {
		roundsPerDay = 1
	}
	if totalDays < 1 {
		totalDays = 1
	}
	if maxInteractions < 1 {
		maxInteractions = 20
	}
	s := &Scheduler{
		agents:          append([]Agent(nil), agents...),
		decider:         decider,
		summarizer:      summarizer,
		topics:          topics,
		sink:            sink,
		roundsPerDay:    roundsPerDay,
		totalDays:       totalDays,
		maxInteractions: maxInteractions,
		decideTimeout:   60 * time.Second,
		retryBackoff:    2 * time.Second,
		now:             time.Now,
		logger:          logger.Named("deliberate"),
		phase:           PhaseIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Phase 返回调度器当前阶段。
func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Scheduler) setPhase(phase Phase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

// Run 顺序执行全部模拟日。停止请求在回合边界被响应，且除非被强制
// 终止，已广播过发言的一天一定会带着摘要收尾。正常完成与协作式停止
// 均返回 nil。
func (s *Scheduler) Run(ctx context.Context) error {
	for day := 1; day <= s.totalDays; day++ {
		if ctx.Err() != nil {
			s.finish(day, "收到停止请求，模拟提前结束")
			return nil
		}

		window := NewWindow(day, s.maxInteractions)
		s.setPhase(PhaseRunningDay)
		s.logger.Info("开始模拟日", "day", day, "agents", len(s.agents))

		stopped := false
		for round := 1; round <= s.roundsPerDay; round++ {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			s.runRound(ctx, window, day, round)
			window.RoundsCompleted++
		}

		// 只要当天有发言被广播，就必须补上对应的摘要。
		if len(window.Interactions) > 0 || !stopped {
			s.concludeDay(ctx, window, day)
		}
		if stopped {
			s.finish(day, "收到停止请求，模拟提前结束")
			return nil
		}

		if day < s.totalDays && s.pauseBetween > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.pauseBetween):
			}
		}
	}

	s.finish(s.totalDays, "全部模拟日已完成")
	return nil
}

// runRound 按注册顺序让每个智能体各发言一次。
func (s *Scheduler) runRound(ctx context.Context, window *Window, day, round int) {
	for _, agent := range s.agents {
		topic := s.topics.Pick(day, round, agent)
		history := append([]Interaction(nil), window.Interactions...)

		decision, err := s.decide(ctx, agent, topic, history)
		if err != nil {
			s.logger.Warn("智能体决策失败",
				"day", day, "round", round, "agent", agent.ID, "error", err)
			s.sink.HandleStatus(ctx, Status{
				Day:     day,
				Round:   round,
				Message: fmt.Sprintf("智能体 %s 本回合决策失败: %s", agent.Name, failureReason(err)),
			})
			continue
		}

		interaction := Interaction{
			ID:           uuid.NewString(),
			Day:          day,
			Round:        round,
			AgentID:      agent.ID,
			AgentName:    agent.Name,
			SocialHandle: agent.SocialHandle,
			Topic:        topic,
			Response:     decision.Response,
			Timestamp:    s.now(),
		}
		if window.Append(interaction) {
			s.sink.HandleInteraction(ctx, interaction)
		}

		// 交易意向同步转交，完成后才轮到下一个智能体。
		if decision.Intent != nil {
			s.sink.HandleIntent(ctx, agent, *decision.Intent)
		}
	}
}

// concludeDay 生成当天摘要并封存窗口。摘要失败重试一次，仍失败则
// 使用占位文本，绝不阻塞天数推进。
func (s *Scheduler) concludeDay(ctx context.Context, window *Window, day int) {
	s.setPhase(PhaseAwaitingSynopsis)

	text, err := s.summarize(ctx, window.Interactions)
	if err != nil {
		s.logger.Warn("摘要生成失败，准备重试", "day", day, "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(s.retryBackoff):
		}
		text, err = s.summarize(ctx, window.Interactions)
	}

	synopsis := Synopsis{
		Day:          day,
		Text:         text,
		Interactions: len(window.Interactions),
		Timestamp:    s.now(),
	}
	if err != nil {
		s.logger.Error("摘要生成重试仍失败", "day", day, "error", err)
		synopsis.Text = fmt.Sprintf("第 %d 天的摘要生成失败，共记录 %d 条发言。", day, len(window.Interactions))
		synopsis.Placeholder = true
		s.sink.HandleStatus(ctx, Status{
			Day:     day,
			Message: fmt.Sprintf("第 %d 天摘要生成失败: %s", day, failureReason(err)),
		})
	}

	window.Seal(synopsis.Text)
	s.sink.HandleSynopsis(ctx, synopsis)
}

func (s *Scheduler) finish(day int, message string) {
	s.setPhase(PhaseCompleted)
	s.sink.HandleStatus(context.Background(), Status{
		Day:      day,
		Message:  message,
		Terminal: true,
	})
	s.logger.Info("模拟结束", "day", day)
}

// decide 以超时保护调用决策协作方。
func (s *Scheduler) decide(ctx context.Context, agent Agent, topic string, history []Interaction) (Decision, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.decideTimeout)
	defer cancel()

	decision, err := s.decider.Decide(callCtx, agent, topic, history)
	if err != nil {
		return Decision{}, wrapCollaboratorErr(err, "智能体决策")
	}
	return decision, nil
}

// summarize 以超时保护调用摘要协作方。
func (s *Scheduler) summarize(ctx context.Context, interactions []Interaction) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.decideTimeout)
	defer cancel()

	text, err := s.summarizer.Summarize(callCtx, interactions)
	if err != nil {
		return "", wrapCollaboratorErr(err, "摘要生成")
	}
	return text, nil
}

// wrapCollaboratorErr 把协作方错误归入统一错误码，超时单独标记。
func wrapCollaboratorErr(err error, operation string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, operation+"超时")
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, operation+"失败")
}

func failureReason(err error) string {
	if e, ok := xerrors.From(err); ok {
		return string(e.Code())
	}
	return err.Error()
}
