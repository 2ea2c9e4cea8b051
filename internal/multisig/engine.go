package multisig

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

// entry 将提案与其专属互斥锁绑定，保证同一提案上的签名串行执行。
type entry struct {
	mu       sync.Mutex
	proposal *Proposal
}

// Engine 管理提案的完整生命周期。所有状态变化先落盘再提交到内存视图。
type Engine struct {
	store    Store
	required int
	ttl      time.Duration
	sweep    time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	observer Observer
	validate func(Intent) error
	now      func() time.Time
	logger   *slog.Logger
}

// Option 配置引擎的可选行为。
type Option func(*Engine)

// WithObserver 注册提案状态变化的监听回调。
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

// WithValidator 注入意向校验逻辑，通常基于链注册表实现。
func WithValidator(validate func(Intent) error) Option {
	return func(e *Engine) {
		e.validate = validate
	}
}

// WithClock 覆盖时间来源，仅用于测试。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSweepInterval 覆盖过期巡检的默认间隔。
func WithSweepInterval(interval time.Duration) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.sweep = interval
		}
	}
}

// NewEngine 构建提案引擎。required 为授权所需的最小签名数, ttl 为提案有效期。
func NewEngine(store Store, required int, ttl time.Duration, opts ...Option) *Engine {
	if required < 1 {
		required = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	e := &Engine{
		store:    store,
		required: required,
		ttl:      ttl,
		sweep:    30 * time.Second,
		entries:  make(map[string]*entry),
		now:      time.Now,
		logger:   logger.Named("multisig"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Restore 从持久化后端恢复所有待签名提案，应在启动阶段调用一次。
func (e *Engine) Restore(ctx context.Context) error {
	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "恢复提案失败")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range pending {
		p := pending[i]
		e.entries[p.ID] = &entry{proposal: &p}
	}
	if len(pending) > 0 {
		e.logger.Info("恢复待签名提案", "count", len(pending))
	}
	return nil
}

// Create 校验交易意向并创建一个新的待签名提案。
// 同一提案人针对同一网络与交易对的等价提案在待签名期间只允许存在一个。
func (e *Engine) Create(ctx context.Context, intent Intent) (Proposal, error) {
	if err := validateIntent(intent); err != nil {
		return Proposal{}, err
	}
	if e.validate != nil {
		if err := e.validate(intent); err != nil {
			return Proposal{}, err
		}
	}

	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	key := intent.equivalenceKey()
	for _, existing := range e.entries {
		existing.mu.Lock()
		pending := existing.proposal.State == StatePendingSignatures &&
			existing.proposal.ExpiresAt.After(now) &&
			existing.proposal.equivalenceKey() == key
		existing.mu.Unlock()
		if pending {
			return Proposal{}, ErrProposalConflict
		}
	}

	proposal := &Proposal{
		ID:                 uuid.NewString(),
		ProposedBy:         intent.ProposedBy,
		Network:            intent.Network,
		Dex:                intent.Dex,
		TokenIn:            intent.TokenIn,
		TokenOut:           intent.TokenOut,
		Amount:             intent.Amount,
		State:              StatePendingSignatures,
		Signatures:         []string{},
		RequiredSignatures: e.required,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(e.ttl),
	}

	if err := e.store.Save(ctx, proposal.clone()); err != nil {
		return Proposal{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存提案失败")
	}
	e.entries[proposal.ID] = &entry{proposal: proposal}

	snapshot := proposal.clone()
	e.emit(Update{Kind: UpdateCreated, Proposal: snapshot})
	logger.Audit().Info("proposal created",
		"proposal_id", snapshot.ID,
		"proposed_by", snapshot.ProposedBy,
		"network", snapshot.Network,
		"token_in", snapshot.TokenIn,
		"token_out", snapshot.TokenOut,
	)
	return snapshot, nil
}

// Sign 为提案追加一个签名。每次成功的签名恰好发出一条事件: 未达阈值时
// 为签名事件, 达到阈值时只发出授权事件, 且授权恰好发生一次。
// 已过期的提案会先被转入过期状态再返回状态错误。
func (e *Engine) Sign(ctx context.Context, proposalID, signerID string) (Proposal, error) {
	if strings.TrimSpace(signerID) == "" {
		return Proposal{}, xerrors.New(xerrors.CodeInvalidArgument, "签名者标识为空")
	}

	ent, err := e.lookup(proposalID)
	if err != nil {
		return Proposal{}, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if expired, eerr := e.expireLocked(ctx, ent); eerr != nil {
		return Proposal{}, eerr
	} else if expired {
		return ent.proposal.clone(), ErrInvalidState
	}

	p := ent.proposal
	if p.State != StatePendingSignatures {
		return p.clone(), ErrInvalidState
	}
	for _, signer := range p.Signatures {
		if signer == signerID {
			return p.clone(), ErrDuplicateSigner
		}
	}

	next := *p
	next.Signatures = append(append([]string(nil), p.Signatures...), signerID)
	next.UpdatedAt = e.now()
	authorized := len(next.Signatures) >= next.RequiredSignatures
	if authorized {
		next.State = StateAuthorized
	}

	if err := e.store.Save(ctx, next.clone()); err != nil {
		return Proposal{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存签名失败")
	}
	*p = next

	snapshot := p.clone()
	if authorized {
		e.emit(Update{Kind: UpdateAuthorized, Proposal: snapshot})
		logger.Audit().Info("proposal authorized",
			"proposal_id", snapshot.ID,
			"signatures", len(snapshot.Signatures),
		)
	} else {
		e.emit(Update{Kind: UpdateSigned, Proposal: snapshot})
	}
	return snapshot, nil
}

// Reject 将待签名提案显式转入拒绝状态。
func (e *Engine) Reject(ctx context.Context, proposalID, reason string) (Proposal, error) {
	ent, err := e.lookup(proposalID)
	if err != nil {
		return Proposal{}, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if expired, eerr := e.expireLocked(ctx, ent); eerr != nil {
		return Proposal{}, eerr
	} else if expired {
		return ent.proposal.clone(), ErrInvalidState
	}

	p := ent.proposal
	if p.State != StatePendingSignatures {
		return p.clone(), ErrInvalidState
	}

	next := *p
	next.State = StateRejected
	next.RejectReason = reason
	next.UpdatedAt = e.now()

	if err := e.store.Save(ctx, next.clone()); err != nil {
		return Proposal{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存拒绝结果失败")
	}
	*p = next

	snapshot := p.clone()
	e.emit(Update{Kind: UpdateRejected, Proposal: snapshot})
	logger.Audit().Info("proposal rejected",
		"proposal_id", snapshot.ID,
		"reason", reason,
	)
	return snapshot, nil
}

// Get 返回提案的只读快照。
func (e *Engine) Get(proposalID string) (Proposal, error) {
	ent, err := e.lookup(proposalID)
	if err != nil {
		return Proposal{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.proposal.clone(), nil
}

// List 返回全部提案快照，按创建时间升序排列。
func (e *Engine) List() []Proposal {
	entries := e.snapshotEntries()
	proposals := make([]Proposal, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		proposals = append(proposals, ent.proposal.clone())
		ent.mu.Unlock()
	}
	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].CreatedAt.Before(proposals[j].CreatedAt)
	})
	return proposals
}

// SweepExpired 扫描所有提案并把超过有效期的待签名提案转入过期状态。
// 返回本轮被转入过期状态的提案数量。
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	expired := 0
	for _, ent := range e.snapshotEntries() {
		ent.mu.Lock()
		done, err := e.expireLocked(ctx, ent)
		ent.mu.Unlock()
		if err != nil {
			return expired, err
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

// Start 启动后台过期巡检，ctx 结束时自动退出。
func (e *Engine) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := e.SweepExpired(ctx); err != nil {
					e.logger.Error("过期巡检失败", "error", err)
				} else if n > 0 {
					e.logger.Info("提案过期", "count", n)
				}
			}
		}
	}()
}

// expireLocked 在持有提案锁的前提下执行惰性过期。
func (e *Engine) expireLocked(ctx context.Context, ent *entry) (bool, error) {
	p := ent.proposal
	if p.State != StatePendingSignatures || p.ExpiresAt.After(e.now()) {
		return false, nil
	}

	next := *p
	next.State = StateExpired
	next.UpdatedAt = e.now()

	if err := e.store.Save(ctx, next.clone()); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存过期状态失败")
	}
	*p = next

	e.emit(Update{Kind: UpdateExpired, Proposal: p.clone()})
	return true, nil
}

func (e *Engine) snapshotEntries() []*entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := make([]*entry, 0, len(e.entries))
	for _, ent := range e.entries {
		entries = append(entries, ent)
	}
	return entries
}

func (e *Engine) lookup(proposalID string) (*entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[proposalID]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return ent, nil
}

func (e *Engine) emit(update Update) {
	if e.observer != nil {
		e.observer(update)
	}
}

// validateIntent 做与链无关的基础校验。
func validateIntent(intent Intent) error {
	missing := func(field string) error {
		return xerrors.New(CodeIntentValidation, fmt.Sprintf("交易意向缺少 %s", field))
	}
	switch {
	case strings.TrimSpace(intent.ProposedBy) == "":
		return missing("proposed_by")
	case strings.TrimSpace(intent.Network) == "":
		return missing("network")
	case strings.TrimSpace(intent.Dex) == "":
		return missing("dex")
	case strings.TrimSpace(intent.TokenIn) == "":
		return missing("token_in")
	case strings.TrimSpace(intent.TokenOut) == "":
		return missing("token_out")
	}
	if intent.Amount <= 0 {
		return xerrors.New(CodeIntentValidation, "交易数量必须大于 0")
	}
	if intent.TokenIn == intent.TokenOut {
		return xerrors.New(CodeIntentValidation, "买入与卖出代币不能相同")
	}
	return nil
}
