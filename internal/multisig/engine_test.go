package multisig

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chain"
	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *updateRecorder) record(update Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *updateRecorder) count(kind UpdateKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, update := range r.updates {
		if update.Kind == kind {
			n++
		}
	}
	return n
}

func testIntent() Intent {
	return Intent{
		ProposedBy: "agent-2",
		Network:    "sepolia",
		Dex:        "uniswap_v2",
		TokenIn:    "WETH",
		TokenOut:   "USDC",
		Amount:     0.5,
	}
}

func TestCreateProposal(t *testing.T) {
	clock := newFakeClock()
	recorder := &updateRecorder{}
	engine := NewEngine(NewMemoryStore(), 2, 30*time.Minute,
		WithClock(clock.Now), WithObserver(recorder.record))

	proposal, err := engine.Create(context.Background(), testIntent())
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if proposal.ID == "" {
		t.Fatal("expected generated proposal id")
	}
	if proposal.State != StatePendingSignatures {
		t.Fatalf("expected pending_signatures, got %s", proposal.State)
	}
	if proposal.RequiredSignatures != 2 {
		t.Fatalf("expected required signatures 2, got %d", proposal.RequiredSignatures)
	}
	if got := proposal.ExpiresAt.Sub(proposal.CreatedAt); got != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %s", got)
	}
	if recorder.count(UpdateCreated) != 1 {
		t.Fatalf("expected one created update, got %d", recorder.count(UpdateCreated))
	}
}

func TestCreateRejectsInvalidIntent(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), 2, time.Minute)

	cases := []struct {
		name   string
		mutate func(*Intent)
	}{
		{"missing proposer", func(i *Intent) { i.ProposedBy = "" }},
		{"missing network", func(i *Intent) { i.Network = "" }},
		{"zero amount", func(i *Intent) { i.Amount = 0 }},
		{"negative amount", func(i *Intent) { i.Amount = -1 }},
		{"same token pair", func(i *Intent) { i.TokenOut = i.TokenIn }},
	}
	for _, tc := range cases {
		intent := testIntent()
		tc.mutate(&intent)
		if _, err := engine.Create(context.Background(), intent); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func testRegistry(t *testing.T) *chain.Registry {
	t.Helper()
	registry, err := chain.NewRegistry(chain.Definitions{Chains: map[string]chain.Definition{
		"sepolia": {
			Family:  "evm",
			ChainID: "11155111",
			RPCURL:  "https://rpc.sepolia.org",
			Routers: map[string]string{"uniswap_v2": "0xeE567Fe1712Faf6149d80dA1E6934E354124CfE3"},
			Tokens: map[string]string{
				"WETH": "0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14",
				"USDC": "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
			},
		},
	}}, chain.Defaults{EVM: "sepolia", Dex: "uniswap_v2"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return registry
}

func TestCreateRejectsUnresolvableIntent(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), 2, time.Minute,
		WithValidator(RegistryValidator(testRegistry(t))))
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Intent)
	}{
		{"unknown network", func(i *Intent) { i.Network = "atlantis-mainnet" }},
		{"unknown dex", func(i *Intent) { i.Dex = "no-such-dex" }},
		{"unknown token", func(i *Intent) { i.TokenOut = "DOGE" }},
	}
	for _, tc := range cases {
		intent := testIntent()
		tc.mutate(&intent)
		_, err := engine.Create(ctx, intent)
		if err == nil {
			t.Fatalf("%s: expected rejection", tc.name)
		}
		if xerrors.CodeOf(err) != chain.CodeChainNotFound {
			t.Fatalf("%s: expected %s, got %s", tc.name, chain.CodeChainNotFound, xerrors.CodeOf(err))
		}
	}
	if got := len(engine.List()); got != 0 {
		t.Fatalf("rejected intents must not enter pending, got %d proposals", got)
	}

	if _, err := engine.Create(ctx, testIntent()); err != nil {
		t.Fatalf("configured intent must pass: %v", err)
	}
}

func TestCreateEquivalentProposalConflicts(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), 2, time.Minute)
	ctx := context.Background()

	if _, err := engine.Create(ctx, testIntent()); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// 同一提案人、同网络、同交易对即视为等价，数量不同也冲突。
	duplicate := testIntent()
	duplicate.Amount = 2.5
	if _, err := engine.Create(ctx, duplicate); !errors.Is(err, ErrProposalConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	other := testIntent()
	other.ProposedBy = "agent-1"
	if _, err := engine.Create(ctx, other); err != nil {
		t.Fatalf("different proposer should not conflict: %v", err)
	}
}

func TestSignAuthorizesAtThreshold(t *testing.T) {
	recorder := &updateRecorder{}
	engine := NewEngine(NewMemoryStore(), 2, time.Minute, WithObserver(recorder.record))
	ctx := context.Background()

	proposal, err := engine.Create(ctx, testIntent())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := engine.Sign(ctx, proposal.ID, "agent-1")
	if err != nil {
		t.Fatalf("first sign: %v", err)
	}
	if first.State != StatePendingSignatures {
		t.Fatalf("one of two signatures should stay pending, got %s", first.State)
	}

	second, err := engine.Sign(ctx, proposal.ID, "agent-3")
	if err != nil {
		t.Fatalf("second sign: %v", err)
	}
	if second.State != StateAuthorized {
		t.Fatalf("expected authorized, got %s", second.State)
	}
	if len(second.Signatures) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(second.Signatures))
	}
	if recorder.count(UpdateAuthorized) != 1 {
		t.Fatalf("expected exactly one authorized update, got %d", recorder.count(UpdateAuthorized))
	}
	// 达到阈值的那次签名只发授权事件，不额外发签名事件。
	if recorder.count(UpdateSigned) != 1 {
		t.Fatalf("expected one signed update before the threshold, got %d", recorder.count(UpdateSigned))
	}
}

func TestSignDuplicateSigner(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), 2, time.Minute)
	ctx := context.Background()

	proposal, err := engine.Create(ctx, testIntent())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Sign(ctx, proposal.ID, "agent-1"); err != nil {
		t.Fatalf("first sign: %v", err)
	}

	got, err := engine.Sign(ctx, proposal.ID, "agent-1")
	if !errors.Is(err, ErrDuplicateSigner) {
		t.Fatalf("expected duplicate signer error, got %v", err)
	}
	if len(got.Signatures) != 1 {
		t.Fatalf("duplicate sign must not change signatures, got %d", len(got.Signatures))
	}
}

func TestSignTerminalProposal(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), 1, time.Minute)
	ctx := context.Background()

	proposal, err := engine.Create(ctx, testIntent())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Sign(ctx, proposal.ID, "agent-1"); err != nil {
		t.Fatalf("authorizing sign: %v", err)
	}

	if _, err := engine.Sign(ctx, proposal.ID, "agent-3"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state after authorization, got %v", err)
	}
}

func TestSignUnknownProposal(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), 2, time.Minute)
	if _, err := engine.Sign(context.Background(), "no-such-id", "agent-1"); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentSignsAuthorizeExactlyOnce(t *testing.T) {
	recorder := &updateRecorder{}
	engine := NewEngine(NewMemoryStore(), 2, time.Minute, WithObserver(recorder.record))
	ctx := context.Background()

	proposal, err := engine.Create(ctx, testIntent())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const signers = 8
	var wg sync.WaitGroup
	for i := 0; i < signers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = engine.Sign(ctx, proposal.ID, fmt.Sprintf("agent-%d", n))
		}(i)
	}
	wg.Wait()

	if got := recorder.count(UpdateAuthorized); got != 1 {
		t.Fatalf("expected exactly one authorized update, got %d", got)
	}
	final, err := engine.Get(proposal.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.State != StateAuthorized {
		t.Fatalf("expected authorized, got %s", final.State)
	}
	if len(final.Signatures) != final.RequiredSignatures {
		t.Fatalf("expected %d signatures, got %d", final.RequiredSignatures, len(final.Signatures))
	}
}

func TestRejectProposal(t *testing.T) {
	recorder := &updateRecorder{}
	engine := NewEngine(NewMemoryStore(), 2, time.Minute, WithObserver(recorder.record))
	ctx := context.Background()

	proposal, err := engine.Create(ctx, testIntent())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rejected, err := engine.Reject(ctx, proposal.ID, "risk gate")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.State != StateRejected {
		t.Fatalf("expected rejected, got %s", rejected.State)
	}
	if rejected.RejectReason != "risk gate" {
		t.Fatalf("expected reject reason to persist, got %q", rejected.RejectReason)
	}

	if _, err := engine.Sign(ctx, proposal.ID, "agent-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state after rejection, got %v", err)
	}
	if recorder.count(UpdateRejected) != 1 {
		t.Fatalf("expected one rejected update, got %d", recorder.count(UpdateRejected))
	}
}

func TestSignExpiredProposal(t *testing.T) {
	clock := newFakeClock()
	recorder := &updateRecorder{}
	engine := NewEngine(NewMemoryStore(), 2, 10*time.Minute,
		WithClock(clock.Now), WithObserver(recorder.record))
	ctx := context.Background()

	proposal, err := engine.Create(ctx, testIntent())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(11 * time.Minute)

	got, err := engine.Sign(ctx, proposal.ID, "agent-1")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state on expired proposal, got %v", err)
	}
	if got.State != StateExpired {
		t.Fatalf("expected lazy expiry transition, got %s", got.State)
	}
	if recorder.count(UpdateExpired) != 1 {
		t.Fatalf("expected one expired update, got %d", recorder.count(UpdateExpired))
	}
}

func TestSweepExpired(t *testing.T) {
	clock := newFakeClock()
	engine := NewEngine(NewMemoryStore(), 2, 10*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	stale, err := engine.Create(ctx, testIntent())
	if err != nil {
		t.Fatalf("create stale: %v", err)
	}

	clock.Advance(6 * time.Minute)
	freshIntent := testIntent()
	freshIntent.ProposedBy = "agent-1"
	fresh, err := engine.Create(ctx, freshIntent)
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	clock.Advance(5 * time.Minute)
	expired, err := engine.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired proposal, got %d", expired)
	}

	staleNow, _ := engine.Get(stale.ID)
	if staleNow.State != StateExpired {
		t.Fatalf("stale proposal should be expired, got %s", staleNow.State)
	}
	freshNow, _ := engine.Get(fresh.ID)
	if freshNow.State != StatePendingSignatures {
		t.Fatalf("fresh proposal should stay pending, got %s", freshNow.State)
	}
}

func TestExpiredEquivalentDoesNotBlockNewProposal(t *testing.T) {
	clock := newFakeClock()
	engine := NewEngine(NewMemoryStore(), 2, 10*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	if _, err := engine.Create(ctx, testIntent()); err != nil {
		t.Fatalf("first create: %v", err)
	}

	clock.Advance(11 * time.Minute)
	if _, err := engine.Create(ctx, testIntent()); err != nil {
		t.Fatalf("create after expiry should succeed: %v", err)
	}
}

func TestRestorePendingProposals(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := NewEngine(store, 2, time.Hour)
	proposal, err := first.Create(ctx, testIntent())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := first.Sign(ctx, proposal.ID, "agent-1"); err != nil {
		t.Fatalf("sign before restart: %v", err)
	}

	second := NewEngine(store, 2, time.Hour)
	if err := second.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	restored, err := second.Get(proposal.ID)
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if len(restored.Signatures) != 1 {
		t.Fatalf("expected restored signature, got %d", len(restored.Signatures))
	}

	authorized, err := second.Sign(ctx, proposal.ID, "agent-3")
	if err != nil {
		t.Fatalf("sign after restore: %v", err)
	}
	if authorized.State != StateAuthorized {
		t.Fatalf("expected authorized after restore, got %s", authorized.State)
	}
}

func TestListOrdersByCreation(t *testing.T) {
	clock := newFakeClock()
	engine := NewEngine(NewMemoryStore(), 2, time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	for i, proposer := range []string{"agent-1", "agent-2", "agent-3"} {
		intent := testIntent()
		intent.ProposedBy = proposer
		if _, err := engine.Create(ctx, intent); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		clock.Advance(time.Minute)
	}

	proposals := engine.List()
	if len(proposals) != 3 {
		t.Fatalf("expected 3 proposals, got %d", len(proposals))
	}
	for i := 1; i < len(proposals); i++ {
		if proposals[i].CreatedAt.Before(proposals[i-1].CreatedAt) {
			t.Fatal("proposals not ordered by creation time")
		}
	}
}
