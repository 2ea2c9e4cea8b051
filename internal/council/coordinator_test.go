package council

import (
	"context"
	"testing"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/deliberate"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/feed"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
)

type fixedTopics struct{}

func (fixedTopics) Pick(int, int, deliberate.Agent) string { return "今日市场走势" }

// collectUntilAuthorized 持续读取事件，直到出现授权事件为止。
// 授权事件是场景中最后发布的事件，读到它即说明此前事件均已送达。
func collectUntilAuthorized(t *testing.T, sub *feed.Subscriber) []feed.Event {
	t.Helper()
	var events []feed.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-sub.Events():
			events = append(events, event)
			if update, ok := event.Content.(multisig.Update); ok && update.Kind == multisig.UpdateAuthorized {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for authorized event, got %d events", len(events))
		}
	}
}

func collectSnapshot(t *testing.T, sub *feed.Subscriber, want int) []feed.Event {
	t.Helper()
	var events []feed.Event
	deadline := time.After(2 * time.Second)
	for len(events) < want {
		select {
		case event := <-sub.Events():
			events = append(events, event)
		case <-deadline:
			t.Fatalf("expected %d snapshot events, got %d", want, len(events))
		}
	}
	return events
}

func TestSimulatedDayProducesAuthorizedProposal(t *testing.T) {
	registry := councilRegistry(t)
	hub := feed.NewHub()
	coordinator := NewCoordinator(hub)
	engine := multisig.NewEngine(multisig.NewMemoryStore(), 2, time.Hour,
		multisig.WithObserver(coordinator.HandleProposalUpdate),
		multisig.WithValidator(multisig.RegistryValidator(registry)))
	coordinator.BindEngine(engine)

	// 第二次模型调用对应第 1 回合中 2 号智能体的发言。
	model := &scriptedModel{replies: []string{
		"看多主流资产。",
		"建议建仓。\nTRADE: WETH USDC 0.5 sepolia uniswap_v2",
	}}
	decider := NewDecider(model, registry, nil, nil)
	summarizer := NewSummarizer(model)

	agents := []deliberate.Agent{
		{ID: "agent-1", Name: "Alpha", Role: "analyst"},
		{ID: "agent-2", Name: "Beta", Role: "trader"},
		{ID: "agent-3", Name: "Gamma", Role: "risk"},
	}
	scheduler := deliberate.NewScheduler(agents, decider, summarizer, fixedTopics{}, coordinator,
		2, 1, 20, deliberate.WithRetryBackoff(0))

	sub := coordinator.Attach()
	defer sub.Close()

	if err := scheduler.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	pending := engine.List()
	if len(pending) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(pending))
	}
	proposal := pending[0]
	if proposal.State != multisig.StatePendingSignatures {
		t.Fatalf("expected pending proposal, got %s", proposal.State)
	}
	if proposal.Network != "sepolia" || proposal.Dex != "uniswap_v2" ||
		proposal.TokenIn != "WETH" || proposal.TokenOut != "USDC" {
		t.Fatalf("unexpected proposal %+v", proposal)
	}
	if proposal.ProposedBy != "agent-2" {
		t.Fatalf("expected agent-2 as proposer, got %s", proposal.ProposedBy)
	}

	ctx := context.Background()
	if _, err := engine.Sign(ctx, proposal.ID, "signer-a"); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	signed, err := engine.Sign(ctx, proposal.ID, "signer-b")
	if err != nil {
		t.Fatalf("second sign: %v", err)
	}
	if signed.State != multisig.StateAuthorized {
		t.Fatalf("expected authorized state, got %s", signed.State)
	}

	events := collectUntilAuthorized(t, sub)

	var interactions, synopses, created, authorized int
	for _, event := range events {
		switch event.Type {
		case feed.TypeInteraction:
			interactions++
		case feed.TypeSynopsis:
			synopses++
		case feed.TypeProposal:
			update, ok := event.Content.(multisig.Update)
			if !ok {
				t.Fatalf("unexpected proposal content %T", event.Content)
			}
			switch update.Kind {
			case multisig.UpdateCreated:
				created++
			case multisig.UpdateAuthorized:
				authorized++
			}
		}
	}
	if interactions != 6 {
		t.Fatalf("expected 6 interaction events, got %d", interactions)
	}
	if synopses != 1 {
		t.Fatalf("expected 1 synopsis event, got %d", synopses)
	}
	if created != 1 {
		t.Fatalf("expected 1 proposal created event, got %d", created)
	}
	if authorized != 1 {
		t.Fatalf("expected exactly 1 authorized event, got %d", authorized)
	}
}

func TestAttachReplaysWindowAndPendingProposals(t *testing.T) {
	hub := feed.NewHub()
	coordinator := NewCoordinator(hub)
	engine := multisig.NewEngine(multisig.NewMemoryStore(), 2, time.Hour,
		multisig.WithObserver(coordinator.HandleProposalUpdate))
	coordinator.BindEngine(engine)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		coordinator.HandleInteraction(ctx, deliberate.Interaction{
			ID: "i-" + string(rune('a'+i)), Day: 1, Round: 1,
			AgentID: "agent-1", AgentName: "Alpha", Response: "观望。",
		})
	}
	coordinator.HandleIntent(ctx, deliberate.Agent{ID: "agent-2", Name: "Beta"}, deliberate.TradeIntent{
		Network: "sepolia", Dex: "uniswap_v2", TokenIn: "WETH", TokenOut: "USDC", Amount: 0.5,
	})

	sub := coordinator.Attach()
	snapshot := collectSnapshot(t, sub, 4)
	for i := 1; i < len(snapshot); i++ {
		if snapshot[i].Seq <= snapshot[i-1].Seq {
			t.Fatalf("snapshot must be ordered by seq, got %d after %d", snapshot[i].Seq, snapshot[i-1].Seq)
		}
	}
	if snapshot[3].Type != feed.TypeProposal {
		t.Fatalf("expected pending proposal in snapshot, got %s", snapshot[3].Type)
	}
	sub.Close()

	// 摘要之后窗口重置，快照只剩未终结的提案。
	coordinator.HandleSynopsis(ctx, deliberate.Synopsis{Day: 1, Text: "今日无共识。", Interactions: 3})
	late := coordinator.Attach()
	snapshot = collectSnapshot(t, late, 1)
	if snapshot[0].Type != feed.TypeProposal {
		t.Fatalf("expected proposal event after window reset, got %s", snapshot[0].Type)
	}
	late.Close()
	hub.Close()
}

func TestAttachWithoutReplay(t *testing.T) {
	hub := feed.NewHub()
	coordinator := NewCoordinator(hub, WithSnapshotReplay(false))

	ctx := context.Background()
	coordinator.HandleInteraction(ctx, deliberate.Interaction{ID: "i-1", AgentName: "Alpha", Response: "观望。"})

	sub := coordinator.Attach()
	select {
	case event := <-sub.Events():
		t.Fatalf("expected no snapshot replay, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
	sub.Close()
	hub.Close()
}
