package topics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/deliberate"
)

func TestPickIsDeterministic(t *testing.T) {
	source := NewStaticSource([]Entry{
		{Topic: "topic-a"},
		{Topic: "topic-b"},
		{Topic: "topic-c"},
	})
	agent := deliberate.Agent{ID: "agent-1", Role: "analyst"}

	first := source.Pick(1, 1, agent)
	second := source.Pick(1, 1, agent)
	if first != second {
		t.Fatalf("expected deterministic pick, got %q then %q", first, second)
	}
	if source.Pick(1, 1, agent) == source.Pick(1, 2, agent) {
		t.Fatal("expected rotation across rounds")
	}
}

func TestPickFiltersByRole(t *testing.T) {
	source := NewStaticSource([]Entry{
		{Topic: "risk review", Roles: []string{"risk"}},
		{Topic: "open topic"},
	})

	riskTopic := source.Pick(1, 1, deliberate.Agent{Role: "Risk"})
	if riskTopic != "risk review" {
		t.Fatalf("expected role-scoped topic first, got %q", riskTopic)
	}

	traderTopic := source.Pick(1, 1, deliberate.Agent{Role: "trader"})
	if traderTopic != "open topic" {
		t.Fatalf("expected open topic for unmatched role, got %q", traderTopic)
	}
}

func TestMaxTopicsLimitsRotation(t *testing.T) {
	source := NewStaticSource([]Entry{
		{Topic: "topic-a"},
		{Topic: "topic-b"},
		{Topic: "topic-c"},
	}, WithMaxTopics(2))
	agent := deliberate.Agent{Role: "analyst"}

	for day := 1; day <= 3; day++ {
		for round := 1; round <= 4; round++ {
			if got := source.Pick(day, round, agent); got == "topic-c" {
				t.Fatalf("day %d round %d: topic beyond the cap must not rotate in", day, round)
			}
		}
	}
}

func TestEmptySourceFallsBack(t *testing.T) {
	source := NewStaticSource(nil)
	if source.Pick(1, 1, deliberate.Agent{}) == "" {
		t.Fatal("expected built-in fallback topic")
	}
}

func TestLoadStaticSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.json")
	content := `[{"topic":"loaded topic","roles":["analyst"]}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	source, err := LoadStaticSource(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := source.Pick(1, 1, deliberate.Agent{Role: "analyst"}); got != "loaded topic" {
		t.Fatalf("expected loaded topic, got %q", got)
	}

	if _, err := LoadStaticSource(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	fallback, err := LoadStaticSource("")
	if err != nil {
		t.Fatalf("empty path should fall back: %v", err)
	}
	if fallback.Pick(1, 1, deliberate.Agent{}) == "" {
		t.Fatal("expected fallback topic for empty path")
	}
}
