package roster

import (
	"context"
	"math/rand"
	"testing"
)

func TestAgent_MentionedIn(t *testing.T) {
	a := Agent{ID: "a1", Name: "Fennec", Tag: "🦊"}

	cases := []struct {
		text string
		want bool
	}{
		{"hey Fennec, thoughts?", true},
		{"HEY FENNEC", true},
		{"look, a 🦊 appeared", true},
		{"the fennecs are out tonight", false},
		{"nothing to see here", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := a.MentionedIn(tc.text); got != tc.want {
			t.Errorf("MentionedIn(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}

	empty := Agent{ID: "a2"}
	if empty.MentionedIn("anything") {
		t.Error("agent without name or tag cannot be mentioned")
	}

	tagged := Agent{ID: "a3", Name: "Ada", Tag: "<@A3>"}
	if !tagged.MentionedIn("ping <@a3> please") {
		t.Error("tag match must be case-insensitive")
	}
	if tagged.MentionedIn("we flew to Canada last week") {
		t.Error("name must not match inside a longer word")
	}
	if !tagged.MentionedIn("ada?") {
		t.Error("punctuation-bounded name should match")
	}
}

func TestMemoryRoster(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRoster(
		Agent{ID: "b", Name: "Bee"},
		Agent{ID: "a", Name: "Ada"},
	)

	agents, err := r.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 || agents[0].ID != "a" || agents[1].ID != "b" {
		t.Errorf("ListAgents = %+v, want sorted by ID", agents)
	}

	got, ok, err := r.GetAgent(ctx, "a")
	if err != nil || !ok || got.Name != "Ada" {
		t.Errorf("GetAgent = %+v, %v, %v", got, ok, err)
	}
	if _, ok, _ := r.GetAgent(ctx, "zzz"); ok {
		t.Error("found agent that does not exist")
	}

	if err := r.SetModel(ctx, "a", "anthropic/claude"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	got, _, _ = r.GetAgent(ctx, "a")
	if got.Model != "anthropic/claude" {
		t.Errorf("Model = %q after SetModel", got.Model)
	}
}

func TestPickRandom(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1)) // #nosec G404 -- deterministic test source

	if _, ok, err := PickRandom(ctx, NewMemoryRoster(), rng); err != nil || ok {
		t.Fatalf("PickRandom on empty roster = ok %v, err %v", ok, err)
	}

	r := NewMemoryRoster(
		Agent{ID: "a"}, Agent{ID: "b"}, Agent{ID: "c"},
	)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		a, ok, err := PickRandom(ctx, r, rng)
		if err != nil || !ok {
			t.Fatalf("PickRandom: ok %v, err %v", ok, err)
		}
		seen[a.ID] = true
	}
	if len(seen) != 3 {
		t.Errorf("100 picks hit %d distinct agents, want 3", len(seen))
	}
}
