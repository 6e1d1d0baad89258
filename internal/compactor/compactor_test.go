package compactor

import (
	"strings"
	"testing"

	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
)

func textMsg(role gctx.Role, text string) gctx.Message {
	return gctx.NewTextMessage(role, text)
}

func TestCompactLeavesSmallHistoryUntouched(t *testing.T) {
	messages := []gctx.Message{
		textMsg(gctx.RoleSystem, "system prompt"),
		textMsg(gctx.RoleUser, "hello"),
		textMsg(gctx.RoleAssistant, "hi there"),
	}
	out := Compact(messages, 10, DefaultConfig())
	if len(out) != len(messages) {
		t.Fatalf("expected no compaction below MinMessages, got %d messages", len(out))
	}
}

func TestCompactShrinksOverBudgetHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinMessages = 2
	cfg.KeepLastMessages = 2

	var messages []gctx.Message
	messages = append(messages, textMsg(gctx.RoleSystem, "system prompt"))
	for i := 0; i < 30; i++ {
		messages = append(messages, textMsg(gctx.RoleUser, strings.Repeat("filler content about nothing important ", 20)))
		messages = append(messages, textMsg(gctx.RoleAssistant, strings.Repeat("more filler response text here ", 20)))
	}

	out := Compact(messages, 200, cfg)
	if len(out) >= len(messages) {
		t.Fatalf("expected compaction to shrink message count, got %d from %d", len(out), len(messages))
	}
}

func TestCompactPreservesSystemMessages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinMessages = 2
	cfg.KeepLastMessages = 1

	var messages []gctx.Message
	messages = append(messages, textMsg(gctx.RoleSystem, "you are a helpful assistant"))
	for i := 0; i < 20; i++ {
		messages = append(messages, textMsg(gctx.RoleUser, strings.Repeat("padding text ", 30)))
	}

	out := Compact(messages, 50, cfg)
	found := false
	for _, m := range out {
		if m.Role == gctx.RoleSystem && m.Content == "you are a helpful assistant" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected system message to survive compaction unconditionally")
	}
}

func TestCompactNeverExceedsMonotonicShrink(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinMessages = 2
	cfg.KeepLastMessages = 2

	var messages []gctx.Message
	messages = append(messages, textMsg(gctx.RoleSystem, "system"))
	for i := 0; i < 40; i++ {
		messages = append(messages, textMsg(gctx.RoleUser, strings.Repeat("distinct content block ", 15)))
	}

	first := Compact(messages, 300, cfg)
	second := Compact(first, 300, cfg)
	if len(second) > len(first) {
		t.Fatalf("re-compacting an already-compact history should never grow it: %d -> %d", len(first), len(second))
	}
}

func TestCompactSummaryMessageIsNotSystemRole(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinMessages = 2
	cfg.KeepLastMessages = 1

	var messages []gctx.Message
	messages = append(messages, textMsg(gctx.RoleSystem, "you are a helpful assistant"))
	for i := 0; i < 20; i++ {
		messages = append(messages, textMsg(gctx.RoleUser, strings.Repeat("padding text ", 30)))
	}

	out := Compact(messages, 50, cfg)

	systemCount := 0
	for _, m := range out {
		if m.Role == gctx.RoleSystem {
			systemCount++
		}
	}
	if systemCount != 1 {
		t.Fatalf("expected exactly the original system prompt to remain tagged RoleSystem, got %d system messages", systemCount)
	}

	foundSummary := false
	for _, m := range out {
		if strings.Contains(m.Content, "[摘要] ") {
			if m.Role == gctx.RoleSystem {
				t.Fatalf("synthesized summary must not use RoleSystem: spec.md permits at most one system message at position 0")
			}
			foundSummary = true
		}
	}
	if !foundSummary {
		t.Fatal("expected a rule-based summary placeholder in the compacted output")
	}
}

func TestJaccardAverageIdenticalTextIsOne(t *testing.T) {
	sim := jaccardAverage("the quick brown fox", "the quick brown fox")
	if sim != 1 {
		t.Errorf("expected identical text to score 1.0 similarity, got %v", sim)
	}
}

func TestJaccardAverageDisjointTextIsZero(t *testing.T) {
	sim := jaccardAverage("apple banana cherry", "dog elephant frog")
	if sim != 0 {
		t.Errorf("expected disjoint text to score 0 similarity, got %v", sim)
	}
}

func TestDedupeSimilarCollapsesNearDuplicates(t *testing.T) {
	candidates := []scored{
		{msg: textMsg(gctx.RoleAssistant, "The build failed with error code 1"), index: 0},
		{msg: textMsg(gctx.RoleAssistant, "the build failed with error code 1."), index: 1},
		{msg: textMsg(gctx.RoleAssistant, "completely unrelated content here"), index: 2},
	}
	out := dedupeSimilar(candidates, 0.85)
	if len(out) != 2 {
		t.Fatalf("expected near-duplicate collapsed, got %d candidates", len(out))
	}
}
