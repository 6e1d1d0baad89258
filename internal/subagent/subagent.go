// Package subagent implements the three functional subagents named in
// spec.md §4.K: title, summary, and compaction. Each is a thin wrapper
// that loads a named prompt, filters the conversation it's given, and
// dispatches through the concurrency gate at low priority with a bounded
// timeout — returning a benign default rather than failing the parent
// turn when the call errors or times out.
package subagent

import (
	"context"
	"strings"
	"time"

	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
	"github.com/nextlevelbuilder/ggcode/internal/gate"
	"github.com/nextlevelbuilder/ggcode/internal/providers"
)

// Kind names one of the three functional subagents.
type Kind string

const (
	KindTitle      Kind = "title"
	KindSummary    Kind = "summary"
	KindCompaction Kind = "compaction"
)

// Timeout is the spec.md §7 30s bound shared by all three subagents.
const Timeout = 30 * time.Second

// Runner dispatches a functional subagent call through the gate.
type Runner struct {
	provider providers.Provider
	gate     *gate.Gate
	prompts  map[Kind]string
}

// NewRunner builds a subagent runner bound to a provider, the shared
// concurrency gate, and a set of prompt templates (component L supplies
// these via its composer).
func NewRunner(provider providers.Provider, g *gate.Gate, prompts map[Kind]string) *Runner {
	return &Runner{provider: provider, gate: g, prompts: prompts}
}

// Title generates a short session title from the opening exchange. Falls
// back to a truncated first-user-message on any failure.
func (r *Runner) Title(ctx context.Context, firstUserMessage string) string {
	fallback := truncateWords(firstUserMessage, 8)

	out, err := r.run(ctx, KindTitle, []gctx.Message{
		gctx.NewTextMessage(gctx.RoleSystem, r.prompts[KindTitle]),
		gctx.NewTextMessage(gctx.RoleUser, firstUserMessage),
	})
	if err != nil || strings.TrimSpace(out) == "" {
		return fallback
	}
	return strings.TrimSpace(out)
}

// Summary produces a running summary of a session's history, used both for
// the `/init` AGENTS.md flow and for session metadata display.
func (r *Runner) Summary(ctx context.Context, history []gctx.Message) string {
	messages := append([]gctx.Message{gctx.NewTextMessage(gctx.RoleSystem, r.prompts[KindSummary])}, history...)
	out, err := r.run(ctx, KindSummary, messages)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// Compaction asks the model to summarize a run of messages being dropped by
// the rule-based compactor, for a richer placeholder than the fallback
// first-three-sentences rule. Returns ("", false) on any failure so the
// caller falls back to the rule-based summary.
func (r *Runner) Compaction(ctx context.Context, dropped []gctx.Message) (string, bool) {
	messages := append([]gctx.Message{gctx.NewTextMessage(gctx.RoleSystem, r.prompts[KindCompaction])}, dropped...)
	out, err := r.run(ctx, KindCompaction, messages)
	if err != nil || strings.TrimSpace(out) == "" {
		return "", false
	}
	return strings.TrimSpace(out), true
}

func (r *Runner) run(ctx context.Context, kind Kind, messages []gctx.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	result, err := r.gate.Submit(ctx, gate.PriorityLow, func(ctx context.Context) (interface{}, error) {
		return r.provider.Chat(ctx, messages, providers.ChatOptions{})
	})
	if err != nil {
		return "", err
	}
	text, _ := result.(string)
	return text, nil
}

func truncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}
