package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/ggcode/internal/compactor"
	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
	"github.com/nextlevelbuilder/ggcode/internal/gate"
	"github.com/nextlevelbuilder/ggcode/internal/prompt"
	"github.com/nextlevelbuilder/ggcode/internal/providers"
	"github.com/nextlevelbuilder/ggcode/internal/tools"
)

// queueProvider replies with the next entry in replies each call it
// receives, repeating the last entry once the queue is exhausted. Every
// call streams its reply through opts.OnChunk, one shot, so the detector
// sees a single chunk per call.
type queueProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (q *queueProvider) Name() string { return "queue" }

func (q *queueProvider) Chat(ctx context.Context, messages []gctx.Message, opts providers.ChatOptions) (string, error) {
	q.mu.Lock()
	idx := q.calls
	if idx >= len(q.replies) {
		idx = len(q.replies) - 1
	}
	reply := q.replies[idx]
	q.calls++
	q.mu.Unlock()

	if opts.OnChunk != nil {
		opts.OnChunk(reply)
	}
	// A real streaming transport's read loop observes context cancellation
	// after handing a chunk to the caller; mirror that here so a
	// detector-triggered abort deterministically surfaces as a Chat error
	// instead of racing the synchronous return against ctx.Done().
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return reply, nil
}

func newTestLoop(t *testing.T, p providers.Provider, reg *tools.Registry) *Loop {
	t.Helper()
	composer := prompt.NewComposer("")
	return &Loop{
		Provider:      p,
		Gate:          gate.New(rate.Inf, 1),
		Registry:      reg,
		Executor:      tools.NewExecutor(reg, tools.DefaultTruncateConfig()),
		Composer:      composer,
		ContextWindow: 8000,
		CompactCfg:    compactor.DefaultConfig(),
	}
}

func echoToolDef(name string, calls *[]string, mu *sync.Mutex) *tools.Definition {
	return &tools.Definition{
		Name:        name,
		Description: "test echo tool",
		Category:    tools.CategorySystem,
		Permission:  tools.PermissionSafe,
		Handler: func(ec *tools.ExecContext, params map[string]interface{}) *tools.Result {
			mu.Lock()
			*calls = append(*calls, name)
			mu.Unlock()
			return tools.NewResult("ok:" + name)
		},
	}
}

func runConfig() RunConfig {
	return RunConfig{
		AgentType:        "coding",
		MaxIterations:    5,
		AutoApprove:      true,
		WorkingDirectory: ".",
	}
}

func TestToolResultsAppearInCallOrder(t *testing.T) {
	var calls []string
	var mu sync.Mutex
	reg := tools.NewRegistry()
	reg.Register(echoToolDef("alpha", &calls, &mu))
	reg.Register(echoToolDef("beta", &calls, &mu))

	multiCall := `{"tool": "alpha", "parameters": {}}` + "\n" + `{"tool": "beta", "parameters": {}}`
	p := &queueProvider{replies: []string{multiCall, "All done."}}
	l := newTestLoop(t, p, reg)

	cm := gctx.NewManager()
	res, err := l.Run(context.Background(), "sess-1", cm, "do both things", runConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "All done." {
		t.Errorf("expected final text %q, got %q", "All done.", res.Content)
	}
	if len(calls) != 2 || calls[0] != "alpha" || calls[1] != "beta" {
		t.Fatalf("expected calls in order [alpha beta], got %v", calls)
	}

	// Tool results must also be appended to the context manager in call order.
	var resultOrder []string
	for _, msg := range cm.Messages() {
		for _, part := range msg.Parts {
			if part.Kind == gctx.PartToolResult {
				resultOrder = append(resultOrder, part.Content)
			}
		}
	}
	if len(resultOrder) != 2 || resultOrder[0] != "ok:alpha" || resultOrder[1] != "ok:beta" {
		t.Fatalf("expected tool results recorded in order, got %v", resultOrder)
	}
}

func TestMaxIterationsStopsAfterExactlyNExecutions(t *testing.T) {
	var calls []string
	var mu sync.Mutex
	reg := tools.NewRegistry()
	reg.Register(echoToolDef("alpha", &calls, &mu))

	alwaysToolCall := `{"tool": "alpha", "parameters": {}}`
	p := &queueProvider{replies: []string{alwaysToolCall}}
	l := newTestLoop(t, p, reg)

	cm := gctx.NewManager()
	cfg := runConfig()
	cfg.MaxIterations = 3

	res, err := l.Run(context.Background(), "sess-2", cm, "keep calling alpha forever", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected exactly 3 tool executions, got %d (%v)", len(calls), calls)
	}
	if !strings.Contains(res.Content, "3") {
		t.Errorf("expected max-steps warning mentioning the limit, got %q", res.Content)
	}
}

func TestCorrectionInjectionCappedThenFails(t *testing.T) {
	reg := tools.NewRegistry()
	// A reply whose text mentions a known tool name and the closing tag the
	// detector looks for, without any of the literal JSON markers it
	// requires to treat it as a well-formed call — this is exactly the
	// malformed-output shape detector.Feed is built to flag.
	reg.Register(&tools.Definition{Name: "alpha", Permission: tools.PermissionSafe})
	malformed := "I will call alpha now</tool_call>"
	p := &queueProvider{replies: []string{malformed}}
	l := newTestLoop(t, p, reg)

	cm := gctx.NewManager()
	_, err := l.Run(context.Background(), "sess-3", cm, "trigger malformed output", runConfig())
	if err != ErrExecutionFailed {
		t.Fatalf("expected ErrExecutionFailed, got %v", err)
	}
	// maxCorrectionsPerTurn retries plus the initial attempt.
	if p.calls != maxCorrectionsPerTurn+1 {
		t.Errorf("expected %d provider calls, got %d", maxCorrectionsPerTurn+1, p.calls)
	}
}

func TestDeniedToolCallEndsTurnWithDenyMarker(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&tools.Definition{
		Name:       "danger",
		Permission: tools.PermissionDangerous,
		Handler: func(ec *tools.ExecContext, params map[string]interface{}) *tools.Result {
			t.Fatal("denied tool must never execute")
			return nil
		},
	})

	toolCall := `{"tool": "danger", "parameters": {}}`
	p := &queueProvider{replies: []string{toolCall, "unreachable"}}
	l := newTestLoop(t, p, reg)

	cm := gctx.NewManager()
	cfg := runConfig()
	cfg.AutoApprove = false
	cfg.ApprovalCallback = func(call tools.Call, def *tools.Definition) bool { return false }

	res, err := l.Run(context.Background(), "sess-4", cm, "do something dangerous", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Content, "denied") {
		t.Errorf("expected denial message, got %q", res.Content)
	}
	if p.calls != 1 {
		t.Errorf("expected the turn to end after one model call, got %d", p.calls)
	}
}

func TestStreamChunksReachStatusCallback(t *testing.T) {
	reg := tools.NewRegistry()
	p := &queueProvider{replies: []string{"plain final answer"}}
	l := newTestLoop(t, p, reg)

	var chunks []string
	cfg := runConfig()
	cfg.StatusCallback = func(ev Event) {
		if ev.Type == EventChunk {
			chunks = append(chunks, fmt.Sprint(ev.Payload))
		}
	}

	cm := gctx.NewManager()
	res, err := l.Run(context.Background(), "sess-5", cm, "hello", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "plain final answer" {
		t.Errorf("expected plain answer passthrough, got %q", res.Content)
	}
	if len(chunks) != 1 || chunks[0] != "plain final answer" {
		t.Errorf("expected the single chunk forwarded to status callback, got %v", chunks)
	}
}
