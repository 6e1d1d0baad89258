// Package agent implements the think→act→observe orchestration loop
// (component J), per spec.md §4.J. Grounded on the teacher's
// internal/agent/loop.go Loop/RunRequest/RunResult/AgentEvent shapes and
// its emit-events-as-you-go style, narrowed from goclaw's multi-channel,
// multi-tenant managed-mode surface down to the single-session CLI
// contract spec.md describes: one provider, one registry, one context
// buffer per turn.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/ggcode/internal/compactor"
	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
	"github.com/nextlevelbuilder/ggcode/internal/gate"
	"github.com/nextlevelbuilder/ggcode/internal/parser"
	"github.com/nextlevelbuilder/ggcode/internal/prompt"
	"github.com/nextlevelbuilder/ggcode/internal/providers"
	"github.com/nextlevelbuilder/ggcode/internal/session"
	"github.com/nextlevelbuilder/ggcode/internal/subagent"
	"github.com/nextlevelbuilder/ggcode/internal/tools"
)

// maxCorrectionsPerTurn bounds how many times a single turn may restart an
// iteration after the streaming detector flags malformed tool-call output,
// per spec.md §4.J step 2.
const maxCorrectionsPerTurn = 2

// EventType names a status callback event.
type EventType string

const (
	EventChunk      EventType = "chunk"
	EventToolCall   EventType = "tool.call"
	EventToolResult EventType = "tool.result"
	EventError      EventType = "error"
)

// Event is forwarded to the caller's StatusCallback as the turn progresses,
// driving the REPL's live rendering (component M).
type Event struct {
	Type    EventType
	Payload interface{}
}

// StatusCallback receives Events as the turn runs.
type StatusCallback func(Event)

// ApprovalCallback is consulted before executing a call whose tool
// Permission is not PermissionSafe, when RunConfig.AutoApprove is false.
// Returning false denies the call and ends the turn.
type ApprovalCallback func(call tools.Call, def *tools.Definition) bool

// RunConfig carries the per-turn runtime knobs spec.md §4.J names.
type RunConfig struct {
	AgentType        string
	MaxIterations    int
	AutoApprove      bool
	WorkingDirectory string
	ApprovalCallback ApprovalCallback
	StatusCallback   StatusCallback
}

// RunResult is a completed turn's outcome.
type RunResult struct {
	Content    string
	Iterations int
}

// ErrExecutionFailed is returned when correction attempts are exhausted
// without the model producing parseable output, per spec.md §4.J step 2.
var ErrExecutionFailed = fmt.Errorf("AGENT_EXECUTION_FAILED")

// Loop runs the per-session orchestration state machine described in
// spec.md §4.J: compact, dispatch, stream, parse, approve, execute, repeat.
type Loop struct {
	Provider      providers.Provider
	Gate          *gate.Gate
	Registry      *tools.Registry
	Executor      *tools.Executor
	Composer      *prompt.Composer
	Sessions      *session.Store
	Subagents     *subagent.Runner
	ContextWindow int
	CompactCfg    compactor.Config

	// SummaryEveryNTurns triggers the summary subagent hook every N
	// completed turns (Run calls that return a result rather than an
	// error) for a given session; 0 disables it.
	SummaryEveryNTurns int

	turnCounts sync.Map // sessionID -> int
}

// Run executes one user turn against cm, mutating it in place with every
// message appended along the way (user input, assistant replies, tool
// calls/results), and returns the final answer once the model stops
// requesting tool calls or the iteration cap is hit. Exhausting the
// correction cap returns ErrExecutionFailed instead.
func (l *Loop) Run(ctx context.Context, sessionID string, cm *gctx.Manager, userMessage string, cfg RunConfig) (*RunResult, error) {
	isFirstTurn := onlySystemMessages(cm.Messages())
	cm.Append(gctx.NewTextMessage(gctx.RoleUser, userMessage))

	budget := l.budget()
	iteration := 0
	corrections := 0

	for {
		if err := ctx.Err(); err != nil {
			if cfg.StatusCallback != nil {
				cfg.StatusCallback(Event{Type: EventError, Payload: err})
			}
			return nil, err
		}

		cm.Replace(compactor.Compact(cm.Messages(), budget, l.CompactCfg))

		view := cm.View(budget)

		text, malformed, streamErr := l.stream(ctx, view, cfg)
		if streamErr != nil {
			if malformed != "" {
				corrections++
				if corrections > maxCorrectionsPerTurn {
					return nil, ErrExecutionFailed
				}
				l.injectCorrection(cm, malformed)
				continue
			}
			if cfg.StatusCallback != nil {
				cfg.StatusCallback(Event{Type: EventError, Payload: streamErr})
			}
			return nil, streamErr
		}

		result := parser.ParseToolCalls(text, l.Registry.Names())
		if len(result.Calls) == 0 {
			clean := SanitizeAssistantContent(text)
			cm.Append(gctx.NewTextMessage(gctx.RoleAssistant, clean))
			return l.finish(sessionID, cm, userMessage, clean, iteration, isFirstTurn), nil
		}

		if iteration >= cfg.MaxIterations {
			warning, _ := l.Composer.Render(prompt.NameMaxSteps, map[string]interface{}{"MaxIterations": cfg.MaxIterations})
			cm.Append(gctx.NewTextMessage(gctx.RoleAssistant, warning))
			return l.finish(sessionID, cm, userMessage, warning, iteration, isFirstTurn), nil
		}

		denyMsg, denied := l.runCalls(ctx, cm, text, result.Calls, cfg)
		if denied {
			cm.Append(gctx.NewTextMessage(gctx.RoleAssistant, denyMsg))
			return l.finish(sessionID, cm, userMessage, denyMsg, iteration, isFirstTurn), nil
		}

		iteration++
	}
}

// budget reconciles the compactor's two independently-named thresholds into
// one concrete token ceiling for both View() and the compaction check: the
// smaller of "fraction of context window" and "window minus reserve floor".
func (l *Loop) budget() int {
	fromShare := int(float64(l.ContextWindow) * l.CompactCfg.MaxHistoryShare)
	fromFloor := l.ContextWindow - l.CompactCfg.ReserveTokensFloor
	if fromShare < fromFloor {
		return fromShare
	}
	return fromFloor
}

// stream submits view to the LLM at high priority and feeds every chunk to
// both the caller's status callback and the streaming format detector.
// Detector-triggered abort cancels only this call via a context local to
// stream — the gate's Submit races the caller's own ctx.Done() against its
// result channel, so cancelling here never disturbs the gate's shared
// single-flight dispatch loop or other queued requests.
func (l *Loop) stream(ctx context.Context, view []gctx.Message, cfg RunConfig) (text string, malformed string, err error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	detector := parser.NewDetectorState(l.Registry.Names())
	var accumulated string

	onChunk := func(chunk string) {
		accumulated += chunk
		if cfg.StatusCallback != nil {
			cfg.StatusCallback(Event{Type: EventChunk, Payload: chunk})
		}
		if _, abort := detector.Feed(chunk); abort {
			cancel()
		}
	}

	value, err := l.Gate.Submit(streamCtx, gate.PriorityHigh, func(c context.Context) (interface{}, error) {
		return l.Provider.Chat(c, view, providers.ChatOptions{Stream: true, OnChunk: onChunk})
	})

	if err != nil {
		if streamCtx.Err() != nil && ctx.Err() == nil {
			// Our own cancel() fired the detector's abort, not an outer interrupt.
			return "", accumulated, err
		}
		return "", "", err
	}

	out, _ := value.(string)
	if out == "" {
		out = accumulated
	}
	return out, "", nil
}

// injectCorrection appends the malformed snippet as an ignored assistant
// message and a synthetic user message carrying the correction template,
// per spec.md §4.J step 2.
func (l *Loop) injectCorrection(cm *gctx.Manager, malformed string) {
	cm.Append(gctx.NewEnhancedMessage(gctx.RoleAssistant, []gctx.Part{
		{Kind: gctx.PartText, Content: malformed, Ignored: true},
	}))
	note, err := l.Composer.Render(prompt.NameCorrection, nil)
	if err != nil || note == "" {
		note = "That reply wasn't valid — please retry as a single JSON tool call or plain text."
	}
	cm.Append(gctx.NewTextMessage(gctx.RoleUser, note))
}

// runCalls executes each parsed tool call in arrival order, consulting the
// approval callback for non-safe permissions. Returns (denyMessage, true)
// if a call was denied, stopping the sequence early. No tool runs
// concurrently with another within a turn, and results are appended in the
// same order their calls appeared.
func (l *Loop) runCalls(ctx context.Context, cm *gctx.Manager, rawText string, calls []tools.Call, cfg RunConfig) (string, bool) {
	callParts := make([]gctx.Part, 0, len(calls)+1)
	callParts = append(callParts, gctx.Part{Kind: gctx.PartText, Content: rawText})
	for _, call := range calls {
		callParts = append(callParts, gctx.Part{
			ID: call.ID, Kind: gctx.PartToolCall, ToolName: call.Tool, ToolArgs: call.Parameters,
		})
	}
	cm.Append(gctx.NewEnhancedMessage(gctx.RoleAssistant, callParts))

	abort := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(abort)
	}()

	for _, call := range calls {
		if ctx.Err() != nil {
			return "", false
		}

		def, ok := l.Registry.Get(call.Tool)
		if ok && def.Permission != tools.PermissionSafe && !cfg.AutoApprove {
			approved := cfg.ApprovalCallback != nil && cfg.ApprovalCallback(call, def)
			if !approved {
				return fmt.Sprintf("Tool call to %q was denied.", call.Tool), true
			}
		}

		if cfg.StatusCallback != nil {
			cfg.StatusCallback(Event{Type: EventToolCall, Payload: call})
		}

		ec := &tools.ExecContext{Context: ctx, WorkingDir: cfg.WorkingDirectory, Abort: abort}
		result := l.Executor.Execute(ec, call)

		if cfg.StatusCallback != nil {
			cfg.StatusCallback(Event{Type: EventToolResult, Payload: result})
		}

		content := result.Output
		if !result.Success {
			content = result.Error
		}
		cm.Append(gctx.NewEnhancedMessage(gctx.RoleUser, []gctx.Part{{
			Kind: gctx.PartToolResult, CallID: call.ID, Content: content,
			Success: result.Success, DurationMS: result.Metadata.DurationMS, Truncated: result.Metadata.Truncated,
		}}))
	}

	return "", false
}

// finish fires the fire-and-forget title/summary subagent hooks, per
// spec.md §4.J, and returns the completed turn's result.
func (l *Loop) finish(sessionID string, cm *gctx.Manager, userMessage, finalText string, iteration int, isFirstTurn bool) *RunResult {
	count, _ := l.turnCounts.LoadOrStore(sessionID, 0)
	turns := count.(int) + 1
	l.turnCounts.Store(sessionID, turns)

	if isFirstTurn && l.Subagents != nil && l.Sessions != nil {
		go func() {
			titleCtx, cancel := context.WithTimeout(context.Background(), subagent.Timeout)
			defer cancel()
			title := l.Subagents.Title(titleCtx, userMessage)
			l.Sessions.Rename(sessionID, title)
		}()
	}

	if l.SummaryEveryNTurns > 0 && turns%l.SummaryEveryNTurns == 0 && l.Subagents != nil && l.Sessions != nil {
		history := cm.Messages()
		go func() {
			summaryCtx, cancel := context.WithTimeout(context.Background(), subagent.Timeout)
			defer cancel()
			summary := l.Subagents.Summary(summaryCtx, history)
			if summary != "" {
				l.Sessions.UpdateSummary(sessionID, summary, 0, 0, nil)
			}
		}()
	}

	return &RunResult{Content: finalText, Iterations: iteration}
}

func onlySystemMessages(messages []gctx.Message) bool {
	for _, m := range messages {
		if m.Role != gctx.RoleSystem {
			return false
		}
	}
	return true
}
