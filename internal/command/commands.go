// Package command implements the REPL's slash-command surface (component
// I): exit, help, init, models, session, compress, tokens, and setting.
// Grounded on the teacher's single "/new" REPL command in
// cmd/agent_chat_standalone.go (Fprintf-to-stderr output convention,
// "Goodbye!" farewell) and generalized into a name-keyed dispatch table
// the way a real multi-command REPL needs.
package command

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
	"github.com/nextlevelbuilder/ggcode/internal/estimator"
	"github.com/nextlevelbuilder/ggcode/internal/providers"
	"github.com/nextlevelbuilder/ggcode/internal/session"
	"github.com/nextlevelbuilder/ggcode/internal/subagent"
)

// CompressionMode is the mode last chosen with `/compress`. Only
// `/compress status` reads it; the agent loop runs the rule-based compactor
// on every iteration whatever the mode.
type CompressionMode string

const (
	CompressionOff    CompressionMode = "off"
	CompressionAuto   CompressionMode = "on"
	CompressionManual CompressionMode = "manual"
	CompressionLLM    CompressionMode = "llm"
)

// Settings is the live, mutable sampling configuration `/setting` edits,
// held by reference in Manager. ToChatOptions projects it onto
// providers.ChatOptions; the agent loop builds its own ChatOptions for each
// Chat call and does not read these values.
type Settings struct {
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
}

// DefaultSettings matches providers.ChatOptions' documented ranges.
func DefaultSettings() Settings {
	return Settings{Temperature: 1.0, TopP: 1.0, TopK: -1, RepetitionPenalty: 1.0}
}

// settingRange declares a `/setting` parameter's valid [min, max] bound.
type settingRange struct {
	min, max float64
}

var settingRanges = map[string]settingRange{
	"temperature":        {0, 2},
	"top_p":              {0, 1},
	"top_k":              {-1, 100},
	"repetition_penalty": {1, 2},
}

// Manager dispatches slash commands against the live session/context/
// settings state. Every handler returns the text to print to the user (or
// an error describing what went wrong) — it never writes to stdout/stderr
// itself, so the REPL (component M) controls all presentation.
type Manager struct {
	Sessions    *session.Store
	Context     *gctx.Manager
	Settings    *Settings
	Models      []string
	ModelIndex  int
	Subagents   *subagent.Runner
	Compression CompressionMode

	SummaryEveryNTurns int
	TurnsSinceSummary  int
}

// Result is one command's outcome.
type Result struct {
	Output string
	Exit   bool // true for /exit — the REPL should terminate after printing Output
}

// Dispatch parses a line already known to start with "/" and routes it to
// the named command's handler. The leading "/" must already be stripped by
// the caller's "is this a slash command" check.
func (m *Manager) Dispatch(line string) (Result, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "exit", "quit":
		return Result{Output: "Goodbye!", Exit: true}, nil
	case "help":
		return Result{Output: m.help()}, nil
	case "init":
		return m.runInit(args)
	case "models":
		return m.runModels(args)
	case "session":
		return m.runSession(args)
	case "compress":
		return m.runCompress(args)
	case "tokens":
		return m.runTokens(args)
	case "setting":
		return m.runSetting(args)
	default:
		return Result{}, fmt.Errorf("unknown command %q — try /help", name)
	}
}

func (m *Manager) help() string {
	lines := []string{
		"/exit                                  leave ggcode",
		"/help                                  show this message",
		"/init                                  generate AGENTS.md from the current project",
		"/models                                list or switch the active model",
		"/session list|switch|fork|rename|export|import|cleanup|status",
		"/compress on|off|manual|llm|status     set or show the compaction mode",
		"/tokens                                show current context token usage",
		"/setting list|set <param> <value>|reset",
	}
	return strings.Join(lines, "\n")
}

// runInit summarizes the current conversation's project context via the
// summary subagent and returns it as AGENTS.md content; the REPL prints it
// and no file is written — the command manager itself never touches the
// filesystem outside tool calls issued by the orchestrator.
func (m *Manager) runInit(args []string) (Result, error) {
	if m.Subagents == nil {
		return Result{}, fmt.Errorf("no subagent runner configured")
	}
	summary := m.Subagents.Summary(context.Background(), m.Context.Messages())
	if summary == "" {
		return Result{}, fmt.Errorf("could not generate a project summary")
	}
	content := "# AGENTS.md\n\n" + summary + "\n"
	return Result{Output: content}, nil
}

func (m *Manager) runModels(args []string) (Result, error) {
	if len(args) == 0 {
		var sb strings.Builder
		for i, name := range m.Models {
			marker := "  "
			if i == m.ModelIndex {
				marker = "* "
			}
			fmt.Fprintf(&sb, "%s%s\n", marker, name)
		}
		return Result{Output: strings.TrimRight(sb.String(), "\n")}, nil
	}

	want := args[0]
	for i, name := range m.Models {
		if name == want {
			m.ModelIndex = i
			return Result{Output: "switched to " + name}, nil
		}
	}
	return Result{}, fmt.Errorf("unknown model %q", want)
}

func (m *Manager) runSession(args []string) (Result, error) {
	if len(args) == 0 {
		return Result{}, fmt.Errorf("usage: /session list|switch|fork|rename|export|import|cleanup|status")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		metas, err := m.Sessions.List()
		if err != nil {
			return Result{}, err
		}
		var sb strings.Builder
		for _, meta := range metas {
			fmt.Fprintf(&sb, "%s  %-30s  %d msgs\n", meta.ID[:8], meta.Title, meta.MessageCount)
		}
		return Result{Output: strings.TrimRight(sb.String(), "\n")}, nil

	case "switch":
		if len(rest) == 0 {
			return Result{}, fmt.Errorf("usage: /session switch <id>")
		}
		if err := m.Sessions.Switch(rest[0]); err != nil {
			return Result{}, err
		}
		return Result{Output: "switched to " + rest[0]}, nil

	case "fork":
		idx := -1
		if len(rest) > 1 {
			n, err := strconv.Atoi(rest[1])
			if err != nil {
				return Result{}, fmt.Errorf("invalid message index %q", rest[1])
			}
			idx = n
		}
		if len(rest) == 0 {
			return Result{}, fmt.Errorf("usage: /session fork <id> [messageIndex]")
		}
		meta, err := m.Sessions.Fork(rest[0], idx)
		if err != nil {
			return Result{}, err
		}
		return Result{Output: "forked into " + meta.ID}, nil

	case "rename":
		if len(rest) < 2 {
			return Result{}, fmt.Errorf("usage: /session rename <id> <title...>")
		}
		title := strings.Join(rest[1:], " ")
		if err := m.Sessions.Rename(rest[0], title); err != nil {
			return Result{}, err
		}
		return Result{Output: "renamed"}, nil

	case "export":
		if len(rest) == 0 {
			return Result{}, fmt.Errorf("usage: /session export <id>")
		}
		data, err := m.Sessions.Export(rest[0])
		if err != nil {
			return Result{}, err
		}
		return Result{Output: string(data)}, nil

	case "import":
		if len(rest) == 0 {
			return Result{}, fmt.Errorf("usage: /session import <json>")
		}
		meta, err := m.Sessions.Import([]byte(strings.Join(rest, " ")))
		if err != nil {
			return Result{}, err
		}
		return Result{Output: "imported as " + meta.ID}, nil

	case "cleanup":
		removed, err := m.Sessions.ManualCleanup()
		if err != nil {
			return Result{}, err
		}
		return Result{Output: fmt.Sprintf("removed %d inactive sessions", removed)}, nil

	case "status":
		cur, err := m.Sessions.Current()
		if err != nil {
			return Result{}, err
		}
		return Result{Output: fmt.Sprintf("%s  %q  %d messages", cur.ID, cur.Title, cur.MessageCount)}, nil

	default:
		return Result{}, fmt.Errorf("unknown /session subcommand %q", sub)
	}
}

func (m *Manager) runCompress(args []string) (Result, error) {
	if len(args) == 0 {
		return Result{}, fmt.Errorf("usage: /compress on|off|manual|llm|status")
	}
	switch args[0] {
	case "on":
		m.Compression = CompressionAuto
		return Result{Output: "compression: on"}, nil
	case "off":
		m.Compression = CompressionOff
		return Result{Output: "compression: off"}, nil
	case "manual":
		m.Compression = CompressionManual
		return Result{Output: "compression: manual"}, nil
	case "llm":
		m.Compression = CompressionLLM
		return Result{Output: "compression: llm-assisted"}, nil
	case "status":
		return Result{Output: "compression: " + string(m.Compression)}, nil
	default:
		return Result{}, fmt.Errorf("unknown /compress subcommand %q", args[0])
	}
}

func (m *Manager) runTokens(args []string) (Result, error) {
	total := estimator.EstimateMessages(flattenAll(m.Context.Messages()))
	return Result{Output: fmt.Sprintf("~%d tokens in current context", total)}, nil
}

func (m *Manager) runSetting(args []string) (Result, error) {
	if len(args) == 0 {
		return Result{}, fmt.Errorf("usage: /setting list|set <param> <value>|reset")
	}
	switch args[0] {
	case "list":
		return Result{Output: m.listSettings()}, nil
	case "reset":
		*m.Settings = DefaultSettings()
		return Result{Output: "settings reset to defaults"}, nil
	case "set":
		if len(args) != 3 {
			return Result{}, fmt.Errorf("usage: /setting set <param> <value>")
		}
		return m.setParam(args[1], args[2])
	default:
		return Result{}, fmt.Errorf("unknown /setting subcommand %q", args[0])
	}
}

func (m *Manager) listSettings() string {
	names := make([]string, 0, len(settingRanges))
	for name := range settingRanges {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		r := settingRanges[name]
		fmt.Fprintf(&sb, "%-20s [%g, %g] = %v\n", name, r.min, r.max, m.currentValue(name))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m *Manager) currentValue(name string) interface{} {
	switch name {
	case "temperature":
		return m.Settings.Temperature
	case "top_p":
		return m.Settings.TopP
	case "top_k":
		return m.Settings.TopK
	case "repetition_penalty":
		return m.Settings.RepetitionPenalty
	}
	return nil
}

func (m *Manager) setParam(name, rawValue string) (Result, error) {
	r, ok := settingRanges[name]
	if !ok {
		return Result{}, fmt.Errorf("unknown setting %q", name)
	}
	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return Result{}, fmt.Errorf("invalid value %q for %s", rawValue, name)
	}
	if value < r.min || value > r.max {
		return Result{}, fmt.Errorf("%s must be in [%g, %g], got %g", name, r.min, r.max, value)
	}

	switch name {
	case "temperature":
		m.Settings.Temperature = value
	case "top_p":
		m.Settings.TopP = value
	case "top_k":
		m.Settings.TopK = int(value)
	case "repetition_penalty":
		m.Settings.RepetitionPenalty = value
	}
	return Result{Output: fmt.Sprintf("%s = %g", name, value)}, nil
}

func flattenAll(messages []gctx.Message) []string {
	out := make([]string, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg.Text())
	}
	return out
}

// ToChatOptions projects the mutable Settings onto providers.ChatOptions
// for the next Chat call.
func (s Settings) ToChatOptions() providers.ChatOptions {
	return providers.ChatOptions{
		Temperature:       s.Temperature,
		TopP:              s.TopP,
		TopK:              s.TopK,
		RepetitionPenalty: s.RepetitionPenalty,
	}
}
