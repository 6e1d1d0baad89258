// Package repl implements the interactive front-end (component M):
// reads lines from stdin, routes "/"-prefixed lines to the command
// manager (I) and everything else to the orchestrator (J), and renders
// streamed chunks, tool activity, and final answers to the terminal.
// Grounded on the teacher's cmd/agent_chat_standalone.go interactive
// loop: signal.NotifyContext for Ctrl+C, bufio.Scanner over stdin, the
// "You: " stderr prompt convention, and per-tool-call stderr lines.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/ggcode/internal/agent"
	"github.com/nextlevelbuilder/ggcode/internal/command"
	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
	"github.com/nextlevelbuilder/ggcode/internal/session"
	"github.com/nextlevelbuilder/ggcode/internal/tools"
)

// defaultWrapWidth is used when the terminal width can't be determined.
const defaultWrapWidth = 100

// REPL wires the orchestrator, the command manager, and the session store
// into one terminal read-eval-print loop.
type REPL struct {
	Loop        *agent.Loop
	Commands    *command.Manager
	Context     *gctx.Manager
	Sessions    *session.Store
	AgentType   string
	WorkingDir  string
	MaxTurnSteps int
	AutoApprove bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (r *REPL) stdin() io.Reader {
	if r.Stdin != nil {
		return r.Stdin
	}
	return os.Stdin
}

func (r *REPL) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *REPL) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}

// Run drives the loop until EOF, /exit, or an interrupt signal.
func (r *REPL) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	cur, err := r.Sessions.Current()
	if err != nil {
		return fmt.Errorf("no active session: %w", err)
	}

	fmt.Fprintf(r.stderr(), "ggcode — interactive coding assistant\n")
	fmt.Fprintf(r.stderr(), "Session: %s (%s)\n", cur.ID[:8], cur.Title)
	fmt.Fprintf(r.stderr(), "Type /help for commands, /exit to quit.\n\n")

	scanner := bufio.NewScanner(r.stdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.stderr(), "\nGoodbye!")
			return nil
		default:
		}

		fmt.Fprint(r.stderr(), "You: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if r.handleInteractiveCommand(line) {
				continue
			}
			res, err := r.Commands.Dispatch(strings.TrimPrefix(line, "/"))
			if err != nil {
				fmt.Fprintf(r.stderr(), "error: %v\n\n", err)
				continue
			}
			fmt.Fprintln(r.stdout(), res.Output)
			if res.Exit {
				return nil
			}
			continue
		}

		r.runTurn(ctx, line)
	}
}

// handleInteractiveCommand intercepts /models and /setting with no
// arguments and replaces the plain-text listing with a huh form-based
// picker, per spec.md's CLI surface extended with interactive prompts.
// Returns true if it handled the line itself.
func (r *REPL) handleInteractiveCommand(line string) bool {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "models":
		if len(fields) > 1 {
			return false
		}
		return r.pickModel()
	case "setting":
		if len(fields) > 1 {
			return false
		}
		return r.pickSetting()
	}
	return false
}

func (r *REPL) pickModel() bool {
	res, err := r.Commands.Dispatch("models")
	if err != nil {
		fmt.Fprintf(r.stderr(), "error: %v\n\n", err)
		return true
	}
	var options []huh.Option[string]
	for _, l := range strings.Split(res.Output, "\n") {
		name := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(l, "* "), "  "))
		if name != "" {
			options = append(options, huh.NewOption(name, name))
		}
	}
	if len(options) == 0 {
		fmt.Fprintln(r.stdout(), res.Output)
		return true
	}

	var chosen string
	form := huh.NewSelect[string]().Title("Select a model").Options(options...).Value(&chosen)
	if err := form.Run(); err != nil {
		fmt.Fprintf(r.stderr(), "cancelled: %v\n\n", err)
		return true
	}
	switched, err := r.Commands.Dispatch("models " + chosen)
	if err != nil {
		fmt.Fprintf(r.stderr(), "error: %v\n\n", err)
		return true
	}
	fmt.Fprintln(r.stdout(), switched.Output)
	return true
}

func (r *REPL) pickSetting() bool {
	var param string
	paramOptions := []huh.Option[string]{
		huh.NewOption("temperature", "temperature"),
		huh.NewOption("top_p", "top_p"),
		huh.NewOption("top_k", "top_k"),
		huh.NewOption("repetition_penalty", "repetition_penalty"),
	}
	var value string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().Title("Setting to change").Options(paramOptions...).Value(&param),
			huh.NewInput().Title("New value").Value(&value),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Fprintf(r.stderr(), "cancelled: %v\n\n", err)
		return true
	}
	res, err := r.Commands.Dispatch(fmt.Sprintf("setting set %s %s", param, value))
	if err != nil {
		fmt.Fprintf(r.stderr(), "error: %v\n\n", err)
		return true
	}
	fmt.Fprintln(r.stdout(), res.Output)
	return true
}

// runTurn hands one free-text line to the orchestrator, streaming chunks
// and tool activity to stderr and the final wrapped answer to stdout.
func (r *REPL) runTurn(ctx context.Context, line string) {
	cur, err := r.Sessions.Current()
	if err != nil {
		fmt.Fprintf(r.stderr(), "error: %v\n\n", err)
		return
	}

	cfg := agent.RunConfig{
		AgentType:        r.AgentType,
		MaxIterations:    r.MaxTurnSteps,
		AutoApprove:      r.AutoApprove,
		WorkingDirectory: r.WorkingDir,
		ApprovalCallback: r.approve,
		StatusCallback:   r.onEvent,
	}

	result, err := r.Loop.Run(ctx, cur.ID, r.Context, line, cfg)
	if err != nil {
		fmt.Fprintf(r.stderr(), "error: %v\n\n", err)
		return
	}

	fmt.Fprintf(r.stdout(), "\n%s\n\n", wrapText(result.Content, terminalWidth()))

	if err := r.Sessions.AppendMessages(cur.ID, r.Context.Messages()); err != nil {
		fmt.Fprintf(r.stderr(), "warning: could not persist session: %v\n", err)
	}
}

// approve presents a huh confirmation prompt for a non-safe tool call,
// consulted only when RunConfig.AutoApprove is false.
func (r *REPL) approve(call tools.Call, def *tools.Definition) bool {
	var ok bool
	title := fmt.Sprintf("Allow %s (%s permission)?", call.Tool, def.Permission)
	if err := huh.NewConfirm().Title(title).Affirmative("Allow").Negative("Deny").Value(&ok).Run(); err != nil {
		return false
	}
	return ok
}

// onEvent renders the orchestrator's status callback stream. Chunks are
// raw, unparsed model output that may turn out to be a tool call rather
// than chat text, so they drive a lightweight stderr progress indicator
// instead of being echoed verbatim — the sanitized final answer is the
// only text that reaches stdout, printed once runTurn gets it back. Tool
// calls are echoed to stderr the way the teacher prints "[tool] <name>"
// during standalone chat, and errors are flagged distinctly.
func (r *REPL) onEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventChunk:
		fmt.Fprint(r.stderr(), ".")
	case agent.EventToolCall:
		call, _ := ev.Payload.(tools.Call)
		fmt.Fprintf(r.stderr(), "\n  [tool] %s\n", call.Tool)
	case agent.EventToolResult:
		res, _ := ev.Payload.(*tools.Result)
		if res != nil && !res.Success {
			fmt.Fprintf(r.stderr(), "  [tool error] %s\n", res.Error)
		}
	case agent.EventError:
		fmt.Fprintf(r.stderr(), "  [error] %v\n", ev.Payload)
	}
}

// terminalWidth returns a best-guess wrap width; a real ioctl-based
// lookup belongs in main, not here, so this stays a constant until one is
// threaded through.
func terminalWidth() int {
	return defaultWrapWidth
}

// wrapText greedily wraps text to width display columns, measuring each
// word with go-runewidth so CJK and other double-width runes don't overflow
// a line the way naive len()-based wrapping would.
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out strings.Builder
	for _, paragraph := range strings.Split(text, "\n") {
		if paragraph == "" {
			out.WriteString("\n")
			continue
		}
		lineWidth := 0
		words := strings.Fields(paragraph)
		for i, word := range words {
			wordWidth := runewidth.StringWidth(word)
			if lineWidth > 0 && lineWidth+1+wordWidth > width {
				out.WriteString("\n")
				lineWidth = 0
			} else if i > 0 && lineWidth > 0 {
				out.WriteString(" ")
				lineWidth++
			}
			out.WriteString(word)
			lineWidth += wordWidth
		}
		out.WriteString("\n")
	}
	return strings.TrimRight(out.String(), "\n")
}
