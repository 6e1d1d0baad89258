package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TruncateConfig bounds handler output before it's fed back to the model —
// anything larger is windowed to head+tail and the full output spooled to
// disk, per spec.md §4.B step 5.
type TruncateConfig struct {
	MaxBytes int
	MaxLines int
	HeadLines int
	TailLines int
	SpoolDir  string
}

// DefaultTruncateConfig matches the teacher's tool-output windowing scale
// (large enough that ordinary file reads/greps never hit it, small enough
// that a `find /` or similar runaway command can't blow the context budget).
func DefaultTruncateConfig() TruncateConfig {
	dir := filepath.Join(os.TempDir(), "ggcode-spool")
	return TruncateConfig{
		MaxBytes:  32 * 1024,
		MaxLines:  500,
		HeadLines: 200,
		TailLines: 200,
		SpoolDir:  dir,
	}
}

// Executor runs Calls against a Registry, per the dispatch pipeline in
// spec.md §4.B.
type Executor struct {
	registry *Registry
	truncate TruncateConfig
}

// NewExecutor builds an executor bound to a registry and truncation policy.
func NewExecutor(registry *Registry, truncate TruncateConfig) *Executor {
	return &Executor{registry: registry, truncate: truncate}
}

// Execute runs one tool call end to end: lookup, validate, invoke, time,
// truncate. Handlers never propagate a panic past this call — a recover
// converts it to a failed Result, matching spec.md §4.B's "handlers never
// throw across this boundary" contract.
func (e *Executor) Execute(ec *ExecContext, call Call) (result *Result) {
	start := time.Now()

	def, ok := e.registry.Get(call.Tool)
	if !ok {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("TOOL_NOT_FOUND: no tool registered as %q", call.Tool),
			Metadata: Metadata{StartTime: start, EndTime: time.Now(), ToolName: call.Tool},
		}
	}

	validated, err := validate(def, call.Parameters)
	if err != nil {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("TOOL_VALIDATION_FAILED: %v", err),
			Metadata: Metadata{StartTime: start, EndTime: time.Now(), ToolName: def.Name},
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = &Result{
				Success:  false,
				Error:    fmt.Sprintf("tool %q panicked: %v", def.Name, r),
				Metadata: Metadata{StartTime: start, EndTime: time.Now(), ToolName: def.Name},
			}
		}
	}()

	result = def.Handler(ec, validated)
	if result == nil {
		result = &Result{Success: true}
	}

	end := time.Now()
	result.Metadata.StartTime = start
	result.Metadata.EndTime = end
	result.Metadata.DurationMS = end.Sub(start).Milliseconds()
	result.Metadata.ToolName = def.Name

	e.applyTruncation(result)
	return result
}

// applyTruncation windows oversized output to head+tail and spools the full
// text to disk, per spec.md §4.B step 5.
func (e *Executor) applyTruncation(result *Result) {
	if len(result.Output) <= e.truncate.MaxBytes {
		lines := strings.Count(result.Output, "\n") + 1
		if lines <= e.truncate.MaxLines {
			return
		}
	}

	full := result.Output
	spoolPath, err := e.spool(full)

	lines := strings.Split(full, "\n")
	var windowed string
	if len(lines) > e.truncate.HeadLines+e.truncate.TailLines {
		head := strings.Join(lines[:e.truncate.HeadLines], "\n")
		tail := strings.Join(lines[len(lines)-e.truncate.TailLines:], "\n")
		windowed = head + "\n\n... [truncated] ...\n\n" + tail
	} else if len(full) > e.truncate.MaxBytes {
		windowed = full[:e.truncate.MaxBytes/2] + "\n\n... [truncated] ...\n\n" + full[len(full)-e.truncate.MaxBytes/2:]
	} else {
		windowed = full
	}

	result.Output = windowed
	result.Metadata.Truncated = true
	if err == nil {
		result.Metadata.TruncationFile = spoolPath
	}
}

func (e *Executor) spool(content string) (string, error) {
	if err := os.MkdirAll(e.truncate.SpoolDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(e.truncate.SpoolDir, "tool-output-*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", err
	}
	return f.Name(), nil
}
