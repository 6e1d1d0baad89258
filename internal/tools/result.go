package tools

import "time"

// Metadata carries the execution bookkeeping the executor attaches to every
// Result, per spec.md §3 ToolResult.
type Metadata struct {
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	DurationMS     int64     `json:"duration"`
	Truncated      bool      `json:"truncated,omitempty"`
	TruncationFile string    `json:"truncationFile,omitempty"`
	ExitCode       int       `json:"exitCode,omitempty"`
	Signal         string    `json:"signal,omitempty"`
	ToolName       string    `json:"toolName,omitempty"`
}

// Result is the unified return type from tool execution (spec.md §3
// ToolResult), grounded on the teacher's internal/tools/result.go
// constructors but narrowed to the spec's { success, output, error,
// metadata } shape.
type Result struct {
	Success  bool     `json:"success"`
	Output   string   `json:"output,omitempty"`
	Error    string   `json:"error,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// NewResult builds a successful result with the given output.
func NewResult(output string) *Result {
	return &Result{Success: true, Output: output}
}

// SilentResult is an alias for NewResult — the executor, not the result,
// decides whether a user-facing echo is suppressed, so unlike the teacher
// there is no Silent flag on Result itself; callers historically using
// SilentResult keep that name for drop-in familiarity.
func SilentResult(output string) *Result {
	return NewResult(output)
}

// ErrorResult builds a failed result with a human-readable error message.
// Per spec.md §4.B, handler failures never propagate as Go errors across
// the executor boundary — they become {success:false, error: message}.
func ErrorResult(message string) *Result {
	return &Result{Success: false, Error: message}
}
