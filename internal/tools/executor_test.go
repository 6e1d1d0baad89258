package tools

import (
	"strings"
	"testing"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Definition{
		Name:       "echo",
		Category:   CategorySystem,
		Permission: PermissionSafe,
		Params: []ParamSpec{
			{Name: "text", Type: ParamString, Required: true},
		},
		Handler: func(ec *ExecContext, params map[string]interface{}) *Result {
			return NewResult(params["text"].(string))
		},
	})
	r.Register(&Definition{
		Name:       "boom",
		Category:   CategorySystem,
		Permission: PermissionSafe,
		Handler: func(ec *ExecContext, params map[string]interface{}) *Result {
			panic("kaboom")
		},
	})
	return r
}

func TestExecuteToolNotFound(t *testing.T) {
	exec := NewExecutor(newTestRegistry(), DefaultTruncateConfig())
	res := exec.Execute(&ExecContext{}, Call{Tool: "missing"})
	if res.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if !strings.Contains(res.Error, "TOOL_NOT_FOUND") {
		t.Errorf("expected TOOL_NOT_FOUND, got %q", res.Error)
	}
}

func TestExecuteValidationFailed(t *testing.T) {
	exec := NewExecutor(newTestRegistry(), DefaultTruncateConfig())
	res := exec.Execute(&ExecContext{}, Call{Tool: "echo", Parameters: map[string]interface{}{}})
	if res.Success {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(res.Error, "TOOL_VALIDATION_FAILED") {
		t.Errorf("expected TOOL_VALIDATION_FAILED, got %q", res.Error)
	}
}

func TestExecuteSuccess(t *testing.T) {
	exec := NewExecutor(newTestRegistry(), DefaultTruncateConfig())
	res := exec.Execute(&ExecContext{}, Call{Tool: "ECHO", Parameters: map[string]interface{}{"text": "hi"}})
	if !res.Success || res.Output != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Metadata.ToolName != "echo" {
		t.Errorf("expected metadata toolName 'echo', got %q", res.Metadata.ToolName)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	exec := NewExecutor(newTestRegistry(), DefaultTruncateConfig())
	res := exec.Execute(&ExecContext{}, Call{Tool: "boom"})
	if res.Success {
		t.Fatal("expected failure from panicking handler")
	}
	if !strings.Contains(res.Error, "kaboom") {
		t.Errorf("expected panic message surfaced, got %q", res.Error)
	}
}

func TestExecuteTruncatesOversizedOutput(t *testing.T) {
	r := NewRegistry()
	bigLine := strings.Repeat("x", 100)
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString(bigLine + "\n")
	}
	r.Register(&Definition{
		Name:       "big",
		Category:   CategorySystem,
		Permission: PermissionSafe,
		Handler: func(ec *ExecContext, params map[string]interface{}) *Result {
			return NewResult(sb.String())
		},
	})

	exec := NewExecutor(r, DefaultTruncateConfig())
	res := exec.Execute(&ExecContext{}, Call{Tool: "big"})
	if !res.Metadata.Truncated {
		t.Fatal("expected truncation to trigger")
	}
	if res.Metadata.TruncationFile == "" {
		t.Error("expected truncation spool file path recorded")
	}
}
