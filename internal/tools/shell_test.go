package tools

import (
	"strings"
	"testing"
)

func newShellRegistry(t *testing.T, workspace string) *Registry {
	t.Helper()
	r := NewRegistry()
	RegisterShellTool(r, workspace, DefaultShellConfig())
	return r
}

func TestExecRunsSimpleCommand(t *testing.T) {
	ws := t.TempDir()
	r := newShellRegistry(t, ws)

	res := execTool(t, r, "exec", map[string]interface{}{"command": "echo hello"})
	if !res.Success {
		t.Fatalf("exec failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "hello") {
		t.Errorf("expected output to contain hello, got %q", res.Output)
	}
}

func TestExecDeniesDestructiveCommand(t *testing.T) {
	ws := t.TempDir()
	r := newShellRegistry(t, ws)

	res := execTool(t, r, "exec", map[string]interface{}{"command": "rm -rf /"})
	if res.Success {
		t.Fatal("expected destructive command to be denied")
	}
	if !strings.Contains(res.Error, "denied by safety policy") {
		t.Errorf("expected deny-policy message, got %q", res.Error)
	}
}

func TestExecCapturesNonZeroExit(t *testing.T) {
	ws := t.TempDir()
	r := newShellRegistry(t, ws)

	res := execTool(t, r, "exec", map[string]interface{}{"command": "exit 3"})
	if res.Success {
		t.Fatal("expected failure result for non-zero exit")
	}
	if res.Metadata.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.Metadata.ExitCode)
	}
}
