package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newFsRegistry(t *testing.T, workspace string) *Registry {
	t.Helper()
	r := NewRegistry()
	RegisterFilesystemTools(r, workspace, true)
	return r
}

func execTool(t *testing.T, r *Registry, name string, params map[string]interface{}) *Result {
	t.Helper()
	def, ok := r.Get(name)
	if !ok {
		t.Fatalf("tool %q not registered", name)
	}
	validated, err := validate(def, params)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	return def.Handler(&ExecContext{WorkingDir: ""}, validated)
}

func TestWriteThenReadFile(t *testing.T) {
	ws := t.TempDir()
	r := newFsRegistry(t, ws)

	res := execTool(t, r, "write_file", map[string]interface{}{"path": "hello.txt", "content": "line1\nline2\n"})
	if !res.Success {
		t.Fatalf("write failed: %s", res.Error)
	}

	res = execTool(t, r, "read_file", map[string]interface{}{"path": "hello.txt"})
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "line1") || !strings.Contains(res.Output, "line2") {
		t.Errorf("unexpected read output: %q", res.Output)
	}
}

func TestWriteFileCreatesBackupSidecar(t *testing.T) {
	ws := t.TempDir()
	r := newFsRegistry(t, ws)

	execTool(t, r, "write_file", map[string]interface{}{"path": "a.txt", "content": "v1"})
	execTool(t, r, "write_file", map[string]interface{}{"path": "a.txt", "content": "v2"})

	backup, err := os.ReadFile(filepath.Join(ws, "a.txt.backup"))
	if err != nil {
		t.Fatalf("expected backup sidecar: %v", err)
	}
	if string(backup) != "v1" {
		t.Errorf("expected backup to hold previous content, got %q", backup)
	}
}

func TestEditFileRequiresUniqueMatchWithoutReplaceAll(t *testing.T) {
	ws := t.TempDir()
	r := newFsRegistry(t, ws)

	execTool(t, r, "write_file", map[string]interface{}{"path": "f.txt", "content": "foo foo"})
	res := execTool(t, r, "edit_file", map[string]interface{}{"path": "f.txt", "old_string": "foo", "new_string": "bar"})
	if res.Success {
		t.Fatal("expected failure for ambiguous match")
	}

	res = execTool(t, r, "edit_file", map[string]interface{}{
		"path": "f.txt", "old_string": "foo", "new_string": "bar", "replace_all": true,
	})
	if !res.Success {
		t.Fatalf("expected replace_all to succeed: %s", res.Error)
	}
}

func TestReadFileRejectsPathEscapingWorkspace(t *testing.T) {
	ws := t.TempDir()
	r := newFsRegistry(t, ws)

	res := execTool(t, r, "read_file", map[string]interface{}{"path": "../../etc/passwd"})
	if res.Success {
		t.Fatal("expected access denied for path escaping workspace")
	}
}

func TestGrepFindsMatchingLines(t *testing.T) {
	ws := t.TempDir()
	r := newFsRegistry(t, ws)

	execTool(t, r, "write_file", map[string]interface{}{"path": "src.go", "content": "func main() {}\nfunc helper() {}\n"})
	res := execTool(t, r, "grep", map[string]interface{}{"pattern": `func\s+helper`})
	if !res.Success {
		t.Fatalf("grep failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "helper") {
		t.Errorf("expected match for helper, got %q", res.Output)
	}
}

func TestMkdirIsIdempotent(t *testing.T) {
	ws := t.TempDir()
	r := newFsRegistry(t, ws)

	res := execTool(t, r, "mkdir", map[string]interface{}{"path": "a/b/c"})
	if !res.Success {
		t.Fatalf("mkdir failed: %s", res.Error)
	}
	res = execTool(t, r, "mkdir", map[string]interface{}{"path": "a/b/c"})
	if !res.Success {
		t.Fatalf("second mkdir should be a no-op success: %s", res.Error)
	}
}
