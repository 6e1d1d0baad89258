package tools

import "testing"

func TestMapToEnvSlice(t *testing.T) {
	out := mapToEnvSlice(map[string]string{"FOO": "bar"})
	if len(out) != 1 || out[0] != "FOO=bar" {
		t.Fatalf("expected [FOO=bar], got %v", out)
	}
}

func TestMapToEnvSliceEmpty(t *testing.T) {
	out := mapToEnvSlice(nil)
	if len(out) != 0 {
		t.Fatalf("expected empty slice, got %v", out)
	}
}
