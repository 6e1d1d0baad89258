package command

import (
	"strings"
	"testing"

	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
	"github.com/nextlevelbuilder/ggcode/internal/session"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Dir = t.TempDir()
	store, err := session.New(cfg)
	if err != nil {
		t.Fatalf("failed to open session store: %v", err)
	}
	if _, err := store.Create("first", "build", ""); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}

	settings := DefaultSettings()
	return &Manager{
		Sessions: store,
		Context:  gctx.NewManager(),
		Settings: &settings,
		Models:   []string{"model-a", "model-b"},
	}
}

func TestExitReturnsExitResult(t *testing.T) {
	m := newTestManager(t)
	res, err := m.Dispatch("exit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Exit {
		t.Error("expected Exit=true for /exit")
	}
}

func TestUnknownCommandErrors(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Dispatch("bogus"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestSettingSetWithinRangeSucceeds(t *testing.T) {
	m := newTestManager(t)
	res, err := m.Dispatch("setting set temperature 1.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Settings.Temperature != 1.5 {
		t.Errorf("expected temperature updated, got %v", m.Settings.Temperature)
	}
	if !strings.Contains(res.Output, "1.5") {
		t.Errorf("expected confirmation output, got %q", res.Output)
	}
}

func TestSettingSetOutOfRangeRejected(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Dispatch("setting set temperature 3"); err == nil {
		t.Fatal("expected out-of-range temperature to be rejected")
	}
}

func TestSettingResetRestoresDefaults(t *testing.T) {
	m := newTestManager(t)
	m.Settings.Temperature = 1.9
	if _, err := m.Dispatch("setting reset"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Settings.Temperature != DefaultSettings().Temperature {
		t.Errorf("expected defaults restored, got %v", m.Settings.Temperature)
	}
}

func TestModelsSwitchesActiveModel(t *testing.T) {
	m := newTestManager(t)
	res, err := m.Dispatch("models model-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ModelIndex != 1 {
		t.Errorf("expected model index 1, got %d", m.ModelIndex)
	}
	if !strings.Contains(res.Output, "model-b") {
		t.Errorf("expected confirmation mentioning model-b, got %q", res.Output)
	}
}

func TestSessionListReflectsSeededSession(t *testing.T) {
	m := newTestManager(t)
	res, err := m.Dispatch("session list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Output, "first") {
		t.Errorf("expected seeded session title in listing, got %q", res.Output)
	}
}

func TestSessionStatusReportsCurrent(t *testing.T) {
	m := newTestManager(t)
	res, err := m.Dispatch("session status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Output, "first") {
		t.Errorf("expected current session title, got %q", res.Output)
	}
}

func TestCompressModeRoundTrip(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Dispatch("compress llm"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := m.Dispatch("compress status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "compression: llm" {
		t.Errorf("expected compression status to reflect llm mode, got %q", res.Output)
	}
}

func TestTokensReportsNonNegativeEstimate(t *testing.T) {
	m := newTestManager(t)
	m.Context.Append(gctx.NewTextMessage(gctx.RoleUser, "hello there"))
	res, err := m.Dispatch("tokens")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Output, "tokens") {
		t.Errorf("expected token count output, got %q", res.Output)
	}
}
