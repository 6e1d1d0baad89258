package session

import (
	"testing"

	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.MaxSessions = 200
	cfg.PreserveRecent = 10
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func TestCreateSetsCurrentPointer(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.Create("first session", "coding", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	cur, err := s.Current()
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if cur.ID != meta.ID {
		t.Errorf("expected current session %s, got %s", meta.ID, cur.ID)
	}
}

func TestAppendMessagesUpdatesCountAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	meta, _ := s.Create("t", "coding", "")

	err := s.AppendMessages(meta.ID, []gctx.Message{
		gctx.NewTextMessage(gctx.RoleUser, "hello"),
		gctx.NewTextMessage(gctx.RoleAssistant, "hi"),
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	updated, err := s.readMetaLocked(meta.ID)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if updated.MessageCount != 2 {
		t.Errorf("expected message count 2, got %d", updated.MessageCount)
	}
}

func TestForkPreservesPrefixAndLinksParent(t *testing.T) {
	s := newTestStore(t)
	meta, _ := s.Create("original", "coding", "")
	s.AppendMessages(meta.ID, []gctx.Message{
		gctx.NewTextMessage(gctx.RoleUser, "msg0"),
		gctx.NewTextMessage(gctx.RoleAssistant, "msg1"),
		gctx.NewTextMessage(gctx.RoleUser, "msg2"),
	})

	fork, err := s.Fork(meta.ID, 1)
	if err != nil {
		t.Fatalf("fork failed: %v", err)
	}
	if fork.ParentID != meta.ID {
		t.Errorf("expected fork parentId %s, got %s", meta.ID, fork.ParentID)
	}

	history, err := s.History(fork.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected fork to preserve exactly the prefix up to index 1, got %d messages", len(history))
	}
	if history[0].Content != "msg0" || history[1].Content != "msg1" {
		t.Errorf("expected prefix content preserved in order, got %+v", history)
	}
}

func TestDeleteFallsBackToMostRecentWhenCurrentRemoved(t *testing.T) {
	s := newTestStore(t)
	first, _ := s.Create("first", "coding", "")
	second, _ := s.Create("second", "coding", "")
	s.Switch(second.ID)

	if err := s.Delete(second.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	cur, err := s.Current()
	if err != nil {
		t.Fatalf("expected fallback current session, got error: %v", err)
	}
	if cur.ID != first.ID {
		t.Errorf("expected fallback to remaining session %s, got %s", first.ID, cur.ID)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	meta, _ := s.Create("exportable", "coding", "")
	s.AppendMessages(meta.ID, []gctx.Message{gctx.NewTextMessage(gctx.RoleUser, "hello")})

	blob, err := s.Export(meta.ID)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	imported, err := s.Import(blob)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if imported.ID == meta.ID {
		t.Error("expected import to mint a new id, not reuse the original")
	}
	history, err := s.History(imported.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 || history[0].Content != "hello" {
		t.Errorf("expected imported history preserved, got %+v", history)
	}
}

func TestRenameUpdatesTitle(t *testing.T) {
	s := newTestStore(t)
	meta, _ := s.Create("old title", "coding", "")
	if err := s.Rename(meta.ID, "new title"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	updated, _ := s.readMetaLocked(meta.ID)
	if updated.Title != "new title" {
		t.Errorf("expected renamed title, got %q", updated.Title)
	}
}

func TestSearchTitlesFindsCreatedSession(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("fix the login bug", "coding", ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.Create("unrelated session", "coding", ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	rows, ok := s.SearchTitles("login", 10)
	if !ok {
		t.Fatal("expected sqlite index to be available in a fresh store")
	}
	if len(rows) != 1 || rows[0].Title != "fix the login bug" {
		t.Errorf("expected exactly the matching session, got %+v", rows)
	}
}

func TestRebuildIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Dir = dir

	s1, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if _, err := s1.Create("persisted title", "coding", ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	s1.Close()

	s2, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s2.Close()

	rows, ok := s2.SearchTitles("persisted", 10)
	if !ok || len(rows) != 1 {
		t.Fatalf("expected index rebuilt from disk on reopen, got %+v ok=%v", rows, ok)
	}
}

func TestManualCleanupPreservesCurrentAndRecent(t *testing.T) {
	s := newTestStore(t)
	s.cfg.PreserveRecent = 1
	s.cfg.MaxInactiveDays = -1 // everything outside the window counts as stale

	first, _ := s.Create("a", "coding", "")
	second, _ := s.Create("b", "coding", "")
	s.Switch(first.ID)

	removed, err := s.ManualCleanup()
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed < 0 {
		t.Fatalf("unexpected removal count: %d", removed)
	}

	if _, err := s.readMetaLocked(first.ID); err != nil {
		t.Error("expected current session to survive cleanup")
	}
	if _, err := s.readMetaLocked(second.ID); err != nil {
		t.Error("expected most recently active session to survive cleanup")
	}
}
