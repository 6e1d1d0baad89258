package context

import (
	"path/filepath"
	"testing"
)

func TestSetSystemPromptReplacesAndPositionsFirst(t *testing.T) {
	m := NewManager()
	m.Append(NewTextMessage(RoleUser, "hi"))
	m.SetSystemPrompt("first")
	m.SetSystemPrompt("second")

	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != "second" {
		t.Errorf("expected system message 'second' at index 0, got %+v", msgs[0])
	}
}

func TestViewBudgetAndOrdering(t *testing.T) {
	m := NewManager()
	m.SetSystemPrompt("sys")
	for i := 0; i < 5; i++ {
		m.Append(NewTextMessage(RoleUser, "abcd")) // ~1 token each
	}

	view := m.View(2)
	if view[0].Role != RoleSystem {
		t.Fatalf("system message must be at head of view")
	}
	// budget 2 admits system (unbounded) + up to 2 tokens of non-system
	if len(view) > 1+2 {
		t.Errorf("view exceeds budget: got %d messages", len(view))
	}
	// chronological order preserved among admitted tail
	for i := 1; i < len(view)-1; i++ {
		if view[i].CreatedAt.After(view[i+1].CreatedAt) {
			t.Errorf("view not in chronological order at %d", i)
		}
	}
}

func TestViewDropsEmptyMessages(t *testing.T) {
	m := NewManager()
	m.Append(NewTextMessage(RoleUser, ""))
	m.Append(NewTextMessage(RoleAssistant, "hello"))
	view := m.View(1000)
	for _, msg := range view {
		if msg.IsEmpty() {
			t.Errorf("view retained an empty message")
		}
	}
}

func TestSaveLoadHistoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hist.json")

	m := NewManager()
	m.SetSystemPrompt("sys")
	m.Append(NewTextMessage(RoleUser, "hello"))
	m.Append(NewTextMessage(RoleAssistant, "world"))

	if err := m.SaveHistory(path); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}

	m2 := NewManager()
	if err := m2.LoadHistory(path); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if m2.Len() != 3 {
		t.Fatalf("expected 3 messages after load, got %d", m2.Len())
	}
}

func TestLoadHistoryPrependsInMemorySystemWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hist.json")

	// File with no system message.
	fileOnly := NewManager()
	fileOnly.Append(NewTextMessage(RoleUser, "hi"))
	if err := fileOnly.SaveHistory(path); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}

	m := NewManager()
	m.SetSystemPrompt("carried system")
	if err := m.LoadHistory(path); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	msgs := m.Messages()
	if len(msgs) == 0 || msgs[0].Role != RoleSystem || msgs[0].Content != "carried system" {
		t.Fatalf("expected in-memory system message prepended, got %+v", msgs)
	}
}
