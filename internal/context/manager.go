package context

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/ggcode/internal/estimator"
)

// Manager owns one session's append-only message buffer and the
// token-budgeted context view derived from it. Grounded on the teacher's
// loop_history.go buildMessages/limitHistoryTurns pipeline, generalized from
// goclaw's multi-channel session plumbing to a single in-process buffer.
type Manager struct {
	messages []Message
}

// NewManager returns an empty context manager.
func NewManager() *Manager {
	return &Manager{}
}

// Append adds a message to the end of the buffer.
func (m *Manager) Append(msg Message) {
	m.messages = append(m.messages, msg)
}

// Messages returns a copy of the full buffer (compaction operates on this).
func (m *Manager) Messages() []Message {
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len reports the buffer length.
func (m *Manager) Len() int { return len(m.messages) }

// Replace swaps the entire buffer — used by the compactor after it produces
// a reduced message set. Never reorders the caller's slice; takes ownership.
func (m *Manager) Replace(msgs []Message) {
	m.messages = msgs
}

// SetSystemPrompt replaces any prior system message and places the new one
// at index 0, per spec.md §4.F.
func (m *Manager) SetSystemPrompt(text string) {
	rest := make([]Message, 0, len(m.messages)+1)
	for _, msg := range m.messages {
		if msg.Role == RoleSystem {
			continue
		}
		rest = append(rest, msg)
	}
	sys := NewTextMessage(RoleSystem, text)
	m.messages = append([]Message{sys}, rest...)
}

// ClearContext discards all messages including system messages.
func (m *Manager) ClearContext() {
	m.messages = nil
}

// systemMessages returns all system messages in buffer order.
func (m *Manager) systemMessages() []Message {
	var out []Message
	for _, msg := range m.messages {
		if msg.Role == RoleSystem {
			out = append(out, msg)
		}
	}
	return out
}

// View computes the context view clipped to a token budget, per the
// algorithm in spec.md §4.F:
//  1. gather all system messages, in order, included regardless of budget
//  2. walk non-system messages newest→oldest, admitting while cumulative
//     cost <= budget
//  3. reverse the admitted tail to restore chronological order
//  4. flatten enhanced messages to legacy form
//  5. drop messages whose flattened content is empty
func (m *Manager) View(budget int) []Message {
	sysMsgs := m.systemMessages()

	var nonSys []Message
	for _, msg := range m.messages {
		if msg.Role != RoleSystem {
			nonSys = append(nonSys, msg)
		}
	}

	var admitted []Message
	cumulative := 0
	for i := len(nonSys) - 1; i >= 0; i-- {
		msg := nonSys[i]
		cost := estimator.Estimate(legacyContent(msg))
		if cumulative+cost > budget {
			break
		}
		cumulative += cost
		admitted = append(admitted, msg)
	}
	// reverse to chronological order
	for l, r := 0, len(admitted)-1; l < r; l, r = l+1, r-1 {
		admitted[l], admitted[r] = admitted[r], admitted[l]
	}

	view := make([]Message, 0, len(sysMsgs)+len(admitted))
	view = append(view, sysMsgs...)
	for _, msg := range admitted {
		flat := legacyMessage(msg)
		if flat.IsEmpty() {
			continue
		}
		view = append(view, flat)
	}
	return view
}

// legacyContent returns the flattened string content of a message without
// mutating it.
func legacyContent(m Message) string {
	if len(m.Parts) > 0 {
		return Flatten(m.Parts)
	}
	return m.Content
}

// legacyMessage returns a copy projected to legacy form (Content set,
// Parts dropped) for transport.
func legacyMessage(m Message) Message {
	return Message{Role: m.Role, Content: legacyContent(m), CreatedAt: m.CreatedAt}
}

// historyFile is the on-disk shape for persistence — an ordered legacy
// message array, per spec.md §6 on-disk layout (`<id>-history.json`).
type historyFile struct {
	Messages []Message `json:"messages"`
}

// SaveHistory writes the buffer to a JSON file using the teacher's
// temp-file-then-rename atomic write idiom.
func (m *Manager) SaveHistory(path string) error {
	legacy := make([]Message, len(m.messages))
	for i, msg := range m.messages {
		legacy[i] = legacyMessage(msg)
	}
	data, err := json.MarshalIndent(historyFile{Messages: legacy}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "history-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// LoadHistory replaces the buffer from a JSON file. If the loaded buffer
// lacks a system message but the in-memory buffer had one, the in-memory
// system messages are prepended, per spec.md §4.F.
func (m *Manager) LoadHistory(path string) error {
	prevSys := m.systemMessages()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var hf historyFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return err
	}

	hasSys := false
	for _, msg := range hf.Messages {
		if msg.Role == RoleSystem {
			hasSys = true
			break
		}
	}

	if !hasSys && len(prevSys) > 0 {
		m.messages = append(append([]Message{}, prevSys...), hf.Messages...)
	} else {
		m.messages = hf.Messages
	}
	return nil
}
