// Package context owns the conversational message model and the
// token-budgeted context view over it.
package context

import (
	"strings"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind discriminates an enhanced message's parts.
type PartKind string

const (
	PartText       PartKind = "text"
	PartReasoning  PartKind = "reasoning"
	PartToolCall   PartKind = "tool-call"
	PartToolResult PartKind = "tool-result"
	PartFile       PartKind = "file"
	PartSystem     PartKind = "system"
)

// Part is one ordered, independently-taggable chunk of an enhanced message.
type Part struct {
	ID      string   `json:"id"`
	Kind    PartKind `json:"kind"`
	Content string   `json:"content"`
	Ignored bool     `json:"ignored,omitempty"`

	// tool-call metadata
	ToolName string                 `json:"toolName,omitempty"`
	ToolArgs map[string]interface{} `json:"toolArgs,omitempty"`

	// tool-result metadata
	CallID     string `json:"callId,omitempty"`
	Success    bool   `json:"success,omitempty"`
	DurationMS int64  `json:"durationMs,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// Message is the atomic conversational record. Content is the legacy
// (flattened) projection; Parts, when non-empty, is the enhanced
// representation content is derived from. Transport and Manager.SaveHistory
// use the legacy projection; the session store's history files keep Parts
// alongside Content. Compaction and UI operate on Parts.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Parts   []Part `json:"parts,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// NewTextMessage builds a plain legacy-only message.
func NewTextMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now()}
}

// NewEnhancedMessage builds a message from parts, deriving legacy Content by
// flattening immediately so transport code never has to special-case it.
func NewEnhancedMessage(role Role, parts []Part) Message {
	m := Message{Role: role, Parts: parts, CreatedAt: time.Now()}
	m.Content = Flatten(parts)
	return m
}

// Flatten joins non-ignored, non-system-tagged parts into legacy text,
// separated by blank lines — the one place enhanced-to-legacy projection
// happens, per the duality rule: legacy is a transport projection, never a
// second source of truth.
func Flatten(parts []Part) string {
	var sb strings.Builder
	first := true
	for _, p := range parts {
		if p.Ignored || p.Kind == PartSystem {
			continue
		}
		if p.Content == "" {
			continue
		}
		if !first {
			sb.WriteString("\n\n")
		}
		sb.WriteString(p.Content)
		first = false
	}
	return sb.String()
}

// Text returns the message's content regardless of which representation
// backs it — Flatten(Parts) for an enhanced message, Content for a
// legacy-only one.
func (m Message) Text() string {
	if len(m.Parts) > 0 {
		return Flatten(m.Parts)
	}
	return m.Content
}

// IsEmpty reports whether a message's flattened content is empty — such
// messages are dropped when building a context view.
func (m Message) IsEmpty() bool {
	if len(m.Parts) > 0 {
		return strings.TrimSpace(Flatten(m.Parts)) == ""
	}
	return strings.TrimSpace(m.Content) == ""
}

// HasToolResultError reports whether any tool-result part recorded failure.
func (m Message) HasToolResultError() bool {
	for _, p := range m.Parts {
		if p.Kind == PartToolResult && !p.Success {
			return true
		}
	}
	return false
}

// HasFileModification reports whether any part represents a file-modifying
// tool call (write_file, edit_file, mkdir) — used by the compactor's
// importance scorer.
func (m Message) HasFileModification() bool {
	for _, p := range m.Parts {
		if p.Kind != PartToolCall {
			continue
		}
		switch p.ToolName {
		case "write_file", "edit_file", "mkdir":
			return true
		}
	}
	return false
}

// HasReasoning reports whether the message carries a reasoning part.
func (m Message) HasReasoning() bool {
	for _, p := range m.Parts {
		if p.Kind == PartReasoning {
			return true
		}
	}
	return false
}
