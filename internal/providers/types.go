// Package providers implements the abstract streaming LLM adapter (spec.md
// §4.D) and its concrete transports. Grounded on the teacher's
// internal/providers/types.go Provider interface, narrowed to the single
// legacy-message-in / plain-text-out contract spec.md §6 mandates (the
// teacher's native tool-calling fields are dropped — this repo parses tool
// calls from free-form text instead, see internal/parser).
package providers

import (
	"context"
	"time"

	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
)

// ChatOptions carries the model sampling parameters the spec's `/setting`
// command exposes, plus streaming/cancellation/timeout plumbing.
type ChatOptions struct {
	Model             string
	Temperature       float64 // [0, 2]
	TopP              float64 // [0, 1]
	TopK              int     // [-1, 100]
	RepetitionPenalty float64 // [1, 2]
	Stream            bool
	OnChunk           func(text string)
	Timeout           time.Duration
}

// Provider is the abstract streaming LLM adapter contract: send legacy
// messages, get back the model's plain text reply. Streaming mode invokes
// OnChunk as partial text arrives; Chat still returns the full text once
// the stream completes.
type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []gctx.Message, opts ChatOptions) (string, error)
}

// legacyPayload is the wire shape sent to both concrete transports.
type legacyPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toLegacyPayload(messages []gctx.Message) []legacyPayload {
	out := make([]legacyPayload, 0, len(messages))
	for _, m := range messages {
		out = append(out, legacyPayload{Role: string(m.Role), Content: m.Content})
	}
	return out
}
