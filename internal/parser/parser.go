// Package parser extracts tool-call directives from free-form model output.
// The documented wire shape is spec.md §3's ToolCall object,
// `{"tool": "...", "parameters": {...}, "id": "..."}`; `name`/`arguments`
// is accepted as a secondary alias for providers whose function-calling
// convention emits that shape instead. Grounded on other_examples'
// ParseToolCallsFromResponse/parseEmbeddedToolCalls (JSON-array check,
// single-object check, OpenAI wrapper checks, brace-depth embedded-JSON
// scan), extended per spec.md §4.C with fenced-code unwrapping, known-tool
// validation, duplicate suppression, a call cap, and a family of
// auto-corrections for near-miss formats a weaker model might emit.
package parser

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/ggcode/internal/tools"
)

// MaxCallsPerResponse bounds how many tool calls a single model turn may
// emit, per spec.md §4.C — a runaway response can't fan out unboundedly.
const MaxCallsPerResponse = 10

// Correction records an auto-correction applied while parsing, surfaced so
// the orchestrator can decide whether to inject a corrective note back to
// the model (spec.md §4.J "correction-injection" step).
type Correction struct {
	Kind   string
	Detail string
}

// ParseResult is everything ParseToolCalls produces from one response.
type ParseResult struct {
	Calls       []tools.Call
	Corrections []Correction
	Discarded   int // calls dropped: unknown tool, duplicate, or over the cap
}

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")
var xmlCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*<name>(.*?)</name>\s*<arguments>(.*?)</arguments>\s*</tool_call>`)
var shorthandCallPattern = regexp.MustCompile(`(?m)^\s*call\s+(\w+)\((.*)\)\s*$`)
var unquotedKeyPattern = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)

// ParseToolCalls extracts, validates, and normalizes tool calls from a raw
// model response, against the set of names a registry actually knows about.
func ParseToolCalls(response string, known map[string]bool) ParseResult {
	text := unwrapFencedBlocks(response)

	var result ParseResult
	raw, corrections := extractRaw(text)
	result.Corrections = append(result.Corrections, corrections...)

	seen := make(map[string]bool, len(raw))
	for _, rc := range raw {
		if len(result.Calls) >= MaxCallsPerResponse {
			result.Discarded++
			continue
		}

		name := strings.ToLower(strings.TrimSpace(rc.Name))
		if name != rc.Name {
			result.Corrections = append(result.Corrections, Correction{
				Kind: "lowercased_tool_name", Detail: rc.Name + " -> " + name,
			})
		}
		if !known[name] {
			result.Discarded++
			continue
		}

		if rc.Arguments == nil {
			rc.Arguments = map[string]interface{}{}
		}
		dedupeKey := dedupeKey(name, rc.Arguments)
		if seen[dedupeKey] {
			result.Discarded++
			continue
		}
		seen[dedupeKey] = true

		id := rc.ID
		if id == "" {
			id = generateCallID()
		}

		result.Calls = append(result.Calls, tools.Call{
			Tool:       name,
			Parameters: rc.Arguments,
			ID:         id,
		})
	}

	return result
}

type rawCall struct {
	Name      string
	Arguments map[string]interface{}
	ID        string
}

// toolCallJSON decodes a model's tool-call object against spec.md §3's
// documented wire shape, `{"tool": "...", "parameters": {...}, "id": "..."}`,
// while also accepting `name`/`arguments` as a secondary alias — some
// providers' function-calling conventions emit that shape instead, and
// tryJSONObjectForms already special-cases the OpenAI function_call/
// tool_calls wrappers separately.
type toolCallJSON struct {
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters"`
	Name       string                 `json:"name"`
	Arguments  map[string]interface{} `json:"arguments"`
	ID         string                 `json:"id,omitempty"`
}

func (c toolCallJSON) toolName() string {
	if c.Tool != "" {
		return c.Tool
	}
	return c.Name
}

func (c toolCallJSON) rawCall() rawCall {
	args := c.Parameters
	if args == nil {
		args = c.Arguments
	}
	return rawCall{Name: c.toolName(), Arguments: args, ID: c.ID}
}

// unwrapFencedBlocks strips a single layer of ```json fencing so JSON-shaped
// tool calls inside a markdown code block parse the same as bare JSON.
func unwrapFencedBlocks(text string) string {
	if m := fencedBlockPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// extractRaw tries, in order: JSON array, single JSON object (including
// OpenAI function_call/tool_calls wrappers), XML-tagged calls, call(...)
// shorthand, and finally a brace-balancing embedded-JSON scan. The first
// format that yields at least one call wins — these formats are mutually
// exclusive renderings of the same intent, not complementary sources.
func extractRaw(text string) ([]rawCall, []Correction) {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "[") {
		var arr []toolCallJSON
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil && len(arr) > 0 {
			out := make([]rawCall, 0, len(arr))
			for _, c := range arr {
				out = append(out, c.rawCall())
			}
			return out, nil
		}
	}

	if strings.HasPrefix(trimmed, "{") {
		if calls, ok := tryJSONObjectForms(trimmed); ok {
			return calls, nil
		}
		if corrected, fixed := repairUnquotedKeys(trimmed); fixed {
			if calls, ok := tryJSONObjectForms(corrected); ok {
				return calls, []Correction{{Kind: "unquoted_keys_repaired"}}
			}
		}
	}

	if m := xmlCallPattern.FindStringSubmatch(text); m != nil {
		var args map[string]interface{}
		argText := strings.TrimSpace(m[2])
		if err := json.Unmarshal([]byte(argText), &args); err != nil {
			args = parseKeyValueLines(argText)
		}
		return []rawCall{{Name: strings.TrimSpace(m[1]), Arguments: args}}, []Correction{{Kind: "xml_call_corrected"}}
	}

	if m := shorthandCallPattern.FindStringSubmatch(text); m != nil {
		return []rawCall{{Name: m[1], Arguments: parseArgList(m[2])}}, []Correction{{Kind: "shorthand_call_corrected"}}
	}

	if calls := parseEmbeddedJSON(text); len(calls) > 0 {
		return calls, nil
	}

	return nil, nil
}

func tryJSONObjectForms(text string) ([]rawCall, bool) {
	var single toolCallJSON
	if err := json.Unmarshal([]byte(text), &single); err == nil && single.toolName() != "" {
		return []rawCall{single.rawCall()}, true
	}

	var functionCall struct {
		FunctionCall struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function_call"`
	}
	if err := json.Unmarshal([]byte(text), &functionCall); err == nil && functionCall.FunctionCall.Name != "" {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(functionCall.FunctionCall.Arguments), &args)
		return []rawCall{{Name: functionCall.FunctionCall.Name, Arguments: args}}, true
	}

	var wrapper struct {
		ToolCalls []struct {
			ID       string `json:"id"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(text), &wrapper); err == nil && len(wrapper.ToolCalls) > 0 {
		out := make([]rawCall, 0, len(wrapper.ToolCalls))
		for _, tc := range wrapper.ToolCalls {
			var args map[string]interface{}
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			out = append(out, rawCall{Name: tc.Function.Name, Arguments: args, ID: tc.ID})
		}
		return out, true
	}

	return nil, false
}

// parseEmbeddedJSON scans for balanced {...} spans anywhere in free text and
// attempts each as a tool call, accepting "parameters" (spec.md §3's
// documented key), or "arguments"/"input" as secondary aliases, for the
// parameter map.
func parseEmbeddedJSON(text string) []rawCall {
	var calls []rawCall
	depth := 0
	start := -1

	for i, c := range text {
		switch c {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				jsonStr := text[start : i+1]
				var call struct {
					toolCallJSON
					Input map[string]interface{} `json:"input"`
				}
				if err := json.Unmarshal([]byte(jsonStr), &call); err == nil && call.toolName() != "" {
					rc := call.rawCall()
					if rc.Arguments == nil {
						rc.Arguments = call.Input
					}
					calls = append(calls, rc)
				}
				start = -1
			}
		}
	}
	return calls
}

// repairUnquotedKeys wraps bare identifier keys in quotes (a common malformed
// output from weaker models: {name: "x", arguments: {...}}).
func repairUnquotedKeys(text string) (string, bool) {
	fixed := unquotedKeyPattern.ReplaceAllString(text, `$1"$2"$3`)
	return fixed, fixed != text
}

// parseArgList parses a simple comma-separated key=value argument list from
// shorthand call(...) syntax.
func parseArgList(argText string) map[string]interface{} {
	args := map[string]interface{}{}
	if strings.TrimSpace(argText) == "" {
		return args
	}
	for _, part := range strings.Split(argText, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"'`)
		args[key] = val
	}
	return args
}

// parseKeyValueLines parses "key: value" lines, the fallback for XML-style
// <arguments> bodies that aren't valid JSON.
func parseKeyValueLines(text string) map[string]interface{} {
	args := map[string]interface{}{}
	for _, line := range strings.Split(text, "\n") {
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		args[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return args
}

// dedupeKey identifies a call by tool name plus a canonical rendering of its
// parameters — byte-identical parameter sets collapse to the same key
// regardless of map key ordering.
func dedupeKey(name string, args map[string]interface{}) string {
	encoded, err := json.Marshal(canonicalize(args))
	if err != nil {
		return name
	}
	return name + "|" + string(encoded)
}

func canonicalize(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	out := make(map[string]interface{}, len(m))
	for k, val := range m {
		out[k] = canonicalize(val)
	}
	return out
}

// generateCallID mints a spec.md §3 ToolCall id: tool_<unix-nanos>_<random9>.
// Unlike the grounding source's mutex-counter scheme, this needs no shared
// state, which matters once calls are minted concurrently across goroutines
// (streaming detector + parser both run against the same response).
func generateCallID() string {
	return fmt.Sprintf("tool_%d_%s", time.Now().UnixNano(), randomDigits(9))
}

func randomDigits(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	digits := make([]byte, n)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits)
}
