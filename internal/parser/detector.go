package parser

import (
	"regexp"
	"strings"
)

var closedFencePattern = regexp.MustCompile("(?s)```.*?```")

// DetectorState accumulates streamed chunks and flags, heuristically and
// before the full response is in hand, that the model has drifted into an
// unparseable tool-call format — letting the orchestrator abort the stream
// early and ask for a retry instead of waiting out the whole turn.
type DetectorState struct {
	buf        strings.Builder
	knownNames map[string]bool
}

// NewDetectorState starts a fresh detector against a set of known tool names.
func NewDetectorState(known map[string]bool) *DetectorState {
	return &DetectorState{knownNames: known}
}

// Feed appends a streamed chunk and re-evaluates the malformed-output
// heuristic, returning (confidence, shouldAbort). Confidence is in [0,1];
// spec.md §4.C sets the abort threshold at 0.8. Content inside a closed
// fenced code block is stripped first — quoted example code that happens to
// look like a tool call is not live model output attempting one.
func (d *DetectorState) Feed(chunk string) (confidence float64, shouldAbort bool) {
	d.buf.WriteString(chunk)
	text := closedFencePattern.ReplaceAllString(d.buf.String(), "")

	// An unclosed fence means we can't yet tell whether the open block will
	// resolve into quoted code — withhold judgment until it closes.
	if strings.Count(text, "```")%2 != 0 {
		return 0, false
	}

	hasKnownToolWord := false
	for name := range d.knownNames {
		if strings.Contains(text, name) {
			hasKnownToolWord = true
			break
		}
	}
	hasXMLTag := strings.Contains(text, "</tool_call>")
	hasLiteralToolWord := strings.Contains(text, `"tool"`) || strings.Contains(text, `"parameters"`) ||
		strings.Contains(text, `"name"`) || strings.Contains(text, `"arguments"`)

	if hasKnownToolWord && hasXMLTag && !hasLiteralToolWord {
		return 0.8, true
	}
	return 0, false
}
