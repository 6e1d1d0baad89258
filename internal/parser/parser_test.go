package parser

import "testing"

func knownTools(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func TestParseToolCallsJSONObject(t *testing.T) {
	resp := `{"tool": "read_file", "parameters": {"path": "a.go"}}`
	res := ParseToolCalls(resp, knownTools("read_file"))
	if len(res.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(res.Calls))
	}
	if res.Calls[0].Tool != "read_file" {
		t.Errorf("unexpected tool name: %s", res.Calls[0].Tool)
	}
	if res.Calls[0].ID == "" {
		t.Error("expected a minted call ID")
	}
}

// TestParseToolCallsSpecWorkedExample mirrors spec.md §8 scenario 2's LLM
// stub reply verbatim, to pin the wire format to what the spec documents.
func TestParseToolCallsSpecWorkedExample(t *testing.T) {
	resp := `{"tool":"read","parameters":{"filePath":"/tmp/a.txt"}}`
	res := ParseToolCalls(resp, knownTools("read"))
	if len(res.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(res.Calls))
	}
	if res.Calls[0].Tool != "read" {
		t.Errorf("unexpected tool name: %s", res.Calls[0].Tool)
	}
	if res.Calls[0].Parameters["filePath"] != "/tmp/a.txt" {
		t.Errorf("unexpected parameters: %+v", res.Calls[0].Parameters)
	}
}

func TestParseToolCallsNameArgumentsAlias(t *testing.T) {
	resp := `{"name": "read_file", "arguments": {"path": "a.go"}}`
	res := ParseToolCalls(resp, knownTools("read_file"))
	if len(res.Calls) != 1 || res.Calls[0].Tool != "read_file" {
		t.Fatalf("expected name/arguments accepted as a secondary alias, got %+v", res.Calls)
	}
	if res.Calls[0].Parameters["path"] != "a.go" {
		t.Errorf("unexpected parameters: %+v", res.Calls[0].Parameters)
	}
}

func TestParseToolCallsJSONArray(t *testing.T) {
	resp := `[{"tool": "read_file", "parameters": {"path": "a.go"}}, {"tool": "grep", "parameters": {"pattern": "x"}}]`
	res := ParseToolCalls(resp, knownTools("read_file", "grep"))
	if len(res.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(res.Calls))
	}
}

func TestParseToolCallsFencedCodeBlock(t *testing.T) {
	resp := "Here's the call:\n```json\n{\"tool\": \"read_file\", \"parameters\": {\"path\": \"a.go\"}}\n```"
	res := ParseToolCalls(resp, knownTools("read_file"))
	if len(res.Calls) != 1 {
		t.Fatalf("expected 1 call from fenced block, got %d", len(res.Calls))
	}
}

func TestParseToolCallsUnknownToolDiscarded(t *testing.T) {
	resp := `{"tool": "delete_universe", "parameters": {}}`
	res := ParseToolCalls(resp, knownTools("read_file"))
	if len(res.Calls) != 0 {
		t.Fatalf("expected unknown tool to be discarded, got %d calls", len(res.Calls))
	}
	if res.Discarded != 1 {
		t.Errorf("expected discarded count 1, got %d", res.Discarded)
	}
}

func TestParseToolCallsLowercasesName(t *testing.T) {
	resp := `{"tool": "READ_FILE", "parameters": {"path": "a.go"}}`
	res := ParseToolCalls(resp, knownTools("read_file"))
	if len(res.Calls) != 1 || res.Calls[0].Tool != "read_file" {
		t.Fatalf("expected lowercased tool name, got %+v", res.Calls)
	}
}

func TestParseToolCallsDeduplicatesIdenticalCalls(t *testing.T) {
	resp := `[{"tool": "read_file", "parameters": {"path": "a.go"}}, {"tool": "read_file", "parameters": {"path": "a.go"}}]`
	res := ParseToolCalls(resp, knownTools("read_file"))
	if len(res.Calls) != 1 {
		t.Fatalf("expected duplicate call suppressed, got %d", len(res.Calls))
	}
	if res.Discarded != 1 {
		t.Errorf("expected 1 discarded duplicate, got %d", res.Discarded)
	}
}

func TestParseToolCallsCapsAtMax(t *testing.T) {
	var sb []byte
	sb = append(sb, '[')
	for i := 0; i < MaxCallsPerResponse+5; i++ {
		if i > 0 {
			sb = append(sb, ',')
		}
		sb = append(sb, []byte(`{"tool":"read_file","parameters":{"path":"`)...)
		sb = append(sb, byte('a'+i%26))
		sb = append(sb, []byte(`"}}`)...)
	}
	sb = append(sb, ']')

	res := ParseToolCalls(string(sb), knownTools("read_file"))
	if len(res.Calls) != MaxCallsPerResponse {
		t.Fatalf("expected call count capped at %d, got %d", MaxCallsPerResponse, len(res.Calls))
	}
}

func TestParseToolCallsXMLAutoCorrection(t *testing.T) {
	resp := `<tool_call><name>read_file</name><arguments>{"path": "a.go"}</arguments></tool_call>`
	res := ParseToolCalls(resp, knownTools("read_file"))
	if len(res.Calls) != 1 {
		t.Fatalf("expected xml call parsed, got %d", len(res.Calls))
	}
	foundCorrection := false
	for _, c := range res.Corrections {
		if c.Kind == "xml_call_corrected" {
			foundCorrection = true
		}
	}
	if !foundCorrection {
		t.Error("expected xml_call_corrected to be recorded")
	}
}

func TestParseToolCallsShorthandAutoCorrection(t *testing.T) {
	resp := `call read_file(path="a.go")`
	res := ParseToolCalls(resp, knownTools("read_file"))
	if len(res.Calls) != 1 || res.Calls[0].Parameters["path"] != "a.go" {
		t.Fatalf("expected shorthand call parsed, got %+v", res.Calls)
	}
}

func TestParseToolCallsUnquotedKeyRepair(t *testing.T) {
	resp := `{tool: "read_file", parameters: {path: "a.go"}}`
	res := ParseToolCalls(resp, knownTools("read_file"))
	if len(res.Calls) != 1 {
		t.Fatalf("expected unquoted-key JSON repaired and parsed, got %d calls", len(res.Calls))
	}
}

func TestParseToolCallsEmbeddedInProse(t *testing.T) {
	resp := `I'll read the file now. {"tool": "read_file", "parameters": {"path": "a.go"}} Let me know if that works.`
	res := ParseToolCalls(resp, knownTools("read_file"))
	if len(res.Calls) != 1 {
		t.Fatalf("expected embedded call extracted, got %d", len(res.Calls))
	}
}

func TestParseToolCallsIdempotent(t *testing.T) {
	resp := `{"tool": "read_file", "parameters": {"path": "a.go"}}`
	known := knownTools("read_file")
	first := ParseToolCalls(resp, known)
	second := ParseToolCalls(resp, known)
	if len(first.Calls) != len(second.Calls) {
		t.Fatalf("expected idempotent parse counts, got %d vs %d", len(first.Calls), len(second.Calls))
	}
	if first.Calls[0].Tool != second.Calls[0].Tool {
		t.Errorf("expected idempotent tool resolution")
	}
}

func TestDetectorFlagsMalformedStream(t *testing.T) {
	d := NewDetectorState(knownTools("read_file"))
	_, abort := d.Feed("I will use <tool_call><name>read_file</name>")
	if abort {
		t.Fatal("should not abort before XML tag plus known tool word appear together with no literal json markers")
	}
	_, abort = d.Feed("<arguments>{path: a.go}</arguments></tool_call>")
	if !abort {
		t.Error("expected detector to flag XML-tagged tool call outside JSON as malformed")
	}
}

func TestDetectorIgnoresFencedExampleCode(t *testing.T) {
	d := NewDetectorState(knownTools("read_file"))
	_, abort := d.Feed("Here is an example:\n```\n<tool_call><name>read_file</name></tool_call>\n```\n")
	if abort {
		t.Error("should not flag XML inside a closed fenced code block as malformed output")
	}
}
