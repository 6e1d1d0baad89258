package tools

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDefinitionJSONSchemaMarksRequiredAndEnum(t *testing.T) {
	def := &Definition{
		Name: "demo",
		Params: []ParamSpec{
			{Name: "path", Type: ParamString, Required: true},
			{Name: "mode", Type: ParamString, Enum: []string{"a", "b"}, Default: "a"},
		},
	}

	raw := def.ParamsJSON()
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("ParamsJSON produced invalid JSON: %v (%s)", err, raw)
	}

	if !strings.Contains(raw, `"path"`) || !strings.Contains(raw, `"mode"`) {
		t.Fatalf("expected both params present, got %s", raw)
	}
	required, _ := decoded["required"].([]interface{})
	if len(required) != 1 || required[0] != "path" {
		t.Fatalf("expected only path to be required, got %v", decoded["required"])
	}
}

func TestRegistryListAllSortedByName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Definition{Name: "zeta"})
	reg.Register(&Definition{Name: "alpha"})

	all := reg.ListAll()
	if len(all) != 2 || all[0].Name != "alpha" || all[1].Name != "zeta" {
		t.Fatalf("expected sorted [alpha zeta], got %v", all)
	}
}
