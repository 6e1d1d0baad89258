package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Category groups tools by what they do, per spec.md §3 ToolDefinition.
type Category string

const (
	CategoryFile    Category = "file"
	CategorySearch  Category = "search"
	CategoryCommand Category = "command"
	CategorySystem  Category = "system"
)

// Permission gates whether the orchestrator's approval policy must be
// consulted before a call executes, per spec.md §3 ToolDefinition.
type Permission string

const (
	PermissionSafe         Permission = "safe"
	PermissionLocalModify  Permission = "local-modify"
	PermissionNetwork      Permission = "network"
	PermissionDangerous    Permission = "dangerous"
)

// ParamType is the declarative type tag for a tool parameter — favoring a
// declared descriptor per field over dynamic method resolution, per
// spec.md §9 design notes.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "boolean"
)

// ParamSpec declaratively describes one tool parameter: type, required,
// default, enum.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Default  interface{}
	Enum     []string
}

// ExecContext is passed to every handler invocation: working directory, an
// abort channel for cooperative cancellation, and a metadata callback the
// handler may use to report exit codes, signals, etc.
type ExecContext struct {
	Context    context.Context
	WorkingDir string
	Abort      <-chan struct{}
	OnMetadata func(key string, value interface{})
}

// Handler implements a tool's behavior. It must never panic across this
// boundary — the executor recovers, but a well-behaved handler returns
// ErrorResult instead.
type Handler func(ec *ExecContext, params map[string]interface{}) *Result

// Definition is the spec.md §3 ToolDefinition.
type Definition struct {
	Name        string
	Description string
	Category    Category
	Permission  Permission
	Params      []ParamSpec
	Handler     Handler
}

// Registry maps tool name (case-insensitive) to exactly one definition, per
// spec.md §4.B. Grounded on the call-site contract in the teacher's
// cmd/agent_chat_standalone.go (tools.NewRegistry/.Register/.Get/.List) —
// the teacher references this type pervasively but never ships its
// definition in the retrieved pack, so it is authored fresh here.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// JSONSchema renders a Definition's declarative ParamSpec list as a JSON
// Schema object, for surfacing in the system prompt (L) or an external
// MCP-style tool listing without hand-maintaining two parallel
// descriptions of the same parameters.
func (d *Definition) JSONSchema() *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](),
		Required:   []string{},
	}
	for _, p := range d.Params {
		prop := &jsonschema.Schema{}
		switch p.Type {
		case ParamString:
			prop.Type = "string"
		case ParamNumber:
			prop.Type = "number"
		case ParamBool:
			prop.Type = "boolean"
		}
		for _, e := range p.Enum {
			prop.Enum = append(prop.Enum, e)
		}
		if p.Default != nil {
			prop.Default = p.Default
		}
		schema.Properties.Set(p.Name, prop)
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

// ParamsJSON renders JSONSchema as compact JSON text, used by the system
// prompt template to document each tool's parameters.
func (d *Definition) ParamsJSON() string {
	data, err := json.Marshal(d.JSONSchema())
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Register adds or replaces a definition; name comparison is
// case-insensitive.
func (r *Registry) Register(def *Definition) {
	r.defs[strings.ToLower(def.Name)] = def
}

// Get looks up a definition by name (case-insensitive).
func (r *Registry) Get(name string) (*Definition, bool) {
	d, ok := r.defs[strings.ToLower(name)]
	return d, ok
}

// ListByCategory returns definitions in a category, sorted by name for
// deterministic prompt composition.
func (r *Registry) ListByCategory(cat Category) []*Definition {
	var out []*Definition
	for _, d := range r.defs {
		if d.Category == cat {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListAll returns every registered definition, sorted by name.
func (r *Registry) ListAll() []*Definition {
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the set of registered tool names, used by the parser (C) to
// discard calls to unknown tools.
func (r *Registry) Names() map[string]bool {
	names := make(map[string]bool, len(r.defs))
	for name := range r.defs {
		names[name] = true
	}
	return names
}

// validate checks params against a definition's declarative schema,
// applying defaults to a copy and returning a human-readable reason on
// failure, per spec.md §4.B step 2.
func validate(def *Definition, params map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}

	for _, spec := range def.Params {
		v, present := out[spec.Name]
		if !present {
			if spec.Required {
				return nil, fmt.Errorf("missing required parameter %q", spec.Name)
			}
			if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}
		if err := checkType(spec, v); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", spec.Name, err)
		}
		if len(spec.Enum) > 0 {
			if s, ok := v.(string); ok {
				if !contains(spec.Enum, s) {
					return nil, fmt.Errorf("parameter %q: value %q not in %v", spec.Name, s, spec.Enum)
				}
			}
		}
	}
	return out, nil
}

func checkType(spec ParamSpec, v interface{}) error {
	switch spec.Type {
	case ParamString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case ParamNumber:
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("expected number, got %T", v)
		}
	case ParamBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
