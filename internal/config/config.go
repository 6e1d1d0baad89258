// Package config loads and validates ggcode's configuration file, per
// spec.md §6. Grounded on the teacher's internal/config/config.go shape
// (root Config struct, FlexibleStringSlice custom unmarshaler, RWMutex-
// guarded accessors), narrowed from goclaw's multi-channel gateway
// configuration down to the single-session CLI's four recognized
// sections: api, agent, sessions, model_config — plus the ambient
// telemetry section the teacher carries regardless of product scope.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, matching the
// teacher's tolerant unmarshaling for fields a hand-edited config.json
// might populate with either shape.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// APIMode selects which of the two D-component transports spec.md §6
// requires a Config describes.
type APIMode string

const (
	APIModeOpenAICompatible  APIMode = "openai-compatible"
	APIModeEnterpriseWrapped APIMode = "enterprise-wrapped"
)

// APIConfig carries the fields spec.md §6 requires per transport mode.
type APIConfig struct {
	Mode  APIMode `json:"mode"`
	Key   string  `json:"key"`
	Base  string  `json:"base,omitempty"`
	Model string  `json:"model"`
}

// AgentConfig is spec.md §6's `agent` section.
type AgentConfig struct {
	MaxContextTokens  int                 `json:"max_context_tokens"`
	MaxHistory        int                 `json:"max_history"`
	MaxIterations     int                 `json:"max_iterations"`
	AutoApprove       bool                `json:"auto_approve"`
	AutoCompress      bool                `json:"auto_compress"`
	CompressThreshold float64             `json:"compress_threshold"` // [0, 1]
	CompressReserve   int                 `json:"compress_reserve"`
	DangerousPatterns FlexibleStringSlice `json:"dangerous_patterns,omitempty"`
	MCPServers        []MCPServerConfig   `json:"mcp_servers,omitempty"`
}

// MCPServerConfig names one external MCP server whose tools should be
// bridged into the tool registry (B) at startup, over stdio transport.
type MCPServerConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// SessionsConfig is spec.md §6's `sessions` section.
type SessionsConfig struct {
	MaxSessions            int    `json:"max_sessions"`
	MaxInactiveDays        int    `json:"max_inactive_days"`
	AutoCleanup            bool   `json:"auto_cleanup"`
	CleanupIntervalHours   int    `json:"cleanup_interval_hours"`
	CleanupSchedule        string `json:"cleanup_schedule,omitempty"` // cron expression, validated via gronx
	PreserveRecentSessions int    `json:"preserve_recent_sessions"`
}

// ModelConfig is spec.md §6's `model_config` section — the same sampling
// knobs the REPL's `/setting` command edits live, per command.Settings.
type ModelConfig struct {
	Temperature       float64 `json:"temperature"`        // [0, 2]
	TopP              float64 `json:"top_p"`               // [0, 1]
	TopK              int     `json:"top_k"`                // [-1, 100]
	RepetitionPenalty float64 `json:"repetition_penalty"` // [1, 2]
}

// TelemetryConfig is ambient OpenTelemetry wiring, carried regardless of
// spec.md's Non-goals around product-facing observability — this config
// section governs tracing of the orchestrator's own operations, not a
// feature of the assistant itself.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" | "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Config is ggcode's root configuration, loaded from
// ${HOME}/.ggcode/config.json per spec.md §6.
type Config struct {
	API         APIConfig       `json:"api"`
	Agent       AgentConfig     `json:"agent"`
	Sessions    SessionsConfig  `json:"sessions"`
	ModelConfig ModelConfig     `json:"model_config"`
	Telemetry   TelemetryConfig `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// Snapshot returns a copy of the config safe to read without holding the
// lock, matching the teacher's read-mostly RWMutex-guarded Config pattern.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{API: c.API, Agent: c.Agent, Sessions: c.Sessions, ModelConfig: c.ModelConfig, Telemetry: c.Telemetry}
}

// Hash returns a short SHA-256-derived fingerprint of the config, used by
// `ggcode config show` to let a user confirm which file content is live.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}
