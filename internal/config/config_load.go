package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adhocore/gronx"
	"github.com/titanous/json5"
)

// Default returns a Config with the defaults spec.md §6 implies: a
// generous context budget, conservative auto-approval off, and the
// `/setting` command's documented sampling ranges.
func Default() *Config {
	return &Config{
		API: APIConfig{Mode: APIModeOpenAICompatible},
		Agent: AgentConfig{
			MaxContextTokens:  128000,
			MaxHistory:        50,
			MaxIterations:     20,
			AutoApprove:       false,
			AutoCompress:      true,
			CompressThreshold: 0.7,
			CompressReserve:   2000,
		},
		Sessions: SessionsConfig{
			MaxSessions:            200,
			MaxInactiveDays:        30,
			AutoCleanup:            true,
			CleanupIntervalHours:   24,
			PreserveRecentSessions: 10,
		},
		ModelConfig: ModelConfig{
			Temperature:       1.0,
			TopP:              1.0,
			TopK:              -1,
			RepetitionPenalty: 1.0,
		},
	}
}

// Path returns the config file location spec.md §6 names:
// ${HOME}/.ggcode/config.json.
func Path() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ggcode", "config.json")
}

// Load reads config from a JSON5 file, then overlays env vars, matching
// the teacher's Default() → overlay file → overlay env pipeline
// (config_load.go's original Load). A missing file is not an error — the
// defaults plus env overrides are returned as-is, since first-run ggcode
// has no config.json yet.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config-missing: read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config-schema: parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config-schema: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overlays GGCODE_-prefixed env vars onto the config.
// Env vars take precedence over file values, matching the teacher's
// always-wins env override behavior (keeps secrets out of config.json).
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("GGCODE_API_KEY", &c.API.Key)
	envStr("GGCODE_API_BASE", &c.API.Base)
	envStr("GGCODE_MODEL", &c.API.Model)
	if v := os.Getenv("GGCODE_API_MODE"); v != "" {
		c.API.Mode = APIMode(v)
	}
	if v := os.Getenv("GGCODE_AUTO_APPROVE"); v != "" {
		c.Agent.AutoApprove = v == "true" || v == "1"
	}
	envStr("GGCODE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("GGCODE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("GGCODE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// ApplyEnvOverrides re-applies environment variable overrides, for callers
// that mutate the in-memory config and need env-sourced secrets restored
// afterward.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Validate checks every numeric range and enum spec.md §6 and the
// `/setting` command document, returning a config-schema error kind
// (spec.md §7) describing the first violation found.
func (c *Config) Validate() error {
	if c.API.Mode != APIModeOpenAICompatible && c.API.Mode != APIModeEnterpriseWrapped {
		return fmt.Errorf("api.mode must be %q or %q, got %q", APIModeOpenAICompatible, APIModeEnterpriseWrapped, c.API.Mode)
	}
	if c.Agent.CompressThreshold < 0 || c.Agent.CompressThreshold > 1 {
		return fmt.Errorf("agent.compress_threshold must be in [0, 1], got %g", c.Agent.CompressThreshold)
	}
	if c.ModelConfig.Temperature < 0 || c.ModelConfig.Temperature > 2 {
		return fmt.Errorf("model_config.temperature must be in [0, 2], got %g", c.ModelConfig.Temperature)
	}
	if c.ModelConfig.TopP < 0 || c.ModelConfig.TopP > 1 {
		return fmt.Errorf("model_config.top_p must be in [0, 1], got %g", c.ModelConfig.TopP)
	}
	if c.ModelConfig.TopK < -1 || c.ModelConfig.TopK > 100 {
		return fmt.Errorf("model_config.top_k must be in [-1, 100], got %d", c.ModelConfig.TopK)
	}
	if c.ModelConfig.RepetitionPenalty < 1 || c.ModelConfig.RepetitionPenalty > 2 {
		return fmt.Errorf("model_config.repetition_penalty must be in [1, 2], got %g", c.ModelConfig.RepetitionPenalty)
	}
	if c.Sessions.CleanupSchedule != "" && !gronx.IsValid(c.Sessions.CleanupSchedule) {
		return fmt.Errorf("sessions.cleanup_schedule %q is not a valid cron expression", c.Sessions.CleanupSchedule)
	}
	return nil
}

// Save writes cfg to path as indented JSON, creating parent directories as
// needed — mirrors the teacher's atomic-enough Save (config.json is small
// and single-writer in this single-process CLI, so no temp-file-then-
// rename dance is needed here the way the session store requires one for
// concurrently-touched session files).
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
