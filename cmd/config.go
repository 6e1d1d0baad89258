package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ggcode/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit ggcode's configuration file",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configGetCmd())
	cmd.AddCommand(configSetCmd())
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func loadOrExit() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadOrExit()
			snap := cfg.Snapshot()
			data, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Println(string(data))
			fmt.Fprintf(os.Stderr, "fingerprint: %s\n", cfg.Hash())
		},
	}
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <field>",
		Short: "Print one dotted-path config field, e.g. agent.max_iterations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrExit()
			value, err := lookupField(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <field> <value>",
		Short: "Set one config field and persist it to disk",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrExit()
			if err := setField(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config-schema: %w", err)
			}
			if err := config.Save(resolveConfigPath(), cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.json if one does not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return fmt.Errorf("write default config: %w", err)
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and report the first schema violation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
				os.Exit(2)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

// lookupField and setField cover the dotted-path fields a user is likely
// to inspect or tweak from the command line; anything deeper belongs in
// a hand-edited config.json instead of a single-value CLI flag.
func lookupField(cfg *config.Config, field string) (string, error) {
	switch field {
	case "api.mode":
		return string(cfg.API.Mode), nil
	case "api.base":
		return cfg.API.Base, nil
	case "api.model":
		return cfg.API.Model, nil
	case "agent.max_context_tokens":
		return fmt.Sprint(cfg.Agent.MaxContextTokens), nil
	case "agent.max_iterations":
		return fmt.Sprint(cfg.Agent.MaxIterations), nil
	case "agent.auto_approve":
		return fmt.Sprint(cfg.Agent.AutoApprove), nil
	case "model_config.temperature":
		return fmt.Sprint(cfg.ModelConfig.Temperature), nil
	default:
		return "", fmt.Errorf("unknown field %q", field)
	}
}

func setField(cfg *config.Config, field, value string) error {
	switch field {
	case "api.mode":
		cfg.API.Mode = config.APIMode(value)
	case "api.base":
		cfg.API.Base = value
	case "api.model":
		cfg.API.Model = value
	case "agent.max_iterations":
		n, err := parseInt(value)
		if err != nil {
			return err
		}
		cfg.Agent.MaxIterations = n
	case "agent.auto_approve":
		cfg.Agent.AutoApprove = value == "true" || value == "1"
	case "model_config.temperature":
		f, err := parseFloat(value)
		if err != nil {
			return err
		}
		cfg.ModelConfig.Temperature = f
	default:
		return fmt.Errorf("unknown or read-only field %q", field)
	}
	return nil
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %q", s)
	}
	return n, nil
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("expected a number, got %q", s)
	}
	return f, nil
}
