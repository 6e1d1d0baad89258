// Package cmd wires ggcode's command-line surface (component M's entry
// points): cobra root command plus agent/chat/config subcommands.
// Grounded on the teacher's cmd/root.go PersistentFlags + init()-time
// AddCommand registration idiom, narrowed from goclaw's multi-command
// gateway CLI (onboard, doctor, channels, cron, skills, migrate) down to
// the single-process assistant's surface spec.md §6 names.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ggcode/internal/config"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ggcode",
	Short: "ggcode — terminal-based AI coding assistant",
	Long: `ggcode reads a natural-language request, consults a remote LLM, parses
the tool calls from its reply, executes them against the local filesystem
and shell, feeds the results back, and repeats until the model produces a
final answer. Sessions persist under ${HOME}/.ggcode/.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgentREPL("build", false, true)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: "+config.Path()+" or $GGCODE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ggcode %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("GGCODE_CONFIG"); v != "" {
		return v
	}
	return config.Path()
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// Execute runs the root cobra command.
func Execute() {
	setupLogging()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
