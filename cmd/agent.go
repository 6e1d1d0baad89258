package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/ggcode/internal/agent"
	"github.com/nextlevelbuilder/ggcode/internal/command"
	"github.com/nextlevelbuilder/ggcode/internal/compactor"
	"github.com/nextlevelbuilder/ggcode/internal/config"
	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
	"github.com/nextlevelbuilder/ggcode/internal/gate"
	"github.com/nextlevelbuilder/ggcode/internal/prompt"
	"github.com/nextlevelbuilder/ggcode/internal/providers"
	"github.com/nextlevelbuilder/ggcode/internal/repl"
	"github.com/nextlevelbuilder/ggcode/internal/session"
	"github.com/nextlevelbuilder/ggcode/internal/subagent"
	"github.com/nextlevelbuilder/ggcode/internal/tools"
)

func agentCmd() *cobra.Command {
	var (
		agentType   string
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the interactive agent REPL with full tool dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentREPL(agentType, autoApprove, true)
		},
	}
	cmd.Flags().StringVar(&agentType, "type", "build", "agent type: build|explore|plan")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompts for non-safe tool calls")
	return cmd
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start a plain chat REPL without tool dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentREPL("chat", false, false)
		},
	}
	return cmd
}

// runAgentREPL builds every supporting component (provider, gate, tool
// registry, prompt composer, session store, subagent runner, compactor
// config) from the loaded Config and hands them to a repl.REPL, mirroring
// the wiring order of the teacher's bootstrapStandaloneAgent.
func runAgentREPL(agentType string, autoApprove, enableTools bool) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	g := gate.New(rate.Every(650*time.Millisecond), 1)

	registry := tools.NewRegistry()
	if enableTools {
		tools.RegisterFilesystemTools(registry, workspace, true)
		tools.RegisterShellTool(registry, workspace, tools.DefaultShellConfig())
		for _, mcpCfg := range cfg.Agent.MCPServers {
			if err := tools.RegisterMCPTools(context.Background(), registry, mcpCfg.Command, mcpCfg.Args, mcpCfg.Env); err != nil {
				slog.Warn("mcp server registration failed", "server", mcpCfg.Name, "error", err)
			}
		}
	}
	executor := tools.NewExecutor(registry, tools.DefaultTruncateConfig())

	composer := prompt.NewComposer(filepath.Join(ggcodeHome(), "prompts"))
	if err := composer.Watch(); err != nil {
		slog.Warn("prompt override watch failed", "error", err)
	}
	defer composer.Close()

	sessCfg := session.DefaultConfig()
	sessCfg.MaxSessions = cfg.Sessions.MaxSessions
	sessCfg.MaxInactiveDays = cfg.Sessions.MaxInactiveDays
	sessCfg.PreserveRecent = cfg.Sessions.PreserveRecentSessions
	sessStore, err := session.New(sessCfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessStore.Close()
	if cfg.Sessions.AutoCleanup {
		sessStore.StartBackgroundCleanup()
	}

	subPrompts := map[subagent.Kind]string{
		subagent.KindTitle:      mustRender(composer, prompt.NameTitle, nil),
		subagent.KindSummary:    mustRender(composer, prompt.NameSummary, nil),
		subagent.KindCompaction: mustRender(composer, prompt.NameCompaction, nil),
	}
	subRunner := subagent.NewRunner(provider, g, subPrompts)

	loop := &agent.Loop{
		Provider:      provider,
		Gate:          g,
		Registry:      registry,
		Executor:      executor,
		Composer:      composer,
		Sessions:      sessStore,
		Subagents:     subRunner,
		ContextWindow: cfg.Agent.MaxContextTokens,
		CompactCfg: compactor.Config{
			ReserveTokensFloor: cfg.Agent.CompressReserve,
			MaxHistoryShare:    cfg.Agent.CompressThreshold,
			MinMessages:        8,
			KeepLastMessages:   4,
			JaccardThreshold:   0.85,
		},
		SummaryEveryNTurns: 6,
	}

	if _, err := sessStore.Current(); err != nil {
		if _, err := sessStore.Create("new session", agentType, ""); err != nil {
			return fmt.Errorf("create initial session: %w", err)
		}
	}

	settings := command.Settings{
		Temperature:       cfg.ModelConfig.Temperature,
		TopP:              cfg.ModelConfig.TopP,
		TopK:              cfg.ModelConfig.TopK,
		RepetitionPenalty: cfg.ModelConfig.RepetitionPenalty,
	}
	cmdContext := gctx.NewManager()
	cmdContext.SetSystemPrompt(systemPrompt(composer, registry, workspace, agentType))

	cmgr := &command.Manager{
		Sessions:           sessStore,
		Context:            cmdContext,
		Settings:           &settings,
		Models:             []string{cfg.API.Model},
		Subagents:          subRunner,
		SummaryEveryNTurns: 6,
	}

	r := &repl.REPL{
		Loop:         loop,
		Commands:     cmgr,
		Context:      cmdContext,
		Sessions:     sessStore,
		AgentType:    agentType,
		WorkingDir:   workspace,
		MaxTurnSteps: cfg.Agent.MaxIterations,
		AutoApprove:  autoApprove || cfg.Agent.AutoApprove,
	}
	return r.Run(context.Background())
}

// buildProvider selects the D-component transport per cfg.API.Mode, per
// spec.md §6's two concrete adapter shapes.
func buildProvider(cfg *config.Config) (providers.Provider, error) {
	if cfg.API.Key == "" {
		return nil, fmt.Errorf("api.key is not set — set it in %s or $GGCODE_API_KEY", config.Path())
	}
	switch cfg.API.Mode {
	case config.APIModeEnterpriseWrapped:
		return providers.NewEnterpriseWrappedProvider(cfg.API.Key, cfg.API.Base, cfg.API.Model), nil
	case config.APIModeOpenAICompatible, "":
		return providers.NewOpenAICompatProvider(cfg.API.Key, cfg.API.Base, cfg.API.Model), nil
	default:
		return nil, fmt.Errorf("unknown api.mode %q", cfg.API.Mode)
	}
}

func systemPrompt(composer *prompt.Composer, registry *tools.Registry, workspace, agentType string) string {
	text, err := composer.Render(prompt.NameSystem, map[string]interface{}{
		"Workspace": workspace,
		"AgentType": agentType,
		"Tools":     registry.ListAll(),
	})
	if err != nil {
		slog.Warn("system prompt render failed, using fallback", "error", err)
		return "You are ggcode, a terminal-based coding assistant."
	}
	return text
}

func mustRender(composer *prompt.Composer, name prompt.Name, data interface{}) string {
	text, err := composer.Render(name, data)
	if err != nil {
		slog.Warn("prompt render failed", "template", name, "error", err)
		return ""
	}
	return text
}

func ggcodeHome() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ggcode")
}
