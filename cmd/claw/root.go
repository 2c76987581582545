package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	agentcfg "github.com/openclaw/claw/internal/agent/config"
	"github.com/openclaw/claw/internal/agent/skills"
	"github.com/openclaw/claw/internal/agent/tools"
	"github.com/openclaw/claw/internal/logging"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile     string
	sessionKey  string
	providerArg string
	verbose     bool
)

// SetupRootCmd configures the root command with all subcommands and flags.
// Running claw with no subcommand starts an interactive chat.
func SetupRootCmd() *cobra.Command {
	var dangerously bool

	rootCmd := &cobra.Command{
		Use:   "claw",
		Short: "claw - local tool-calling agent",
		Long: `claw is a local agent that answers prompts by calling tools:
files, shell, web and anything you add as a skill.

Just type 'claw' to start an interactive chat. Dangerous tools ask for
confirmation before they run; pass --dangerously to skip the prompts.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetVerbose(verbose)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			runChat(cfg, nil, true, dangerously)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <data dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&sessionKey, "session", "s", "default", "session key for conversation history")
	rootCmd.PersistentFlags().StringVarP(&providerArg, "provider", "p", "", "provider to use (default: first configured)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.Flags().BoolVar(&dangerously, "dangerously", false, "execute dangerous tools without asking")

	rootCmd.AddCommand(ChatCmd())
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(SkillsCmd())
	rootCmd.AddCommand(SessionCmd())
	rootCmd.AddCommand(ProvidersCmd())
	rootCmd.AddCommand(MCPCmd())

	return rootCmd
}

// loadConfig loads the configuration, honoring --config.
func loadConfig() *agentcfg.Config {
	var (
		cfg *agentcfg.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = agentcfg.LoadFrom(cfgFile)
	} else {
		cfg, err = agentcfg.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// buildRegistry assembles the builtin skill set with persisted
// enablement applied. The scheduler skill is added separately in serve
// mode, where a turn sink exists.
func buildRegistry(cfg *agentcfg.Config) (*tools.Registry, *tools.SettingsStore) {
	registry := tools.NewRegistry()
	settings := tools.NewSettingsStore(cfg.DataDir)
	registry.SetSettings(settings)
	tools.RegisterBuiltins(registry)
	return registry, settings
}

// buildLoader assembles the agent-skill loader over the user and
// project tiers, sharing the registry's enablement store.
func buildLoader(cfg *agentcfg.Config, settings *tools.SettingsStore) *skills.Loader {
	projectDir := ""
	if wd, err := os.Getwd(); err == nil {
		projectDir = filepath.Join(wd, ".claw", "skills")
	}
	loader := skills.NewLoader(cfg.SkillsDir(), projectDir)
	if settings != nil {
		loader.SetDisabledSkills(settings.GetDisabledSkills())
	}
	return loader
}
