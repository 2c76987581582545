package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openclaw/claw/internal/agent/mcp"
	"github.com/openclaw/claw/internal/agent/runner"
	"github.com/openclaw/claw/internal/agent/session"
	"github.com/openclaw/claw/internal/agent/tools"
	"github.com/openclaw/claw/internal/logging"
	"github.com/openclaw/claw/internal/server"
)

// ServeCmd creates the API server command.
func ServeCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API",
		Long: `Serve binds the agent to 127.0.0.1:<port> as a long-lived process:
REST and WebSocket chat under /api/v1, the MCP endpoint at /mcp, skill
hot reload, and cron-scheduled prompts. The server never listens on
non-loopback interfaces.`,
		Run: func(cmd *cobra.Command, args []string) {
			runServe(quiet)
		},
	}

	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress the banner and request logging")
	return cmd
}

func runServe(quiet bool) {
	cfg := loadConfig()
	if err := cfg.EnsureDataDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	store, err := session.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %v\n", err)
		os.Exit(1)
	}

	registry, settings := buildRegistry(cfg)
	loader := buildLoader(cfg, settings)
	if err := loader.Watch(ctx); err != nil {
		logging.Warnf("[serve] Skill hot reload unavailable: %v", err)
	}
	defer loader.Stop()

	// A missing provider is not fatal here: the skills, sessions and
	// MCP surfaces work without one, and chat requests report it.
	provider, closeProvider, err := buildProvider(cfg)
	if err != nil {
		logging.Warnf("[serve] No usable provider: %v", err)
	}
	if closeProvider != nil {
		defer closeProvider()
	}

	r := runner.New(cfg, provider, registry, loader, store)

	// Scheduled prompts run as fresh unattended turns. One that parks
	// on a dangerous tool stays pending until confirmed over the API.
	sched := tools.NewScheduler(func(prompt string) {
		res, err := r.Run(context.Background(), &runner.RunRequest{
			SessionKey: "scheduled",
			Prompt:     prompt,
		})
		if err != nil {
			logging.Errorf("[serve] Scheduled turn: %v", err)
			return
		}
		if res.State == runner.TurnAwaitingConfirmation {
			logging.Warnf("[serve] Scheduled turn %s is waiting on %s; confirm or reject it over the API",
				res.TurnID, res.Pending.Tool)
		}
	})
	defer sched.Stop()
	registry.RegisterSkill(sched.Skill())

	mcpServer := mcp.NewServer(registry)

	deps := &server.Deps{
		Config:           cfg,
		Runner:           r,
		Registry:         registry,
		Loader:           loader,
		Sessions:         store,
		MCP:              mcpServer.Handler(),
		OnRegistryChange: mcpServer.Refresh,
	}

	if err := server.Run(ctx, deps, server.Options{Quiet: quiet}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
