package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openclaw/claw/internal/agent/mcp"
)

// MCPCmd creates the stdio MCP server command.
func MCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool registry over the Model Context Protocol (stdio)",
		Long: `MCP speaks the Model Context Protocol on stdin/stdout so editors and
other MCP clients can call this agent's tools directly. Dangerous
tools are not exported: stdio has no confirmation channel, so there
is no way to approve them.`,
		Run: func(cmd *cobra.Command, args []string) {
			runMCP()
		},
	}
}

func runMCP() {
	cfg := loadConfig()
	registry, _ := buildRegistry(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// stdout carries the protocol; anything human-readable must go to
	// stderr or it corrupts the stream.
	srv := mcp.NewServer(registry)
	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
