package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	agentcfg "github.com/openclaw/claw/internal/agent/config"
	"github.com/openclaw/claw/internal/agent/runner"
	"github.com/openclaw/claw/internal/agent/session"
	"github.com/openclaw/claw/internal/logging"
)

// ChatCmd creates the chat command.
func ChatCmd() *cobra.Command {
	var interactive bool
	var dangerously bool

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Chat with the agent",
		Long: `Send a prompt to the agent. The agent answers by calling tools;
dangerous tools ask for confirmation before they run.

Examples:
  claw chat "what processes are using the most memory?"
  claw chat -i
  claw chat --dangerously "clean up the tmp directory"`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			runChat(cfg, args, interactive, dangerously)
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "start an interactive chat session")
	cmd.Flags().BoolVar(&dangerously, "dangerously", false, "execute dangerous tools without asking")

	return cmd
}

// runChat assembles the agent and runs one prompt or a REPL.
func runChat(cfg *agentcfg.Config, args []string, interactive bool, dangerously bool) {
	// Log lines would interleave with the conversation.
	if !verbose {
		logging.Disable()
	}

	if dangerously && !confirmDangerousMode() {
		fmt.Println("Aborted.")
		os.Exit(0)
	}

	provider, closeProvider, err := buildProvider(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeProvider()

	store, err := session.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	registry, settings := buildRegistry(cfg)
	loader := buildLoader(cfg, settings)

	r := runner.New(cfg, provider, registry, loader, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\033[33mInterrupted\033[0m")
		cancel()
	}()

	if interactive || len(args) == 0 {
		runInteractive(ctx, r, store, dangerously)
	} else {
		prompt := strings.Join(args, " ")
		if err := runTurn(ctx, r, prompt, dangerously); err != nil {
			fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
			os.Exit(1)
		}
	}
}

// runTurn drives one prompt to completion, settling any confirmation
// requests interactively.
func runTurn(ctx context.Context, r *runner.Runner, prompt string, dangerously bool) error {
	res, err := r.Run(ctx, &runner.RunRequest{
		SessionKey:  sessionKey,
		Prompt:      prompt,
		AutoConfirm: dangerously,
		OnEvent:     printEvent,
	})
	if err != nil {
		return err
	}

	res, err = settleTurn(ctx, r, res)
	if err != nil {
		return err
	}

	fmt.Printf("\033[32m%s\033[0m\n", res.Reply)
	return nil
}

// settleTurn prompts for each suspended dangerous call until the turn
// reaches a final state. EOF on stdin declines.
func settleTurn(ctx context.Context, r *runner.Runner, res *runner.TurnResult) (*runner.TurnResult, error) {
	reader := bufio.NewReader(os.Stdin)

	for res.State == runner.TurnAwaitingConfirmation {
		pending := res.Pending
		fmt.Printf("\n\033[33mThe agent wants to run %s\033[0m — %s\n", pending.Tool, pending.Description)
		if len(pending.Args) > 0 {
			if data, err := json.MarshalIndent(pending.Args, "  ", "  "); err == nil {
				fmt.Printf("  %s\n", data)
			}
		}
		fmt.Print("Run it? [y/N] ")

		line, err := reader.ReadString('\n')
		approve := err == nil
		if approve {
			answer := strings.ToLower(strings.TrimSpace(line))
			approve = answer == "y" || answer == "yes"
		}

		if approve {
			res, err = r.Confirm(ctx, res.TurnID)
		} else {
			res, err = r.Reject(res.TurnID)
		}
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// runInteractive runs a chat REPL.
func runInteractive(ctx context.Context, r *runner.Runner, store *session.Store, dangerously bool) {
	fmt.Println("\033[1mclaw interactive mode\033[0m")
	fmt.Println("Type a prompt and press Enter. /help for commands, Ctrl+C to exit.")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Print("\033[36m> \033[0m")

		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if handleCommand(line, store) {
				continue
			}
		}

		if err := runTurn(ctx, r, line, dangerously); err != nil {
			fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
			continue
		}
		fmt.Println()
	}
}

// handleCommand handles REPL slash commands.
func handleCommand(cmd string, store *session.Store) bool {
	switch cmd {
	case "/help":
		fmt.Println(`Commands:
  /help     - Show this help
  /clear    - Clear the current session's history
  /sessions - List all sessions
  /quit     - Exit`)
		return true

	case "/clear":
		sess, err := store.GetOrCreate(sessionKey)
		if err == nil {
			err = store.Reset(sess.ID)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		} else {
			fmt.Println("Session cleared.")
		}
		return true

	case "/sessions":
		list, err := store.ListSessions()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return true
		}
		fmt.Println("Sessions:")
		for _, s := range list {
			marker := " "
			if s.SessionKey == sessionKey {
				marker = "*"
			}
			fmt.Printf("  %s %s (%d messages, updated %s)\n",
				marker, s.SessionKey, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return true

	case "/quit", "/exit":
		os.Exit(0)
		return true
	}

	return false
}

// printEvent renders one turn event. Tool calls always show so long
// turns give feedback; rounds and results only in verbose mode.
func printEvent(ev runner.TurnEvent) {
	switch ev.Type {
	case "round":
		if verbose {
			fmt.Printf("\033[90m[round %d]\033[0m\n", ev.Round)
		}

	case "tool_call":
		suffix := ""
		if ev.Dangerous {
			suffix = " (needs confirmation)"
		}
		fmt.Printf("\033[90m→ %s%s\033[0m\n", ev.Tool, suffix)

	case "tool_result":
		if verbose {
			preview := ev.Result
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			fmt.Printf("\033[90m%s\033[0m\n", preview)
		}

	case "loop_warning":
		fmt.Printf("\033[33m⚠ %s\033[0m\n", ev.Text)
	}
}

// confirmDangerousMode requires explicit consent before running with
// every confirmation prompt bypassed.
func confirmDangerousMode() bool {
	fmt.Println()
	fmt.Println("\033[1;31mDangerous mode: every tool runs without confirmation,")
	fmt.Println("including shell commands and file writes.\033[0m")
	fmt.Print("\nType 'yes' to continue: ")

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	if strings.TrimSpace(strings.ToLower(response)) == "yes" {
		fmt.Println()
		return true
	}
	return false
}
