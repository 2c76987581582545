package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	agentcfg "github.com/openclaw/claw/internal/agent/config"
	"github.com/openclaw/claw/internal/agent/session"
)

// SessionCmd creates the session management command.
func SessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect and manage conversation sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently used first",
		Run: func(cmd *cobra.Command, args []string) {
			listSessions(openStore(loadConfig()))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [key]",
		Short: "Print a session's message history",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			showSession(openStore(loadConfig()), keyArg(args))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [key]",
		Short: "Delete a session's messages but keep the session",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			clearSession(openStore(loadConfig()), keyArg(args))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [key]",
		Short: "Delete a session and its messages",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			deleteSession(openStore(loadConfig()), keyArg(args))
		},
	})

	return cmd
}

// keyArg resolves the session key: positional argument first, then the
// --session flag (which defaults to "default").
func keyArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return sessionKey
}

func openStore(cfg *agentcfg.Config) *session.Store {
	store, err := session.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %v\n", err)
		os.Exit(1)
	}
	return store
}

func listSessions(store *session.Store) {
	sessions, err := store.ListSessions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return
	}
	for _, s := range sessions {
		fmt.Printf("%s  %d messages, updated %s\n",
			s.SessionKey, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

func showSession(store *session.Store, key string) {
	sess := mustGetSession(store, key)
	messages, err := store.GetMessages(sess.ID, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(messages) == 0 {
		fmt.Printf("Session %q is empty.\n", key)
		return
	}

	for _, m := range messages {
		fmt.Printf("%s %s\n", roleLabel(m.Role), m.CreatedAt.Format("2006-01-02 15:04"))
		if m.Content != "" {
			fmt.Printf("  %s\n", m.Content)
		}
		for _, tc := range decodeToolCalls(m.ToolCalls) {
			fmt.Printf("  \033[90m→ %s %s\033[0m\n", tc.Name, compactJSON(tc.Input))
		}
	}
}

func clearSession(store *session.Store, key string) {
	sess, err := store.GetOrCreate(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := store.Reset(sess.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Cleared session %q.\n", key)
}

func deleteSession(store *session.Store, key string) {
	sess := mustGetSession(store, key)
	if _, err := store.DeleteSession(sess.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted session %q.\n", key)
}

func mustGetSession(store *session.Store, key string) *session.Session {
	sess, err := store.Get(key)
	if errors.Is(err, session.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "No session with key %q.\n", key)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return sess
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "\033[36m[user]\033[0m"
	case "assistant":
		return "\033[32m[assistant]\033[0m"
	default:
		return "\033[90m[" + role + "]\033[0m"
	}
}

func decodeToolCalls(raw json.RawMessage) []session.ToolCall {
	if len(raw) == 0 {
		return nil
	}
	var calls []session.ToolCall
	if err := json.Unmarshal(raw, &calls); err != nil {
		return nil
	}
	return calls
}

// compactJSON trims tool arguments for single-line display.
func compactJSON(raw json.RawMessage) string {
	s := string(raw)
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}
