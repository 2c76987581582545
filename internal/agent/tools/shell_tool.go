package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ShellSkill exposes a single run_command tool. Every invocation is
// dangerous and suspended for confirmation before it executes.
func ShellSkill() *Skill {
	return &Skill{
		ID:          "shell",
		Name:        "Shell",
		Description: "Run shell commands on the local machine",
		Icon:        "💻",
		Category:    "system",
		Builtin:     true,
		Enabled:     true,
		Tools: []Tool{
			{
				Name:        "run_command",
				Description: "Execute a shell command and return its combined output.",
				Dangerous:   true,
				Params: []Param{
					{Name: "command", Type: "string", Description: "Command line to run", Required: true},
					{Name: "timeout", Type: "number", Description: "Timeout in seconds (default 120)"},
					{Name: "cwd", Type: "string", Description: "Working directory"},
				},
				Run: runShellCommand,
			},
		},
	}
}

const shellOutputLimit = 50000

func runShellCommand(ctx context.Context, args map[string]any) (string, error) {
	command := StringArg(args, "command")
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	timeout := 120 * time.Second
	if v, ok := NumberArg(args, "timeout"); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell, shellArgs := ShellCommand()
	cmd := exec.CommandContext(ctx, shell, append(shellArgs, command)...)
	if cwd := StringArg(args, "cwd"); cwd != "" {
		cmd.Dir = expandPath(cwd)
	}
	cmd.Env = sanitizedEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var out strings.Builder
	out.WriteString(stdout.String())
	if stderr.Len() > 0 {
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString("STDERR:\n")
		out.WriteString(stderr.String())
	}
	output := out.String()
	if len(output) > shellOutputLimit {
		output = output[:shellOutputLimit] + "\n... (output truncated)"
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %v\n%s", timeout, output)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("command exited with code %d\n%s", exitErr.ExitCode(), output)
		}
		return "", fmt.Errorf("command failed: %v\n%s", err, output)
	}
	return output, nil
}

// dangerousEnvVars can redirect the dynamic linker or alter shell
// parsing, so spawned commands never inherit them.
var dangerousEnvVars = map[string]bool{
	"IFS":            true,
	"CDPATH":         true,
	"BASH_ENV":       true,
	"ENV":            true,
	"PROMPT_COMMAND": true,
	"SHELLOPTS":      true,
	"BASHOPTS":       true,
	"GLOBIGNORE":     true,
	"PYTHONSTARTUP":  true,
	"PYTHONPATH":     true,
	"RUBYOPT":        true,
	"PERL5OPT":       true,
	"NODE_OPTIONS":   true,
}

// sanitizedEnv strips linker-injection and shell-manipulation variables
// from the environment handed to child processes.
func sanitizedEnv() []string {
	env := os.Environ()
	clean := make([]string, 0, len(env))
	for _, e := range env {
		key := e
		if idx := strings.IndexByte(e, '='); idx >= 0 {
			key = e[:idx]
		}
		upper := strings.ToUpper(key)
		if dangerousEnvVars[upper] ||
			strings.HasPrefix(upper, "LD_") ||
			strings.HasPrefix(upper, "DYLD_") ||
			strings.HasPrefix(upper, "BASH_FUNC_") {
			continue
		}
		clean = append(clean, e)
	}
	return clean
}
