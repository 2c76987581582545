package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandSkillDoc is the JSON document registering a custom skill
// whose tools run external commands. No code is loaded in-process;
// the command lines are scanned before the skill can be activated.
type CommandSkillDoc struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	Icon           string           `json:"icon,omitempty"`
	Category       string           `json:"category,omitempty"`
	ConfigRequired []string         `json:"configRequired,omitempty"`
	Tools          []CommandToolDoc `json:"tools"`
}

// CommandToolDoc describes one command-backed tool. Arguments reach
// the command as CLAW_ARG_* environment variables and as a JSON
// object on stdin.
type CommandToolDoc struct {
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Dangerous      bool    `json:"dangerous,omitempty"`
	Params         []Param `json:"params,omitempty"`
	Command        string  `json:"command"`
	TimeoutSeconds int     `json:"timeoutSeconds,omitempty"`
}

const (
	commandDefaultTimeout = 30 * time.Second
	commandMaxTimeout     = 300 * time.Second
)

// ParseCommandSkill validates a catalog document and builds the
// runnable skill. The second return value is the raw command lines,
// which callers feed to the security scanner before activation.
func ParseCommandSkill(data []byte) (*Skill, []string, error) {
	var doc CommandSkillDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing command skill: %w", err)
	}

	if doc.ID == "" {
		return nil, nil, fmt.Errorf("command skill requires an id")
	}
	if doc.Name == "" {
		doc.Name = doc.ID
	}
	if len(doc.Tools) == 0 {
		return nil, nil, fmt.Errorf("command skill %q has no tools", doc.ID)
	}

	skill := &Skill{
		ID:             doc.ID,
		Name:           doc.Name,
		Description:    doc.Description,
		Icon:           doc.Icon,
		Category:       doc.Category,
		Builtin:        false,
		Enabled:        true,
		ConfigRequired: doc.ConfigRequired,
	}

	seen := make(map[string]bool)
	commands := make([]string, 0, len(doc.Tools))
	for _, td := range doc.Tools {
		if td.Name == "" {
			return nil, nil, fmt.Errorf("command skill %q has a tool without a name", doc.ID)
		}
		if seen[td.Name] {
			return nil, nil, fmt.Errorf("command skill %q declares tool %q twice", doc.ID, td.Name)
		}
		seen[td.Name] = true
		if td.Command == "" {
			return nil, nil, fmt.Errorf("tool %q has no command", td.Name)
		}
		for _, p := range td.Params {
			switch p.Type {
			case "string", "number", "boolean":
			default:
				return nil, nil, fmt.Errorf("tool %q param %q has unsupported type %q", td.Name, p.Name, p.Type)
			}
		}
		commands = append(commands, td.Command)
		skill.Tools = append(skill.Tools, Tool{
			Name:        td.Name,
			Description: td.Description,
			Dangerous:   td.Dangerous,
			Params:      td.Params,
			Run:         commandRunner(td),
		})
	}
	return skill, commands, nil
}

// commandRunner builds the Run closure for a command-backed tool.
func commandRunner(doc CommandToolDoc) func(ctx context.Context, args map[string]any) (string, error) {
	timeout := commandDefaultTimeout
	if doc.TimeoutSeconds > 0 {
		timeout = time.Duration(doc.TimeoutSeconds) * time.Second
		if timeout > commandMaxTimeout {
			timeout = commandMaxTimeout
		}
	}

	return func(ctx context.Context, args map[string]any) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		shell, shellArgs := ShellCommand()
		cmd := exec.CommandContext(ctx, shell, append(shellArgs, doc.Command)...)

		env := sanitizedEnv()
		for name, value := range args {
			env = append(env, fmt.Sprintf("CLAW_ARG_%s=%v", envVarName(name), value))
		}
		cmd.Env = env

		if stdin, err := json.Marshal(args); err == nil {
			cmd.Stdin = bytes.NewReader(stdin)
		}

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
}

// envVarName maps an argument name onto a safe environment suffix.
func envVarName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
