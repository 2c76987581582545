package runner

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/openclaw/claw/internal/agent/skills"
	"github.com/openclaw/claw/internal/agent/tools"
)

func promptRegistry() *tools.Registry {
	noop := func(_ context.Context, _ map[string]any) (string, error) { return "", nil }
	r := tools.NewRegistry()
	r.RegisterSkill(&tools.Skill{
		ID:          "files",
		Name:        "Files",
		Description: "File operations",
		Enabled:     true,
		Tools: []tools.Tool{
			{
				Name:        "read_file",
				Description: "Read a file",
				Params: []tools.Param{
					{Name: "path", Type: "string", Required: true},
					{Name: "limit", Type: "number"},
				},
				Run: noop,
			},
			{
				Name:        "write_file",
				Description: "Write a file",
				Dangerous:   true,
				Params:      []tools.Param{{Name: "path", Type: "string", Required: true}},
				Run:         noop,
			},
		},
	})
	return r
}

func TestBuildSystemPromptListsTools(t *testing.T) {
	prompt := BuildSystemPrompt(promptRegistry(), nil)

	if !strings.Contains(prompt, "claw") {
		t.Error("prompt should carry the identity section")
	}
	if !strings.Contains(prompt, "## Available Tools") {
		t.Error("prompt should carry the tool catalog")
	}
	if !strings.Contains(prompt, "read_file(path, limit?)") {
		t.Errorf("prompt should contain the call signature:\n%s", prompt)
	}
	if !strings.Contains(prompt, "write_file(path) (requires confirmation)") {
		t.Error("dangerous tools should be marked in the catalog")
	}
	if strings.Contains(prompt, "read_file(path, limit?) (requires confirmation)") {
		t.Error("safe tools must not carry the danger marker")
	}
}

func TestBuildSystemPromptSkipsDisabledSkills(t *testing.T) {
	r := promptRegistry()
	r.SetEnabled("files", false)

	prompt := BuildSystemPrompt(r, nil)
	if strings.Contains(prompt, "read_file") {
		t.Error("tools of a disabled skill should not be listed")
	}
}

func TestBuildSystemPromptIncludesSkillBodies(t *testing.T) {
	loader := skills.NewLoader(t.TempDir(), t.TempDir())
	loader.RegisterBuiltin(
		&skills.AgentSkill{Name: "git-commits", Body: "Write conventional commit messages.", Enabled: true, Source: skills.SourceBuiltin},
		&skills.AgentSkill{Name: "hidden", Body: "Should not appear.", Enabled: false, Source: skills.SourceBuiltin},
	)

	prompt := BuildSystemPrompt(promptRegistry(), loader)
	if !strings.Contains(prompt, "### git-commits") || !strings.Contains(prompt, "conventional commit") {
		t.Error("enabled skill body missing from the prompt")
	}
	if strings.Contains(prompt, "Should not appear") {
		t.Error("disabled skill body leaked into the prompt")
	}
}

func TestBuildSystemPromptTruncatesOversizedSkills(t *testing.T) {
	loader := skills.NewLoader(t.TempDir(), t.TempDir())
	// Skills render in name order; the small one comes first and fits,
	// the huge one blows the character budget.
	loader.RegisterBuiltin(
		&skills.AgentSkill{Name: "a-small", Body: "Tiny body.", Enabled: true, Source: skills.SourceBuiltin},
		&skills.AgentSkill{Name: "z-huge", Body: strings.Repeat("x", promptCharBudget), Enabled: true, Source: skills.SourceBuiltin},
	)

	prompt := BuildSystemPrompt(promptRegistry(), loader)
	if !strings.Contains(prompt, "[skills truncated]") {
		t.Error("expected a truncation notice")
	}
	if !strings.Contains(prompt, "Tiny body.") {
		t.Error("skills within budget should still render")
	}
	// Identity, rules and catalog sit outside the skill budget, so allow
	// some slack over the cap itself.
	if len(prompt) > promptCharBudget+5000 {
		t.Errorf("prompt length %d far exceeds the %d budget", len(prompt), promptCharBudget)
	}
}

func TestBuildSystemPromptCapsSkillCount(t *testing.T) {
	loader := skills.NewLoader(t.TempDir(), t.TempDir())
	for i := 0; i < promptMaxSkills+10; i++ {
		loader.RegisterBuiltin(&skills.AgentSkill{
			Name:    fmt.Sprintf("skill-%03d", i),
			Body:    "b",
			Enabled: true,
			Source:  skills.SourceBuiltin,
		})
	}

	prompt := BuildSystemPrompt(promptRegistry(), loader)
	if !strings.Contains(prompt, "[skills truncated]") {
		t.Error("expected a truncation notice past the skill cap")
	}
	if got := strings.Count(prompt, "### skill-"); got != promptMaxSkills {
		t.Errorf("rendered %d skills, want %d", got, promptMaxSkills)
	}
}

func TestBuildSystemPromptEmptyRegistry(t *testing.T) {
	prompt := BuildSystemPrompt(tools.NewRegistry(), nil)
	if strings.Contains(prompt, "## Available Tools") {
		t.Error("an empty registry should not render a catalog")
	}
	if !strings.Contains(prompt, "claw") {
		t.Error("identity section should always be present")
	}
}
