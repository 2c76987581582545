package runner

import (
	"fmt"
	"strings"

	"github.com/openclaw/claw/internal/agent/skills"
	"github.com/openclaw/claw/internal/agent/tools"
)

// Budgets for the dynamic part of the system prompt. Skill documents are
// dropped past either limit, with an explicit truncation notice so the
// model knows the catalog is incomplete.
const (
	promptCharBudget = 30000
	promptMaxSkills  = 150
)

const sectionIdentity = `You are claw, an agentic assistant that completes tasks by calling tools.

Work in small steps: inspect with read-only tools before you change anything, and check the result after you act. When the task is done, answer the user directly without calling more tools.`

const sectionToolRules = `## Tool Rules

- Call only the tools listed below, with the exact names shown. Tools not in this list do not exist in your runtime.
- Tool results arrive as user messages. Read them before deciding your next step.
- Never repeat a call that already succeeded; reuse its result instead.
- Tools marked (requires confirmation) are held until the user explicitly approves them. Request one only when the task genuinely needs it, and say what it will do.
- If a tool fails twice, stop retrying it and either work around the failure or report it.`

// BuildSystemPrompt assembles the operating rules, the enabled tool
// catalog and the enabled skill documents into one system prompt.
// Rebuilt once per turn so toggles take effect on the next turn.
func BuildSystemPrompt(registry *tools.Registry, loader *skills.Loader) string {
	var b strings.Builder
	b.WriteString(sectionIdentity)
	b.WriteString("\n\n")
	b.WriteString(sectionToolRules)

	catalog := renderToolCatalog(registry)
	if catalog != "" {
		b.WriteString("\n\n")
		b.WriteString(catalog)
	}

	if loader != nil {
		remaining := promptCharBudget - len(catalog)
		if section := renderSkillSection(loader.ListEnabled(), remaining); section != "" {
			b.WriteString("\n\n")
			b.WriteString(section)
		}
	}

	return b.String()
}

// renderToolCatalog lists every enabled skill and its tools with their
// call signatures and danger markers.
func renderToolCatalog(registry *tools.Registry) string {
	if registry == nil {
		return ""
	}
	var b strings.Builder
	wrote := false
	for _, skill := range registry.ListSkills() {
		if !skill.Enabled || len(skill.Tools) == 0 {
			continue
		}
		if !wrote {
			b.WriteString("## Available Tools\n")
			wrote = true
		}
		fmt.Fprintf(&b, "\n### %s — %s\n", skill.Name, skill.Description)
		for i := range skill.Tools {
			tool := &skill.Tools[i]
			marker := ""
			if tool.Dangerous {
				marker = " (requires confirmation)"
			}
			fmt.Fprintf(&b, "- %s%s — %s\n", tool.Signature(), marker, tool.Description)
		}
	}
	if !wrote {
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderSkillSection renders enabled skill documents up to the character
// budget and the skill-count cap. Anything dropped is announced with a
// truncation notice rather than silently omitted.
func renderSkillSection(list []*skills.AgentSkill, budget int) string {
	if len(list) == 0 {
		return ""
	}
	if budget <= 0 {
		return "## Skills\n\n[skills truncated]"
	}

	var b strings.Builder
	b.WriteString("## Skills\n")
	truncated := false
	rendered := 0

	for _, sk := range list {
		if rendered >= promptMaxSkills {
			truncated = true
			break
		}
		body := strings.TrimSpace(sk.Body)
		if body == "" {
			continue
		}
		entry := fmt.Sprintf("\n### %s\n%s\n", sk.Name, body)
		if b.Len()+len(entry) > budget {
			truncated = true
			break
		}
		b.WriteString(entry)
		rendered++
	}

	if rendered == 0 && !truncated {
		return ""
	}
	if truncated {
		b.WriteString("\n[skills truncated]\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
