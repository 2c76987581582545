package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	agentcfg "github.com/openclaw/claw/internal/agent/config"
	"github.com/openclaw/claw/internal/agent/skills"
	"github.com/openclaw/claw/internal/agent/tools"
)

// SkillsCmd creates the skills management command.
func SkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage tool skills and agent skills",
		Long: `Tool skills group the callable tools (files, shell, web, ...).
Agent skills are SKILL.md documents that extend the system prompt; they
load from ` + "`<data dir>/skills/`" + ` and ` + "`./.claw/skills/`" + `.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List skills and their enabled state",
		Run: func(cmd *cobra.Command, args []string) {
			listAllSkills(loadConfig())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Show a skill's tools or document",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			showSkill(loadConfig(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "toggle [id]",
		Short: "Enable or disable a skill (persists across runs)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			toggleSkill(loadConfig(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "scan [file]",
		Short: "Scan a skill document or command catalog for risky patterns",
		Long: `Scan runs the security rules over a SKILL.md document (fenced code
blocks and install commands) or a command-tool catalog (.json). Exit
status 1 means critical findings; such a skill is refused at
registration.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			scanSkillFile(args[0])
		},
	})

	return cmd
}

// listAllSkills prints tool skills, then agent skills.
func listAllSkills(cfg *agentcfg.Config) {
	registry, settings := buildRegistry(cfg)
	loader := buildLoader(cfg, settings)

	fmt.Println("Tool skills:")
	for _, s := range registry.ListSkills() {
		status := "\033[32m✓\033[0m"
		if !s.Enabled {
			status = "\033[31m✗\033[0m"
		}
		fmt.Printf("  %s %s — %s (%d tools)\n", status, s.ID, s.Description, len(s.Tools))
	}

	agentSkills := loader.List()
	fmt.Println()
	if len(agentSkills) == 0 {
		fmt.Println("No agent skills.")
		fmt.Printf("Create %s to add one.\n", filepath.Join(cfg.SkillsDir(), "<name>", skills.SkillFileName))
		return
	}
	fmt.Println("Agent skills:")
	for _, s := range agentSkills {
		status := "\033[32m✓\033[0m"
		if !s.Enabled {
			status = "\033[31m✗\033[0m"
		}
		fmt.Printf("  %s %s (%s) — %s\n", status, s.Name, s.Source, s.Description)
	}
}

// showSkill prints one skill's detail: tool signatures for a tool
// skill, the document for an agent skill.
func showSkill(cfg *agentcfg.Config, id string) {
	registry, settings := buildRegistry(cfg)

	if skill, ok := registry.GetSkill(id); ok {
		fmt.Printf("Skill: %s (%s)\n", skill.Name, skill.ID)
		fmt.Printf("Description: %s\n", skill.Description)
		fmt.Printf("Enabled: %v\n", skill.Enabled)
		fmt.Println("\nTools:")
		for i := range skill.Tools {
			t := &skill.Tools[i]
			marker := ""
			if t.Dangerous {
				marker = " \033[33m(requires confirmation)\033[0m"
			}
			fmt.Printf("  %s%s\n      %s\n", t.Signature(), marker, t.Description)
		}
		return
	}

	loader := buildLoader(cfg, settings)
	if skill, ok := loader.Get(id); ok {
		fmt.Printf("Agent skill: %s\n", skill.Name)
		fmt.Printf("Description: %s\n", skill.Description)
		fmt.Printf("Source: %s (%s)\n", skill.Source, skill.FilePath)
		fmt.Printf("Enabled: %v\n", skill.Enabled)
		fmt.Printf("\n%s\n", skill.Body)
		return
	}

	fmt.Fprintf(os.Stderr, "Unknown skill: %s\n", id)
	os.Exit(1)
}

// toggleSkill flips a skill's enabled state through the shared
// settings store, so the change survives into serve mode.
func toggleSkill(cfg *agentcfg.Config, id string) {
	registry, settings := buildRegistry(cfg)

	if skill, ok := registry.GetSkill(id); ok {
		enabled := !skill.Enabled
		registry.SetEnabled(id, enabled)
		fmt.Printf("%s: enabled=%v\n", id, enabled)
		return
	}

	loader := buildLoader(cfg, settings)
	if skill, ok := loader.Get(id); ok {
		enabled := !skill.Enabled
		loader.SetEnabled(id, enabled)
		if err := settings.SetEnabled(id, enabled); err != nil {
			fmt.Fprintf(os.Stderr, "Error persisting toggle: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s: enabled=%v\n", id, enabled)
		return
	}

	fmt.Fprintf(os.Stderr, "Unknown skill: %s\n", id)
	os.Exit(1)
}

// scanSkillFile scans a skill source and prints the findings.
func scanSkillFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		os.Exit(1)
	}

	var summary *skills.ScanSummary
	if strings.EqualFold(filepath.Ext(path), ".json") {
		_, commands, err := tools.ParseCommandSkill(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing catalog: %v\n", err)
			os.Exit(1)
		}
		summary = skills.Scan(strings.Join(commands, "\n"))
	} else {
		skill := skills.ParseSkillMD(data, path, skills.SourceUser)
		if skill == nil {
			fmt.Fprintf(os.Stderr, "%s is not a skill document\n", path)
			os.Exit(1)
		}
		summary = skills.ScanSkill(skill)
	}

	if len(summary.Findings) == 0 {
		fmt.Println("\033[32m✓ No findings.\033[0m")
		return
	}

	for _, f := range summary.Findings {
		color := "\033[90m"
		switch f.Severity {
		case skills.SeverityCritical:
			color = "\033[31m"
		case skills.SeverityWarn:
			color = "\033[33m"
		}
		fmt.Printf("%s[%s] %s\033[0m (line %d)\n    %s\n", color, f.Severity, f.Message, f.Line, f.Evidence)
	}

	fmt.Printf("\n%d critical, %d warnings, %d info\n", summary.Criticals, summary.Warnings, summary.Infos)
	if summary.Criticals > 0 {
		fmt.Println("\033[31mThis skill would be refused at registration.\033[0m")
		os.Exit(1)
	}
}
