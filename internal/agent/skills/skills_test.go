package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseSkillMD(t *testing.T) {
	content := `---
name: weather
description: Fetch and summarize forecasts
metadata: {"openclaw": {"emoji": "W", "requires": {"bins": ["curl"], "config": ["WEATHER_API_KEY"]}}, "other": "dropped"}
allowed-tools: ["http_get", "read_file"]
---

# Weather

Fetch the forecast and summarize it.
`

	skill := ParseSkillMD([]byte(content), "weather/SKILL.md", SourceUser)
	if skill == nil {
		t.Fatal("ParseSkillMD() returned nil for a valid document")
	}

	if skill.Name != "weather" {
		t.Errorf("Name = %q, want %q", skill.Name, "weather")
	}
	if skill.Description != "Fetch and summarize forecasts" {
		t.Errorf("Description = %q, want %q", skill.Description, "Fetch and summarize forecasts")
	}
	if skill.Source != SourceUser {
		t.Errorf("Source = %q, want %q", skill.Source, SourceUser)
	}
	if skill.FilePath != "weather/SKILL.md" {
		t.Errorf("FilePath = %q, want %q", skill.FilePath, "weather/SKILL.md")
	}
	if !skill.Enabled {
		t.Error("parsed skills should default to enabled")
	}

	if skill.Metadata == nil {
		t.Fatal("Metadata should be parsed")
	}
	if skill.Metadata.Emoji != "W" {
		t.Errorf("Metadata.Emoji = %q, want %q", skill.Metadata.Emoji, "W")
	}
	if skill.Metadata.Requires == nil || len(skill.Metadata.Requires.Bins) != 1 {
		t.Errorf("Metadata.Requires.Bins = %v, want [curl]", skill.Metadata.Requires)
	}

	if len(skill.AllowedTools) != 2 || skill.AllowedTools[0] != "http_get" {
		t.Errorf("AllowedTools = %v, want [http_get read_file]", skill.AllowedTools)
	}

	if skill.Body[:9] != "# Weather" {
		t.Errorf("Body should start with '# Weather', got %q", skill.Body[:20])
	}
}

func TestParseSkillMDNoFrontmatter(t *testing.T) {
	content := `# Just Markdown

No frontmatter here.
`
	if skill := ParseSkillMD([]byte(content), "x.md", SourceUser); skill != nil {
		t.Errorf("expected nil for document without frontmatter, got %+v", skill)
	}
}

func TestParseSkillMDNoName(t *testing.T) {
	content := `---
description: nameless
---

Body.
`
	if skill := ParseSkillMD([]byte(content), "x.md", SourceUser); skill != nil {
		t.Errorf("expected nil for document without name, got %+v", skill)
	}
}

func TestParseSkillMDMalformedMetadata(t *testing.T) {
	content := `---
name: broken-meta
metadata: {not json at all
---

Body.
`
	skill := ParseSkillMD([]byte(content), "x.md", SourceUser)
	if skill == nil {
		t.Fatal("malformed metadata should not reject the skill")
	}
	if skill.Metadata != nil {
		t.Errorf("Metadata = %+v, want nil for malformed JSON", skill.Metadata)
	}
}

func TestParseSkillMDMetadataWithoutOpenclaw(t *testing.T) {
	content := `---
name: plain-meta
metadata: {"version": "2.0", "author": "someone"}
---

Body.
`
	skill := ParseSkillMD([]byte(content), "x.md", SourceUser)
	if skill == nil {
		t.Fatal("expected a skill")
	}
	if skill.Metadata != nil {
		t.Errorf("Metadata = %+v, want nil when no openclaw object present", skill.Metadata)
	}
}

func TestParseAllowedToolsCommaFallback(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"json array", `["a", "b"]`, []string{"a", "b"}},
		{"comma list", `read_file, write_file`, []string{"read_file", "write_file"}},
		{"quoted comma list", `"read_file", "write_file"`, []string{"read_file", "write_file"}},
		{"bracketed non-json", `[read_file, write_file]`, []string{"read_file", "write_file"}},
		{"empty", ``, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseAllowedTools(tt.value)
			if len(got) != len(tt.want) {
				t.Fatalf("parseAllowedTools(%q) = %v, want %v", tt.value, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseAllowedTools(%q)[%d] = %q, want %q", tt.value, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseSkillMDBodyRoundTrip(t *testing.T) {
	body := "# Title\n\nParagraph one.\n\n```sh\necho hello\n```"
	content := "---\nname: round-trip\n---\n\n" + body + "\n"

	skill := ParseSkillMD([]byte(content), "x.md", SourceBuiltin)
	if skill == nil {
		t.Fatal("expected a skill")
	}
	if skill.Body != body {
		t.Errorf("Body = %q, want %q", skill.Body, body)
	}
}

func TestParseSkillMDWindowsLineEndings(t *testing.T) {
	content := "---\r\nname: crlf-skill\r\ndescription: carriage returns\r\n---\r\n\r\nBody text.\r\n"

	skill := ParseSkillMD([]byte(content), "x.md", SourceUser)
	if skill == nil {
		t.Fatal("expected a skill from CRLF document")
	}
	if skill.Name != "crlf-skill" {
		t.Errorf("Name = %q, want %q", skill.Name, "crlf-skill")
	}
	if skill.Description != "carriage returns" {
		t.Errorf("Description = %q, want %q", skill.Description, "carriage returns")
	}
}

// ====
// Loader
// ====

func writeSkill(t *testing.T, dir, name, description string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0755); err != nil {
		t.Fatal(err)
	}
	content := "---\nname: " + name + "\ndescription: " + description + "\n---\n\nInstructions for " + name + ".\n"
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "alpha", "first")
	writeSkill(t, dir, "beta", "second")

	loader := NewLoader(dir, "")
	skills := loader.Load(SourceUser)
	if len(skills) != 2 {
		t.Fatalf("Load() returned %d skills, want 2", len(skills))
	}
	// Sorted by name
	if skills[0].Name != "alpha" || skills[1].Name != "beta" {
		t.Errorf("skills = [%s %s], want [alpha beta]", skills[0].Name, skills[1].Name)
	}

	skill, ok := loader.Get("alpha")
	if !ok {
		t.Fatal("Get() failed to find alpha")
	}
	if skill.Source != SourceUser {
		t.Errorf("Source = %q, want %q", skill.Source, SourceUser)
	}
}

func TestLoaderCacheAndInvalidate(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "cached", "original")

	loader := NewLoader(dir, "")
	loader.Load(SourceUser)

	// Rewrite on disk; the cache must not notice until invalidated.
	writeSkill(t, dir, "cached", "updated")

	skill, _ := loader.Get("cached")
	if skill.Description != "original" {
		t.Errorf("Description = %q, want cached %q", skill.Description, "original")
	}

	loader.Invalidate(SourceUser)
	skill, _ = loader.Get("cached")
	if skill.Description != "updated" {
		t.Errorf("Description = %q, want reloaded %q", skill.Description, "updated")
	}
}

func TestLoaderShadowing(t *testing.T) {
	userDir := t.TempDir()
	projectDir := t.TempDir()
	writeSkill(t, userDir, "shared", "from user")
	writeSkill(t, projectDir, "shared", "from project")
	writeSkill(t, userDir, "user-only", "only in user")

	loader := NewLoader(userDir, projectDir)
	list := loader.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d skills, want 2 (shared deduplicated)", len(list))
	}

	shared, _ := loader.Get("shared")
	if shared.Source != SourceProject {
		t.Errorf("shared.Source = %q, want %q (project shadows user)", shared.Source, SourceProject)
	}
}

func TestLoaderBuiltins(t *testing.T) {
	loader := NewLoader("", "")
	loader.RegisterBuiltin(&AgentSkill{Name: "builtin-skill", Description: "shipped", Enabled: true, Source: SourceBuiltin})

	if loader.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", loader.Count())
	}
	skill, ok := loader.Get("builtin-skill")
	if !ok || skill.Source != SourceBuiltin {
		t.Errorf("Get(builtin-skill) = %+v, %v", skill, ok)
	}
}

func TestLoaderSetEnabledSurvivesInvalidation(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "toggled", "desc")

	loader := NewLoader(dir, "")
	loader.Load(SourceUser)

	if !loader.SetEnabled("toggled", false) {
		t.Fatal("SetEnabled() should find the skill")
	}
	if enabled := loader.ListEnabled(); len(enabled) != 0 {
		t.Errorf("ListEnabled() = %d skills, want 0", len(enabled))
	}

	loader.Invalidate(SourceUser)
	skill, _ := loader.Get("toggled")
	if skill.Enabled {
		t.Error("disabled state should survive cache invalidation")
	}

	loader.SetEnabled("toggled", true)
	skill, _ = loader.Get("toggled")
	if !skill.Enabled {
		t.Error("re-enable should restore the skill")
	}
}

func TestLoaderSetDisabledSkills(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "one", "a")
	writeSkill(t, dir, "two", "b")

	loader := NewLoader(dir, "")
	loader.Load(SourceUser)
	loader.SetDisabledSkills([]string{"two"})

	one, _ := loader.Get("one")
	two, _ := loader.Get("two")
	if !one.Enabled {
		t.Error("one should stay enabled")
	}
	if two.Enabled {
		t.Error("two should be disabled")
	}
}

func TestLoaderEmptyDirs(t *testing.T) {
	loader := NewLoader("/nonexistent/path", "")
	if loader.Count() != 0 {
		t.Errorf("Count() = %d, want 0 for nonexistent dir", loader.Count())
	}
}

func TestLoaderSkipsNonSkillDocuments(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "real", "a skill")

	junkDir := filepath.Join(dir, "junk")
	if err := os.MkdirAll(junkDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(junkDir, "SKILL.md"), []byte("# no frontmatter\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(junkDir, "README.md"), []byte("---\nname: readme\n---\nnot a SKILL.md\n"), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(dir, "")
	if loader.Count() != 1 {
		t.Errorf("Count() = %d, want 1 (junk skipped)", loader.Count())
	}
}
