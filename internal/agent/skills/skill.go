// Package skills provides Markdown-based agent skill documents and the
// security scanner that gates custom submissions.
//
// A skill document is flat key:value frontmatter followed by a markdown
// body — the body is what gets injected into the system prompt:
//
//	---
//	name: weather
//	description: Fetch and summarize forecasts
//	metadata: {"openclaw": {"emoji": "🌤️", "requires": {"bins": ["curl"]}}}
//	allowed-tools: ["http_get"]
//	---
//
//	# Weather
//
//	Instructions for the agent...
package skills

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Source identifies where a skill document came from.
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourceUser    Source = "user"
	SourceProject Source = "project"
)

// AgentSkill is a skill definition parsed from a SKILL.md document.
type AgentSkill struct {
	// Name is the unique identifier for the skill
	Name string `json:"name"`

	// Description explains what the skill does (one-liner for catalog)
	Description string `json:"description"`

	// Body is the markdown body — the actual skill instructions.
	// Not frontmatter; everything after the closing fence, trimmed.
	Body string `json:"body"`

	// Metadata is the skill's openclaw block, when present
	Metadata *Metadata `json:"metadata,omitempty"`

	// AllowedTools restricts which tools the skill may reference.
	// Empty means no restriction.
	AllowedTools []string `json:"allowedTools,omitempty"`

	// Enabled allows disabling skills without removing them
	Enabled bool `json:"enabled"`

	// Source records which tier the document came from
	Source Source `json:"source"`

	// FilePath stores where this skill was loaded from
	FilePath string `json:"filePath,omitempty"`
}

// Metadata is the nested openclaw object of the frontmatter metadata
// field. Everything outside that object is dropped at parse time.
type Metadata struct {
	Emoji    string        `json:"emoji,omitempty"`
	Requires *Requires     `json:"requires,omitempty"`
	Install  []InstallSpec `json:"install,omitempty"`
}

// Requires lists what must exist on the host before the skill is useful.
type Requires struct {
	Bins   []string `json:"bins,omitempty"`
	Config []string `json:"config,omitempty"`
}

// InstallSpec describes one way to satisfy a missing requirement.
type InstallSpec struct {
	Kind    string   `json:"kind,omitempty"`
	Formula string   `json:"formula,omitempty"`
	Command string   `json:"command,omitempty"`
	Bins    []string `json:"bins,omitempty"`
}

// ParseSkillMD parses a SKILL.md document. A document without a
// frontmatter block or without a name is not a skill: the result is
// nil, never an error, so callers can walk directories of mixed
// markdown without special-casing.
func ParseSkillMD(data []byte, path string, source Source) *AgentSkill {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil
	}

	fields := parseFlatFields(frontmatter)
	name := fields["name"]
	if name == "" {
		return nil
	}

	return &AgentSkill{
		Name:         name,
		Description:  fields["description"],
		Body:         string(bytes.TrimSpace(body)),
		Metadata:     parseMetadata(fields["metadata"]),
		AllowedTools: parseAllowedTools(fields["allowed-tools"]),
		Enabled:      true,
		Source:       source,
		FilePath:     path,
	}
}

// splitFrontmatter separates the frontmatter block from the markdown
// body. Frontmatter must be enclosed in --- markers at the start of
// the document.
func splitFrontmatter(data []byte) (frontmatter []byte, body []byte, err error) {
	if !bytes.HasPrefix(data, []byte("---")) {
		return nil, nil, fmt.Errorf("document must start with --- frontmatter")
	}

	rest := data[3:]

	// Skip any whitespace/newline after opening ---
	rest = bytes.TrimLeft(rest, " \t")
	if len(rest) > 0 && rest[0] == '\n' {
		rest = rest[1:]
	} else if len(rest) > 1 && rest[0] == '\r' && rest[1] == '\n' {
		rest = rest[2:]
	}

	closingIdx := bytes.Index(rest, []byte("\n---"))
	if closingIdx == -1 {
		closingIdx = bytes.Index(rest, []byte("\r\n---"))
		if closingIdx == -1 {
			return nil, nil, fmt.Errorf("missing closing --- for frontmatter")
		}
	}

	frontmatter = rest[:closingIdx]
	body = rest[closingIdx+4:]

	// Skip any whitespace/newline after closing ---
	body = bytes.TrimLeft(body, " \t")
	if len(body) > 0 && body[0] == '\n' {
		body = body[1:]
	} else if len(body) > 1 && body[0] == '\r' && body[1] == '\n' {
		body = body[2:]
	}

	return frontmatter, body, nil
}

// parseFlatFields reads frontmatter as flat key: value lines. Nested
// YAML is out of contract; a line without a colon is skipped. Values
// keep everything after the first colon so JSON blobs survive intact.
func parseFlatFields(frontmatter []byte) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(string(frontmatter), "\n") {
		line = strings.TrimRight(line, "\r")
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		fields[key] = trimQuotes(value)
	}
	return fields
}

// trimQuotes strips one matching pair of surrounding quotes.
func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// parseMetadata decodes the metadata field and keeps only the nested
// openclaw object. Malformed JSON yields nil metadata, not a rejected
// skill.
func parseMetadata(value string) *Metadata {
	if value == "" {
		return nil
	}
	var wrapper struct {
		OpenClaw *Metadata `json:"openclaw"`
	}
	if err := json.Unmarshal([]byte(value), &wrapper); err != nil {
		return nil
	}
	return wrapper.OpenClaw
}

// parseAllowedTools decodes the allowed-tools field: a JSON array when
// it parses, otherwise a comma list with quotes and brackets trimmed.
func parseAllowedTools(value string) []string {
	if value == "" {
		return nil
	}
	var arr []string
	if err := json.Unmarshal([]byte(value), &arr); err == nil {
		return arr
	}
	var tools []string
	for _, part := range strings.Split(value, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'[]`)
		if part != "" {
			tools = append(tools, part)
		}
	}
	return tools
}
