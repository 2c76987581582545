package skills

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Severity classifies how suspicious a finding is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// ScanFinding is one rule hit. Evidence is the matching source line,
// truncated so logs and API responses stay readable.
type ScanFinding struct {
	RuleID   string   `json:"ruleId"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Evidence string   `json:"evidence"`
	Line     int      `json:"line"`
}

// ScanSummary aggregates the findings of one scan. The scanner never
// decides accept or reject; callers refuse activation when Criticals
// is non-zero.
type ScanSummary struct {
	Findings  []ScanFinding `json:"findings"`
	Criticals int           `json:"criticals"`
	Warnings  int           `json:"warnings"`
	Infos     int           `json:"infos"`
}

const evidenceLimit = 120

// scanRule is one line-level check. The optional check func refines a
// regex hit, e.g. to let standard WebSocket ports through.
type scanRule struct {
	id       string
	severity Severity
	message  string
	re       *regexp.Regexp
	check    func(match []string) bool
}

// scanRules is the fixed rule order. Order matters only for finding
// order in the summary; every rule sees every line.
var scanRules = []scanRule{
	{
		id:       "shell-exec",
		severity: SeverityCritical,
		message:  "runs shell commands",
		re:       regexp.MustCompile(`child_process|execSync|spawnSync|\bexec\s*\(|\bspawn\s*\(|os\.system|subprocess\.(run|call|Popen)|\bpopen\s*\(|\b(sh|bash|zsh)\s+-c\b`),
	},
	{
		id:       "dynamic-code",
		severity: SeverityCritical,
		message:  "evaluates dynamically constructed code",
		re:       regexp.MustCompile(`\beval\s*\(|new\s+Function\s*\(`),
	},
	{
		id:       "crypto-mining",
		severity: SeverityCritical,
		message:  "matches a known crypto-mining signature",
		re:       regexp.MustCompile(`(?i)coinhive|cryptonight|stratum\+tcp|xmrig|minerd\b|nicehash`),
	},
	{
		id:       "ws-nonstandard-port",
		severity: SeverityWarn,
		message:  "opens a WebSocket on a non-standard port",
		re:       regexp.MustCompile(`wss?://[^\s"']+:(\d+)`),
		check: func(match []string) bool {
			return match[1] != "80" && match[1] != "443"
		},
	},
	{
		id:       "env-access",
		severity: SeverityWarn,
		message:  "reads environment variables",
		re:       regexp.MustCompile(`process\.env|os\.environ\b|os\.Getenv|\bgetenv\s*\(|\bprintenv\b`),
	},
	{
		id:       "fs-access",
		severity: SeverityInfo,
		message:  "accesses the filesystem",
		re:       regexp.MustCompile(`(?i)readfile|writefile|createwritestream|fs\.(rm|unlink|mkdir|rename)|os\.(remove|mkdirall|openfile)|\brm\s+-rf?\b`),
	},
	{
		id:       "hex-obfuscation",
		severity: SeverityWarn,
		message:  "contains long hex sequences typical of obfuscated payloads",
		re:       regexp.MustCompile(`(\\x[0-9a-fA-F]{2}){6,}|\b[0-9a-fA-F]{48,}\b`),
	},
}

// Scan runs the rule list over a script, line by line. Each rule fires
// at most once, on its first matching line, so a repeated pattern does
// not flood the summary.
func Scan(script string) *ScanSummary {
	summary := &ScanSummary{}
	fired := make(map[string]bool, len(scanRules))

	for lineNo, line := range strings.Split(script, "\n") {
		for _, rule := range scanRules {
			if fired[rule.id] {
				continue
			}
			match := rule.re.FindStringSubmatch(line)
			if match == nil {
				continue
			}
			if rule.check != nil && !rule.check(match) {
				continue
			}
			fired[rule.id] = true
			summary.add(ScanFinding{
				RuleID:   rule.id,
				Severity: rule.severity,
				Message:  rule.message,
				Evidence: truncateLine(line),
				Line:     lineNo + 1,
			})
		}
	}
	return summary
}

// ScanSkill scans the executable surface of a skill document: fenced
// code blocks from the body plus any install commands in metadata.
// Prose never triggers findings.
func ScanSkill(skill *AgentSkill) *ScanSummary {
	return Scan(skill.Script())
}

// Script assembles the scannable text of a skill: fenced code blocks
// joined with install commands.
func (s *AgentSkill) Script() string {
	parts := extractFencedBlocks(s.Body)
	if s.Metadata != nil {
		for _, spec := range s.Metadata.Install {
			if spec.Command != "" {
				parts = append(parts, spec.Command)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func (s *ScanSummary) add(f ScanFinding) {
	s.Findings = append(s.Findings, f)
	switch f.Severity {
	case SeverityCritical:
		s.Criticals++
	case SeverityWarn:
		s.Warnings++
	case SeverityInfo:
		s.Infos++
	}
}

func truncateLine(line string) string {
	line = strings.TrimSpace(line)
	if len(line) <= evidenceLimit {
		return line
	}
	return line[:evidenceLimit] + "..."
}

var md = goldmark.New()

// extractFencedBlocks pulls the content of every fenced code block out
// of a markdown body using goldmark's parser. Indented code blocks are
// ignored; only explicit fences count as script.
func extractFencedBlocks(body string) []string {
	if body == "" {
		return nil
	}
	src := []byte(body)
	doc := md.Parser().Parse(text.NewReader(src))

	var blocks []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if cb, ok := n.(*ast.FencedCodeBlock); ok {
			var sb strings.Builder
			lines := cb.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(src))
			}
			blocks = append(blocks, strings.TrimRight(sb.String(), "\n"))
		}
		return ast.WalkContinue, nil
	})
	return blocks
}
