package agents

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/archreview/archreview/internal/domain"
	"github.com/archreview/archreview/internal/llm"
)

// securityPattern is one regex-matched vulnerability class in the fixed
// catalog of spec.md §4.8.
type securityPattern struct {
	name     string
	category domain.Category
	severity domain.Severity
	re       *regexp.Regexp
}

// securityPatterns is the fixed vulnerability-class catalog, grounded on
// the teacher's regexp.MustCompile var-table style
// (internal/analyzers/sentiment/analyzer.go).
var securityPatterns = []securityPattern{
	{
		name: "SQL injection", category: domain.CategorySecurity, severity: domain.SeverityHigh,
		re: regexp.MustCompile(`(?i)(SELECT|INSERT|UPDATE|DELETE)\s.*["'\x60]\s*\+\s*\w+|fmt\.Sprintf\([^)]*\b(SELECT|INSERT|UPDATE|DELETE)\b`),
	},
	{
		name: "hardcoded secret", category: domain.CategorySecurity, severity: domain.SeverityHigh,
		re: regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*["'][A-Za-z0-9+/=_-]{8,}["']`),
	},
	{
		name: "weak cryptography", category: domain.CategorySecurity, severity: domain.SeverityMedium,
		re: regexp.MustCompile(`(?i)\b(md5|sha1|des|rc4)\b`),
	},
	{
		name: "insecure randomness", category: domain.CategorySecurity, severity: domain.SeverityMedium,
		re: regexp.MustCompile(`math/rand|Math\.random\(\)`),
	},
	{
		name: "path traversal", category: domain.CategorySecurity, severity: domain.SeverityHigh,
		re: regexp.MustCompile(`filepath\.Join\([^)]*\br\.(URL|Form)\b|os\.Open\([^)]*\.\.`),
	},
	{
		name: "command injection", category: domain.CategorySecurity, severity: domain.SeverityHigh,
		re: regexp.MustCompile(`exec\.Command\([^)]*\+|os\.system\(|subprocess\.(call|run)\([^)]*shell\s*=\s*True`),
	},
	{
		name: "cross-site scripting", category: domain.CategorySecurity, severity: domain.SeverityMedium,
		re: regexp.MustCompile(`innerHTML\s*=|dangerouslySetInnerHTML`),
	},
	{
		name: "insecure deserialization", category: domain.CategorySecurity, severity: domain.SeverityMedium,
		re: regexp.MustCompile(`pickle\.loads?\(|yaml\.Unsafe|ObjectInputStream`),
	},
	{
		name: "debug code left in", category: domain.CategorySecurity, severity: domain.SeverityLow,
		re: regexp.MustCompile(`(?i)\b(console\.log|debugger|pdb\.set_trace|DEBUG\s*=\s*True)\b`),
	},
	{
		name: "disabled TLS verification", category: domain.CategorySecurity, severity: domain.SeverityHigh,
		re: regexp.MustCompile(`InsecureSkipVerify\s*:\s*true|verify\s*=\s*False|rejectUnauthorized\s*:\s*false`),
	},
	{
		name: "exposed endpoint", category: domain.CategorySecurity, severity: domain.SeverityLow,
		re: regexp.MustCompile(`(?i)0\.0\.0\.0|AllowAllOrigins|Access-Control-Allow-Origin:\s*\*`),
	},
}

var sensitiveFileMarkers = []string{".pem", ".key", ".pfx"}

var sensitiveFileNames = []string{"id_rsa", ".env", "secrets.json"}

var sensitiveFileRE = regexp.MustCompile(`^appsettings\..+\.json$`)

var securityKeywordRE = regexp.MustCompile(`(?i)(auth|security|crypto|login|session|token)`)

const maxSecurityLLMFiles = 10

// SecurityAgent scans source text for a fixed vulnerability-class
// catalog, flags sensitive filenames, and hands files whose paths look
// auth/security/crypto related to the LLM for deeper review (spec.md
// §4.8).
type SecurityAgent struct {
	chat llm.ChatCompleter
}

// NewSecurityAgent builds a SecurityAgent. chat may be nil, in which case
// the targeted LLM pass is skipped and only the regex/filename findings
// are produced.
func NewSecurityAgent(chat llm.ChatCompleter) *SecurityAgent {
	return &SecurityAgent{chat: chat}
}

func (a *SecurityAgent) Name() string { return "security" }

func (a *SecurityAgent) Analyze(ctx context.Context, _, workingDir string) ([]domain.AgentFinding, error) {
	var findings []domain.AgentFinding

	var securityPathCandidates []string

	err := filepath.WalkDir(workingDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}

			return nil
		}

		rel, relErr := filepath.Rel(workingDir, path)
		if relErr != nil {
			rel = path
		}

		if isSensitiveFile(d.Name()) {
			findings = append(findings, domain.AgentFinding{
				AgentName:   "security",
				FilePath:    rel,
				Category:    string(domain.CategorySecurity),
				Severity:    string(domain.SeverityHigh),
				Description: "sensitive file checked into the repository: " + d.Name(),
				Confidence:  0.9,
			})
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}

		findings = append(findings, scanContent(rel, string(content))...)

		if securityKeywordRE.MatchString(rel) {
			securityPathCandidates = append(securityPathCandidates, rel)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if a.chat != nil && len(securityPathCandidates) > 0 {
		if len(securityPathCandidates) > maxSecurityLLMFiles {
			securityPathCandidates = securityPathCandidates[:maxSecurityLLMFiles]
		}

		llmFindings, llmErr := a.analyzeWithLLM(ctx, workingDir, securityPathCandidates)
		if llmErr == nil {
			findings = append(findings, llmFindings...)
		}
	}

	return findings, nil
}

func isSensitiveFile(name string) bool {
	for _, marker := range sensitiveFileMarkers {
		if strings.HasSuffix(name, marker) {
			return true
		}
	}

	for _, n := range sensitiveFileNames {
		if name == n {
			return true
		}
	}

	return sensitiveFileRE.MatchString(name)
}

func scanContent(relPath, content string) []domain.AgentFinding {
	var findings []domain.AgentFinding

	for _, pattern := range securityPatterns {
		if pattern.re.MatchString(content) {
			findings = append(findings, domain.AgentFinding{
				AgentName:   "security",
				FilePath:    relPath,
				Category:    string(pattern.category),
				Severity:    string(pattern.severity),
				Description: pattern.name + " pattern matched in " + relPath,
				Confidence:  0.6,
			})
		}
	}

	return findings
}

func (a *SecurityAgent) analyzeWithLLM(ctx context.Context, workingDir string, relPaths []string) ([]domain.AgentFinding, error) {
	var sb strings.Builder

	sb.WriteString("Review the following security-sensitive files for vulnerabilities. ")
	sb.WriteString("Respond with a JSON array of findings, each an object with file_path, symbol, ")
	sb.WriteString("start_line, end_line, category, severity, description, explanation, suggested_fix, confidence.\n\n")

	for _, rel := range relPaths {
		content, err := os.ReadFile(filepath.Join(workingDir, rel))
		if err != nil {
			continue
		}

		sb.WriteString("=== ")
		sb.WriteString(rel)
		sb.WriteString(" ===\n")
		sb.Write(content)
		sb.WriteString("\n\n")
	}

	response, err := a.chat.Complete(ctx, []llm.ChatMessage{
		{Role: llm.RoleUser, Content: sb.String()},
	})
	if err != nil {
		return nil, err
	}

	return ParseFindingsJSON("security", response), nil
}
