// Package agents implements the four Analysis Agent variants of spec.md
// §4.8, plus the shared LLM-response parsing rules they all follow.
package agents

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/archreview/archreview/internal/domain"
)

// Agent analyzes one project's working directory and returns raw,
// not-yet-normalized findings.
type Agent interface {
	Name() string
	Analyze(ctx context.Context, projectID, workingDir string) ([]domain.AgentFinding, error)
}

// rawFinding mirrors the JSON shape an LLM is asked to emit: a flat object
// with free-form severity/category strings, per spec.md §4.8.
type rawFinding struct {
	FilePath        string  `json:"file_path"`
	Symbol          string  `json:"symbol"`
	StartLine       int     `json:"start_line"`
	EndLine         int     `json:"end_line"`
	Category        string  `json:"category"`
	Severity        string  `json:"severity"`
	Description     string  `json:"description"`
	Explanation     string  `json:"explanation"`
	SuggestedFix    string  `json:"suggested_fix"`
	FixedSnippet    string  `json:"fixed_snippet"`
	OriginalSnippet string  `json:"original_snippet"`
	Confidence      float64 `json:"confidence"`
}

// ParseFindingsJSON locates the outermost `[ … ]` in an LLM response and
// deserializes it into AgentFindings, normalizing severity/category via
// the closed enums and dropping findings that fail the evidence gate
// (spec.md §4.8's "a finding without a file path and without a symbol,
// with confidence < 0.3, is dropped").
func ParseFindingsJSON(agentName, response string) []domain.AgentFinding {
	array := extractOutermostArray(response)
	if array == "" {
		return nil
	}

	var raws []rawFinding

	if err := json.Unmarshal([]byte(array), &raws); err != nil {
		return nil
	}

	findings := make([]domain.AgentFinding, 0, len(raws))

	for _, r := range raws {
		f := domain.AgentFinding{
			AgentName:       agentName,
			FilePath:        r.FilePath,
			Symbol:          r.Symbol,
			StartLine:       r.StartLine,
			EndLine:         r.EndLine,
			Category:        string(domain.NormalizeCategory(r.Category)),
			Severity:        string(domain.NormalizeSeverity(r.Severity)),
			Description:     r.Description,
			Explanation:     r.Explanation,
			SuggestedFix:    r.SuggestedFix,
			FixedSnippet:    r.FixedSnippet,
			OriginalSnippet: r.OriginalSnippet,
			Confidence:      r.Confidence,
		}

		if !f.IsEvidenced() {
			continue
		}

		findings = append(findings, f)
	}

	return findings
}

// extractOutermostArray returns the substring spanning the first `[` and
// its matching `]`, tolerating prose or markdown fencing around the JSON
// an LLM may add despite instructions not to.
func extractOutermostArray(s string) string {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return ""
	}

	depth := 0

	for i := start; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}
