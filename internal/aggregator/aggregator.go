// Package aggregator implements the Report Aggregator (spec.md §4.10):
// it turns the raw findings the Analysis Agents produced into the single
// persisted Report for a project.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/archreview/archreview/internal/domain"
	"github.com/archreview/archreview/internal/llm"
	"github.com/archreview/archreview/internal/observability"
	"github.com/archreview/archreview/internal/orchestrator"
	"github.com/archreview/archreview/pkg/version"
)

const maxNotReviewedListed = 20

// Aggregator merges, scores, and persists the Report for one agent run.
// The chat completer is optional: without one, cluster synthesis and the
// cross-file narrative are skipped and the rule-based merge stands alone.
type Aggregator struct {
	chat    llm.ChatCompleter
	store   domain.ReportStore
	metrics *observability.PipelineMetrics
}

// New builds an Aggregator. store may be nil for callers that only want
// the in-memory Report/findings (e.g. the `analyze` CLI one-shot mode).
// metrics may be nil; every PipelineMetrics method is a safe no-op on a
// nil receiver.
func New(chat llm.ChatCompleter, store domain.ReportStore, metrics *observability.PipelineMetrics) *Aggregator {
	return &Aggregator{chat: chat, store: store, metrics: metrics}
}

// Aggregate runs the full spec.md §4.10 procedure over one orchestrator
// run and returns the persisted Report and its ReviewFindings.
func (a *Aggregator) Aggregate(ctx context.Context, projectID string, results []orchestrator.AgentResult, analysisDuration time.Duration) (*domain.Report, []domain.ReviewFinding, error) {
	reportID := uuid.NewString()

	evidenced, skipped := a.dropEmptyDescriptions(results)

	groups := groupByFingerprint(evidenced)

	survivors := make([]domain.ReviewFinding, 0, len(groups))

	for _, group := range groups {
		merged := mergeGroup(group)

		a.synthesizeCluster(ctx, group, &merged)

		if !passesEvidenceGate(merged) {
			skipped = append(skipped, fmt.Sprintf("%s: dropped at evidence gate", fingerprint(group[0])))
			continue
		}

		merged.ID = uuid.NewString()
		merged.ProjectID = projectID
		merged.ReportID = reportID
		survivors = append(survivors, merged)
	}

	sortFindings(survivors)

	narrative := a.synthesizeNarrative(ctx, survivors)

	severityCounts := countBySeverity(survivors)
	healthScore := healthScore(severityCounts)

	perAgentSummaries := summarizePerAgent(results)

	summary := buildSummary(narrative, healthScore, severityCounts, perAgentSummaries, skipped)

	recommendations := a.buildRecommendations(ctx, survivors)

	report := &domain.Report{
		ID:               reportID,
		ProjectID:        projectID,
		Summary:          summary,
		Recommendations:  recommendations,
		HealthScore:      healthScore,
		SeverityCounts:   severityCounts,
		AnalysisDuration: analysisDuration,
		Version:          version.Version,
		RenderedArtifacts: map[string]string{},
		CreatedAt:        time.Now(),
	}

	if a.store != nil {
		if err := a.store.SaveReport(report, survivors); err != nil {
			return nil, nil, fmt.Errorf("aggregator: save report: %w", err)
		}
	}

	a.metrics.RecordHealthScore(ctx, healthScore)
	a.metrics.RecordFindingsPersisted(ctx, severityCountsByName(severityCounts))

	return report, survivors, nil
}

// severityCountsByName converts a domain.Severity-keyed count map to the
// string-keyed shape PipelineMetrics records findings under.
func severityCountsByName(counts map[domain.Severity]int) map[string]int {
	out := make(map[string]int, len(counts))
	for sev, n := range counts {
		out[string(sev)] = n
	}

	return out
}

// dropEmptyDescriptions implements step 1: findings with an empty
// description are dropped, each recorded as skipped with an
// "<agent>: empty description" note.
func (a *Aggregator) dropEmptyDescriptions(results []orchestrator.AgentResult) ([]domain.AgentFinding, []string) {
	var (
		kept    []domain.AgentFinding
		skipped []string
	)

	for _, result := range results {
		for _, f := range result.Findings {
			if strings.TrimSpace(f.Description) == "" {
				skipped = append(skipped, fmt.Sprintf("%s: empty description", result.AgentName))
				continue
			}

			kept = append(kept, f)
		}
	}

	return kept, skipped
}

// fingerprint is the step-2 dedup/merge key:
// (symbol|"") ++ "|" ++ (file_path|"") ++ "|" ++ (category|"").
func fingerprint(f domain.AgentFinding) string {
	return f.Symbol + "|" + f.FilePath + "|" + f.Category
}

func groupByFingerprint(findings []domain.AgentFinding) [][]domain.AgentFinding {
	order := make([]string, 0)
	byKey := make(map[string][]domain.AgentFinding)

	for _, f := range findings {
		key := fingerprint(f)
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}

		byKey[key] = append(byKey[key], f)
	}

	groups := make([][]domain.AgentFinding, 0, len(order))
	for _, key := range order {
		groups = append(groups, byKey[key])
	}

	return groups
}

// mergeGroup implements step 3's deterministic merge rules.
func mergeGroup(group []domain.AgentFinding) domain.ReviewFinding {
	var (
		highCount     int
		confidenceSum float64
		maxConfidence float64
		filePaths     = map[string]struct{}{}
		symbols       = map[string]struct{}{}
		descriptions  []string
		explanations  []string
		suggestedFix  string
		startLine     int
		endLine       int
	)

	severity := domain.SeverityInfo
	category := domain.Category(group[0].Category)

	for _, f := range group {
		sev := domain.Severity(f.Severity)
		if sev.MoreSevereThan(severity) {
			severity = sev
		}

		if sev == domain.SeverityHigh {
			highCount++
		}

		confidenceSum += f.Confidence
		if f.Confidence > maxConfidence {
			maxConfidence = f.Confidence
		}

		if f.FilePath != "" {
			filePaths[f.FilePath] = struct{}{}
		}

		if f.Symbol != "" {
			symbols[f.Symbol] = struct{}{}
		}

		if f.Description != "" {
			descriptions = append(descriptions, f.Description)
		}

		if f.Explanation != "" {
			explanations = append(explanations, f.Explanation)
		}

		if suggestedFix == "" && f.SuggestedFix != "" {
			suggestedFix = f.SuggestedFix
		}

		if startLine == 0 || (f.StartLine > 0 && f.StartLine < startLine) {
			startLine = f.StartLine
		}

		if f.EndLine > endLine {
			endLine = f.EndLine
		}
	}

	avgConfidence := confidenceSum / float64(len(group))
	if (highCount >= 2 || avgConfidence > 0.85) && !severity.MoreSevereThan(domain.SeverityHigh) {
		severity = domain.SeverityHigh
	}

	return domain.ReviewFinding{
		FilePath:     uniqueOrEmpty(filePaths),
		Symbol:       uniqueOrEmpty(symbols),
		StartLine:    startLine,
		EndLine:      endLine,
		Category:     category,
		Severity:     severity,
		Description:  strings.Join(descriptions, "\n---\n"),
		Explanation:  strings.Join(explanations, "\n\n"),
		SuggestedFix: suggestedFix,
		Confidence:   maxConfidence,
	}
}

func uniqueOrEmpty(set map[string]struct{}) string {
	if len(set) != 1 {
		return ""
	}

	for k := range set {
		return k
	}

	return ""
}

// synthesizeCluster attempts the step-2 LLM rewrite of a cluster's
// descriptive text. It never touches severity, confidence, file path, or
// symbol — those follow the deterministic merge rule regardless of what
// the LLM returns. On any failure it leaves merged untouched.
func (a *Aggregator) synthesizeCluster(ctx context.Context, group []domain.AgentFinding, merged *domain.ReviewFinding) {
	if a.chat == nil || len(group) < 2 {
		return
	}

	response, err := a.chat.Complete(ctx, []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "You consolidate overlapping code review findings into one clear finding. Reply with only the consolidated description, then a blank line, then the consolidated explanation."},
		{Role: llm.RoleUser, Content: clusterSynthesisPrompt(group)},
	})
	if err != nil {
		return
	}

	description, explanation := splitConsolidated(response)
	if description == "" {
		return
	}

	merged.Description = description
	if explanation != "" {
		merged.Explanation = explanation
	}
}

func clusterSynthesisPrompt(group []domain.AgentFinding) string {
	var sb strings.Builder

	sb.WriteString("Consolidate these findings about the same location into one finding:\n\n")

	for i, f := range group {
		fmt.Fprintf(&sb, "%d. [%s/%s] %s\n", i+1, f.AgentName, f.Severity, f.Description)
	}

	return sb.String()
}

func splitConsolidated(response string) (description, explanation string) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return "", ""
	}

	parts := strings.SplitN(trimmed, "\n\n", 2)
	description = strings.TrimSpace(parts[0])

	if len(parts) == 2 {
		explanation = strings.TrimSpace(parts[1])
	}

	return description, explanation
}

// passesEvidenceGate implements step 4.
func passesEvidenceGate(f domain.ReviewFinding) bool {
	if f.FilePath != "" {
		return true
	}

	if f.Explanation == "" || f.Confidence < 0.3 {
		return false
	}

	return true
}

// sortFindings applies the ordering guarantee of SPEC_FULL.md §5: the
// Aggregator re-sorts by severity then file path at persistence.
func sortFindings(findings []domain.ReviewFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() > findings[j].Severity.Rank()
		}

		return findings[i].FilePath < findings[j].FilePath
	})
}

func countBySeverity(findings []domain.ReviewFinding) map[domain.Severity]int {
	counts := map[domain.Severity]int{}

	for _, f := range findings {
		counts[f.Severity]++
	}

	return counts
}

// healthScore implements step 9's deterministic scoring formula.
func healthScore(counts map[domain.Severity]int) int {
	score := 100
	score -= min(10*counts[domain.SeverityHigh], 50)
	score -= min(3*counts[domain.SeverityMedium], 30)
	score -= min(1*counts[domain.SeverityLow], 20)

	if score < 0 {
		score = 0
	}

	if score > 100 {
		score = 100
	}

	return score
}

func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}

func assessment(score int) string {
	switch {
	case score >= 90:
		return "excellent"
	case score >= 75:
		return "good"
	case score >= 50:
		return "fair"
	case score >= 25:
		return "needs improvement"
	default:
		return "critical"
	}
}

func summarizePerAgent(results []orchestrator.AgentResult) []string {
	summaries := make([]string, 0, len(results))

	for _, r := range results {
		summaries = append(summaries, fmt.Sprintf("%s: %d finding(s) in %s", r.AgentName, len(r.Findings), r.Duration.Round(time.Millisecond)))
	}

	return summaries
}

// buildSummary implements step 7.
func buildSummary(narrative string, score int, counts map[domain.Severity]int, perAgent []string, skipped []string) string {
	var sb strings.Builder

	if narrative != "" {
		sb.WriteString(narrative)
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "Overall assessment: %s (health score %d/100).\n", assessment(score), score)
	fmt.Fprintf(&sb, "Severity counts: Critical=%d High=%d Medium=%d Low=%d Info=%d\n",
		counts[domain.SeverityCritical], counts[domain.SeverityHigh], counts[domain.SeverityMedium],
		counts[domain.SeverityLow], counts[domain.SeverityInfo])

	if len(perAgent) > 0 {
		sb.WriteString("\nPer-agent summary:\n")
		for _, s := range perAgent {
			sb.WriteString("- ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}

	if len(skipped) > 0 {
		sb.WriteString("\nNot reviewed:\n")

		limit := len(skipped)
		if limit > maxNotReviewedListed {
			limit = maxNotReviewedListed
		}

		for _, s := range skipped[:limit] {
			sb.WriteString("- ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}

	return strings.TrimSpace(sb.String())
}

// synthesizeNarrative implements step 6: one LLM call synthesizes a
// short cross-file narrative from the surviving findings. Empty on
// failure or without a configured chat completer.
func (a *Aggregator) synthesizeNarrative(ctx context.Context, findings []domain.ReviewFinding) string {
	if a.chat == nil || len(findings) == 0 {
		return ""
	}

	response, err := a.chat.Complete(ctx, []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "Write a short (2-4 sentence) narrative summarizing the overall state of this codebase based on the review findings below."},
		{Role: llm.RoleUser, Content: narrativePrompt(findings)},
	})
	if err != nil {
		return ""
	}

	return strings.TrimSpace(response)
}

func narrativePrompt(findings []domain.ReviewFinding) string {
	var sb strings.Builder

	for i, f := range findings {
		fmt.Fprintf(&sb, "%d. [%s/%s] %s\n", i+1, f.Severity, f.Category, f.Description)
	}

	return sb.String()
}

// buildRecommendations implements step 8: LLM-supplied recommendations
// are preferred (deduplicated, first MaxRecommendations); otherwise the
// union of agent-supplied suggested fixes is deduplicated and truncated.
func (a *Aggregator) buildRecommendations(ctx context.Context, findings []domain.ReviewFinding) []string {
	if a.chat != nil && len(findings) > 0 {
		if recs := a.llmRecommendations(ctx, findings); len(recs) > 0 {
			return recs
		}
	}

	return dedupCapped(suggestedFixes(findings), domain.MaxRecommendations)
}

func (a *Aggregator) llmRecommendations(ctx context.Context, findings []domain.ReviewFinding) []string {
	response, err := a.chat.Complete(ctx, []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "List up to 10 concrete, prioritized recommendations as a JSON array of strings, based on these review findings."},
		{Role: llm.RoleUser, Content: narrativePrompt(findings)},
	})
	if err != nil {
		return nil
	}

	recs := parseStringArray(response)

	return dedupCapped(recs, domain.MaxRecommendations)
}

func suggestedFixes(findings []domain.ReviewFinding) []string {
	out := make([]string, 0, len(findings))

	for _, f := range findings {
		if f.SuggestedFix != "" {
			out = append(out, f.SuggestedFix)
		}
	}

	return out
}

// parseStringArray locates the outermost `[ … ]` in an LLM response and
// decodes it as a JSON array of strings, tolerating surrounding prose.
func parseStringArray(response string) []string {
	start := strings.IndexByte(response, '[')
	if start < 0 {
		return nil
	}

	depth := 0

	for i := start; i < len(response); i++ {
		switch response[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				var out []string
				if err := json.Unmarshal([]byte(response[start:i+1]), &out); err != nil {
					return nil
				}

				return out
			}
		}
	}

	return nil
}

func dedupCapped(items []string, limit int) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, limit)

	for _, item := range items {
		if item == "" {
			continue
		}

		if _, ok := seen[item]; ok {
			continue
		}

		seen[item] = struct{}{}
		out = append(out, item)

		if len(out) == limit {
			break
		}
	}

	return out
}
