package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archreview/archreview/internal/cluster"
	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/domain"
	"github.com/archreview/archreview/internal/llm"
	"github.com/archreview/archreview/internal/staticanalysis"
)

const topFilesInClusterSummary = 5

// Rule-based complexity/size thresholds for phase 1's static findings.
const (
	highComplexityThreshold = 15
	longFileLineThreshold   = 500
	manyMethodsThreshold    = 25
)

// CodeQualityAgent runs the four phases of spec.md §4.8: static
// rule-based findings, cluster building, bounded-parallel LLM analysis per
// cluster, and an optional deep-dive on the highest-complexity files.
type CodeQualityAgent struct {
	static     *staticanalysis.Analyzer
	cluster    *cluster.Builder
	clusterCfg config.ClusterConfig
	chat       llm.ChatCompleter
	cfg        config.AgentConfig
}

// NewCodeQualityAgent builds a CodeQualityAgent. chat may be nil, in
// which case phases 2-4 are skipped and only static findings are
// produced.
func NewCodeQualityAgent(static *staticanalysis.Analyzer, clusterBuilder *cluster.Builder, clusterCfg config.ClusterConfig, chat llm.ChatCompleter, cfg config.AgentConfig) *CodeQualityAgent {
	return &CodeQualityAgent{static: static, cluster: clusterBuilder, clusterCfg: clusterCfg, chat: chat, cfg: cfg}
}

func (a *CodeQualityAgent) Name() string { return "code_quality" }

func (a *CodeQualityAgent) Analyze(ctx context.Context, _, workingDir string) ([]domain.AgentFinding, error) {
	summaries, err := a.collectSummaries(ctx, workingDir)
	if err != nil {
		return nil, err
	}

	findings := staticFindings(summaries)

	if a.chat == nil || len(summaries) == 0 {
		return findings, nil
	}

	clusters := a.cluster.Build(summaries)

	clusterFindings := a.analyzeClusters(ctx, clusters)
	findings = append(findings, clusterFindings...)

	highPriority := cluster.DetectHighPriorityFiles(summaries, a.clusterCfg)
	deepDiveFindings := a.deepDive(ctx, workingDir, highPriority)
	findings = append(findings, deepDiveFindings...)

	return findings, nil
}

func (a *CodeQualityAgent) collectSummaries(ctx context.Context, workingDir string) ([]domain.FileSummary, error) {
	var (
		mu        sync.Mutex
		summaries []domain.FileSummary
	)

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

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}

		rel, relErr := filepath.Rel(workingDir, path)
		if relErr != nil {
			rel = path
		}

		summary := a.static.AnalyzeFile(ctx, rel, content)

		mu.Lock()
		summaries = append(summaries, summary)
		mu.Unlock()

		return nil
	})

	return summaries, err
}

func staticFindings(summaries []domain.FileSummary) []domain.AgentFinding {
	var findings []domain.AgentFinding

	for _, s := range summaries {
		if s.MaxComplexity >= highComplexityThreshold {
			findings = append(findings, ruleFinding(s.Path, domain.CategoryComplexity, domain.SeverityMedium,
				fmt.Sprintf("high cyclomatic complexity (%d) in %s", s.MaxComplexity, s.Path)))
		}

		if s.TotalLines >= longFileLineThreshold {
			findings = append(findings, ruleFinding(s.Path, domain.CategoryMaintainability, domain.SeverityLow,
				fmt.Sprintf("long file (%d lines): %s", s.TotalLines, s.Path)))
		}

		if s.MethodCount >= manyMethodsThreshold {
			findings = append(findings, ruleFinding(s.Path, domain.CategoryMaintainability, domain.SeverityLow,
				fmt.Sprintf("file has many methods (%d): %s", s.MethodCount, s.Path)))
		}
	}

	return findings
}

func ruleFinding(path string, category domain.Category, severity domain.Severity, description string) domain.AgentFinding {
	return domain.AgentFinding{
		AgentName:   "code_quality",
		FilePath:    path,
		Category:    string(category),
		Severity:    string(severity),
		Description: description,
		Confidence:  0.7,
	}
}

// analyzeClusters runs one LLM call per cluster with width bounded by
// max_parallel_llm_calls, grounded on the pack's errgroup.WithContext +
// SetLimit bounded-parallelism idiom.
func (a *CodeQualityAgent) analyzeClusters(ctx context.Context, clusters []domain.AnalysisCluster) []domain.AgentFinding {
	if len(clusters) == 0 {
		return nil
	}

	limit := a.cfg.MaxParallelLLMCalls
	if limit <= 0 {
		limit = 1
	}

	var mu sync.Mutex

	var findings []domain.AgentFinding

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := range clusters {
		c := clusters[i]

		g.Go(func() error {
			prompt := clusterSummaryPrompt(c)

			response, err := a.chat.Complete(gctx, []llm.ChatMessage{{Role: llm.RoleUser, Content: prompt}})
			if err != nil {
				return nil
			}

			parsed := ParseFindingsJSON("code_quality", response)

			mu.Lock()
			findings = append(findings, parsed...)
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	return findings
}

// clusterSummaryPrompt builds a compact per-cluster summary naming its
// top files by complexity and LOC plus aggregate statistics, per spec.md
// §4.8 phase 2.
func clusterSummaryPrompt(c domain.AnalysisCluster) string {
	top := topFiles(c.Files, topFilesInClusterSummary)

	var sb strings.Builder

	sb.WriteString("Analyze this cluster of related files (theme: ")
	sb.WriteString(c.Theme)
	sb.WriteString(") and respond with a JSON array of findings using file_path, symbol, ")
	sb.WriteString("category, severity, description, explanation, suggested_fix, confidence.\n\n")
	fmt.Fprintf(&sb, "Aggregate: %d files, %d total LOC, average complexity %.1f, primary language %s.\n\n",
		len(c.Files), c.TotalLOC, c.AverageComplexity, c.PrimaryLanguage)
	sb.WriteString("Top files by complexity/LOC:\n")

	for _, f := range top {
		fmt.Fprintf(&sb, "- %s (complexity=%d, loc=%d, methods=%d)\n", f.Path, f.MaxComplexity, f.LOC, f.MethodCount)
	}

	return sb.String()
}

func topFiles(files []domain.FileSummary, n int) []domain.FileSummary {
	sorted := make([]domain.FileSummary, len(files))
	copy(sorted, files)

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].MaxComplexity != sorted[j].MaxComplexity {
			return sorted[i].MaxComplexity > sorted[j].MaxComplexity
		}

		return sorted[i].LOC > sorted[j].LOC
	})

	if len(sorted) > n {
		sorted = sorted[:n]
	}

	return sorted
}

// deepDive runs a per-file LLM analysis on up to 5 highest-complexity
// files, with a per-file timeout that degrades to a manual-review finding
// on expiry (spec.md §4.8 phase 4).
func (a *CodeQualityAgent) deepDive(ctx context.Context, workingDir string, files []domain.FileSummary) []domain.AgentFinding {
	timeout := time.Duration(a.cfg.DeepDiveTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	var findings []domain.AgentFinding

	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(workingDir, f.Path))
		if err != nil {
			continue
		}

		fileCtx, cancel := context.WithTimeout(ctx, timeout)

		response, err := a.chat.Complete(fileCtx, []llm.ChatMessage{
			{Role: llm.RoleUser, Content: deepDivePrompt(f, string(content))},
		})

		cancel()

		if err != nil {
			findings = append(findings, domain.AgentFinding{
				AgentName:   "code_quality",
				FilePath:    f.Path,
				Category:    string(domain.CategoryComplexity),
				Severity:    string(domain.SeverityMedium),
				Description: "deep-dive analysis timed out or failed for " + f.Path + "; manual review recommended",
				Confidence:  0.5,
			})

			continue
		}

		findings = append(findings, ParseFindingsJSON("code_quality", response)...)
	}

	return findings
}

func deepDivePrompt(f domain.FileSummary, content string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Deep-dive review of %s (complexity=%d, loc=%d). ", f.Path, f.MaxComplexity, f.LOC)
	sb.WriteString("Respond with a JSON array of findings using file_path, symbol, start_line, end_line, ")
	sb.WriteString("category, severity, description, explanation, suggested_fix, confidence.\n\n")
	sb.WriteString(content)

	return sb.String()
}
