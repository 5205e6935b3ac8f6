// Package cluster groups related files into themed batches so a single
// LLM call can cover all of them at once, per spec.md §4.6.
package cluster

import (
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/domain"
)

// Builder groups FileSummary values into AnalysisClusters bounded by a
// maximum cluster size and a similarity threshold.
type Builder struct {
	cfg config.ClusterConfig
}

// New builds a Builder.
func New(cfg config.ClusterConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Build groups files by embedding similarity when embeddings are present,
// falling back to grouping by shared directory otherwise, never letting a
// cluster exceed max_cluster_size files.
func (b *Builder) Build(files []domain.FileSummary) []domain.AnalysisCluster {
	if len(files) == 0 {
		return nil
	}

	maxSize := b.cfg.MaxClusterSize
	if maxSize <= 0 {
		maxSize = len(files)
	}

	remaining := make([]domain.FileSummary, len(files))
	copy(remaining, files)

	var clusters []domain.AnalysisCluster

	for len(remaining) > 0 {
		seed := remaining[0]
		rest := remaining[1:]

		group := []domain.FileSummary{seed}

		var leftover []domain.FileSummary

		for _, candidate := range rest {
			if len(group) >= maxSize {
				leftover = append(leftover, candidate)
				continue
			}

			if b.related(seed, candidate) {
				group = append(group, candidate)
			} else {
				leftover = append(leftover, candidate)
			}
		}

		clusters = append(clusters, b.summarize(group))
		remaining = leftover
	}

	return clusters
}

// related reports whether candidate belongs in seed's cluster: by cosine
// similarity of their embeddings when both carry one, else by sharing a
// directory.
func (b *Builder) related(seed, candidate domain.FileSummary) bool {
	if len(seed.Embedding) > 0 && len(candidate.Embedding) > 0 {
		return cosineSimilarity(seed.Embedding, candidate.Embedding) >= b.cfg.SimilarityThreshold
	}

	return filepath.Dir(seed.Path) == filepath.Dir(candidate.Path)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64

	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// summarize computes a cluster's aggregate statistics and risk level from
// its member files.
func (b *Builder) summarize(files []domain.FileSummary) domain.AnalysisCluster {
	var (
		totalLOC      int
		totalComplex  int
		maxComplexity int
		hasHighRisk   bool
	)

	langCounts := make(map[string]int)

	for _, f := range files {
		totalLOC += f.LOC
		totalComplex += f.MaxComplexity

		if f.MaxComplexity > maxComplexity {
			maxComplexity = f.MaxComplexity
		}

		if f.IsHighRisk {
			hasHighRisk = true
		}

		if f.Language != "" {
			langCounts[f.Language]++
		}
	}

	avgComplexity := 0.0
	if len(files) > 0 {
		avgComplexity = float64(totalComplex) / float64(len(files))
	}

	return domain.AnalysisCluster{
		Theme:             themeFor(files),
		Files:             files,
		RiskLevel:         riskLevel(maxComplexity, totalLOC, hasHighRisk, b.cfg),
		PrimaryLanguage:   primaryLanguage(langCounts),
		TotalLOC:          totalLOC,
		AverageComplexity: avgComplexity,
	}
}

// themeFor names a cluster after the directory all its files share, or,
// when that directory is the root, the first file's base name without
// extension; files from different directories give "mixed".
func themeFor(files []domain.FileSummary) string {
	if len(files) == 0 {
		return ""
	}

	dir := filepath.Dir(files[0].Path)
	for _, f := range files[1:] {
		if filepath.Dir(f.Path) != dir {
			return "mixed"
		}
	}

	if dir == "." || dir == "" {
		return strings.TrimSuffix(filepath.Base(files[0].Path), filepath.Ext(files[0].Path))
	}

	return dir
}

func primaryLanguage(counts map[string]int) string {
	best := ""
	bestCount := 0

	for lang, count := range counts {
		if count > bestCount {
			best, bestCount = lang, count
		}
	}

	return best
}

// riskLevel derives a cluster's RiskLevel from its highest per-file
// complexity, its total LOC, and whether any member file was independently
// flagged high risk by the router (spec.md §4.6).
func riskLevel(maxComplexity, totalLOC int, hasHighRisk bool, cfg config.ClusterConfig) domain.RiskLevel {
	switch {
	case hasHighRisk || maxComplexity >= cfg.DeepDiveComplexityThreshold*2:
		return domain.RiskCritical
	case maxComplexity >= cfg.DeepDiveComplexityThreshold || totalLOC >= cfg.DeepDiveLineCountThreshold*2:
		return domain.RiskHigh
	case totalLOC >= cfg.DeepDiveLineCountThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// DetectHighPriorityFiles selects files exceeding either the complexity or
// line-count threshold for Phase 4 deep-dive analysis, ranked by
// complexity descending and capped at max_deep_dive_files (spec.md §4.6).
func DetectHighPriorityFiles(files []domain.FileSummary, cfg config.ClusterConfig) []domain.FileSummary {
	var candidates []domain.FileSummary

	for _, f := range files {
		if f.MaxComplexity >= cfg.DeepDiveComplexityThreshold || f.TotalLines >= cfg.DeepDiveLineCountThreshold {
			candidates = append(candidates, f)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].MaxComplexity != candidates[j].MaxComplexity {
			return candidates[i].MaxComplexity > candidates[j].MaxComplexity
		}

		return candidates[i].TotalLines > candidates[j].TotalLines
	})

	if cfg.MaxDeepDiveFiles > 0 && len(candidates) > cfg.MaxDeepDiveFiles {
		candidates = candidates[:cfg.MaxDeepDiveFiles]
	}

	return candidates
}
