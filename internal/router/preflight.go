package router

import (
	"github.com/dustin/go-humanize"

	"github.com/archreview/archreview/internal/config"
)

// tokensPerByte is the size-to-token approximation used for the preflight
// estimate, matching the tokenizer's heuristic divisor (spec.md §4.2).
const tokensPerByte = 1.0 / 4

// processingTimeTokenDivisor implements the heuristic
// processing_time = tokens/1000 + file_count of spec.md §4.2.
const processingTimeTokenDivisor = 1000

// PreflightEstimate summarizes a batch of FileAnalysisPlans before an
// analysis run is queued.
type PreflightEstimate struct {
	FileCount           int
	CountsByDecision    map[Decision]int
	CountsBySkipReason  map[SkipReason]int
	ExtensionBreakdown  map[string]int
	EstimatedTokens     int64
	EstimatedCost       float64
	ProcessingTimeUnits float64
	Warnings            []string
	RequiresApproval    bool
	HumanReadableTokens string
	HumanReadableCost   string
}

// Preflight aggregates a slice of plans into a PreflightEstimate, applying
// the router's warn/approval thresholds.
func Preflight(cfg config.RouterConfig, plans []FileAnalysisPlan) PreflightEstimate {
	est := PreflightEstimate{
		FileCount:          len(plans),
		CountsByDecision:   map[Decision]int{},
		CountsBySkipReason: map[SkipReason]int{},
		ExtensionBreakdown: map[string]int{},
	}

	for _, p := range plans {
		est.CountsByDecision[p.Decision]++
		est.ExtensionBreakdown[p.Extension]++

		if p.Decision == DecisionSkipped {
			est.CountsBySkipReason[p.SkipReason]++
			continue
		}

		tokens := int64(float64(p.SizeBytes) * tokensPerByte)
		est.EstimatedTokens += tokens
	}

	est.EstimatedCost = float64(est.EstimatedTokens) * cfg.PricePerToken
	est.ProcessingTimeUnits = float64(est.EstimatedTokens)/processingTimeTokenDivisor + float64(est.FileCount)

	if est.EstimatedTokens >= cfg.WarnThresholdTokens {
		est.Warnings = append(est.Warnings, "estimated token volume exceeds the configured warning threshold")
	}

	if est.EstimatedTokens >= cfg.ApprovalThresholdTokens || (cfg.ApprovalThresholdCost > 0 && est.EstimatedCost >= cfg.ApprovalThresholdCost) {
		est.RequiresApproval = true
	}

	est.HumanReadableTokens = humanize.Comma(est.EstimatedTokens)
	est.HumanReadableCost = humanize.FormatFloat("#,###.##", est.EstimatedCost)

	return est
}
