package router_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/router"
)

func TestPreflight_AggregatesAndFlagsApproval(t *testing.T) {
	t.Parallel()

	cfg := config.RouterConfig{
		PricePerToken:           0.00001,
		WarnThresholdTokens:     10,
		ApprovalThresholdTokens: 100,
	}

	plans := []router.FileAnalysisPlan{
		{RelPath: "a.go", Extension: ".go", SizeBytes: 400, Decision: router.DecisionDirectSend},
		{RelPath: "b.go", Extension: ".go", SizeBytes: 40, Decision: router.DecisionRagChunks},
		{RelPath: "c.bin", Extension: ".bin", SizeBytes: 999, Decision: router.DecisionSkipped, SkipReason: router.SkipBinary},
	}

	est := router.Preflight(cfg, plans)

	assert.Equal(t, 3, est.FileCount)
	assert.Equal(t, 1, est.CountsByDecision[router.DecisionDirectSend])
	assert.Equal(t, 1, est.CountsByDecision[router.DecisionRagChunks])
	assert.Equal(t, 1, est.CountsBySkipReason[router.SkipBinary])
	assert.Equal(t, int64(110), est.EstimatedTokens)
	assert.NotEmpty(t, est.Warnings)
	assert.True(t, est.RequiresApproval)
	assert.NotEmpty(t, est.HumanReadableTokens)
}

func TestPreflight_NoWarningsBelowThresholds(t *testing.T) {
	t.Parallel()

	cfg := config.RouterConfig{WarnThresholdTokens: 1_000_000, ApprovalThresholdTokens: 2_000_000}
	plans := []router.FileAnalysisPlan{{RelPath: "a.go", SizeBytes: 40, Decision: router.DecisionDirectSend}}

	est := router.Preflight(cfg, plans)
	assert.Empty(t, est.Warnings)
	assert.False(t, est.RequiresApproval)
}
