package agents_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archreview/archreview/internal/agents"
	"github.com/archreview/archreview/internal/cluster"
	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/staticanalysis"
)

func testClusterCfg() config.ClusterConfig {
	return config.ClusterConfig{
		MaxClusterSize:              5,
		SimilarityThreshold:         0.8,
		DeepDiveComplexityThreshold: 3,
		DeepDiveLineCountThreshold:  5,
		MaxDeepDiveFiles:            1,
	}
}

func TestCodeQualityAgent_Analyze_ProducesStaticFindingsWithoutLLM(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString("func f() { if true {} }\n")
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.go"), []byte(sb.String()), 0o644))

	agent := agents.NewCodeQualityAgent(staticanalysis.New(nil), cluster.New(testClusterCfg()), testClusterCfg(), nil, config.AgentConfig{})

	findings, err := agent.Analyze(context.Background(), "proj", dir)
	require.NoError(t, err)
	assert.NotEmpty(t, findings)
}

func TestCodeQualityAgent_Analyze_DeepDiveDegradesOnChatFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("func f() { if true { if true { if true {} } } }\n")
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "complex.go"), []byte(sb.String()), 0o644))

	cfg := config.AgentConfig{MaxParallelLLMCalls: 2, DeepDiveTimeoutSeconds: 5}
	chat := fakeChatCompleter{err: errFakeChat}

	agent := agents.NewCodeQualityAgent(staticanalysis.New(nil), cluster.New(testClusterCfg()), testClusterCfg(), chat, cfg)

	findings, err := agent.Analyze(context.Background(), "proj", dir)
	require.NoError(t, err)

	var sawManualReview bool

	for _, f := range findings {
		if strings.Contains(f.Description, "manual review recommended") {
			sawManualReview = true
		}
	}

	assert.True(t, sawManualReview)
}
