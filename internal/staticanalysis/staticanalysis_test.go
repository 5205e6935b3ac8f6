package staticanalysis_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archreview/archreview/internal/staticanalysis"
)

func TestAnalyzer_AnalyzeFile_HeuristicCountsLOCAndTotalLines(t *testing.T) {
	t.Parallel()

	a := staticanalysis.New(nil)

	content := []byte("package main\n\n// a comment\nfunc main() {\n\tif true {\n\t\tprintln(\"hi\")\n\t}\n}\n")

	summary := a.AnalyzeFile(context.Background(), "main.go", content)

	assert.Equal(t, "main.go", summary.Path)
	assert.Greater(t, summary.TotalLines, summary.LOC)
	assert.GreaterOrEqual(t, summary.LOC, 1)
}

func TestAnalyzer_AnalyzeFile_HeuristicComplexityCountsDecisionKeywords(t *testing.T) {
	t.Parallel()

	a := staticanalysis.New(nil)

	content := []byte("func f() {\n\tif a {\n\t}\n\tfor i := 0; i < 10; i++ {\n\t}\n\tif b && c {\n\t}\n}\n")

	summary := a.AnalyzeFile(context.Background(), "f.go", content)

	assert.GreaterOrEqual(t, summary.MaxComplexity, 4)
}

func TestAnalyzer_AnalyzeFile_HeuristicDetectsTypesAndMethods(t *testing.T) {
	t.Parallel()

	a := staticanalysis.New(nil)

	content := []byte("type Foo struct {\n\tX int\n}\n\nfunc (f Foo) Bar() int {\n\treturn f.X\n}\n")

	summary := a.AnalyzeFile(context.Background(), "foo.go", content)

	assert.Equal(t, 1, summary.TypeCount)
	assert.GreaterOrEqual(t, summary.MethodCount, 1)
}

func TestAnalyzer_AnalyzeFile_EmptyFileHasZeroLOC(t *testing.T) {
	t.Parallel()

	a := staticanalysis.New(nil)

	summary := a.AnalyzeFile(context.Background(), "empty.go", []byte(""))

	require.Equal(t, 0, summary.LOC)
}
