package domain

// RiskLevel is the closed set of cluster risk classifications.
type RiskLevel string

// Risk levels, ordered low to critical.
const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// FileSummary is the static-analysis projection of one file used by the
// Cluster Builder and by agents that need a compact per-file digest
// without the full file content.
type FileSummary struct {
	Path            string
	LOC             int
	TotalLines      int
	MaxComplexity   int
	MethodCount     int
	TypeCount       int
	Language        string
	Embedding       []float32
	IsHighRisk      bool
	RiskScore       float64
}

// AnalysisCluster groups related files into a single theme analyzed by one
// batched LLM call.
type AnalysisCluster struct {
	Theme            string
	Files            []FileSummary
	RiskLevel        RiskLevel
	PrimaryLanguage  string
	TotalLOC         int
	AverageComplexity float64
	IsAnalyzed       bool
}
