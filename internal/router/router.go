// Package router classifies extracted project files into analysis
// decisions and produces a preflight cost/time estimate, per spec.md §4.2.
package router

import (
	"path/filepath"
	"strings"

	"github.com/archreview/archreview/internal/config"
)

// Decision is the routing outcome for a single file.
type Decision string

// Routing decisions.
const (
	DecisionDirectSend Decision = "DirectSend"
	DecisionRagChunks  Decision = "RagChunks"
	DecisionSkipped    Decision = "Skipped"
)

// SkipReason explains a Skipped decision.
type SkipReason string

// Skip reasons.
const (
	SkipExcludedPath SkipReason = "excluded_path"
	SkipBinary       SkipReason = "binary"
	SkipTooLarge     SkipReason = "too_large"
)

// excludedPathSegments are directory names that exclude every file beneath
// them from analysis, regardless of extension.
var excludedPathSegments = map[string]bool{
	"node_modules": true, "bin": true, "obj": true, ".git": true,
	".vs": true, ".idea": true, ".vscode": true, "packages": true,
	"dist": true, "build": true, "__pycache__": true, ".venv": true,
	"venv": true, "coverage": true, ".nyc_output": true, "TestResults": true,
	".nuget": true, "vendor": true, ".gradle": true, "target": true,
	"out": true, ".next": true, ".cache": true,
}

// binaryExtensions are extensions that are never source or config, even if
// not caught by the exclusion list.
var binaryExtensions = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".o": true, ".obj": true, ".class": true, ".jar": true, ".war": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".pdf": true, ".zip": true, ".tar": true, ".gz": true,
	".7z": true, ".rar": true, ".woff": true, ".woff2": true, ".ttf": true,
	".eot": true, ".mp3": true, ".mp4": true, ".mov": true, ".avi": true,
	".db": true, ".sqlite": true, ".pyc": true, ".pdb": true,
}

// sourceExtensions are the extensions routed as analyzable source, per
// spec.md §4.2 step 3.
var sourceExtensions = map[string]bool{
	".cs": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".java": true, ".go": true, ".rs": true, ".cpp": true,
	".c": true, ".h": true, ".hpp": true, ".rb": true, ".php": true,
	".swift": true, ".kt": true, ".scala": true, ".vue": true,
	".svelte": true, ".razor": true, ".cshtml": true, ".fs": true,
	".fsx": true, ".vb": true, ".lua": true, ".r": true, ".jl": true,
	".dart": true, ".elm": true, ".clj": true, ".ex": true, ".exs": true,
	".erl": true, ".hrl": true,
}

// configExtensions are extensions (or exact basenames) treated as config
// files, routed the same as source.
var configExtensions = map[string]bool{
	".json": true, ".yaml": true, ".yml": true, ".xml": true,
	".config": true, ".toml": true,
}

// configBasenames are exact file names treated as config regardless of
// extension.
var configBasenames = map[string]bool{
	"Dockerfile": true, ".env": true, "Makefile": true, "CMakeLists.txt": true,
}

// FileAnalysisPlan is the per-file routing outcome.
type FileAnalysisPlan struct {
	RelPath    string
	Extension  string
	SizeBytes  int64
	Decision   Decision
	SkipReason SkipReason
	IsHighRisk bool
	RiskScore  float64
}

// Router classifies files using the fixed decision rule of spec.md §4.2.
type Router struct {
	cfg config.RouterConfig
}

// New builds a Router from the router configuration section.
func New(cfg config.RouterConfig) *Router {
	return &Router{cfg: cfg}
}

// Route classifies a single file by relative path and size. riskScore, when
// non-negative, is attached to the plan and compared against
// cfg.RiskThreshold to set IsHighRisk; pass a negative value when no risk
// score is available.
func (r *Router) Route(relPath string, sizeBytes int64, riskScore float64) FileAnalysisPlan {
	plan := FileAnalysisPlan{
		RelPath:   relPath,
		Extension: strings.ToLower(filepath.Ext(relPath)),
		SizeBytes: sizeBytes,
		RiskScore: riskScore,
	}

	if riskScore >= 0 && riskScore >= r.cfg.RiskThreshold {
		plan.IsHighRisk = true
	}

	if isExcludedPath(relPath) {
		plan.Decision = DecisionSkipped
		plan.SkipReason = SkipExcludedPath

		return plan
	}

	if binaryExtensions[plan.Extension] {
		plan.Decision = DecisionSkipped
		plan.SkipReason = SkipBinary

		return plan
	}

	if !sourceExtensions[plan.Extension] && !isConfigFile(relPath, plan.Extension) {
		plan.Decision = DecisionSkipped
		plan.SkipReason = SkipExcludedPath

		return plan
	}

	switch {
	case sizeBytes < r.cfg.DirectSendThresholdBytes:
		plan.Decision = DecisionDirectSend
	case sizeBytes <= r.cfg.RagChunkThresholdBytes:
		plan.Decision = DecisionRagChunks
	case r.cfg.AllowLargeFiles:
		plan.Decision = DecisionRagChunks
	default:
		plan.Decision = DecisionSkipped
		plan.SkipReason = SkipTooLarge
	}

	return plan
}

func isExcludedPath(relPath string) bool {
	segments := strings.Split(filepath.ToSlash(relPath), "/")
	for _, seg := range segments {
		if excludedPathSegments[seg] {
			return true
		}
	}

	return false
}

func isConfigFile(relPath, ext string) bool {
	if configExtensions[ext] {
		return true
	}

	return configBasenames[filepath.Base(relPath)]
}
