// Package staticanalysis computes a per-file FileSummary purely from local
// source text, no LLM calls involved, per spec.md §4.7.
package staticanalysis

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/archreview/archreview/internal/domain"
	"github.com/archreview/archreview/pkg/uast"
	"github.com/archreview/archreview/pkg/uast/pkg/node"
)

const defaultParseTimeout = 10 * time.Second

var typeKinds = map[node.Type]bool{
	node.UASTClass:     true,
	node.UASTStruct:    true,
	node.UASTInterface: true,
	node.UASTEnum:      true,
}

var methodKinds = map[node.Type]bool{
	node.UASTFunction:     true,
	node.UASTFunctionDecl: true,
	node.UASTMethod:       true,
}

var commentPrefixes = []string{"//", "#", "*", "/*"}

// Analyzer computes FileSummary metrics. It uses a first-class UAST parser
// when the file's language is supported, falling back to a keyword-based
// heuristic scan otherwise (the same two-tier approach as internal/chunker).
type Analyzer struct {
	parser *uast.Parser
}

// New builds an Analyzer. parser may be nil, in which case every file uses
// the heuristic scan.
func New(parser *uast.Parser) *Analyzer {
	return &Analyzer{parser: parser}
}

// AnalyzeFile computes LOC, total lines, heuristic cyclomatic complexity,
// type count, and method count for one file's content.
func (a *Analyzer) AnalyzeFile(ctx context.Context, relPath string, content []byte) domain.FileSummary {
	text := string(content)
	lines := strings.Split(text, "\n")

	summary := domain.FileSummary{
		Path:       relPath,
		TotalLines: len(lines),
		LOC:        countLOC(lines),
		Language:   filepath.Ext(relPath),
	}

	if a.parser != nil && a.parser.IsSupported(relPath) {
		if root, ok := a.parseWithTimeout(ctx, relPath, content); ok {
			summary.Language = a.parser.GetLanguage(relPath)
			summary.MaxComplexity = maxComplexity(root)
			summary.TypeCount, summary.MethodCount = countUnits(root)

			return summary
		}
	}

	summary.MaxComplexity = heuristicComplexity(lines)
	summary.TypeCount, summary.MethodCount = heuristicUnitCounts(lines)

	return summary
}

func (a *Analyzer) parseWithTimeout(ctx context.Context, relPath string, content []byte) (*node.Node, bool) {
	parseCtx, cancel := context.WithTimeout(ctx, defaultParseTimeout)
	defer cancel()

	root, err := a.parser.Parse(parseCtx, relPath, content)
	if err != nil || root == nil {
		return nil, false
	}

	return root, true
}

// countLOC counts non-blank, non-comment-only lines.
func countLOC(lines []string) int {
	count := 0

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if isCommentOnly(trimmed) {
			continue
		}

		count++
	}

	return count
}

func isCommentOnly(trimmed string) bool {
	for _, prefix := range commentPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}

	return false
}

// maxComplexity walks every function/method node in the tree and returns
// the highest per-function cyclomatic complexity, following the same
// decision-point node types internal/analyzers/complexity uses (If, Loop,
// Catch, non-default Case, logical BinaryOp).
func maxComplexity(root *node.Node) int {
	max := 0

	var walk func(n *node.Node)

	walk = func(n *node.Node) {
		if n == nil {
			return
		}

		if isFunctionNode(n) {
			if c := functionComplexity(n); c > max {
				max = c
			}
		}

		for _, child := range n.Children {
			walk(child)
		}
	}

	walk(root)

	return max
}

func isFunctionNode(n *node.Node) bool {
	return methodKinds[n.Type]
}

func functionComplexity(fn *node.Node) int {
	complexity := 1

	var walk func(n *node.Node)

	walk = func(n *node.Node) {
		if n == nil || n == fn {
			return
		}

		if isDecisionPoint(n) {
			complexity++
		}

		for _, child := range n.Children {
			walk(child)
		}
	}

	for _, child := range fn.Children {
		walk(child)
	}

	return complexity
}

func isDecisionPoint(n *node.Node) bool {
	switch n.Type {
	case node.UASTIf, node.UASTLoop, node.UASTCatch:
		return true
	case node.UASTCase:
		return !isDefaultCase(n)
	case node.UASTBinaryOp:
		return isLogicalOperator(n.Token)
	default:
		return false
	}
}

// isDefaultCase reports whether a Case node is the catch-all "default"
// branch of a switch, which does not add a decision point.
func isDefaultCase(n *node.Node) bool {
	return n.Props["default"] == "true" || strings.EqualFold(n.Token, "default")
}

func isLogicalOperator(token string) bool {
	return token == "&&" || token == "||" || token == "and" || token == "or"
}

// countUnits counts type-declaration nodes and method/function nodes
// across the whole tree.
func countUnits(root *node.Node) (types, methods int) {
	var walk func(n *node.Node)

	walk = func(n *node.Node) {
		if n == nil {
			return
		}

		if typeKinds[n.Type] {
			types++
		}

		if methodKinds[n.Type] {
			methods++
		}

		for _, child := range n.Children {
			walk(child)
		}
	}

	walk(root)

	return types, methods
}

var heuristicUnitOpeners = []string{"func ", "function ", "def ", "fn "}

var heuristicTypeOpeners = []string{"class ", "struct ", "interface ", "type "}

var heuristicDecisionKeywords = []string{"if ", "if(", "for ", "for(", "while ", "while(", "case ", "catch ", "&&", "||"}

// heuristicComplexity estimates cyclomatic complexity by counting
// decision-keyword occurrences across the file and adding a base of 1,
// used when no first-class parser is available.
func heuristicComplexity(lines []string) int {
	complexity := 1

	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range heuristicDecisionKeywords {
			complexity += strings.Count(lower, kw)
		}
	}

	return complexity
}

// heuristicUnitCounts estimates type and method counts by scanning for
// lines that look like type or function declarations.
func heuristicUnitCounts(lines []string) (types, methods int) {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		for _, opener := range heuristicTypeOpeners {
			if strings.HasPrefix(lower, opener) {
				types++
				break
			}
		}

		for _, opener := range heuristicUnitOpeners {
			if strings.HasPrefix(lower, opener) || strings.Contains(lower, " "+opener) {
				methods++
				break
			}
		}
	}

	return types, methods
}
