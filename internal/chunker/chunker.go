// Package chunker splits source files into semantically bounded, token-sized
// Chunks with stable, deterministic identity, per spec.md §4.3.
package chunker

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/domain"
	"github.com/archreview/archreview/internal/tokenizer"
	"github.com/archreview/archreview/pkg/uast"
)

// kindToSemanticType maps the heuristic/UAST unit kind strings to the
// closed SemanticType enum.
var kindToSemanticType = map[string]domain.SemanticType{
	"class":      domain.SemanticTypeClass,
	"struct":     domain.SemanticTypeStruct,
	"record":     domain.SemanticTypeRecord,
	"interface":  domain.SemanticTypeInterface,
	"method":     domain.SemanticTypeMethod,
	"property":   domain.SemanticTypeProperty,
	"field":      domain.SemanticTypeField,
	"constructor": domain.SemanticTypeConstructor,
	"event":      domain.SemanticTypeEvent,
	"indexer":    domain.SemanticTypeIndexer,
	"operator":   domain.SemanticTypeOperator,
	"top-level":  domain.SemanticTypeTopLevel,
}

// Chunker turns file content into a sequence of Chunks.
type Chunker struct {
	cfg    config.ChunkerConfig
	tok    tokenizer.Counter
	parser *uast.Parser
}

// New builds a Chunker. parser may be nil, in which case every file uses
// the heuristic brace/indent fallback.
func New(cfg config.ChunkerConfig, tok tokenizer.Counter, parser *uast.Parser) *Chunker {
	return &Chunker{cfg: cfg, tok: tok, parser: parser}
}

// ChunkFile splits one file's content into Chunks. It never returns an
// empty slice for non-empty content.
func (c *Chunker) ChunkFile(ctx context.Context, projectID, relPath string, content []byte) ([]domain.Chunk, error) {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	lines := splitLines(text)
	language := ""
	fallbackName := filepath.Base(relPath)

	units := c.extractUnits(ctx, relPath, content, fallbackName)

	var rawChunks []rawChunk

	for _, u := range units {
		start, end := u.StartLine, u.EndLine
		if end <= 0 || end > len(lines) {
			end = len(lines)
		}

		if start <= 0 {
			start = 1
		}

		unitText := joinLines(lines, start, end)
		res := c.tok.Count(unitText)

		switch {
		case res.Count > c.cfg.MaxChunkTokens:
			rawChunks = append(rawChunks, c.slidingWindow(lines, start, end, u.Name, u.Kind)...)
		default:
			rawChunks = append(rawChunks, rawChunk{
				startLine: start, endLine: end, text: unitText,
				semanticName: u.Name, semanticKind: u.Kind,
			})
		}
	}

	if len(rawChunks) == 0 {
		rawChunks = append(rawChunks, rawChunk{
			startLine: 1, endLine: len(lines), text: text,
			semanticName: fallbackName, semanticKind: "file",
		})
	}

	if c.parser != nil {
		language = c.parser.GetLanguage(relPath)
	}

	total := len(rawChunks)
	chunks := make([]domain.Chunk, 0, total)

	for i, rc := range rawChunks {
		semType, ok := kindToSemanticType[rc.semanticKind]
		if !ok {
			semType = domain.SemanticTypeFile
		}

		name := rc.semanticName
		if name == "" {
			name = fallbackName
		}

		hash := domain.ComputeChunkHash(projectID, relPath, rc.startLine, rc.endLine, rc.text)
		tokenCount := c.tok.Count(rc.text).Count

		chunks = append(chunks, domain.Chunk{
			ChunkHash:    hash,
			ProjectID:    projectID,
			FilePath:     relPath,
			StartLine:    rc.startLine,
			EndLine:      rc.endLine,
			Language:     language,
			SemanticType: semType,
			SemanticName: name,
			ChunkIndex:   i,
			TotalChunks:  total,
			TokenCount:   tokenCount,
			Text:         rc.text,
			TextHash:     domain.HashText(rc.text),
		})
	}

	return chunks, nil
}

type rawChunk struct {
	startLine, endLine         int
	text                       string
	semanticName, semanticKind string
}

// extractUnits parses the file (with a timeout) to obtain semantic units,
// falling back to a heuristic brace/indent scan on parse failure, timeout,
// or when no parser supports the extension.
func (c *Chunker) extractUnits(ctx context.Context, relPath string, content []byte, fallbackName string) []uast.SemanticUnit {
	if c.parser != nil && c.parser.IsSupported(relPath) {
		timeout := time.Duration(c.cfg.ParseTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}

		parseCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		root, err := c.parser.Parse(parseCtx, relPath, content)
		if err == nil {
			return uast.ExtractSemanticUnits(root, fallbackName)
		}
	}

	return heuristicUnits(content, fallbackName)
}

// heuristicUnits performs a brace/indent scan looking for function- and
// class-like openings, used when no first-class parser is available.
func heuristicUnits(content []byte, fallbackName string) []uast.SemanticUnit {
	lines := splitLines(string(content))

	var units []uast.SemanticUnit

	depth := 0
	unitStart := -1

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		isOpener := looksLikeUnitOpener(trimmed)

		if isOpener && depth == 0 {
			unitStart = i + 1
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")

		if unitStart != -1 && depth == 0 && strings.Contains(line, "}") {
			units = append(units, uast.SemanticUnit{
				Name: extractUnitName(lines[unitStart-1]), Kind: "method",
				StartLine: unitStart, EndLine: i + 1,
			})
			unitStart = -1
		}
	}

	if len(units) == 0 {
		units = append(units, uast.SemanticUnit{Name: fallbackName, Kind: "top-level", StartLine: 1, EndLine: len(lines)})
	}

	return units
}

func looksLikeUnitOpener(line string) bool {
	keywords := []string{"func ", "function ", "def ", "class ", "struct ", "interface ", "fn "}
	for _, kw := range keywords {
		if strings.HasPrefix(line, kw) || strings.Contains(line, " "+kw) {
			return true
		}
	}

	return false
}

func extractUnitName(declLine string) string {
	trimmed := strings.TrimSpace(declLine)
	fields := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == '(' || r == ' ' || r == '{' || r == ':'
	})

	for i, f := range fields {
		if f == "func" || f == "function" || f == "def" || f == "class" || f == "struct" || f == "interface" || f == "fn" {
			if i+1 < len(fields) {
				return fields[i+1]
			}
		}
	}

	return "anonymous"
}

// slidingWindow splits an oversized unit into overlapping, token-bounded
// chunks, accumulating lines until the next line would exceed
// max_chunk_tokens, then backing up by overlap_tokens worth of lines.
func (c *Chunker) slidingWindow(lines []string, start, end int, name, kind string) []rawChunk {
	var chunks []rawChunk

	lineStart := start

	for lineStart <= end {
		lineEnd := lineStart
		acc := ""

		for lineEnd <= end {
			candidate := joinLines(lines, lineStart, lineEnd+1)
			if lineEnd > lineStart && c.tok.Count(candidate).Count > c.cfg.MaxChunkTokens {
				break
			}

			lineEnd++
		}

		if lineEnd > end {
			lineEnd = end
		}

		if lineEnd < lineStart {
			lineEnd = lineStart
		}

		acc = joinLines(lines, lineStart, lineEnd)
		chunks = append(chunks, rawChunk{startLine: lineStart, endLine: lineEnd, text: acc, semanticName: name, semanticKind: kind})

		if lineEnd >= end {
			break
		}

		overlapLines := c.overlapLineCount(lines, lineStart, lineEnd)
		nextStart := lineEnd + 1 - overlapLines

		if nextStart <= lineStart {
			nextStart = lineStart + 1
		}

		lineStart = nextStart
	}

	return chunks
}

// overlapLineCount estimates how many trailing lines of [start,end] make up
// roughly overlap_tokens worth of content, walking backward from end.
func (c *Chunker) overlapLineCount(lines []string, start, end int) int {
	if c.cfg.OverlapTokens <= 0 {
		return 0
	}

	count := 0

	for i := end; i >= start; i-- {
		count++
		text := joinLines(lines, end-count+1, end)

		if c.tok.Count(text).Count >= c.cfg.OverlapTokens {
			break
		}
	}

	return count
}

func splitLines(text string) []string {
	return strings.Split(text, "\n")
}

// joinLines returns lines[start..end] (1-based, inclusive) joined by
// newline. Out-of-range indices are clamped.
func joinLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}

	if end > len(lines) {
		end = len(lines)
	}

	if end < start {
		return ""
	}

	return strings.Join(lines[start-1:end], "\n")
}
