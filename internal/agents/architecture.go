package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/archreview/archreview/internal/domain"
	"github.com/archreview/archreview/internal/llm"
)

// ArchitectureAdvisorAgent gathers project-wide facts (file/language
// counts, largest files; no framework detection) and asks the LLM for
// pattern-level recommendations against a fixed JSON-array schema
// (spec.md §4.8).
type ArchitectureAdvisorAgent struct {
	chat llm.ChatCompleter
}

// NewArchitectureAdvisorAgent builds an ArchitectureAdvisorAgent. chat
// may be nil, in which case Analyze returns no findings.
func NewArchitectureAdvisorAgent(chat llm.ChatCompleter) *ArchitectureAdvisorAgent {
	return &ArchitectureAdvisorAgent{chat: chat}
}

func (a *ArchitectureAdvisorAgent) Name() string { return "architecture_advisor" }

func (a *ArchitectureAdvisorAgent) Analyze(ctx context.Context, _, workingDir string) ([]domain.AgentFinding, error) {
	if a.chat == nil {
		return nil, nil
	}

	facts, err := gatherProjectFacts(workingDir)
	if err != nil {
		return nil, err
	}

	response, err := a.chat.Complete(ctx, []llm.ChatMessage{
		{Role: llm.RoleUser, Content: architecturePrompt(facts)},
	})
	if err != nil {
		return nil, err
	}

	return ParseFindingsJSON("architecture_advisor", response), nil
}

// projectFacts is the compact project-wide digest the architecture
// prompt is built from.
type projectFacts struct {
	fileCount     int
	totalBytes    int64
	languageCount map[string]int
	largestFiles  []string
}

func gatherProjectFacts(workingDir string) (projectFacts, error) {
	facts := projectFacts{languageCount: make(map[string]int)}

	type sizedFile struct {
		path string
		size int64
	}

	var sized []sizedFile

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

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		rel, relErr := filepath.Rel(workingDir, path)
		if relErr != nil {
			rel = path
		}

		facts.fileCount++
		facts.totalBytes += info.Size()
		facts.languageCount[filepath.Ext(path)]++
		sized = append(sized, sizedFile{path: rel, size: info.Size()})

		return nil
	})
	if err != nil {
		return facts, err
	}

	const topN = 10

	for i := 0; i < len(sized); i++ {
		for j := i + 1; j < len(sized); j++ {
			if sized[j].size > sized[i].size {
				sized[i], sized[j] = sized[j], sized[i]
			}
		}
	}

	if len(sized) > topN {
		sized = sized[:topN]
	}

	for _, s := range sized {
		facts.largestFiles = append(facts.largestFiles, s.path)
	}

	return facts, nil
}

func architecturePrompt(facts projectFacts) string {
	var sb strings.Builder

	sb.WriteString("Given the following project-wide facts, recommend architecture-level improvements. ")
	sb.WriteString("Respond with a JSON array of findings using file_path, symbol, category, severity, ")
	sb.WriteString("description, explanation, suggested_fix, confidence.\n\n")
	fmt.Fprintf(&sb, "Files: %d, total size: %d bytes\n", facts.fileCount, facts.totalBytes)
	sb.WriteString("Languages by extension:\n")

	for ext, count := range facts.languageCount {
		fmt.Fprintf(&sb, "- %s: %d\n", ext, count)
	}

	sb.WriteString("Largest files:\n")

	for _, f := range facts.largestFiles {
		sb.WriteString("- " + f + "\n")
	}

	return sb.String()
}
