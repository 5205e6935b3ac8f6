package agents

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/archreview/archreview/internal/domain"
)

// frameworkSignatures maps a manifest/marker file to the framework its
// presence implies.
var frameworkSignatures = map[string]string{
	"package.json":     "Node.js",
	"go.mod":           "Go",
	"requirements.txt": "Python",
	"pyproject.toml":   "Python",
	"pom.xml":          "Java (Maven)",
	"build.gradle":     "Java/Kotlin (Gradle)",
	"Gemfile":          "Ruby",
	"composer.json":    "PHP",
	"Cargo.toml":       "Rust",
}

// architecturePatternSignatures maps a set of directory-name markers (all
// required) to the pattern they signify, checked against the set of
// directory names found anywhere in the tree.
var architecturePatternSignatures = []struct {
	name    string
	markers []string
}{
	{"Clean Architecture", []string{"domain", "usecase"}},
	{"Clean Architecture", []string{"entities", "usecases"}},
	{"MVC", []string{"models", "views", "controllers"}},
	{"Service-Oriented", []string{"services"}},
}

var ciMarkers = []string{".github/workflows", ".gitlab-ci.yml", ".circleci", "Jenkinsfile", ".travis.yml"}

var dockerMarkers = []string{"Dockerfile", "docker-compose.yml", "docker-compose.yaml"}

var testDirMarkers = []string{"test", "tests", "spec", "__tests__"}

// StructureAgent traverses a project's directory tree and reports
// framework detection, architectural-pattern detection, and missing
// tests/Docker/CI flags (spec.md §4.8).
type StructureAgent struct{}

// NewStructureAgent builds a StructureAgent.
func NewStructureAgent() *StructureAgent {
	return &StructureAgent{}
}

func (a *StructureAgent) Name() string { return "structure" }

// Analyze walks workingDir and emits one Info finding per detected
// framework/pattern and a Medium finding for each missing convention.
func (a *StructureAgent) Analyze(_ context.Context, _, workingDir string) ([]domain.AgentFinding, error) {
	dirNames := make(map[string]bool)
	topLevel := make(map[string]bool)
	hasTestDir := false

	err := filepath.WalkDir(workingDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, relErr := filepath.Rel(workingDir, path)
		if relErr != nil {
			return nil
		}

		if rel == "." {
			return nil
		}

		if strings.HasPrefix(rel, ".git") {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			dirNames[strings.ToLower(d.Name())] = true

			if !strings.Contains(rel, string(filepath.Separator)) {
				topLevel[d.Name()] = true
			}

			if containsAny(testDirMarkers, strings.ToLower(d.Name())) {
				hasTestDir = true
			}

			return nil
		}

		if !strings.Contains(rel, string(filepath.Separator)) {
			topLevel[d.Name()] = true
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	var findings []domain.AgentFinding

	for marker, framework := range frameworkSignatures {
		if topLevel[marker] {
			findings = append(findings, infoFinding("detected framework: "+framework))
		}
	}

	for _, sig := range architecturePatternSignatures {
		if allPresent(dirNames, sig.markers) {
			findings = append(findings, infoFinding("detected architecture pattern: "+sig.name))
		}
	}

	if !hasTestDir {
		findings = append(findings, missingFinding("no dedicated test directory found"))
	}

	if !anyTopLevel(topLevel, dockerMarkers) {
		findings = append(findings, missingFinding("no Dockerfile or docker-compose file found"))
	}

	if !anyPathExists(workingDir, ciMarkers) {
		findings = append(findings, missingFinding("no CI configuration found"))
	}

	return findings, nil
}

func containsAny(set []string, name string) bool {
	for _, s := range set {
		if s == name {
			return true
		}
	}

	return false
}

func allPresent(dirNames map[string]bool, markers []string) bool {
	for _, m := range markers {
		if !dirNames[m] {
			return false
		}
	}

	return true
}

func anyTopLevel(topLevel map[string]bool, names []string) bool {
	for _, n := range names {
		if topLevel[n] {
			return true
		}
	}

	return false
}

func anyPathExists(root string, relPaths []string) bool {
	for _, rel := range relPaths {
		if _, err := os.Stat(filepath.Join(root, rel)); err == nil {
			return true
		}
	}

	return false
}

func infoFinding(description string) domain.AgentFinding {
	return domain.AgentFinding{
		AgentName:   "structure",
		Category:    string(domain.CategoryStructure),
		Severity:    string(domain.SeverityInfo),
		Description: description,
		Confidence:  1,
	}
}

func missingFinding(description string) domain.AgentFinding {
	return domain.AgentFinding{
		AgentName:   "structure",
		Category:    string(domain.CategoryStructure),
		Severity:    string(domain.SeverityMedium),
		Description: description,
		Confidence:  0.8,
	}
}
