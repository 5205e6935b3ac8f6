// Package orchestrator runs the Analysis Agents serially, isolating the
// rest of the run from any single agent's failure, per spec.md §4.9.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/archreview/archreview/internal/agents"
	"github.com/archreview/archreview/internal/domain"
)

// AgentResult is one agent's contribution to a Report: its findings (or a
// synthetic failure finding) and how long it ran.
type AgentResult struct {
	AgentName string
	Findings  []domain.AgentFinding
	Duration  time.Duration
	Err       error
}

// Orchestrator runs a fixed list of agents in order (order is not
// observable externally — spec.md §4.9 — it is just the slice order here)
// and never lets one agent's failure stop the others.
type Orchestrator struct {
	agentList []agents.Agent
	logger    *slog.Logger
}

// New builds an Orchestrator over the given agents.
func New(agentList []agents.Agent, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{agentList: agentList, logger: logger}
}

// Run executes every agent, recording a wall-clock duration for each and
// converting any failure into a single synthetic Info finding
// (DESIGN.md Open Question #4) rather than aborting the run.
func (o *Orchestrator) Run(ctx context.Context, projectID, workingDir string) []AgentResult {
	results := make([]AgentResult, 0, len(o.agentList))

	for _, agent := range o.agentList {
		start := time.Now()

		findings, err := agent.Analyze(ctx, projectID, workingDir)

		duration := time.Since(start)

		if err != nil {
			o.logger.Warn("agent failed", "agent", agent.Name(), "error", err)
			findings = []domain.AgentFinding{syntheticFailureFinding(agent.Name(), err)}
		}

		results = append(results, AgentResult{
			AgentName: agent.Name(),
			Findings:  findings,
			Duration:  duration,
			Err:       err,
		})
	}

	return results
}

// syntheticFailureFinding builds the single Info-severity finding
// recorded when an agent fails outright (spec.md §4.9).
func syntheticFailureFinding(agentName string, err error) domain.AgentFinding {
	return domain.AgentFinding{
		AgentName:   agentName,
		Category:    string(domain.CategoryOther),
		Severity:    string(domain.SeverityInfo),
		Description: "agent " + agentName + " failed: " + err.Error(),
		Confidence:  1,
	}
}
