package domain

import "time"

// MaxRecommendations bounds the Report's recommendation list, per spec.md
// §3 ("recommendations (ordered, <=10, unique)").
const MaxRecommendations = 10

// Report is the single persisted outcome of one project's analysis.
// Uniqueness invariant: at most one Report per Project.
type Report struct {
	ID                 string
	ProjectID          string
	Summary            string
	Recommendations    []string
	HealthScore        int
	SeverityCounts      map[Severity]int
	AnalysisDuration    time.Duration
	Version             string
	RenderedArtifacts    map[string]string
	CreatedAt            time.Time
}

// ReportStore is the persistence contract for Report and its owned
// ReviewFindings.
type ReportStore interface {
	SaveReport(r *Report, findings []ReviewFinding) error
	GetReport(projectID string) (*Report, error)
	DeleteReport(projectID string) error
}

// JobCheckpoint enables resumption of a partially completed indexing
// phase, per spec.md §3.
type JobCheckpoint struct {
	ProjectID  string
	Phase      string
	LastOffset int
	UpdatedAt  time.Time
}

// CheckpointStore is the persistence contract for JobCheckpoint.
type CheckpointStore interface {
	SaveCheckpoint(c JobCheckpoint) error
	LoadCheckpoint(projectID string) (*JobCheckpoint, error)
	DeleteCheckpoint(projectID string) error
}

// Renderer is the external collaborator that turns a Report into a
// rendered artifact (PDF, HTML, ...). Rendering itself is out of scope
// (SPEC_FULL.md §1); this interface lets the Job Runner populate
// Report.RenderedArtifacts when one is configured.
type Renderer interface {
	Render(r *Report, findings []ReviewFinding, format string) (artifactPointer string, err error)
}
