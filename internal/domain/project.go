// Package domain holds the core entities and invariants of the architecture
// review pipeline: projects, files, chunks, vectors, clusters, findings, and
// reports. Types here carry no I/O; persistence is expressed as narrow
// interfaces implemented by internal/store and internal/blob.
package domain

import "time"

// ProjectStatus is the closed set of lifecycle states a Project may be in.
type ProjectStatus string

// Project lifecycle states, per spec: Created -> FilesReady -> Queued ->
// Analyzing -> (Completed | Failed), with an administrative Reset that
// returns Analyzing|Queued|Failed -> FilesReady.
const (
	ProjectCreated    ProjectStatus = "Created"
	ProjectFilesReady ProjectStatus = "FilesReady"
	ProjectQueued     ProjectStatus = "Queued"
	ProjectAnalyzing  ProjectStatus = "Analyzing"
	ProjectCompleted  ProjectStatus = "Completed"
	ProjectFailed     ProjectStatus = "Failed"
)

// validTransitions enumerates every allowed forward edge plus the
// administrative Reset edges. A transition not present here is rejected by
// CanTransition.
var validTransitions = map[ProjectStatus]map[ProjectStatus]bool{
	ProjectCreated: {
		ProjectFilesReady: true,
	},
	ProjectFilesReady: {
		ProjectQueued: true,
	},
	ProjectQueued: {
		ProjectAnalyzing: true,
		ProjectFilesReady: true, // Reset
	},
	ProjectAnalyzing: {
		ProjectCompleted: true,
		ProjectFailed:     true,
		ProjectFilesReady: true, // Reset
	},
	ProjectFailed: {
		ProjectFilesReady: true, // Reset
	},
	ProjectCompleted: {},
}

// CanTransition reports whether moving from "from" to "to" is a legal edge.
func CanTransition(from, to ProjectStatus) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}

	return edges[to]
}

// ProjectOrigin distinguishes how the source tree was obtained.
type ProjectOrigin string

// Supported project origins.
const (
	OriginArchive   ProjectOrigin = "archive"
	OriginRemoteURL ProjectOrigin = "remote-url"
)

// Project is the root entity of an architecture review: one repository
// snapshot under analysis.
type Project struct {
	ID              string
	Name            string
	Origin          ProjectOrigin
	StoragePointer  string
	Status          ProjectStatus
	OwningCredentialID string
	FileCount       int
	TotalLOC        int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Transition attempts to move the project to "to", returning false (and
// leaving the project unchanged) if the edge is not legal.
func (p *Project) Transition(to ProjectStatus, now time.Time) bool {
	if !CanTransition(p.Status, to) {
		return false
	}

	p.Status = to
	p.UpdatedAt = now

	return true
}

// FileRecord is one analyzable file inside a Project. Immutable after
// ingestion.
type FileRecord struct {
	ID          string
	ProjectID   string
	RelPath     string
	Extension   string
	SizeBytes   int64
	ContentHash string
	LOC         int
	TotalLines  int
}

// ProjectStore is the relational persistence contract for Project and
// FileRecord. It is an external collaborator per SPEC_FULL.md §10.6; a
// concrete sqlite-backed implementation lives in internal/store/sqlite for
// local development and tests.
type ProjectStore interface {
	CreateProject(p *Project) error
	GetProject(id string) (*Project, error)
	UpdateProject(p *Project) error
	DeleteProject(id string) error

	PutFileRecords(projectID string, files []FileRecord) error
	ListFileRecords(projectID string) ([]FileRecord, error)
	DeleteFileRecords(projectID string) error
}
