// Package sqlite implements the domain package's relational persistence
// contracts (ProjectStore, ChunkStore, ReportStore, CheckpointStore) on
// top of modernc.org/sqlite, for local development and tests
// (SPEC_FULL.md §10.6). Production deployments are expected to supply
// their own implementation of the same interfaces against a managed
// database.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/archreview/archreview/internal/domain"
)

// Store implements domain.ProjectStore, domain.ChunkStore,
// domain.ReportStore, and domain.CheckpointStore against a single SQLite
// database file.
type Store struct {
	db *sql.DB
}

var (
	_ domain.ProjectStore    = (*Store)(nil)
	_ domain.ChunkStore      = (*Store)(nil)
	_ domain.ReportStore     = (*Store)(nil)
	_ domain.CheckpointStore = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	origin               TEXT NOT NULL,
	storage_pointer      TEXT NOT NULL,
	status               TEXT NOT NULL,
	owning_credential_id TEXT,
	file_count           INTEGER NOT NULL DEFAULT 0,
	total_loc            INTEGER NOT NULL DEFAULT 0,
	error_message        TEXT,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_records (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	rel_path     TEXT NOT NULL,
	extension    TEXT,
	size_bytes   INTEGER NOT NULL,
	content_hash TEXT,
	loc          INTEGER NOT NULL DEFAULT 0,
	total_lines  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_file_records_project ON file_records(project_id);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_hash    TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	file_path     TEXT NOT NULL,
	start_line    INTEGER NOT NULL,
	end_line      INTEGER NOT NULL,
	language      TEXT,
	semantic_type TEXT NOT NULL,
	semantic_name TEXT NOT NULL,
	chunk_index   INTEGER NOT NULL,
	total_chunks  INTEGER NOT NULL,
	token_count   INTEGER NOT NULL DEFAULT 0,
	text          TEXT NOT NULL,
	text_hash     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project_id);

CREATE TABLE IF NOT EXISTS reports (
	id                 TEXT PRIMARY KEY,
	project_id         TEXT NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
	summary            TEXT NOT NULL,
	recommendations    TEXT NOT NULL,
	health_score       INTEGER NOT NULL,
	severity_counts    TEXT NOT NULL,
	analysis_duration  INTEGER NOT NULL,
	version            TEXT NOT NULL,
	rendered_artifacts TEXT NOT NULL,
	created_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_findings (
	id               TEXT PRIMARY KEY,
	project_id       TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	report_id        TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	file_path        TEXT,
	symbol           TEXT,
	start_line       INTEGER NOT NULL DEFAULT 0,
	end_line         INTEGER NOT NULL DEFAULT 0,
	category         TEXT NOT NULL,
	severity         TEXT NOT NULL,
	description      TEXT,
	explanation      TEXT,
	suggested_fix    TEXT,
	fixed_snippet    TEXT,
	original_snippet TEXT,
	confidence       REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_review_findings_report ON review_findings(report_id);

CREATE TABLE IF NOT EXISTS job_checkpoints (
	project_id  TEXT PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
	phase       TEXT NOT NULL,
	last_offset INTEGER NOT NULL,
	updated_at  TEXT NOT NULL
);
`

// Open creates (if necessary) and opens the SQLite database at dbPath,
// initializing its schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store/sqlite: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/sqlite: enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/sqlite: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// === Project ===

// CreateProject inserts p, assigning an ID and timestamps if unset.
func (s *Store) CreateProject(p *domain.Project) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, origin, storage_pointer, status, owning_credential_id,
			file_count, total_loc, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, string(p.Origin), p.StoragePointer, string(p.Status), p.OwningCredentialID,
		p.FileCount, p.TotalLOC, p.ErrorMessage, p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store/sqlite: create project: %w", err)
	}

	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(id string) (*domain.Project, error) {
	var p domain.Project
	var origin, status, createdAt, updatedAt string
	var owningCredentialID, errorMessage sql.NullString

	err := s.db.QueryRow(`
		SELECT id, name, origin, storage_pointer, status, owning_credential_id,
			file_count, total_loc, error_message, created_at, updated_at
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &origin, &p.StoragePointer, &status, &owningCredentialID,
		&p.FileCount, &p.TotalLOC, &errorMessage, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.NewError(domain.CodeProjectNotFound, domain.KindValidation, "project not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: get project: %w", err)
	}

	p.Origin = domain.ProjectOrigin(origin)
	p.Status = domain.ProjectStatus(status)
	p.OwningCredentialID = owningCredentialID.String
	p.ErrorMessage = errorMessage.String
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &p, nil
}

// UpdateProject overwrites every mutable field of an existing project.
func (s *Store) UpdateProject(p *domain.Project) error {
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.Exec(`
		UPDATE projects
		SET name = ?, origin = ?, storage_pointer = ?, status = ?, owning_credential_id = ?,
			file_count = ?, total_loc = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, string(p.Origin), p.StoragePointer, string(p.Status), p.OwningCredentialID,
		p.FileCount, p.TotalLOC, p.ErrorMessage, p.UpdatedAt.Format(time.RFC3339Nano), p.ID)
	if err != nil {
		return fmt.Errorf("store/sqlite: update project: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.NewError(domain.CodeProjectNotFound, domain.KindValidation, "project not found: "+p.ID)
	}

	return nil
}

// DeleteProject removes a project and, via ON DELETE CASCADE, every
// owned file_records/chunks/reports/review_findings/job_checkpoints row.
func (s *Store) DeleteProject(id string) error {
	result, err := s.db.Exec("DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store/sqlite: delete project: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.NewError(domain.CodeProjectNotFound, domain.KindValidation, "project not found: "+id)
	}

	return nil
}

// PutFileRecords replaces every FileRecord owned by projectID in a single
// transaction.
func (s *Store) PutFileRecords(projectID string, files []domain.FileRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store/sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM file_records WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("store/sqlite: clear file records: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO file_records (id, project_id, rel_path, extension, size_bytes, content_hash, loc, total_lines)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store/sqlite: prepare file record insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}

		if _, err := stmt.Exec(f.ID, projectID, f.RelPath, f.Extension, f.SizeBytes, f.ContentHash, f.LOC, f.TotalLines); err != nil {
			return fmt.Errorf("store/sqlite: insert file record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store/sqlite: commit file records: %w", err)
	}

	return nil
}

// ListFileRecords returns every FileRecord owned by projectID.
func (s *Store) ListFileRecords(projectID string) ([]domain.FileRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, rel_path, extension, size_bytes, content_hash, loc, total_lines
		FROM file_records WHERE project_id = ? ORDER BY rel_path
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: list file records: %w", err)
	}
	defer rows.Close()

	var out []domain.FileRecord
	for rows.Next() {
		var f domain.FileRecord
		var extension, contentHash sql.NullString

		if err := rows.Scan(&f.ID, &f.ProjectID, &f.RelPath, &extension, &f.SizeBytes, &contentHash, &f.LOC, &f.TotalLines); err != nil {
			return nil, fmt.Errorf("store/sqlite: scan file record: %w", err)
		}

		f.Extension = extension.String
		f.ContentHash = contentHash.String
		out = append(out, f)
	}

	return out, rows.Err()
}

// DeleteFileRecords removes every FileRecord owned by projectID.
func (s *Store) DeleteFileRecords(projectID string) error {
	if _, err := s.db.Exec("DELETE FROM file_records WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("store/sqlite: delete file records: %w", err)
	}

	return nil
}

// === Chunk ===

// PutChunks replaces every Chunk owned by projectID in a single
// transaction.
func (s *Store) PutChunks(projectID string, chunks []domain.Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store/sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunks WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("store/sqlite: clear chunks: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (chunk_hash, project_id, file_path, start_line, end_line, language,
			semantic_type, semantic_name, chunk_index, total_chunks, token_count, text, text_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store/sqlite: prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.Exec(c.ChunkHash, projectID, c.FilePath, c.StartLine, c.EndLine, c.Language,
			string(c.SemanticType), c.SemanticName, c.ChunkIndex, c.TotalChunks, c.TokenCount, c.Text, c.TextHash); err != nil {
			return fmt.Errorf("store/sqlite: insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store/sqlite: commit chunks: %w", err)
	}

	return nil
}

// ListChunks returns every Chunk owned by projectID, ordered by file path
// then chunk index.
func (s *Store) ListChunks(projectID string) ([]domain.Chunk, error) {
	rows, err := s.db.Query(`
		SELECT chunk_hash, project_id, file_path, start_line, end_line, language,
			semantic_type, semantic_name, chunk_index, total_chunks, token_count, text, text_hash
		FROM chunks WHERE project_id = ? ORDER BY file_path, chunk_index
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: list chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var semanticType string

		if err := rows.Scan(&c.ChunkHash, &c.ProjectID, &c.FilePath, &c.StartLine, &c.EndLine, &c.Language,
			&semanticType, &c.SemanticName, &c.ChunkIndex, &c.TotalChunks, &c.TokenCount, &c.Text, &c.TextHash); err != nil {
			return nil, fmt.Errorf("store/sqlite: scan chunk: %w", err)
		}

		c.SemanticType = domain.SemanticType(semanticType)
		out = append(out, c)
	}

	return out, rows.Err()
}

// DeleteChunks removes every Chunk owned by projectID.
func (s *Store) DeleteChunks(projectID string) error {
	if _, err := s.db.Exec("DELETE FROM chunks WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("store/sqlite: delete chunks: %w", err)
	}

	return nil
}

// === Report ===

// SaveReport persists r and its findings atomically, replacing any prior
// report for the same project (the "at most one Report per Project"
// invariant of domain.Report).
func (s *Store) SaveReport(r *domain.Report, findings []domain.ReviewFinding) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	recommendationsJSON, err := json.Marshal(r.Recommendations)
	if err != nil {
		return fmt.Errorf("store/sqlite: marshal recommendations: %w", err)
	}

	severityCountsJSON, err := json.Marshal(r.SeverityCounts)
	if err != nil {
		return fmt.Errorf("store/sqlite: marshal severity counts: %w", err)
	}

	renderedArtifactsJSON, err := json.Marshal(r.RenderedArtifacts)
	if err != nil {
		return fmt.Errorf("store/sqlite: marshal rendered artifacts: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store/sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM reports WHERE project_id = ?", r.ProjectID); err != nil {
		return fmt.Errorf("store/sqlite: clear prior report: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO reports (id, project_id, summary, recommendations, health_score, severity_counts,
			analysis_duration, version, rendered_artifacts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ProjectID, r.Summary, string(recommendationsJSON), r.HealthScore, string(severityCountsJSON),
		int64(r.AnalysisDuration), r.Version, string(renderedArtifactsJSON), r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store/sqlite: insert report: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO review_findings (id, project_id, report_id, file_path, symbol, start_line, end_line,
			category, severity, description, explanation, suggested_fix, fixed_snippet, original_snippet, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store/sqlite: prepare finding insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range findings {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}

		if _, err := stmt.Exec(f.ID, r.ProjectID, r.ID, f.FilePath, f.Symbol, f.StartLine, f.EndLine,
			string(f.Category), string(f.Severity), f.Description, f.Explanation, f.SuggestedFix,
			f.FixedSnippet, f.OriginalSnippet, f.Confidence); err != nil {
			return fmt.Errorf("store/sqlite: insert finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store/sqlite: commit report: %w", err)
	}

	return nil
}

// GetReport fetches the single report for a project. Findings are not
// loaded; ListFindings returns them. This matches the domain.ReportStore
// contract.
func (s *Store) GetReport(projectID string) (*domain.Report, error) {
	var r domain.Report
	var recommendationsJSON, severityCountsJSON, renderedArtifactsJSON, createdAt string
	var analysisDurationNanos int64

	err := s.db.QueryRow(`
		SELECT id, project_id, summary, recommendations, health_score, severity_counts,
			analysis_duration, version, rendered_artifacts, created_at
		FROM reports WHERE project_id = ?
	`, projectID).Scan(&r.ID, &r.ProjectID, &r.Summary, &recommendationsJSON, &r.HealthScore, &severityCountsJSON,
		&analysisDurationNanos, &r.Version, &renderedArtifactsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.NewError(domain.CodeReportNotFound, domain.KindValidation, "report not found: "+projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: get report: %w", err)
	}

	if err := json.Unmarshal([]byte(recommendationsJSON), &r.Recommendations); err != nil {
		return nil, fmt.Errorf("store/sqlite: unmarshal recommendations: %w", err)
	}

	if err := json.Unmarshal([]byte(severityCountsJSON), &r.SeverityCounts); err != nil {
		return nil, fmt.Errorf("store/sqlite: unmarshal severity counts: %w", err)
	}

	if err := json.Unmarshal([]byte(renderedArtifactsJSON), &r.RenderedArtifacts); err != nil {
		return nil, fmt.Errorf("store/sqlite: unmarshal rendered artifacts: %w", err)
	}

	r.AnalysisDuration = time.Duration(analysisDurationNanos)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	return &r, nil
}

// ListFindings returns every ReviewFinding belonging to a project's
// report, ordered by severity rank then file path. Not part of the
// domain.ReportStore contract; it serves callers that want the findings
// alongside the report.
func (s *Store) ListFindings(projectID string) ([]domain.ReviewFinding, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, report_id, file_path, symbol, start_line, end_line,
			category, severity, description, explanation, suggested_fix, fixed_snippet, original_snippet, confidence
		FROM review_findings WHERE project_id = ?
		ORDER BY CASE severity
			WHEN 'Critical' THEN 0 WHEN 'High' THEN 1 WHEN 'Medium' THEN 2
			WHEN 'Low' THEN 3 WHEN 'Info' THEN 4 ELSE 5 END, file_path
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: list findings: %w", err)
	}
	defer rows.Close()

	var out []domain.ReviewFinding
	for rows.Next() {
		var f domain.ReviewFinding
		var category, severity string

		if err := rows.Scan(&f.ID, &f.ProjectID, &f.ReportID, &f.FilePath, &f.Symbol, &f.StartLine, &f.EndLine,
			&category, &severity, &f.Description, &f.Explanation, &f.SuggestedFix, &f.FixedSnippet,
			&f.OriginalSnippet, &f.Confidence); err != nil {
			return nil, fmt.Errorf("store/sqlite: scan finding: %w", err)
		}

		f.Category = domain.Category(category)
		f.Severity = domain.Severity(severity)
		out = append(out, f)
	}

	return out, rows.Err()
}

// DeleteReport removes the report (and, via ON DELETE CASCADE, its
// findings) for a project.
func (s *Store) DeleteReport(projectID string) error {
	if _, err := s.db.Exec("DELETE FROM reports WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("store/sqlite: delete report: %w", err)
	}

	return nil
}

// === Checkpoint ===

// SaveCheckpoint upserts a JobCheckpoint.
func (s *Store) SaveCheckpoint(c domain.JobCheckpoint) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO job_checkpoints (project_id, phase, last_offset, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET phase = excluded.phase,
			last_offset = excluded.last_offset, updated_at = excluded.updated_at
	`, c.ProjectID, c.Phase, c.LastOffset, c.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store/sqlite: save checkpoint: %w", err)
	}

	return nil
}

// LoadCheckpoint fetches the checkpoint for projectID, or nil if none
// exists.
func (s *Store) LoadCheckpoint(projectID string) (*domain.JobCheckpoint, error) {
	var c domain.JobCheckpoint
	var updatedAt string

	err := s.db.QueryRow(`
		SELECT project_id, phase, last_offset, updated_at FROM job_checkpoints WHERE project_id = ?
	`, projectID).Scan(&c.ProjectID, &c.Phase, &c.LastOffset, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: load checkpoint: %w", err)
	}

	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &c, nil
}

// DeleteCheckpoint removes the checkpoint for projectID, if any.
func (s *Store) DeleteCheckpoint(projectID string) error {
	if _, err := s.db.Exec("DELETE FROM job_checkpoints WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("store/sqlite: delete checkpoint: %w", err)
	}

	return nil
}
