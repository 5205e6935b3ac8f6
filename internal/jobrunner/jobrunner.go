// Package jobrunner drives the Job Runner state machine (spec.md §4.11):
// it consumes StartAnalysisCommands from the bus and, per project, walks
// it from FilesReady through Analyzing to Completed or Failed.
package jobrunner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/archreview/archreview/internal/aggregator"
	"github.com/archreview/archreview/internal/archive"
	"github.com/archreview/archreview/internal/blob"
	"github.com/archreview/archreview/internal/bus"
	"github.com/archreview/archreview/internal/chunker"
	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/domain"
	"github.com/archreview/archreview/internal/embedding"
	"github.com/archreview/archreview/internal/observability"
	"github.com/archreview/archreview/internal/orchestrator"
	"github.com/archreview/archreview/internal/progress"
	"github.com/archreview/archreview/internal/resilience"
	"github.com/archreview/archreview/internal/router"
	"github.com/archreview/archreview/internal/vectorstore"
	"github.com/archreview/archreview/internal/watchdog"
)

// blobPrefix returns the storage prefix a project's blob objects live
// under, used both when writing the uploaded archive (outside this
// package, at ingestion time) and when Delete removes everything for a
// project.
func blobPrefix(projectID string) string {
	return "projects/" + projectID
}

// eventPublisher is the slice of *bus.Bus the Job Runner actually needs.
// Accepting the interface rather than the concrete type keeps the Job
// Runner usable in tests without a live NATS connection.
type eventPublisher interface {
	PublishStarted(bus.AnalysisStartedEvent) error
	PublishCompleted(bus.AnalysisCompletedEvent) error
	PublishFailed(bus.AnalysisFailedEvent) error
}

// Runner implements the Job Runner of spec.md §4.11.
type Runner struct {
	projects    domain.ProjectStore
	chunks      domain.ChunkStore
	reports     domain.ReportStore
	checkpoints domain.CheckpointStore
	blobStore   blob.Store
	bus         eventPublisher
	progressPub *progress.Publisher
	wd          *watchdog.Watchdog
	router      *router.Router
	routerCfg   config.RouterConfig
	chunkerC    *chunker.Chunker
	embedC      *embedding.Client
	vectors     vectorstore.Store
	orch        *orchestrator.Orchestrator
	agg         *aggregator.Aggregator
	jrCfg       config.JobRunnerConfig
	logger      *slog.Logger
	metrics     *observability.PipelineMetrics
}

// New builds a Runner from its collaborators. Every collaborator is
// already fully wired by the caller's composition root: embedC's
// underlying embedder and vectors are expected to already be wrapped by
// the resilience decorators (resilience.ResilientEmbedder /
// resilience.ResilientVectorStore), and agg's chat completer by
// resilience.ResilientChatCompleter, per spec.md §4.14.
func New(
	projects domain.ProjectStore,
	chunks domain.ChunkStore,
	reports domain.ReportStore,
	checkpoints domain.CheckpointStore,
	blobStore blob.Store,
	b eventPublisher,
	progressPub *progress.Publisher,
	wd *watchdog.Watchdog,
	r *router.Router,
	routerCfg config.RouterConfig,
	chunkerC *chunker.Chunker,
	embedC *embedding.Client,
	vectors vectorstore.Store,
	orch *orchestrator.Orchestrator,
	agg *aggregator.Aggregator,
	jrCfg config.JobRunnerConfig,
	logger *slog.Logger,
	metrics *observability.PipelineMetrics,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		projects: projects, chunks: chunks, reports: reports, checkpoints: checkpoints, blobStore: blobStore,
		bus: b, progressPub: progressPub, wd: wd, router: r, routerCfg: routerCfg,
		chunkerC: chunkerC, embedC: embedC, vectors: vectors, orch: orch, agg: agg,
		jrCfg: jrCfg, logger: logger, metrics: metrics,
	}
}

// HandleStartAnalysis is the bus.CommandHandler for StartAnalysisCommand,
// implementing the 8-step pipeline of spec.md §4.11.
func (r *Runner) HandleStartAnalysis(ctx context.Context, cmd bus.StartAnalysisCommand) error {
	start := time.Now()

	project, err := r.projects.GetProject(cmd.ProjectID)
	if err != nil {
		return domain.Wrap(domain.CodeProjectNotFound, domain.KindFatal, "load project", err)
	}

	if project.Status != domain.ProjectFilesReady {
		return domain.NewError(domain.CodeProjectAlreadyAnalyzing, domain.KindValidation,
			fmt.Sprintf("project %s is not in FilesReady (status=%s)", project.ID, project.Status))
	}

	if !project.Transition(domain.ProjectQueued, time.Now()) {
		return domain.NewError(domain.CodeInternal, domain.KindFatal, "queued transition rejected")
	}

	if err := r.projects.UpdateProject(project); err != nil {
		return domain.Wrap(domain.CodeInternal, domain.KindTransient, "persist queued transition", err)
	}

	if !project.Transition(domain.ProjectAnalyzing, time.Now()) {
		return domain.NewError(domain.CodeInternal, domain.KindFatal, "analyzing transition rejected")
	}

	if err := r.projects.UpdateProject(project); err != nil {
		return domain.Wrap(domain.CodeInternal, domain.KindTransient, "persist analyzing transition", err)
	}

	if err := r.bus.PublishStarted(bus.AnalysisStartedEvent{ProjectID: project.ID, CorrelationID: cmd.CorrelationID, StartedAt: time.Now()}); err != nil {
		r.logger.Warn("jobrunner: publish started event failed", "project_id", project.ID, "error", err)
	}

	scratchDir := filepath.Join(r.jrCfg.ScratchDir, project.ID)

	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			r.logger.Warn("jobrunner: scratch dir cleanup failed", "project_id", project.ID, "error", err)
		}
	}()

	extractStart := time.Now()
	extractedDir, err := r.extractProject(ctx, project, scratchDir)
	r.metrics.RecordStage(ctx, "extract", time.Since(extractStart).Seconds())

	if err != nil {
		if resilience.IsTransient(err) {
			return err
		}

		return r.failJob(project, cmd.CorrelationID, domain.CodeProjectInvalidZipFile, err)
	}

	routeStart := time.Now()
	plans, estimate, err := r.buildPlan(extractedDir)
	r.metrics.RecordStage(ctx, "route", time.Since(routeStart).Seconds())

	if err != nil {
		return r.failJob(project, cmd.CorrelationID, domain.CodeInternal, err)
	}

	analyzable := estimate.FileCount - estimate.CountsByDecision[router.DecisionSkipped]
	if analyzable == 0 {
		return r.failJob(project, cmd.CorrelationID, domain.CodeProjectNoFilesToAnalyze,
			fmt.Errorf("no analyzable files found"))
	}

	if estimate.RequiresApproval && !cmd.ApprovalGranted {
		return r.failJob(project, cmd.CorrelationID, domain.CodeApprovalRequired,
			fmt.Errorf("preflight requires approval (estimated tokens=%d)", estimate.EstimatedTokens))
	}

	indexStart := time.Now()
	indexErr := r.index(ctx, project, extractedDir, plans)
	r.metrics.RecordStage(ctx, "index", time.Since(indexStart).Seconds())

	if indexErr != nil {
		if resilience.IsTransient(indexErr) {
			return indexErr
		}

		return r.failJob(project, cmd.CorrelationID, domain.CodeVectorStoreVerification, indexErr)
	}

	analyzeStart := time.Now()
	results := r.orch.Run(ctx, project.ID, extractedDir)
	r.metrics.RecordStage(ctx, "analyze", time.Since(analyzeStart).Seconds())

	aggregateStart := time.Now()
	report, _, err := r.agg.Aggregate(ctx, project.ID, results, time.Since(start))
	r.metrics.RecordStage(ctx, "aggregate", time.Since(aggregateStart).Seconds())

	if err != nil {
		if resilience.IsTransient(err) {
			return err
		}

		return r.failJob(project, cmd.CorrelationID, domain.CodeReportGenerationFailed, err)
	}

	if !project.Transition(domain.ProjectCompleted, time.Now()) {
		return domain.NewError(domain.CodeInternal, domain.KindFatal, "completed transition rejected")
	}

	if err := r.projects.UpdateProject(project); err != nil {
		return domain.Wrap(domain.CodeInternal, domain.KindTransient, "persist completed transition", err)
	}

	if err := r.bus.PublishCompleted(bus.AnalysisCompletedEvent{
		ProjectID: project.ID, ReportID: report.ID, Success: true,
		Duration: time.Since(start), CorrelationID: cmd.CorrelationID,
	}); err != nil {
		r.logger.Warn("jobrunner: publish completed event failed", "project_id", project.ID, "error", err)
	}

	return nil
}

// failJob transitions project to Failed, persists the error message,
// emits AnalysisFailedEvent, and returns the originating domain.Error for
// the bus to terminate the message on (non-transient failures are never
// redelivered).
func (r *Runner) failJob(project *domain.Project, correlationID, code string, cause error) error {
	project.ErrorMessage = cause.Error()

	if !project.Transition(domain.ProjectFailed, time.Now()) {
		r.logger.Error("jobrunner: failed transition rejected", "project_id", project.ID, "from", project.Status)
	}

	if err := r.projects.UpdateProject(project); err != nil {
		r.logger.Error("jobrunner: persist failed status", "project_id", project.ID, "error", err)
	}

	if err := r.bus.PublishFailed(bus.AnalysisFailedEvent{
		ProjectID: project.ID, ErrorMessage: cause.Error(), CorrelationID: correlationID,
	}); err != nil {
		r.logger.Warn("jobrunner: publish failed event failed", "project_id", project.ID, "error", err)
	}

	return domain.Wrap(code, domain.KindSemantic, "analysis failed", cause)
}

// extractProject resolves the project's archive from blob storage into
// scratchDir/source and extracts it into scratchDir/extracted, refusing
// path-traversal entries and enforcing the configured size bound (spec.md
// §4.11 step 3).
func (r *Runner) extractProject(ctx context.Context, project *domain.Project, scratchDir string) (string, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("jobrunner: create scratch dir: %w", err)
	}

	format := archive.DetectFormat(project.StoragePointer)
	if format == archive.FormatUnknown {
		return "", fmt.Errorf("jobrunner: unsupported archive format for %q", project.StoragePointer)
	}

	rc, err := r.blobStore.Get(ctx, project.StoragePointer)
	if err != nil {
		return "", fmt.Errorf("jobrunner: fetch archive: %w", err)
	}
	defer rc.Close()

	srcPath := filepath.Join(scratchDir, "source")

	if err := writeToFile(srcPath, rc); err != nil {
		return "", err
	}

	extractedDir := filepath.Join(scratchDir, "extracted")
	if err := os.MkdirAll(extractedDir, 0o755); err != nil {
		return "", fmt.Errorf("jobrunner: create extraction dir: %w", err)
	}

	limits := archive.Limits{MaxTotalBytes: r.jrCfg.MaxExtractedBytes, MaxEntries: r.jrCfg.MaxExtractedEntries}
	if err := archive.Extract(srcPath, format, extractedDir, limits); err != nil {
		return "", fmt.Errorf("jobrunner: extract archive: %w", err)
	}

	return extractedDir, nil
}

func writeToFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("jobrunner: create %q: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("jobrunner: write %q: %w", path, err)
	}

	return nil
}

// buildPlan walks extractedDir, routes every regular file, and persists
// FileRecords, returning the routing plans and a preflight estimate
// (spec.md §4.11 step 4, §4.2).
func (r *Runner) buildPlan(extractedDir string) ([]router.FileAnalysisPlan, router.PreflightEstimate, error) {
	var plans []router.FileAnalysisPlan

	err := filepath.WalkDir(extractedDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(extractedDir, path)
		if err != nil {
			return err
		}

		plans = append(plans, r.router.Route(filepath.ToSlash(relPath), info.Size(), -1))

		return nil
	})
	if err != nil {
		return nil, router.PreflightEstimate{}, fmt.Errorf("jobrunner: walk extracted tree: %w", err)
	}

	return plans, router.Preflight(r.routerCfg, plans), nil
}

// index runs the Chunker -> Embedder -> Vector Store pipeline over every
// file routed to RagChunks, reporting progress and a Watchdog heartbeat
// once per file (spec.md §4.11 step 5).
func (r *Runner) index(ctx context.Context, project *domain.Project, extractedDir string, plans []router.FileAnalysisPlan) error {
	var ragFiles []router.FileAnalysisPlan

	for _, p := range plans {
		if p.Decision == router.DecisionRagChunks {
			ragFiles = append(ragFiles, p)
		}
	}

	total := len(ragFiles)

	for i, plan := range ragFiles {
		opCtx, cancel := context.WithCancel(ctx)
		handle := r.wd.Track(watchdog.Key{ProjectID: project.ID, BatchStartOffset: i}, total, cancel)

		err := r.indexOne(opCtx, project, extractedDir, plan)

		handle.Heartbeat()
		handle.Release()
		cancel()

		if err != nil {
			return fmt.Errorf("jobrunner: index %q: %w", plan.RelPath, err)
		}

		if r.progressPub != nil {
			r.progressPub.Publish(progress.Update{
				ProjectID: project.ID, Phase: "indexing", Percent: float64(i+1) / float64(total) * 100,
				CurrentFile: plan.RelPath, FilesProcessed: i + 1, TotalFiles: total,
			})
		}
	}

	return nil
}

func (r *Runner) indexOne(ctx context.Context, project *domain.Project, extractedDir string, plan router.FileAnalysisPlan) error {
	content, err := os.ReadFile(filepath.Join(extractedDir, filepath.FromSlash(plan.RelPath)))
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	chunks, err := r.chunkerC.ChunkFile(ctx, project.ID, plan.RelPath, content)
	if err != nil {
		return fmt.Errorf("chunk file: %w", err)
	}

	if len(chunks) == 0 {
		return nil
	}

	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid chunk: %w", err)
		}
	}

	if err := r.chunks.PutChunks(project.ID, chunks); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := r.embedC.EmbedBatched(ctx, texts, nil)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	entries := make([]domain.VectorEntry, len(chunks))

	for i, c := range chunks {
		entries[i] = domain.VectorEntry{
			ChunkHash: c.ChunkHash,
			Vector:    vectors[i],
			Payload: domain.VectorPayload{
				ProjectID: project.ID, FilePath: c.FilePath, StartLine: c.StartLine, EndLine: c.EndLine,
				Language: c.Language, SemanticType: c.SemanticType, SemanticName: c.SemanticName,
				ChunkIndex: c.ChunkIndex, TotalChunks: c.TotalChunks, ChunkHash: c.ChunkHash,
			},
		}
	}

	if err := r.vectors.IndexBatch(ctx, project.ID, entries); err != nil {
		return fmt.Errorf("index vectors: %w", err)
	}

	return nil
}

// Reset deletes a project's vector entries, chunk records, and job
// checkpoints, returning its status to FilesReady (spec.md §4.11
// "Reset").
func (r *Runner) Reset(ctx context.Context, projectID string) error {
	project, err := r.projects.GetProject(projectID)
	if err != nil {
		return domain.Wrap(domain.CodeProjectNotFound, domain.KindFatal, "load project", err)
	}

	if err := r.vectors.DeleteByProject(ctx, projectID); err != nil {
		return fmt.Errorf("jobrunner: reset: delete vectors: %w", err)
	}

	if err := r.chunks.DeleteChunks(projectID); err != nil {
		return fmt.Errorf("jobrunner: reset: delete chunks: %w", err)
	}

	if err := r.checkpoints.DeleteCheckpoint(projectID); err != nil {
		return fmt.Errorf("jobrunner: reset: delete checkpoint: %w", err)
	}

	if !project.Transition(domain.ProjectFilesReady, time.Now()) {
		return domain.NewError(domain.CodeInternal, domain.KindFatal, "reset transition rejected from "+string(project.Status))
	}

	if err := r.projects.UpdateProject(project); err != nil {
		return fmt.Errorf("jobrunner: reset: persist status: %w", err)
	}

	return nil
}

// Delete removes every record and artifact belonging to a project, in
// the order spec.md §4.11 specifies: ReviewFindings (via the Report
// delete), vector entries, chunks, job checkpoints, blob storage prefix,
// then the Project record itself (which cascades to FileRecords).
// Every underlying delete is idempotent, so a caller that retries Delete
// after a failure safely resumes rather than re-applying completed
// steps — the closest approximation of a cross-store transaction
// available without a distributed coordinator.
func (r *Runner) Delete(ctx context.Context, projectID string) error {
	if _, err := r.projects.GetProject(projectID); err != nil {
		return domain.Wrap(domain.CodeProjectNotFound, domain.KindFatal, "load project", err)
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"delete report and findings", func() error { return r.reportStoreDeleteReport(projectID) }},
		{"delete vectors", func() error { return r.vectors.DeleteByProject(ctx, projectID) }},
		{"delete chunks", func() error { return r.chunks.DeleteChunks(projectID) }},
		{"delete checkpoint", func() error { return r.checkpoints.DeleteCheckpoint(projectID) }},
		{"delete blob prefix", func() error { return r.blobStore.DeletePrefix(ctx, blobPrefix(projectID)) }},
		{"delete project", func() error { return r.projects.DeleteProject(projectID) }},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("jobrunner: delete: %s: %w", step.name, err)
		}
	}

	return nil
}

// reportStoreDeleteReport treats "no report yet" (a project deleted
// before it ever reached Completed) as a no-op rather than an aborting
// failure.
func (r *Runner) reportStoreDeleteReport(projectID string) error {
	if r.reports == nil {
		return nil
	}

	return r.reports.DeleteReport(projectID)
}
