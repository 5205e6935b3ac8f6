// Package app is the composition root: it builds every collaborator the
// spec's modules depend on (stores, blob and vector backends, the LLM
// provider, the resilience decorators, and the Job Runner itself) from a
// config.Config, and exposes the two ways archreview is driven — the
// long-running worker loop and the one-shot CLI analyze path.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/archreview/archreview/internal/agents"
	"github.com/archreview/archreview/internal/aggregator"
	"github.com/archreview/archreview/internal/blob"
	"github.com/archreview/archreview/internal/blob/fs"
	"github.com/archreview/archreview/internal/bus"
	"github.com/archreview/archreview/internal/chunker"
	"github.com/archreview/archreview/internal/cluster"
	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/domain"
	"github.com/archreview/archreview/internal/embedding"
	"github.com/archreview/archreview/internal/jobrunner"
	"github.com/archreview/archreview/internal/llm"
	"github.com/archreview/archreview/internal/observability"
	"github.com/archreview/archreview/internal/orchestrator"
	"github.com/archreview/archreview/internal/progress"
	"github.com/archreview/archreview/internal/resilience"
	"github.com/archreview/archreview/internal/router"
	"github.com/archreview/archreview/internal/staticanalysis"
	"github.com/archreview/archreview/internal/store/sqlite"
	"github.com/archreview/archreview/internal/tokenizer"
	"github.com/archreview/archreview/internal/vectorstore"
	"github.com/archreview/archreview/internal/watchdog"
	"github.com/archreview/archreview/pkg/uast"
)

// noopEventPublisher discards lifecycle events. Used for the one-shot CLI
// analyze path, which has no bus connection and reads the Report back
// directly instead of waiting on an AnalysisCompletedEvent.
type noopEventPublisher struct{}

func (noopEventPublisher) PublishStarted(bus.AnalysisStartedEvent) error     { return nil }
func (noopEventPublisher) PublishCompleted(bus.AnalysisCompletedEvent) error { return nil }
func (noopEventPublisher) PublishFailed(bus.AnalysisFailedEvent) error       { return nil }

// eventPublisher mirrors jobrunner's unexported eventPublisher interface
// structurally, so buildRunner can accept either *bus.Bus or
// noopEventPublisher without jobrunner needing to export the type.
type eventPublisher interface {
	PublishStarted(bus.AnalysisStartedEvent) error
	PublishCompleted(bus.AnalysisCompletedEvent) error
	PublishFailed(bus.AnalysisFailedEvent) error
}

// App owns every long-lived collaborator built from a Config. It is
// constructed once per process and torn down with Close.
type App struct {
	cfg config.Config

	store     *sqlite.Store
	blobStore blob.Store
	vectors   vectorstore.Store
	chunkerC  *chunker.Chunker
	embedC    *embedding.Client
	orch      *orchestrator.Orchestrator
	agg       *aggregator.Aggregator
	wd        *watchdog.Watchdog

	bus         *bus.Bus
	progressPub *progress.Publisher
	runner      *jobrunner.Runner

	obs     observability.Providers
	logger  *slog.Logger
	metrics *observability.PipelineMetrics
}

// Options bundles the non-config inputs New needs: where the sqlite
// database and blob root live, and the observability providers (already
// initialized by the caller via observability.Init so that tracing and
// logging are live before any collaborator is constructed).
type Options struct {
	DBPath    string
	BlobRoot  string
	Providers observability.Providers
}

// New builds every collaborator the pipeline depends on from cfg and
// wires the resilience decorators (resilience.Resilient*) around the raw
// LLM and vector-store clients before handing them to the Embedding
// Client, Agents, Aggregator, and Job Runner.
func New(cfg config.Config, opts Options) (*App, error) {
	logger := opts.Providers.Logger
	if logger == nil {
		logger = slog.Default()
	}

	meter := opts.Providers.Meter
	if meter == nil {
		meter = noopmetric.NewMeterProvider().Meter("archreview")
	}

	metrics, err := observability.NewPipelineMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("app: build pipeline metrics: %w", err)
	}

	store, err := sqlite.Open(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	blobStore, err := fs.New(opts.BlobRoot)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("app: open blob store: %w", err)
	}

	rawVectors, err := buildVectorStore(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	vectors := resilience.NewResilientVectorStore(rawVectors, cfg.Resilience)

	chatRaw, embedRaw, err := buildLLMClients(cfg)
	if err != nil {
		store.Close()
		vectors.Close()
		return nil, err
	}

	chat := resilience.NewResilientChatCompleter(chatRaw, cfg.Resilience)
	embedder := resilience.NewResilientEmbedder(embedRaw, cfg.Resilience)

	parser, err := uast.NewParser()
	if err != nil {
		store.Close()
		vectors.Close()
		return nil, fmt.Errorf("app: build uast parser: %w", err)
	}

	tok := tokenizer.NewHeuristicCounter()
	chunkerC := chunker.New(cfg.Chunker, tok, parser)
	embedC := embedding.New(embedder, tok, cfg.Embedding, logger, metrics)

	static := staticanalysis.New(parser)
	clusterBuilder := cluster.New(cfg.Cluster)

	agentList := []agents.Agent{
		agents.NewStructureAgent(),
		agents.NewArchitectureAdvisorAgent(chat),
		agents.NewSecurityAgent(chat),
		agents.NewCodeQualityAgent(static, clusterBuilder, cfg.Cluster, chat, cfg.Agent),
	}

	orch := orchestrator.New(agentList, logger)
	agg := aggregator.New(chat, store, metrics)

	wd := watchdog.New(
		cfg.Watchdog.CheckIntervalSeconds,
		cfg.Watchdog.MaxHeartbeatIntervalSeconds,
		cfg.Watchdog.MaxProjectDurationSeconds,
		cfg.Watchdog.AutoCancelStuck,
		logger,
	)

	a := &App{
		cfg:       cfg,
		store:     store,
		blobStore: blobStore,
		vectors:   vectors,
		chunkerC:  chunkerC,
		embedC:    embedC,
		orch:      orch,
		agg:       agg,
		wd:        wd,
		obs:       opts.Providers,
		logger:    logger,
		metrics:   metrics,
	}

	a.runner = a.buildRunner(noopEventPublisher{}, nil)

	return a, nil
}

// buildRunner assembles a Job Runner from App's already-built
// collaborators, parameterized only by the event publisher and progress
// publisher — the two collaborators that differ between the one-shot CLI
// path (both no-op/nil) and the worker path (a live bus and a progress
// publisher sharing its connection).
func (a *App) buildRunner(pub eventPublisher, progressPub *progress.Publisher) *jobrunner.Runner {
	return jobrunner.New(
		a.store, a.store, a.store, a.store,
		a.blobStore,
		pub,
		progressPub,
		a.wd,
		router.New(a.cfg.Router), a.cfg.Router,
		a.chunkerC, a.embedC, a.vectors, a.orch, a.agg,
		a.cfg.JobRunner,
		a.logger,
		a.metrics,
	)
}

func buildVectorStore(cfg config.Config) (vectorstore.Store, error) {
	if cfg.VectorStore.QdrantAddr == "" {
		return vectorstore.NewMemoryStore(
			cfg.VectorStore.PerProjectCollections,
			cfg.VectorStore.VerifySampleEvery,
			cfg.Embedding.Dimension,
		), nil
	}

	store, err := vectorstore.NewQdrantStore(cfg.VectorStore, cfg.Embedding.Dimension, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("app: open qdrant store: %w", err)
	}

	return store, nil
}

func buildLLMClients(cfg config.Config) (llm.ChatCompleter, llm.Embedder, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		client, err := llm.NewGeminiClient(context.Background(), cfg.LLM.APIKey, cfg.LLM.ChatModel, cfg.LLM.EmbeddingModel, cfg.Embedding.Dimension)
		if err != nil {
			return nil, nil, fmt.Errorf("app: build gemini client: %w", err)
		}

		return client, client, nil
	case "openai", "":
		client := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.ChatModel, cfg.LLM.EmbeddingModel, cfg.Embedding.Dimension)

		return client, client, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown llm provider %q", cfg.LLM.Provider)
	}
}

// ConnectBus dials the message bus and wires a progress publisher over
// the same connection. Only the worker entrypoint needs this; the
// one-shot analyze/reset/delete CLI paths operate on the store and blob
// backend directly.
func (a *App) ConnectBus(cfg config.BusConfig) error {
	b, err := bus.Connect(cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: connect bus: %w", err)
	}

	a.bus = b
	a.progressPub = progress.NewPublisher(b.Conn(), cfg.ProgressSubjectPrefix, a.logger)
	a.runner = a.buildRunner(b, a.progressPub)

	return nil
}

// Close releases every long-lived resource App owns. Safe to call once
// after New succeeds, typically deferred by the caller.
func (a *App) Close() error {
	if a.bus != nil {
		a.bus.Close()
	}

	if err := a.vectors.Close(); err != nil {
		a.logger.Warn("app: close vector store", "error", err)
	}

	if err := a.store.Close(); err != nil {
		return fmt.Errorf("app: close store: %w", err)
	}

	return nil
}

// RunWorker runs the long-running worker loop: it starts the Watchdog's
// sweep goroutine and consumes StartAnalysisCommands from the bus until
// ctx is canceled.
func (a *App) RunWorker(ctx context.Context) error {
	if a.bus == nil {
		return fmt.Errorf("app: RunWorker requires ConnectBus first")
	}

	go a.wd.Run(ctx)

	err := a.bus.ConsumeCommands(ctx, a.cfg.JobRunner.DurableConsumerName, a.cfg.Resilience.MaxRetryAttempts+1, a.runner.HandleStartAnalysis)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: consume commands: %w", err)
	}

	return nil
}

// AnalyzeOneShot uploads archive as the source of a new Project,
// marks it FilesReady, and runs the Job Runner's 8-step pipeline inline
// (bypassing the bus entirely), returning the resulting Report. This is
// the `analyze` CLI subcommand's implementation.
func (a *App) AnalyzeOneShot(ctx context.Context, name string, archive *BlobUpload) (*domain.Report, error) {
	project := &domain.Project{
		Name:           name,
		Origin:         domain.OriginArchive,
		StoragePointer: fmt.Sprintf("projects/%s/source%s", uuid.NewString(), archive.Ext),
		Status:         domain.ProjectCreated,
	}

	if err := a.store.CreateProject(project); err != nil {
		return nil, fmt.Errorf("app: create project: %w", err)
	}

	project.StoragePointer = fmt.Sprintf("projects/%s/source%s", project.ID, archive.Ext)

	if err := a.blobStore.Put(ctx, project.StoragePointer, archive.Body); err != nil {
		return nil, fmt.Errorf("app: upload archive: %w", err)
	}

	if !project.Transition(domain.ProjectFilesReady, time.Now()) {
		return nil, fmt.Errorf("app: project %s rejected FilesReady transition", project.ID)
	}

	if err := a.store.UpdateProject(project); err != nil {
		return nil, fmt.Errorf("app: persist FilesReady: %w", err)
	}

	cmd := bus.StartAnalysisCommand{
		ProjectID:       project.ID,
		CorrelationID:   uuid.NewString(),
		ApprovalGranted: true,
	}

	if err := a.runner.HandleStartAnalysis(ctx, cmd); err != nil {
		return nil, fmt.Errorf("app: analyze: %w", err)
	}

	report, err := a.store.GetReport(project.ID)
	if err != nil {
		return nil, fmt.Errorf("app: load report: %w", err)
	}

	return report, nil
}

// Reset returns a project to FilesReady, clearing its derived chunks,
// vectors, and checkpoint; an existing report is left in place.
func (a *App) Reset(ctx context.Context, projectID string) error {
	return a.runner.Reset(ctx, projectID)
}

// Delete removes every artifact of a project: its chunks, vectors,
// report, checkpoint, blob storage prefix, and finally the Project row
// itself.
func (a *App) Delete(ctx context.Context, projectID string) error {
	return a.runner.Delete(ctx, projectID)
}

// Accessors below let the worker's diagnostics server and the one-shot
// CLI commands reach collaborators App already built, without exposing
// App's internals directly.

// Logger returns the app-wide structured logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Providers returns the observability providers used to build App.
func (a *App) Providers() observability.Providers { return a.obs }

// BlobUpload is the CLI's raw archive upload: a name extension (".zip",
// ".tar.gz", ...) used to pick the right extraction format, and the
// archive bytes themselves.
type BlobUpload struct {
	Ext  string
	Body io.Reader
}
