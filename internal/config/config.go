package config

import "errors"

// Config is the top-level configuration struct for archreview.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Router      RouterConfig      `mapstructure:"router"`
	Chunker     ChunkerConfig     `mapstructure:"chunker"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Cluster     ClusterConfig     `mapstructure:"cluster"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Watchdog    WatchdogConfig    `mapstructure:"watchdog"`
	Resilience  ResilienceConfig  `mapstructure:"resilience"`
	Bus         BusConfig         `mapstructure:"bus"`
	LLM         LLMConfig         `mapstructure:"llm"`
	JobRunner   JobRunnerConfig   `mapstructure:"job_runner"`
}

// RouterConfig holds File Router thresholds (spec.md §4.2, §6).
type RouterConfig struct {
	DirectSendThresholdBytes int64   `mapstructure:"direct_send_threshold_bytes"`
	RagChunkThresholdBytes   int64   `mapstructure:"rag_chunk_threshold_bytes"`
	AllowLargeFiles          bool    `mapstructure:"allow_large_files"`
	WarnThresholdTokens      int64   `mapstructure:"warn_threshold_tokens"`
	ApprovalThresholdTokens  int64   `mapstructure:"approval_threshold_tokens"`
	ApprovalThresholdCost    float64 `mapstructure:"approval_threshold_cost"`
	RiskThreshold            float64 `mapstructure:"risk_threshold"`
	PricePerToken            float64 `mapstructure:"price_per_token"`
}

// ChunkerConfig holds Semantic Chunker sizing knobs (spec.md §4.3, §6).
type ChunkerConfig struct {
	MaxChunkTokens      int `mapstructure:"max_chunk_tokens"`
	MinChunkTokens      int `mapstructure:"min_chunk_tokens"`
	OverlapTokens       int `mapstructure:"overlap_tokens"`
	ParseTimeoutSeconds int `mapstructure:"parse_timeout_seconds"`
}

// EmbeddingConfig holds Embedding Client concurrency/rate knobs (spec.md
// §4.4, §6).
type EmbeddingConfig struct {
	Dimension             int `mapstructure:"embedding_dimension"`
	Concurrency           int `mapstructure:"embedding_concurrency"`
	TokensPerMinute       int `mapstructure:"embedding_tokens_per_minute"`
	BatchSize             int `mapstructure:"embedding_batch_size"`
	AcquireTimeoutSeconds int `mapstructure:"acquire_timeout_seconds"`
	MaxPeriodWaits        int `mapstructure:"max_period_waits"`
}

// VectorStoreConfig holds Vector Store tenancy/verification knobs (spec.md
// §4.5, §6).
type VectorStoreConfig struct {
	PerProjectCollections bool   `mapstructure:"per_project_collections"`
	FailOnIndexingFailure bool   `mapstructure:"fail_on_indexing_failure"`
	CollectionPrefix      string `mapstructure:"collection_prefix"`
	QdrantAddr            string `mapstructure:"qdrant_addr"`
	VerifySampleEvery     int    `mapstructure:"verify_sample_every"`
}

// ClusterConfig holds Cluster Builder knobs (spec.md §4.6).
type ClusterConfig struct {
	MaxClusterSize              int     `mapstructure:"max_cluster_size"`
	SimilarityThreshold         float64 `mapstructure:"similarity_threshold"`
	DeepDiveComplexityThreshold int     `mapstructure:"deep_dive_complexity_threshold"`
	DeepDiveLineCountThreshold  int     `mapstructure:"deep_dive_line_count_threshold"`
	MaxDeepDiveFiles            int     `mapstructure:"max_deep_dive_files"`
}

// AgentConfig holds Analysis Agent / Orchestrator knobs (spec.md §4.8,
// §4.9, §6).
type AgentConfig struct {
	MaxParallelLLMCalls    int     `mapstructure:"max_parallel_llm_calls"`
	DeepDiveTimeoutSeconds int     `mapstructure:"deep_dive_timeout_seconds"`
	MinConfidenceToKeep    float64 `mapstructure:"min_confidence_to_keep"`
}

// WatchdogConfig holds heartbeat-based stuck-job detection knobs (spec.md
// §4.12, §6).
type WatchdogConfig struct {
	CheckIntervalSeconds        int  `mapstructure:"check_interval_seconds"`
	MaxHeartbeatIntervalSeconds int  `mapstructure:"max_heartbeat_interval_seconds"`
	MaxProjectDurationSeconds   int  `mapstructure:"max_project_duration_seconds"`
	AutoCancelStuck             bool `mapstructure:"auto_cancel_stuck"`
}

// ResilienceConfig holds retry/backoff/circuit-breaker knobs (spec.md
// §4.14, §6).
type ResilienceConfig struct {
	MaxRetryAttempts          int     `mapstructure:"max_retry_attempts"`
	BackoffBaseMillis         int     `mapstructure:"backoff_base_millis"`
	BackoffFactor             float64 `mapstructure:"backoff_factor"`
	BackoffCapMillis          int     `mapstructure:"backoff_cap_millis"`
	BreakerFailureRatio       float64 `mapstructure:"breaker_failure_ratio"`
	BreakerMinThroughput      int     `mapstructure:"breaker_min_throughput"`
	BreakerSamplingWindowSecs int     `mapstructure:"breaker_sampling_window_seconds"`
	BreakerBreakDurationSecs  int     `mapstructure:"breaker_break_duration_seconds"`
	EmbeddingTimeoutSeconds   int     `mapstructure:"embedding_timeout_seconds"`
	ChatTimeoutSeconds        int     `mapstructure:"chat_timeout_seconds"`
}

// BusConfig holds message-bus connection settings (SPEC_FULL.md §10.5).
type BusConfig struct {
	URL                    string `mapstructure:"url"`
	StreamName             string `mapstructure:"stream_name"`
	CommandSubject         string `mapstructure:"command_subject"`
	EventSubjectPrefix     string `mapstructure:"event_subject_prefix"`
	ProgressSubjectPrefix  string `mapstructure:"progress_subject_prefix"`
	ConcurrentMessageLimit int    `mapstructure:"concurrent_message_limit"`
}

// LLMConfig selects and configures the chat/completion and embedding
// providers.
type LLMConfig struct {
	Provider       string `mapstructure:"provider"` // "openai" | "gemini"
	ChatModel      string `mapstructure:"chat_model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	APIKey         string `mapstructure:"api_key"`
}

// JobRunnerConfig holds Job Runner extraction/durable-consumer knobs
// (spec.md §4.11: "total uncompressed size is bounded").
type JobRunnerConfig struct {
	ScratchDir           string `mapstructure:"scratch_dir"`
	MaxExtractedBytes    int64  `mapstructure:"max_extracted_bytes"`
	MaxExtractedEntries  int    `mapstructure:"max_extracted_entries"`
	DurableConsumerName  string `mapstructure:"durable_consumer_name"`
	ConcurrentMessageCap int    `mapstructure:"concurrent_message_cap"`
}

// Sentinel errors for configuration validation.
var (
	ErrInvalidDirectSendThreshold  = errors.New("router.direct_send_threshold_bytes must be non-negative")
	ErrInvalidRagChunkThreshold    = errors.New("router.rag_chunk_threshold_bytes must be >= direct_send_threshold_bytes")
	ErrInvalidRiskThreshold        = errors.New("router.risk_threshold must be in [0,1]")
	ErrInvalidMaxChunkTokens       = errors.New("chunker.max_chunk_tokens must be positive")
	ErrInvalidMinChunkTokens       = errors.New("chunker.min_chunk_tokens must be non-negative and <= max_chunk_tokens")
	ErrInvalidOverlapTokens        = errors.New("chunker.overlap_tokens must be non-negative and < max_chunk_tokens")
	ErrInvalidEmbeddingDimension   = errors.New("embedding.embedding_dimension must be positive")
	ErrInvalidEmbeddingConcurrency = errors.New("embedding.embedding_concurrency must be positive")
	ErrInvalidTokensPerMinute      = errors.New("embedding.embedding_tokens_per_minute must be positive")
	ErrInvalidBatchSize            = errors.New("embedding.embedding_batch_size must be positive")
	ErrInvalidMaxParallelLLM       = errors.New("agent.max_parallel_llm_calls must be positive")
	ErrInvalidCheckInterval        = errors.New("watchdog.check_interval_seconds must be positive")
	ErrInvalidHeartbeatInterval    = errors.New("watchdog.max_heartbeat_interval_seconds must be positive")
	ErrInvalidProjectDuration      = errors.New("watchdog.max_project_duration_seconds must be positive")
	ErrInvalidMaxRetryAttempts     = errors.New("resilience.max_retry_attempts must be non-negative")
	ErrInvalidBreakerFailureRatio  = errors.New("resilience.breaker_failure_ratio must be in (0,1]")
	ErrInvalidConcurrentMsgLimit   = errors.New("bus.concurrent_message_limit must be positive")
	ErrInvalidScratchDir           = errors.New("job_runner.scratch_dir must not be empty")
	ErrInvalidMaxExtractedBytes    = errors.New("job_runner.max_extracted_bytes must be positive")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	for _, fn := range []func() error{
		c.validateRouter,
		c.validateChunker,
		c.validateEmbedding,
		c.validateAgent,
		c.validateWatchdog,
		c.validateResilience,
		c.validateBus,
		c.validateJobRunner,
	} {
		if err := fn(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateRouter() error {
	if c.Router.DirectSendThresholdBytes < 0 {
		return ErrInvalidDirectSendThreshold
	}

	if c.Router.RagChunkThresholdBytes < c.Router.DirectSendThresholdBytes {
		return ErrInvalidRagChunkThreshold
	}

	if c.Router.RiskThreshold < 0 || c.Router.RiskThreshold > 1 {
		return ErrInvalidRiskThreshold
	}

	return nil
}

func (c *Config) validateChunker() error {
	if c.Chunker.MaxChunkTokens <= 0 {
		return ErrInvalidMaxChunkTokens
	}

	if c.Chunker.MinChunkTokens < 0 || c.Chunker.MinChunkTokens > c.Chunker.MaxChunkTokens {
		return ErrInvalidMinChunkTokens
	}

	if c.Chunker.OverlapTokens < 0 || c.Chunker.OverlapTokens >= c.Chunker.MaxChunkTokens {
		return ErrInvalidOverlapTokens
	}

	return nil
}

func (c *Config) validateEmbedding() error {
	if c.Embedding.Dimension <= 0 {
		return ErrInvalidEmbeddingDimension
	}

	if c.Embedding.Concurrency <= 0 {
		return ErrInvalidEmbeddingConcurrency
	}

	if c.Embedding.TokensPerMinute <= 0 {
		return ErrInvalidTokensPerMinute
	}

	if c.Embedding.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	return nil
}

func (c *Config) validateAgent() error {
	if c.Agent.MaxParallelLLMCalls <= 0 {
		return ErrInvalidMaxParallelLLM
	}

	return nil
}

func (c *Config) validateWatchdog() error {
	if c.Watchdog.CheckIntervalSeconds <= 0 {
		return ErrInvalidCheckInterval
	}

	if c.Watchdog.MaxHeartbeatIntervalSeconds <= 0 {
		return ErrInvalidHeartbeatInterval
	}

	if c.Watchdog.MaxProjectDurationSeconds <= 0 {
		return ErrInvalidProjectDuration
	}

	return nil
}

func (c *Config) validateResilience() error {
	if c.Resilience.MaxRetryAttempts < 0 {
		return ErrInvalidMaxRetryAttempts
	}

	if c.Resilience.BreakerFailureRatio <= 0 || c.Resilience.BreakerFailureRatio > 1 {
		return ErrInvalidBreakerFailureRatio
	}

	return nil
}

func (c *Config) validateBus() error {
	if c.Bus.ConcurrentMessageLimit <= 0 {
		return ErrInvalidConcurrentMsgLimit
	}

	return nil
}

func (c *Config) validateJobRunner() error {
	if c.JobRunner.ScratchDir == "" {
		return ErrInvalidScratchDir
	}

	if c.JobRunner.MaxExtractedBytes <= 0 {
		return ErrInvalidMaxExtractedBytes
	}

	return nil
}
