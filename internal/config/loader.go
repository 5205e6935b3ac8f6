package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".archreview"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for archreview settings.
const envPrefix = "ARCHREVIEW"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Defaults mirror spec.md §6 verbatim.
const (
	DefaultDirectSendThresholdBytes  = 10240
	DefaultRagChunkThresholdBytes    = 204800
	DefaultAllowLargeFiles           = false
	DefaultWarnThresholdTokens       = 500_000
	DefaultApprovalThresholdTokens   = 2_000_000
	DefaultRiskThreshold             = 0.5

	DefaultMaxChunkTokens = 1600
	DefaultMinChunkTokens = 50
	DefaultOverlapTokens  = 100
	DefaultParseTimeoutSeconds = 10

	DefaultEmbeddingDimension       = 1536
	DefaultEmbeddingConcurrency     = 5
	DefaultEmbeddingTokensPerMinute = 1_000_000
	DefaultEmbeddingBatchSize       = 16
	DefaultAcquireTimeoutSeconds    = 120
	DefaultMaxPeriodWaits           = 120

	DefaultPerProjectCollections = true
	DefaultFailOnIndexingFailure = true
	DefaultCollectionPrefix      = "archreview"
	DefaultQdrantAddr            = "localhost:6334"
	DefaultVerifySampleEvery     = 20

	DefaultMaxClusterSize              = 25
	DefaultSimilarityThreshold         = 0.75
	DefaultDeepDiveComplexityThreshold = 20
	DefaultDeepDiveLineCountThreshold  = 500
	DefaultMaxDeepDiveFiles            = 5

	DefaultMaxParallelLLMCalls    = 4
	DefaultDeepDiveTimeoutSeconds = 180
	DefaultMinConfidenceToKeep    = 0.3

	DefaultCheckIntervalSeconds        = 30
	DefaultMaxHeartbeatIntervalSeconds = 120
	DefaultMaxProjectDurationSeconds   = 3600
	DefaultAutoCancelStuck             = false

	DefaultMaxRetryAttempts          = 3
	DefaultBackoffBaseMillis         = 250
	DefaultBackoffFactor             = 2.0
	DefaultBackoffCapMillis          = 15_000
	DefaultBreakerFailureRatio       = 0.5
	DefaultBreakerMinThroughput      = 10
	DefaultBreakerSamplingWindowSecs = 30
	DefaultBreakerBreakDurationSecs  = 30
	DefaultEmbeddingTimeoutSeconds   = 120
	DefaultChatTimeoutSeconds        = 180

	DefaultBusURL                    = "nats://localhost:4222"
	DefaultBusStreamName             = "ARCHREVIEW_COMMANDS"
	DefaultBusCommandSubject         = "archreview.commands.start_analysis"
	DefaultBusEventSubjectPrefix     = "archreview.events"
	DefaultBusProgressSubjectPrefix  = "archreview.progress"
	DefaultConcurrentMessageLimit    = 4

	DefaultScratchDir        = "/tmp/archreview-scratch"
	DefaultMaxExtractedBytes = 1 << 30

	DefaultLLMProvider       = "openai"
	DefaultLLMChatModel      = "gpt-4o"
	DefaultLLMEmbeddingModel = "text-embedding-3-small"
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// A config file not found by that search is not an error and defaults
// are used; an explicit configPath that cannot be read is an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("router.direct_send_threshold_bytes", DefaultDirectSendThresholdBytes)
	viperCfg.SetDefault("router.rag_chunk_threshold_bytes", DefaultRagChunkThresholdBytes)
	viperCfg.SetDefault("router.allow_large_files", DefaultAllowLargeFiles)
	viperCfg.SetDefault("router.warn_threshold_tokens", DefaultWarnThresholdTokens)
	viperCfg.SetDefault("router.approval_threshold_tokens", DefaultApprovalThresholdTokens)
	viperCfg.SetDefault("router.risk_threshold", DefaultRiskThreshold)

	viperCfg.SetDefault("chunker.max_chunk_tokens", DefaultMaxChunkTokens)
	viperCfg.SetDefault("chunker.min_chunk_tokens", DefaultMinChunkTokens)
	viperCfg.SetDefault("chunker.overlap_tokens", DefaultOverlapTokens)
	viperCfg.SetDefault("chunker.parse_timeout_seconds", DefaultParseTimeoutSeconds)

	viperCfg.SetDefault("embedding.embedding_dimension", DefaultEmbeddingDimension)
	viperCfg.SetDefault("embedding.embedding_concurrency", DefaultEmbeddingConcurrency)
	viperCfg.SetDefault("embedding.embedding_tokens_per_minute", DefaultEmbeddingTokensPerMinute)
	viperCfg.SetDefault("embedding.embedding_batch_size", DefaultEmbeddingBatchSize)
	viperCfg.SetDefault("embedding.acquire_timeout_seconds", DefaultAcquireTimeoutSeconds)
	viperCfg.SetDefault("embedding.max_period_waits", DefaultMaxPeriodWaits)

	viperCfg.SetDefault("vector_store.per_project_collections", DefaultPerProjectCollections)
	viperCfg.SetDefault("vector_store.fail_on_indexing_failure", DefaultFailOnIndexingFailure)
	viperCfg.SetDefault("vector_store.collection_prefix", DefaultCollectionPrefix)
	viperCfg.SetDefault("vector_store.qdrant_addr", DefaultQdrantAddr)
	viperCfg.SetDefault("vector_store.verify_sample_every", DefaultVerifySampleEvery)

	viperCfg.SetDefault("cluster.max_cluster_size", DefaultMaxClusterSize)
	viperCfg.SetDefault("cluster.similarity_threshold", DefaultSimilarityThreshold)
	viperCfg.SetDefault("cluster.deep_dive_complexity_threshold", DefaultDeepDiveComplexityThreshold)
	viperCfg.SetDefault("cluster.deep_dive_line_count_threshold", DefaultDeepDiveLineCountThreshold)
	viperCfg.SetDefault("cluster.max_deep_dive_files", DefaultMaxDeepDiveFiles)

	viperCfg.SetDefault("agent.max_parallel_llm_calls", DefaultMaxParallelLLMCalls)
	viperCfg.SetDefault("agent.deep_dive_timeout_seconds", DefaultDeepDiveTimeoutSeconds)
	viperCfg.SetDefault("agent.min_confidence_to_keep", DefaultMinConfidenceToKeep)

	viperCfg.SetDefault("watchdog.check_interval_seconds", DefaultCheckIntervalSeconds)
	viperCfg.SetDefault("watchdog.max_heartbeat_interval_seconds", DefaultMaxHeartbeatIntervalSeconds)
	viperCfg.SetDefault("watchdog.max_project_duration_seconds", DefaultMaxProjectDurationSeconds)
	viperCfg.SetDefault("watchdog.auto_cancel_stuck", DefaultAutoCancelStuck)

	viperCfg.SetDefault("resilience.max_retry_attempts", DefaultMaxRetryAttempts)
	viperCfg.SetDefault("resilience.backoff_base_millis", DefaultBackoffBaseMillis)
	viperCfg.SetDefault("resilience.backoff_factor", DefaultBackoffFactor)
	viperCfg.SetDefault("resilience.backoff_cap_millis", DefaultBackoffCapMillis)
	viperCfg.SetDefault("resilience.breaker_failure_ratio", DefaultBreakerFailureRatio)
	viperCfg.SetDefault("resilience.breaker_min_throughput", DefaultBreakerMinThroughput)
	viperCfg.SetDefault("resilience.breaker_sampling_window_seconds", DefaultBreakerSamplingWindowSecs)
	viperCfg.SetDefault("resilience.breaker_break_duration_seconds", DefaultBreakerBreakDurationSecs)
	viperCfg.SetDefault("resilience.embedding_timeout_seconds", DefaultEmbeddingTimeoutSeconds)
	viperCfg.SetDefault("resilience.chat_timeout_seconds", DefaultChatTimeoutSeconds)

	viperCfg.SetDefault("bus.url", DefaultBusURL)
	viperCfg.SetDefault("bus.stream_name", DefaultBusStreamName)
	viperCfg.SetDefault("bus.command_subject", DefaultBusCommandSubject)
	viperCfg.SetDefault("bus.event_subject_prefix", DefaultBusEventSubjectPrefix)
	viperCfg.SetDefault("bus.progress_subject_prefix", DefaultBusProgressSubjectPrefix)
	viperCfg.SetDefault("bus.concurrent_message_limit", DefaultConcurrentMessageLimit)

	viperCfg.SetDefault("job_runner.scratch_dir", DefaultScratchDir)
	viperCfg.SetDefault("job_runner.max_extracted_bytes", DefaultMaxExtractedBytes)

	viperCfg.SetDefault("llm.provider", DefaultLLMProvider)
	viperCfg.SetDefault("llm.chat_model", DefaultLLMChatModel)
	viperCfg.SetDefault("llm.embedding_model", DefaultLLMEmbeddingModel)
}
