package config

const (
	defaultStorageDriver = "sqlite"

	defaultVectorCollection = "reverie_summaries"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768

	defaultReflectorProvider = "ollama"

	defaultSessionTimeoutSeconds = 300
	defaultSessionScanSeconds    = 10

	defaultMaxAttempts    = 5
	defaultBackoffBaseMS  = 1000
	defaultBackoffMaxMS   = 60000
	defaultSubmitAttempts = 3
	defaultWorkers        = 3
	defaultQueueSize      = 256

	defaultQueueProvider = "local"
	defaultQueueTopic    = "reverie.reflection.jobs"
	defaultQueueGroupID  = "reverie-reflection-workers"

	defaultDailyIntervalSeconds  = 3600
	defaultWeeklyIntervalSeconds = 21600
	defaultRollupSettleSeconds   = 900
	defaultReconcileHours        = 336

	defaultReindexIntervalSeconds = 600

	defaultInsightsIntervalSeconds = 60
	defaultInsightsRecentTurns     = 10

	defaultContextRefreshSeconds = 300
	defaultContextMaxChars       = 2000
	defaultTopicWindowHours      = 24

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "reverie.memory.events"

	defaultAPIListen = ":8081"

	defaultClientAPITarget = "http://localhost:8081"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		VectorStore: VectorStoreConfig{
			Collection:             defaultVectorCollection,
			ReindexIntervalSeconds: defaultReindexIntervalSeconds,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Reflector: ReflectorConfig{
			Provider: defaultReflectorProvider,
		},
		Session: SessionConfig{
			TimeoutSeconds:      defaultSessionTimeoutSeconds,
			ScanIntervalSeconds: defaultSessionScanSeconds,
		},
		Reflection: ReflectionConfig{
			MaxAttempts:    defaultMaxAttempts,
			BackoffBaseMS:  defaultBackoffBaseMS,
			BackoffMaxMS:   defaultBackoffMaxMS,
			SubmitAttempts: defaultSubmitAttempts,
			Workers:        defaultWorkers,
			QueueSize:      defaultQueueSize,
		},
		Queue: QueueConfig{
			Provider: defaultQueueProvider,
			Topic:    defaultQueueTopic,
			GroupID:  defaultQueueGroupID,
		},
		Rollup: RollupConfig{
			DailyIntervalSeconds:  defaultDailyIntervalSeconds,
			WeeklyIntervalSeconds: defaultWeeklyIntervalSeconds,
			SettleSeconds:         defaultRollupSettleSeconds,
			ReconcileHours:        defaultReconcileHours,
		},
		Insights: InsightsConfig{
			IntervalSeconds: defaultInsightsIntervalSeconds,
			RecentTurns:     defaultInsightsRecentTurns,
		},
		Context: ContextConfig{
			RefreshIntervalSeconds: defaultContextRefreshSeconds,
			MaxChars:               defaultContextMaxChars,
			TopicWindowHours:       defaultTopicWindowHours,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
	}
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
// Keys without a default, such as the vector store provider, stay empty.
func applyDefaults(cfg *Config) {
	d := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = d.Version
	}

	for _, key := range orderedKeys {
		info := configKeys[key]
		if info.get(cfg) == "" {
			if def := info.get(d); def != "" {
				_ = info.set(cfg, def)
			}
		}
	}
}
