package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent reverie configuration stored as
// config.toml in the .reverie/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Reflector   ReflectorConfig   `toml:"reflector"`
	Session     SessionConfig     `toml:"session"`
	Reflection  ReflectionConfig  `toml:"reflection"`
	Queue       QueueConfig       `toml:"queue"`
	Rollup      RollupConfig      `toml:"rollup"`
	Insights    InsightsConfig    `toml:"insights"`
	Context     ContextConfig     `toml:"context"`
	Events      EventsConfig      `toml:"events"`
	API         APIConfig         `toml:"api"`
	Client      ClientConfig      `toml:"client"`
	Agents      []AgentConfig     `toml:"agents,omitempty"`
}

// StorageConfig selects the summary archive backend.
type StorageConfig struct {
	// Driver is one of "memory", "sqlite" or "postgres".
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// VectorStoreConfig selects the optional semantic search index. An empty
// provider disables it.
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Collection string `toml:"collection,omitempty"`
	APIKey     string `toml:"api_key,omitempty"`

	// ReindexIntervalSeconds is how often summaries that failed to index
	// are retried.
	ReindexIntervalSeconds uint `toml:"reindex_interval_seconds,omitempty"`
}

func (c VectorStoreConfig) ReindexInterval() time.Duration {
	return seconds(c.ReindexIntervalSeconds)
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// ReflectorConfig selects the model that writes summaries.
type ReflectorConfig struct {
	Provider string `toml:"provider,omitempty"`
	Model    string `toml:"model,omitempty"`
	BaseURL  string `toml:"base_url,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
}

// SessionConfig holds session tracking settings.
type SessionConfig struct {
	TimeoutSeconds      uint `toml:"timeout_seconds,omitempty"`
	ScanIntervalSeconds uint `toml:"scan_interval_seconds,omitempty"`
}

func (c SessionConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

func (c SessionConfig) ScanInterval() time.Duration {
	return seconds(c.ScanIntervalSeconds)
}

// ReflectionConfig holds reflection job settings.
type ReflectionConfig struct {
	// MaxAttempts is the dead-letter retry limit of reflector calls.
	MaxAttempts    uint `toml:"max_attempts,omitempty"`
	BackoffBaseMS  uint `toml:"backoff_base_ms,omitempty"`
	BackoffMaxMS   uint `toml:"backoff_max_ms,omitempty"`
	SubmitAttempts uint `toml:"submit_attempts,omitempty"`
	Workers        uint `toml:"workers,omitempty"`
	QueueSize      uint `toml:"queue_size,omitempty"`
}

func (c ReflectionConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

func (c ReflectionConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// QueueConfig selects the reflection job queue.
type QueueConfig struct {
	// Provider is "local" or "kafka".
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
	GroupID  string `toml:"group_id,omitempty"`
}

// BrokerList splits the comma-separated broker list.
func (c QueueConfig) BrokerList() []string {
	return splitList(c.Brokers)
}

// RollupConfig holds rollup scheduling settings.
type RollupConfig struct {
	DailyIntervalSeconds  uint `toml:"daily_interval_seconds,omitempty"`
	WeeklyIntervalSeconds uint `toml:"weekly_interval_seconds,omitempty"`
	SettleSeconds         uint `toml:"settle_seconds,omitempty"`
	ReconcileHours        uint `toml:"reconcile_hours,omitempty"`
}

func (c RollupConfig) DailyInterval() time.Duration {
	return seconds(c.DailyIntervalSeconds)
}

func (c RollupConfig) WeeklyInterval() time.Duration {
	return seconds(c.WeeklyIntervalSeconds)
}

func (c RollupConfig) Settle() time.Duration {
	return seconds(c.SettleSeconds)
}

func (c RollupConfig) Reconcile() time.Duration {
	return time.Duration(c.ReconcileHours) * time.Hour
}

// InsightsConfig holds settings of the insights refresher, which keeps an
// insights block current while conversations are live.
type InsightsConfig struct {
	IntervalSeconds uint `toml:"interval_seconds,omitempty"`

	// RecentTurns is how many of a live session's latest turns are reviewed.
	RecentTurns uint `toml:"recent_turns,omitempty"`
}

func (c InsightsConfig) Interval() time.Duration {
	return seconds(c.IntervalSeconds)
}

// ContextConfig holds background context settings.
type ContextConfig struct {
	RefreshIntervalSeconds uint `toml:"refresh_interval_seconds,omitempty"`
	MaxChars               uint `toml:"max_chars,omitempty"`
	TopicWindowHours       uint `toml:"topic_window_hours,omitempty"`

	// RecentLookbackHours bounds the age of the recent session summary.
	// Zero means unbounded.
	RecentLookbackHours uint `toml:"recent_lookback_hours,omitempty"`
}

func (c ContextConfig) RefreshInterval() time.Duration {
	return seconds(c.RefreshIntervalSeconds)
}

func (c ContextConfig) TopicWindow() time.Duration {
	return time.Duration(c.TopicWindowHours) * time.Hour
}

func (c ContextConfig) RecentLookback() time.Duration {
	return time.Duration(c.RecentLookbackHours) * time.Hour
}

// EventsConfig selects where memory lifecycle events are published.
type EventsConfig struct {
	// Provider is "nop" or "kafka".
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
}

// BrokerList splits the comma-separated broker list.
func (c EventsConfig) BrokerList() []string {
	return splitList(c.Brokers)
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running server.
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// AgentConfig describes one conversational agent. Agents are only set in
// config.toml as [[agents]] tables.
type AgentConfig struct {
	ID                string   `toml:"id"`
	ReflectorAgentID  string   `toml:"reflector_agent_id,omitempty"`
	InsightsAgentID   string   `toml:"insights_agent_id,omitempty"`
	PersistentContext []string `toml:"persistent_context,omitempty"`
}

// Agent returns the configuration of agentID.
func (c *Config) Agent(agentID string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == agentID {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// AgentIDs lists the configured agent ids.
func (c *Config) AgentIDs() []string {
	ids := make([]string, 0, len(c.Agents))
	for _, a := range c.Agents {
		ids = append(ids, a.ID)
	}
	return ids
}

func seconds(n uint) time.Duration {
	return time.Duration(n) * time.Second
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver":       stringKey(func(c *Config) *string { return &c.Storage.Driver }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),

	"vector_store.provider":   stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":     stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.collection": stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),
	"vector_store.api_key":    stringKey(func(c *Config) *string { return &c.VectorStore.APIKey }),
	"vector_store.reindex_interval_seconds": uintKey("vector_store.reindex_interval_seconds", func(c *Config) *uint {
		return &c.VectorStore.ReindexIntervalSeconds
	}),

	"embedding.provider":   stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":     stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":      stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),

	"reflector.provider": stringKey(func(c *Config) *string { return &c.Reflector.Provider }),
	"reflector.model":    stringKey(func(c *Config) *string { return &c.Reflector.Model }),
	"reflector.base_url": stringKey(func(c *Config) *string { return &c.Reflector.BaseURL }),
	"reflector.api_key":  stringKey(func(c *Config) *string { return &c.Reflector.APIKey }),

	"session.timeout_seconds":       uintKey("session.timeout_seconds", func(c *Config) *uint { return &c.Session.TimeoutSeconds }),
	"session.scan_interval_seconds": uintKey("session.scan_interval_seconds", func(c *Config) *uint { return &c.Session.ScanIntervalSeconds }),

	"reflection.max_attempts":    uintKey("reflection.max_attempts", func(c *Config) *uint { return &c.Reflection.MaxAttempts }),
	"reflection.backoff_base_ms": uintKey("reflection.backoff_base_ms", func(c *Config) *uint { return &c.Reflection.BackoffBaseMS }),
	"reflection.backoff_max_ms":  uintKey("reflection.backoff_max_ms", func(c *Config) *uint { return &c.Reflection.BackoffMaxMS }),
	"reflection.submit_attempts": uintKey("reflection.submit_attempts", func(c *Config) *uint { return &c.Reflection.SubmitAttempts }),
	"reflection.workers":         uintKey("reflection.workers", func(c *Config) *uint { return &c.Reflection.Workers }),
	"reflection.queue_size":      uintKey("reflection.queue_size", func(c *Config) *uint { return &c.Reflection.QueueSize }),

	"queue.provider": stringKey(func(c *Config) *string { return &c.Queue.Provider }),
	"queue.brokers":  stringKey(func(c *Config) *string { return &c.Queue.Brokers }),
	"queue.topic":    stringKey(func(c *Config) *string { return &c.Queue.Topic }),
	"queue.group_id": stringKey(func(c *Config) *string { return &c.Queue.GroupID }),

	"rollup.daily_interval_seconds":  uintKey("rollup.daily_interval_seconds", func(c *Config) *uint { return &c.Rollup.DailyIntervalSeconds }),
	"rollup.weekly_interval_seconds": uintKey("rollup.weekly_interval_seconds", func(c *Config) *uint { return &c.Rollup.WeeklyIntervalSeconds }),
	"rollup.settle_seconds":          uintKey("rollup.settle_seconds", func(c *Config) *uint { return &c.Rollup.SettleSeconds }),
	"rollup.reconcile_hours":         uintKey("rollup.reconcile_hours", func(c *Config) *uint { return &c.Rollup.ReconcileHours }),

	"insights.interval_seconds": uintKey("insights.interval_seconds", func(c *Config) *uint { return &c.Insights.IntervalSeconds }),
	"insights.recent_turns":     uintKey("insights.recent_turns", func(c *Config) *uint { return &c.Insights.RecentTurns }),

	"context.refresh_interval_seconds": uintKey("context.refresh_interval_seconds", func(c *Config) *uint { return &c.Context.RefreshIntervalSeconds }),
	"context.max_chars":                uintKey("context.max_chars", func(c *Config) *uint { return &c.Context.MaxChars }),
	"context.topic_window_hours":       uintKey("context.topic_window_hours", func(c *Config) *uint { return &c.Context.TopicWindowHours }),
	"context.recent_lookback_hours":    uintKey("context.recent_lookback_hours", func(c *Config) *uint { return &c.Context.RecentLookbackHours }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.brokers":  stringKey(func(c *Config) *string { return &c.Events.Brokers }),
	"events.topic":    stringKey(func(c *Config) *string { return &c.Events.Topic }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),

	"client.api_target": stringKey(func(c *Config) *string { return &c.Client.APITarget }),
}

// orderedKeys lists configKeys in TOML section order.
var orderedKeys = []string{
	"storage.driver",
	"storage.sqlite_path",
	"storage.postgres_dsn",
	"vector_store.provider",
	"vector_store.target",
	"vector_store.collection",
	"vector_store.api_key",
	"vector_store.reindex_interval_seconds",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
	"reflector.provider",
	"reflector.model",
	"reflector.base_url",
	"reflector.api_key",
	"session.timeout_seconds",
	"session.scan_interval_seconds",
	"reflection.max_attempts",
	"reflection.backoff_base_ms",
	"reflection.backoff_max_ms",
	"reflection.submit_attempts",
	"reflection.workers",
	"reflection.queue_size",
	"queue.provider",
	"queue.brokers",
	"queue.topic",
	"queue.group_id",
	"rollup.daily_interval_seconds",
	"rollup.weekly_interval_seconds",
	"rollup.settle_seconds",
	"rollup.reconcile_hours",
	"insights.interval_seconds",
	"insights.recent_turns",
	"context.refresh_interval_seconds",
	"context.max_chars",
	"context.topic_window_hours",
	"context.recent_lookback_hours",
	"events.provider",
	"events.brokers",
	"events.topic",
	"api.listen",
	"client.api_target",
}
