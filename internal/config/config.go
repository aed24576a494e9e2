// Package config provides configuration loading for corpusd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the corpusd daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Index       IndexConfig       `koanf:"index"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Search      SearchConfig      `koanf:"search"`
	Watcher     WatcherConfig     `koanf:"watcher"`
	Scheduler   SchedulerConfig   `koanf:"scheduler"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// RootConfig describes one indexed directory tree and the tenant scope
// stamped onto every chunk produced from it.
type RootConfig struct {
	Path   string            `koanf:"path"`
	Tenant string            `koanf:"tenant"`
	Tags   map[string]string `koanf:"tags"`
}

// IndexConfig holds indexing pipeline settings.
type IndexConfig struct {
	Roots        []RootConfig `koanf:"roots"`
	TrackerPath  string       `koanf:"tracker_path"`
	BatchSize    int          `koanf:"batch_size"`
	ChunkSize    int          `koanf:"chunk_size"`
	ChunkOverlap int          `koanf:"chunk_overlap"`
	MaxFileSize  int64        `koanf:"max_file_size"`
	// MaxAttempts bounds retries for transient per-file failures across passes.
	MaxAttempts int `koanf:"max_attempts"`
	// RetryBackoff is the initial backoff for transient failures within a pass.
	RetryBackoff Duration `koanf:"retry_backoff"`
	// OpTimeout applies per embedding call and per vector-store operation.
	OpTimeout Duration `koanf:"op_timeout"`
	// OnStart triggers an incremental pass when the daemon boots.
	OnStart bool `koanf:"on_start"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	// Provider is the provider type: "fastembed" (default) or "memory".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	CacheDir string `koanf:"cache_dir"`
	// MaxBatch is the upper bound on texts per embedding call.
	MaxBatch int `koanf:"max_batch"`
	// Workers bounds concurrent embedding calls.
	Workers int `koanf:"workers"`
	// MaxInputChars is the per-item input length limit.
	MaxInputChars int `koanf:"max_input_chars"`
	// RatePerSecond throttles embedding calls; 0 disables throttling.
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// ChromemConfig holds settings for the embedded chromem-go store.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds settings for the Qdrant gRPC store.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	// Provider selects the backend: "chromem" (default), "qdrant" or "memory".
	Provider   string        `koanf:"provider"`
	Collection string        `koanf:"collection"`
	VectorSize int           `koanf:"vector_size"`
	Chromem    ChromemConfig `koanf:"chromem"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
}

// SearchConfig holds search engine defaults.
type SearchConfig struct {
	MaxResults     int     `koanf:"max_results"`
	ScoreThreshold float64 `koanf:"score_threshold"`
	SnippetLength  int     `koanf:"snippet_length"`
}

// WatcherConfig holds filesystem watcher settings.
type WatcherConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Debounce Duration `koanf:"debounce"`
}

// SchedulerConfig holds periodic indexing settings.
type SchedulerConfig struct {
	Enabled bool `koanf:"enabled"`
	// Spec is a cron expression, e.g. "*/15 * * * *".
	Spec string `koanf:"spec"`
}

// applyDefaults sets default values for missing configuration fields.
// Chunking and search defaults follow the corpus the index was designed for:
// 1000-char chunks with 200 overlap, batches of 50, score floor 0.3.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8642
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 50
	}
	if cfg.Index.ChunkSize == 0 {
		cfg.Index.ChunkSize = 1000
	}
	if cfg.Index.ChunkOverlap == 0 {
		cfg.Index.ChunkOverlap = 200
	}
	if cfg.Index.MaxFileSize == 0 {
		cfg.Index.MaxFileSize = 64 * 1024 * 1024
	}
	if cfg.Index.MaxAttempts == 0 {
		cfg.Index.MaxAttempts = 3
	}
	if cfg.Index.RetryBackoff == 0 {
		cfg.Index.RetryBackoff = Duration(time.Second)
	}
	if cfg.Index.OpTimeout == 0 {
		cfg.Index.OpTimeout = Duration(30 * time.Second)
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.MaxBatch == 0 {
		cfg.Embeddings.MaxBatch = 32
	}
	if cfg.Embeddings.Workers == 0 {
		cfg.Embeddings.Workers = 2
	}
	if cfg.Embeddings.MaxInputChars == 0 {
		cfg.Embeddings.MaxInputChars = 8192
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "documents"
	}
	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.local/share/corpusd/vectorstore"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}

	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 10
	}
	if cfg.Search.ScoreThreshold == 0 {
		cfg.Search.ScoreThreshold = 0.3
	}
	if cfg.Search.SnippetLength == 0 {
		cfg.Search.SnippetLength = 240
	}

	if cfg.Watcher.Debounce == 0 {
		cfg.Watcher.Debounce = Duration(2 * time.Second)
	}
	if cfg.Scheduler.Spec == "" {
		cfg.Scheduler.Spec = "@every 15m"
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	if c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			c.Index.ChunkOverlap, c.Index.ChunkSize)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Index.BatchSize)
	}
	for i, root := range c.Index.Roots {
		if root.Path == "" {
			return fmt.Errorf("index root %d: path is required", i)
		}
		if root.Tenant == "" {
			return fmt.Errorf("index root %d (%s): tenant is required", i, root.Path)
		}
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant", "memory":
	default:
		return fmt.Errorf("unknown vectorstore provider: %q", c.VectorStore.Provider)
	}
	if c.VectorStore.VectorSize <= 0 {
		return fmt.Errorf("vector size must be positive, got %d", c.VectorStore.VectorSize)
	}

	if c.Search.ScoreThreshold < 0 || c.Search.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be in [0,1], got %f", c.Search.ScoreThreshold)
	}

	return nil
}
