package vectorstore

import (
	"context"
	"fmt"
)

// Backend is the storage contract behind the Manager. Implementations
// persist precomputed vectors; they never call an embedding model.
//
// Backends are not responsible for lifecycle discipline: the Manager
// guarantees Open/Close pairing and that Destroy only runs while the
// backend is closed.
type Backend interface {
	// Kind names the backend, e.g. "chromem" or "qdrant".
	Kind() string

	// Open establishes the connection or loads persisted data.
	// A load failure caused by unreadable persisted state wraps
	// ErrStoreCorrupted.
	Open(ctx context.Context) error

	// Close releases the connection. Idempotent.
	Close(ctx context.Context) error

	// EnsureCollection creates the collection if missing. An existing
	// collection with a different vector dimension wraps
	// ErrSchemaConflict.
	EnsureCollection(ctx context.Context) error

	// Upsert inserts or replaces records by ID. Per-record failures are
	// reported in the result; the call errors only when the whole batch
	// is unusable.
	Upsert(ctx context.Context, records []Record) (UpsertResult, error)

	// Delete removes records by ID. Missing IDs are not an error.
	Delete(ctx context.Context, ids []string) error

	// Query returns up to limit matches ordered by descending
	// similarity, dropping scores below floor. An empty result is not
	// an error.
	Query(ctx context.Context, vector []float32, filter map[string]string, limit int, floor float32) ([]Match, error)

	// Stats reports record count and storage footprint.
	Stats(ctx context.Context) (StoreStats, error)

	// Destroy irreversibly removes the backing storage. Only the
	// Manager calls this, and only while closed.
	Destroy(ctx context.Context) error
}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	// Provider is "chromem" (default), "qdrant" or "memory".
	Provider   string
	Collection string
	VectorSize int

	// Chromem settings.
	ChromemPath     string
	ChromemCompress bool

	// Qdrant settings.
	QdrantHost   string
	QdrantPort   int
	QdrantUseTLS bool
}

// NewBackend builds a backend from configuration.
func NewBackend(cfg BackendConfig) (Backend, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("vector size must be positive, got %d", cfg.VectorSize)
	}

	switch cfg.Provider {
	case "chromem", "":
		return NewChromemBackend(ChromemConfig{
			Path:       cfg.ChromemPath,
			Collection: cfg.Collection,
			VectorSize: cfg.VectorSize,
			Compress:   cfg.ChromemCompress,
		})
	case "qdrant":
		return NewQdrantBackend(QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			UseTLS:     cfg.QdrantUseTLS,
			Collection: cfg.Collection,
			VectorSize: cfg.VectorSize,
		})
	case "memory":
		return NewMemoryBackend(cfg.Collection, cfg.VectorSize), nil
	default:
		return nil, fmt.Errorf("unknown vectorstore provider: %q", cfg.Provider)
	}
}
