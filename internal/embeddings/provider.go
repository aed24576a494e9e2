// Package embeddings generates vector embeddings for documents and
// queries. Providers are constructed explicitly and injected; nothing
// in this package holds global state.
package embeddings

import (
	"context"
	"fmt"
)

// Provider is the contract every embedding backend implements.
//
// EmbedDocuments preserves input order: result[i] embeds texts[i].
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig selects and configures an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "fastembed" (default) or "memory".
	Provider string
	// Model is the embedding model name.
	Model string
	// CacheDir is the model cache directory (FastEmbed only).
	CacheDir string
	// MaxInputChars is the per-item input length limit.
	MaxInputChars int
}

// NewProvider creates an embedding provider from configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbed(FastEmbedConfig{
			Model:         cfg.Model,
			CacheDir:      cfg.CacheDir,
			MaxInputChars: cfg.MaxInputChars,
		})
	case "memory":
		return NewMemory(MemoryConfig{MaxInputChars: cfg.MaxInputChars}), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
