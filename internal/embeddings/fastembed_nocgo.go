//go:build !cgo

package embeddings

import "fmt"

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	Model         string
	CacheDir      string
	MaxLength     int
	MaxInputChars int
}

// NewFastEmbed is unavailable without cgo: the ONNX runtime needs it.
func NewFastEmbed(cfg FastEmbedConfig) (Provider, error) {
	return nil, fmt.Errorf("%w: fastembed requires a cgo-enabled build (use the memory provider for development)", ErrInvalidConfig)
}
