package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// MemoryConfig configures the in-process hashing provider.
type MemoryConfig struct {
	// Dimension of produced vectors. Defaults to 384 to match the
	// default ONNX model.
	Dimension int
	// MaxInputChars rejects longer inputs with ErrInputTooLong.
	MaxInputChars int
}

// Memory is a deterministic bag-of-words hashing embedder. Texts that
// share tokens produce similar vectors, which is enough for hermetic
// tests and offline development; it is not a semantic model.
type Memory struct {
	dimension     int
	maxInputChars int
}

// NewMemory creates the hashing provider.
func NewMemory(cfg MemoryConfig) *Memory {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 384
	}
	return &Memory{dimension: dim, maxInputChars: cfg.MaxInputChars}
}

func (m *Memory) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := m.embed(text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (m *Memory) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.embed(text)
}

func (m *Memory) Dimension() int { return m.dimension }

func (m *Memory) Close() error { return nil }

func (m *Memory) embed(text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if m.maxInputChars > 0 && len([]rune(text)) > m.maxInputChars {
		return nil, fmt.Errorf("%w: %d runes exceeds limit %d", ErrInputTooLong, len([]rune(text)), m.maxInputChars)
	}

	vec := make([]float32, m.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(m.dimension))
		// Sign from a spare hash bit spreads tokens across both halves
		// of each axis.
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil, fmt.Errorf("%w: no tokens", ErrEmptyInput)
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
