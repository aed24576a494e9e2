package embeddings

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestMemory_Deterministic(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()

	a, err := m.EmbedQuery(ctx, "solar panel output")
	require.NoError(t, err)
	b, err := m.EmbedQuery(ctx, "solar panel output")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 384)
}

func TestMemory_SharedTokensAreCloser(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()

	base, err := m.EmbedQuery(ctx, "wind turbine maintenance schedule")
	require.NoError(t, err)
	related, err := m.EmbedQuery(ctx, "wind turbine inspection")
	require.NoError(t, err)
	unrelated, err := m.EmbedQuery(ctx, "quarterly revenue spreadsheet totals")
	require.NoError(t, err)

	assert.Greater(t, cosine(base, related), cosine(base, unrelated))
}

func TestMemory_Normalized(t *testing.T) {
	m := NewMemory(MemoryConfig{Dimension: 64})

	vec, err := m.EmbedQuery(context.Background(), "energy grid stability report")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestMemory_InputValidation(t *testing.T) {
	m := NewMemory(MemoryConfig{MaxInputChars: 10})
	ctx := context.Background()

	_, err := m.EmbedQuery(ctx, "")
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = m.EmbedQuery(ctx, strings.Repeat("x", 11))
	require.ErrorIs(t, err, ErrInputTooLong)

	_, err = m.EmbedDocuments(ctx, nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "memory"})
	require.NoError(t, err)
	assert.Equal(t, 384, p.Dimension())
	require.NoError(t, p.Close())

	_, err = NewProvider(ProviderConfig{Provider: "cloudapi"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

// countingProvider records batch sizes handed to it.
type countingProvider struct {
	*Memory
	mu      sync.Mutex
	batches []int
	fail    bool
}

func (c *countingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batches = append(c.batches, len(texts))
	c.mu.Unlock()
	if c.fail {
		return nil, fmt.Errorf("%w: synthetic outage", ErrUnavailable)
	}
	return c.Memory.EmbedDocuments(ctx, texts)
}

func TestBatcher_PreservesOrder(t *testing.T) {
	inner := &countingProvider{Memory: NewMemory(MemoryConfig{Dimension: 32})}
	b := NewBatcher(inner, BatcherConfig{MaxBatch: 4, Workers: 3})

	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("document number %d about topic %d", i, i)
	}

	got, err := b.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, got, len(texts))

	for i, text := range texts {
		want, err := inner.Memory.EmbedQuery(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, want, got[i], "vector %d out of order", i)
	}

	// 23 texts in sub-batches of 4: five full and one of 3.
	assert.Len(t, inner.batches, 6)
}

func TestBatcher_SingleText(t *testing.T) {
	b := NewBatcher(NewMemory(MemoryConfig{Dimension: 16}), BatcherConfig{MaxBatch: 8, Workers: 2})

	got, err := b.EmbedDocuments(context.Background(), []string{"lone document"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0], 16)
}

func TestBatcher_PropagatesProviderError(t *testing.T) {
	inner := &countingProvider{Memory: NewMemory(MemoryConfig{Dimension: 16}), fail: true}
	b := NewBatcher(inner, BatcherConfig{MaxBatch: 2, Workers: 2})

	_, err := b.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestBatcher_EmptyBatch(t *testing.T) {
	b := NewBatcher(NewMemory(MemoryConfig{}), BatcherConfig{})

	_, err := b.EmbedDocuments(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestBatcher_ContextCancellation(t *testing.T) {
	b := NewBatcher(NewMemory(MemoryConfig{}), BatcherConfig{MaxBatch: 1, Workers: 1, RatePerSecond: 0.001})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.EmbedDocuments(ctx, []string{"a", "b"})
	require.Error(t, err)
}
