package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *MemoryBackend {
	t.Helper()
	b := NewMemoryBackend("documents", 4)
	require.NoError(t, b.Open(context.Background()))
	return b
}

func TestMemoryBackend_RequiresOpen(t *testing.T) {
	b := NewMemoryBackend("documents", 4)
	ctx := context.Background()

	_, err := b.Upsert(ctx, nil)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = b.Query(ctx, unit(4, 0), nil, 1, 0)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryBackend_UpsertReplacesByID(t *testing.T) {
	b := openMemory(t)
	ctx := context.Background()

	_, err := b.Upsert(ctx, []Record{testRecord("c1", "acme", "old text", unit(4, 0))})
	require.NoError(t, err)
	_, err = b.Upsert(ctx, []Record{testRecord("c1", "acme", "new text", unit(4, 1))})
	require.NoError(t, err)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Records)

	matches, err := b.Query(ctx, unit(4, 1), nil, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "new text", matches[0].Text)
}

func TestMemoryBackend_QueryOrderedAndFloored(t *testing.T) {
	b := openMemory(t)
	ctx := context.Background()

	// Vectors at decreasing similarity to the query axis.
	_, err := b.Upsert(ctx, []Record{
		testRecord("exact", "acme", "exact", []float32{1, 0, 0, 0}),
		testRecord("close", "acme", "close", []float32{0.9, 0.1, 0, 0}),
		testRecord("far", "acme", "far", []float32{0, 1, 0, 0}),
	})
	require.NoError(t, err)

	matches, err := b.Query(ctx, []float32{1, 0, 0, 0}, nil, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 2, "orthogonal vector is below the floor")
	assert.Equal(t, "exact", matches[0].ID)
	assert.Equal(t, "close", matches[1].ID)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
}

func TestMemoryBackend_QueryLimit(t *testing.T) {
	b := openMemory(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := b.Upsert(ctx, []Record{testRecord(id, "acme", id, unit(4, 0))})
		require.NoError(t, err)
	}

	matches, err := b.Query(ctx, unit(4, 0), nil, 2, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestMemoryBackend_DeleteIdempotent(t *testing.T) {
	b := openMemory(t)
	ctx := context.Background()

	_, err := b.Upsert(ctx, []Record{testRecord("c1", "acme", "text", unit(4, 0))})
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, []string{"c1", "missing"}))
	require.NoError(t, b.Delete(ctx, []string{"c1"}))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Records)
}

func TestMemoryBackend_UpsertWrongDimensionPerRecord(t *testing.T) {
	b := openMemory(t)
	ctx := context.Background()

	res, err := b.Upsert(ctx, []Record{
		testRecord("good", "acme", "good", unit(4, 0)),
		testRecord("bad", "acme", "bad", unit(3, 0)),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "bad", res.Failed[0].ID)
	assert.ErrorIs(t, res.Failed[0].Err, ErrSchemaConflict)
}

func TestMemoryBackend_DestroyRequiresClosed(t *testing.T) {
	b := openMemory(t)
	ctx := context.Background()

	require.ErrorIs(t, b.Destroy(ctx), ErrStoreBusy)

	require.NoError(t, b.Close(ctx))
	require.NoError(t, b.Destroy(ctx))
}
