package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/extract"
	"github.com/fyrsmithlabs/corpusd/internal/source"
	"github.com/fyrsmithlabs/corpusd/internal/tracker"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

type fixture struct {
	root    string
	orch    *Orchestrator
	track   *tracker.Tracker
	manager *vectorstore.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	root := t.TempDir()

	track, err := tracker.Open(filepath.Join(t.TempDir(), "index.json"), 3, logger)
	require.NoError(t, err)

	ch, err := chunker.New(50, 10)
	require.NoError(t, err)

	manager := vectorstore.NewManager(vectorstore.NewMemoryBackend("documents", 16), logger, nil)

	orch, err := New(
		Config{
			Roots:        []Root{{Path: root, Tenant: "acme", Tags: map[string]string{"source": "test"}}},
			BatchSize:    4,
			MaxAttempts:  2,
			RetryBackoff: 10 * time.Millisecond,
			OpTimeout:    5 * time.Second,
		},
		source.NewOS(0),
		extract.NewRegistry(logger),
		ch,
		embeddings.NewMemory(embeddings.MemoryConfig{Dimension: 16}),
		manager,
		track,
		logger,
		nil,
	)
	require.NoError(t, err)

	return &fixture{root: root, orch: orch, track: track, manager: manager}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (f *fixture) storeRecords(t *testing.T) int64 {
	t.Helper()
	h, err := f.manager.Acquire(context.Background())
	require.NoError(t, err)
	defer h.Release()
	stats, err := h.Stats(context.Background())
	require.NoError(t, err)
	return stats.Records
}

func TestRun_IndexesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "solar.txt", strings.Repeat("solar panel output grows. ", 10))
	f.write(t, "wind.md", strings.Repeat("wind turbine blades turn. ", 10))

	stats, err := f.orch.Run(ctx, Options{Mode: ModeIncremental})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Indexed)
	assert.Zero(t, stats.Failed)
	require.Greater(t, stats.Chunks, 2)

	before := f.storeRecords(t)

	// Second pass touches nothing and stores nothing new.
	stats, err = f.orch.Run(ctx, Options{Mode: ModeIncremental})
	require.NoError(t, err)
	assert.Zero(t, stats.Indexed)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, before, f.storeRecords(t))
}

func TestRun_UnsupportedFilesIgnored(t *testing.T) {
	f := newFixture(t)
	f.write(t, "notes.txt", "supported document content here")
	f.write(t, "binary.bin", "not supported")

	stats, err := f.orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Indexed)
}

func TestRun_ChangedFileReindexedAndStaleChunksDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.write(t, "report.txt", strings.Repeat("electric grid demand forecast data. ", 12))

	stats, err := f.orch.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Indexed)
	firstChunks := stats.Chunks
	require.Greater(t, firstChunks, 1)
	assert.EqualValues(t, firstChunks, f.storeRecords(t))

	// Shrink the file: fewer chunks, stale ones must disappear.
	f.write(t, "report.txt", "short forecast")
	stats, err = f.orch.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 1, stats.Chunks)
	assert.EqualValues(t, 1, f.storeRecords(t))

	rec, ok := f.track.Lookup(path)
	require.True(t, ok)
	assert.Equal(t, 1, rec.ChunkCount)
}

func TestRun_PartialBatchResilience(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		f.write(t, filepath.Join("docs", "good"+string(rune('0'+i))+".txt"),
			strings.Repeat("healthy document body. ", 5))
	}
	corrupt := f.write(t, filepath.Join("docs", "empty.txt"), "   ")

	stats, err := f.orch.Run(ctx, Options{})
	require.NoError(t, err, "a bad file must not abort the pass")
	assert.Equal(t, 9, stats.Indexed)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "empty.txt")

	rec, ok := f.track.Lookup(corrupt)
	require.True(t, ok)
	assert.Equal(t, tracker.FailurePermanent, rec.Failure)

	// Permanent failures stay excluded on the next pass.
	stats, err = f.orch.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Indexed)

	// Replacing the content lifts the exclusion without Force: the
	// failure applied to the old bytes, not the path.
	f.write(t, filepath.Join("docs", "empty.txt"), "repaired document body")
	stats, err = f.orch.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	assert.Zero(t, stats.Failed)

	rec, ok = f.track.Lookup(corrupt)
	require.True(t, ok)
	assert.Equal(t, tracker.FailureNone, rec.Failure)
}

func TestRun_ReconciliationRemovesVanishedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keep := f.write(t, "keep.txt", "document that stays around")
	gone := f.write(t, "gone.txt", "document that will be deleted")

	_, err := f.orch.Run(ctx, Options{})
	require.NoError(t, err)
	total := f.storeRecords(t)

	require.NoError(t, os.Remove(gone))
	stats, err := f.orch.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.Less(t, f.storeRecords(t), total)

	_, ok := f.track.Lookup(gone)
	assert.False(t, ok)
	_, ok = f.track.Lookup(keep)
	assert.True(t, ok)
}

func TestRun_FullRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.txt", "first document content")
	f.write(t, "b.txt", "second document content")

	_, err := f.orch.Run(ctx, Options{})
	require.NoError(t, err)
	before := f.storeRecords(t)

	stats, err := f.orch.Run(ctx, Options{Mode: ModeFull})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Indexed, "rebuild reindexes everything")
	assert.Equal(t, before, f.storeRecords(t), "rebuild ends with the same corpus")
	assert.False(t, f.orch.Rebuilding())
}

func TestRun_FullRebuildExcludesReaders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.txt", "document content for rebuild")

	_, err := f.orch.Run(ctx, Options{})
	require.NoError(t, err)

	// A reader holds the store while the rebuild starts. The rebuild
	// must wait it out and refuse new acquires, so no reader can reopen
	// the backend between the drain and the reset.
	h, err := f.manager.Acquire(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(ctx, Options{Mode: ModeFull})
		done <- err
	}()

	require.Eventually(t, func() bool {
		h2, err := f.manager.Acquire(ctx)
		if err == nil {
			h2.Release()
			return false
		}
		return errors.Is(err, vectorstore.ErrStoreBusy)
	}, 2*time.Second, 5*time.Millisecond, "acquires are refused while the rebuild drains")

	h.Release()
	require.NoError(t, <-done)

	// The store works again once the rebuild is through.
	h, err = f.manager.Acquire(ctx)
	require.NoError(t, err)
	h.Release()
}

func TestRun_ForceReindexInScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := f.write(t, "flaky.txt", "   ")
	f.write(t, "fine.txt", "ordinary document content")

	_, err := f.orch.Run(ctx, Options{})
	require.NoError(t, err)

	// The file is fixed, but size/mtime alone would reindex it anyway;
	// the interesting part is that Force lifts a permanent exclusion.
	rec, ok := f.track.Lookup(flaky)
	require.True(t, ok)
	require.Equal(t, tracker.FailurePermanent, rec.Failure)

	f.write(t, "flaky.txt", "now it has real content")
	stats, err := f.orch.Run(ctx, Options{Scope: flaky, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned, "scope restricts the pass")
	assert.Equal(t, 1, stats.Indexed)

	rec, ok = f.track.Lookup(flaky)
	require.True(t, ok)
	assert.Equal(t, tracker.FailureNone, rec.Failure)
}

func TestRun_CancelledBetweenBatches(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		f.write(t, "doc"+string(rune('a'+i))+".txt", "document body content")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.Run(ctx, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestChunkID_Deterministic(t *testing.T) {
	a := ChunkID("/docs/a.txt", 0)
	assert.Equal(t, a, ChunkID("/docs/a.txt", 0))
	assert.NotEqual(t, a, ChunkID("/docs/a.txt", 1))
	assert.NotEqual(t, a, ChunkID("/docs/b.txt", 0))
	assert.Len(t, a, 64)

	ids := ChunkIDs("/docs/a.txt", 2, 5)
	require.Len(t, ids, 3)
	assert.Equal(t, ChunkID("/docs/a.txt", 2), ids[0])
	assert.Nil(t, ChunkIDs("/docs/a.txt", 3, 3))
}

func TestRun_TenantStampedOnRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "doc.txt", "tenant scoped document content")

	_, err := f.orch.Run(ctx, Options{})
	require.NoError(t, err)

	h, err := f.manager.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	vec := make([]float32, 16)
	vec[0] = 1
	matches, err := h.Query(ctx, vec, map[string]string{vectorstore.MetaTenant: "acme"}, 10, -1)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, "acme", m.Metadata[vectorstore.MetaTenant])
		assert.Equal(t, "test", m.Metadata["source"])
		assert.NotEmpty(t, m.Metadata[vectorstore.MetaPath])
	}
}
