// Package indexer drives the indexing pipeline: enumerate, extract,
// chunk, embed, upsert, reconcile.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/extract"
	"github.com/fyrsmithlabs/corpusd/internal/source"
	"github.com/fyrsmithlabs/corpusd/internal/tracker"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// ErrRebuildInProgress rejects a second concurrent full rebuild.
var ErrRebuildInProgress = errors.New("full rebuild already in progress")

// Mode selects how much work a pass does.
type Mode string

const (
	// ModeIncremental indexes only files the tracker considers changed.
	ModeIncremental Mode = "incremental"
	// ModeFull resets the store and reindexes everything.
	ModeFull Mode = "full"
)

// Root binds one directory tree to a tenant scope.
type Root struct {
	Path   string
	Tenant string
	Tags   map[string]string
}

// Embedder is the slice of the embeddings API the orchestrator needs.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes the pipeline.
type Config struct {
	Roots        []Root
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
	// OpTimeout bounds each embedding call and each store operation.
	OpTimeout time.Duration
}

// Options select the scope of one pass.
type Options struct {
	Mode Mode
	// Scope restricts the pass to paths under this prefix. Empty means
	// all roots.
	Scope string
	// Force drops tracker records in scope first, reindexing files the
	// tracker would otherwise skip (including permanent failures).
	Force bool
}

// Stats summarizes one pass.
type Stats struct {
	Scanned int           `json:"scanned"`
	Indexed int           `json:"indexed"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Removed int           `json:"removed"`
	Chunks  int           `json:"chunks"`
	Elapsed time.Duration `json:"elapsed"`
	Errors  []string      `json:"errors,omitempty"`
}

// Orchestrator coordinates source, tracker, extractor, chunker,
// embedder and vector store. One pass runs at a time; upserts go
// through a single writer path.
type Orchestrator struct {
	cfg      Config
	src      source.Source
	registry *extract.Registry
	chunk    *chunker.Chunker
	embedder Embedder
	manager  *vectorstore.Manager
	track    *tracker.Tracker
	logger   *zap.Logger
	metrics  *Metrics

	passMu     sync.Mutex
	writeMu    sync.Mutex
	rebuilding atomic.Bool
}

// New wires an orchestrator. metrics may be nil.
func New(cfg Config, src source.Source, registry *extract.Registry, chunk *chunker.Chunker,
	embedder Embedder, manager *vectorstore.Manager, track *tracker.Tracker,
	logger *zap.Logger, metrics *Metrics) (*Orchestrator, error) {

	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("at least one root is required")
	}
	for i, root := range cfg.Roots {
		if root.Path == "" || root.Tenant == "" {
			return nil, fmt.Errorf("root %d: path and tenant are required", i)
		}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	return &Orchestrator{
		cfg:      cfg,
		src:      src,
		registry: registry,
		chunk:    chunk,
		embedder: embedder,
		manager:  manager,
		track:    track,
		logger:   logger.Named("indexer"),
		metrics:  metrics,
	}, nil
}

// Rebuilding reports whether a full rebuild is in flight.
func (o *Orchestrator) Rebuilding() bool {
	return o.rebuilding.Load()
}

// Run executes one pass. Full mode resets the store first; incremental
// mode indexes only changed files. Per-file failures are recorded and
// the pass continues; Run errors only when the pass as a whole cannot
// proceed.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Stats, error) {
	switch opts.Mode {
	case ModeFull:
		return o.rebuild(ctx, opts)
	case ModeIncremental, "":
		o.passMu.Lock()
		defer o.passMu.Unlock()
		return o.pass(ctx, opts)
	default:
		return Stats{}, fmt.Errorf("unknown mode %q", opts.Mode)
	}
}

// rebuild destroys the store, clears the tracker, and reindexes from
// scratch. Exclusive: a concurrent rebuild is rejected, and the store
// is only reset once every handle has drained.
func (o *Orchestrator) rebuild(ctx context.Context, opts Options) (Stats, error) {
	if !o.rebuilding.CompareAndSwap(false, true) {
		return Stats{}, ErrRebuildInProgress
	}
	defer o.rebuilding.Store(false)

	o.passMu.Lock()
	defer o.passMu.Unlock()

	o.logger.Warn("full rebuild starting")

	// Drain quiesces the store: new Acquire calls fail with ErrStoreBusy
	// until Resume, so no reader can reopen the backend between the last
	// release and the Reset.
	if err := o.manager.Drain(ctx); err != nil {
		return Stats{}, fmt.Errorf("draining store: %w", err)
	}
	if err := o.manager.Reset(ctx); err != nil {
		o.manager.Resume()
		return Stats{}, fmt.Errorf("resetting store: %w", err)
	}
	o.manager.Resume()

	o.track.Clear()
	if err := o.track.Save(); err != nil {
		return Stats{}, fmt.Errorf("saving cleared tracker: %w", err)
	}

	opts.Mode = ModeIncremental
	opts.Force = false
	return o.pass(ctx, opts)
}

type candidate struct {
	file        source.FileInfo
	root        Root
	fingerprint string
}

// pass runs the enumerate/partition/index/reconcile pipeline. Caller
// holds passMu.
func (o *Orchestrator) pass(ctx context.Context, opts Options) (Stats, error) {
	start := time.Now()
	var stats Stats

	candidates, seen, err := o.enumerate(ctx, opts, &stats)
	if err != nil {
		return stats, err
	}

	o.logger.Info("pass planned",
		zap.Int("scanned", stats.Scanned),
		zap.Int("candidates", len(candidates)),
		zap.Int("skipped", stats.Skipped))

	handle, err := o.manager.Acquire(ctx)
	if err != nil {
		return stats, fmt.Errorf("acquiring store: %w", err)
	}
	defer handle.Release()

	for batchStart := 0; batchStart < len(candidates); batchStart += o.cfg.BatchSize {
		// Cancellation is honored between batches so an interrupted
		// pass leaves only whole-file units of work behind.
		if err := ctx.Err(); err != nil {
			o.saveTracker()
			return stats, err
		}

		batchEnd := batchStart + o.cfg.BatchSize
		if batchEnd > len(candidates) {
			batchEnd = len(candidates)
		}
		for _, cand := range candidates[batchStart:batchEnd] {
			o.indexFile(ctx, handle, cand, &stats)
		}
		o.saveTracker()
	}

	if opts.Scope == "" {
		o.reconcile(ctx, handle, seen, &stats)
		o.saveTracker()
	}

	stats.Elapsed = time.Since(start)
	if o.metrics != nil {
		o.metrics.ObservePass(stats)
	}
	o.logger.Info("pass finished",
		zap.Int("indexed", stats.Indexed),
		zap.Int("failed", stats.Failed),
		zap.Int("removed", stats.Removed),
		zap.Int("chunks", stats.Chunks),
		zap.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

// enumerate lists candidate files under all roots and partitions them
// with the tracker.
func (o *Orchestrator) enumerate(ctx context.Context, opts Options, stats *Stats) ([]candidate, map[string]struct{}, error) {
	var candidates []candidate
	seen := make(map[string]struct{})

	for _, root := range o.cfg.Roots {
		files, err := o.src.List(ctx, root.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("listing root %s: %w", root.Path, err)
		}

		for _, file := range files {
			if !o.registry.Supported(file.Path) {
				continue
			}
			seen[file.Path] = struct{}{}
			if opts.Scope != "" && !underScope(file.Path, opts.Scope) {
				continue
			}
			stats.Scanned++

			if opts.Force {
				o.track.Forget(file.Path)
			}

			file := file
			need, fp, err := o.track.NeedsIndexing(file.Path, file.Size, file.ModTime, func() (string, error) {
				return o.fingerprint(ctx, file.Path)
			})
			if err != nil {
				stats.Failed++
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", file.Path, err))
				continue
			}
			if !need {
				stats.Skipped++
				continue
			}
			candidates = append(candidates, candidate{file: file, root: root, fingerprint: fp})
		}
	}
	return candidates, seen, nil
}

// indexFile runs extract -> chunk -> embed -> upsert for one file and
// records the outcome. Failures never abort the pass.
func (o *Orchestrator) indexFile(ctx context.Context, handle *vectorstore.Handle, cand candidate, stats *Stats) {
	path := cand.file.Path
	fp, err := o.tryIndexFile(ctx, handle, cand, stats)
	if err == nil {
		stats.Indexed++
		if o.metrics != nil {
			o.metrics.FileIndexed()
		}
		return
	}

	// Recording the failing content's identity lets the tracker lift the
	// failure verdict as soon as the file changes.
	kind := classifyFailure(err)
	o.track.RecordFailure(path, fp, cand.file.Size, cand.file.ModTime, kind)
	stats.Failed++
	stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, err))
	if o.metrics != nil {
		o.metrics.FileFailed(string(kind))
	}
	o.logger.Warn("file failed",
		zap.String("path", path),
		zap.String("kind", string(kind)),
		zap.Error(err))
}

// tryIndexFile returns the content fingerprint it computed (possibly
// empty when hashing itself failed) alongside the pipeline error.
func (o *Orchestrator) tryIndexFile(ctx context.Context, handle *vectorstore.Handle, cand candidate, stats *Stats) (string, error) {
	path := cand.file.Path

	fp := cand.fingerprint
	if fp == "" {
		var err error
		if fp, err = o.fingerprint(ctx, path); err != nil {
			return "", err
		}
	}

	result, err := o.extractFile(ctx, path)
	if err != nil {
		return fp, err
	}

	records := o.buildRecords(path, cand.root, result)
	if len(records) == 0 {
		return fp, fmt.Errorf("%w: no chunks produced", extract.ErrCorruptInput)
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Text
	}
	vectors, err := o.embedWithRetry(ctx, texts)
	if err != nil {
		return fp, fmt.Errorf("embedding %d chunks: %w", len(texts), err)
	}
	for i := range records {
		records[i].Vector = vectors[i]
	}

	// Single logical writer: upserts and stale-chunk deletes are
	// serialized even if passes ever overlap with external triggers.
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	opCtx, cancel := o.opContext(ctx)
	res, err := handle.Upsert(opCtx, records)
	cancel()
	if err != nil {
		return fp, err
	}
	if len(res.Failed) > 0 {
		return fp, fmt.Errorf("%d of %d records rejected: %v", len(res.Failed), len(records), res.Failed[0].Err)
	}

	// Tracker state is persisted only after the store confirmed the
	// write; a crash in between re-indexes the file, which is safe
	// because chunk IDs are deterministic.
	prevChunks := o.track.RecordSuccess(path, fp, cand.file.Size, cand.file.ModTime, len(records))
	stats.Chunks += len(records)

	if prevChunks > len(records) {
		stale := ChunkIDs(path, len(records), prevChunks)
		opCtx, cancel := o.opContext(ctx)
		err := handle.Delete(opCtx, stale)
		cancel()
		if err != nil {
			o.logger.Warn("stale chunk cleanup failed",
				zap.String("path", path),
				zap.Int("stale", len(stale)),
				zap.Error(err))
		}
	}
	return fp, nil
}

func (o *Orchestrator) extractFile(ctx context.Context, path string) (extract.Result, error) {
	rc, err := o.src.Open(ctx, path)
	if err != nil {
		return extract.Result{}, err
	}
	defer rc.Close()
	return o.registry.Extract(ctx, path, rc)
}

// buildRecords chunks each extracted segment, assigning document-global
// ordinals, and stamps tenant scope and provenance metadata.
func (o *Orchestrator) buildRecords(path string, root Root, result extract.Result) []vectorstore.Record {
	var records []vectorstore.Record
	ordinal := 0
	for _, seg := range result.Segments {
		for _, span := range o.chunk.Chunk(seg.Text) {
			metadata := map[string]string{
				vectorstore.MetaTenant:  root.Tenant,
				vectorstore.MetaPath:    path,
				vectorstore.MetaOrdinal: strconv.Itoa(ordinal),
			}
			for k, v := range root.Tags {
				metadata[k] = v
			}
			for k, v := range seg.Metadata {
				metadata[k] = v
			}
			records = append(records, vectorstore.Record{
				ID:       ChunkID(path, ordinal),
				Text:     span.Text,
				Metadata: metadata,
			})
			ordinal++
		}
	}
	return records
}

// embedWithRetry retries transient embedding failures with exponential
// backoff inside the pass. Permanent failures surface immediately.
func (o *Orchestrator) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := o.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		opCtx, cancel := o.opContext(ctx)
		var vectors [][]float32
		vectors, err = o.embedder.EmbedDocuments(opCtx, texts)
		cancel()
		if err == nil {
			return vectors, nil
		}
		if !errors.Is(err, embeddings.ErrUnavailable) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, err
}

// reconcile deletes chunks of files that vanished from the source and
// drops their tracker records.
func (o *Orchestrator) reconcile(ctx context.Context, handle *vectorstore.Handle, seen map[string]struct{}, stats *Stats) {
	for _, rec := range o.track.Reconcile(seen) {
		if err := ctx.Err(); err != nil {
			return
		}
		ids := ChunkIDs(rec.Path, 0, rec.ChunkCount)

		o.writeMu.Lock()
		opCtx, cancel := o.opContext(ctx)
		err := handle.Delete(opCtx, ids)
		cancel()
		o.writeMu.Unlock()

		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("removing %s: %v", rec.Path, err))
			o.logger.Warn("reconcile delete failed", zap.String("path", rec.Path), zap.Error(err))
			continue
		}
		o.track.Remove(rec.Path)
		stats.Removed++
		o.logger.Info("removed vanished document",
			zap.String("path", rec.Path),
			zap.Int("chunks", rec.ChunkCount))
	}
}

// fingerprint hashes the file content.
func (o *Orchestrator) fingerprint(ctx context.Context, path string) (string, error) {
	rc, err := o.src.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (o *Orchestrator) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.OpTimeout)
}

func (o *Orchestrator) saveTracker() {
	if err := o.track.Save(); err != nil {
		o.logger.Error("tracker save failed", zap.Error(err))
	}
}

// classifyFailure maps pipeline errors to tracker failure kinds.
// Unknown errors count as transient: retrying is cheap, and wrongly
// blacklisting a file is not.
func classifyFailure(err error) tracker.FailureKind {
	switch {
	case errors.Is(err, extract.ErrCorruptInput),
		errors.Is(err, extract.ErrUnsupportedFormat),
		errors.Is(err, embeddings.ErrInputTooLong),
		errors.Is(err, embeddings.ErrEmptyInput):
		return tracker.FailurePermanent
	default:
		return tracker.FailureTransient
	}
}

func underScope(path, scope string) bool {
	if path == scope {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(scope, "/")+"/")
}
