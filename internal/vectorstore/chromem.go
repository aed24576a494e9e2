package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// schemaFileName is the sidecar recording the collection schema next to
// the chromem data. chromem itself does not expose the stored vector
// dimension, so the sidecar is how a dimension change is detected.
const schemaFileName = "schema.json"

type chromemSchema struct {
	Collection string `json:"collection"`
	VectorSize int    `json:"vector_size"`
}

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the persistence directory.
	Path       string
	Collection string
	VectorSize int
	// Compress gzips persisted documents.
	Compress bool
}

// ChromemBackend persists chunks in an embedded chromem-go database.
// This is the default store: no external service, one directory on disk.
type ChromemBackend struct {
	cfg ChromemConfig

	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemBackend validates configuration; the database is loaded on
// Open.
func NewChromemBackend(cfg ChromemConfig) (*ChromemBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("chromem path is required")
	}
	return &ChromemBackend{cfg: cfg}, nil
}

func (b *ChromemBackend) Kind() string { return "chromem" }

// Open loads the persisted database. Unreadable persisted state wraps
// ErrStoreCorrupted; the caller decides whether to Reset.
func (b *ChromemBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}

	db, err := chromem.NewPersistentDB(b.cfg.Path, b.cfg.Compress)
	if err != nil {
		return fmt.Errorf("%w: loading chromem db at %s: %v", ErrStoreCorrupted, b.cfg.Path, err)
	}
	b.db = db
	return nil
}

func (b *ChromemBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// chromem has no connection to tear down; dropping the references
	// releases the in-memory copy.
	b.db = nil
	b.collection = nil
	return nil
}

// EnsureCollection opens or creates the collection and verifies the
// recorded schema matches the configured vector size.
func (b *ChromemBackend) EnsureCollection(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return ErrStoreClosed
	}
	if b.collection != nil {
		return nil
	}

	if err := b.checkSchema(); err != nil {
		return err
	}

	col, err := b.db.GetOrCreateCollection(b.cfg.Collection, nil, rejectEmbedding)
	if err != nil {
		return fmt.Errorf("opening collection %s: %w", b.cfg.Collection, err)
	}
	b.collection = col
	return nil
}

// rejectEmbedding is installed as the collection's embedding func.
// Vectors are always precomputed by the caller; reaching this means a
// write path forgot to attach one.
func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("vectors must be precomputed, store-side embedding is disabled")
}

func (b *ChromemBackend) checkSchema() error {
	schemaPath := filepath.Join(b.cfg.Path, schemaFileName)
	data, err := os.ReadFile(schemaPath)
	if errors.Is(err, fs.ErrNotExist) {
		schema := chromemSchema{Collection: b.cfg.Collection, VectorSize: b.cfg.VectorSize}
		encoded, err := json.Marshal(schema)
		if err != nil {
			return fmt.Errorf("encoding schema: %w", err)
		}
		if err := os.WriteFile(schemaPath, encoded, 0600); err != nil {
			return fmt.Errorf("writing schema sidecar: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading schema sidecar: %w", err)
	}

	var schema chromemSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return fmt.Errorf("%w: unreadable schema sidecar: %v", ErrStoreCorrupted, err)
	}
	if schema.VectorSize != b.cfg.VectorSize {
		return fmt.Errorf("%w: collection %s holds %d-dim vectors, config wants %d",
			ErrSchemaConflict, b.cfg.Collection, schema.VectorSize, b.cfg.VectorSize)
	}
	return nil
}

// Upsert adds or replaces documents one by one, collecting per-record
// failures so a single bad record never sinks the batch.
func (b *ChromemBackend) Upsert(ctx context.Context, records []Record) (UpsertResult, error) {
	col, err := b.requireCollection()
	if err != nil {
		return UpsertResult{}, err
	}

	var res UpsertResult
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(rec.Vector) != b.cfg.VectorSize {
			res.Failed = append(res.Failed, RecordError{
				ID:  rec.ID,
				Err: fmt.Errorf("%w: vector size %d, want %d", ErrSchemaConflict, len(rec.Vector), b.cfg.VectorSize),
			})
			continue
		}
		doc := chromem.Document{
			ID:        rec.ID,
			Metadata:  rec.Metadata,
			Embedding: rec.Vector,
			Content:   rec.Text,
		}
		// AddDocument replaces an existing document with the same ID.
		if err := col.AddDocument(ctx, doc); err != nil {
			if persistFailure(err) {
				return res, fmt.Errorf("%w: persisting document %s: %v", ErrStoreCorrupted, rec.ID, err)
			}
			res.Failed = append(res.Failed, RecordError{ID: rec.ID, Err: err})
			continue
		}
		res.Succeeded = append(res.Succeeded, rec.ID)
	}
	return res, nil
}

// persistFailure reports whether err came from the filesystem under the
// persist directory rather than from the record itself. A write that
// cannot reach disk leaves the on-disk state untrustworthy, so these
// surface as ErrStoreCorrupted at the operation level.
func persistFailure(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return true
	}
	var linkErr *os.LinkError
	return errors.As(err, &linkErr)
}

func (b *ChromemBackend) Delete(ctx context.Context, ids []string) error {
	col, err := b.requireCollection()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		if persistFailure(err) {
			return fmt.Errorf("%w: deleting %d documents: %v", ErrStoreCorrupted, len(ids), err)
		}
		return fmt.Errorf("deleting %d documents: %w", len(ids), err)
	}
	return nil
}

func (b *ChromemBackend) Query(ctx context.Context, vector []float32, filter map[string]string, limit int, floor float32) ([]Match, error) {
	col, err := b.requireCollection()
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the collection size.
	count := col.Count()
	if count == 0 || limit <= 0 {
		return nil, nil
	}
	n := limit
	if n > count {
		n = count
	}

	results, err := col.QueryEmbedding(ctx, vector, n, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if r.Similarity < floor {
			continue
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Score:    r.Similarity,
			Text:     r.Content,
			Metadata: r.Metadata,
		})
	}
	return matches, nil
}

func (b *ChromemBackend) Stats(ctx context.Context) (StoreStats, error) {
	stats := StoreStats{Kind: b.Kind(), Collection: b.cfg.Collection}

	b.mu.Lock()
	col := b.collection
	b.mu.Unlock()
	if col != nil {
		stats.Records = int64(col.Count())
	}

	var bytes int64
	err := filepath.WalkDir(b.cfg.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			bytes += info.Size()
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return stats, fmt.Errorf("sizing store directory: %w", err)
	}
	stats.StorageBytes = bytes
	return stats, nil
}

// Destroy removes the persistence directory. The Manager guarantees the
// backend is closed first.
func (b *ChromemBackend) Destroy(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return ErrStoreBusy
	}
	if err := os.RemoveAll(b.cfg.Path); err != nil {
		return fmt.Errorf("removing store directory %s: %w", b.cfg.Path, err)
	}
	return nil
}

func (b *ChromemBackend) requireCollection() (*chromem.Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, ErrStoreClosed
	}
	if b.collection == nil {
		return nil, fmt.Errorf("%w: collection not ensured", ErrStoreClosed)
	}
	return b.collection, nil
}
