package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryBackend keeps records in process memory. Used for development
// and hermetic tests; data does not survive a restart.
type MemoryBackend struct {
	mu         sync.RWMutex
	collection string
	vectorSize int
	open       bool
	records    map[string]Record
}

// NewMemoryBackend builds an empty in-memory backend.
func NewMemoryBackend(collection string, vectorSize int) *MemoryBackend {
	return &MemoryBackend{
		collection: collection,
		vectorSize: vectorSize,
		records:    make(map[string]Record),
	}
}

func (b *MemoryBackend) Kind() string { return "memory" }

func (b *MemoryBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = true
	return nil
}

func (b *MemoryBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	return nil
}

func (b *MemoryBackend) EnsureCollection(ctx context.Context) error {
	return b.requireOpen()
}

func (b *MemoryBackend) Upsert(ctx context.Context, records []Record) (UpsertResult, error) {
	if err := b.requireOpen(); err != nil {
		return UpsertResult{}, err
	}

	var res UpsertResult
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range records {
		if len(rec.Vector) != b.vectorSize {
			res.Failed = append(res.Failed, RecordError{
				ID:  rec.ID,
				Err: fmt.Errorf("%w: vector size %d, want %d", ErrSchemaConflict, len(rec.Vector), b.vectorSize),
			})
			continue
		}
		b.records[rec.ID] = rec
		res.Succeeded = append(res.Succeeded, rec.ID)
	}
	return res, nil
}

func (b *MemoryBackend) Delete(ctx context.Context, ids []string) error {
	if err := b.requireOpen(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.records, id)
	}
	return nil
}

func (b *MemoryBackend) Query(ctx context.Context, vector []float32, filter map[string]string, limit int, floor float32) ([]Match, error) {
	if err := b.requireOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var matches []Match
	for _, rec := range b.records {
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		score := cosineSimilarity(vector, rec.Vector)
		if score < floor {
			continue
		}
		matches = append(matches, Match{
			ID:       rec.ID,
			Score:    score,
			Text:     rec.Text,
			Metadata: rec.Metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (b *MemoryBackend) Stats(ctx context.Context) (StoreStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var bytes int64
	for _, rec := range b.records {
		bytes += int64(len(rec.Text)) + int64(4*len(rec.Vector))
	}
	return StoreStats{
		Kind:         b.Kind(),
		Collection:   b.collection,
		Records:      int64(len(b.records)),
		StorageBytes: bytes,
	}, nil
}

func (b *MemoryBackend) Destroy(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return ErrStoreBusy
	}
	b.records = make(map[string]Record)
	return nil
}

func (b *MemoryBackend) requireOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.open {
		return ErrStoreClosed
	}
	return nil
}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, want := range filter {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
