// Package tracker persists per-file indexing state so passes only touch
// documents that actually changed.
package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// schemaVersion guards the state file layout. A mismatch on load
// discards the stale records; the next pass rebuilds them.
const schemaVersion = 2

// FailureKind classifies why a file last failed to index.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

// Record is the persisted indexing state for one file.
type Record struct {
	Path        string      `json:"path"`
	Fingerprint string      `json:"fingerprint"`
	Size        int64       `json:"size"`
	ModTime     time.Time   `json:"mod_time"`
	IndexedAt   time.Time   `json:"indexed_at"`
	ChunkCount  int         `json:"chunk_count"`
	Failure     FailureKind `json:"failure,omitempty"`
	Attempts    int         `json:"attempts,omitempty"`
}

type state struct {
	SchemaVersion int               `json:"schema_version"`
	Records       map[string]Record `json:"records"`
}

// Stats summarizes tracker contents.
type Stats struct {
	Files       int            `json:"files"`
	Chunks      int            `json:"chunks"`
	Failed      int            `json:"failed"`
	ByExtension map[string]int `json:"by_extension"`
}

// Tracker holds per-file records keyed by absolute path and saves them
// atomically to a JSON state file.
type Tracker struct {
	mu          sync.RWMutex
	path        string
	records     map[string]Record
	maxAttempts int
	logger      *zap.Logger
}

// Open loads the state file at path, creating an empty tracker when the
// file is missing, unreadable, or carries a different schema version.
// maxAttempts bounds retries for transiently failed files.
func Open(path string, maxAttempts int, logger *zap.Logger) (*Tracker, error) {
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", maxAttempts)
	}

	t := &Tracker{
		path:        path,
		records:     make(map[string]Record),
		maxAttempts: maxAttempts,
		logger:      logger.Named("tracker"),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading tracker state %s: %w", path, err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		t.logger.Warn("tracker state unreadable, starting fresh",
			zap.String("path", path), zap.Error(err))
		return t, nil
	}
	if st.SchemaVersion != schemaVersion {
		t.logger.Warn("tracker schema version mismatch, discarding records",
			zap.Int("found", st.SchemaVersion), zap.Int("want", schemaVersion))
		return t, nil
	}
	if st.Records != nil {
		t.records = st.Records
	}
	return t, nil
}

// Lookup returns the record for path, if any.
func (t *Tracker) Lookup(path string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[path]
	return rec, ok
}

// NeedsIndexing decides whether path must be (re)indexed given its
// current size and mtime. The fingerprint callback is invoked only when
// the cheap size/mtime check is inconclusive; the computed fingerprint,
// if any, is returned so callers can reuse it.
//
// Change detection runs before any failure verdict: a failure applies
// to the content that failed, never to the path forever. Changed
// content is always re-indexed and gets a fresh attempt budget. For
// unchanged content, permanently failed files stay excluded until
// Forget or Clear, and transiently failed files are retried until the
// attempt budget runs out.
func (t *Tracker) NeedsIndexing(path string, size int64, modTime time.Time, fingerprint func() (string, error)) (bool, string, error) {
	t.mu.RLock()
	rec, ok := t.records[path]
	t.mu.RUnlock()

	if !ok {
		return true, "", nil
	}

	var fp string
	changed := false
	if size != rec.Size || !modTime.Equal(rec.ModTime) {
		var err error
		fp, err = fingerprint()
		if err != nil {
			return false, "", fmt.Errorf("fingerprinting %s: %w", path, err)
		}
		if rec.Fingerprint != "" && fp == rec.Fingerprint {
			// Touched but unchanged. Refresh the cheap fields so the
			// next pass skips the hash.
			t.mu.Lock()
			rec.Size = size
			rec.ModTime = modTime
			t.records[path] = rec
			t.mu.Unlock()
		} else {
			changed = true
		}
	}

	if changed {
		if rec.Failure != FailureNone {
			// New content, new retry budget.
			t.mu.Lock()
			rec.Attempts = 0
			t.records[path] = rec
			t.mu.Unlock()
		}
		return true, fp, nil
	}

	switch rec.Failure {
	case FailurePermanent:
		return false, fp, nil
	case FailureTransient:
		return rec.Attempts < t.maxAttempts, fp, nil
	}
	return false, fp, nil
}

// RecordSuccess stores a fresh record after a confirmed upsert. The
// previous chunk count is returned so callers can delete stale chunks
// of a document that shrank.
func (t *Tracker) RecordSuccess(path, fingerprint string, size int64, modTime time.Time, chunkCount int) (prevChunks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.records[path]; ok {
		prevChunks = old.ChunkCount
	}
	t.records[path] = Record{
		Path:        path,
		Fingerprint: fingerprint,
		Size:        size,
		ModTime:     modTime,
		IndexedAt:   time.Now().UTC(),
		ChunkCount:  chunkCount,
	}
	return prevChunks
}

// RecordFailure marks path as failed, storing the identity of the
// content that failed so a later edit is detected and re-indexed. The
// fingerprint may be empty when the failure happened before hashing;
// change detection then falls back to size/mtime alone. Transient
// failures accumulate attempts; permanent failures reset the counter
// since retries are pointless.
func (t *Tracker) RecordFailure(path, fingerprint string, size int64, modTime time.Time, kind FailureKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.records[path]
	rec.Path = path
	rec.Fingerprint = fingerprint
	rec.Size = size
	rec.ModTime = modTime
	rec.Failure = kind
	if kind == FailureTransient {
		rec.Attempts++
	} else {
		rec.Attempts = 0
	}
	t.records[path] = rec
}

// Reconcile returns records whose paths are absent from seen, i.e.
// files that vanished from the source since the last pass.
func (t *Tracker) Reconcile(seen map[string]struct{}) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var vanished []Record
	for path, rec := range t.records {
		if _, ok := seen[path]; !ok {
			vanished = append(vanished, rec)
		}
	}
	sort.Slice(vanished, func(i, j int) bool { return vanished[i].Path < vanished[j].Path })
	return vanished
}

// Remove drops the record for path.
func (t *Tracker) Remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, path)
}

// Forget drops the record so the next pass reindexes the file
// unconditionally, clearing any permanent-failure exclusion.
func (t *Tracker) Forget(path string) {
	t.Remove(path)
}

// Clear drops all records. Used by full rebuilds.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]Record)
}

// Len returns the number of tracked files.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Stats summarizes tracked files by extension.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{ByExtension: make(map[string]int)}
	for path, rec := range t.records {
		s.Files++
		s.Chunks += rec.ChunkCount
		if rec.Failure != FailureNone {
			s.Failed++
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == "" {
			ext = "(none)"
		}
		s.ByExtension[ext]++
	}
	return s
}

// Save writes the state file atomically (temp file + rename, 0600).
func (t *Tracker) Save() error {
	t.mu.RLock()
	st := state{SchemaVersion: schemaVersion, Records: t.records}
	data, err := json.MarshalIndent(st, "", "  ")
	t.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding tracker state: %w", err)
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating tracker dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tracker-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting state file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing tracker state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		return fmt.Errorf("replacing tracker state: %w", err)
	}
	return nil
}
