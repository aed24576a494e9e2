// Package vectorstore manages the lifecycle of the vector store and the
// backends that persist document chunks.
package vectorstore

// Well-known metadata keys stamped onto every stored chunk.
const (
	// MetaTenant carries the tenant scope. Required on every record.
	MetaTenant = "tenant_id"
	// MetaPath is the absolute source file path.
	MetaPath = "path"
	// MetaOrdinal is the chunk's zero-based position in the document.
	MetaOrdinal = "ordinal"
)

// Record is one chunk ready for storage. The vector is computed by the
// caller; backends never embed.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]string
}

// RecordError ties a failed record ID to its cause.
type RecordError struct {
	ID  string
	Err error
}

// UpsertResult reports per-record outcomes of a batch upsert.
type UpsertResult struct {
	Succeeded []string
	Failed    []RecordError
}

// Match is one query hit. Score is similarity in [0,1], higher is closer.
type Match struct {
	ID       string
	Score    float32
	Text     string
	Metadata map[string]string
}

// StoreStats describes the backing store.
type StoreStats struct {
	Kind         string `json:"kind"`
	Collection   string `json:"collection"`
	Records      int64  `json:"records"`
	StorageBytes int64  `json:"storage_bytes"`
}
