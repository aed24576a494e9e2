package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChunkID derives the stable identity of one chunk from its document's
// absolute path and the chunk's position. Re-indexing an unchanged file
// therefore produces the same IDs and upserts replace instead of
// duplicating.
func ChunkID(absPath string, ordinal int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d", absPath, ordinal)))
	return hex.EncodeToString(sum[:])
}

// ChunkIDs returns the IDs for ordinals [from, to).
func ChunkIDs(absPath string, from, to int) []string {
	if to <= from {
		return nil
	}
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, ChunkID(absPath, i))
	}
	return ids
}
