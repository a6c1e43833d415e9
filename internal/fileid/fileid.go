// Package fileid provides deterministic, content-addressed identifiers for documents,
// entities, chunks, and edges.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	prefix       = "file:"
	entityPrefix = "ent:"
	chunkPrefix  = "chunk:"
	edgePrefix   = "edge:"
	namePrefix   = "name:"
)

// FileDocID returns a stable document ID for the given absolute path.
// Same path always yields the same ID. Used for index/update/delete by path.
func FileDocID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	return prefix + hashParts(normalized)
}

// EntityID identifies a syntactic entity by where and what it is.
// Re-extracting identical content yields the same id.
func EntityID(path, kind, name string, line int) string {
	return entityPrefix + hashParts(filepath.Clean(path), kind, name, strconv.Itoa(line))[:32]
}

// NameID identifies an entity by its normalized name only; used for dedup identity.
func NameID(normalizedName string) string {
	return namePrefix + hashParts(normalizedName)[:32]
}

// ChunkID identifies chunk index of a document.
func ChunkID(docID string, index int) string {
	return chunkPrefix + hashParts(docID, strconv.Itoa(index))[:24]
}

// EdgeID identifies a typed relationship between two node ids.
func EdgeID(edgeType, source, target string) string {
	return edgePrefix + hashParts(edgeType, source, target)[:32]
}

// ContentHash returns the hex sha256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hashParts(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(hash[:])
}
