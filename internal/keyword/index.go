// Package keyword provides full-text indexing over chunk and node text. The retriever uses it
// as an extra candidate source for the keyword scorer.
package keyword

import (
	"context"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the title field.
	// Use 1.0 for no boost.
	TitleBoost float64
	// PhraseBoost multiplies the score when query terms appear close together.
	// Use 1.0 for no boost.
	PhraseBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
	// Kind restricts hits to entries of one kind ("chunk", "node"). Empty means any.
	Kind string
}

// Entry kinds.
const (
	KindChunk = "chunk"
	KindNode  = "node"
)

// Entry is one indexed unit of text: a chunk of an ingested document or a graph node.
type Entry struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Kind       string `json:"kind"`
	DocumentID string `json:"document_id"`
}

// Index defines keyword search operations.
type Index interface {
	Index(ctx context.Context, id string, entry *Entry) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error)
	Delete(ctx context.Context, id string) error
	// DeleteDocument removes every entry belonging to docID.
	DeleteDocument(ctx context.Context, docID string) (int, error)
	Close() error
	// DocCount returns the total number of entries in the index.
	DocCount() (uint64, error)
}

// Result is a single keyword search hit.
type Result struct {
	ID         string
	DocumentID string
	Score      float64
}
