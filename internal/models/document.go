package models

import "time"

// Document is a source document awaiting or after ingestion.
type Document struct {
	ID        string                 `json:"id" db:"id"`
	Title     string                 `json:"title" db:"title"`
	Path      string                 `json:"path,omitempty" db:"path"`
	Content   string                 `json:"content" db:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// DocumentInput is the input for enqueueing a document.
type DocumentInput struct {
	ID       string                 `json:"id,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Path     string                 `json:"path,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Chunk is a bounded slice of a document's text and the entity ids discovered in it.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Start      int       `json:"start" db:"start_offset"`
	End        int       `json:"end" db:"end_offset"`
	Content    string    `json:"content" db:"content"`
	EntityIDs  []string  `json:"entity_ids,omitempty" db:"entity_ids"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
