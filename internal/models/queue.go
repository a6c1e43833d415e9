package models

import "time"

// QueueStatus is the state of a queued document.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
)

// CanTransition reports whether from -> to is a legal queue state change.
// failed -> pending (retry) is the only re-entrant transition.
func CanTransition(from, to QueueStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		return to == StatusPending
	}
	return false
}

// QueuedDocument is one ingestion work item.
type QueuedDocument struct {
	ID                string      `json:"id" db:"id"`
	DocumentID        string      `json:"document_id" db:"document_id"`
	Title             string      `json:"title,omitempty" db:"title"`
	Path              string      `json:"path,omitempty" db:"path"`
	Content           string      `json:"-" db:"content"`
	Status            QueueStatus `json:"status" db:"status"`
	Progress          float64     `json:"progress" db:"progress"`
	CurrentStep       string      `json:"current_step,omitempty" db:"current_step"`
	ProcessedChunks   int         `json:"processed_chunks" db:"processed_chunks"`
	TotalChunks       int         `json:"total_chunks" db:"total_chunks"`
	EntityCount       int         `json:"entity_count" db:"entity_count"`
	RelationshipCount int         `json:"relationship_count" db:"relationship_count"`
	Error             string      `json:"error,omitempty" db:"error"`
	EnqueuedAt        time.Time   `json:"enqueued_at" db:"enqueued_at"`
	StartedAt         *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// Reset clears progress, counters, and error, as done on retry.
func (q *QueuedDocument) Reset() {
	q.Progress = 0
	q.CurrentStep = ""
	q.ProcessedChunks = 0
	q.TotalChunks = 0
	q.EntityCount = 0
	q.RelationshipCount = 0
	q.Error = ""
	q.StartedAt = nil
	q.CompletedAt = nil
}
