package ingest

import (
	"github.com/hyperjump/tsunagu/internal/fileid"
	"github.com/hyperjump/tsunagu/internal/models"
)

// Chunker splits text into fixed-size, overlapping character windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in characters). An overlap
// that leaves no forward progress is reduced to chunkSize-1.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text into chunks. Start and End are rune offsets; ids are derived from the
// document id and chunk index so re-chunking identical text yields identical ids.
func (c *Chunker) Chunk(docID, text string) []models.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	chunks := make([]models.Chunk, 0, len(runes)/step+1)
	for i := 0; i < len(runes); i += step {
		end := i + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		idx := len(chunks)
		chunks = append(chunks, models.Chunk{
			ID:         fileid.ChunkID(docID, idx),
			DocumentID: docID,
			ChunkIndex: idx,
			Start:      i,
			End:        end,
			Content:    string(runes[i:end]),
		})
		if end >= len(runes) {
			break
		}
	}
	return chunks
}
