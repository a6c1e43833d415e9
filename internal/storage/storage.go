// Package storage defines the persistence interface for graph nodes, edges, chunks, and queue items.
package storage

import (
	"context"

	"github.com/hyperjump/tsunagu/internal/models"
)

// GraphWriter receives node and edge mutations. The graph store writes through to every
// configured writer; a secondary graph database only needs this much.
type GraphWriter interface {
	UpsertNode(ctx context.Context, node *models.Node) error
	UpsertEdge(ctx context.Context, edge *models.Edge) error
	DeleteNodes(ctx context.Context, ids []string) error
	DeleteEdges(ctx context.Context, ids []string) error
}

// Storage is the persistent store collaborator: key-addressed CRUD plus the neighbor
// lookup needed for BFS.
type Storage interface {
	GraphWriter

	// Node operations
	GetNode(ctx context.Context, id string) (*models.Node, error)
	ListNodes(ctx context.Context, offset, limit int) ([]*models.Node, error)

	// Edge operations
	GetEdge(ctx context.Context, id string) (*models.Edge, error)
	EdgesForNode(ctx context.Context, nodeID string) ([]*models.Edge, error)
	ListEdges(ctx context.Context, offset, limit int) ([]*models.Edge, error)

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	DeleteChunksByDocumentID(ctx context.Context, docID string) error

	// Queue operations
	SaveQueueItem(ctx context.Context, item *models.QueuedDocument) error
	ListQueueItems(ctx context.Context) ([]*models.QueuedDocument, error)
	DeleteQueueItems(ctx context.Context, ids []string) error

	// Stats
	CountNodes(ctx context.Context) (int64, error)
	CountEdges(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
