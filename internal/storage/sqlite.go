package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/tsunagu/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		type TEXT NOT NULL,
		entity_type TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		sources TEXT,
		metadata TEXT,
		selected INTEGER NOT NULL DEFAULT 0,
		highlighted INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);
	CREATE INDEX IF NOT EXISTS idx_nodes_updated_at ON nodes(updated_at);

	CREATE TABLE IF NOT EXISTS edges (
		id TEXT PRIMARY KEY,
		label TEXT,
		type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		bidirectional INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		CHECK (source_id <> target_id)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		content TEXT NOT NULL,
		entity_ids TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_chunk ON chunks(document_id, chunk_index);

	CREATE TABLE IF NOT EXISTS queue_items (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		title TEXT,
		path TEXT,
		content TEXT NOT NULL,
		status TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		current_step TEXT,
		processed_chunks INTEGER NOT NULL DEFAULT 0,
		total_chunks INTEGER NOT NULL DEFAULT 0,
		entity_count INTEGER NOT NULL DEFAULT 0,
		relationship_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		enqueued_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_queue_enqueued_at ON queue_items(enqueued_at);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertNode inserts or overwrites a node by id.
func (s *SQLiteStorage) UpsertNode(ctx context.Context, n *models.Node) error {
	sources, err := marshalJSON(n.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	meta, err := marshalJSON(n.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, label, type, entity_type, confidence, sources, metadata,
			selected, highlighted, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			label = excluded.label, type = excluded.type, entity_type = excluded.entity_type,
			confidence = excluded.confidence, sources = excluded.sources, metadata = excluded.metadata,
			selected = excluded.selected, highlighted = excluded.highlighted, deleted = excluded.deleted,
			updated_at = excluded.updated_at`,
		n.ID, n.Label, string(n.Type), n.EntityType.String(), n.Confidence, sources, meta,
		n.Selected, n.Highlighted, n.Deleted, n.CreatedAt, n.UpdatedAt,
	)
	return err
}

const nodeColumns = `id, label, type, entity_type, confidence, sources, metadata,
	selected, highlighted, deleted, created_at, updated_at`

// GetNode returns a node by ID, or models.ErrNotFound.
func (s *SQLiteStorage) GetNode(ctx context.Context, id string) (*models.Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	return n, err
}

// ListNodes returns nodes ordered by id with offset and limit.
func (s *SQLiteStorage) ListNodes(ctx context.Context, offset, limit int) ([]*models.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// DeleteNodes physically removes nodes and any edge touching them.
func (s *SQLiteStorage) DeleteNodes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	in, args := inClause(ids)
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE source_id IN (`+in+`) OR target_id IN (`+in+`)`,
		append(args, args...)...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id IN (`+in+`)`, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertEdge inserts or overwrites an edge by id.
func (s *SQLiteStorage) UpsertEdge(ctx context.Context, e *models.Edge) error {
	if e.Source == e.Target {
		return models.ErrSelfLoop
	}
	meta, err := marshalJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO edges (id, label, type, source_id, target_id, weight, confidence, bidirectional,
			metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			label = excluded.label, type = excluded.type, source_id = excluded.source_id,
			target_id = excluded.target_id, weight = excluded.weight, confidence = excluded.confidence,
			bidirectional = excluded.bidirectional, metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		e.ID, e.Label, string(e.Type), e.Source, e.Target, e.Weight, e.Confidence, e.Bidirectional,
		meta, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

const edgeColumns = `id, label, type, source_id, target_id, weight, confidence, bidirectional,
	metadata, created_at, updated_at`

// GetEdge returns an edge by ID, or models.ErrNotFound.
func (s *SQLiteStorage) GetEdge(ctx context.Context, id string) (*models.Edge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("edge %s: %w", id, models.ErrNotFound)
	}
	return e, err
}

// EdgesForNode returns every edge where nodeID is the source or the target.
func (s *SQLiteStorage) EdgesForNode(ctx context.Context, nodeID string) ([]*models.Edge, error) {
	return s.queryEdges(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE source_id = ? OR target_id = ? ORDER BY id`, nodeID, nodeID)
}

// ListEdges returns edges ordered by id with offset and limit.
func (s *SQLiteStorage) ListEdges(ctx context.Context, offset, limit int) ([]*models.Edge, error) {
	return s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
}

func (s *SQLiteStorage) queryEdges(ctx context.Context, query string, args ...interface{}) ([]*models.Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []*models.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// DeleteEdges physically removes edges by id.
func (s *SQLiteStorage) DeleteEdges(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)
	_, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE id IN (`+in+`)`, args...)
	return err
}

// BatchCreateChunks inserts or replaces chunks in a single transaction.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, document_id, chunk_index, start_offset, end_offset, content, entity_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range chunks {
		ids, err := marshalJSON(c.EntityIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal entity ids: %w", err)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.ChunkIndex, c.Start, c.End, c.Content, ids, c.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChunksByDocumentID returns all chunks for a document ordered by chunk_index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, start_offset, end_offset, content, entity_ids, created_at
		 FROM chunks WHERE document_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		var ids sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Start, &c.End, &c.Content, &ids, &c.CreatedAt); err != nil {
			return nil, err
		}
		if ids.Valid && ids.String != "" {
			if err := json.Unmarshal([]byte(ids.String), &c.EntityIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entity ids: %w", err)
			}
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (s *SQLiteStorage) DeleteChunksByDocumentID(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID)
	return err
}

// SaveQueueItem inserts or overwrites a queue item.
func (s *SQLiteStorage) SaveQueueItem(ctx context.Context, q *models.QueuedDocument) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_items (id, document_id, title, path, content, status, progress, current_step,
			processed_chunks, total_chunks, entity_count, relationship_count, error, enqueued_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, progress = excluded.progress, current_step = excluded.current_step,
			processed_chunks = excluded.processed_chunks, total_chunks = excluded.total_chunks,
			entity_count = excluded.entity_count, relationship_count = excluded.relationship_count,
			error = excluded.error, started_at = excluded.started_at, completed_at = excluded.completed_at`,
		q.ID, q.DocumentID, q.Title, q.Path, q.Content, string(q.Status), q.Progress, q.CurrentStep,
		q.ProcessedChunks, q.TotalChunks, q.EntityCount, q.RelationshipCount, q.Error, q.EnqueuedAt,
		nullTime(q.StartedAt), nullTime(q.CompletedAt),
	)
	return err
}

// ListQueueItems returns every queue item in enqueue order.
func (s *SQLiteStorage) ListQueueItems(ctx context.Context) ([]*models.QueuedDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, title, path, content, status, progress, current_step, processed_chunks,
			total_chunks, entity_count, relationship_count, error, enqueued_at, started_at, completed_at
		 FROM queue_items ORDER BY enqueued_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.QueuedDocument
	for rows.Next() {
		var q models.QueuedDocument
		var title, path, step, errMsg sql.NullString
		var status string
		var started, completed sql.NullTime
		if err := rows.Scan(&q.ID, &q.DocumentID, &title, &path, &q.Content, &status, &q.Progress, &step,
			&q.ProcessedChunks, &q.TotalChunks, &q.EntityCount, &q.RelationshipCount, &errMsg,
			&q.EnqueuedAt, &started, &completed); err != nil {
			return nil, err
		}
		q.Title, q.Path, q.CurrentStep, q.Error = title.String, path.String, step.String, errMsg.String
		q.Status = models.QueueStatus(status)
		if started.Valid {
			t := started.Time
			q.StartedAt = &t
		}
		if completed.Valid {
			t := completed.Time
			q.CompletedAt = &t
		}
		items = append(items, &q)
	}
	return items, rows.Err()
}

// DeleteQueueItems removes queue items by id.
func (s *SQLiteStorage) DeleteQueueItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id IN (`+in+`)`, args...)
	return err
}

// CountNodes returns the number of stored nodes, including logically deleted ones.
func (s *SQLiteStorage) CountNodes(ctx context.Context) (int64, error) {
	return s.count(ctx, "nodes")
}

// CountEdges returns the number of stored edges.
func (s *SQLiteStorage) CountEdges(ctx context.Context) (int64, error) {
	return s.count(ctx, "edges")
}

// CountChunks returns the number of stored chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	return s.count(ctx, "chunks")
}

func (s *SQLiteStorage) count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	return n, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (*models.Node, error) {
	var n models.Node
	var typ string
	var entityType, sources, meta sql.NullString
	if err := row.Scan(&n.ID, &n.Label, &typ, &entityType, &n.Confidence, &sources, &meta,
		&n.Selected, &n.Highlighted, &n.Deleted, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Type = models.NodeType(typ)
	n.EntityType = models.ParseEntityType(entityType.String)
	if sources.Valid && sources.String != "" {
		if err := json.Unmarshal([]byte(sources.String), &n.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &n.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &n, nil
}

func scanEdge(row rowScanner) (*models.Edge, error) {
	var e models.Edge
	var typ string
	var label, meta sql.NullString
	if err := row.Scan(&e.ID, &label, &typ, &e.Source, &e.Target, &e.Weight, &e.Confidence,
		&e.Bidirectional, &meta, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Label = label.String
	e.Type = models.EdgeType(typ)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "", nil
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func inClause(ids []string) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
