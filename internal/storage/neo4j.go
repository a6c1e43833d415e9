package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/hyperjump/tsunagu/internal/models"
)

const (
	neo4jIndexQuery = `CREATE INDEX node_id IF NOT EXISTS FOR (n:Node) ON (n.id)`

	neo4jUpsertNodeQuery = `
		MERGE (n:Node {id: $id})
		SET n.label = $label,
			n.type = $type,
			n.entity_type = $entity_type,
			n.confidence = $confidence,
			n.sources = $sources,
			n.metadata = $metadata,
			n.deleted = $deleted,
			n.created_at = $created_at,
			n.updated_at = $updated_at
	`

	neo4jUpsertEdgeQuery = `
		MATCH (s:Node {id: $source})
		MATCH (t:Node {id: $target})
		MERGE (s)-[r:RELATES {id: $id}]->(t)
		SET r.type = $type,
			r.label = $label,
			r.weight = $weight,
			r.confidence = $confidence,
			r.bidirectional = $bidirectional,
			r.metadata = $metadata,
			r.created_at = $created_at,
			r.updated_at = $updated_at
	`

	neo4jDeleteNodesQuery = `MATCH (n:Node) WHERE n.id IN $ids DETACH DELETE n`
	neo4jDeleteEdgesQuery = `MATCH ()-[r:RELATES]->() WHERE r.id IN $ids DELETE r`
)

// Neo4jMirror mirrors graph mutations into a Neo4j (or Memgraph) database so the graph can be
// explored with Cypher. It implements GraphWriter only; SQLite stays the system of record.
type Neo4jMirror struct {
	driver   neo4j.DriverWithContext
	database string
	exec     func(ctx context.Context, query string, params map[string]any) error
}

// NewNeo4jMirror connects to uri and ensures the id index exists.
func NewNeo4jMirror(ctx context.Context, uri, username, password, database string) (*Neo4jMirror, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	m := &Neo4jMirror{driver: driver, database: database}
	m.exec = m.executeQuery
	if err := m.exec(ctx, neo4jIndexQuery, nil); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to create neo4j index: %w", err)
	}
	return m, nil
}

func (m *Neo4jMirror) executeQuery(ctx context.Context, query string, params map[string]any) error {
	opts := []neo4j.ExecuteQueryConfigurationOption{}
	if m.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(m.database))
	}
	if _, err := neo4j.ExecuteQuery(ctx, m.driver, query, params, neo4j.EagerResultTransformer, opts...); err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	return nil
}

// UpsertNode merges a node by id.
func (m *Neo4jMirror) UpsertNode(ctx context.Context, n *models.Node) error {
	params, err := nodeParams(n)
	if err != nil {
		return err
	}
	return m.exec(ctx, neo4jUpsertNodeQuery, params)
}

// UpsertEdge merges a relationship by id between two existing nodes.
func (m *Neo4jMirror) UpsertEdge(ctx context.Context, e *models.Edge) error {
	if e.Source == e.Target {
		return models.ErrSelfLoop
	}
	params, err := edgeParams(e)
	if err != nil {
		return err
	}
	return m.exec(ctx, neo4jUpsertEdgeQuery, params)
}

// DeleteNodes detaches and deletes nodes.
func (m *Neo4jMirror) DeleteNodes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return m.exec(ctx, neo4jDeleteNodesQuery, map[string]any{"ids": ids})
}

// DeleteEdges deletes relationships.
func (m *Neo4jMirror) DeleteEdges(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return m.exec(ctx, neo4jDeleteEdgesQuery, map[string]any{"ids": ids})
}

// Close closes the driver.
func (m *Neo4jMirror) Close(ctx context.Context) error {
	if m.driver == nil {
		return nil
	}
	return m.driver.Close(ctx)
}

// nodeParams flattens a node to Cypher parameters. Metadata is stored as a JSON string
// because Neo4j properties cannot hold nested maps.
func nodeParams(n *models.Node) (map[string]any, error) {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	sources := n.Sources
	if sources == nil {
		sources = []string{}
	}
	return map[string]any{
		"id":          n.ID,
		"label":       n.Label,
		"type":        string(n.Type),
		"entity_type": n.EntityType.String(),
		"confidence":  n.Confidence,
		"sources":     sources,
		"metadata":    string(meta),
		"deleted":     n.Deleted,
		"created_at":  n.CreatedAt,
		"updated_at":  n.UpdatedAt,
	}, nil
}

func edgeParams(e *models.Edge) (map[string]any, error) {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return map[string]any{
		"id":            e.ID,
		"source":        e.Source,
		"target":        e.Target,
		"type":          string(e.Type),
		"label":         e.Label,
		"weight":        e.Weight,
		"confidence":    e.Confidence,
		"bidirectional": e.Bidirectional,
		"metadata":      string(meta),
		"created_at":    e.CreatedAt,
		"updated_at":    e.UpdatedAt,
	}, nil
}
