// Package models defines core data structures for the knowledge graph, ingestion queue, and retrieval.
package models

import (
	"errors"
	"time"

	"github.com/hyperjump/tsunagu/pkg/utils"
)

// NodeType classifies a graph node. Unknown strings are kept as-is.
type NodeType string

const (
	NodeTypeDocument  NodeType = "document"
	NodeTypeChunk     NodeType = "chunk"
	NodeTypeEntity    NodeType = "entity"
	NodeTypeWorkspace NodeType = "workspace"
)

// EdgeType classifies a relationship between two nodes. Unknown strings are kept as-is.
type EdgeType string

const (
	EdgeContains    EdgeType = "contains"
	EdgeMentions    EdgeType = "mentions"
	EdgeSimilarTo   EdgeType = "similar_to"
	EdgeRefersTo    EdgeType = "refers_to"
	EdgePartOf      EdgeType = "part_of"
	EdgeRelatedTo   EdgeType = "related_to"
	EdgeDerivedFrom EdgeType = "derived_from"
	EdgeDependsOn   EdgeType = "depends_on"
	EdgeImports     EdgeType = "imports"
	EdgeCalls       EdgeType = "calls"
	EdgeCoOccurs    EdgeType = "co_occurs"
)

// Metadata keys shared by the pipeline and the read paths.
const (
	MetaFilePath    = "file_path"
	MetaLine        = "line"
	MetaCategory    = "category"
	MetaDescription = "description"
	MetaOrigin      = "origin"
	MetaKind        = "kind"
	MetaEntityCount = "entity_count"
	MetaRelCount    = "relationship_count"
	MetaChunkCount  = "chunk_count"
)

// Values for MetaOrigin.
const (
	OriginAST       = "ast"
	OriginDiscovery = "discovery"
	OriginIngest    = "ingest"
)

// ErrSelfLoop is returned when an edge would connect a node to itself.
var ErrSelfLoop = errors.New("edge source and target must differ")

// Node is a graph vertex: a document, a chunk, or an extracted entity.
type Node struct {
	ID          string                 `json:"id" db:"id"`
	Label       string                 `json:"label" db:"label"`
	Type        NodeType               `json:"type" db:"type"`
	EntityType  EntityType             `json:"entity_type" db:"entity_type"`
	Confidence  float64                `json:"confidence" db:"confidence"`
	Sources     []string               `json:"sources,omitempty" db:"sources"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" db:"updated_at"`
	Selected    bool                   `json:"selected,omitempty" db:"selected"`
	Highlighted bool                   `json:"highlighted,omitempty" db:"highlighted"`
	Deleted     bool                   `json:"deleted,omitempty" db:"deleted"`
}

// NewNode returns a node with clamped confidence and both timestamps set to now.
func NewNode(id, label string, typ NodeType, confidence float64, now time.Time) Node {
	return Node{
		ID:         id,
		Label:      label,
		Type:       typ,
		Confidence: utils.Clamp01(confidence),
		Metadata:   map[string]interface{}{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SetConfidence stores c clamped to [0,1].
func (n *Node) SetConfidence(c float64) {
	n.Confidence = utils.Clamp01(c)
}

// Active reports whether the node is visible to read paths.
func (n Node) Active() bool {
	return !n.Deleted
}

// MetaString returns a string metadata value or "".
func (n Node) MetaString(key string) string {
	if n.Metadata == nil {
		return ""
	}
	if s, ok := n.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// Clone returns a copy that does not share the Sources slice or Metadata map.
func (n Node) Clone() Node {
	out := n
	if n.Sources != nil {
		out.Sources = append([]string(nil), n.Sources...)
	}
	if n.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Edge is a typed, weighted relationship between two nodes referenced by id.
type Edge struct {
	ID            string                 `json:"id" db:"id"`
	Label         string                 `json:"label,omitempty" db:"label"`
	Type          EdgeType               `json:"type" db:"type"`
	Source        string                 `json:"source" db:"source_id"`
	Target        string                 `json:"target" db:"target_id"`
	Weight        float64                `json:"weight" db:"weight"`
	Confidence    float64                `json:"confidence" db:"confidence"`
	Bidirectional bool                   `json:"bidirectional,omitempty" db:"bidirectional"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at" db:"updated_at"`
}

// NewEdge builds an edge with clamped weight and confidence. Self-loops are rejected.
func NewEdge(id string, typ EdgeType, source, target string, weight, confidence float64, now time.Time) (Edge, error) {
	if source == target {
		return Edge{}, ErrSelfLoop
	}
	return Edge{
		ID:         id,
		Label:      string(typ),
		Type:       typ,
		Source:     source,
		Target:     target,
		Weight:     utils.Clamp01(weight),
		Confidence: utils.Clamp01(confidence),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Normalize clamps weight and confidence in place.
func (e *Edge) Normalize() {
	e.Weight = utils.Clamp01(e.Weight)
	e.Confidence = utils.Clamp01(e.Confidence)
}

// Touches reports whether id is one of the edge's endpoints.
func (e Edge) Touches(id string) bool {
	return e.Source == id || e.Target == id
}

// Other returns the endpoint opposite to id.
func (e Edge) Other(id string) string {
	if e.Source == id {
		return e.Target
	}
	return e.Source
}

// Clone returns a copy that does not share the Metadata map.
func (e Edge) Clone() Edge {
	out := e
	if e.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
