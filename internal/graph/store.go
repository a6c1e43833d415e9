// Package graph owns the in-memory node and edge arenas, write-through persistence, subgraph
// expansion, entity deduplication, and read-side filtering.
package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/storage"
)

const (
	defaultMaxSubgraphNodes = 500
	loadPageSize            = 1000
)

// Store holds nodes and edges in flat maps keyed by id. Relationships are id references only.
// Every mutation is atomic per node or edge; cross-node invariants are checked on read.
type Store struct {
	mu          sync.RWMutex
	nodes       map[string]*models.Node
	edges       map[string]*models.Edge
	adj         map[string]map[string]struct{} // node id -> edge ids
	byName      map[string]string              // normalized entity name -> node id
	workspaceID string

	backend          storage.Storage
	writers          []storage.GraphWriter
	maxSubgraphNodes int
	now              func() time.Time
	logger           *zap.Logger // optional
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a logger for write-through failures and compaction.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithBackend sets the system of record. It receives every mutation and is read by Load.
func WithBackend(b storage.Storage) StoreOption {
	return func(s *Store) {
		if b != nil {
			s.backend = b
			s.writers = append(s.writers, b)
		}
	}
}

// WithWriter adds a persistence target that receives every mutation.
func WithWriter(w storage.GraphWriter) StoreOption {
	return func(s *Store) {
		if w != nil {
			s.writers = append(s.writers, w)
		}
	}
}

// WithMaxSubgraphNodes caps whole-graph reads (subgraph queries without seeds).
func WithMaxSubgraphNodes(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxSubgraphNodes = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		nodes:            make(map[string]*models.Node),
		edges:            make(map[string]*models.Edge),
		adj:              make(map[string]map[string]struct{}),
		byName:           make(map[string]string),
		maxSubgraphNodes: defaultMaxSubgraphNodes,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fills the arenas from the backend without writing back. It is a no-op without a backend.
func (s *Store) Load(ctx context.Context) error {
	src := s.backend
	if src == nil {
		return nil
	}
	var nodes []*models.Node
	for offset := 0; ; offset += loadPageSize {
		page, err := src.ListNodes(ctx, offset, loadPageSize)
		if err != nil {
			return models.NewError(models.KindStore, "load nodes", err)
		}
		nodes = append(nodes, page...)
		if len(page) < loadPageSize {
			break
		}
	}
	var edges []*models.Edge
	for offset := 0; ; offset += loadPageSize {
		page, err := src.ListEdges(ctx, offset, loadPageSize)
		if err != nil {
			return models.NewError(models.KindStore, "load edges", err)
		}
		edges = append(edges, page...)
		if len(page) < loadPageSize {
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		s.putNodeLocked(n.Clone())
	}
	for _, e := range edges {
		if e.Source == e.Target {
			continue
		}
		s.putEdgeLocked(e.Clone())
	}
	if s.logger != nil {
		s.logger.Info("graph loaded", zap.Int("nodes", len(nodes)), zap.Int("edges", len(edges)))
	}
	return nil
}

// UpsertNode inserts or overwrites a node by id. CreatedAt survives an overwrite; UpdatedAt is refreshed.
func (s *Store) UpsertNode(ctx context.Context, n models.Node) (models.Node, error) {
	if n.ID == "" {
		return models.Node{}, models.NewValidationError("id", "node id cannot be empty")
	}
	s.mu.Lock()
	stored := s.upsertNodeLocked(n)
	s.mu.Unlock()
	return stored, s.persistNode(ctx, stored)
}

func (s *Store) upsertNodeLocked(n models.Node) models.Node {
	n = n.Clone()
	n.SetConfidence(n.Confidence)
	now := s.now()
	if prev, ok := s.nodes[n.ID]; ok && !prev.CreatedAt.IsZero() {
		n.CreatedAt = prev.CreatedAt
	} else if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	s.putNodeLocked(n)
	return n.Clone()
}

func (s *Store) putNodeLocked(n models.Node) {
	if prev, ok := s.nodes[n.ID]; ok && prev.Type == models.NodeTypeEntity {
		if key := NormalizeName(prev.Label); s.byName[key] == prev.ID {
			delete(s.byName, key)
		}
	}
	stored := n
	s.nodes[n.ID] = &stored
	if n.Type == models.NodeTypeEntity {
		s.byName[NormalizeName(n.Label)] = n.ID
	}
	if n.Type == models.NodeTypeWorkspace && s.workspaceID == "" {
		s.workspaceID = n.ID
	}
}

// UpsertEdge inserts or overwrites an edge by id. Self-loops are rejected.
func (s *Store) UpsertEdge(ctx context.Context, e models.Edge) (models.Edge, error) {
	if e.ID == "" {
		return models.Edge{}, models.NewValidationError("id", "edge id cannot be empty")
	}
	if e.Source == e.Target {
		return models.Edge{}, &models.Error{Kind: models.KindValidation, Field: "target", Err: models.ErrSelfLoop}
	}
	e = e.Clone()
	e.Normalize()
	if e.Label == "" {
		e.Label = string(e.Type)
	}

	s.mu.Lock()
	now := s.now()
	if prev, ok := s.edges[e.ID]; ok && !prev.CreatedAt.IsZero() {
		e.CreatedAt = prev.CreatedAt
	} else if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	s.putEdgeLocked(e)
	s.mu.Unlock()

	return e.Clone(), s.persistEdge(ctx, e)
}

func (s *Store) putEdgeLocked(e models.Edge) {
	if prev, ok := s.edges[e.ID]; ok {
		s.unlinkLocked(prev)
	}
	stored := e
	s.edges[e.ID] = &stored
	s.link(e.Source, e.ID)
	s.link(e.Target, e.ID)
}

func (s *Store) link(nodeID, edgeID string) {
	set, ok := s.adj[nodeID]
	if !ok {
		set = make(map[string]struct{})
		s.adj[nodeID] = set
	}
	set[edgeID] = struct{}{}
}

func (s *Store) unlinkLocked(e *models.Edge) {
	for _, id := range []string{e.Source, e.Target} {
		if set, ok := s.adj[id]; ok {
			delete(set, e.ID)
			if len(set) == 0 {
				delete(s.adj, id)
			}
		}
	}
}

// DeleteNode marks a node deleted. Edges are kept and pruned on read until Compact.
// Returns false when the node does not exist or is already deleted.
func (s *Store) DeleteNode(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok || n.Deleted {
		s.mu.Unlock()
		return false, nil
	}
	n.Deleted = true
	n.UpdatedAt = s.now()
	stored := n.Clone()
	s.mu.Unlock()
	return true, s.persistNode(ctx, stored)
}

// GetNode returns an active node. Deleted or missing nodes report false.
func (s *Store) GetNode(id string) (models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok || n.Deleted {
		return models.Node{}, false
	}
	return n.Clone(), true
}

// GetEdge returns an edge whose endpoints are both active.
func (s *Store) GetEdge(id string) (models.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[id]
	if !ok || !s.edgeActiveLocked(e) {
		return models.Edge{}, false
	}
	return e.Clone(), true
}

// Neighbors returns the active edges touching id, ordered by edge id.
func (s *Store) Neighbors(id string) []models.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.neighborsLocked(id)
}

func (s *Store) neighborsLocked(id string) []models.Edge {
	ids := make([]string, 0, len(s.adj[id]))
	for eid := range s.adj[id] {
		ids = append(ids, eid)
	}
	sort.Strings(ids)
	out := make([]models.Edge, 0, len(ids))
	for _, eid := range ids {
		if e := s.edges[eid]; s.edgeActiveLocked(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

func (s *Store) nodeActiveLocked(id string) bool {
	n, ok := s.nodes[id]
	return ok && !n.Deleted
}

func (s *Store) edgeActiveLocked(e *models.Edge) bool {
	return e != nil && e.Source != e.Target && s.nodeActiveLocked(e.Source) && s.nodeActiveLocked(e.Target)
}

// EnsureWorkspaceNode returns the corpus root node, creating it once.
func (s *Store) EnsureWorkspaceNode(ctx context.Context, label string) (models.Node, error) {
	s.mu.Lock()
	if s.workspaceID != "" {
		if n, ok := s.nodes[s.workspaceID]; ok {
			if !n.Deleted {
				out := n.Clone()
				s.mu.Unlock()
				return out, nil
			}
		}
	}
	n := models.NewNode("workspace:"+uuid.New().String(), label, models.NodeTypeWorkspace, 1, s.now())
	s.workspaceID = n.ID
	stored := s.upsertNodeLocked(n)
	s.mu.Unlock()
	return stored, s.persistNode(ctx, stored)
}

// WorkspaceID returns the id of the workspace node, or "".
func (s *Store) WorkspaceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspaceID
}

// Snapshot returns every active node (ordered by id) and every active edge.
func (s *Store) Snapshot() models.GraphSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]models.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if !n.Deleted {
			nodes = append(nodes, n.Clone())
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return models.NewSnapshot(nodes, s.edgesAmongLocked(nil))
}

// Nodes returns every active node ordered by id.
func (s *Store) Nodes() []models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]models.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if !n.Deleted {
			nodes = append(nodes, n.Clone())
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// edgesAmongLocked returns active edges ordered by id. When within is non-nil, both endpoints
// must be in it.
func (s *Store) edgesAmongLocked(within map[string]struct{}) []models.Edge {
	out := make([]models.Edge, 0)
	for _, e := range s.edges {
		if !s.edgeActiveLocked(e) {
			continue
		}
		if within != nil {
			if _, ok := within[e.Source]; !ok {
				continue
			}
			if _, ok := within[e.Target]; !ok {
				continue
			}
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Compact physically removes logically deleted nodes and the edges touching them.
func (s *Store) Compact(ctx context.Context) (nodes int, edges int, err error) {
	s.mu.Lock()
	var nodeIDs, edgeIDs []string
	for id, n := range s.nodes {
		if n.Deleted {
			nodeIDs = append(nodeIDs, id)
		}
	}
	sort.Strings(nodeIDs)
	for _, id := range nodeIDs {
		for eid := range s.adj[id] {
			if e, ok := s.edges[eid]; ok {
				s.unlinkLocked(e)
				delete(s.edges, eid)
				edgeIDs = append(edgeIDs, eid)
			}
		}
		n := s.nodes[id]
		if key := NormalizeName(n.Label); s.byName[key] == id {
			delete(s.byName, key)
		}
		if s.workspaceID == id {
			s.workspaceID = ""
		}
		delete(s.nodes, id)
		delete(s.adj, id)
	}
	s.mu.Unlock()

	for _, w := range s.writers {
		if werr := w.DeleteEdges(ctx, edgeIDs); werr != nil {
			err = models.NewError(models.KindStore, "compact edges", werr)
			break
		}
		if werr := w.DeleteNodes(ctx, nodeIDs); werr != nil {
			err = models.NewError(models.KindStore, "compact nodes", werr)
			break
		}
	}
	if s.logger != nil {
		s.logger.Info("graph compacted", zap.Int("nodes", len(nodeIDs)), zap.Int("edges", len(edgeIDs)))
	}
	return len(nodeIDs), len(edgeIDs), err
}

// ClearPresentation resets selected and highlighted flags on every node.
func (s *Store) ClearPresentation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		n.Selected = false
		n.Highlighted = false
	}
}

// Counts returns the number of active nodes and active edges.
func (s *Store) Counts() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if !n.Deleted {
			nodes++
		}
	}
	for _, e := range s.edges {
		if s.edgeActiveLocked(e) {
			edges++
		}
	}
	return nodes, edges
}

func (s *Store) persistNode(ctx context.Context, n models.Node) error {
	for _, w := range s.writers {
		if err := w.UpsertNode(ctx, &n); err != nil {
			if s.logger != nil {
				s.logger.Warn("persist node failed", zap.String("id", n.ID), zap.Error(err))
			}
			return models.NewError(models.KindStore, "upsert node", fmt.Errorf("%s: %w", n.ID, err))
		}
	}
	return nil
}

func (s *Store) persistEdge(ctx context.Context, e models.Edge) error {
	for _, w := range s.writers {
		if err := w.UpsertEdge(ctx, &e); err != nil {
			if s.logger != nil {
				s.logger.Warn("persist edge failed", zap.String("id", e.ID), zap.Error(err))
			}
			return models.NewError(models.KindStore, "upsert edge", fmt.Errorf("%s: %w", e.ID, err))
		}
	}
	return nil
}
