package graph

import (
	"sort"

	"github.com/hyperjump/tsunagu/internal/models"
)

// Subgraph expands seeds breadth-first up to depth hops. Depth 0 returns the seeds alone,
// without edges. Unknown or deleted seeds are ignored, and expansion never passes through the
// workspace node since it contains every document. With no seeds the whole active graph is
// returned, workspace node first. Both forms are capped at the configured node limit.
func (s *Store) Subgraph(seeds []string, depth int) models.GraphSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(seeds) == 0 {
		return s.wholeGraphLocked()
	}
	if depth < 0 {
		depth = 0
	}

	visited := make(map[string]struct{})
	order := make([]string, 0, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if _, dup := visited[id]; dup || !s.nodeActiveLocked(id) {
			continue
		}
		visited[id] = struct{}{}
		order = append(order, id)
		frontier = append(frontier, id)
	}

	for hop := 0; hop < depth && len(frontier) > 0 && len(order) < s.maxSubgraphNodes; hop++ {
		var next []string
		for _, id := range frontier {
			if id == s.workspaceID {
				continue
			}
			for _, e := range s.neighborsLocked(id) {
				other := e.Other(id)
				if _, seen := visited[other]; seen || other == s.workspaceID {
					continue
				}
				if len(order) >= s.maxSubgraphNodes {
					break
				}
				visited[other] = struct{}{}
				order = append(order, other)
				next = append(next, other)
			}
		}
		frontier = next
	}

	nodes := make([]models.Node, 0, len(order))
	for _, id := range order {
		nodes = append(nodes, s.nodes[id].Clone())
	}
	if depth == 0 {
		return models.NewSnapshot(nodes, nil)
	}
	return models.NewSnapshot(nodes, s.edgesAmongLocked(visited))
}

func (s *Store) wholeGraphLocked() models.GraphSnapshot {
	nodes := make([]models.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if !n.Deleted {
			nodes = append(nodes, n.Clone())
		}
	}
	ws := s.workspaceID
	sort.Slice(nodes, func(i, j int) bool {
		if (nodes[i].ID == ws) != (nodes[j].ID == ws) {
			return nodes[i].ID == ws
		}
		if !nodes[i].UpdatedAt.Equal(nodes[j].UpdatedAt) {
			return nodes[i].UpdatedAt.After(nodes[j].UpdatedAt)
		}
		return nodes[i].ID < nodes[j].ID
	})
	if len(nodes) > s.maxSubgraphNodes {
		nodes = nodes[:s.maxSubgraphNodes]
	}
	within := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		within[n.ID] = struct{}{}
	}
	return models.NewSnapshot(nodes, s.edgesAmongLocked(within))
}
