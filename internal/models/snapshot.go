package models

// GraphStats are derived counts over a snapshot. They are recomputed, never updated incrementally.
type GraphStats struct {
	NodeCount   int            `json:"node_count"`
	EdgeCount   int            `json:"edge_count"`
	NodesByType map[string]int `json:"nodes_by_type"`
	EdgesByType map[string]int `json:"edges_by_type"`
	Density     float64        `json:"density"`
}

// GraphSnapshot is a set of active nodes and edges plus statistics.
type GraphSnapshot struct {
	Nodes []Node     `json:"nodes"`
	Edges []Edge     `json:"edges"`
	Stats GraphStats `json:"stats"`
}

// NewSnapshot prunes edges whose endpoints are not in nodes and computes stats.
func NewSnapshot(nodes []Node, edges []Edge) GraphSnapshot {
	if nodes == nil {
		nodes = []Node{}
	}
	pruned := PruneDangling(nodes, edges)
	return GraphSnapshot{
		Nodes: nodes,
		Edges: pruned,
		Stats: ComputeStats(nodes, pruned),
	}
}

// PruneDangling returns the edges whose endpoints are both present and active in nodes.
func PruneDangling(nodes []Node, edges []Edge) []Edge {
	present := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if n.Active() {
			present[n.ID] = struct{}{}
		}
	}
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.Source == e.Target {
			continue
		}
		_, okS := present[e.Source]
		_, okT := present[e.Target]
		if okS && okT {
			out = append(out, e)
		}
	}
	return out
}

// ComputeStats counts nodes and edges by type. Density is E / (N * (N-1)) for a directed graph.
func ComputeStats(nodes []Node, edges []Edge) GraphStats {
	st := GraphStats{
		NodeCount:   len(nodes),
		EdgeCount:   len(edges),
		NodesByType: make(map[string]int),
		EdgesByType: make(map[string]int),
	}
	for _, n := range nodes {
		st.NodesByType[string(n.Type)]++
	}
	for _, e := range edges {
		st.EdgesByType[string(e.Type)]++
	}
	if n := len(nodes); n > 1 {
		st.Density = float64(len(edges)) / float64(n*(n-1))
	}
	return st
}
