package graph

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/hyperjump/tsunagu/internal/models"
)

// Filter applies opts to a snapshot as a sequence of AND steps. Dangling edges are pruned last,
// whatever options were given, and statistics are recomputed. Filtering a result again with the
// same options returns it unchanged.
func Filter(snap models.GraphSnapshot, opts models.FilterOptions) (models.GraphSnapshot, error) {
	if err := opts.Validate(); err != nil {
		return models.GraphSnapshot{}, err
	}
	matchFile, err := CompileFileTypes(opts.FileTypes)
	if err != nil {
		return models.GraphSnapshot{}, err
	}

	nodes := make([]models.Node, 0, len(snap.Nodes))
	nodeTypes := toSet(opts.NodeTypes)
	text := strings.ToLower(strings.TrimSpace(opts.Text))
	for _, n := range snap.Nodes {
		if !n.Active() {
			continue
		}
		if nodeTypes != nil {
			if _, ok := nodeTypes[n.Type]; !ok {
				continue
			}
		}
		if n.Confidence < opts.MinConfidence {
			continue
		}
		if opts.From != nil && n.UpdatedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && n.UpdatedAt.After(*opts.To) {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(n.Label), text) && !strings.Contains(strings.ToLower(n.ID), text) {
			continue
		}
		if matchFile != nil && !matchFile(n.MetaString(models.MetaFilePath)) {
			continue
		}
		nodes = append(nodes, n)
	}

	edges := make([]models.Edge, 0, len(snap.Edges))
	edgeTypes := toSet(opts.EdgeTypes)
	for _, e := range snap.Edges {
		if edgeTypes != nil {
			if _, ok := edgeTypes[e.Type]; !ok {
				continue
			}
		}
		edges = append(edges, e)
	}
	edges = models.PruneDangling(nodes, edges)

	if opts.MinDegree > 0 {
		nodes, edges = minDegree(nodes, edges, opts.MinDegree)
	}

	return models.NewSnapshot(nodes, edges), nil
}

// minDegree removes nodes below k until none remain, so a second pass removes nothing.
func minDegree(nodes []models.Node, edges []models.Edge, k int) ([]models.Node, []models.Edge) {
	for {
		degree := make(map[string]int, len(nodes))
		for _, e := range edges {
			degree[e.Source]++
			degree[e.Target]++
		}
		kept := nodes[:0:0]
		for _, n := range nodes {
			if degree[n.ID] >= k {
				kept = append(kept, n)
			}
		}
		if len(kept) == len(nodes) {
			return nodes, edges
		}
		nodes = kept
		edges = models.PruneDangling(nodes, edges)
	}
}

func toSet[T comparable](items []T) map[T]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[T]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

// CompileFileTypes builds a path matcher from glob patterns. A bare extension such as ".go" or
// "go" matches files with that extension. Returns nil when patterns is empty.
func CompileFileTypes(patterns []string) (func(path string) bool, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.ContainsAny(p, "*?[{") {
			p = "*." + strings.TrimPrefix(p, ".")
		}
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, models.NewValidationError("file_types", "invalid pattern %q: %v", p, err)
		}
		globs = append(globs, g)
	}
	if len(globs) == 0 {
		return nil, nil
	}
	return func(path string) bool {
		if path == "" {
			return false
		}
		lower := strings.ToLower(path)
		base := filepath.Base(lower)
		for _, g := range globs {
			if g.Match(base) || g.Match(lower) {
				return true
			}
		}
		return false
	}, nil
}
