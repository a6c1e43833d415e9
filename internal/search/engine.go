// Package search scores already-loaded nodes in memory with the same primitives the retriever
// uses. It never touches the graph store.
package search

import (
	"sort"

	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/scoring"
)

// Search scores every active node against q and returns the matches sorted by score, plus the
// edges among the returned nodes. Edges with a missing endpoint are always dropped.
func Search(nodes []models.Node, edges []models.Edge, q models.SearchQuery) (*models.SearchResponse, error) {
	fn, err := ProcessQuery(&q)
	if err != nil {
		return nil, err
	}

	results := make([]*models.SearchResult, 0)
	for _, n := range nodes {
		if !n.Active() {
			continue
		}
		score, field := scoring.Node(fn, q.Query, n)
		if score == 0 || score < q.MinScore {
			continue
		}
		results = append(results, &models.SearchResult{Node: n, Score: score, MatchedField: field})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Node.ID < results[j].Node.ID
	})

	total := len(results)
	if total > q.Limit {
		results = results[:q.Limit]
	}

	matched := make([]models.Node, 0, len(results))
	for _, r := range results {
		matched = append(matched, r.Node)
	}

	return &models.SearchResponse{
		Query:   q.Query,
		Mode:    q.Mode,
		Results: results,
		Edges:   models.PruneDangling(matched, edges),
		Total:   total,
	}, nil
}
