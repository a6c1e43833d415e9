package retriever

import (
	"context"
	"math"
	"regexp"
	"sort"

	"github.com/hyperjump/tsunagu/internal/keyword"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/scoring"
)

// Scorer names reported in results and metadata.
const (
	ScorerExact = "exact"
	ScorerFuzzy = "fuzzy"
	ScorerGraph = "graph"
	ScorerRegex = "regex"
)

// checkEvery is how many candidates a scorer visits between cancellation checks.
const checkEvery = 256

// hit is one raw, unweighted scorer result.
type hit struct {
	ID    string
	Score float64
}

// scorer produces raw scores in [0,1] for the candidate nodes. Scorers only read.
type scorer interface {
	Name() string
	Score(ctx context.Context, query string, nodes []models.Node) ([]hit, error)
}

// textScorer applies a scoring.Func to the label, id and description of every candidate.
type textScorer struct {
	name string
	fn   scoring.Func
}

func (s textScorer) Name() string { return s.name }

func (s textScorer) Score(ctx context.Context, query string, nodes []models.Node) ([]hit, error) {
	var out []hit
	for i, n := range nodes {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if score, _ := scoring.Node(s.fn, query, n); score > 0 {
			out = append(out, hit{ID: n.ID, Score: score})
		}
	}
	return out, nil
}

func exactScorer() scorer { return textScorer{name: ScorerExact, fn: scoring.Exact} }

func fuzzyScorer() scorer { return textScorer{name: ScorerFuzzy, fn: scoring.Fuzzy} }

func regexScorer(re *regexp.Regexp) scorer {
	return textScorer{name: ScorerRegex, fn: scoring.RegexFunc(re)}
}

// chunkScorer wraps the exact scorer and adds chunk nodes whose indexed content matches the
// query. Index scores are normalized by the best hit and capped at the substring score.
type chunkScorer struct {
	exact  scorer
	index  keyword.Index
	limit  int
	onFail func(error)
}

func (s chunkScorer) Name() string { return ScorerExact }

func (s chunkScorer) Score(ctx context.Context, query string, nodes []models.Node) ([]hit, error) {
	hits, err := s.exact.Score(ctx, query, nodes)
	if err != nil {
		return nil, err
	}
	found, err := s.index.Search(ctx, query, s.limit, &keyword.SearchOptions{Kind: keyword.KindChunk})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// the index is an extra candidate source; label matches still count
		if s.onFail != nil {
			s.onFail(err)
		}
		return hits, nil
	}
	for id, score := range NormalizeKeywordScores(found) {
		hits = append(hits, hit{ID: id, Score: score * scoring.SubstringMatch})
	}
	return hits, nil
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max.
func NormalizeKeywordScores(results []*keyword.Result) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	maxScore := 0.0
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// NeighborSource answers BFS neighbor lookups.
type NeighborSource interface {
	Neighbors(id string) []models.Edge
}

// graphScorer seeds on nodes whose label or id matches the query and scores every node
// reachable within maxHops by inverse hop distance, scaled by the strength of the seed match so
// a substring seed never reaches the score of an exact one. The workspace node is never
// traversed, since it would connect every document to every other.
type graphScorer struct {
	graph   NeighborSource
	maxHops int
}

func (s graphScorer) Name() string { return ScorerGraph }

func (s graphScorer) Score(ctx context.Context, query string, nodes []models.Node) ([]hit, error) {
	active := make(map[string]bool, len(nodes))
	seeds := make(map[float64][]string)
	for i, n := range nodes {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		active[n.ID] = true
		strength := math.Max(scoring.Exact(query, n.Label), scoring.Exact(query, n.ID))
		if strength > 0 {
			seeds[strength] = append(seeds[strength], n.ID)
		}
	}

	strengths := make([]float64, 0, len(seeds))
	for st := range seeds {
		strengths = append(strengths, st)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(strengths)))

	best := make(map[string]float64)
	for _, strength := range strengths {
		hops := make(map[string]int)
		frontier := seeds[strength]
		for _, id := range frontier {
			hops[id] = 0
		}
		for hop := 1; hop <= s.maxHops && len(frontier) > 0; hop++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var next []string
			for _, id := range frontier {
				for _, e := range s.graph.Neighbors(id) {
					other := e.Other(id)
					if _, seen := hops[other]; seen || !active[other] {
						continue
					}
					hops[other] = hop
					next = append(next, other)
				}
			}
			frontier = next
		}
		for id, h := range hops {
			if score := strength * scoring.InverseHop(h); score > best[id] {
				best[id] = score
			}
		}
	}

	out := make([]hit, 0, len(best))
	for id, score := range best {
		out = append(out, hit{ID: id, Score: score})
	}
	return out, nil
}
