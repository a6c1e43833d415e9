// Package retriever runs the hybrid retrieval pipeline: independent scorers over the graph,
// weighted max fusion, filters, optional re-ranking and subgraph expansion.
package retriever

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/keyword"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/ranking"
	"github.com/hyperjump/tsunagu/internal/scoring"
)

const (
	defaultGraphHops      = 2
	defaultCandidateLimit = 100
)

// Graph is the read side of the graph store the retriever needs.
type Graph interface {
	Nodes() []models.Node
	Neighbors(id string) []models.Edge
	Subgraph(seeds []string, depth int) models.GraphSnapshot
}

// Retriever answers retrieval queries. It is safe for concurrent use; it never mutates the graph.
type Retriever struct {
	graph          Graph
	keywordIndex   keyword.Index // optional
	reranker       *ranking.Reranker
	defaults       models.RetrieveDefaults
	graphHops      int
	candidateLimit int
	logger         *zap.Logger // optional
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithKeywordIndex adds indexed chunk content as a candidate source for the exact scorer.
func WithKeywordIndex(idx keyword.Index) Option {
	return func(r *Retriever) { r.keywordIndex = idx }
}

// WithReranker replaces the default reranker.
func WithReranker(rr *ranking.Reranker) Option {
	return func(r *Retriever) { r.reranker = rr }
}

// WithDefaults sets the values applied to unset query fields.
func WithDefaults(d models.RetrieveDefaults) Option {
	return func(r *Retriever) { r.defaults = d }
}

// WithGraphHops sets how far the graph scorer expands from matching nodes.
func WithGraphHops(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.graphHops = n
		}
	}
}

// WithCandidateLimit caps how many hits are taken from the keyword index.
func WithCandidateLimit(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.candidateLimit = n
		}
	}
}

// New creates a retriever over g.
func New(g Graph, opts ...Option) *Retriever {
	r := &Retriever{
		graph:          g,
		graphHops:      defaultGraphHops,
		candidateLimit: defaultCandidateLimit,
		defaults: models.RetrieveDefaults{
			Strategy:     models.StrategyHybrid,
			MaxResults:   20,
			RelatedDepth: 1,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.reranker == nil {
		r.reranker = ranking.NewReranker(nil)
	}
	return r
}

// Retrieve validates q, runs the scorers selected by its strategy in parallel and fuses their
// results. If ctx is cancelled while scorers are running, the results of the scorers that
// finished are returned with Cancelled and Truncated set.
func (r *Retriever) Retrieve(ctx context.Context, q models.RetrieveQuery) (*models.RetrieveResponse, error) {
	startTime := time.Now()
	q.ApplyDefaults(r.defaults)
	if err := q.Validate(); err != nil {
		return nil, err
	}
	matchFile, err := graph.CompileFileTypes(q.FileTypes)
	if err != nil {
		return nil, err
	}

	candidates, sources := r.candidates(q.Sources)
	scorers := r.scorersFor(q)

	byScorer, cancelled := r.runScorers(ctx, q.Query, scorers, candidates)

	weights := NormalizeWeights(q.Weights)
	fused := Fuse(byScorer, sources, weights)

	nodeByID := make(map[string]*models.Node, len(candidates))
	for i := range candidates {
		nodeByID[candidates[i].ID] = &candidates[i]
	}
	categories := lowerSet(q.Categories)

	results := make([]*models.RetrieveResult, 0, len(fused))
	for _, f := range fused {
		n := nodeByID[f.ID]
		if len(categories) > 0 && !inCategories(*n, categories) {
			continue
		}
		if matchFile != nil && !matchFile(n.MetaString(models.MetaFilePath)) {
			continue
		}
		if f.Score < q.MinScore || f.Score == 0 {
			continue
		}
		results = append(results, &models.RetrieveResult{
			ID:        n.ID,
			Label:     n.Label,
			Type:      n.Type,
			Source:    f.Source,
			Category:  n.MetaString(models.MetaCategory),
			Score:     f.Score,
			BaseScore: f.Score,
			Scorer:    f.Scorer,
			Node:      n,
		})
	}

	if q.Rerank && len(results) > 0 {
		results = r.reranker.Rerank(q.Query, q.Categories, results)
	}

	total := len(results)
	truncated := cancelled
	if total > q.MaxResults {
		results = results[:q.MaxResults]
		truncated = true
	}
	for i, res := range results {
		res.Rank = i + 1
	}

	names := make([]string, 0, len(scorers))
	for _, s := range scorers {
		names = append(names, s.Name())
	}

	resp := &models.RetrieveResponse{
		Query:   q.Query,
		Results: results,
		Metadata: models.RetrieveMetadata{
			Strategy:  q.Strategy,
			Scorers:   names,
			Total:     total,
			Returned:  len(results),
			Truncated: truncated,
			Cancelled: cancelled,
			Reranked:  q.Rerank,
		},
	}

	if q.IncludeRelated && len(results) > 0 && !cancelled {
		seeds := make([]string, 0, len(results))
		for _, res := range results {
			seeds = append(seeds, res.ID)
		}
		sub := r.graph.Subgraph(seeds, q.RelatedDepth)
		sub = models.NewSnapshot(sub.Nodes, sub.Edges)
		resp.Subgraph = &sub
	}

	resp.Metadata.QueryTime = time.Since(startTime).Milliseconds()
	if r.logger != nil {
		r.logger.Debug("retrieve",
			zap.String("query", q.Query),
			zap.String("strategy", string(q.Strategy)),
			zap.Int("total", total),
			zap.Bool("cancelled", cancelled),
			zap.Int64("query_time_ms", resp.Metadata.QueryTime))
	}
	return resp, nil
}

// candidates returns the active nodes in the requested sources and the source of each. The
// workspace node is never a result.
func (r *Retriever) candidates(requested []models.Source) ([]models.Node, map[string]models.Source) {
	want := make(map[models.Source]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}
	all := r.graph.Nodes()
	nodes := all[:0]
	sources := make(map[string]models.Source, len(all))
	for _, n := range all {
		if n.Type == models.NodeTypeWorkspace || !n.Active() {
			continue
		}
		src := SourceOf(n)
		if !want[src] {
			continue
		}
		nodes = append(nodes, n)
		sources[n.ID] = src
	}
	return nodes, sources
}

// scorersFor maps the strategy to scorers: keyword runs exact (plus regex when a pattern is
// given), semantic runs fuzzy, graph runs graph, and hybrid runs all of them.
func (r *Retriever) scorersFor(q models.RetrieveQuery) []scorer {
	var exact scorer = exactScorer()
	if r.keywordIndex != nil {
		exact = chunkScorer{exact: exact, index: r.keywordIndex, limit: r.candidateLimit, onFail: r.indexFailed}
	}
	var regex scorer
	if strings.TrimSpace(q.Pattern) != "" {
		regex = regexScorer(scoring.CompileRegex(q.Pattern))
	}
	graphS := graphScorer{graph: r.graph, maxHops: r.graphHops}

	var out []scorer
	switch q.Strategy {
	case models.StrategyKeyword:
		out = []scorer{exact}
		if regex != nil {
			out = append(out, regex)
		}
	case models.StrategySemantic:
		out = []scorer{fuzzyScorer()}
	case models.StrategyGraph:
		out = []scorer{graphS}
	default:
		out = []scorer{exact, fuzzyScorer(), graphS}
		if regex != nil {
			out = append(out, regex)
		}
	}
	return out
}

// runScorers runs every scorer in its own goroutine. Each writes only its own slot, so no
// locking is needed. A scorer that stops on cancellation leaves its slot empty.
func (r *Retriever) runScorers(ctx context.Context, query string, scorers []scorer, nodes []models.Node) (map[string][]hit, bool) {
	slots := make([][]hit, len(scorers))
	done := make([]bool, len(scorers))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range scorers {
		i, s := i, s
		g.Go(func() error {
			hits, err := s.Score(gctx, query, nodes)
			if err != nil {
				return err
			}
			slots[i], done[i] = hits, true
			return nil
		})
	}
	err := g.Wait()

	byScorer := make(map[string][]hit, len(scorers))
	for i, s := range scorers {
		if done[i] {
			byScorer[s.Name()] = append(byScorer[s.Name()], slots[i]...)
		}
	}
	cancelled := ctx.Err() != nil
	if err != nil && !cancelled && r.logger != nil {
		r.logger.Warn("scorer failed", zap.Error(err))
	}
	return byScorer, cancelled
}

func (r *Retriever) indexFailed(err error) {
	if r.logger != nil {
		r.logger.Warn("keyword index search failed", zap.Error(err))
	}
}

func lowerSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		if it = strings.ToLower(strings.TrimSpace(it)); it != "" {
			set[it] = true
		}
	}
	return set
}

// inCategories matches the enrichment category or the entity type name.
func inCategories(n models.Node, categories map[string]bool) bool {
	return categories[strings.ToLower(n.MetaString(models.MetaCategory))] ||
		categories[strings.ToLower(n.EntityType.String())]
}
