package ranking

import (
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/pkg/utils"
)

// Reranker combines the fused score with the overlap, recency and category signals.
type Reranker struct {
	config   *Config
	analyzer *QueryAnalyzer
	overlap  Signal
	recency  Signal
	category Signal
	now      func() time.Time
}

// NewReranker creates a Reranker with the given configuration.
func NewReranker(config *Config) *Reranker {
	if config == nil {
		config = DefaultConfig()
	}
	config.ApplyDefaults()

	return &Reranker{
		config:   config,
		analyzer: NewQueryAnalyzer(),
		overlap:  OverlapSignal{},
		recency:  NewRecencySignal(config),
		category: CategorySignal{},
		now:      time.Now,
	}
}

// WithClock replaces the clock used for recency.
func (r *Reranker) WithClock(now func() time.Time) *Reranker {
	r.now = now
	return r
}

// Rerank rescores results in place, keeping the fused score in BaseScore, and returns them
// sorted by the new score. Ranks are reassigned from 1.
func (r *Reranker) Rerank(query string, categories []string, results []*models.RetrieveResult) []*models.RetrieveResult {
	analyzed := r.analyzer.Analyze(query)
	tokens := r.analyzer.TokenizeForMatching(analyzed)
	cats := make(map[string]bool, len(categories))
	for _, c := range categories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			cats[c] = true
		}
	}
	now := r.now()

	for _, res := range results {
		ctx := &ScoringContext{Query: analyzed, Tokens: tokens, Result: res, Categories: cats, Now: now}
		res.Score = r.score(ctx).FinalScore
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	for i, res := range results {
		res.Rank = i + 1
	}
	return results
}

// Explain returns the component scores for one result without modifying it.
func (r *Reranker) Explain(query string, categories []string, res *models.RetrieveResult) *ScoreBreakdown {
	analyzed := r.analyzer.Analyze(query)
	cats := make(map[string]bool, len(categories))
	for _, c := range categories {
		cats[strings.ToLower(c)] = true
	}
	return r.score(&ScoringContext{
		Query:      analyzed,
		Tokens:     r.analyzer.TokenizeForMatching(analyzed),
		Result:     res,
		Categories: cats,
		Now:        r.now(),
	})
}

func (r *Reranker) score(ctx *ScoringContext) *ScoreBreakdown {
	b := &ScoreBreakdown{
		BaseScore: ctx.Result.BaseScore,
		Overlap:   r.overlap.Score(ctx),
		Recency:   r.recency.Score(ctx),
		Category:  r.category.Score(ctx),
	}
	// final = base*Wb + overlap*Wo + recency*Wr + category*Wc
	b.FinalScore = utils.Clamp01(b.BaseScore*r.config.BaseWeight +
		b.Overlap*r.config.OverlapWeight +
		b.Recency*r.config.RecencyWeight +
		b.Category*r.config.CategoryWeight)
	return b
}
