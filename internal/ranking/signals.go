package ranking

import (
	"math"
	"strings"
	"time"
)

// OverlapSignal is the fraction of query tokens present in the result text. A negated term
// present in the text zeroes the signal.
type OverlapSignal struct{}

// Name returns the signal name.
func (OverlapSignal) Name() string { return "overlap" }

// Score measures query context overlap.
func (OverlapSignal) Score(ctx *ScoringContext) float64 {
	if len(ctx.Tokens) == 0 {
		return 0
	}
	text := ctx.Text()
	for _, neg := range ctx.Query.NegatedTerms {
		if strings.Contains(text, neg) {
			return 0
		}
	}
	return float64(CountMatchingTerms(ctx.Tokens, text)) / float64(len(ctx.Tokens))
}

// RecencySignal decays exponentially with the age of the underlying node.
type RecencySignal struct {
	HalfLife time.Duration
}

// NewRecencySignal creates a RecencySignal.
func NewRecencySignal(config *Config) *RecencySignal {
	return &RecencySignal{HalfLife: config.RecencyHalfLife}
}

// Name returns the signal name.
func (s *RecencySignal) Name() string { return "recency" }

// Score is 1 for a node updated now, 0.5 at one half-life, and 0 when the age is unknown.
func (s *RecencySignal) Score(ctx *ScoringContext) float64 {
	updated := ctx.Updated()
	if updated.IsZero() || s.HalfLife <= 0 {
		return 0
	}
	return Decay(ctx.Now.Sub(updated), s.HalfLife)
}

// Decay returns 0.5^(age/halfLife), with future ages treated as zero.
func Decay(age, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// CategorySignal is the fraction of the result's categories that the request asked for.
// Without a category filter it is 0 for every result.
type CategorySignal struct{}

// Name returns the signal name.
func (CategorySignal) Name() string { return "category" }

// Score measures category agreement.
func (CategorySignal) Score(ctx *ScoringContext) float64 {
	if len(ctx.Categories) == 0 {
		return 0
	}
	own := resultCategories(ctx)
	if len(own) == 0 {
		return 0
	}
	matched := 0
	for _, c := range own {
		if ctx.Categories[c] {
			matched++
		}
	}
	return float64(matched) / float64(len(own))
}

// resultCategories lists the distinct lowercased enrichment category and entity type.
func resultCategories(ctx *ScoringContext) []string {
	var out []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return
		}
		for _, have := range out {
			if have == s {
				return
			}
		}
		out = append(out, s)
	}
	add(ctx.Result.Category)
	if ctx.Result.Node != nil {
		add(ctx.Result.Node.EntityType.String())
	}
	return out
}
