package config

import (
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/ranking"
)

// Defaults converts the retrieval section into the values applied to unset query fields.
// Weights for unknown sources are ignored.
func (r RetrievalConfig) Defaults() models.RetrieveDefaults {
	d := models.RetrieveDefaults{
		Strategy:     models.Strategy(r.Strategy),
		MaxResults:   r.MaxResults,
		MinScore:     r.MinScore,
		RelatedDepth: r.RelatedDepth,
	}
	if len(r.Weights) > 0 {
		d.Weights = make(map[models.Source]float64, len(r.Weights))
		for k, v := range r.Weights {
			if s := models.Source(k); s.Valid() {
				d.Weights[s] = v
			}
		}
	}
	return d
}

// RankingConfig returns the re-ranking configuration with the configured recency half-life.
func (r RetrievalConfig) RankingConfig() *ranking.Config {
	c := ranking.DefaultConfig()
	if hl := ranking.HalfLifeHours(r.RecencyHalfLifeHours); hl > 0 {
		c.RecencyHalfLife = hl
	}
	return c
}
