// Package ranking re-ranks fused retrieval results by mixing the fused score with query
// context overlap, recency and category agreement.
package ranking

import (
	"strings"
	"time"

	"github.com/hyperjump/tsunagu/internal/models"
)

// QueryType represents the type of search query.
type QueryType int

const (
	// QueryTypeSingleWord is a single word query.
	QueryTypeSingleWord QueryType = iota
	// QueryTypeMultiWord is a multi-word query without quotes.
	QueryTypeMultiWord
	// QueryTypePhrase is a quoted exact phrase query.
	QueryTypePhrase
	// QueryTypeWildcard is a query containing wildcards (* or ?).
	QueryTypeWildcard
	// QueryTypeBoolean is a query with negated terms.
	QueryTypeBoolean
)

// String returns a string representation of the query type.
func (q QueryType) String() string {
	switch q {
	case QueryTypeSingleWord:
		return "single_word"
	case QueryTypeMultiWord:
		return "multi_word"
	case QueryTypePhrase:
		return "phrase"
	case QueryTypeWildcard:
		return "wildcard"
	case QueryTypeBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// AnalyzedQuery holds the parsed and analyzed form of a retrieval query.
type AnalyzedQuery struct {
	// Original is the original query string.
	Original string
	// Terms are the individual normalized tokens from the query.
	Terms []string
	// Phrases are quoted substrings, lowercased.
	Phrases []string
	// QueryType is the classified type of the query.
	QueryType QueryType
	// HasWildcard indicates if the query contains wildcard characters.
	HasWildcard bool
	// NegatedTerms are terms prefixed with '-'.
	NegatedTerms []string
}

// ScoringContext is everything a signal looks at for one result.
type ScoringContext struct {
	Query *AnalyzedQuery
	// Tokens is TokenizeForMatching(Query), computed once per rerank.
	Tokens []string
	Result *models.RetrieveResult
	// Categories is the requested category filter, lowercased.
	Categories map[string]bool
	Now        time.Time
}

// Text returns the lowercased text of the result that query overlap is measured against.
func (c *ScoringContext) Text() string {
	parts := []string{c.Result.Label, c.Result.ID}
	if n := c.Result.Node; n != nil {
		parts = append(parts,
			n.MetaString(models.MetaDescription),
			n.MetaString(models.MetaFilePath),
			n.EntityType.String())
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Updated returns the time the underlying node last changed, or the zero time.
func (c *ScoringContext) Updated() time.Time {
	if c.Result.Node == nil {
		return time.Time{}
	}
	return c.Result.Node.UpdatedAt
}

// Signal is one component of the re-ranking formula. Scores are in [0,1].
type Signal interface {
	// Score calculates the signal for a result given the scoring context.
	Score(ctx *ScoringContext) float64
	// Name returns the name of the signal for debugging/logging.
	Name() string
}

// ScoreBreakdown provides detailed scoring information for debugging.
type ScoreBreakdown struct {
	FinalScore float64
	BaseScore  float64
	Overlap    float64
	Recency    float64
	Category   float64
}
