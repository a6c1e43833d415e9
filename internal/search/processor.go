package search

import (
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/scoring"
)

// ProcessQuery validates the query, applies defaults and picks the scoring function for its
// mode. In regex mode the query is the pattern; an invalid pattern matches nothing.
func ProcessQuery(query *models.SearchQuery) (scoring.Func, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	switch query.Mode {
	case models.SearchExact:
		return scoring.Exact, nil
	case models.SearchRegex:
		return scoring.RegexFunc(scoring.CompileRegex(query.Query)), nil
	default:
		return scoring.Fuzzy, nil
	}
}
