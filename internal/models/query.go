package models

import (
	"strings"
	"time"
)

// Strategy selects which scorers a retrieval runs.
type Strategy string

const (
	StrategyHybrid   Strategy = "hybrid"
	StrategySemantic Strategy = "semantic"
	StrategyKeyword  Strategy = "keyword"
	StrategyGraph    Strategy = "graph"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyHybrid, StrategySemantic, StrategyKeyword, StrategyGraph:
		return true
	}
	return false
}

// Source is a corpus partition a result comes from.
type Source string

const (
	SourceCode          Source = "code"
	SourceDocumentation Source = "documentation"
	SourcePrevention    Source = "prevention"
	SourceTask          Source = "task"
)

// AllSources lists every corpus partition.
var AllSources = []Source{SourceCode, SourceDocumentation, SourcePrevention, SourceTask}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceCode, SourceDocumentation, SourcePrevention, SourceTask:
		return true
	}
	return false
}

// RetrieveQuery is a retrieval request.
type RetrieveQuery struct {
	Query          string             `json:"query"`
	Strategy       Strategy           `json:"strategy,omitempty"`
	MaxResults     int                `json:"max_results,omitempty"`
	MinScore       float64            `json:"min_score,omitempty"`
	Sources        []Source           `json:"sources,omitempty"`
	Weights        map[Source]float64 `json:"weights,omitempty"`
	Categories     []string           `json:"categories,omitempty"`
	FileTypes      []string           `json:"file_types,omitempty"`
	IncludeRelated bool               `json:"include_related,omitempty"`
	RelatedDepth   int                `json:"related_depth,omitempty"`
	Rerank         bool               `json:"rerank,omitempty"`
	Pattern        string             `json:"pattern,omitempty"`
}

// RetrieveDefaults fills unset retrieval fields.
type RetrieveDefaults struct {
	Strategy     Strategy
	MaxResults   int
	MinScore     float64
	RelatedDepth int
	Weights      map[Source]float64
}

// ApplyDefaults fills zero-valued fields from d. Negative values are left for Validate to reject.
func (q *RetrieveQuery) ApplyDefaults(d RetrieveDefaults) {
	if q.Strategy == "" {
		q.Strategy = d.Strategy
		if q.Strategy == "" {
			q.Strategy = StrategyHybrid
		}
	}
	if q.MaxResults == 0 {
		q.MaxResults = d.MaxResults
	}
	if q.MinScore == 0 {
		q.MinScore = d.MinScore
	}
	if q.IncludeRelated && q.RelatedDepth == 0 {
		q.RelatedDepth = d.RelatedDepth
	}
	if len(q.Sources) == 0 {
		q.Sources = append([]Source(nil), AllSources...)
	}
	if len(q.Weights) == 0 && len(d.Weights) > 0 {
		q.Weights = make(map[Source]float64, len(d.Weights))
		for k, v := range d.Weights {
			q.Weights[k] = v
		}
	}
}

// Validate rejects malformed requests before any work starts.
func (q *RetrieveQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return NewValidationError("query", "query cannot be empty")
	}
	if q.Strategy != "" && !q.Strategy.Valid() {
		return NewValidationError("strategy", "unknown strategy %q", q.Strategy)
	}
	if q.MinScore < 0 || q.MinScore > 1 {
		return NewValidationError("min_score", "must be within [0,1], got %v", q.MinScore)
	}
	if q.MaxResults <= 0 {
		return NewValidationError("max_results", "must be a positive integer, got %d", q.MaxResults)
	}
	if q.RelatedDepth < 0 || (q.IncludeRelated && q.RelatedDepth == 0) {
		return NewValidationError("related_depth", "must be a positive integer, got %d", q.RelatedDepth)
	}
	for _, s := range q.Sources {
		if !s.Valid() {
			return NewValidationError("sources", "unknown source %q", s)
		}
	}
	for s, w := range q.Weights {
		if !s.Valid() {
			return NewValidationError("weights", "unknown source %q", s)
		}
		if w < 0 {
			return NewValidationError("weights", "weight for %s must be non-negative, got %v", s, w)
		}
	}
	return nil
}

// FilterOptions are ANDed node/edge filters. Zero values disable a step.
type FilterOptions struct {
	NodeTypes     []NodeType `json:"node_types,omitempty"`
	EdgeTypes     []EdgeType `json:"edge_types,omitempty"`
	MinConfidence float64    `json:"min_confidence,omitempty"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	Text          string     `json:"text,omitempty"`
	MinDegree     int        `json:"min_degree,omitempty"`
	FileTypes     []string   `json:"file_types,omitempty"`
}

// Validate checks ranges.
func (f *FilterOptions) Validate() error {
	if f.MinConfidence < 0 || f.MinConfidence > 1 {
		return NewValidationError("min_confidence", "must be within [0,1], got %v", f.MinConfidence)
	}
	if f.MinDegree < 0 {
		return NewValidationError("min_degree", "must be non-negative, got %d", f.MinDegree)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return NewValidationError("from", "must not be after to")
	}
	return nil
}

// SearchMode selects the scoring primitive for in-memory search.
type SearchMode string

const (
	SearchExact SearchMode = "exact"
	SearchFuzzy SearchMode = "fuzzy"
	SearchRegex SearchMode = "regex"
)

// SearchQuery is an in-memory search request over already-loaded nodes and edges.
type SearchQuery struct {
	Query    string     `json:"query"`
	Mode     SearchMode `json:"mode,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	MinScore float64    `json:"min_score,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
func (q *SearchQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return NewValidationError("query", "query cannot be empty")
	}
	if q.Mode == "" {
		q.Mode = SearchFuzzy
	}
	switch q.Mode {
	case SearchExact, SearchFuzzy, SearchRegex:
	default:
		return NewValidationError("mode", "unknown mode %q", q.Mode)
	}
	if q.MinScore < 0 || q.MinScore > 1 {
		return NewValidationError("min_score", "must be within [0,1], got %v", q.MinScore)
	}
	if q.Limit < 0 {
		return NewValidationError("limit", "must be non-negative, got %d", q.Limit)
	}
	if q.Limit == 0 {
		q.Limit = 50
	}
	return nil
}
