package models

// RetrieveResult is one ranked hit.
type RetrieveResult struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	Type      NodeType `json:"type"`
	Source    Source   `json:"source"`
	Category  string   `json:"category,omitempty"`
	Score     float64  `json:"score"`
	BaseScore float64  `json:"base_score"`
	Scorer    string   `json:"scorer"`
	Rank      int      `json:"rank"`
	Node      *Node    `json:"node,omitempty"`
}

// RetrieveMetadata describes how a response was produced.
type RetrieveMetadata struct {
	Strategy  Strategy `json:"strategy"`
	Scorers   []string `json:"scorers"`
	Total     int      `json:"total"`
	Returned  int      `json:"returned"`
	Truncated bool     `json:"truncated"`
	Cancelled bool     `json:"cancelled,omitempty"`
	Reranked  bool     `json:"reranked,omitempty"`
	QueryTime int64    `json:"query_time_ms"`
}

// RetrieveResponse is the response for a retrieval request.
type RetrieveResponse struct {
	Query    string            `json:"query"`
	Results  []*RetrieveResult `json:"results"`
	Subgraph *GraphSnapshot    `json:"subgraph,omitempty"`
	Metadata RetrieveMetadata  `json:"metadata"`
}

// SearchResult is an in-memory search hit.
type SearchResult struct {
	Node         Node    `json:"node"`
	Score        float64 `json:"score"`
	MatchedField string  `json:"matched_field"`
}

// SearchResponse is the response for an in-memory search.
type SearchResponse struct {
	Query   string          `json:"query"`
	Mode    SearchMode      `json:"mode"`
	Results []*SearchResult `json:"results"`
	Edges   []Edge          `json:"edges"`
	Total   int             `json:"total"`
}
