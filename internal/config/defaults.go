package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/tsunagu/data/db/graph.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/tsunagu/data/indices/bleve"
	}
	if cfg.Storage.Neo4j.URI != "" && cfg.Storage.Neo4j.Database == "" {
		cfg.Storage.Neo4j.Database = "neo4j"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 2000
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 200
	}
	if cfg.Ingest.ConfidenceThreshold == 0 {
		cfg.Ingest.ConfidenceThreshold = 0.5
	}
	if cfg.Ingest.MaxEntities == 0 {
		cfg.Ingest.MaxEntities = 50
	}
	if cfg.Ingest.IncludeRelationships == nil {
		t := true
		cfg.Ingest.IncludeRelationships = &t
	}
	if cfg.Ingest.AllowNewTypes == nil {
		t := true
		cfg.Ingest.AllowNewTypes = &t
	}
	if cfg.Retrieval.Strategy == "" {
		cfg.Retrieval.Strategy = "hybrid"
	}
	if cfg.Retrieval.MaxResults == 0 {
		cfg.Retrieval.MaxResults = 20
	}
	if cfg.Retrieval.MinScore == 0 {
		cfg.Retrieval.MinScore = 0.1
	}
	if cfg.Retrieval.RelatedDepth == 0 {
		cfg.Retrieval.RelatedDepth = 1
	}
	if cfg.Retrieval.Weights == nil {
		cfg.Retrieval.Weights = map[string]float64{
			"code":          1.0,
			"documentation": 0.8,
			"prevention":    0.9,
			"task":          0.7,
		}
	}
	if cfg.Retrieval.RecencyHalfLifeHours == 0 {
		cfg.Retrieval.RecencyHalfLifeHours = 24 * 7
	}
	if cfg.Graph.MaxSubgraphNodes == 0 {
		cfg.Graph.MaxSubgraphNodes = 500
	}
	if cfg.Graph.WorkspaceLabel == "" {
		cfg.Graph.WorkspaceLabel = "workspace"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".go", ".js", ".jsx", ".ts", ".tsx", ".py", ".md", ".txt", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods"}
	}
	if cfg.Watch.Exclude == nil {
		cfg.Watch.Exclude = []string{"**/node_modules/**", "**/.git/**", "**/vendor/**", "**/__pycache__/**"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
