// Package config provides configuration loading and structs for the tsunagu server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug" toml:"debug"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Ingest    IngestConfig    `yaml:"ingest" toml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval" toml:"retrieval"`
	Graph     GraphConfig     `yaml:"graph" toml:"graph"`
	Watch     WatchConfig     `yaml:"watch" toml:"watch"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories" toml:"directories"`
	Extensions  []string `yaml:"extensions" toml:"extensions"`
	Exclude     []string `yaml:"exclude" toml:"exclude"`
	Recursive   *bool    `yaml:"recursive" toml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// StorageConfig holds paths for the database and full-text index, plus the optional graph mirror.
type StorageConfig struct {
	DatabasePath   string      `yaml:"database_path" toml:"database_path"`
	BleveIndexPath string      `yaml:"bleve_index_path" toml:"bleve_index_path"`
	Neo4j          Neo4jConfig `yaml:"neo4j" toml:"neo4j"`
}

// Neo4jConfig enables mirroring graph writes to Neo4j or Memgraph when URI is set.
type Neo4jConfig struct {
	URI      string `yaml:"uri" toml:"uri"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Database string `yaml:"database" toml:"database"`
}

// LLMConfig selects the text-completion provider used for entity discovery.
// Provider is one of openai, anthropic, gemini, ollama, static, or empty for none.
type LLMConfig struct {
	Provider  string `yaml:"provider" toml:"provider"`
	Model     string `yaml:"model" toml:"model"`
	APIKey    string `yaml:"api_key" toml:"api_key"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	MaxTokens int    `yaml:"max_tokens" toml:"max_tokens"`
	// Response is returned verbatim by the static provider.
	Response string `yaml:"response" toml:"response"`
}

// IngestConfig holds chunking and discovery settings for the background processor.
type IngestConfig struct {
	ChunkSize            int     `yaml:"chunk_size" toml:"chunk_size"`
	ChunkOverlap         int     `yaml:"chunk_overlap" toml:"chunk_overlap"`
	ConfidenceThreshold  float64 `yaml:"confidence_threshold" toml:"confidence_threshold"`
	MaxEntities          int     `yaml:"max_entities" toml:"max_entities"`
	IncludeRelationships *bool   `yaml:"include_relationships" toml:"include_relationships"`
	AllowNewTypes        *bool   `yaml:"allow_new_types" toml:"allow_new_types"`
}

// RetrievalConfig holds defaults for retrieve requests.
type RetrievalConfig struct {
	Strategy             string             `yaml:"strategy" toml:"strategy"`
	MaxResults           int                `yaml:"max_results" toml:"max_results"`
	MinScore             float64            `yaml:"min_score" toml:"min_score"`
	RelatedDepth         int                `yaml:"related_depth" toml:"related_depth"`
	Rerank               bool               `yaml:"rerank" toml:"rerank"`
	Weights              map[string]float64 `yaml:"weights" toml:"weights"`
	RecencyHalfLifeHours float64            `yaml:"recency_half_life_hours" toml:"recency_half_life_hours"`
}

// GraphConfig holds graph store settings.
type GraphConfig struct {
	MaxSubgraphNodes int    `yaml:"max_subgraph_nodes" toml:"max_subgraph_nodes"`
	WorkspaceLabel   string `yaml:"workspace_label" toml:"workspace_label"`
}

// Load reads and parses the config file at path, expands paths, applies defaults, and fills
// secrets from the environment. Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	loadDotEnv(configDir)
	ResolveSecrets(&cfg)

	return &cfg, nil
}

// Save writes the config to path in the format implied by its extension.
func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ResolveSecrets fills an empty llm.api_key from TSUNAGU_LLM_API_KEY or the provider's own variable.
func ResolveSecrets(cfg *Config) {
	if cfg.LLM.APIKey != "" {
		return
	}
	keys := []string{"TSUNAGU_LLM_API_KEY"}
	switch strings.ToLower(cfg.LLM.Provider) {
	case "openai":
		keys = append(keys, "OPENAI_API_KEY")
	case "anthropic", "claude":
		keys = append(keys, "ANTHROPIC_API_KEY")
	case "gemini":
		keys = append(keys, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			cfg.LLM.APIKey = v
			return
		}
	}
}

// loadDotEnv loads .env from the working directory and the config directory. Existing
// environment variables win; a missing file is not an error.
func loadDotEnv(configDir string) {
	for _, p := range []string{".env", filepath.Join(configDir, ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
