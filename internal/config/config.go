// Package config loads and validates service configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/guideline-rag/config.yaml)
//  3. Project config (guideline-rag.yaml in the working directory)
//  4. Environment variables (GRAG_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Chunking  ChunkingConfig  `yaml:"chunking" json:"chunking"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Vector    VectorConfig    `yaml:"vector" json:"vector"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Scrape    ScrapeConfig    `yaml:"scrape" json:"scrape"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	Feedback  FeedbackConfig  `yaml:"feedback" json:"feedback"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Addr is the listen address (default: ":8080").
	Addr string `yaml:"addr" json:"addr"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFile is the log file path. Empty disables file logging.
	LogFile string `yaml:"log_file" json:"log_file"`
	// ReadTimeout bounds request reads (default: 30s).
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
	// WriteTimeout bounds response writes. Must be generous enough for
	// SSE streaming (default: 5m).
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// StorageConfig configures the blob store backing indexes and chunks.
type StorageConfig struct {
	// Backend selects the blob store: "fs", "gcs", or "mem".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the root directory for the fs backend.
	Path string `yaml:"path" json:"path"`
	// Bucket is the GCS bucket name for the gcs backend.
	Bucket string `yaml:"bucket" json:"bucket"`
	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix" json:"prefix"`
}

// ChunkingConfig configures document chunking.
type ChunkingConfig struct {
	// TargetSize is the preferred chunk size in characters (default: 1000).
	TargetSize int `yaml:"target_size" json:"target_size"`
	// MaxSize is the hard upper bound in characters (default: 1500).
	MaxSize int `yaml:"max_size" json:"max_size"`
	// Overlap is the carry-over between adjacent chunks (default: 100).
	Overlap int `yaml:"overlap" json:"overlap"`
}

// SearchConfig configures hybrid search and rank fusion.
type SearchConfig struct {
	// RRFConstant is the reciprocal rank fusion smoothing parameter k.
	// Default: 60 (industry standard used by Azure AI Search, OpenSearch).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// TopK is the default number of fused results returned (default: 6).
	TopK int `yaml:"top_k" json:"top_k"`
	// Overfetch multiplies TopK for the per-index candidate fetch
	// (default: 3).
	Overfetch int `yaml:"overfetch" json:"overfetch"`
	// BM25K1 is the term frequency saturation parameter (default: 1.5).
	BM25K1 float64 `yaml:"bm25_k1" json:"bm25_k1"`
	// BM25B is the length normalization parameter (default: 0.75).
	BM25B float64 `yaml:"bm25_b" json:"bm25_b"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// Model is the embedding model name (default: nomic-embed-text).
	Model string `yaml:"model" json:"model"`
	// Dimensions is the expected embedding width (default: 768).
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// BatchSize is texts per embedding request (default: 32).
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the LRU cache capacity in entries (default: 4096).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// RequestsPerSecond rate-limits embedding calls (default: 10).
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// VectorConfig configures the vector index backend.
type VectorConfig struct {
	// Backend selects the vector index: "embedded" (in-process HNSW) or
	// "remote" (HTTP ANN service).
	Backend string `yaml:"backend" json:"backend"`
	// M is the HNSW graph connectivity (embedded backend, default: 16).
	M int `yaml:"m" json:"m"`
	// EfSearch is the HNSW search beam width (default: 100).
	EfSearch int `yaml:"ef_search" json:"ef_search"`
	// Endpoint is the remote ANN service base URL (remote backend).
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Timeout bounds remote ANN requests (default: 10s).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// LLMConfig configures answer generation.
type LLMConfig struct {
	// OllamaHost is the Ollama API endpoint. Empty inherits
	// embedding.ollama_host.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// Model is the chat model name (default: llama3.1:8b).
	Model string `yaml:"model" json:"model"`
	// Temperature controls sampling (default: 0.1).
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// ScrapeConfig configures guideline page fetching.
type ScrapeConfig struct {
	// UserAgent identifies the scraper to origin servers.
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// Timeout bounds a single page fetch (default: 30s).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MinContentChars rejects pages with less extracted text
	// (default: 200).
	MinContentChars int `yaml:"min_content_chars" json:"min_content_chars"`
	// RequestsPerSecond rate-limits outbound fetches (default: 1).
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// AdminConfig configures the managed URL registry and refresh scheduler.
type AdminConfig struct {
	// RefreshInterval is how often the scheduler checks for stale
	// sources (default: 1h).
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	// MaxConcurrentJobs bounds parallel index jobs (default: 2).
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
}

// FeedbackConfig configures answer feedback storage.
type FeedbackConfig struct {
	// DBPath is the SQLite database path (default: ~/.guideline-rag/feedback.db).
	DBPath string `yaml:"db_path" json:"db_path"`
}

// NewConfig creates a Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			LogLevel:     "info",
			LogFile:      "",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Backend: "fs",
			Path:    defaultDataPath(),
			Bucket:  "",
			Prefix:  "",
		},
		Chunking: ChunkingConfig{
			TargetSize: 1000,
			MaxSize:    1500,
			Overlap:    100,
		},
		Search: SearchConfig{
			// k=60 is the industry standard (Azure AI Search, OpenSearch)
			RRFConstant: 60,
			TopK:        6,
			Overfetch:   3,
			BM25K1:      1.5,
			BM25B:       0.75,
		},
		Embedding: EmbeddingConfig{
			OllamaHost:        "http://localhost:11434",
			Model:             "nomic-embed-text",
			Dimensions:        768,
			BatchSize:         32,
			CacheSize:         4096,
			RequestsPerSecond: 10,
		},
		Vector: VectorConfig{
			Backend:  "embedded",
			M:        16,
			EfSearch: 100,
			Endpoint: "",
			Timeout:  10 * time.Second,
		},
		LLM: LLMConfig{
			OllamaHost:  "",
			Model:       "llama3.1:8b",
			Temperature: 0.1,
		},
		Scrape: ScrapeConfig{
			UserAgent:         "guideline-rag/1.0",
			Timeout:           30 * time.Second,
			MinContentChars:   200,
			RequestsPerSecond: 1,
		},
		Admin: AdminConfig{
			RefreshInterval:   time.Hour,
			MaxConcurrentJobs: 2,
		},
		Feedback: FeedbackConfig{
			DBPath: defaultFeedbackPath(),
		},
	}
}

// defaultDataPath returns the default fs blob store root.
func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".guideline-rag", "data")
	}
	return filepath.Join(home, ".guideline-rag", "data")
}

// defaultFeedbackPath returns the default feedback database path.
func defaultFeedbackPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".guideline-rag", "feedback.db")
	}
	return filepath.Join(home, ".guideline-rag", "feedback.db")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/guideline-rag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/guideline-rag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "guideline-rag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "guideline-rag", "config.yaml")
	}
	return filepath.Join(home, ".config", "guideline-rag", "config.yaml")
}

// loadUserConfig loads the user configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load guideline-rag.yaml or guideline-rag.yml.
func (c *Config) loadFromFile(dir string) error {
	// .yaml takes precedence
	yamlPath := filepath.Join(dir, "guideline-rag.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, "guideline-rag.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.LogFile != "" {
		c.Server.LogFile = other.Server.LogFile
	}
	if other.Server.ReadTimeout != 0 {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout != 0 {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}

	// Storage
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}
	if other.Storage.Bucket != "" {
		c.Storage.Bucket = other.Storage.Bucket
	}
	if other.Storage.Prefix != "" {
		c.Storage.Prefix = other.Storage.Prefix
	}

	// Chunking
	if other.Chunking.TargetSize != 0 {
		c.Chunking.TargetSize = other.Chunking.TargetSize
	}
	if other.Chunking.MaxSize != 0 {
		c.Chunking.MaxSize = other.Chunking.MaxSize
	}
	if other.Chunking.Overlap != 0 {
		c.Chunking.Overlap = other.Chunking.Overlap
	}

	// Search
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.TopK != 0 {
		c.Search.TopK = other.Search.TopK
	}
	if other.Search.Overfetch != 0 {
		c.Search.Overfetch = other.Search.Overfetch
	}
	if other.Search.BM25K1 != 0 {
		c.Search.BM25K1 = other.Search.BM25K1
	}
	if other.Search.BM25B != 0 {
		c.Search.BM25B = other.Search.BM25B
	}

	// Embedding
	if other.Embedding.OllamaHost != "" {
		c.Embedding.OllamaHost = other.Embedding.OllamaHost
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = other.Embedding.Dimensions
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.CacheSize != 0 {
		c.Embedding.CacheSize = other.Embedding.CacheSize
	}
	if other.Embedding.RequestsPerSecond != 0 {
		c.Embedding.RequestsPerSecond = other.Embedding.RequestsPerSecond
	}

	// Vector
	if other.Vector.Backend != "" {
		c.Vector.Backend = other.Vector.Backend
	}
	if other.Vector.M != 0 {
		c.Vector.M = other.Vector.M
	}
	if other.Vector.EfSearch != 0 {
		c.Vector.EfSearch = other.Vector.EfSearch
	}
	if other.Vector.Endpoint != "" {
		c.Vector.Endpoint = other.Vector.Endpoint
	}
	if other.Vector.Timeout != 0 {
		c.Vector.Timeout = other.Vector.Timeout
	}

	// LLM
	if other.LLM.OllamaHost != "" {
		c.LLM.OllamaHost = other.LLM.OllamaHost
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}

	// Scrape
	if other.Scrape.UserAgent != "" {
		c.Scrape.UserAgent = other.Scrape.UserAgent
	}
	if other.Scrape.Timeout != 0 {
		c.Scrape.Timeout = other.Scrape.Timeout
	}
	if other.Scrape.MinContentChars != 0 {
		c.Scrape.MinContentChars = other.Scrape.MinContentChars
	}
	if other.Scrape.RequestsPerSecond != 0 {
		c.Scrape.RequestsPerSecond = other.Scrape.RequestsPerSecond
	}

	// Admin
	if other.Admin.RefreshInterval != 0 {
		c.Admin.RefreshInterval = other.Admin.RefreshInterval
	}
	if other.Admin.MaxConcurrentJobs != 0 {
		c.Admin.MaxConcurrentJobs = other.Admin.MaxConcurrentJobs
	}

	// Feedback
	if other.Feedback.DBPath != "" {
		c.Feedback.DBPath = other.Feedback.DBPath
	}
}

// applyEnvOverrides applies GRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GRAG_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("GRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("GRAG_LOG_FILE"); v != "" {
		c.Server.LogFile = v
	}

	if v := os.Getenv("GRAG_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("GRAG_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("GRAG_STORAGE_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}

	if v := os.Getenv("GRAG_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("GRAG_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.TopK = k
		}
	}

	if v := os.Getenv("GRAG_OLLAMA_HOST"); v != "" {
		c.Embedding.OllamaHost = v
	}
	if v := os.Getenv("GRAG_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("GRAG_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv("GRAG_VECTOR_BACKEND"); v != "" {
		c.Vector.Backend = v
	}
	if v := os.Getenv("GRAG_VECTOR_ENDPOINT"); v != "" {
		c.Vector.Endpoint = v
	}

	if v := os.Getenv("GRAG_FEEDBACK_DB"); v != "" {
		c.Feedback.DBPath = v
	}
}

// LLMHost resolves the chat endpoint, inheriting the embedding host
// when llm.ollama_host is unset.
func (c *Config) LLMHost() string {
	if c.LLM.OllamaHost != "" {
		return c.LLM.OllamaHost
	}
	return c.Embedding.OllamaHost
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	validBackends := map[string]bool{"fs": true, "gcs": true, "mem": true}
	if !validBackends[strings.ToLower(c.Storage.Backend)] {
		return fmt.Errorf("storage.backend must be 'fs', 'gcs', or 'mem', got %s", c.Storage.Backend)
	}
	if strings.ToLower(c.Storage.Backend) == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required for the gcs backend")
	}
	if strings.ToLower(c.Storage.Backend) == "fs" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the fs backend")
	}

	if c.Chunking.TargetSize <= 0 {
		return fmt.Errorf("chunking.target_size must be positive, got %d", c.Chunking.TargetSize)
	}
	if c.Chunking.MaxSize < c.Chunking.TargetSize {
		return fmt.Errorf("chunking.max_size must be >= target_size, got %d < %d",
			c.Chunking.MaxSize, c.Chunking.TargetSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.TargetSize {
		return fmt.Errorf("chunking.overlap must be in [0, target_size), got %d", c.Chunking.Overlap)
	}

	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.Overfetch < 1 {
		return fmt.Errorf("search.overfetch must be at least 1, got %d", c.Search.Overfetch)
	}
	if c.Search.BM25K1 <= 0 {
		return fmt.Errorf("search.bm25_k1 must be positive, got %f", c.Search.BM25K1)
	}
	if c.Search.BM25B < 0 || c.Search.BM25B > 1 {
		return fmt.Errorf("search.bm25_b must be between 0 and 1, got %f", c.Search.BM25B)
	}

	validVector := map[string]bool{"embedded": true, "remote": true}
	if !validVector[strings.ToLower(c.Vector.Backend)] {
		return fmt.Errorf("vector.backend must be 'embedded' or 'remote', got %s", c.Vector.Backend)
	}
	if strings.ToLower(c.Vector.Backend) == "remote" && c.Vector.Endpoint == "" {
		return fmt.Errorf("vector.endpoint is required for the remote backend")
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
