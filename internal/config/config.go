package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultBackend            = "sqlite"
	DefaultVectorWeight       = 0.7
	DefaultKeywordWeight      = 0.3
	DefaultCacheCapacity      = 4096
	DefaultChunkMaxLines      = 40
	DefaultCandidateLimit     = 200
	DefaultEmbeddingProvider  = "noop"
	DefaultEmbeddingDimension = 1536
	DefaultEmbeddingTimeoutMs = 30000
)

type Config struct {
	Memory MemoryConfig `json:"memory"`
}

type MemoryConfig struct {
	Backend         string          `json:"backend"`
	DBPath          string          `json:"dbPath,omitempty"`
	Workspace       string          `json:"workspace,omitempty"`
	AutoSave        bool            `json:"autoSave"`
	VectorWeight    float64         `json:"vectorWeight"`
	KeywordWeight   float64         `json:"keywordWeight"`
	CacheCapacity   int             `json:"cacheCapacity"`
	ChunkMaxLines   int             `json:"chunkMaxLines"`
	CandidateLimit  int             `json:"candidateLimit,omitempty"`
	ReindexSchedule string          `json:"reindexSchedule,omitempty"`
	Embedding       EmbeddingConfig `json:"embedding"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "openai", "custom-url" or "noop"
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Memory: MemoryConfig{
			Backend:        DefaultBackend,
			DBPath:         filepath.Join(home, ".clawmem", "memory.db"),
			Workspace:      filepath.Join(home, ".clawmem", "workspace"),
			AutoSave:       true,
			VectorWeight:   DefaultVectorWeight,
			KeywordWeight:  DefaultKeywordWeight,
			CacheCapacity:  DefaultCacheCapacity,
			ChunkMaxLines:  DefaultChunkMaxLines,
			CandidateLimit: DefaultCandidateLimit,
			Embedding: EmbeddingConfig{
				Provider:  DefaultEmbeddingProvider,
				Dimension: DefaultEmbeddingDimension,
				TimeoutMs: DefaultEmbeddingTimeoutMs,
			},
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".clawmem")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// LoadConfig reads the config file at path (ConfigPath when empty),
// applies CLAWMEM_* environment overrides and backstops defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if backend := os.Getenv("CLAWMEM_BACKEND"); backend != "" {
		cfg.Memory.Backend = backend
	}
	if dbPath := os.Getenv("CLAWMEM_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if workspace := os.Getenv("CLAWMEM_WORKSPACE"); workspace != "" {
		cfg.Memory.Workspace = workspace
	}
	if provider := os.Getenv("CLAWMEM_EMBEDDING_PROVIDER"); provider != "" {
		cfg.Memory.Embedding.Provider = provider
	}
	if model := os.Getenv("CLAWMEM_EMBEDDING_MODEL"); model != "" {
		cfg.Memory.Embedding.Model = model
	}
	if url := os.Getenv("CLAWMEM_EMBEDDING_BASE_URL"); url != "" {
		cfg.Memory.Embedding.BaseURL = url
	}
	if key := os.Getenv("CLAWMEM_EMBEDDING_API_KEY"); key != "" {
		cfg.Memory.Embedding.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Memory.Embedding.APIKey == "" {
		cfg.Memory.Embedding.APIKey = key
	}
	if capacity := os.Getenv("CLAWMEM_CACHE_CAPACITY"); capacity != "" {
		if parsed, err := strconv.Atoi(capacity); err == nil {
			cfg.Memory.CacheCapacity = parsed
		}
	}
	if weight := os.Getenv("CLAWMEM_VECTOR_WEIGHT"); weight != "" {
		if parsed, err := strconv.ParseFloat(weight, 64); err == nil {
			cfg.Memory.VectorWeight = parsed
		}
	}
	if weight := os.Getenv("CLAWMEM_KEYWORD_WEIGHT"); weight != "" {
		if parsed, err := strconv.ParseFloat(weight, 64); err == nil {
			cfg.Memory.KeywordWeight = parsed
		}
	}
	if autoSave := os.Getenv("CLAWMEM_AUTO_SAVE"); autoSave != "" {
		if parsed, err := strconv.ParseBool(autoSave); err == nil {
			cfg.Memory.AutoSave = parsed
		}
	}

	applyBackstops(cfg)

	return cfg, nil
}

func applyBackstops(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = DefaultBackend
	}
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = defaults.Memory.DBPath
	}
	if cfg.Memory.Workspace == "" {
		cfg.Memory.Workspace = defaults.Memory.Workspace
	}
	if cfg.Memory.VectorWeight < 0 {
		cfg.Memory.VectorWeight = DefaultVectorWeight
	}
	if cfg.Memory.KeywordWeight < 0 {
		cfg.Memory.KeywordWeight = DefaultKeywordWeight
	}
	if cfg.Memory.CacheCapacity <= 0 {
		cfg.Memory.CacheCapacity = DefaultCacheCapacity
	}
	if cfg.Memory.ChunkMaxLines <= 0 {
		cfg.Memory.ChunkMaxLines = DefaultChunkMaxLines
	}
	if cfg.Memory.CandidateLimit <= 0 {
		cfg.Memory.CandidateLimit = DefaultCandidateLimit
	}
	if cfg.Memory.Embedding.Provider == "" {
		cfg.Memory.Embedding.Provider = DefaultEmbeddingProvider
	}
	if cfg.Memory.Embedding.Dimension <= 0 {
		cfg.Memory.Embedding.Dimension = DefaultEmbeddingDimension
	}
	if cfg.Memory.Embedding.TimeoutMs <= 0 {
		cfg.Memory.Embedding.TimeoutMs = DefaultEmbeddingTimeoutMs
	}
}

func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
