package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	Timeout     time.Duration `yaml:"timeout"`
}

type EmbeddingConfig struct {
	Provider   string  `yaml:"provider"`
	BaseURL    string  `yaml:"base_url"`
	Model      string  `yaml:"model"`
	APIKey     string  `yaml:"api_key"`
	Device     string  `yaml:"device"`
	Dimensions int     `yaml:"dimensions"`
	BatchSize  int     `yaml:"batch_size"`
	RateLimit  float64 `yaml:"rate_limit"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Root        string `yaml:"root"`
	DatabaseURL string `yaml:"database_url"`
	TablePrefix string `yaml:"table_prefix"`
}

type ProcessorConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is a pointer so an explicit 0 survives the defaults.
	ChunkOverlap *int  `yaml:"chunk_overlap"`
	MaxFileSize  int64 `yaml:"max_file_size"`
}

type RetrievalConfig struct {
	Expansions   int     `yaml:"expansions"`
	TopK         int     `yaml:"top_k"`
	MaxChunks    int     `yaml:"max_chunks"`
	ContextChars int     `yaml:"context_chars"`
	MinScore     float64 `yaml:"min_score"`
}

type IngestConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers"`
}

type ScraperConfig struct {
	MaxDepth       int           `yaml:"max_depth"`
	RateLimit      float64       `yaml:"rate_limit"`
	IgnorePatterns []string      `yaml:"ignore_patterns"`
	Timeout        time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Storage   StorageConfig   `yaml:"storage"`
	Processor ProcessorConfig `yaml:"processor"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/askdocs/config.yaml"),
			"/etc/askdocs/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

// Default returns a config with every default applied and the environment
// merged in.
func Default() *Config {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		switch config.LLM.Provider {
		case "gemini":
			config.LLM.Model = "gemini-2.0-flash"
		default:
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2048
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.TopP == 0 {
		config.LLM.TopP = 0.9
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "ollama"
	}
	if config.Embedding.Model == "" {
		switch config.Embedding.Provider {
		case "gemini":
			config.Embedding.Model = "gemini-embedding-001"
		case "hashing":
			config.Embedding.Model = "feature-hashing"
		default:
			config.Embedding.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.APIKey == "" {
		config.Embedding.APIKey = config.LLM.APIKey
	}
	if config.Embedding.Device == "" {
		config.Embedding.Device = "cpu"
	}
	if config.Embedding.Dimensions == 0 {
		switch config.Embedding.Provider {
		case "gemini":
			config.Embedding.Dimensions = 768
		case "hashing":
			config.Embedding.Dimensions = 512
		}
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 32
	}
	if config.Embedding.RateLimit == 0 {
		config.Embedding.RateLimit = 20
	}

	if config.Storage.Backend == "" {
		config.Storage.Backend = "badger"
	}
	if config.Storage.Root == "" {
		config.Storage.Root = "vectorstores"
	}
	if config.Storage.TablePrefix == "" {
		config.Storage.TablePrefix = "askdocs"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == nil {
		overlap := 200
		config.Processor.ChunkOverlap = &overlap
	}
	if config.Processor.MaxFileSize == 0 {
		config.Processor.MaxFileSize = 50 << 20
	}

	if config.Retrieval.Expansions == 0 {
		config.Retrieval.Expansions = 3
	}
	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 4
	}
	if config.Retrieval.MaxChunks == 0 {
		config.Retrieval.MaxChunks = 8
	}
	if config.Retrieval.ContextChars == 0 {
		config.Retrieval.ContextChars = 6000
	}

	if config.Ingest.Timeout == 0 {
		config.Ingest.Timeout = 5 * time.Minute
	}
	if config.Ingest.Workers == 0 {
		config.Ingest.Workers = 4
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 1
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	if config.Metrics.Addr == "" {
		config.Metrics.Addr = ":9090"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.DatabaseURL = dbURL
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if root := os.Getenv("ASKDOCS_STORAGE_ROOT"); root != "" {
		config.Storage.Root = root
	}
	if level := os.Getenv("ASKDOCS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
