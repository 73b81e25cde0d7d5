package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/xhad/askdocs/internal/types"
	"github.com/xhad/askdocs/pkg/answer"
	"github.com/xhad/askdocs/pkg/config"
	"github.com/xhad/askdocs/pkg/expander"
	"github.com/xhad/askdocs/pkg/llm"
	"github.com/xhad/askdocs/pkg/processor"
	"github.com/xhad/askdocs/pkg/store"
)

// Capabilities is everything the engine needs, built once at startup and
// shared by reference.
type Capabilities struct {
	Processor  *processor.Processor
	Embeddings *llm.Gateway
	Generator  types.Generator // nil when no generation provider is configured
	Expander   *expander.Expander
	Answer     *answer.Backend
	Store      *store.Manager
}

// NewCapabilities wires providers and storage from config. Embedding
// providers load lazily on first use; a generation provider that cannot be
// created leaves the engine answering in fallback mode.
func NewCapabilities(ctx context.Context, cfg *config.Config, logger arbor.ILogger) (*Capabilities, error) {
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}

	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: chunkOverlap(cfg.Processor),
		MaxFileSize:  cfg.Processor.MaxFileSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}

	factory, err := embedderFactory(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	gateway := llm.NewGateway(llm.GatewayConfig{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		Device:     cfg.Embedding.Device,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
		RateLimit:  cfg.Embedding.RateLimit,
	}, factory, logger)

	gen, err := newGenerator(ctx, cfg.LLM)
	if err != nil {
		logger.Warn().Err(err).Str("provider", cfg.LLM.Provider).Msg("Text generation unavailable, answers will use the fallback")
		gen = nil
	}
	mode := answer.ModeLive
	if gen == nil {
		mode = answer.ModeFallback
	}

	backend, err := newStoreBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("embedding", cfg.Embedding.Provider+"/"+cfg.Embedding.Model).
		Str("llm", cfg.LLM.Provider).
		Str("answers", mode.String()).
		Str("storage", cfg.Storage.Backend).
		Msg("Capabilities ready")

	return &Capabilities{
		Processor:  proc,
		Embeddings: gateway,
		Generator:  gen,
		Expander:   expander.New(gen, logger),
		Answer:     answer.New(mode, gen, logger),
		Store:      store.NewManager(backend, logger),
	}, nil
}

func (c *Capabilities) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

func embedderFactory(cfg config.EmbeddingConfig) (llm.EmbedderFactory, error) {
	switch cfg.Provider {
	case "ollama":
		return func(ctx context.Context) (types.Embedder, error) {
			return llm.NewOllamaEmbedder(llm.EmbedderConfig{
				Model:     cfg.Model,
				BaseURL:   cfg.BaseURL,
				BatchSize: cfg.BatchSize,
			})
		}, nil
	case "gemini":
		return func(ctx context.Context) (types.Embedder, error) {
			return llm.NewGeminiClient(ctx, llm.GeminiConfig{
				APIKey:         cfg.APIKey,
				EmbedModel:     cfg.Model,
				EmbedDimension: cfg.Dimensions,
			})
		}, nil
	case "hashing":
		return func(ctx context.Context) (types.Embedder, error) {
			return llm.NewHashingEmbedder(cfg.Dimensions), nil
		}, nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

func newGenerator(ctx context.Context, cfg config.LLMConfig) (types.Generator, error) {
	switch cfg.Provider {
	case "none":
		return nil, nil
	case "ollama":
		return llm.NewWithConfig(llm.ChatConfig{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
			MaxTokens:   cfg.MaxTokens,
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.Timeout,
		})
	case "gemini":
		return llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:      cfg.APIKey,
			ChatModel:   cfg.Model,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
			MaxTokens:   cfg.MaxTokens,
		})
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func newStoreBackend(ctx context.Context, cfg config.StorageConfig, logger arbor.ILogger) (types.StoreBackend, error) {
	switch cfg.Backend {
	case "badger":
		return store.NewBadgerBackend(cfg.Root, logger)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("storage.database_url is required for the postgres backend")
		}
		return store.NewPgBackend(ctx, store.PgConfig{
			ConnString:  cfg.DatabaseURL,
			TablePrefix: cfg.TablePrefix,
		}, logger)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func chunkOverlap(cfg config.ProcessorConfig) int {
	if cfg.ChunkOverlap == nil {
		return 200
	}
	return *cfg.ChunkOverlap
}
