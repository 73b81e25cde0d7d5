package llm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/xhad/askdocs/internal/models"
	"github.com/xhad/askdocs/internal/types"
)

type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	BatchSize int
}

// OllamaEmbedder computes embeddings with an Ollama-served model.
type OllamaEmbedder struct {
	config   EmbedderConfig
	embedder *embeddings.EmbedderImpl
}

func NewOllamaEmbedder(config EmbedderConfig) (*OllamaEmbedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	client, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &OllamaEmbedder{config: config, embedder: emb}, nil
}

func (e *OllamaEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embedder.EmbedDocuments(ctx, texts)
}

// EmbedderFactory loads an embedding provider. The gateway calls it lazily.
type EmbedderFactory func(ctx context.Context) (types.Embedder, error)

type GatewayConfig struct {
	Provider   string
	Model      string
	Device     string
	Dimensions int // 0 learns the dimension from the first response
	BatchSize  int
	RateLimit  float64 // provider calls per second
}

// Gateway is the single entry point for embeddings. The provider is loaded on
// first use, at most once, and every returned vector is checked before it
// reaches a store.
type Gateway struct {
	config  GatewayConfig
	factory EmbedderFactory
	limiter *rate.Limiter
	logger  arbor.ILogger

	mu       sync.Mutex
	embedder types.Embedder
	dims     atomic.Int64
}

func NewGateway(config GatewayConfig, factory EmbedderFactory, logger arbor.ILogger) *Gateway {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}

	g := &Gateway{
		config:  config,
		factory: factory,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
	g.dims.Store(int64(config.Dimensions))
	return g
}

// Dimensions is the fixed vector size, or 0 before the first embedding when
// it was not configured.
func (g *Gateway) Dimensions() int {
	return int(g.dims.Load())
}

func (g *Gateway) provider(ctx context.Context) (types.Embedder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.embedder != nil {
		return g.embedder, nil
	}
	if g.factory == nil {
		return nil, models.Provider(models.ErrEmbeddingUnavailable, nil, "no embedding provider configured")
	}

	g.logger.Info().
		Str("provider", g.config.Provider).
		Str("model", g.config.Model).
		Str("device", g.config.Device).
		Msg("Loading embedding model")

	emb, err := g.factory(ctx)
	if err != nil {
		g.logger.Error().Err(err).Str("model", g.config.Model).Msg("Embedding model failed to load")
		return nil, models.Provider(models.ErrEmbeddingUnavailable, err, "embedding model %q could not be loaded", g.config.Model)
	}
	g.embedder = emb
	return emb, nil
}

func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	emb, err := g.provider(ctx)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.config.BatchSize {
		end := start + g.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return nil, models.Provider(models.ErrEmbeddingUnavailable, err, "embedding request cancelled")
		}
		vectors, err := emb.CreateEmbedding(ctx, texts[start:end])
		if err != nil {
			return nil, models.Provider(models.ErrEmbeddingUnavailable, err, "embedding request failed")
		}
		if len(vectors) != end-start {
			return nil, models.Provider(models.ErrEmbeddingUnavailable, nil,
				"embedding provider returned %d vectors for %d inputs", len(vectors), end-start)
		}
		for _, v := range vectors {
			if err := g.check(v); err != nil {
				return nil, err
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (g *Gateway) check(v []float32) error {
	if len(v) == 0 {
		return models.Provider(models.ErrEmbeddingUnavailable, nil, "embedding provider returned an empty vector")
	}
	zero := true
	for _, x := range v {
		if x != 0 {
			zero = false
			break
		}
	}
	if zero {
		return models.Provider(models.ErrEmbeddingUnavailable, nil, "embedding provider returned a zero vector")
	}

	n := int64(len(v))
	if g.dims.CompareAndSwap(0, n) {
		return nil
	}
	if want := g.dims.Load(); want != n {
		return models.Provider(models.ErrEmbeddingUnavailable, nil,
			"embedding dimension mismatch: expected %d, got %d", want, n)
	}
	return nil
}
