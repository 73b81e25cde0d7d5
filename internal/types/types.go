package types

import (
	"context"

	"github.com/xhad/askdocs/internal/models"
)

// Embedder is a raw embedding provider. Callers normally go through the
// gateway in pkg/llm rather than using a provider directly.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator is a text-generation capability.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type EmbeddingGateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type QueryExpander interface {
	Expand(ctx context.Context, question string, k int) []models.QueryVariant
}

type GeneratedAnswer struct {
	Text     string
	Degraded bool
}

type AnswerBackend interface {
	Generate(ctx context.Context, contextText, question string) GeneratedAnswer
	Live() bool
}

// Collection is one opened store. Upsert replaces each document present in
// the batch: chunks of that document missing from the batch are removed in
// the same transaction.
type Collection interface {
	Upsert(ctx context.Context, records []models.VectorRecord) error
	Search(ctx context.Context, vector []float32, topK int) ([]models.SearchHit, error)
	Records(ctx context.Context) ([]models.VectorRecord, error)
	DeleteSource(ctx context.Context, source string) (int, error)
	Close() error
}

// StoreBackend creates, opens and drops collections by store name.
type StoreBackend interface {
	Exists(ctx context.Context, name string) (bool, error)
	Open(ctx context.Context, name string, create bool) (Collection, error)
	Drop(ctx context.Context, name string) error
	Close() error
}

type VectorStore interface {
	Upsert(ctx context.Context, tenantID string, records []models.VectorRecord) error
	Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]models.SearchHit, error)
	ListDocuments(ctx context.Context, tenantID string) ([]models.DocumentSummary, error)
	DeleteDocument(ctx context.Context, tenantID, name string) (int, error)
	Clear(ctx context.Context, tenantID string) error
	Info(ctx context.Context, tenantID string) (models.StoreInfo, error)
	Exists(ctx context.Context, tenantID string) (bool, error)
}
