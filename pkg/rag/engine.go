package rag

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/askdocs/internal/models"
	"github.com/xhad/askdocs/internal/types"
	"github.com/xhad/askdocs/pkg/store"
)

const contextSeparator = "\n\n"

type EngineConfig struct {
	Expansions   int
	TopK         int
	MaxChunks    int
	ContextChars int
	MinScore     float64
}

func applyEngineDefaults(c EngineConfig) EngineConfig {
	if c.Expansions < 0 {
		c.Expansions = 0
	}
	if c.TopK <= 0 {
		c.TopK = 4
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 8
	}
	if c.ContextChars <= 0 {
		c.ContextChars = 6000
	}
	return c
}

// Engine answers questions from the stores selected by a scope.
type Engine struct {
	config     EngineConfig
	embeddings types.EmbeddingGateway
	expander   types.QueryExpander
	store      types.VectorStore
	backend    types.AnswerBackend
	metrics    *Metrics
	logger     arbor.ILogger
}

func NewEngine(config EngineConfig, embeddings types.EmbeddingGateway, expander types.QueryExpander,
	vs types.VectorStore, backend types.AnswerBackend, metrics *Metrics, logger arbor.ILogger) *Engine {
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}
	return &Engine{
		config:     applyEngineDefaults(config),
		embeddings: embeddings,
		expander:   expander,
		store:      vs,
		backend:    backend,
		metrics:    metrics,
		logger:     logger,
	}
}

// Answer expands the question, retrieves from every store in scope, merges
// the hits and hands the assembled context to the answer backend.
func (e *Engine) Answer(ctx context.Context, question string, scope models.Scope) (models.Answer, error) {
	started := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return models.Answer{}, models.Validation(models.ErrInvalidRequest, nil, "question is required")
	}

	tenants, used, err := e.resolve(ctx, scope)
	if err != nil {
		return models.Answer{}, err
	}

	variants := e.expander.Expand(ctx, question, e.config.Expansions)
	texts := make([]string, len(variants))
	for i, v := range variants {
		texts[i] = v.Text
	}

	vectors, err := e.embeddings.EmbedBatch(ctx, texts)
	if err != nil {
		if _, ok := models.KindOf(err); !ok {
			err = models.Provider(models.ErrEmbeddingUnavailable, err, "failed to embed the question")
		}
		return models.Answer{}, err
	}

	hits, err := e.search(ctx, tenants, vectors)
	if err != nil {
		return models.Answer{}, err
	}
	selected := Merge(hits, e.config.MinScore, e.config.MaxChunks)
	contextText, citations := BuildContext(selected, e.config.ContextChars)

	generated := e.backend.Generate(ctx, contextText, question)

	e.metrics.answered(used, generated.Degraded, time.Since(started))
	e.logger.Info().
		Str("scope", used.String()).
		Int("variants", len(variants)).
		Int("hits", len(hits)).
		Int("cited", len(citations)).
		Bool("degraded", generated.Degraded).
		Dur("elapsed", time.Since(started)).
		Msg("Question answered")

	return models.Answer{
		Text:      generated.Text,
		Variants:  variants,
		Citations: citations,
		Scope:     used,
		Degraded:  generated.Degraded,
	}, nil
}

// resolve maps a scope to the tenant ids to search ("" is the default store)
// and the scope that will actually be served.
func (e *Engine) resolve(ctx context.Context, scope models.Scope) ([]string, models.Scope, error) {
	switch scope.Kind {
	case models.ScopeDefault, "":
		return e.require(ctx, "", models.DefaultScope())
	case models.ScopeTenant:
		if scope.TenantID == "" {
			return nil, scope, models.Validation(models.ErrInvalidRequest, nil, "tenant scope requires a tenant id")
		}
		return e.require(ctx, scope.TenantID, scope)
	case models.ScopeCombined:
		if scope.TenantID == "" {
			return nil, scope, models.Validation(models.ErrInvalidRequest, nil, "combined scope requires a tenant id")
		}
		tenantOK, err := e.store.Exists(ctx, scope.TenantID)
		if err != nil {
			return nil, scope, err
		}
		defaultOK, err := e.store.Exists(ctx, "")
		if err != nil {
			return nil, scope, err
		}
		switch {
		case tenantOK && defaultOK:
			return []string{scope.TenantID, ""}, scope, nil
		case defaultOK:
			e.logger.Debug().Str("tenant", scope.TenantID).Msg("Tenant store missing, combined scope served from default")
			return []string{""}, models.DefaultScope(), nil
		case tenantOK:
			return []string{scope.TenantID}, models.TenantScope(scope.TenantID), nil
		}
		return nil, scope, models.NotFound(models.ErrStoreNotFound,
			"no documents ingested yet for tenant %s or the default store", scope.TenantID)
	}
	return nil, scope, models.Validation(models.ErrInvalidRequest, nil, "unknown scope %q", scope.Kind)
}

func (e *Engine) require(ctx context.Context, tenantID string, scope models.Scope) ([]string, models.Scope, error) {
	ok, err := e.store.Exists(ctx, tenantID)
	if err != nil {
		return nil, scope, err
	}
	if !ok {
		where := "the default store"
		if tenantID != "" {
			where = "tenant " + tenantID
		}
		return nil, scope, models.NotFound(models.ErrStoreNotFound, "no documents ingested yet for %s", where)
	}
	return []string{tenantID}, scope, nil
}

// search runs every variant against every store concurrently.
func (e *Engine) search(ctx context.Context, tenants []string, vectors [][]float32) ([]models.SearchHit, error) {
	results := make([][]models.SearchHit, len(tenants)*len(vectors))

	g, gctx := errgroup.WithContext(ctx)
	for ti, tenant := range tenants {
		for vi, vector := range vectors {
			slot := ti*len(vectors) + vi
			g.Go(func() error {
				hits, err := e.store.Search(gctx, tenant, vector, e.config.TopK)
				if err != nil {
					return err
				}
				results[slot] = hits
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		var structured *models.Error
		if !errors.As(err, &structured) {
			err = models.Storage(err, "search failed")
		}
		return nil, err
	}

	var all []models.SearchHit
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// Merge keeps the best score per chunk, drops hits with no similarity at all
// or under minScore, ranks the rest and keeps at most maxChunks.
func Merge(hits []models.SearchHit, minScore float64, maxChunks int) []models.SearchHit {
	best := make(map[string]models.SearchHit, len(hits))
	for _, h := range hits {
		if cur, ok := best[h.Record.ID]; !ok || h.Score > cur.Score {
			best[h.Record.ID] = h
		}
	}

	merged := make([]models.SearchHit, 0, len(best))
	for _, h := range best {
		if h.Score <= 0 || h.Score < minScore {
			continue
		}
		merged = append(merged, h)
	}
	store.SortHits(merged)
	if maxChunks > 0 && len(merged) > maxChunks {
		merged = merged[:maxChunks]
	}
	return merged
}

// BuildContext joins hit texts in rank order with blank lines, stopping at
// budget characters. Every hit whose text made it in, even partly, is cited.
func BuildContext(hits []models.SearchHit, budget int) (string, []models.Citation) {
	var sb strings.Builder
	citations := make([]models.Citation, 0, len(hits))
	remaining := budget

	for i, h := range hits {
		if i > 0 {
			sep := utf8.RuneCountInString(contextSeparator)
			if remaining <= sep {
				break
			}
			sb.WriteString(contextSeparator)
			remaining -= sep
		}
		if remaining <= 0 {
			break
		}

		text := h.Record.Text
		if n := utf8.RuneCountInString(text); n > remaining {
			text = string([]rune(text)[:remaining])
		}
		sb.WriteString(text)
		remaining -= utf8.RuneCountInString(text)

		citations = append(citations, models.Citation{
			ChunkID: h.Record.ID,
			Source:  h.Record.Source,
			Index:   h.Record.Index,
			Score:   h.Score,
			Text:    h.Record.Text,
		})
	}
	return sb.String(), citations
}
