package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/askdocs/internal/models"
	"github.com/xhad/askdocs/pkg/store"
)

func newManager(t *testing.T, root string) *store.Manager {
	t.Helper()
	backend, err := store.NewBadgerBackend(root, nil)
	require.NoError(t, err)
	m := store.NewManager(backend, nil)
	t.Cleanup(func() { m.Close() })
	return m
}

func record(tenant, source string, index int, vector ...float32) models.VectorRecord {
	docID := "doc-" + source
	return models.VectorRecord{
		ID:           fmt.Sprintf("%s:%d", docID, index),
		DocumentID:   docID,
		Index:        index,
		TotalChunks:  index + 1,
		Text:         fmt.Sprintf("%s chunk %d", source, index),
		Vector:       vector,
		Source:       source,
		TenantID:     tenant,
		DocumentType: models.DocumentType,
	}
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir())

	err := m.Upsert(ctx, "acme", []models.VectorRecord{
		record("acme", "a.txt", 0, 1, 0, 0),
		record("acme", "a.txt", 1, 0, 1, 0),
		record("acme", "b.txt", 0, 0.9, 0.1, 0),
	})
	require.NoError(t, err)

	hits, err := m.Search(ctx, "acme", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-a.txt:0", hits[0].Record.ID)
	assert.Equal(t, "doc-b.txt:0", hits[1].Record.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchMissingStore(t *testing.T) {
	m := newManager(t, t.TempDir())

	_, err := m.Search(context.Background(), "ghost", []float32{1}, 3)
	assert.ErrorIs(t, err, models.ErrStoreNotFound)
	kind, _ := models.KindOf(err)
	assert.Equal(t, models.KindNotFound, kind)

	_, err = m.Search(context.Background(), "", []float32{1}, 3)
	assert.ErrorIs(t, err, models.ErrStoreNotFound)
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir())

	require.NoError(t, m.Upsert(ctx, "alice", []models.VectorRecord{record("alice", "secret.txt", 0, 1, 0)}))
	require.NoError(t, m.Upsert(ctx, "bob", []models.VectorRecord{record("bob", "public.txt", 0, 0, 1)}))

	hits, err := m.Search(ctx, "bob", []float32{1, 0}, 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, "bob", h.Record.TenantID)
		assert.NotEqual(t, "secret.txt", h.Record.Source)
	}
}

func TestDeleteDocumentPrecision(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir())

	require.NoError(t, m.Upsert(ctx, "acme", []models.VectorRecord{
		record("acme", "report.pdf", 0, 1, 0),
		record("acme", "report.pdf", 1, 1, 1),
		record("acme", "report.pdf", 2, 0, 1),
		record("acme", "notes.md", 0, 1, 0),
		record("acme", "notes.md", 1, 0, 1),
	}))

	deleted, err := m.DeleteDocument(ctx, "acme", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	docs, err := m.ListDocuments(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []models.DocumentSummary{{Name: "notes.md", Chunks: 2, Type: models.DocumentType}}, docs)

	_, err = m.DeleteDocument(ctx, "acme", "report.pdf")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	_, err = m.DeleteDocument(ctx, "nobody", "report.pdf")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestListAndInfoOnMissingStore(t *testing.T) {
	m := newManager(t, t.TempDir())

	docs, err := m.ListDocuments(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, docs)

	info, err := m.Info(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, models.StoreStatusEmpty, info.Status)
	assert.Zero(t, info.TotalChunks)
}

func TestInfo(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir())

	require.NoError(t, m.Upsert(ctx, "", []models.VectorRecord{
		record("", "a.txt", 0, 1),
		record("", "a.txt", 1, 1),
		record("", "b.txt", 0, 1),
	}))

	info, err := m.Info(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalDocuments)
	assert.Equal(t, 3, info.TotalChunks)
	assert.Equal(t, models.StoreStatusExists, info.Status)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	m := newManager(t, root)

	require.NoError(t, m.Upsert(ctx, "acme", []models.VectorRecord{record("acme", "a.txt", 0, 1)}))
	exists, err := m.Exists(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, m.Clear(ctx, "acme"))
	exists, err = m.Exists(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, exists)
	_, statErr := os.Stat(filepath.Join(root, "tenants", "acme"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = m.Search(ctx, "acme", []float32{1}, 1)
	assert.ErrorIs(t, err, models.ErrStoreNotFound)

	// clearing twice is fine
	assert.NoError(t, m.Clear(ctx, "acme"))

	// the store can be recreated after a clear
	require.NoError(t, m.Upsert(ctx, "acme", []models.VectorRecord{record("acme", "b.txt", 0, 1)}))
	docs, err := m.ListDocuments(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b.txt", docs[0].Name)
}

func TestStoresReloadAfterRestart(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	first := newManager(t, root)
	require.NoError(t, first.Upsert(ctx, "acme", []models.VectorRecord{
		record("acme", "a.txt", 0, 1, 0),
		record("acme", "a.txt", 1, 0, 1),
	}))
	require.NoError(t, first.Close())

	second := newManager(t, root)
	hits, err := second.Search(ctx, "acme", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-a.txt:1", hits[0].Record.ID)
	assert.Equal(t, "a.txt chunk 1", hits[0].Record.Text)
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir())

	batch := []models.VectorRecord{record("acme", "a.txt", 0, 1), record("acme", "a.txt", 1, 1)}
	require.NoError(t, m.Upsert(ctx, "acme", batch))
	require.NoError(t, m.Upsert(ctx, "acme", batch))

	info, err := m.Info(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalChunks)
}

func TestCancelledUpsertWritesNothing(t *testing.T) {
	m := newManager(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Upsert(ctx, "acme", []models.VectorRecord{record("acme", "a.txt", 0, 1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	kind, _ := models.KindOf(err)
	assert.Equal(t, models.KindStorage, kind)

	docs, err := m.ListDocuments(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFailedFirstUpsertLeavesNoStore(t *testing.T) {
	root := t.TempDir()
	m := newManager(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Upsert(ctx, "fresh", []models.VectorRecord{record("fresh", "a.txt", 0, 1)})
	require.ErrorIs(t, err, context.Canceled)

	exists, err := m.Exists(context.Background(), "fresh")
	require.NoError(t, err)
	assert.False(t, exists)
	_, statErr := os.Stat(filepath.Join(root, "tenants", "fresh"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = m.Search(context.Background(), "fresh", []float32{1}, 1)
	assert.ErrorIs(t, err, models.ErrStoreNotFound)

	// the store can still be created afterwards
	require.NoError(t, m.Upsert(context.Background(), "fresh", []models.VectorRecord{record("fresh", "a.txt", 0, 1)}))
	exists, err = m.Exists(context.Background(), "fresh")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFailedUpsertKeepsExistingStore(t *testing.T) {
	m := newManager(t, t.TempDir())
	require.NoError(t, m.Upsert(context.Background(), "acme", []models.VectorRecord{record("acme", "a.txt", 0, 1)}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Upsert(ctx, "acme", []models.VectorRecord{record("acme", "b.txt", 0, 1)})
	require.Error(t, err)

	docs, err := m.ListDocuments(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, []models.DocumentSummary{{Name: "a.txt", Chunks: 1, Type: models.DocumentType}}, docs)
}

func TestUpsertReplacesShorterDocument(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	m := newManager(t, root)

	long := []models.VectorRecord{
		record("acme", "report.txt", 0, 1, 0),
		record("acme", "report.txt", 1, 0, 1),
		record("acme", "report.txt", 2, 1, 1),
	}
	for i := range long {
		long[i].TotalChunks = 3
	}
	require.NoError(t, m.Upsert(ctx, "acme", append(long, record("acme", "other.txt", 0, 1, 0))))

	short := record("acme", "report.txt", 0, 0, 1)
	short.Text = "rewritten"
	short.TotalChunks = 1
	require.NoError(t, m.Upsert(ctx, "acme", []models.VectorRecord{short}))

	check := func(m *store.Manager) {
		docs, err := m.ListDocuments(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, []models.DocumentSummary{
			{Name: "other.txt", Chunks: 1, Type: models.DocumentType},
			{Name: "report.txt", Chunks: 1, Type: models.DocumentType},
		}, docs)

		hits, err := m.Search(ctx, "acme", []float32{1, 1}, 10)
		require.NoError(t, err)
		for _, h := range hits {
			if h.Record.Source == "report.txt" {
				assert.Equal(t, "doc-report.txt:0", h.Record.ID)
				assert.Equal(t, "rewritten", h.Record.Text)
				assert.Equal(t, 1, h.Record.TotalChunks)
			}
		}
	}
	check(m)

	// the pruned chunks are gone from disk too
	require.NoError(t, m.Close())
	check(newManager(t, root))
}

func TestConcurrentUpsertsSameStore(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			source := fmt.Sprintf("file-%d.txt", w)
			batch := make([]models.VectorRecord, 5)
			for i := range batch {
				batch[i] = record("acme", source, i, float32(w+1), float32(i+1))
			}
			assert.NoError(t, m.Upsert(ctx, "acme", batch))
			_, err := m.Search(ctx, "acme", []float32{1, 1}, 3)
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	info, err := m.Info(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 8, info.TotalDocuments)
	assert.Equal(t, 40, info.TotalChunks)
}

func TestInvalidTenant(t *testing.T) {
	m := newManager(t, t.TempDir())

	for _, tenant := range []string{"../escape", "a/b", "with space", "default"} {
		err := m.Upsert(context.Background(), tenant, []models.VectorRecord{record(tenant, "a.txt", 0, 1)})
		assert.ErrorIs(t, err, models.ErrInvalidRequest, tenant)
	}
}

func TestSortHitsTieBreak(t *testing.T) {
	hits := []models.SearchHit{
		{Record: models.VectorRecord{ID: "b:2", Index: 2}, Score: 0.5},
		{Record: models.VectorRecord{ID: "b:0", Index: 0}, Score: 0.5},
		{Record: models.VectorRecord{ID: "a:0", Index: 0}, Score: 0.5},
		{Record: models.VectorRecord{ID: "z:9", Index: 9}, Score: 0.9},
	}
	store.SortHits(hits)

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Record.ID
	}
	assert.Equal(t, []string{"z:9", "a:0", "b:0", "b:2"}, ids)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, store.Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, store.Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, store.Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, store.Cosine([]float32{0, 0}, []float32{1, 2}))
}
