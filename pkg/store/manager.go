package store

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/xhad/askdocs/internal/models"
	"github.com/xhad/askdocs/internal/types"
)

// DefaultStoreName is the shared store used when no tenant is given.
const DefaultStoreName = "default"

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateTenant accepts the empty id (default store) and ids that are safe
// to use as a directory or table name.
func ValidateTenant(tenantID string) error {
	if tenantID == "" {
		return nil
	}
	if tenantID == DefaultStoreName {
		return models.Validation(models.ErrInvalidRequest, nil, "tenant id %q is reserved", tenantID)
	}
	if !tenantPattern.MatchString(tenantID) {
		return models.Validation(models.ErrInvalidRequest, nil,
			"invalid tenant id %q: use up to 64 letters, digits, '-' or '_'", tenantID)
	}
	return nil
}

func storeName(tenantID string) string {
	if tenantID == "" {
		return DefaultStoreName
	}
	return "tenants/" + tenantID
}

func describe(tenantID string) string {
	if tenantID == "" {
		return "the default store"
	}
	return "tenant " + tenantID
}

type storeHandle struct {
	mu   sync.RWMutex
	coll types.Collection
}

// Manager owns the lifecycle of every store. Each store has its own lock:
// writes to one store are serialized, searches share the read lock, and
// different stores never wait on each other.
type Manager struct {
	backend types.StoreBackend
	logger  arbor.ILogger

	mu     sync.Mutex
	stores map[string]*storeHandle
}

func NewManager(backend types.StoreBackend, logger arbor.ILogger) *Manager {
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}
	return &Manager{
		backend: backend,
		logger:  logger,
		stores:  make(map[string]*storeHandle),
	}
}

func (m *Manager) handle(name string) *storeHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.stores[name]
	if !ok {
		h = &storeHandle{}
		m.stores[name] = h
	}
	return h
}

// open loads the collection for a handle. Callers hold h.mu for writing.
func (m *Manager) open(ctx context.Context, h *storeHandle, tenantID string, create bool) error {
	if h.coll != nil {
		return nil
	}
	coll, err := m.backend.Open(ctx, storeName(tenantID), create)
	if errors.Is(err, models.ErrStoreNotFound) {
		return models.NotFound(models.ErrStoreNotFound, "no documents ingested yet for %s", describe(tenantID))
	}
	if err != nil {
		return models.Storage(err, "failed to open %s", describe(tenantID))
	}
	h.coll = coll
	m.logger.Debug().Str("store", storeName(tenantID)).Msg("Store loaded")
	return nil
}

func (m *Manager) withRead(ctx context.Context, tenantID string, fn func(types.Collection) error) error {
	h := m.handle(storeName(tenantID))

	h.mu.RLock()
	if h.coll != nil {
		defer h.mu.RUnlock()
		return fn(h.coll)
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := m.open(ctx, h, tenantID, false); err != nil {
		return err
	}
	return fn(h.coll)
}

func (m *Manager) withWrite(ctx context.Context, tenantID string, fn func(types.Collection) error) error {
	h := m.handle(storeName(tenantID))

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := m.open(ctx, h, tenantID, false); err != nil {
		return err
	}
	return fn(h.coll)
}

// Exists reports whether the store has been created.
func (m *Manager) Exists(ctx context.Context, tenantID string) (bool, error) {
	if err := ValidateTenant(tenantID); err != nil {
		return false, err
	}
	ok, err := m.backend.Exists(ctx, storeName(tenantID))
	if err != nil {
		return false, models.Storage(err, "failed to inspect %s", describe(tenantID))
	}
	return ok, nil
}

// Upsert writes records as one batch, creating the store if needed. Either
// the whole batch is persisted or none of it is, and each document in the
// batch replaces its previously stored chunks. A store created for a batch
// that fails is removed again.
func (m *Manager) Upsert(ctx context.Context, tenantID string, records []models.VectorRecord) error {
	if err := ValidateTenant(tenantID); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	name := storeName(tenantID)
	h := m.handle(name)

	h.mu.Lock()
	defer h.mu.Unlock()

	created := false
	if h.coll == nil {
		exists, err := m.backend.Exists(ctx, name)
		if err != nil {
			return models.Storage(err, "failed to inspect %s", describe(tenantID))
		}
		created = !exists
	}
	if err := m.open(ctx, h, tenantID, true); err != nil {
		return err
	}

	if err := h.coll.Upsert(ctx, records); err != nil {
		m.logger.Error().Err(err).Str("store", name).Int("records", len(records)).Msg("Upsert failed, batch discarded")
		if created {
			m.discard(ctx, h, tenantID)
		}
		return models.Storage(err, "failed to write %d records to %s", len(records), describe(tenantID))
	}
	m.logger.Debug().Str("store", name).Int("records", len(records)).Msg("Records upserted")
	return nil
}

// discard drops a store whose first batch never committed. Callers hold h.mu
// for writing.
func (m *Manager) discard(ctx context.Context, h *storeHandle, tenantID string) {
	name := storeName(tenantID)
	if err := h.coll.Close(); err != nil {
		m.logger.Warn().Err(err).Str("store", name).Msg("Failed to close discarded store")
	}
	h.coll = nil
	if err := m.backend.Drop(context.WithoutCancel(ctx), name); err != nil {
		m.logger.Warn().Err(err).Str("store", name).Msg("Failed to remove discarded store")
	}
}

func (m *Manager) Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]models.SearchHit, error) {
	if err := ValidateTenant(tenantID); err != nil {
		return nil, err
	}

	var hits []models.SearchHit
	err := m.withRead(ctx, tenantID, func(c types.Collection) error {
		var err error
		hits, err = c.Search(ctx, vector, topK)
		if errors.Is(err, models.ErrStoreNotFound) {
			return models.NotFound(models.ErrStoreNotFound, "no documents ingested yet for %s", describe(tenantID))
		}
		if err != nil {
			return models.Storage(err, "search failed for %s", describe(tenantID))
		}
		return nil
	})
	return hits, err
}

func (m *Manager) records(ctx context.Context, tenantID string) ([]models.VectorRecord, error) {
	exists, err := m.Exists(ctx, tenantID)
	if err != nil || !exists {
		return nil, err
	}

	var records []models.VectorRecord
	err = m.withRead(ctx, tenantID, func(c types.Collection) error {
		var err error
		records, err = c.Records(ctx)
		if errors.Is(err, models.ErrStoreNotFound) {
			records, err = nil, nil
		}
		if err != nil {
			return models.Storage(err, "failed to read %s", describe(tenantID))
		}
		return nil
	})
	if errors.Is(err, models.ErrStoreNotFound) {
		return nil, nil
	}
	return records, err
}

// ListDocuments groups a store's records by source filename. A missing store
// lists as empty.
func (m *Manager) ListDocuments(ctx context.Context, tenantID string) ([]models.DocumentSummary, error) {
	records, err := m.records(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return summarize(records), nil
}

// idsByDocument groups the chunk ids of a batch by document.
func idsByDocument(records []models.VectorRecord) map[string][]string {
	out := make(map[string][]string)
	for _, r := range records {
		out[r.DocumentID] = append(out[r.DocumentID], r.ID)
	}
	return out
}

func summarize(records []models.VectorRecord) []models.DocumentSummary {
	byName := make(map[string]*models.DocumentSummary)
	for _, r := range records {
		s, ok := byName[r.Source]
		if !ok {
			docType := r.DocumentType
			if docType == "" {
				docType = models.DocumentType
			}
			s = &models.DocumentSummary{Name: r.Source, Type: docType}
			byName[r.Source] = s
		}
		s.Chunks++
	}

	out := make([]models.DocumentSummary, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeleteDocument removes every record whose source is name.
func (m *Manager) DeleteDocument(ctx context.Context, tenantID, name string) (int, error) {
	if err := ValidateTenant(tenantID); err != nil {
		return 0, err
	}

	var deleted int
	err := m.withWrite(ctx, tenantID, func(c types.Collection) error {
		n, err := c.DeleteSource(ctx, name)
		if err != nil && !errors.Is(err, models.ErrStoreNotFound) {
			return models.Storage(err, "failed to delete %q from %s", name, describe(tenantID))
		}
		deleted = n
		return nil
	})
	if errors.Is(err, models.ErrStoreNotFound) || (err == nil && deleted == 0) {
		return 0, models.NotFound(models.ErrDocumentNotFound, "document %q not found in %s", name, describe(tenantID))
	}
	if err != nil {
		return 0, err
	}

	m.logger.Info().Str("store", storeName(tenantID)).Str("document", name).Int("chunks", deleted).Msg("Document deleted")
	return deleted, nil
}

// Clear drops the store and its on-disk state. Clearing a missing store is a
// no-op.
func (m *Manager) Clear(ctx context.Context, tenantID string) error {
	if err := ValidateTenant(tenantID); err != nil {
		return err
	}
	h := m.handle(storeName(tenantID))

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.coll != nil {
		if err := h.coll.Close(); err != nil {
			m.logger.Warn().Err(err).Str("store", storeName(tenantID)).Msg("Failed to close store before clearing")
		}
		h.coll = nil
	}
	if err := m.backend.Drop(ctx, storeName(tenantID)); err != nil {
		return models.Storage(err, "failed to clear %s", describe(tenantID))
	}

	m.logger.Info().Str("store", storeName(tenantID)).Msg("Store cleared")
	return nil
}

func (m *Manager) Info(ctx context.Context, tenantID string) (models.StoreInfo, error) {
	docs, err := m.ListDocuments(ctx, tenantID)
	if err != nil {
		return models.StoreInfo{}, err
	}

	info := models.StoreInfo{
		TotalDocuments: len(docs),
		Documents:      docs,
		Status:         models.StoreStatusEmpty,
	}
	for _, d := range docs {
		info.TotalChunks += d.Chunks
	}
	if info.TotalChunks > 0 {
		info.Status = models.StoreStatusExists
	}
	return info, nil
}

// Close releases every opened store and the backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	handles := make([]*storeHandle, 0, len(m.stores))
	for _, h := range m.stores {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	var errs []error
	for _, h := range handles {
		h.mu.Lock()
		if h.coll != nil {
			if err := h.coll.Close(); err != nil {
				errs = append(errs, err)
			}
			h.coll = nil
		}
		h.mu.Unlock()
	}
	if err := m.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
