package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/xhad/askdocs/internal/models"
	"github.com/xhad/askdocs/internal/types"
)

// BadgerBackend keeps every store in its own directory under root. A store
// exists exactly when its directory does.
type BadgerBackend struct {
	root   string
	logger arbor.ILogger
}

func NewBadgerBackend(root string, logger arbor.ILogger) (*BadgerBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}
	return &BadgerBackend{root: root, logger: logger}, nil
}

func (b *BadgerBackend) dir(name string) string {
	return filepath.Join(b.root, filepath.FromSlash(name))
}

func (b *BadgerBackend) Exists(ctx context.Context, name string) (bool, error) {
	info, err := os.Stat(b.dir(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (b *BadgerBackend) Open(ctx context.Context, name string, create bool) (types.Collection, error) {
	exists, err := b.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists && !create {
		return nil, models.ErrStoreNotFound
	}

	dir := b.dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.SyncWrites = true
	options.Logger = nil // badger's own logger is too chatty next to arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		if !exists {
			os.RemoveAll(dir)
		}
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	var records []models.VectorRecord
	if err := store.Find(&records, nil); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	coll := &badgerCollection{
		store:   store,
		records: make(map[string]models.VectorRecord, len(records)),
	}
	for _, r := range records {
		coll.records[r.ID] = r
	}

	b.logger.Debug().Str("path", dir).Int("records", len(records)).Msg("Badger store opened")
	return coll, nil
}

func (b *BadgerBackend) Drop(ctx context.Context, name string) error {
	if err := os.RemoveAll(b.dir(name)); err != nil {
		return fmt.Errorf("failed to remove store directory: %w", err)
	}
	return nil
}

func (b *BadgerBackend) Close() error {
	return nil
}

// badgerCollection persists records through badgerhold and searches an
// in-memory copy loaded when the store is opened.
type badgerCollection struct {
	store *badgerhold.Store

	mu      sync.RWMutex
	records map[string]models.VectorRecord
}

func (c *badgerCollection) Upsert(ctx context.Context, records []models.VectorRecord) error {
	stale := c.staleIDs(records)

	err := c.store.Badger().Update(func(tx *badger.Txn) error {
		for i := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.store.TxUpsert(tx, records[i].ID, records[i]); err != nil {
				return err
			}
		}
		for _, id := range stale {
			if err := c.store.TxDelete(tx, id, models.VectorRecord{}); err != nil {
				return err
			}
		}
		// last chance to abandon the batch before it commits
		return ctx.Err()
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, id := range stale {
		delete(c.records, id)
	}
	for _, r := range records {
		c.records[r.ID] = r
	}
	c.mu.Unlock()
	return nil
}

// staleIDs lists stored chunks of the batch's documents that the batch does
// not rewrite.
func (c *badgerCollection) staleIDs(records []models.VectorRecord) []string {
	keep := idsByDocument(records)
	written := make(map[string]bool, len(records))
	for _, r := range records {
		written[r.ID] = true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var stale []string
	for id, r := range c.records {
		if _, ok := keep[r.DocumentID]; ok && !written[id] {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

func (c *badgerCollection) Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := make([]models.SearchHit, 0, len(c.records))
	for _, r := range c.records {
		hits = append(hits, models.SearchHit{Record: r, Score: Cosine(vector, r.Vector)})
	}
	return topK(hits, k), nil
}

func (c *badgerCollection) Records(ctx context.Context) ([]models.VectorRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.VectorRecord, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func (c *badgerCollection) DeleteSource(ctx context.Context, source string) (int, error) {
	c.mu.RLock()
	var ids []string
	for id, r := range c.records {
		if r.Source == source {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()

	if len(ids) == 0 {
		return 0, nil
	}

	err := c.store.Badger().Update(func(tx *badger.Txn) error {
		for _, id := range ids {
			if err := c.store.TxDelete(tx, id, models.VectorRecord{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	for _, id := range ids {
		delete(c.records, id)
	}
	c.mu.Unlock()
	return len(ids), nil
}

func (c *badgerCollection) Close() error {
	return c.store.Close()
}
