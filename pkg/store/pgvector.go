package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/ternarybob/arbor"

	"github.com/xhad/askdocs/internal/models"
	"github.com/xhad/askdocs/internal/types"
)

type PgConfig struct {
	ConnString  string
	TablePrefix string
}

var tablePrefixPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,31}$`)

// PgBackend keeps one table per store. A store exists exactly when its table
// does; the table is created together with its first batch of records.
//
// Table names are the prefix plus a hash of the store name. Store names
// differing only in '-' and '_' would otherwise collide, and Postgres
// truncates identifiers past 63 bytes.
type PgBackend struct {
	config PgConfig
	pool   *pgxpool.Pool
	logger arbor.ILogger
}

func NewPgBackend(ctx context.Context, config PgConfig, logger arbor.ILogger) (*PgBackend, error) {
	if config.TablePrefix == "" {
		config.TablePrefix = "askdocs"
	}
	if !tablePrefixPattern.MatchString(config.TablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q: use up to 32 lowercase letters, digits or '_'", config.TablePrefix)
	}
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Enable pgvector extension
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	return &PgBackend{config: config, pool: pool, logger: logger}, nil
}

func (b *PgBackend) table(name string) string {
	return tableName(b.config.TablePrefix, name)
}

func tableName(prefix, store string) string {
	sum := sha1.Sum([]byte(store))
	return prefix + "_" + hex.EncodeToString(sum[:8])
}

func (b *PgBackend) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	ident := pgx.Identifier{b.table(name)}.Sanitize()
	if err := b.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", ident).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check table: %w", err)
	}
	return exists, nil
}

func (b *PgBackend) Open(ctx context.Context, name string, create bool) (types.Collection, error) {
	if !create {
		exists, err := b.Exists(ctx, name)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, models.ErrStoreNotFound
		}
	}
	return &pgCollection{
		pool:  b.pool,
		table: b.table(name),
	}, nil
}

func (b *PgBackend) Drop(ctx context.Context, name string) error {
	ident := pgx.Identifier{b.table(name)}.Sanitize()
	if _, err := b.pool.Exec(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	return nil
}

func (b *PgBackend) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

type pgCollection struct {
	pool  *pgxpool.Pool
	table string
}

func (c *pgCollection) ident() string {
	return pgx.Identifier{c.table}.Sanitize()
}

func (c *pgCollection) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			source TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			content TEXT NOT NULL,
			tenant_id TEXT,
			document_type TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			embedding vector(%d)
		)`, c.ident(), len(records[0].Vector))
	if _, err := tx.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// hnsw builds incrementally, so it can be created on the empty table
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		pgx.Identifier{c.table + "_hnsw"}.Sanitize(), c.ident())
	if _, err := tx.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, source, chunk_index, total_chunks, content, tenant_id, document_type, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			total_chunks = EXCLUDED.total_chunks,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`,
		c.ident())

	for _, r := range records {
		_, err := tx.Exec(ctx, stmt,
			r.ID,
			r.DocumentID,
			sanitizeUTF8(r.Source),
			r.Index,
			r.TotalChunks,
			sanitizeUTF8(r.Text),
			r.TenantID,
			r.DocumentType,
			r.CreatedAt,
			pgvector.NewVector(r.Vector),
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.ID, err)
		}
	}

	// a re-uploaded document may have fewer chunks than before
	prune := fmt.Sprintf("DELETE FROM %s WHERE document_id = $1 AND NOT (id = ANY($2))", c.ident())
	for docID, ids := range idsByDocument(records) {
		if _, err := tx.Exec(ctx, prune, docID, ids); err != nil {
			return fmt.Errorf("failed to prune stale chunks of %s: %w", docID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (c *pgCollection) Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error) {
	query := fmt.Sprintf(`
		SELECT id, document_id, source, chunk_index, total_chunks, content, tenant_id, document_type, created_at,
			1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, chunk_index, id
		LIMIT $2`,
		c.ident())

	rows, err := c.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, c.missing(fmt.Errorf("failed to query records: %w", err))
	}
	defer rows.Close()

	var hits []models.SearchHit
	for rows.Next() {
		var hit models.SearchHit
		if err := scanRecord(rows, &hit.Record, &hit.Score); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(hits, k), nil
}

func (c *pgCollection) Records(ctx context.Context) ([]models.VectorRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, document_id, source, chunk_index, total_chunks, content, tenant_id, document_type, created_at
		FROM %s
		ORDER BY source, chunk_index`,
		c.ident())

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, c.missing(fmt.Errorf("failed to list records: %w", err))
	}
	defer rows.Close()

	var records []models.VectorRecord
	for rows.Next() {
		var r models.VectorRecord
		if err := scanRecord(rows, &r); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (c *pgCollection) DeleteSource(ctx context.Context, source string) (int, error) {
	tag, err := c.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE source = $1", c.ident()), source)
	if err != nil {
		return 0, c.missing(fmt.Errorf("failed to delete records: %w", err))
	}
	return int(tag.RowsAffected()), nil
}

func (c *pgCollection) Close() error {
	return nil
}

// missing maps an undefined-table error to ErrStoreNotFound. A collection
// opened for writing has no table until its first upsert.
func (c *pgCollection) missing(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return models.ErrStoreNotFound
	}
	return err
}

func scanRecord(rows pgx.Rows, r *models.VectorRecord, extra ...interface{}) error {
	var tenantID, docType *string
	dest := []interface{}{&r.ID, &r.DocumentID, &r.Source, &r.Index, &r.TotalChunks, &r.Text, &tenantID, &docType, &r.CreatedAt}
	dest = append(dest, extra...)
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("failed to scan row: %w", err)
	}
	if tenantID != nil {
		r.TenantID = *tenantID
	}
	if docType != nil {
		r.DocumentType = *docType
	}
	return nil
}

// sanitizeUTF8 drops invalid byte sequences and NULs, which Postgres rejects
// in TEXT columns.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == 0 {
			continue
		}
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
