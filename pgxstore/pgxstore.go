// Package pgxstore provides a PostgreSQL-backed cache metadata store. The
// row layout mirrors the schema-version-1 metadata columns, which makes the
// table inspectable with plain SQL. Like redisstore, this is an opt-in
// alternate to the default on-disk leveldbstore; bodies stay local.
package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandrolain/httpclient/cache"
	"github.com/sandrolain/httpclient/header"
)

// DefaultTableName is the default table for metadata rows.
const DefaultTableName = "httpclient_cache_metadata"

// Config holds the configuration for the PostgreSQL metadata store.
type Config struct {
	// TableName is the metadata table name (default: DefaultTableName).
	TableName string
	// Timeout bounds database operations when the caller context has no
	// deadline (default: 5s).
	Timeout time.Duration
}

// Store is a cache.MetadataStore over a pgx connection pool.
type Store struct {
	pool    *pgxpool.Pool
	table   string
	timeout time.Duration
}

// New wraps the given pool and ensures the metadata table exists.
func New(ctx context.Context, pool *pgxpool.Pool, cfg *Config) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgxstore: pool cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	s := &Store{pool: pool, table: cfg.TableName, timeout: cfg.Timeout}
	if s.table == "" {
		s.table = DefaultTableName
	}
	if s.timeout == 0 {
		s.timeout = 5 * time.Second
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect opens a pool for dsn and returns a ready store.
func Connect(ctx context.Context, dsn string, cfg *Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxstore: connect: %w", err)
	}
	s, err := New(ctx, pool, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			key TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			status INTEGER NOT NULL,
			reason TEXT NOT NULL,
			headers TEXT NOT NULL,
			body_size BIGINT NOT NULL,
			sent_request_at_epoch BIGINT NOT NULL,
			received_response_at_epoch BIGINT NOT NULL,
			created_at_epoch BIGINT NOT NULL,
			last_accessed_at_epoch BIGINT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("pgxstore: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Get returns the metadata record for key.
func (s *Store) Get(ctx context.Context, key string) (*cache.Metadata, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	row := s.pool.QueryRow(ctx, `
		SELECT key, url, method, status, reason, headers, body_size,
		       sent_request_at_epoch, received_response_at_epoch,
		       created_at_epoch, last_accessed_at_epoch
		FROM `+s.table+` WHERE key = $1`, key)
	m, err := scanMetadata(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgxstore: get %q: %w", key, err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (*cache.Metadata, error) {
	var m cache.Metadata
	var headersJSON []byte
	if err := row.Scan(&m.Key, &m.URL, &m.Method, &m.StatusCode, &m.ReasonPhrase,
		&headersJSON, &m.BodySize, &m.SentRequestAtEpoch, &m.ReceivedResponseAtEpoch,
		&m.CreatedAtEpoch, &m.LastAccessedAtEpoch); err != nil {
		return nil, err
	}
	h := header.New()
	if err := h.UnmarshalJSON(headersJSON); err != nil {
		return nil, fmt.Errorf("%v: %w", err, cache.ErrCorrupted)
	}
	m.Header = h
	return &m, nil
}

// Put upserts the metadata record.
func (s *Store) Put(ctx context.Context, m *cache.Metadata) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	headersJSON, err := m.Header.MarshalJSON()
	if err != nil {
		return fmt.Errorf("pgxstore: encode headers for %q: %w", m.Key, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (key, url, method, status, reason, headers,
			body_size, sent_request_at_epoch, received_response_at_epoch,
			created_at_epoch, last_accessed_at_epoch)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (key) DO UPDATE SET
			url = $2, method = $3, status = $4, reason = $5, headers = $6,
			body_size = $7, sent_request_at_epoch = $8,
			received_response_at_epoch = $9, created_at_epoch = $10,
			last_accessed_at_epoch = $11`,
		m.Key, m.URL, m.Method, m.StatusCode, m.ReasonPhrase, headersJSON,
		m.BodySize, m.SentRequestAtEpoch, m.ReceivedResponseAtEpoch,
		m.CreatedAtEpoch, m.LastAccessedAtEpoch)
	if err != nil {
		return fmt.Errorf("pgxstore: put %q: %w", m.Key, err)
	}
	return nil
}

// Delete removes the record for key. Missing keys are a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE key = $1`, key); err != nil {
		return fmt.Errorf("pgxstore: delete %q: %w", key, err)
	}
	return nil
}

// TouchLastAccessed updates the last-accessed epoch of key.
func (s *Store) TouchLastAccessed(ctx context.Context, key string, epoch int64) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.table+` SET last_accessed_at_epoch = $2 WHERE key = $1`, key, epoch)
	if err != nil {
		return fmt.Errorf("pgxstore: touch %q: %w", key, err)
	}
	return nil
}

// Enumerate walks every record.
func (s *Store) Enumerate(ctx context.Context, fn func(m *cache.Metadata) bool) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
		SELECT key, url, method, status, reason, headers, body_size,
		       sent_request_at_epoch, received_response_at_epoch,
		       created_at_epoch, last_accessed_at_epoch
		FROM `+s.table)
	if err != nil {
		return fmt.Errorf("pgxstore: enumerate: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return fmt.Errorf("pgxstore: enumerate scan: %w", err)
		}
		if !fn(m) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("pgxstore: enumerate: %w", err)
	}
	return nil
}

// Purge removes every record.
func (s *Store) Purge(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table); err != nil {
		return fmt.Errorf("pgxstore: purge: %w", err)
	}
	return nil
}

// Reset drops and recreates the table.
func (s *Store) Reset(ctx context.Context) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if _, err := s.pool.Exec(opCtx, `DROP TABLE IF EXISTS `+s.table); err != nil {
		return fmt.Errorf("pgxstore: reset: %w", err)
	}
	return s.ensureSchema(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
