// Package leveldbstore provides the default on-disk cache metadata store,
// backed by github.com/syndtr/goleveldb/leveldb at
// `<cachePath>/cache_metadata.db`.
//
// The store is schema-versioned: a version marker is written on creation
// and checked on every open. A version mismatch or corrupted database is
// recreated from scratch, so a broken cache degrades to empty instead of
// failing.
package leveldbstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/sandrolain/httpclient/cache"
)

const (
	// FileName is the metadata database name under the cache root.
	FileName = "cache_metadata.db"

	metaPrefix = "m:"
	versionKey = "schema:version"
)

// Option configures a Store.
type Option func(*Store)

// WithCodec installs a byte codec (e.g. securestore encryption) applied to
// metadata records at rest.
func WithCodec(codec cache.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// Store is a cache.MetadataStore over a local leveldb database.
type Store struct {
	mu    sync.Mutex
	db    *leveldb.DB
	path  string
	codec cache.Codec
}

// Open opens (creating if needed) the metadata store at path. Corrupted
// databases are first recovered and, failing that, wiped and recreated.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	db, err := openOrRecreate(path)
	if err != nil {
		return nil, err
	}
	s.db = db
	if err := s.checkSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func openOrRecreate(path string) (*leveldb.DB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err == nil {
		return db, nil
	}
	if ldberrors.IsCorrupted(err) {
		cache.GetLogger().Warn("metadata store corrupted, attempting recovery", "path", path, "error", err)
		if db, rerr := leveldb.RecoverFile(path, nil); rerr == nil {
			return db, nil
		}
	}
	// Last resort: wipe and start empty. A lost cache is recoverable; a
	// client that cannot start is not.
	cache.GetLogger().Warn("metadata store unrecoverable, recreating", "path", path, "error", err)
	if rmErr := os.RemoveAll(path); rmErr != nil {
		return nil, fmt.Errorf("leveldbstore: remove broken store at %s: %w", path, rmErr)
	}
	db, err = leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldbstore: recreate store at %s: %w", path, err)
	}
	return db, nil
}

// checkSchema validates the version marker, recreating the store on
// mismatch (the upgrade path drops and recreates the table).
func (s *Store) checkSchema() error {
	raw, err := s.db.Get([]byte(versionKey), nil)
	if err == leveldb.ErrNotFound {
		return s.writeSchemaVersion()
	}
	if err != nil {
		return fmt.Errorf("leveldbstore: read schema version: %w", err)
	}
	v, convErr := strconv.Atoi(string(raw))
	if convErr == nil && v == cache.SchemaVersion {
		return nil
	}
	cache.GetLogger().Warn("metadata store schema mismatch, recreating",
		"found", string(raw), "want", cache.SchemaVersion)
	return s.recreate()
}

func (s *Store) writeSchemaVersion() error {
	if err := s.db.Put([]byte(versionKey), []byte(strconv.Itoa(cache.SchemaVersion)), nil); err != nil {
		return fmt.Errorf("leveldbstore: write schema version: %w", err)
	}
	return nil
}

func metaKey(key string) []byte {
	return []byte(metaPrefix + key)
}

// Get returns the metadata record for key.
func (s *Store) Get(_ context.Context, key string) (*cache.Metadata, error) {
	data, err := s.db.Get(metaKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		if ldberrors.IsCorrupted(err) {
			return nil, fmt.Errorf("leveldbstore: get %q: %v: %w", key, err, cache.ErrCorrupted)
		}
		return nil, fmt.Errorf("leveldbstore: get %q: %w", key, err)
	}
	if s.codec != nil {
		data, err = s.codec.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("leveldbstore: decrypt %q: %v: %w", key, err, cache.ErrCorrupted)
		}
	}
	return cache.DecodeMetadata(data)
}

// Put upserts the metadata record.
func (s *Store) Put(_ context.Context, m *cache.Metadata) error {
	data, err := cache.EncodeMetadata(m)
	if err != nil {
		return err
	}
	if s.codec != nil {
		data, err = s.codec.Encrypt(data)
		if err != nil {
			return fmt.Errorf("leveldbstore: encrypt %q: %w", m.Key, err)
		}
	}
	if err := s.db.Put(metaKey(m.Key), data, nil); err != nil {
		return fmt.Errorf("leveldbstore: put %q: %w", m.Key, err)
	}
	return nil
}

// Delete removes the record for key. Missing keys are a no-op.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.db.Delete(metaKey(key), nil); err != nil && err != leveldb.ErrNotFound {
		return fmt.Errorf("leveldbstore: delete %q: %w", key, err)
	}
	return nil
}

// TouchLastAccessed updates the last-accessed epoch of key.
func (s *Store) TouchLastAccessed(ctx context.Context, key string, epoch int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.Get(ctx, key)
	if err == cache.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	m.LastAccessedAtEpoch = epoch
	return s.Put(ctx, m)
}

// Enumerate walks every record.
func (s *Store) Enumerate(_ context.Context, fn func(m *cache.Metadata) bool) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(metaPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		data := iter.Value()
		if s.codec != nil {
			plain, err := s.codec.Decrypt(data)
			if err != nil {
				return fmt.Errorf("leveldbstore: enumerate decrypt: %v: %w", err, cache.ErrCorrupted)
			}
			data = plain
		}
		m, err := cache.DecodeMetadata(data)
		if err != nil {
			return err
		}
		if !fn(m) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		if ldberrors.IsCorrupted(err) {
			return fmt.Errorf("leveldbstore: enumerate: %v: %w", err, cache.ErrCorrupted)
		}
		return fmt.Errorf("leveldbstore: enumerate: %w", err)
	}
	return nil
}

// Purge removes every record, keeping the schema marker.
func (s *Store) Purge(_ context.Context) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(metaPrefix)), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("leveldbstore: purge scan: %w", err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldbstore: purge: %w", err)
	}
	return nil
}

// Reset destroys the database files and recreates an empty store. Succeeds
// even when the current contents are unreadable.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			cache.GetLogger().Warn("failed to close metadata store before reset", "error", err)
		}
	}
	return s.recreateLocked()
}

func (s *Store) recreate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		cache.GetLogger().Warn("failed to close metadata store before recreate", "error", err)
	}
	return s.recreateLocked()
}

func (s *Store) recreateLocked() error {
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("leveldbstore: remove store at %s: %w", s.path, err)
	}
	db, err := leveldb.OpenFile(s.path, nil)
	if err != nil {
		return fmt.Errorf("leveldbstore: recreate store at %s: %w", s.path, err)
	}
	s.db = db
	return s.writeSchemaVersion()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
