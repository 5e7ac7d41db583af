// Package cache implements the persistent HTTP response cache: a metadata
// store keyed by request fingerprint, a content-addressed body store, and an
// in-memory LRU index enforcing a byte budget. Storage backends are
// pluggable; see the leveldbstore, diskstore, redisstore and pgxstore
// packages for implementations.
package cache

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound reports a missing entry. A miss is not a failure; stores
	// return it so callers can distinguish absence from I/O errors.
	ErrNotFound = errors.New("cache: entry not found")

	// ErrCorrupted reports that a store detected unreadable or inconsistent
	// state. The cache reacts by recreating the store from scratch.
	ErrCorrupted = errors.New("cache: store corrupted")

	// ErrBodyMissing reports metadata whose body file is absent.
	ErrBodyMissing = errors.New("cache: body file missing")
)

// MetadataStore is the durable fingerprint → metadata mapping.
//
// Get returns ErrNotFound for absent keys and wraps ErrCorrupted when the
// underlying storage is unreadable in a way that demands recreation.
type MetadataStore interface {
	Get(ctx context.Context, key string) (*Metadata, error)
	Put(ctx context.Context, m *Metadata) error
	Delete(ctx context.Context, key string) error
	// TouchLastAccessed updates only the last-accessed epoch of key.
	// Touching a missing key is a no-op.
	TouchLastAccessed(ctx context.Context, key string, epoch int64) error
	// Enumerate walks all records. fn returning false stops the walk.
	Enumerate(ctx context.Context, fn func(m *Metadata) bool) error
	// Purge removes every record, keeping the store usable.
	Purge(ctx context.Context) error
	// Reset destroys and recreates the store from scratch. Used for
	// corruption self-healing; must succeed even when the store contents
	// are unreadable.
	Reset(ctx context.Context) error
	Close() error
}

// TempBody is an in-progress body write. Bytes go to a temp location;
// Commit atomically publishes them under key, Abort discards them.
// Exactly one of Commit or Abort must be called.
type TempBody interface {
	io.Writer
	Commit(key string) error
	Abort() error
}

// BodyStore is the content-addressed blob store for response bodies.
type BodyStore interface {
	// Open returns a reader over the committed body for key, or
	// ErrNotFound.
	Open(key string) (io.ReadCloser, error)
	Create() (TempBody, error)
	// Remove deletes the committed body for key. Removing a missing key
	// is a no-op.
	Remove(key string) error
	// Purge removes every committed body.
	Purge() error
	// SweepTemp removes leftover in-progress writes. Called on startup.
	SweepTemp() error
}

// Codec transforms bytes on their way to and from a store. The securestore
// package provides an AES-256-GCM implementation; stores accept a Codec as
// an option.
type Codec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}
