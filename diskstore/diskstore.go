// Package diskstore provides the content-addressed body store used by the
// response cache, built on the diskv package. Committed bodies live as
// `<root>/cache/<key>.data`; in-progress writes go to `<root>/temp/<uuid>.data`
// and are atomically imported on commit. File names derive from the cache
// fingerprint and are opaque to callers.
package diskstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/peterbourgon/diskv"

	"github.com/sandrolain/httpclient/cache"
)

const (
	dataExt  = ".data"
	cacheDir = "cache"
	tempDir  = "temp"
)

// Option configures a Store.
type Option func(*Store)

// WithCodec installs a byte codec (e.g. securestore encryption) applied to
// body files at rest. Encoded writes are buffered in memory before commit.
func WithCodec(codec cache.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// Store is a cache.BodyStore over a local directory tree.
type Store struct {
	d     *diskv.Diskv
	temp  string
	codec cache.Codec
}

// New opens (creating if needed) a body store rooted at root.
func New(root string, opts ...Option) (*Store, error) {
	base := filepath.Join(root, cacheDir)
	temp := filepath.Join(root, tempDir)
	for _, dir := range []string{base, temp} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("diskstore: create %s: %w", dir, err)
		}
	}
	s := &Store{
		d: diskv.New(diskv.Options{
			BasePath: base,
			TempDir:  temp,
		}),
		temp: temp,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func filename(key string) string {
	return key + dataExt
}

// Open returns a reader over the committed body for key.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	if s.codec != nil {
		data, err := s.d.Read(filename(key))
		if err != nil {
			return nil, mapReadErr(key, err)
		}
		plain, err := s.codec.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("diskstore: decrypt body for key %q: %w", key, err)
		}
		return io.NopCloser(bytes.NewReader(plain)), nil
	}
	rc, err := s.d.ReadStream(filename(key), false)
	if err != nil {
		return nil, mapReadErr(key, err)
	}
	return rc, nil
}

func mapReadErr(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("diskstore: body for key %q: %w", key, cache.ErrNotFound)
	}
	return fmt.Errorf("diskstore: read body for key %q: %w", key, err)
}

// Create opens a temp body in the temp directory.
func (s *Store) Create() (cache.TempBody, error) {
	if s.codec != nil {
		return &encodedTemp{store: s}, nil
	}
	path := filepath.Join(s.temp, uuid.NewString()+dataExt)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("diskstore: create temp body: %w", err)
	}
	return &fileTemp{store: s, f: f, path: path}, nil
}

// Remove deletes the committed body for key. Missing keys are a no-op.
func (s *Store) Remove(key string) error {
	err := s.d.Erase(filename(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("diskstore: remove body for key %q: %w", key, err)
	}
	return nil
}

// Purge unlinks every committed body.
func (s *Store) Purge() error {
	if err := s.d.EraseAll(); err != nil {
		return fmt.Errorf("diskstore: purge: %w", err)
	}
	if err := os.MkdirAll(s.d.BasePath, 0o700); err != nil {
		return fmt.Errorf("diskstore: recreate cache dir: %w", err)
	}
	return nil
}

// SweepTemp removes leftover in-progress writes from previous runs.
func (s *Store) SweepTemp() error {
	entries, err := os.ReadDir(s.temp)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return os.MkdirAll(s.temp, 0o700)
		}
		return fmt.Errorf("diskstore: sweep temp: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.temp, e.Name())); err != nil {
			return fmt.Errorf("diskstore: sweep temp file %s: %w", e.Name(), err)
		}
	}
	return nil
}

// fileTemp streams straight to a temp file and publishes it with an atomic
// import into the cache directory.
type fileTemp struct {
	store *Store
	f     *os.File
	path  string
	done  bool
}

func (t *fileTemp) Write(p []byte) (int, error) {
	return t.f.Write(p)
}

func (t *fileTemp) Commit(key string) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.f.Close(); err != nil {
		_ = os.Remove(t.path)
		return fmt.Errorf("diskstore: close temp body: %w", err)
	}
	if err := t.store.d.Import(t.path, filename(key), true); err != nil {
		_ = os.Remove(t.path)
		return fmt.Errorf("diskstore: import body for key %q: %w", key, err)
	}
	return nil
}

func (t *fileTemp) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("diskstore: close temp body: %w", err)
	}
	if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("diskstore: remove temp body: %w", err)
	}
	return nil
}

// encodedTemp buffers the body in memory and encrypts it as one message on
// commit. AEAD sealing needs the whole payload, so codec-backed stores
// trade streaming for at-rest encryption.
type encodedTemp struct {
	store *Store
	buf   bytes.Buffer
	done  bool
}

func (t *encodedTemp) Write(p []byte) (int, error) {
	return t.buf.Write(p)
}

func (t *encodedTemp) Commit(key string) error {
	if t.done {
		return nil
	}
	t.done = true
	sealed, err := t.store.codec.Encrypt(t.buf.Bytes())
	if err != nil {
		return fmt.Errorf("diskstore: encrypt body for key %q: %w", key, err)
	}
	if err := t.store.d.WriteStream(filename(key), bytes.NewReader(sealed), true); err != nil {
		return fmt.Errorf("diskstore: write body for key %q: %w", key, err)
	}
	return nil
}

func (t *encodedTemp) Abort() error {
	t.done = true
	t.buf.Reset()
	return nil
}
