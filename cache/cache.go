package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/coocood/freecache"
)

// DefaultHotLayerBytes is the default capacity of the in-memory hot layer.
const DefaultHotLayerBytes = 8 * 1024 * 1024

// DefaultHotMaxBodyBytes is the largest committed body mirrored into the
// hot layer.
const DefaultHotMaxBodyBytes = 64 * 1024

// Option configures a Cache.
type Option func(*Cache) error

// WithHotLayer sizes the in-memory hot layer holding recently committed
// small bodies. capacityBytes <= 0 disables the layer.
func WithHotLayer(capacityBytes int) Option {
	return func(c *Cache) error {
		if capacityBytes <= 0 {
			c.hot = nil
			return nil
		}
		c.hot = freecache.NewCache(capacityBytes)
		return nil
	}
}

// WithHotMaxBody sets the per-body size ceiling for the hot layer.
func WithHotMaxBody(limitBytes int) Option {
	return func(c *Cache) error {
		if limitBytes < 0 {
			return fmt.Errorf("cache: hot body limit must be >= 0, got %d", limitBytes)
		}
		c.hotMaxBody = limitBytes
		return nil
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) error {
		c.now = now
		return nil
	}
}

// Cache is the response cache: metadata store + body store + LRU byte
// budget. Reads of distinct keys run concurrently; writes are serialized
// per key with a last-writer-wins discipline.
type Cache struct {
	mu         sync.Mutex
	meta       MetadataStore
	bodies     BodyStore
	lru        *lruIndex
	writers    map[string]*BodyTee
	hot        *freecache.Cache
	hotMaxBody int
	maxBytes   int64
	now        func() time.Time
}

// New composes a Cache over the given stores with a byte budget.
// maxBytes <= 0 means unbounded. Leftover temp files are swept and the LRU
// index is rebuilt from the metadata store; detected corruption is healed
// silently.
func New(meta MetadataStore, bodies BodyStore, maxBytes int64, opts ...Option) (*Cache, error) {
	if meta == nil || bodies == nil {
		return nil, fmt.Errorf("cache: metadata and body stores are required")
	}
	c := &Cache{
		meta:       meta,
		bodies:     bodies,
		lru:        newLruIndex(),
		writers:    map[string]*BodyTee{},
		hot:        freecache.NewCache(DefaultHotLayerBytes),
		hotMaxBody: DefaultHotMaxBodyBytes,
		maxBytes:   maxBytes,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := bodies.SweepTemp(); err != nil {
		GetLogger().Warn("cache temp sweep failed", "error", err)
	}
	c.load(context.Background())
	return c, nil
}

// load rebuilds the LRU index from persisted metadata and enforces the
// byte budget in case it shrank between runs.
func (c *Cache) load(ctx context.Context) {
	var entries []*Metadata
	err := c.meta.Enumerate(ctx, func(m *Metadata) bool {
		entries = append(entries, m)
		return true
	})
	if err != nil {
		c.heal(ctx, err)
		return
	}
	c.mu.Lock()
	c.lru.seed(entries)
	c.evictLocked(ctx)
	c.mu.Unlock()
}

// Entry is a cache hit: the metadata record plus a factory for readers
// over the committed body.
type Entry struct {
	Metadata *Metadata
	cache    *Cache
}

// Open returns a one-shot reader over the committed body. Metadata whose
// body file is missing yields an error wrapping ErrBodyMissing, and the
// broken entry is removed so the next lookup misses.
func (e *Entry) Open() (io.ReadCloser, error) {
	key := e.Metadata.Key
	if data, err := e.cache.hotGet(key); err == nil {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	rc, err := e.cache.bodies.Open(key)
	if errors.Is(err, ErrNotFound) {
		GetLogger().Warn("cache metadata without body file, dropping entry", "key", key)
		_ = e.cache.Remove(context.Background(), key)
		return nil, fmt.Errorf("cache: open body for key %q: %w", key, ErrBodyMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: open body for key %q: %w", key, err)
	}
	return rc, nil
}

// Lookup returns the committed entry for key, or nil on a miss. A hit
// refreshes the last-accessed epoch and the LRU position. Store corruption
// heals silently and reads as a miss; other storage failures are returned.
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, error) {
	m, err := c.meta.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if errors.Is(err, ErrCorrupted) {
		c.heal(ctx, err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: lookup %q: %w", key, err)
	}

	nowEpoch := c.now().Unix()
	c.mu.Lock()
	c.lru.touch(key, nowEpoch)
	c.mu.Unlock()
	if err := c.meta.TouchLastAccessed(ctx, key, nowEpoch); err != nil {
		GetLogger().Warn("failed to touch cache entry", "key", key, "error", err)
	}
	m.LastAccessedAtEpoch = nowEpoch
	return &Entry{Metadata: m, cache: c}, nil
}

// Writer opens a body tee for a new entry. The caller streams response
// bytes through the tee and commits it once the body is fully read.
// Opening a writer for a key with an in-progress tee supersedes the old
// tee: the new write wins, the old temp file is discarded, and the prior
// committed entry stays readable until the new commit lands.
func (c *Cache) Writer(ctx context.Context, m *Metadata) (*BodyTee, error) {
	if !Storable(m) {
		return nil, fmt.Errorf("cache: response for key %q is not storable", m.Key)
	}
	tmp, err := c.bodies.Create()
	if err != nil {
		return nil, fmt.Errorf("cache: create temp body for key %q: %w", m.Key, err)
	}
	record := m.Clone()
	nowEpoch := c.now().Unix()
	record.CreatedAtEpoch = nowEpoch
	record.LastAccessedAtEpoch = nowEpoch

	t := &BodyTee{c: c, meta: record, tmp: tmp}
	if c.hot != nil && c.hotMaxBody > 0 {
		t.hotBuf = &bytes.Buffer{}
	}

	c.mu.Lock()
	if prev, ok := c.writers[record.Key]; ok {
		prev.supersede()
	}
	c.writers[record.Key] = t
	c.mu.Unlock()
	return t, nil
}

// UpdateMetadata rewrites the metadata record for an existing entry
// without touching its body. Used after a 304 revalidation to refresh
// headers and timestamps.
func (c *Cache) UpdateMetadata(ctx context.Context, m *Metadata) error {
	existing, err := c.meta.Get(ctx, m.Key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if errors.Is(err, ErrCorrupted) {
		c.heal(ctx, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache: update metadata %q: %w", m.Key, err)
	}
	record := m.Clone()
	record.BodySize = existing.BodySize
	record.CreatedAtEpoch = existing.CreatedAtEpoch
	record.LastAccessedAtEpoch = c.now().Unix()
	if err := c.meta.Put(ctx, record); err != nil {
		return fmt.Errorf("cache: update metadata %q: %w", m.Key, err)
	}
	c.mu.Lock()
	c.lru.touch(record.Key, record.LastAccessedAtEpoch)
	c.mu.Unlock()
	return nil
}

// Remove deletes the metadata record, then the body. Idempotent.
func (c *Cache) Remove(ctx context.Context, key string) error {
	if err := c.meta.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("cache: remove %q: %w", key, err)
	}
	if err := c.bodies.Remove(key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("cache: remove body %q: %w", key, err)
	}
	c.mu.Lock()
	c.lru.remove(key)
	c.mu.Unlock()
	c.hotDel(key)
	return nil
}

// EvictAll truncates the metadata store, unlinks every body file, and
// resets the LRU index and byte counter.
func (c *Cache) EvictAll(ctx context.Context) error {
	if err := c.meta.Purge(ctx); err != nil {
		return fmt.Errorf("cache: evict all: %w", err)
	}
	if err := c.bodies.Purge(); err != nil {
		return fmt.Errorf("cache: evict all bodies: %w", err)
	}
	c.mu.Lock()
	c.lru.reset()
	c.mu.Unlock()
	if c.hot != nil {
		c.hot.Clear()
	}
	return nil
}

// Size returns the total committed body bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.size()
}

// MaxSize returns the configured byte budget, or 0 when unbounded.
func (c *Cache) MaxSize() int64 {
	if c.maxBytes <= 0 {
		return 0
	}
	return c.maxBytes
}

// Close releases the metadata store.
func (c *Cache) Close() error {
	return c.meta.Close()
}

// commit lands a finished tee: body import, metadata upsert, LRU insert,
// budget enforcement, hot layer refresh. Body bytes were written outside
// the cache mutex; only the bookkeeping happens under it.
func (c *Cache) commit(t *BodyTee, tmp TempBody, m *Metadata, hot *bytes.Buffer) error {
	defer c.unregisterWriter(t)

	// A writer that lost the key to a newer tee between its last Write and
	// this commit must not clobber the newer data.
	c.mu.Lock()
	current := c.writers[m.Key] == t
	c.mu.Unlock()
	if !current {
		if err := tmp.Abort(); err != nil {
			GetLogger().Warn("failed to discard superseded temp file", "key", m.Key, "error", err)
		}
		return nil
	}

	ctx := context.Background()
	if err := tmp.Commit(m.Key); err != nil {
		return fmt.Errorf("cache: commit body %q: %w", m.Key, err)
	}
	if err := c.meta.Put(ctx, m); err != nil {
		// Roll the body back so metadata and bodies stay consistent.
		if rmErr := c.bodies.Remove(m.Key); rmErr != nil {
			GetLogger().Warn("failed to roll back body after metadata failure",
				"key", m.Key, "error", rmErr)
		}
		return fmt.Errorf("cache: commit metadata %q: %w", m.Key, err)
	}

	c.mu.Lock()
	c.lru.put(m.Key, m.BodySize, m.CreatedAtEpoch, m.LastAccessedAtEpoch)
	c.evictLocked(ctx)
	survived := c.lru.has(m.Key)
	c.mu.Unlock()

	if survived && hot != nil && hot.Len() == int(m.BodySize) {
		c.hotSet(m.Key, hot.Bytes())
	} else {
		c.hotDel(m.Key)
	}
	return nil
}

// evictLocked removes least-recently-used entries until the byte budget is
// met. Caller holds c.mu.
func (c *Cache) evictLocked(ctx context.Context) {
	if c.maxBytes <= 0 {
		return
	}
	for c.lru.size() > c.maxBytes {
		key, ok := c.lru.victim()
		if !ok {
			return
		}
		c.lru.remove(key)
		if err := c.meta.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			GetLogger().Warn("failed to evict metadata", "key", key, "error", err)
		}
		if err := c.bodies.Remove(key); err != nil && !errors.Is(err, ErrNotFound) {
			GetLogger().Warn("failed to evict body", "key", key, "error", err)
		}
		c.hotDel(key)
		GetLogger().Debug("evicted cache entry", "key", key)
	}
}

func (c *Cache) unregisterWriter(t *BodyTee) {
	c.mu.Lock()
	if cur, ok := c.writers[t.meta.Key]; ok && cur == t {
		delete(c.writers, t.meta.Key)
	}
	c.mu.Unlock()
}

// heal recreates the metadata store and purges bodies after detected
// corruption. Silent to callers: subsequent reads miss, writes succeed.
func (c *Cache) heal(ctx context.Context, cause error) {
	GetLogger().Warn("cache store corrupted, recreating", "error", cause)
	if err := c.meta.Reset(ctx); err != nil {
		GetLogger().Error("cache store recreation failed", "error", err)
	}
	if err := c.bodies.Purge(); err != nil {
		GetLogger().Warn("cache body purge failed during heal", "error", err)
	}
	c.mu.Lock()
	c.lru.reset()
	c.mu.Unlock()
	if c.hot != nil {
		c.hot.Clear()
	}
}

func (c *Cache) hotGet(key string) ([]byte, error) {
	if c.hot == nil {
		return nil, ErrNotFound
	}
	data, err := c.hot.Get([]byte(key))
	if err != nil {
		return nil, ErrNotFound
	}
	return data, nil
}

func (c *Cache) hotSet(key string, data []byte) {
	if c.hot == nil {
		return
	}
	if err := c.hot.Set([]byte(key), data, 0); err != nil {
		GetLogger().Debug("hot layer set failed", "key", key, "error", err)
	}
}

func (c *Cache) hotDel(key string) {
	if c.hot == nil {
		return
	}
	c.hot.Del([]byte(key))
}

// storableStatusCodes are stored unconditionally; other 2xx codes need an
// explicit freshness validator (max-age, s-maxage, or Expires).
var storableStatusCodes = map[int]bool{
	200: true,
	203: true,
	204: true,
	300: true,
	301: true,
	302: true,
	307: true,
	308: true,
	404: true,
	405: true,
	410: true,
	414: true,
	501: true,
}

// Storable applies the cacheability rules to a candidate record: GET only,
// known non-negative body size, no `no-store` directive, and a status code
// in the allowlist or a 2xx carrying an explicit validator. 304 is never
// handed to Writer; it merges into the stored 200 instead.
func Storable(m *Metadata) bool {
	if m.Method != "GET" {
		return false
	}
	if m.BodySize < 0 {
		return false
	}
	if hasNoStore(m) {
		return false
	}
	if storableStatusCodes[m.StatusCode] {
		return true
	}
	if m.StatusCode >= 200 && m.StatusCode < 300 {
		return hasExplicitValidator(m)
	}
	return false
}

func hasNoStore(m *Metadata) bool {
	for _, v := range m.Header.Values("Cache-Control") {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), "no-store") {
				return true
			}
		}
	}
	return false
}

func hasExplicitValidator(m *Metadata) bool {
	if m.Header.Has("Expires") {
		return true
	}
	for _, v := range m.Header.Values("Cache-Control") {
		for _, part := range strings.Split(v, ",") {
			d := strings.ToLower(strings.TrimSpace(part))
			if strings.HasPrefix(d, "max-age") || strings.HasPrefix(d, "s-maxage") {
				return true
			}
		}
	}
	return false
}
