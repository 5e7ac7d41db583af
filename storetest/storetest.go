// Package storetest exercises cache.MetadataStore implementations. Backend
// packages call MetadataStore from their own tests so every implementation
// honors the same contract.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandrolain/httpclient/cache"
	"github.com/sandrolain/httpclient/header"
)

func record(key string, lastAccessed int64) *cache.Metadata {
	h := header.New()
	h.Add("Content-Type", "text/plain")
	h.Add("Cache-Control", "max-age=3600")
	return &cache.Metadata{
		Key:                     key,
		URL:                     "http://example.com/" + key,
		Method:                  "GET",
		StatusCode:              200,
		ReasonPhrase:            "OK",
		Header:                  h,
		BodySize:                15,
		SentRequestAtEpoch:      1700000000,
		ReceivedResponseAtEpoch: 1700000001,
		CreatedAtEpoch:          1700000001,
		LastAccessedAtEpoch:     lastAccessed,
	}
}

// MetadataStore exercises a cache.MetadataStore implementation.
func MetadataStore(t *testing.T, store cache.MetadataStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "absent")
	require.ErrorIs(t, err, cache.ErrNotFound, "get before put must miss")

	m := record("k1", 1700000001)
	require.NoError(t, store.Put(ctx, m))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, m.URL, got.URL)
	require.Equal(t, m.StatusCode, got.StatusCode)
	require.Equal(t, m.BodySize, got.BodySize)
	require.Equal(t, "text/plain", got.Header.Get("Content-Type"))

	// Upsert replaces the record.
	m2 := record("k1", 1700000050)
	m2.BodySize = 42
	require.NoError(t, store.Put(ctx, m2))
	got, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, int64(42), got.BodySize)

	// Touch updates only the last-accessed epoch.
	require.NoError(t, store.TouchLastAccessed(ctx, "k1", 1700000099))
	got, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, int64(1700000099), got.LastAccessedAtEpoch)
	require.Equal(t, int64(42), got.BodySize)

	// Touching an absent key is a no-op.
	require.NoError(t, store.TouchLastAccessed(ctx, "absent", 1))

	require.NoError(t, store.Put(ctx, record("k2", 1700000002)))
	seen := map[string]bool{}
	require.NoError(t, store.Enumerate(ctx, func(m *cache.Metadata) bool {
		seen[m.Key] = true
		return true
	}))
	require.True(t, seen["k1"])
	require.True(t, seen["k2"])

	// Delete is idempotent.
	require.NoError(t, store.Delete(ctx, "k1"))
	require.NoError(t, store.Delete(ctx, "k1"))
	_, err = store.Get(ctx, "k1")
	require.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, store.Purge(ctx))
	count := 0
	require.NoError(t, store.Enumerate(ctx, func(*cache.Metadata) bool {
		count++
		return true
	}))
	require.Zero(t, count, "purge must leave no records")

	// The store stays usable after purge.
	require.NoError(t, store.Put(ctx, record("k3", 1700000003)))
	_, err = store.Get(ctx, "k3")
	require.NoError(t, err)
}
