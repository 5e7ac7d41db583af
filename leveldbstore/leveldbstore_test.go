package leveldbstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandrolain/httpclient/cache"
	"github.com/sandrolain/httpclient/header"
	"github.com/sandrolain/httpclient/securestore"
	"github.com/sandrolain/httpclient/storetest"
)

func openStore(t *testing.T, dir string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(dir, FileName), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMetadataStoreContract(t *testing.T) {
	storetest.MetadataStore(t, openStore(t, t.TempDir()))
}

func TestMetadataStoreContractEncrypted(t *testing.T) {
	codec, err := securestore.New("passphrase")
	require.NoError(t, err)
	storetest.MetadataStore(t, openStore(t, t.TempDir(), WithCodec(codec)))
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openStore(t, dir)
	h := header.New()
	h.Add("ETag", `"v1"`)
	require.NoError(t, s.Put(ctx, &cache.Metadata{
		Key: "k", URL: "http://h/", Method: "GET", StatusCode: 200,
		ReasonPhrase: "OK", Header: h, BodySize: 3,
	}))
	require.NoError(t, s.Close())

	s2 := openStore(t, dir)
	m, err := s2.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, m.Header.Get("ETag"))
	assert.Equal(t, int64(3), m.BodySize)
}

func TestCorruptedDatabaseRecreatesOnOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openStore(t, dir)
	require.NoError(t, s.Put(ctx, &cache.Metadata{
		Key: "k", URL: "http://h/", Method: "GET", StatusCode: 200,
		ReasonPhrase: "OK", Header: header.New(),
	}))
	require.NoError(t, s.Close())

	// Replace the database files with random garbage.
	dbDir := filepath.Join(dir, FileName)
	entries, err := os.ReadDir(dbDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		require.NoError(t, os.WriteFile(filepath.Join(dbDir, e.Name()), []byte{0xde, 0xad, 0xbe, 0xef}, 0o600))
	}

	healed := openStore(t, dir)
	_, err = healed.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound, "recreated store starts empty")

	require.NoError(t, healed.Put(ctx, &cache.Metadata{
		Key: "k2", URL: "http://h/2", Method: "GET", StatusCode: 200,
		ReasonPhrase: "OK", Header: header.New(),
	}))
	_, err = healed.Get(ctx, "k2")
	assert.NoError(t, err)
}

func TestSchemaMismatchRecreates(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openStore(t, dir)
	require.NoError(t, s.Put(ctx, &cache.Metadata{
		Key: "k", URL: "http://h/", Method: "GET", StatusCode: 200,
		ReasonPhrase: "OK", Header: header.New(),
	}))
	// Fake a future schema version.
	require.NoError(t, s.db.Put([]byte(versionKey), []byte("99"), nil))
	require.NoError(t, s.Close())

	reopened := openStore(t, dir)
	_, err := reopened.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound, "schema mismatch drops the table")
}

func TestResetSurvivesBrokenState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := openStore(t, dir)
	require.NoError(t, s.Put(ctx, &cache.Metadata{
		Key: "k", URL: "http://h/", Method: "GET", StatusCode: 200,
		ReasonPhrase: "OK", Header: header.New(),
	}))

	require.NoError(t, s.Reset(ctx))
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, s.Put(ctx, &cache.Metadata{
		Key: "k", URL: "http://h/", Method: "GET", StatusCode: 200,
		ReasonPhrase: "OK", Header: header.New(),
	}))
	_, err = s.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestUndecodableRecordReadsAsCorruption(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	require.NoError(t, s.db.Put([]byte(metaPrefix+"bad"), []byte("not json"), nil))

	_, err := s.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, cache.ErrCorrupted)
}
