package httpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sandrolain/httpclient/header"
)

func ccHeader(values ...string) *header.Header {
	h := header.New()
	for _, v := range values {
		h.Add("Cache-Control", v)
	}
	return h
}

func TestParseCacheControlDirectives(t *testing.T) {
	cc := ParseCacheControl(ccHeader("no-cache, max-age=3600, must-revalidate"))
	assert.True(t, cc.NoCache())
	assert.True(t, cc.MustRevalidate())
	assert.False(t, cc.NoStore())
	assert.Equal(t, int64(3600), cc.MaxAgeSec())
	assert.Equal(t, int64(-1), cc.SMaxAgeSec())
}

func TestParseCacheControlMultipleFields(t *testing.T) {
	cc := ParseCacheControl(ccHeader("no-store", "max-age=10"))
	assert.True(t, cc.NoStore())
	assert.Equal(t, int64(10), cc.MaxAgeSec())
}

func TestParseCacheControlQuotedAndSpaced(t *testing.T) {
	cc := ParseCacheControl(ccHeader(` max-age = "60" , private `))
	assert.Equal(t, int64(60), cc.MaxAgeSec())
	assert.True(t, cc.Private())
}

func TestParseCacheControlDuplicateKeepsFirst(t *testing.T) {
	cc := ParseCacheControl(ccHeader("max-age=10, max-age=99"))
	assert.Equal(t, int64(10), cc.MaxAgeSec())
}

func TestParseCacheControlInvalidValues(t *testing.T) {
	cc := ParseCacheControl(ccHeader("max-age=abc, min-fresh=-5"))
	assert.Equal(t, int64(-1), cc.MaxAgeSec(), "non-numeric value reads as absent")
	assert.Equal(t, int64(0), cc.MinFreshSec(), "negative value clamps to zero")
}

func TestParseCacheControlMaxStaleForms(t *testing.T) {
	valueless := ParseCacheControl(ccHeader("max-stale"))
	assert.True(t, valueless.MaxStale())
	assert.Equal(t, int64(-1), valueless.MaxStaleSec())

	valued := ParseCacheControl(ccHeader("max-stale=30"))
	assert.True(t, valued.MaxStale())
	assert.Equal(t, int64(30), valued.MaxStaleSec())
}

func TestParseCacheControlEmpty(t *testing.T) {
	cc := ParseCacheControl(header.New())
	assert.False(t, cc.NoCache())
	assert.Equal(t, int64(-1), cc.MaxAgeSec())

	cc = ParseCacheControl(nil)
	assert.Equal(t, int64(-1), cc.MaxAgeSec())
}

func TestCacheControlBuilderRendersHeaderValue(t *testing.T) {
	cc := NewCacheControlBuilder().
		NoCache().
		MaxAgeSec(120).
		MinFreshSec(5).
		Build()
	assert.Equal(t, "no-cache, max-age=120, min-fresh=5", cc.headerValue())

	onlyCached := NewCacheControlBuilder().OnlyIfCached().MaxStale().Build()
	assert.Equal(t, "only-if-cached, max-stale", onlyCached.headerValue())
}

func TestCacheControlBuilderClampsNegatives(t *testing.T) {
	cc := NewCacheControlBuilder().MaxAgeSec(-1).MaxStaleSec(-7).Build()
	assert.Equal(t, int64(0), cc.MaxAgeSec())
	assert.Equal(t, int64(0), cc.MaxStaleSec())
}

func TestRequestBuilderInstallsCacheControlHeader(t *testing.T) {
	req, err := NewRequestBuilder("http://example.com/a").
		WithCacheControl(NewCacheControlBuilder().NoCache().Build()).
		Build()
	assert.NoError(t, err)
	assert.Equal(t, "no-cache", req.Header().Get("Cache-Control"))
	assert.True(t, req.CacheControl().NoCache())
}
