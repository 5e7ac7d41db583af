package httpclient

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildClient(t *testing.T, configure func(*Builder)) *Client {
	t.Helper()
	b := NewBuilder()
	if configure != nil {
		configure(b)
	}
	client, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(client.InvalidateAndCancel)
	return client
}

func cachingClient(t *testing.T, maxBytes int64) *Client {
	t.Helper()
	respCache, err := NewDiskCache(t.TempDir(), maxBytes)
	require.NoError(t, err)
	return buildClient(t, func(b *Builder) {
		b.WithCache(respCache)
	})
}

func mustGet(t *testing.T, client *Client, url string, cc *CacheControl) *Response {
	t.Helper()
	b := NewRequestBuilder(url)
	if cc != nil {
		b.WithCacheControl(cc)
	}
	req, err := b.Build()
	require.NoError(t, err)
	resp, err := client.NewCall(req).Execute()
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *Response) string {
	t.Helper()
	require.True(t, resp.HasBody())
	body, err := resp.Body().String()
	require.NoError(t, err)
	return body
}

// A plain GET with no cache configured.
func TestExecuteSimpleGet(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/p", r.URL.Path)
		assert.Equal(t, "a=10&b=20", r.URL.RawQuery)
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", "15")
		_, _ = w.Write([]byte("response data 1"))
	}))
	defer server.Close()

	client := buildClient(t, nil)
	resp := mustGet(t, client, server.URL+"/p?a=10&b=20", nil)

	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "OK", resp.ReasonPhrase())
	assert.Equal(t, "HTTP/1.1", resp.Protocol())
	assert.Equal(t, int64(15), resp.Body().Length())
	assert.Equal(t, "response data 1", readBody(t, resp))
	assert.NotNil(t, resp.NetworkResponse())
	assert.Nil(t, resp.CacheResponse())
	assert.False(t, resp.SentRequestAt().IsZero())
	assert.False(t, resp.ReceivedResponseAt().After(time.Now()))
	assert.Equal(t, int32(1), hits.Load())

	// Fully consumed body returns the connection to the pool as Idle.
	assert.Equal(t, 1, client.ConnectionPool().IdleCount())
}

func TestConnectionReuseAcrossSequentialCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := buildClient(t, nil)
	for i := 0; i < 3; i++ {
		resp := mustGet(t, client, server.URL+"/", nil)
		assert.Equal(t, "ok", readBody(t, resp))
	}
	assert.Equal(t, 1, client.ConnectionPool().Size(), "sequential calls share one connection")
}

func TestConnectionCloseHeaderPreventsReuse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		_, _ = w.Write([]byte("bye"))
	}))
	defer server.Close()

	client := buildClient(t, nil)
	resp := mustGet(t, client, server.URL+"/", nil)
	assert.Equal(t, "bye", readBody(t, resp))
	assert.Equal(t, 0, client.ConnectionPool().Size())
}

func TestGetStoresAndServesFromCache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=3600")
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("response data 1"))
	}))
	defer server.Close()

	client := cachingClient(t, 0)
	first := mustGet(t, client, server.URL+"/p?a=10&b=20", nil)
	assert.Equal(t, "response data 1", readBody(t, first))

	second := mustGet(t, client, server.URL+"/p?a=10&b=20", nil)
	assert.Equal(t, "response data 1", readBody(t, second))
	assert.Equal(t, int32(1), hits.Load(), "second GET must be served from cache")
	assert.NotNil(t, second.CacheResponse())
	assert.Nil(t, second.NetworkResponse())
	assert.Equal(t, int64(len("response data 1")), client.Cache().Size())
}

// A stale entry revalidates via If-Modified-Since and merges the 304.
func TestRevalidationMergesStoredResponse(t *testing.T) {
	const lastModified = "Mon, 25 Jul 2016 10:13:43 GMT"
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-Modified-Since") == lastModified {
			w.Header().Set("X-Revalidated", "1")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Cache-Control", "max-age=3600")
		w.Header().Set("Last-Modified", lastModified)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("response data 1"))
	}))
	defer server.Close()

	client := cachingClient(t, 0)
	first := mustGet(t, client, server.URL+"/p?a=10&b=20", nil)
	assert.Equal(t, "response data 1", readBody(t, first))

	second := mustGet(t, client, server.URL+"/p?a=10&b=20",
		NewCacheControlBuilder().NoCache().Build())

	assert.Equal(t, 200, second.StatusCode())
	assert.Equal(t, "response data 1", readBody(t, second))
	require.NotNil(t, second.NetworkResponse())
	assert.Equal(t, 304, second.NetworkResponse().StatusCode())
	assert.NotNil(t, second.CacheResponse())
	assert.Equal(t, "1", second.Header().Get("X-Revalidated"), "304 end-to-end headers overlay the stored ones")
	assert.Equal(t, int32(2), hits.Load())
}

// A successful POST invalidates the stored entry for the same URL.
func TestPostInvalidatesCachedEntry(t *testing.T) {
	var getHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			getHits.Add(1)
			w.Header().Set("Cache-Control", "max-age=3600")
		}
		_, _ = w.Write([]byte("data for " + r.Method))
	}))
	defer server.Close()

	client := cachingClient(t, 0)
	url := server.URL + "/p?a=1"

	mustReadGet := func() {
		resp := mustGet(t, client, url, nil)
		assert.Equal(t, "data for GET", readBody(t, resp))
	}
	mustReadGet()
	require.Equal(t, int32(1), getHits.Load())
	require.Positive(t, client.Cache().Size())

	postReq, err := NewRequestBuilder(url).
		Post(NewRequestBodyString("text/plain", "payload")).
		Build()
	require.NoError(t, err)
	postResp, err := client.NewCall(postReq).Execute()
	require.NoError(t, err)
	assert.Equal(t, 200, postResp.StatusCode())
	_ = postResp.Body().Close()

	assert.Equal(t, int64(0), client.Cache().Size(), "cache entry must be gone after POST")

	mustReadGet()
	assert.Equal(t, int32(2), getHits.Load(), "GET after POST must hit the network")
}

// LRU eviction under a 300-byte budget with 100-byte bodies.
func TestLruEvictionAcrossRequests(t *testing.T) {
	body := strings.Repeat("d", 100)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=3600")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := cachingClient(t, 300)
	get := func(n int) {
		resp := mustGet(t, client, server.URL+"/p?test="+strconv.Itoa(n), nil)
		assert.Equal(t, body, readBody(t, resp))
	}
	get(1)
	get(2)
	get(3)
	// Refresh test=1 to most-recently-used, then overflow the budget.
	get(1)
	require.Equal(t, int32(3), hits.Load())
	get(4)
	require.Equal(t, int32(4), hits.Load())
	assert.Equal(t, int64(300), client.Cache().Size())

	// test=2 was evicted; test=1 survived its refresh.
	get(1)
	assert.Equal(t, int32(4), hits.Load(), "test=1 must still come from cache")
	get(2)
	assert.Equal(t, int32(5), hits.Load(), "test=2 must have been evicted")
}

// A redirect chain links the hops via PriorResponse.
func TestRedirectChain(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("response data 1"))
	}))
	defer target.Close()

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", target.URL+"/p?a=10&b=20")
		w.WriteHeader(http.StatusTemporaryRedirect)
		_, _ = w.Write([]byte("redirect data 1"))
	}))
	defer source.Close()

	client := buildClient(t, nil)
	resp := mustGet(t, client, source.URL+"/first", nil)

	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "response data 1", readBody(t, resp))
	require.NotNil(t, resp.PriorResponse())
	assert.Equal(t, 307, resp.PriorResponse().StatusCode())
	assert.Equal(t, source.URL+"/first", resp.PriorResponse().Request().URLString())
	assert.Nil(t, resp.PriorResponse().Body(), "prior responses are body-stripped")
}

func TestRelativeRedirectLocation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/end")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("arrived"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := buildClient(t, nil)
	resp := mustGet(t, client, server.URL+"/start", nil)
	assert.Equal(t, "arrived", readBody(t, resp))
	assert.Equal(t, server.URL+"/end", resp.Request().URLString())
}

// A redirect loop fails after exactly six network attempts.
func TestRedirectLoopCapsAtSixAttempts(t *testing.T) {
	var hits atomic.Int32
	var serverURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Location", serverURL+"/loop")
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))
	defer server.Close()
	serverURL = server.URL

	client := buildClient(t, nil)
	req, err := NewRequestBuilder(server.URL + "/loop").Build()
	require.NoError(t, err)
	_, err = client.NewCall(req).Execute()
	require.Error(t, err)
	assert.Equal(t, KindExecution, KindOf(err))
	assert.Equal(t, int32(6), hits.Load())
}

func TestRedirectNotFollowedForPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/elsewhere")
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))
	defer server.Close()

	client := buildClient(t, nil)
	req, err := NewRequestBuilder(server.URL + "/p").
		Post(NewRequestBodyString("text/plain", "x")).
		Build()
	require.NoError(t, err)
	resp, err := client.NewCall(req).Execute()
	require.NoError(t, err)
	assert.Equal(t, 307, resp.StatusCode(), "POST redirects are delivered, not followed")
	_ = resp.Body().Close()
}

func TestCrossSchemeRedirectNotFollowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://example.com/secure")
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer server.Close()

	client := buildClient(t, nil)
	resp := mustGet(t, client, server.URL+"/p", nil)
	assert.Equal(t, 301, resp.StatusCode())
	_ = resp.Body().Close()
}

func TestOnlyIfCachedMissSynthesizes504(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client := cachingClient(t, 0)
	resp := mustGet(t, client, server.URL+"/p",
		NewCacheControlBuilder().OnlyIfCached().Build())

	assert.Equal(t, 504, resp.StatusCode())
	assert.Equal(t, "Unsatisfiable Request", resp.ReasonPhrase())
	assert.Equal(t, "", readBody(t, resp))
	assert.Equal(t, int32(0), hits.Load(), "only-if-cached must not touch the network")
}

func TestZeroLengthBodyIsCachedAndServed(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=3600")
		w.Header().Set("Content-Length", "0")
	}))
	defer server.Close()

	client := cachingClient(t, 0)
	first := mustGet(t, client, server.URL+"/empty", nil)
	assert.Equal(t, "", readBody(t, first))

	second := mustGet(t, client, server.URL+"/empty", nil)
	assert.Equal(t, "", readBody(t, second))
	assert.NotNil(t, second.CacheResponse())
	assert.Equal(t, int32(1), hits.Load())
}

func TestUnknownLengthResponseNotCached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=3600")
		// Flushing mid-body forces chunked transfer with no declared
		// length.
		_, _ = w.Write([]byte("part one "))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("part two"))
	}))
	defer server.Close()

	client := cachingClient(t, 0)
	first := mustGet(t, client, server.URL+"/chunked", nil)
	assert.Equal(t, "part one part two", readBody(t, first))

	second := mustGet(t, client, server.URL+"/chunked", nil)
	assert.Equal(t, "part one part two", readBody(t, second))
	assert.Equal(t, int32(2), hits.Load(), "unknown-length responses are never cached")
	assert.Equal(t, int64(0), client.Cache().Size())
}

func TestNoStoreResponseNotCached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte("sensitive"))
	}))
	defer server.Close()

	client := cachingClient(t, 0)
	_ = readBody(t, mustGet(t, client, server.URL+"/p", nil))
	_ = readBody(t, mustGet(t, client, server.URL+"/p", nil))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int64(0), client.Cache().Size())
}

func TestDoubleExecuteIsIllegalState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("once"))
	}))
	defer server.Close()

	client := buildClient(t, nil)
	req, err := NewRequestBuilder(server.URL + "/").Build()
	require.NoError(t, err)
	call := client.NewCall(req)

	resp, err := call.Execute()
	require.NoError(t, err)
	_ = resp.Body().Close()

	_, err = call.Execute()
	require.Error(t, err)
	assert.Equal(t, KindIllegalState, KindOf(err))
}

func TestCancelBeforeExecute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	client := buildClient(t, nil)
	req, err := NewRequestBuilder(server.URL + "/").Build()
	require.NoError(t, err)
	call := client.NewCall(req)
	assert.True(t, call.Cancel())
	assert.True(t, call.Cancel(), "cancel is idempotent")

	_, err = call.Execute()
	require.Error(t, err)
	assert.Equal(t, KindInterrupted, KindOf(err))
	assert.True(t, call.IsCancelled())
}

// Cancelling mid-stream fails further reads and writes nothing to cache.
func TestCancelDuringBodyRead(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=3600")
		w.Header().Set("Content-Length", strconv.Itoa(1<<20))
		_, _ = w.Write(make([]byte, 256<<10))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := cachingClient(t, 0)
	req, err := NewRequestBuilder(server.URL + "/big").Build()
	require.NoError(t, err)
	call := client.NewCall(req)
	resp, err := call.Execute()
	require.NoError(t, err)

	buf := make([]byte, 16<<10)
	n, err := resp.Body().Read(buf)
	require.NoError(t, err)
	require.Positive(t, n)

	assert.True(t, call.Cancel())

	_, err = resp.Body().Read(buf)
	require.Error(t, err)
	assert.Equal(t, KindIllegalState, KindOf(err), "read after cancel fails with IllegalState")

	_, err = call.Execute()
	require.Error(t, err)
	assert.Equal(t, KindIllegalState, KindOf(err), "re-execute after cancel fails with IllegalState")

	_ = resp.Body().Close()
	assert.Equal(t, int64(0), client.Cache().Size(), "no cache entry for a cancelled call")
}

func TestExecuteAsyncDeliversResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("async data"))
	}))
	defer server.Close()

	client := buildClient(t, nil)
	req, err := NewRequestBuilder(server.URL + "/").Build()
	require.NoError(t, err)

	type outcome struct {
		body string
		err  error
	}
	done := make(chan outcome, 1)
	err = client.NewCall(req).ExecuteAsync(CallbackFuncs{
		Response: func(call *Call, resp *Response) {
			body, readErr := resp.Body().String()
			done <- outcome{body: body, err: readErr}
		},
		Failure: func(call *Call, err error) {
			done <- outcome{err: err}
		},
	})
	require.NoError(t, err)

	select {
	case got := <-done:
		require.NoError(t, got.err)
		assert.Equal(t, "async data", got.body)
	case <-time.After(5 * time.Second):
		t.Fatal("callback never invoked")
	}
}

func TestExecuteAsyncReentrantExecuteSameCallFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer server.Close()

	client := buildClient(t, nil)
	req, err := NewRequestBuilder(server.URL + "/").Build()
	require.NoError(t, err)

	reentrant := make(chan error, 1)
	call := client.NewCall(req)
	err = call.ExecuteAsync(CallbackFuncs{
		Response: func(c *Call, resp *Response) {
			_ = resp.Body().Close()
			_, execErr := c.Execute()
			reentrant <- execErr
		},
		Failure: func(c *Call, err error) {
			reentrant <- err
		},
	})
	require.NoError(t, err)

	select {
	case execErr := <-reentrant:
		require.Error(t, execErr)
		assert.Equal(t, KindIllegalState, KindOf(execErr))
	case <-time.After(5 * time.Second):
		t.Fatal("callback never invoked")
	}
}

func TestExecuteAsyncDifferentCallFromCallbackWorks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("y"))
	}))
	defer server.Close()

	client := buildClient(t, nil)
	req, err := NewRequestBuilder(server.URL + "/").Build()
	require.NoError(t, err)

	nested := make(chan string, 1)
	err = client.NewCall(req).ExecuteAsync(CallbackFuncs{
		Response: func(c *Call, resp *Response) {
			_ = resp.Body().Close()
			second, buildErr := NewRequestBuilder(server.URL + "/").Build()
			if buildErr != nil {
				nested <- buildErr.Error()
				return
			}
			inner, execErr := client.NewCall(second).Execute()
			if execErr != nil {
				nested <- execErr.Error()
				return
			}
			body, _ := inner.Body().String()
			nested <- body
		},
		Failure: func(c *Call, err error) { nested <- err.Error() },
	})
	require.NoError(t, err)

	select {
	case got := <-nested:
		assert.Equal(t, "y", got)
	case <-time.After(5 * time.Second):
		t.Fatal("callback never invoked")
	}
}

func TestApplicationInterceptorWrapsWholeFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("X-App")))
	}))
	defer server.Close()

	var sawConnection bool
	client := buildClient(t, func(b *Builder) {
		b.WithInterceptor(InterceptorFunc(func(chain Chain) (*Response, error) {
			sawConnection = chain.Connection() != nil
			req, err := chain.Request().NewBuilder().SetHeader("X-App", "present").Build()
			if err != nil {
				return nil, err
			}
			return chain.Proceed(req)
		}))
	})

	resp := mustGet(t, client, server.URL+"/", nil)
	assert.Equal(t, "present", readBody(t, resp))
	assert.False(t, sawConnection, "application interceptors see no connection")
}

func TestNetworkInterceptorSkippedOnCacheHit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=3600")
		_, _ = w.Write([]byte("cached later"))
	}))
	defer server.Close()

	var networkRuns atomic.Int32
	var sawConnection atomic.Bool
	respCache, err := NewDiskCache(t.TempDir(), 0)
	require.NoError(t, err)
	client := buildClient(t, func(b *Builder) {
		b.WithCache(respCache)
		b.WithNetworkInterceptor(InterceptorFunc(func(chain Chain) (*Response, error) {
			networkRuns.Add(1)
			sawConnection.Store(chain.Connection() != nil)
			return chain.Proceed(chain.Request())
		}))
	})

	_ = readBody(t, mustGet(t, client, server.URL+"/", nil))
	assert.Equal(t, int32(1), networkRuns.Load())
	assert.True(t, sawConnection.Load(), "network interceptors see the bound connection")

	second := mustGet(t, client, server.URL+"/", nil)
	assert.Equal(t, "cached later", readBody(t, second))
	assert.Equal(t, int32(1), networkRuns.Load(), "cache hits bypass network interceptors")
}

func TestInterceptorErrorPropagatesRaw(t *testing.T) {
	sentinel := newError(KindExecution, "interceptor boom")
	client := buildClient(t, func(b *Builder) {
		b.WithInterceptor(InterceptorFunc(func(chain Chain) (*Response, error) {
			return nil, sentinel
		}))
	})

	req, err := NewRequestBuilder("http://127.0.0.1:1/unreachable").Build()
	require.NoError(t, err)
	_, err = client.NewCall(req).Execute()
	assert.Same(t, sentinel, err)
}

func TestBuilderValidation(t *testing.T) {
	_, err := NewBuilder().WithTimeout(-1 * time.Second).Build()
	require.Error(t, err)
	assert.Equal(t, KindIllegalArgument, KindOf(err))

	_, err = NewBuilder().WithInterceptor(nil).Build()
	require.Error(t, err)

	_, err = NewBuilder().WithMaxAsyncWorkers(0).Build()
	require.Error(t, err)

	client, err := NewBuilder().WithTimeout(0).Build()
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, client.Timeout(), "zero selects the platform default")
	client.InvalidateAndCancel()
}

func TestTransportErrorSurfacesAsExecution(t *testing.T) {
	client := buildClient(t, nil)
	req, err := NewRequestBuilder("http://127.0.0.1:1/down").Build()
	require.NoError(t, err)
	_, err = client.NewCall(req).Execute()
	require.Error(t, err)
	assert.Equal(t, KindExecution, KindOf(err))
}

func TestInvalidateAndCancelDrainsPool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("z"))
	}))
	defer server.Close()

	client := buildClient(t, nil)
	_ = readBody(t, mustGet(t, client, server.URL+"/", nil))
	require.Equal(t, 1, client.ConnectionPool().Size())

	client.InvalidateAndCancel()
	assert.Equal(t, 0, client.ConnectionPool().Size())
}

func TestTaggedRequestOverridesFingerprint(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=3600")
		_, _ = w.Write([]byte("tagged " + r.URL.Path))
	}))
	defer server.Close()

	client := cachingClient(t, 0)
	get := func(path, tag string) string {
		b := NewRequestBuilder(server.URL + path)
		if tag != "" {
			b.WithTag(tag)
		}
		req, err := b.Build()
		require.NoError(t, err)
		resp, err := client.NewCall(req).Execute()
		require.NoError(t, err)
		return readBody(t, resp)
	}

	assert.Equal(t, "tagged /a", get("/a", "shared"))
	// A different URL under the same tag resolves to the same entry.
	assert.Equal(t, "tagged /a", get("/b", "shared"))
	assert.Equal(t, int32(1), hits.Load())
}
