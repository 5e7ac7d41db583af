package httpclient

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/sandrolain/httpclient/cache"
	"github.com/sandrolain/httpclient/diskstore"
	"github.com/sandrolain/httpclient/leveldbstore"
	"github.com/sandrolain/httpclient/metrics"
)

// DefaultTimeout is the per-I/O timeout used when none is configured; it is
// not a bound on total request time. The default transport applies it to
// connecting, the TLS handshake and the wait for response headers; writing
// the request and reading the response body are not bounded by it.
const DefaultTimeout = 60 * time.Second

// Client is the lifecycle root: it owns the shared response cache, the
// connection pool, the interceptor lists, TLS configuration, the default
// timeout and the async worker pool, and mints Calls.
type Client struct {
	cache               *cache.Cache
	pool                *ConnectionPool
	transport           Transport
	timeout             time.Duration
	proxy               string
	rootCADirectory     string
	rootCAFile          string
	crlCheckPolicy      CRLCheckPolicy
	interceptors        []Interceptor
	networkInterceptors []Interceptor
	resilience          *ResilienceConfig
	metrics             metrics.Collector
	dispatcher          *dispatcher

	callMu sync.Mutex
	calls  map[*Call]struct{}
}

// NewCall creates a one-shot Call for req.
func (c *Client) NewCall(req *Request) *Call {
	return newCall(c, req)
}

// Cache returns the shared response cache, or nil.
func (c *Client) Cache() *cache.Cache { return c.cache }

// ConnectionPool returns the shared connection pool.
func (c *Client) ConnectionPool() *ConnectionPool { return c.pool }

// Timeout returns the per-I/O inactivity timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Proxy returns the configured proxy host:port, or "".
func (c *Client) Proxy() string { return c.proxy }

// CRLCheckPolicy returns the configured revocation checking policy.
func (c *Client) CRLCheckPolicy() CRLCheckPolicy { return c.crlCheckPolicy }

// InvalidateAndCancel cancels every outstanding call, cancels pooled
// connections and drains the async worker pool. The client must not be
// used afterwards.
func (c *Client) InvalidateAndCancel() {
	c.callMu.Lock()
	calls := make([]*Call, 0, len(c.calls))
	for call := range c.calls {
		calls = append(calls, call)
	}
	c.callMu.Unlock()
	for _, call := range calls {
		call.Cancel()
	}
	c.pool.CancelAll()
	c.dispatcher.shutdown()
}

func (c *Client) rememberCall(call *Call) {
	c.callMu.Lock()
	c.calls[call] = struct{}{}
	c.callMu.Unlock()
}

func (c *Client) forgetCall(call *Call) {
	c.callMu.Lock()
	delete(c.calls, call)
	c.callMu.Unlock()
}

// Builder assembles a Client. All options have working defaults; an empty
// builder yields a cache-less client with a private pool and a 60 second
// timeout.
type Builder struct {
	cache               *cache.Cache
	pool                *ConnectionPool
	transport           Transport
	timeout             time.Duration
	timeoutSet          bool
	proxy               string
	rootCADirectory     string
	rootCAFile          string
	crlCheckPolicy      CRLCheckPolicy
	interceptors        []Interceptor
	networkInterceptors []Interceptor
	resilience          *ResilienceConfig
	metrics             metrics.Collector
	maxWorkers          int
	err                 error
}

// NewBuilder returns an empty client builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithCache installs the shared response cache. nil disables caching.
func (b *Builder) WithCache(c *cache.Cache) *Builder {
	b.cache = c
	return b
}

// WithTimeout sets the per-I/O inactivity timeout. Zero selects the
// platform default (DefaultTimeout); negative values fail Build.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	if d < 0 {
		b.fail(newError(KindIllegalArgument, "timeout must be >= 0, got %v", d))
		return b
	}
	b.timeout = d
	b.timeoutSet = true
	return b
}

// WithProxy routes requests through an HTTP proxy at host:port.
func (b *Builder) WithProxy(hostPort string) *Builder {
	b.proxy = hostPort
	return b
}

// WithRootCADirectory trusts the PEM certificates found in dir.
func (b *Builder) WithRootCADirectory(dir string) *Builder {
	b.rootCADirectory = dir
	return b
}

// WithRootCAFile trusts the PEM certificates in file.
func (b *Builder) WithRootCAFile(file string) *Builder {
	b.rootCAFile = file
	return b
}

// WithCRLCheckPolicy selects certificate revocation checking behavior.
func (b *Builder) WithCRLCheckPolicy(p CRLCheckPolicy) *Builder {
	b.crlCheckPolicy = p
	return b
}

// WithConnectionPool shares an existing pool between clients.
func (b *Builder) WithConnectionPool(p *ConnectionPool) *Builder {
	b.pool = p
	return b
}

// WithTransport replaces the wire transport. The default drives net/http.
func (b *Builder) WithTransport(t Transport) *Builder {
	b.transport = t
	return b
}

// WithInterceptor appends an application interceptor. Application
// interceptors run once per call frame around the entire cache+network
// machinery.
func (b *Builder) WithInterceptor(i Interceptor) *Builder {
	if i == nil {
		b.fail(newError(KindIllegalArgument, "interceptor cannot be nil"))
		return b
	}
	b.interceptors = append(b.interceptors, i)
	return b
}

// WithNetworkInterceptor appends a network interceptor. Network
// interceptors run around the actual round trip, see the bound connection,
// and are skipped when a response is served from cache.
func (b *Builder) WithNetworkInterceptor(i Interceptor) *Builder {
	if i == nil {
		b.fail(newError(KindIllegalArgument, "network interceptor cannot be nil"))
		return b
	}
	b.networkInterceptors = append(b.networkInterceptors, i)
	return b
}

// WithResilience installs retry / circuit breaker policies around the
// network round trip.
func (b *Builder) WithResilience(cfg *ResilienceConfig) *Builder {
	b.resilience = cfg
	return b
}

// WithMetricsCollector installs a metrics collector.
func (b *Builder) WithMetricsCollector(c metrics.Collector) *Builder {
	b.metrics = c
	return b
}

// WithMaxAsyncWorkers sets the async worker pool size (default 5).
func (b *Builder) WithMaxAsyncWorkers(n int) *Builder {
	if n <= 0 {
		b.fail(newError(KindIllegalArgument, "async workers must be > 0, got %d", n))
		return b
	}
	b.maxWorkers = n
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates the options and returns the Client.
func (b *Builder) Build() (*Client, error) {
	if b.err != nil {
		return nil, b.err
	}
	timeout := b.timeout
	if !b.timeoutSet || timeout == 0 {
		timeout = DefaultTimeout
	}
	pool := b.pool
	if pool == nil {
		pool = NewConnectionPool()
	}
	transport := b.transport
	if transport == nil {
		transport = newNetTransport(b.crlCheckPolicy)
	}
	collector := b.metrics
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Client{
		cache:               b.cache,
		pool:                pool,
		transport:           transport,
		timeout:             timeout,
		proxy:               b.proxy,
		rootCADirectory:     b.rootCADirectory,
		rootCAFile:          b.rootCAFile,
		crlCheckPolicy:      b.crlCheckPolicy,
		interceptors:        append([]Interceptor(nil), b.interceptors...),
		networkInterceptors: append([]Interceptor(nil), b.networkInterceptors...),
		resilience:          b.resilience,
		metrics:             collector,
		dispatcher:          newDispatcher(b.maxWorkers),
		calls:               map[*Call]struct{}{},
	}, nil
}

// NewDiskCache wires the default on-disk cache layout rooted at cachePath:
// a leveldb metadata store at `<cachePath>/cache_metadata.db` and
// content-addressed body files under `<cachePath>/cache` with temp writes
// under `<cachePath>/temp`. maxBytes bounds the committed body bytes via
// LRU eviction; <= 0 means unbounded.
func NewDiskCache(cachePath string, maxBytes int64, opts ...cache.Option) (*cache.Cache, error) {
	meta, err := leveldbstore.Open(filepath.Join(cachePath, leveldbstore.FileName))
	if err != nil {
		return nil, err
	}
	bodies, err := diskstore.New(cachePath)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	c, err := cache.New(meta, bodies, maxBytes, opts...)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	return c, nil
}
