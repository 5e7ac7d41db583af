package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/sandrolain/httpclient/cache"
	"github.com/sandrolain/httpclient/header"
)

// maxFollowUps caps redirect following: one original request plus up to
// five follow-ups.
const maxFollowUps = 5

// hopByHopHeaders are connection-level fields never merged from a 304 into
// a stored response (RFC 7230 Section 6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// engine drives one call through cache policy, conditional requests,
// redirects and connection acquisition.
type engine struct {
	client *Client
	call   *Call
}

func newEngine(client *Client, call *Call) *engine {
	return &engine{client: client, call: call}
}

// fingerprint derives the cache key for a request. GET and HEAD share the
// GET identity; unsafe methods invalidate that same identity. A request
// tag overrides the derivation.
func fingerprint(req *Request) string {
	if req.Tag() != "" {
		return cache.KeyForTag(req.Tag())
	}
	return cache.Key(MethodGet, req.URLString())
}

// run executes the redirect loop: each frame runs the full application
// chain with the cache+network terminal, and followable 3xx responses
// start a new frame linked via priorResponse.
func (e *engine) run() (*Response, error) {
	req := e.call.request
	var prior *Response
	redirects := 0
	for {
		resp, err := e.executeFrame(req)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			resp = resp.NewBuilder().WithPriorResponse(prior).Build()
		}

		next, follow := e.redirectRequest(resp, req)
		if !follow {
			return resp, nil
		}
		redirects++
		if redirects > maxFollowUps {
			if resp.HasBody() {
				_ = resp.Body().Close()
			}
			return nil, newError(KindExecution, "too many follow-up requests (%d)", redirects)
		}
		// Drain the redirect body so the connection stays reusable.
		if resp.HasBody() {
			if _, err := resp.Body().Bytes(); err != nil {
				GetLogger().Debug("failed to drain redirect body", "error", err)
			}
		}
		prior = resp.stripBody()
		req = next
	}
}

// executeFrame runs the application interceptors around the cache+network
// terminal for one request frame.
func (e *engine) executeFrame(req *Request) (*Response, error) {
	chain := newChain(e.client.interceptors, req, nil, e.frame)
	return chain.run()
}

// frame is the terminal operation of the application chain: one round of
// cache or network retrieval for the current request.
func (e *engine) frame(req *Request) (*Response, error) {
	if e.call.IsCancelled() {
		return nil, newError(KindInterrupted, "call was cancelled")
	}

	ctx := context.Background()
	key := fingerprint(req)
	lookupEligible := e.client.cache != nil && req.Method() == MethodGet

	var entry *cache.Entry
	if lookupEligible {
		var err error
		entry, err = e.client.cache.Lookup(ctx, key)
		if err != nil {
			return nil, wrapError(KindCacheIo, err, "cache lookup failed")
		}
	}

	plan := planCache(req, entry, time.Now())
	if !lookupEligible {
		plan = cachePlan{decision: decisionNetwork, networkRequest: req}
	}

	switch plan.decision {
	case decisionUseCache:
		e.client.metrics.RecordCacheLookup("hit")
		return e.deliverCached(req, entry)
	case decisionUnsatisfiable:
		e.client.metrics.RecordCacheLookup("unsatisfiable")
		return e.unsatisfiable(req), nil
	case decisionConditional:
		e.client.metrics.RecordCacheLookup("revalidate")
	default:
		if lookupEligible {
			e.client.metrics.RecordCacheLookup("miss")
		}
	}

	resp, err := e.networkPhase(plan.networkRequest, req, key, entry)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// networkPhase performs the network round trip (with optional resilience
// policies), classifies the result, merges 304s, tees cacheable bodies and
// invalidates on unsafe methods.
func (e *engine) networkPhase(netReq, origReq *Request, key string, entry *cache.Entry) (*Response, error) {
	roundTrip := func() (*Response, error) {
		return e.networkRoundTrip(netReq)
	}
	netResp, err := e.client.executeWithResilience(roundTrip)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()

	// RFC 7234 Section 4.4: a non-error response to an unsafe method
	// invalidates the stored entry for the request URI (and a same-origin
	// Location target).
	if isUnsafeMethod(origReq.Method()) && netResp.StatusCode() < 400 {
		e.invalidate(ctx, origReq, netResp)
	}

	// A 304 answer to our conditional request merges with the stored
	// entry.
	if netResp.StatusCode() == 304 && entry != nil && origReq.Method() == MethodGet {
		return e.merge304(ctx, origReq, netResp, entry)
	}

	if e.storable(origReq, netResp) {
		return e.teeIntoCache(ctx, origReq, key, netResp)
	}

	// A replaced entry that can no longer be stored must not keep serving
	// stale data.
	if entry != nil && origReq.Method() == MethodGet && netResp.StatusCode() != 304 {
		if err := e.client.cache.Remove(ctx, key); err != nil {
			GetLogger().Warn("failed to drop replaced cache entry", "key", key, "error", err)
		}
	}
	return netResp, nil
}

// networkRoundTrip acquires a connection and runs the network interceptor
// chain with the transport send as terminal.
func (e *engine) networkRoundTrip(req *Request) (*Response, error) {
	if e.call.IsCancelled() {
		return nil, newError(KindInterrupted, "call was cancelled")
	}
	conn, err := e.acquireConnection(req)
	if err != nil {
		return nil, err
	}
	e.call.bindConnection(conn)

	terminal := func(r *Request) (*Response, error) {
		return e.send(r, conn)
	}
	chain := newChain(e.client.networkInterceptors, req, conn, terminal)
	resp, err := chain.run()
	if err != nil {
		e.call.bindConnection(nil)
		e.client.pool.release(conn, false)
		return nil, err
	}
	return resp, nil
}

// acquireConnection reuses an idle pooled connection with the request's
// identity or creates and registers a new one.
func (e *engine) acquireConnection(req *Request) (*Connection, error) {
	identity := identityFor(req, e.client.proxy, e.client.rootCADirectory, e.client.rootCAFile, e.client.timeout)
	if conn := e.client.pool.acquire(identity); conn != nil {
		GetLogger().Debug("reusing pooled connection", "connection", conn.ID())
		return conn, nil
	}
	conn := newConnection(identity)
	e.client.pool.register(conn)
	e.client.metrics.SetPoolConnections(e.client.pool.Size(), e.client.pool.IdleCount())
	return conn, nil
}

// send performs the wire round trip and shapes the raw result into a
// Response whose body returns the connection to the pool once consumed.
func (e *engine) send(req *Request, conn *Connection) (*Response, error) {
	sent := time.Now()
	tr, err := e.client.transport.Send(context.Background(), conn, req)
	received := time.Now()
	e.client.metrics.RecordNetworkRequest(req.Method(), statusOf(tr), received.Sub(sent))
	if err != nil {
		return nil, err
	}

	reusable := !connectionWantsClose(req.Header(), tr.Header)
	release := func(reuse bool) {
		e.call.bindConnection(nil)
		e.client.pool.release(conn, reuse && reusable)
		e.client.metrics.SetPoolConnections(e.client.pool.Size(), e.client.pool.IdleCount())
	}
	stream := newNetworkBody(tr.Body, release, e.call.IsCancelled)
	body := newResponseBody(stream, tr.ContentLength, tr.Header.Get("Content-Type"))

	resp := NewResponseBuilder().
		WithRequest(req).
		WithStatusCode(tr.StatusCode).
		WithReasonPhrase(tr.ReasonPhrase).
		WithProtocol(tr.Protocol).
		WithHeader(tr.Header.Clone()).
		WithBody(body).
		WithSentRequestAt(sent).
		WithReceivedResponseAt(received).
		Build()
	return resp.NewBuilder().WithNetworkResponse(resp.stripBody()).Build(), nil
}

func statusOf(tr *TransportResponse) int {
	if tr == nil {
		return 0
	}
	return tr.StatusCode
}

// connectionWantsClose honors `Connection: close` from either side.
func connectionWantsClose(reqHeader, respHeader *header.Header) bool {
	for _, h := range []*header.Header{reqHeader, respHeader} {
		for _, v := range h.Values("Connection") {
			for _, token := range strings.Split(v, ",") {
				if strings.EqualFold(strings.TrimSpace(token), "close") {
					return true
				}
			}
		}
	}
	return false
}

// deliverCached serves the stored entry without a network round trip.
// Network interceptors do not run on this path.
func (e *engine) deliverCached(req *Request, entry *cache.Entry) (*Response, error) {
	rc, err := entry.Open()
	if err != nil {
		if errors.Is(err, cache.ErrBodyMissing) {
			return nil, wrapError(KindCacheIo, err, "cached body missing for %s", req.URLString())
		}
		return nil, wrapError(KindCacheIo, err, "cached body unreadable for %s", req.URLString())
	}
	meta := entry.Metadata
	cached := e.cacheView(req, meta)
	body := newResponseBody(newCacheBody(rc), meta.BodySize, meta.Header.Get("Content-Type"))
	return cached.NewBuilder().
		WithBody(body).
		WithCacheResponse(cached.stripBody()).
		Build(), nil
}

// cacheView shapes a metadata record into a body-stripped Response.
func (e *engine) cacheView(req *Request, meta *cache.Metadata) *Response {
	return NewResponseBuilder().
		WithRequest(req).
		WithStatusCode(meta.StatusCode).
		WithReasonPhrase(meta.ReasonPhrase).
		WithProtocol("HTTP/1.1").
		WithHeader(meta.Header.Clone()).
		WithSentRequestAt(time.Unix(meta.SentRequestAtEpoch, 0)).
		WithReceivedResponseAt(time.Unix(meta.ReceivedResponseAtEpoch, 0)).
		Build()
}

// unsatisfiable synthesizes the 504 returned for only-if-cached misses.
func (e *engine) unsatisfiable(req *Request) *Response {
	return NewResponseBuilder().
		WithRequest(req).
		WithStatusCode(504).
		WithReasonPhrase("Unsatisfiable Request").
		WithProtocol("HTTP/1.1").
		WithBody(newResponseBody(newCacheBody(io.NopCloser(bytes.NewReader(nil))), 0, "")).
		WithSentRequestAt(time.Now()).
		WithReceivedResponseAt(time.Now()).
		Build()
}

// merge304 combines the stored body with the revalidated headers: stored
// status line and headers, overlaid with the 304's end-to-end headers,
// refreshed timestamps, no body rewrite.
func (e *engine) merge304(ctx context.Context, req *Request, netResp *Response, entry *cache.Entry) (*Response, error) {
	// The 304 carries no useful body; drain it so the connection is
	// reusable.
	if netResp.HasBody() {
		if _, err := netResp.Body().Bytes(); err != nil {
			GetLogger().Debug("failed to drain 304 body", "error", err)
		}
	}

	meta := entry.Metadata
	merged := meta.Header.Clone()
	netResp.Header().Range(func(name, value string) bool {
		if isHopByHop(name) {
			return true
		}
		merged.Set(name, value)
		return true
	})

	updated := meta.Clone()
	updated.Header = merged
	updated.SentRequestAtEpoch = netResp.SentRequestAt().Unix()
	updated.ReceivedResponseAtEpoch = netResp.ReceivedResponseAt().Unix()
	if err := e.client.cache.UpdateMetadata(ctx, updated); err != nil {
		GetLogger().Warn("failed to refresh metadata after revalidation", "key", meta.Key, "error", err)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, wrapError(KindCacheIo, err, "cached body unreadable after revalidation")
	}
	cached := e.cacheView(req, meta)
	body := newResponseBody(newCacheBody(rc), meta.BodySize, merged.Get("Content-Type"))
	e.client.metrics.RecordCacheLookup("revalidated")

	return NewResponseBuilder().
		WithRequest(req).
		WithStatusCode(meta.StatusCode).
		WithReasonPhrase(meta.ReasonPhrase).
		WithProtocol("HTTP/1.1").
		WithHeader(merged).
		WithBody(body).
		WithCacheResponse(cached.stripBody()).
		WithNetworkResponse(netResp.stripBody()).
		WithSentRequestAt(netResp.SentRequestAt()).
		WithReceivedResponseAt(netResp.ReceivedResponseAt()).
		Build(), nil
}

// storable applies the put-side cacheability rules to a network response.
func (e *engine) storable(req *Request, resp *Response) bool {
	if e.client.cache == nil || req.Method() != MethodGet {
		return false
	}
	if req.CacheControl().NoStore() {
		return false
	}
	// Unknown-length responses (chunked with no size bound) are not
	// cached.
	if resp.ContentLength() < 0 {
		return false
	}
	meta := &cache.Metadata{
		Method:     req.Method(),
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
	}
	return cache.Storable(meta)
}

// teeIntoCache wraps the network body so bytes flow to the caller and into
// the cache temp file simultaneously; the entry commits when the body is
// fully read.
func (e *engine) teeIntoCache(ctx context.Context, req *Request, key string, resp *Response) (*Response, error) {
	meta := &cache.Metadata{
		Key:                     key,
		URL:                     req.URLString(),
		Method:                  req.Method(),
		StatusCode:              resp.StatusCode(),
		ReasonPhrase:            resp.ReasonPhrase(),
		Header:                  resp.Header().Clone(),
		BodySize:                resp.ContentLength(),
		SentRequestAtEpoch:      resp.SentRequestAt().Unix(),
		ReceivedResponseAtEpoch: resp.ReceivedResponseAt().Unix(),
	}
	tee, err := e.client.cache.Writer(ctx, meta)
	if err != nil {
		GetLogger().Warn("failed to open cache writer, serving uncached", "key", key, "error", err)
		return resp, nil
	}
	inner := resp.Body()
	stream := newCachingBody(inner, tee, nil, e.call.IsCancelled)
	body := newResponseBody(stream, resp.ContentLength(), resp.Header().Get("Content-Type"))
	return resp.NewBuilder().WithBody(body).Build(), nil
}

// invalidate removes the stored entries a successful unsafe method makes
// stale: the request URI and a same-origin Location target.
func (e *engine) invalidate(ctx context.Context, req *Request, resp *Response) {
	if e.client.cache == nil {
		return
	}
	remove := func(u *url.URL) {
		key := cache.Key(MethodGet, u.String())
		if err := e.client.cache.Remove(ctx, key); err != nil {
			GetLogger().Warn("failed to invalidate cache entry", "key", key, "error", err)
			return
		}
		GetLogger().Debug("invalidated cache entry", "url", u.String(), "method", req.Method())
	}
	remove(req.URL())
	if req.Tag() != "" {
		if err := e.client.cache.Remove(ctx, cache.KeyForTag(req.Tag())); err != nil {
			GetLogger().Warn("failed to invalidate tagged cache entry", "tag", req.Tag(), "error", err)
		}
	}
	if location := resp.Header().Get("Location"); location != "" {
		if target, err := req.URL().Parse(location); err == nil &&
			target.Scheme == req.URL().Scheme && target.Host == req.URL().Host {
			target.Fragment = ""
			remove(target)
		}
	}
}

// redirectRequest decides whether resp should be followed and builds the
// follow-up request. Only GET and HEAD follow; cross-scheme targets are
// delivered to the caller instead.
func (e *engine) redirectRequest(resp *Response, req *Request) (*Request, bool) {
	switch resp.StatusCode() {
	case 301, 302, 303, 307, 308:
	default:
		return nil, false
	}
	if req.Method() != MethodGet && req.Method() != MethodHead {
		return nil, false
	}
	location := resp.Header().Get("Location")
	if location == "" {
		return nil, false
	}
	target, err := req.URL().Parse(location)
	if err != nil {
		GetLogger().Warn("unparseable Location header, delivering redirect", "location", location)
		return nil, false
	}
	if target.Scheme != req.URL().Scheme {
		// http↔https hops change the trust model; hand the 3xx back.
		return nil, false
	}
	target.Fragment = ""

	next, err := req.NewBuilder().WithURL(target.String()).Build()
	if err != nil {
		GetLogger().Warn("failed to build redirect request", "location", location, "error", err)
		return nil, false
	}
	return next, true
}

func isUnsafeMethod(method string) bool {
	switch method {
	case MethodPost, MethodPut, MethodDelete, MethodPatch:
		return true
	}
	return false
}
