package httpclient

import (
	"strconv"
	"time"

	"github.com/sandrolain/httpclient/cache"
)

// cacheDecision is the outcome of consulting the cache for a request.
type cacheDecision int

const (
	// decisionNetwork goes to the network unconditionally.
	decisionNetwork cacheDecision = iota
	// decisionUseCache serves the stored response without network.
	decisionUseCache
	// decisionConditional revalidates the stored response with a
	// conditional request.
	decisionConditional
	// decisionUnsatisfiable synthesizes 504: only-if-cached with no
	// servable entry.
	decisionUnsatisfiable
)

// cachePlan is the engine's marching orders for one request frame.
type cachePlan struct {
	decision cacheDecision
	// networkRequest is the request to send for decisionConditional;
	// for other decisions it is the original request.
	networkRequest *Request
}

// planCache applies the freshness rules (RFC 7234, simplified) to a
// request and its stored entry (nil on a miss).
func planCache(req *Request, entry *cache.Entry, now time.Time) cachePlan {
	reqCC := req.CacheControl()

	if entry == nil {
		if reqCC.OnlyIfCached() {
			return cachePlan{decision: decisionUnsatisfiable, networkRequest: req}
		}
		return cachePlan{decision: decisionNetwork, networkRequest: req}
	}

	meta := entry.Metadata
	respCC := ParseCacheControl(meta.Header)

	if isFresh(meta, respCC, reqCC, now) {
		return cachePlan{decision: decisionUseCache, networkRequest: req}
	}

	// Stale. only-if-cached forbids the network entirely.
	if reqCC.OnlyIfCached() {
		return cachePlan{decision: decisionUnsatisfiable, networkRequest: req}
	}

	if conditional := conditionalRequest(req, meta); conditional != nil {
		return cachePlan{decision: decisionConditional, networkRequest: conditional}
	}
	return cachePlan{decision: decisionNetwork, networkRequest: req}
}

// isFresh implements: fresh iff age < freshness lifetime, with request
// directives adjusting both sides.
func isFresh(meta *cache.Metadata, respCC, reqCC *CacheControl, now time.Time) bool {
	// no-cache on either side forces revalidation. A stored response
	// carrying no-cache was stored deliberately ("store, always
	// revalidate" per RFC 7234 Section 5.2.2.2).
	if reqCC.NoCache() || respCC.NoCache() {
		return false
	}

	age := currentAge(meta, now)
	lifetime := freshnessLifetime(meta, respCC)

	if maxAge := reqCC.MaxAgeSec(); maxAge >= 0 {
		reqLifetime := time.Duration(maxAge) * time.Second
		if reqLifetime < lifetime {
			lifetime = reqLifetime
		}
	}
	if minFresh := reqCC.MinFreshSec(); minFresh >= 0 {
		age += time.Duration(minFresh) * time.Second
	}

	if lifetime > age {
		return true
	}

	// must-revalidate on the response overrides the client's staleness
	// tolerance.
	if respCC.MustRevalidate() {
		return false
	}
	if reqCC.MaxStale() {
		if reqCC.MaxStaleSec() < 0 {
			return true
		}
		return lifetime+time.Duration(reqCC.MaxStaleSec())*time.Second > age
	}
	return false
}

// currentAge is max(0, now − received) plus any Age header carried by the
// stored response.
func currentAge(meta *cache.Metadata, now time.Time) time.Duration {
	received := time.Unix(meta.ReceivedResponseAtEpoch, 0)
	age := now.Sub(received)
	if age < 0 {
		age = 0
	}
	if v := meta.Header.Get("Age"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil && sec > 0 {
			age += time.Duration(sec) * time.Second
		}
	}
	return age
}

// freshnessLifetime derives the stored response's lifetime:
// s-maxage, then max-age, then Expires − Date, then the heuristic
// 10% × (Date − Last-Modified).
func freshnessLifetime(meta *cache.Metadata, respCC *CacheControl) time.Duration {
	if sec := respCC.SMaxAgeSec(); sec >= 0 {
		return time.Duration(sec) * time.Second
	}
	if sec := respCC.MaxAgeSec(); sec >= 0 {
		return time.Duration(sec) * time.Second
	}

	served := servedDate(meta)
	if v := meta.Header.Get("Expires"); v != "" {
		expires, err := parseHTTPDate(v)
		if err != nil {
			return 0
		}
		lifetime := expires.Sub(served)
		if lifetime < 0 {
			return 0
		}
		return lifetime
	}
	if v := meta.Header.Get("Last-Modified"); v != "" {
		lastModified, err := parseHTTPDate(v)
		if err != nil {
			return 0
		}
		delta := served.Sub(lastModified)
		if delta <= 0 {
			return 0
		}
		return delta / 10
	}
	return 0
}

// servedDate is the response Date header, falling back to the receive
// timestamp when absent or unparseable.
func servedDate(meta *cache.Metadata) time.Time {
	if v := meta.Header.Get("Date"); v != "" {
		if d, err := parseHTTPDate(v); err == nil {
			return d
		}
	}
	return time.Unix(meta.ReceivedResponseAtEpoch, 0)
}

// httpDateLayouts are the formats of RFC 7231 Section 7.1.1.1, preferred
// first.
var httpDateLayouts = []string{
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
	time.ANSIC,
}

func parseHTTPDate(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range httpDateLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// conditionalRequest builds the revalidation request from the stored
// validators, or returns nil when the entry carries none.
func conditionalRequest(req *Request, meta *cache.Metadata) *Request {
	etag := meta.Header.Get("ETag")
	lastModified := meta.Header.Get("Last-Modified")
	if etag == "" && lastModified == "" {
		return nil
	}
	b := req.NewBuilder()
	if etag != "" && req.Header().Get("If-None-Match") == "" {
		b.SetHeader("If-None-Match", etag)
	}
	if lastModified != "" && req.Header().Get("If-Modified-Since") == "" {
		b.SetHeader("If-Modified-Since", lastModified)
	}
	conditional, err := b.Build()
	if err != nil {
		// The original request already validated; a rebuild cannot fail.
		GetLogger().Warn("failed to build conditional request", "error", err)
		return nil
	}
	return conditional
}
