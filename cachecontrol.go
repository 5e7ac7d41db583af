package httpclient

import (
	"strconv"
	"strings"

	"github.com/sandrolain/httpclient/header"
)

// Cache-Control directive names (RFC 7234 Section 5.2).
const (
	directiveMaxAge         = "max-age"
	directiveMaxStale       = "max-stale"
	directiveMinFresh       = "min-fresh"
	directiveMustRevalidate = "must-revalidate"
	directiveNoCache        = "no-cache"
	directiveNoStore        = "no-store"
	directiveNoTransform    = "no-transform"
	directiveOnlyIfCached   = "only-if-cached"
	directivePrivate        = "private"
	directivePublic         = "public"
	directiveSMaxAge        = "s-maxage"
)

// CacheControl holds the parsed directives of a Cache-Control header, or a
// caller-built request-side override. Second-valued directives are -1 when
// absent. maxStale distinguishes "absent", "present without value" (accept
// any staleness) and "present with value".
type CacheControl struct {
	noCache        bool
	noStore        bool
	noTransform    bool
	onlyIfCached   bool
	mustRevalidate bool
	public         bool
	private        bool
	maxAgeSec      int64
	sMaxAgeSec     int64
	minFreshSec    int64
	maxStaleSec    int64
	maxStale       bool
}

// NoCache reports the no-cache directive.
func (c *CacheControl) NoCache() bool { return c.noCache }

// NoStore reports the no-store directive.
func (c *CacheControl) NoStore() bool { return c.noStore }

// NoTransform reports the no-transform directive.
func (c *CacheControl) NoTransform() bool { return c.noTransform }

// OnlyIfCached reports the only-if-cached directive.
func (c *CacheControl) OnlyIfCached() bool { return c.onlyIfCached }

// MustRevalidate reports the must-revalidate directive.
func (c *CacheControl) MustRevalidate() bool { return c.mustRevalidate }

// Public reports the public directive.
func (c *CacheControl) Public() bool { return c.public }

// Private reports the private directive.
func (c *CacheControl) Private() bool { return c.private }

// MaxAgeSec returns the max-age value in seconds, or -1 if absent.
func (c *CacheControl) MaxAgeSec() int64 { return c.maxAgeSec }

// SMaxAgeSec returns the s-maxage value in seconds, or -1 if absent.
func (c *CacheControl) SMaxAgeSec() int64 { return c.sMaxAgeSec }

// MinFreshSec returns the min-fresh value in seconds, or -1 if absent.
func (c *CacheControl) MinFreshSec() int64 { return c.minFreshSec }

// MaxStale reports whether max-stale is present at all.
func (c *CacheControl) MaxStale() bool { return c.maxStale }

// MaxStaleSec returns the max-stale value in seconds, or -1 when max-stale
// is absent or valueless.
func (c *CacheControl) MaxStaleSec() int64 { return c.maxStaleSec }

func emptyCacheControl() *CacheControl {
	return &CacheControl{maxAgeSec: -1, sMaxAgeSec: -1, minFreshSec: -1, maxStaleSec: -1}
}

// ParseCacheControl parses the Cache-Control fields of h.
// Duplicate directives keep the first occurrence; invalid delta-seconds
// values are ignored. Both cases are logged at warn level.
func ParseCacheControl(h *header.Header) *CacheControl {
	cc := emptyCacheControl()
	if h == nil {
		return cc
	}
	seen := map[string]bool{}
	for _, field := range h.Values("Cache-Control") {
		for _, part := range strings.Split(field, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, value := part, ""
			if i := strings.IndexByte(part, '='); i >= 0 {
				name = strings.TrimSpace(part[:i])
				value = strings.Trim(strings.TrimSpace(part[i+1:]), `"`)
			}
			name = strings.ToLower(name)
			if seen[name] {
				GetLogger().Warn("duplicate Cache-Control directive, using first value",
					"directive", name, "ignored_value", value)
				continue
			}
			seen[name] = true
			cc.apply(name, value)
		}
	}
	return cc
}

func (c *CacheControl) apply(name, value string) {
	switch name {
	case directiveNoCache:
		c.noCache = true
	case directiveNoStore:
		c.noStore = true
	case directiveNoTransform:
		c.noTransform = true
	case directiveOnlyIfCached:
		c.onlyIfCached = true
	case directiveMustRevalidate:
		c.mustRevalidate = true
	case directivePublic:
		c.public = true
	case directivePrivate:
		c.private = true
	case directiveMaxAge:
		c.maxAgeSec = parseDeltaSeconds(name, value)
	case directiveSMaxAge:
		c.sMaxAgeSec = parseDeltaSeconds(name, value)
	case directiveMinFresh:
		c.minFreshSec = parseDeltaSeconds(name, value)
	case directiveMaxStale:
		c.maxStale = true
		if value != "" {
			c.maxStaleSec = parseDeltaSeconds(name, value)
		}
	}
}

// parseDeltaSeconds parses an RFC 7234 delta-seconds value. Invalid values
// are reported as absent (-1); negatives clamp to 0.
func parseDeltaSeconds(directive, value string) int64 {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		GetLogger().Warn("invalid Cache-Control value, ignoring directive",
			"directive", directive, "value", value)
		return -1
	}
	if n < 0 {
		GetLogger().Warn("negative Cache-Control value, treating as 0",
			"directive", directive, "value", value)
		return 0
	}
	return n
}

// headerValue renders the directives back into a Cache-Control field value.
// Used for request-side overrides built with CacheControlBuilder.
func (c *CacheControl) headerValue() string {
	var parts []string
	if c.noCache {
		parts = append(parts, directiveNoCache)
	}
	if c.noStore {
		parts = append(parts, directiveNoStore)
	}
	if c.noTransform {
		parts = append(parts, directiveNoTransform)
	}
	if c.onlyIfCached {
		parts = append(parts, directiveOnlyIfCached)
	}
	if c.mustRevalidate {
		parts = append(parts, directiveMustRevalidate)
	}
	if c.maxAgeSec >= 0 {
		parts = append(parts, directiveMaxAge+"="+strconv.FormatInt(c.maxAgeSec, 10))
	}
	if c.sMaxAgeSec >= 0 {
		parts = append(parts, directiveSMaxAge+"="+strconv.FormatInt(c.sMaxAgeSec, 10))
	}
	if c.minFreshSec >= 0 {
		parts = append(parts, directiveMinFresh+"="+strconv.FormatInt(c.minFreshSec, 10))
	}
	if c.maxStale {
		if c.maxStaleSec >= 0 {
			parts = append(parts, directiveMaxStale+"="+strconv.FormatInt(c.maxStaleSec, 10))
		} else {
			parts = append(parts, directiveMaxStale)
		}
	}
	return strings.Join(parts, ", ")
}

// CacheControlBuilder builds a request-side CacheControl override.
type CacheControlBuilder struct {
	cc *CacheControl
}

// NewCacheControlBuilder returns a builder with no directives set.
func NewCacheControlBuilder() *CacheControlBuilder {
	return &CacheControlBuilder{cc: emptyCacheControl()}
}

// NoCache forces revalidation of a stored response.
func (b *CacheControlBuilder) NoCache() *CacheControlBuilder {
	b.cc.noCache = true
	return b
}

// NoStore forbids storing the response.
func (b *CacheControlBuilder) NoStore() *CacheControlBuilder {
	b.cc.noStore = true
	return b
}

// OnlyIfCached forbids going to the network; a miss yields 504.
func (b *CacheControlBuilder) OnlyIfCached() *CacheControlBuilder {
	b.cc.onlyIfCached = true
	return b
}

// MaxAgeSec accepts responses no older than sec seconds.
func (b *CacheControlBuilder) MaxAgeSec(sec int64) *CacheControlBuilder {
	if sec < 0 {
		sec = 0
	}
	b.cc.maxAgeSec = sec
	return b
}

// MaxStale accepts arbitrarily stale responses.
func (b *CacheControlBuilder) MaxStale() *CacheControlBuilder {
	b.cc.maxStale = true
	return b
}

// MaxStaleSec accepts responses up to sec seconds past their freshness
// lifetime.
func (b *CacheControlBuilder) MaxStaleSec(sec int64) *CacheControlBuilder {
	if sec < 0 {
		sec = 0
	}
	b.cc.maxStale = true
	b.cc.maxStaleSec = sec
	return b
}

// MinFreshSec requires responses to stay fresh for at least sec more
// seconds.
func (b *CacheControlBuilder) MinFreshSec(sec int64) *CacheControlBuilder {
	if sec < 0 {
		sec = 0
	}
	b.cc.minFreshSec = sec
	return b
}

// Build returns the assembled CacheControl.
func (b *CacheControlBuilder) Build() *CacheControl {
	out := *b.cc
	return &out
}
