package httpclient

import (
	"net/url"
	"strings"

	"github.com/sandrolain/httpclient/header"
)

// HTTP methods supported by RequestBuilder.
const (
	MethodGet    = "GET"
	MethodHead   = "HEAD"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
	MethodPatch  = "PATCH"
)

// Request is an immutable HTTP request. Build one with RequestBuilder.
type Request struct {
	method       string
	url          *url.URL
	header       *header.Header
	body         *RequestBody
	cacheControl *CacheControl
	tag          string
}

// Method returns the HTTP method.
func (r *Request) Method() string { return r.method }

// URL returns a copy of the absolute request URL.
func (r *Request) URL() *url.URL {
	u := *r.url
	return &u
}

// URLString returns the absolute request URL as a string.
func (r *Request) URLString() string { return r.url.String() }

// Header returns the request headers. The returned Header must be treated
// as read-only.
func (r *Request) Header() *header.Header { return r.header }

// Body returns the request body, or nil.
func (r *Request) Body() *RequestBody { return r.body }

// CacheControl returns the request cache directives. Directives set via
// WithCacheControl take precedence over any Cache-Control header field.
func (r *Request) CacheControl() *CacheControl {
	if r.cacheControl != nil {
		return r.cacheControl
	}
	return ParseCacheControl(r.header)
}

// Tag returns the opaque caller tag, or "". A non-empty tag overrides the
// cache fingerprint derivation.
func (r *Request) Tag() string { return r.tag }

// NewBuilder returns a RequestBuilder for this request, carrying over
// method, URL, headers, body, cache control and tag.
func (r *Request) NewBuilder() *RequestBuilder {
	return &RequestBuilder{
		method:       r.method,
		rawURL:       r.url.String(),
		header:       r.header.Clone(),
		body:         r.body,
		cacheControl: r.cacheControl,
		tag:          r.tag,
	}
}

// RequestBuilder assembles an immutable Request. The zero value is a GET
// with no URL; NewRequestBuilder is the usual entry point.
type RequestBuilder struct {
	method       string
	rawURL       string
	header       *header.Header
	body         *RequestBody
	cacheControl *CacheControl
	tag          string
}

// NewRequestBuilder returns a builder for a GET of rawURL.
func NewRequestBuilder(rawURL string) *RequestBuilder {
	return &RequestBuilder{method: MethodGet, rawURL: rawURL, header: header.New()}
}

// Get selects the GET method.
func (b *RequestBuilder) Get() *RequestBuilder {
	b.method = MethodGet
	b.body = nil
	return b
}

// Head selects the HEAD method.
func (b *RequestBuilder) Head() *RequestBuilder {
	b.method = MethodHead
	b.body = nil
	return b
}

// Post selects the POST method with the given body (may be nil).
func (b *RequestBuilder) Post(body *RequestBody) *RequestBuilder {
	b.method = MethodPost
	b.body = body
	return b
}

// Put selects the PUT method with the given body (may be nil).
func (b *RequestBuilder) Put(body *RequestBody) *RequestBuilder {
	b.method = MethodPut
	b.body = body
	return b
}

// Delete selects the DELETE method.
func (b *RequestBuilder) Delete() *RequestBuilder {
	b.method = MethodDelete
	b.body = nil
	return b
}

// Patch selects the PATCH method with the given body (may be nil).
func (b *RequestBuilder) Patch(body *RequestBody) *RequestBuilder {
	b.method = MethodPatch
	b.body = body
	return b
}

// WithURL replaces the request URL.
func (b *RequestBuilder) WithURL(rawURL string) *RequestBuilder {
	b.rawURL = rawURL
	return b
}

// AddHeader appends a header field.
func (b *RequestBuilder) AddHeader(name, value string) *RequestBuilder {
	b.header.Add(name, value)
	return b
}

// SetHeader replaces all fields matching name with a single field.
func (b *RequestBuilder) SetHeader(name, value string) *RequestBuilder {
	b.header.Set(name, value)
	return b
}

// WithCacheControl installs request cache directives, also rendered into the
// Cache-Control header so origin servers and intermediaries see them.
func (b *RequestBuilder) WithCacheControl(cc *CacheControl) *RequestBuilder {
	b.cacheControl = cc
	return b
}

// WithTag attaches an opaque caller tag. A non-empty tag overrides the cache
// fingerprint derivation for this request.
func (b *RequestBuilder) WithTag(tag string) *RequestBuilder {
	b.tag = tag
	return b
}

// Build validates the builder state and returns the immutable Request.
func (b *RequestBuilder) Build() (*Request, error) {
	switch b.method {
	case MethodGet, MethodHead, MethodPost, MethodPut, MethodDelete, MethodPatch:
	default:
		return nil, newError(KindIllegalArgument, "unsupported method %q", b.method)
	}
	if strings.TrimSpace(b.rawURL) == "" {
		return nil, newError(KindIllegalArgument, "url is empty")
	}
	u, err := url.Parse(b.rawURL)
	if err != nil {
		return nil, wrapError(KindIllegalArgument, err, "invalid url %q", b.rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newError(KindIllegalArgument, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, newError(KindIllegalArgument, "url %q has no host", b.rawURL)
	}
	// The fingerprint covers the query but never the fragment.
	u.Fragment = ""

	h := b.header.Clone()
	if b.cacheControl != nil {
		if v := b.cacheControl.headerValue(); v != "" {
			h.Set("Cache-Control", v)
		}
	}
	if b.body != nil && b.body.MediaType() != "" && !h.Has("Content-Type") {
		h.Set("Content-Type", b.body.MediaType())
	}

	return &Request{
		method:       b.method,
		url:          u,
		header:       h,
		body:         b.body,
		cacheControl: b.cacheControl,
		tag:          b.tag,
	}, nil
}
