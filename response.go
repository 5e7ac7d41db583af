package httpclient

import (
	"strconv"
	"time"

	"github.com/sandrolain/httpclient/header"
)

// Response is an immutable HTTP response. The body, when present, is a
// single-consumer one-shot stream; everything else may be shared freely.
type Response struct {
	request            *Request
	statusCode         int
	reasonPhrase       string
	protocol           string
	header             *header.Header
	body               *ResponseBody
	networkResponse    *Response
	cacheResponse      *Response
	priorResponse      *Response
	sentRequestAt      time.Time
	receivedResponseAt time.Time
}

// Request returns the request this response answers.
func (r *Response) Request() *Request { return r.request }

// StatusCode returns the numeric status code.
func (r *Response) StatusCode() int { return r.statusCode }

// ReasonPhrase returns the status reason phrase.
func (r *Response) ReasonPhrase() string { return r.reasonPhrase }

// Protocol returns the protocol string, normally "HTTP/1.1".
func (r *Response) Protocol() string { return r.protocol }

// Header returns the response headers. Treat as read-only.
func (r *Response) Header() *header.Header { return r.header }

// Body returns the response body, or nil for body-stripped responses.
func (r *Response) Body() *ResponseBody { return r.body }

// HasBody reports whether a body stream is attached.
func (r *Response) HasBody() bool { return r.body != nil }

// NetworkResponse returns the response as received from the transport with
// the body stripped, or nil when the response was served purely from cache.
func (r *Response) NetworkResponse() *Response { return r.networkResponse }

// CacheResponse returns the stored response the engine considered with the
// body stripped, or nil when the cache was not involved.
func (r *Response) CacheResponse() *Response { return r.cacheResponse }

// PriorResponse returns the response that caused this one (the redirect
// source, or the 304 conditional source), or nil.
func (r *Response) PriorResponse() *Response { return r.priorResponse }

// SentRequestAt returns the wall clock just before the request hit the wire.
func (r *Response) SentRequestAt() time.Time { return r.sentRequestAt }

// ReceivedResponseAt returns the wall clock just after the status line and
// headers were read.
func (r *Response) ReceivedResponseAt() time.Time { return r.receivedResponseAt }

// IsSuccessful reports a 2xx status.
func (r *Response) IsSuccessful() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

// IsRedirect reports a 3xx status.
func (r *Response) IsRedirect() bool {
	return r.statusCode >= 300 && r.statusCode < 400
}

// ContentLength returns the declared Content-Length, or -1 when absent or
// unparseable.
func (r *Response) ContentLength() int64 {
	v := r.header.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// CacheControl parses and returns the response cache directives.
func (r *Response) CacheControl() *CacheControl {
	return ParseCacheControl(r.header)
}

// stripBody returns a copy with the body dropped, for networkResponse /
// cacheResponse / priorResponse back-pointers. The copy's networkResponse and
// cacheResponse are cleared; its priorResponse is kept so redirect chains
// stay linked.
func (r *Response) stripBody() *Response {
	c := *r
	c.body = nil
	c.networkResponse = nil
	c.cacheResponse = nil
	return &c
}

// NewBuilder returns a ResponseBuilder seeded from this response. The
// header set is cloned so builder mutations never reach the source.
func (r *Response) NewBuilder() *ResponseBuilder {
	c := *r
	c.header = r.header.Clone()
	return &ResponseBuilder{resp: &c}
}

// ResponseBuilder assembles a Response. Interceptors use it to replace
// headers or the body before returning a response upward.
type ResponseBuilder struct {
	resp *Response
}

// NewResponseBuilder returns an empty builder.
func NewResponseBuilder() *ResponseBuilder {
	return &ResponseBuilder{resp: &Response{protocol: "HTTP/1.1", header: header.New()}}
}

// WithRequest sets the originating request.
func (b *ResponseBuilder) WithRequest(req *Request) *ResponseBuilder {
	b.resp.request = req
	return b
}

// WithStatusCode sets the numeric status code.
func (b *ResponseBuilder) WithStatusCode(code int) *ResponseBuilder {
	b.resp.statusCode = code
	return b
}

// WithReasonPhrase sets the status reason phrase.
func (b *ResponseBuilder) WithReasonPhrase(reason string) *ResponseBuilder {
	b.resp.reasonPhrase = reason
	return b
}

// WithProtocol sets the protocol string.
func (b *ResponseBuilder) WithProtocol(proto string) *ResponseBuilder {
	b.resp.protocol = proto
	return b
}

// WithHeader replaces the header set.
func (b *ResponseBuilder) WithHeader(h *header.Header) *ResponseBuilder {
	b.resp.header = h
	return b
}

// AddHeader appends a header field.
func (b *ResponseBuilder) AddHeader(name, value string) *ResponseBuilder {
	b.resp.header.Add(name, value)
	return b
}

// SetHeader replaces all fields matching name with a single field.
func (b *ResponseBuilder) SetHeader(name, value string) *ResponseBuilder {
	b.resp.header.Set(name, value)
	return b
}

// WithBody attaches the body stream.
func (b *ResponseBuilder) WithBody(body *ResponseBody) *ResponseBuilder {
	b.resp.body = body
	return b
}

// WithNetworkResponse links the body-stripped wire response.
func (b *ResponseBuilder) WithNetworkResponse(r *Response) *ResponseBuilder {
	b.resp.networkResponse = r
	return b
}

// WithCacheResponse links the body-stripped stored response.
func (b *ResponseBuilder) WithCacheResponse(r *Response) *ResponseBuilder {
	b.resp.cacheResponse = r
	return b
}

// WithPriorResponse links the response that caused this one.
func (b *ResponseBuilder) WithPriorResponse(r *Response) *ResponseBuilder {
	b.resp.priorResponse = r
	return b
}

// WithSentRequestAt records the send timestamp.
func (b *ResponseBuilder) WithSentRequestAt(t time.Time) *ResponseBuilder {
	b.resp.sentRequestAt = t
	return b
}

// WithReceivedResponseAt records the receive timestamp.
func (b *ResponseBuilder) WithReceivedResponseAt(t time.Time) *ResponseBuilder {
	b.resp.receivedResponseAt = t
	return b
}

// Build returns the assembled Response.
func (b *ResponseBuilder) Build() *Response {
	c := *b.resp
	if c.header == nil {
		c.header = header.New()
	}
	return &c
}
