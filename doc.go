// Package httpclient is an HTTP/1.1 client library with a persistent
// RFC 7234 response cache, a reusable connection pool, and a composable
// interceptor chain.
//
// Key features:
//   - Connection pooling keyed by endpoint, TLS and proxy identity, with
//     idle expiry, to reduce latency.
//   - Multi-level (memory and file) response caching: an on-disk metadata
//     database with content-addressed body files, an in-memory hot layer
//     for small bodies, and LRU eviction under a byte budget.
//   - Application and network interceptors to customize requests and
//     responses around the cache+network machinery.
//   - Synchronous execution on the caller's goroutine and cooperatively
//     cancelable asynchronous execution on a bounded worker pool.
//
// A minimal client:
//
//	respCache, err := httpclient.NewDiskCache("/tmp/httpcache", 64<<20)
//	if err != nil { ... }
//	client, err := httpclient.NewBuilder().
//		WithCache(respCache).
//		WithTimeout(30 * time.Second).
//		Build()
//	if err != nil { ... }
//
//	req, err := httpclient.NewRequestBuilder("http://example.com/data").Build()
//	if err != nil { ... }
//	resp, err := client.NewCall(req).Execute()
//	if err != nil { ... }
//	body, err := resp.Body().String()
package httpclient
