package httpclient

import (
	"errors"
	"io"
	"sync"
	"time"
)

// drainTimeout bounds the attempt to drain an unfinished body on close so
// the connection can be reused. Draining past this abandons the connection.
const drainTimeout = 500 * time.Millisecond

// bodySink receives a copy of every body byte read from the network.
// Implemented by cache.BodyTee. Write must not fail the reader: sinks record
// failures internally and turn Commit into a no-op.
type bodySink interface {
	io.Writer
	Commit() error
	Abort()
}

// ResponseBody is a single-consumer, one-shot response payload stream.
// After Close, every operation except Close fails with an IllegalState
// error. Reading past the end returns io.EOF, as usual for Go streams.
type ResponseBody struct {
	stream    io.ReadCloser
	length    int64
	mediaType string
}

func newResponseBody(stream io.ReadCloser, length int64, mediaType string) *ResponseBody {
	if length < 0 {
		length = -1
	}
	return &ResponseBody{stream: stream, length: length, mediaType: mediaType}
}

// Length returns the payload size in bytes, or -1 if unknown.
func (b *ResponseBody) Length() int64 { return b.length }

// HasLength reports whether the payload size is known.
func (b *ResponseBody) HasLength() bool { return b.length >= 0 }

// MediaType returns the Content-Type value observed when the body was
// created, or "".
func (b *ResponseBody) MediaType() string { return b.mediaType }

// Read reads up to len(p) bytes into p.
func (b *ResponseBody) Read(p []byte) (int, error) {
	return b.stream.Read(p)
}

// Close releases the stream and any resources bound to it (the pooled
// connection for network bodies, the cache file handle for cached bodies).
// Close is idempotent.
func (b *ResponseBody) Close() error {
	return b.stream.Close()
}

// Bytes reads the remaining payload fully and closes the stream.
func (b *ResponseBody) Bytes() ([]byte, error) {
	data, err := io.ReadAll(b.stream)
	closeErr := b.stream.Close()
	if err != nil {
		return nil, err
	}
	return data, closeErr
}

// String reads the remaining payload fully as a string and closes the
// stream.
func (b *ResponseBody) String() (string, error) {
	data, err := b.Bytes()
	return string(data), err
}

// networkBody streams bytes from the transport and returns the connection
// to the pool once the payload is consumed. Closing before end-of-stream
// abandons the connection instead of reusing it.
type networkBody struct {
	mu        sync.Mutex
	rc        io.ReadCloser
	release   func(reuse bool)
	cancelled func() bool
	eof       bool
	closed    bool
	released  bool
}

func newNetworkBody(rc io.ReadCloser, release func(reuse bool), cancelled func() bool) *networkBody {
	return &networkBody{rc: rc, release: release, cancelled: cancelled}
}

// Read is single-consumer; the mutex guards only the state flags, never
// the blocking wire read, so Close stays responsive during a slow read.
func (b *networkBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, newError(KindIllegalState, "read after close")
	}
	if b.cancelled != nil && b.cancelled() {
		b.releaseLocked(false)
		b.mu.Unlock()
		return 0, newError(KindIllegalState, "read on cancelled call")
	}
	if b.eof {
		b.mu.Unlock()
		return 0, io.EOF
	}
	b.mu.Unlock()

	n, err := b.rc.Read(p)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		if errors.Is(err, io.EOF) {
			b.eof = true
			b.releaseLocked(true)
			return n, io.EOF
		}
		b.releaseLocked(false)
		return n, mapNetError(err)
	}
	return n, nil
}

func (b *networkBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if !b.eof {
		b.releaseLocked(false)
	}
	if err := b.rc.Close(); err != nil {
		GetLogger().Warn("failed to close network body", "error", err)
	}
	return nil
}

func (b *networkBody) releaseLocked(reuse bool) {
	if b.released {
		return
	}
	b.released = true
	if b.release != nil {
		b.release(reuse)
	}
}

// cachingBody wraps a network stream and tees every byte into a cache sink.
// A fully read stream commits the sink; failures, cancellation, or an
// unfinished close that cannot be drained within drainTimeout abort it.
type cachingBody struct {
	mu        sync.Mutex
	rc        io.ReadCloser
	sink      bodySink
	release   func(reuse bool)
	cancelled func() bool
	eof       bool
	closed    bool
	released  bool
}

func newCachingBody(rc io.ReadCloser, sink bodySink, release func(reuse bool), cancelled func() bool) *cachingBody {
	return &cachingBody{rc: rc, sink: sink, release: release, cancelled: cancelled}
}

// Read is single-consumer; like networkBody, the blocking wire read
// happens outside the mutex.
func (b *cachingBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, newError(KindIllegalState, "read after close")
	}
	if b.cancelled != nil && b.cancelled() {
		b.sink.Abort()
		b.releaseLocked(false)
		b.mu.Unlock()
		return 0, newError(KindIllegalState, "read on cancelled call")
	}
	if b.eof {
		b.mu.Unlock()
		return 0, io.EOF
	}
	b.mu.Unlock()

	n, err := b.rc.Read(p)

	b.mu.Lock()
	defer b.mu.Unlock()
	if n > 0 {
		// Sink failures never surface here; the sink abandons its temp
		// file and the close-time commit becomes a no-op.
		_, _ = b.sink.Write(p[:n])
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			b.eof = true
			if commitErr := b.sink.Commit(); commitErr != nil {
				GetLogger().Warn("cache commit failed", "error", commitErr)
			}
			b.releaseLocked(true)
			return n, io.EOF
		}
		b.sink.Abort()
		b.releaseLocked(false)
		return n, mapNetError(err)
	}
	return n, nil
}

func (b *cachingBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	switch {
	case b.eof:
		// Fully consumed; the sink is already committed.
	case b.cancelled != nil && b.cancelled():
		b.sink.Abort()
		b.releaseLocked(false)
	default:
		b.drainLocked()
	}
	if err := b.rc.Close(); err != nil {
		GetLogger().Warn("failed to close network body", "error", err)
	}
	return nil
}

// drainLocked tries to consume the remaining bytes within drainTimeout so
// the connection stays reusable and the cache write completes. On timeout
// the connection is abandoned and the cache write discarded.
func (b *cachingBody) drainLocked() {
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(b.sink, b.rc)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			b.sink.Abort()
			b.releaseLocked(false)
			return
		}
		b.eof = true
		if commitErr := b.sink.Commit(); commitErr != nil {
			GetLogger().Warn("cache commit failed", "error", commitErr)
		}
		b.releaseLocked(true)
	case <-time.After(drainTimeout):
		GetLogger().Debug("body drain timed out, abandoning connection")
		b.sink.Abort()
		b.releaseLocked(false)
	}
}

func (b *cachingBody) releaseLocked(reuse bool) {
	if b.released {
		return
	}
	b.released = true
	if b.release != nil {
		b.release(reuse)
	}
}

// cacheBody streams bytes out of the cache body store. Closing releases the
// file handle only; no network resources are involved.
type cacheBody struct {
	mu     sync.Mutex
	rc     io.ReadCloser
	closed bool
}

func newCacheBody(rc io.ReadCloser) *cacheBody {
	return &cacheBody{rc: rc}
}

func (b *cacheBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, newError(KindIllegalState, "read after close")
	}
	n, err := b.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, wrapError(KindCacheIo, err, "cached body read failed")
	}
	return n, err
}

func (b *cacheBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.rc.Close()
}
