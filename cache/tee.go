package cache

import (
	"bytes"
	"sync"
)

// BodyTee duplicates response bytes into a temp file while the caller reads
// the body. Write never fails the caller: I/O errors are recorded and turn
// the close-time Commit into a no-op, leaving any prior committed entry
// untouched.
type BodyTee struct {
	mu         sync.Mutex
	c          *Cache
	meta       *Metadata
	tmp        TempBody
	hotBuf     *bytes.Buffer
	written    int64
	failed     bool
	superseded bool
	done       bool
}

// Write sinks p into the temp file. It always reports success to keep the
// network reader flowing; see the type comment.
func (t *BodyTee) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || t.failed || t.superseded {
		return len(p), nil
	}
	if _, err := t.tmp.Write(p); err != nil {
		GetLogger().Warn("cache tee write failed, abandoning entry",
			"key", t.meta.Key, "error", err)
		t.failed = true
		t.abortTempLocked()
		return len(p), nil
	}
	t.written += int64(len(p))
	if t.hotBuf != nil {
		if t.written <= int64(t.c.hotMaxBody) {
			t.hotBuf.Write(p)
		} else {
			t.hotBuf = nil
		}
	}
	return len(p), nil
}

// Commit publishes the temp file under the entry key and writes the
// metadata record. A tee that failed or was superseded by a newer writer
// commits as a no-op.
func (t *BodyTee) Commit() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	if t.failed || t.superseded {
		t.abortTempLocked()
		t.mu.Unlock()
		t.c.unregisterWriter(t)
		return nil
	}
	t.meta.BodySize = t.written
	tmp, meta, hot := t.tmp, t.meta, t.hotBuf
	t.mu.Unlock()

	return t.c.commit(t, tmp, meta, hot)
}

// Abort discards the temp file and leaves the store untouched.
func (t *BodyTee) Abort() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.abortTempLocked()
	t.mu.Unlock()
	t.c.unregisterWriter(t)
}

// supersede marks the tee dead because a newer writer took the key.
func (t *BodyTee) supersede() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.superseded = true
}

func (t *BodyTee) abortTempLocked() {
	if t.tmp == nil {
		return
	}
	if err := t.tmp.Abort(); err != nil {
		GetLogger().Warn("failed to discard cache temp file", "key", t.meta.Key, "error", err)
	}
	t.tmp = nil
}
