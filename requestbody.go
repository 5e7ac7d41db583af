package httpclient

import (
	"bytes"
	"io"
	"strings"
)

// RequestBody is a restartable source of request payload bytes. Restartable
// means Reader can be called more than once (redirect follow-ups and retry
// policies re-send the body), each call yielding the bytes from the start.
type RequestBody struct {
	mediaType string
	length    int64
	open      func() (io.Reader, error)
}

// NewRequestBody returns a body backed by an arbitrary restartable source.
// length is the payload size in bytes, or -1 if unknown (sent chunked).
func NewRequestBody(mediaType string, length int64, open func() (io.Reader, error)) *RequestBody {
	if length < 0 {
		length = -1
	}
	return &RequestBody{mediaType: mediaType, length: length, open: open}
}

// NewRequestBodyBytes returns a body backed by an in-memory byte slice.
func NewRequestBodyBytes(mediaType string, data []byte) *RequestBody {
	return &RequestBody{
		mediaType: mediaType,
		length:    int64(len(data)),
		open: func() (io.Reader, error) {
			return bytes.NewReader(data), nil
		},
	}
}

// NewRequestBodyString returns a body backed by an in-memory string.
func NewRequestBodyString(mediaType, data string) *RequestBody {
	return &RequestBody{
		mediaType: mediaType,
		length:    int64(len(data)),
		open: func() (io.Reader, error) {
			return strings.NewReader(data), nil
		},
	}
}

// MediaType returns the payload media type, or "" if not set.
func (b *RequestBody) MediaType() string { return b.mediaType }

// Length returns the payload size in bytes, or -1 if unknown.
func (b *RequestBody) Length() int64 { return b.length }

// HasLength reports whether the payload size is known.
func (b *RequestBody) HasLength() bool { return b.length >= 0 }

// Reader opens a fresh reader over the payload from the start.
func (b *RequestBody) Reader() (io.Reader, error) {
	return b.open()
}
