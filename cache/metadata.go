package cache

import (
	"encoding/json"
	"fmt"

	"github.com/sandrolain/httpclient/header"
)

// SchemaVersion identifies the metadata record layout. Stores that find a
// different version on disk recreate themselves.
const SchemaVersion = 1

// Metadata is one persisted cache record. The JSON field names are the
// stable wire format for schema version 1 and must not change within it.
type Metadata struct {
	Key                     string         `json:"key"`
	URL                     string         `json:"url"`
	Method                  string         `json:"method"`
	StatusCode              int            `json:"status"`
	ReasonPhrase            string         `json:"reason"`
	Header                  *header.Header `json:"headers"`
	BodySize                int64          `json:"bodySize"`
	SentRequestAtEpoch      int64          `json:"sentRequestAtEpoch"`
	ReceivedResponseAtEpoch int64          `json:"receivedResponseAtEpoch"`
	CreatedAtEpoch          int64          `json:"createdAtEpoch"`
	LastAccessedAtEpoch     int64          `json:"lastAccessedAtEpoch"`
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	c := *m
	c.Header = m.Header.Clone()
	return &c
}

// EncodeMetadata serializes m for storage.
func EncodeMetadata(m *Metadata) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("cache: encode metadata for key %q: %w", m.Key, err)
	}
	return data, nil
}

// DecodeMetadata deserializes a stored record. Undecodable bytes are
// reported as corruption so the store gets recreated.
func DecodeMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("cache: decode metadata: %v: %w", err, ErrCorrupted)
	}
	if m.Header == nil {
		m.Header = header.New()
	}
	return &m, nil
}
