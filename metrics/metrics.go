// Package metrics defines the collector capability set the client reports
// into. The prometheus subpackage provides a production implementation;
// the default is a no-op.
package metrics

import "time"

// Collector receives client-side observations. Implementations must be
// safe for concurrent use.
type Collector interface {
	// RecordCacheLookup records the outcome of one cache consultation:
	// "hit", "miss", "revalidate", "revalidated" or "unsatisfiable".
	RecordCacheLookup(result string)
	// RecordNetworkRequest records one wire round trip. status is 0 when
	// the request failed before a status line arrived.
	RecordNetworkRequest(method string, status int, duration time.Duration)
	// SetPoolConnections reports the connection pool population.
	SetPoolConnections(total, idle int)
}

// Noop is a Collector that discards everything.
type Noop struct{}

// RecordCacheLookup implements Collector.
func (Noop) RecordCacheLookup(string) {}

// RecordNetworkRequest implements Collector.
func (Noop) RecordNetworkRequest(string, int, time.Duration) {}

// SetPoolConnections implements Collector.
func (Noop) SetPoolConnections(int, int) {}
