// Package prometheus implements the metrics.Collector capability set with
// Prometheus instruments.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records client observations into Prometheus instruments.
type Collector struct {
	cacheLookups    *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	poolTotal       prometheus.Gauge
	poolIdle        prometheus.Gauge
}

// NewCollector builds a Collector and registers its instruments with reg
// (use prometheus.DefaultRegisterer for the default registry).
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpclient_cache_lookups_total",
				Help: "Cache consultations by outcome",
			},
			[]string{"result"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpclient_requests_total",
				Help: "Network round trips by method and status code",
			},
			[]string{"method", "status_code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "httpclient_request_duration_seconds",
				Help:    "Network round trip duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		poolTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpclient_pool_connections",
			Help: "Connections tracked by the pool, idle and in-use",
		}),
		poolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpclient_pool_idle_connections",
			Help: "Idle connections awaiting reuse",
		}),
	}
	for _, col := range []prometheus.Collector{
		c.cacheLookups, c.requestsTotal, c.requestDuration, c.poolTotal, c.poolIdle,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordCacheLookup implements metrics.Collector.
func (c *Collector) RecordCacheLookup(result string) {
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordNetworkRequest implements metrics.Collector.
func (c *Collector) RecordNetworkRequest(method string, status int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetPoolConnections implements metrics.Collector.
func (c *Collector) SetPoolConnections(total, idle int) {
	c.poolTotal.Set(float64(total))
	c.poolIdle.Set(float64(idle))
}
