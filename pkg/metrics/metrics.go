// Package metrics exposes Prometheus collectors for the cache.
//
// Every method is safe on a nil *Collector, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for requests.
const (
	OutcomeOK          = "ok"
	OutcomeServerError = "server_error"
	OutcomeNetwork     = "network_unavailable"
	OutcomeTimeout     = "timeout"
	OutcomeMalformed   = "malformed"
	OutcomeCacheHit    = "cache_hit"
)

type Collector struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	StoreCommits  prometheus.Counter
	StoreRecords  prometheus.Gauge
	Notifications prometheus.Counter

	StalePages prometheus.Counter
	Rollbacks  prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewCollector creates collectors under namespace and registers them with a
// fresh registry, available through Registry.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "GraphQL requests by operation kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "GraphQL request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		StoreCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_commits_total",
			Help:      "Store updates that changed at least one record",
		}),
		StoreRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_records",
			Help:      "Records currently held by the store",
		}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_notifications_total",
			Help:      "Subscriber callbacks invoked",
		}),
		StalePages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_pages_dropped_total",
			Help:      "Pagination results dropped because a refetch superseded them",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_rollbacks_total",
			Help:      "Optimistic mutation updates rolled back after a failure",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_hits_total",
			Help:      "Query responses served from the response cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_misses_total",
			Help:      "Query responses not found in the response cache",
		}),
	}

	c.registry.MustRegister(
		c.Requests,
		c.RequestDuration,
		c.StoreCommits,
		c.StoreRecords,
		c.Notifications,
		c.StalePages,
		c.Rollbacks,
		c.CacheHits,
		c.CacheMisses,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveRequest(kind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(kind, outcome).Inc()
	c.RequestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (c *Collector) StoreCommitted(records int) {
	if c == nil {
		return
	}
	c.StoreCommits.Inc()
	c.StoreRecords.Set(float64(records))
}

func (c *Collector) Notified() {
	if c == nil {
		return
	}
	c.Notifications.Inc()
}

func (c *Collector) StalePageDropped() {
	if c == nil {
		return
	}
	c.StalePages.Inc()
}

func (c *Collector) RolledBack() {
	if c == nil {
		return
	}
	c.Rollbacks.Inc()
}

func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.CacheHits.Inc()
		return
	}
	c.CacheMisses.Inc()
}
