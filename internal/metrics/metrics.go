// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package metrics provides Prometheus metrics for the live-query layer and
// the gateway server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultHit   = "hit"
	ResultMiss  = "miss"
)

// Metrics holds all Prometheus metrics for huddle.
type Metrics struct {
	// Multiplexer metrics
	SubscriptionsActive prometheus.Gauge
	AttachesTotal       prometheus.Counter
	StoreSubscribes     prometheus.Counter
	FanoutTotal         *prometheus.CounterVec

	// Relationship cache metrics
	RelcacheLookups      *prometheus.CounterVec
	RelcacheStoreQueries prometheus.Counter

	// Pager metrics
	PagerPages *prometheus.CounterVec

	// Server metrics
	ServerRequests *prometheus.CounterVec
}

// New creates all metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.SubscriptionsActive = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_livequery_subscriptions_active",
			Help: "Number of open store subscriptions held by the multiplexer",
		},
	)

	m.AttachesTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_livequery_attaches_total",
			Help: "Total number of listener attaches",
		},
	)

	m.StoreSubscribes = f.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_livequery_store_subscribes_total",
			Help: "Total number of store subscriptions opened",
		},
	)

	m.FanoutTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_livequery_fanout_total",
			Help: "Total number of change batches fanned out",
		},
		[]string{"result"},
	)

	m.RelcacheLookups = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_relcache_lookups_total",
			Help: "Relationship cache lookups by outcome",
		},
		[]string{"result"},
	)

	m.RelcacheStoreQueries = f.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_relcache_store_queries_total",
			Help: "Store queries issued by the relationship cache",
		},
	)

	m.PagerPages = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_pager_pages_total",
			Help: "Pages fetched by pagers",
		},
		[]string{"result"},
	)

	m.ServerRequests = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_server_requests_total",
			Help: "Gateway requests by route and status",
		},
		[]string{"route", "status"},
	)

	return m
}

// Discard returns metrics registered on a private registry, for callers that
// do not export them.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
