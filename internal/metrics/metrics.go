/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package metrics exposes the Prometheus collectors for connection
// traffic, capture counts, subscriber fan-out, and geolocation cache
// behavior, plus a handler to serve them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector baitline registers. A nil *Metrics is
// safe to call methods on: every method is a no-op guard, so callers
// don't need to branch on whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal   *prometheus.CounterVec
	connectionsRefused *prometheus.CounterVec
	activeConnections  *prometheus.GaugeVec
	capturesTotal      *prometheus.CounterVec
	connectionDuration *prometheus.HistogramVec

	subscribersActive prometheus.Gauge
	subscribersTotal   prometheus.Counter
	broadcastFailures  prometheus.Counter

	geoCacheHits   prometheus.Counter
	geoCacheMisses prometheus.Counter
	geoLookupFails prometheus.Counter
}

// New builds and registers a fresh collector set against its own
// registry, so multiple Metrics instances (as in tests) never collide
// on Prometheus's global default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baitline",
			Name:      "connections_total",
			Help:      "Total connections accepted, by protocol.",
		}, []string{"protocol"}),

		connectionsRefused: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baitline",
			Name:      "connections_refused_total",
			Help:      "Total connections refused by the scheduler, by protocol.",
		}, []string{"protocol"}),

		activeConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "baitline",
			Name:      "connections_active",
			Help:      "Currently active connections, by protocol.",
		}, []string{"protocol"}),

		capturesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baitline",
			Name:      "captures_total",
			Help:      "Total credential captures, by protocol.",
		}, []string{"protocol"}),

		connectionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "baitline",
			Name:      "connection_duration_seconds",
			Help:      "Connection lifetime from admission to cleanup.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"protocol"}),

		subscribersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "baitline",
			Name:      "subscribers_active",
			Help:      "Currently connected dashboard subscribers.",
		}),

		subscribersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "baitline",
			Name:      "subscribers_total",
			Help:      "Total dashboard subscribers ever connected.",
		}),

		broadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "baitline",
			Name:      "broadcast_failures_total",
			Help:      "Total broadcast writes that failed and removed a subscriber.",
		}),

		geoCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "baitline",
			Subsystem: "geo",
			Name:      "cache_hits_total",
			Help:      "Geolocation lookups served from cache.",
		}),

		geoCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "baitline",
			Subsystem: "geo",
			Name:      "cache_misses_total",
			Help:      "Geolocation lookups that required an upstream fetch.",
		}),

		geoLookupFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "baitline",
			Subsystem: "geo",
			Name:      "lookup_failures_total",
			Help:      "Geolocation upstream fetches that failed.",
		}),
	}
}

// Handler returns the HTTP handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionAccepted(protocol string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(protocol).Inc()
	m.activeConnections.WithLabelValues(protocol).Inc()
}

func (m *Metrics) ConnectionFinished(protocol string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.activeConnections.WithLabelValues(protocol).Dec()
	m.connectionDuration.WithLabelValues(protocol).Observe(durationSeconds)
}

func (m *Metrics) ConnectionRefused(protocol string) {
	if m == nil {
		return
	}
	m.connectionsRefused.WithLabelValues(protocol).Inc()
}

func (m *Metrics) CaptureRecorded(protocol string) {
	if m == nil {
		return
	}
	m.capturesTotal.WithLabelValues(protocol).Inc()
}

func (m *Metrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.subscribersActive.Inc()
	m.subscribersTotal.Inc()
}

func (m *Metrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.subscribersActive.Dec()
}

func (m *Metrics) BroadcastFailed() {
	if m == nil {
		return
	}
	m.broadcastFailures.Inc()
}

func (m *Metrics) GeoCacheHit() {
	if m == nil {
		return
	}
	m.geoCacheHits.Inc()
}

func (m *Metrics) GeoCacheMiss() {
	if m == nil {
		return
	}
	m.geoCacheMisses.Inc()
}

func (m *Metrics) GeoLookupFailed() {
	if m == nil {
		return
	}
	m.geoLookupFails.Inc()
}
