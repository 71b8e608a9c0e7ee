// Package metrics exposes Prometheus instrumentation for the ranking layer.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leaderboard"

// Read sources for ranked queries
const (
	SourceIndex = "rank_index"
	SourceStore = "store"
)

// Recorder receives ranking events. A nil *Metrics is a valid no-op recorder.
type Recorder interface {
	RankIndexOp(op string, err error)
	RankedRead(source string)
	DanglingIDs(n int)
	RankIndexState(state int)
}

// Metrics holds the collectors registered for one process
type Metrics struct {
	registry prometheus.Gatherer

	rankIndexOps   *prometheus.CounterVec
	rankedReads    *prometheus.CounterVec
	danglingIDs    prometheus.Counter
	rankIndexState prometheus.Gauge
	httpRequests   *prometheus.CounterVec
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		rankIndexOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rank_index",
			Name:      "operations_total",
			Help:      "Rank index operations by operation and result.",
		}, []string{"op", "result"}),
		rankedReads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranked_reads_total",
			Help:      "Ranked reads by the source that served them.",
		}, []string{"source"}),
		danglingIDs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rank_index",
			Name:      "dangling_ids_total",
			Help:      "Ranked ids dropped because the player no longer exists.",
		}),
		rankIndexState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rank_index",
			Name:      "state",
			Help:      "Rank index reachability: 0 unknown, 1 connected, 2 disconnected.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
	}
}

// RankIndexOp counts one rank index call
func (m *Metrics) RankIndexOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.rankIndexOps.WithLabelValues(op, result).Inc()
}

// RankedRead counts one top-ranked read by source
func (m *Metrics) RankedRead(source string) {
	if m == nil {
		return
	}
	m.rankedReads.WithLabelValues(source).Inc()
}

// DanglingIDs counts ids dropped during hydration
func (m *Metrics) DanglingIDs(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.danglingIDs.Add(float64(n))
}

// RankIndexState records the latest reachability state
func (m *Metrics) RankIndexState(state int) {
	if m == nil {
		return
	}
	m.rankIndexState.Set(float64(state))
}

// HTTPRequest counts one served request
func (m *Metrics) HTTPRequest(route, method string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
