package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "model_registry"

// Lookup results
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupStore = "store"
)

// Metrics holds the registry, facade and usage collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	CacheLookups      *prometheus.CounterVec
	StoreLoads        *prometheus.CounterVec
	Syncs             *prometheus.CounterVec
	SyncDuration      prometheus.Histogram
	ActiveModels      prometheus.Gauge
	Completions       *prometheus.CounterVec
	CompletionLatency *prometheus.HistogramVec
	CompletionTokens  *prometheus.CounterVec
	UsageRecords      *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "lookups_total",
				Help:      "Model lookups by result (hit/miss/store)",
			},
			[]string{"result"},
		),
		StoreLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "store_loads_total",
				Help:      "Backing store loads into the in-memory mirror",
			},
			[]string{"result"},
		),
		Syncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "syncs_total",
				Help:      "Upstream catalog syncs by result",
			},
			[]string{"result"},
		),
		SyncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "sync_duration_seconds",
				Help:      "Duration of upstream catalog syncs",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		ActiveModels: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "active_models",
				Help:      "Active models held in memory",
			},
		),
		Completions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "askai",
				Name:      "completions_total",
				Help:      "Completion attempts by status and error kind",
			},
			[]string{"status", "kind"},
		),
		CompletionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "askai",
				Name:      "completion_duration_seconds",
				Help:      "Completion latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		CompletionTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "askai",
				Name:      "tokens_total",
				Help:      "Tokens consumed by type",
			},
			[]string{"type"},
		),
		UsageRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "records_total",
				Help:      "Usage records handed to the queue by result",
			},
			[]string{"result"},
		),
	}
}

// RecordLookup counts a GetModel lookup
func (m *Metrics) RecordLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordStoreLoad counts a mirror reload ("ok", "empty" or "error")
func (m *Metrics) RecordStoreLoad(result string) {
	if m == nil {
		return
	}
	m.StoreLoads.WithLabelValues(result).Inc()
}

// RecordSync records a finished sync
func (m *Metrics) RecordSync(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Syncs.WithLabelValues(result).Inc()
	m.SyncDuration.Observe(elapsed.Seconds())
}

// SetActiveModels sets the number of models held in memory
func (m *Metrics) SetActiveModels(n int) {
	if m == nil {
		return
	}
	m.ActiveModels.Set(float64(n))
}

// RecordCompletion records a completion attempt; kind is empty on success
func (m *Metrics) RecordCompletion(status, kind string, elapsed time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.Completions.WithLabelValues(status, kind).Inc()
	m.CompletionLatency.WithLabelValues(status).Observe(elapsed.Seconds())
	if promptTokens > 0 {
		m.CompletionTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.CompletionTokens.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

// RecordUsage counts a usage record hand-off ("enqueued" or "failed")
func (m *Metrics) RecordUsage(result string) {
	if m == nil {
		return
	}
	m.UsageRecords.WithLabelValues(result).Inc()
}
