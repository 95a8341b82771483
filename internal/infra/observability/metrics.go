package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	autoRealized      *prometheus.CounterVec
	matchesCreated    *prometheus.CounterVec
	matchDecisions    *prometheus.CounterVec
	skippedCandidates *prometheus.CounterVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of core operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		autoRealized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_auto_realized_total",
				Help: "Ledger entries materialized by auto-realize, by series kind.",
			},
			[]string{"kind"},
		),
		matchesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reconciliation_matches_created_total",
				Help: "Reconciliation matches created, by initial status.",
			},
			[]string{"status"},
		),
		matchDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reconciliation_decisions_total",
				Help: "Accept/reject decisions applied to matches.",
			},
			[]string{"decision"},
		),
		skippedCandidates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_skipped_candidates_total",
				Help: "Series or transactions skipped inside a batch pass.",
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_external_errors_total",
				Help: "Total errors from backing services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_http_requests_total",
				Help: "HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// RecordOperation records the duration of a core operation.
func (m *Metrics) RecordOperation(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// AddAutoRealized counts entries created by auto-realize ("transaction" or "transfer").
func (m *Metrics) AddAutoRealized(kind string, n int) {
	m.autoRealized.WithLabelValues(kind).Add(float64(n))
}

// IncrMatchCreated counts a new reconciliation match by status.
func (m *Metrics) IncrMatchCreated(status string) {
	m.matchesCreated.WithLabelValues(status).Inc()
}

// IncrMatchDecision counts an accept or reject.
func (m *Metrics) IncrMatchDecision(decision string) {
	m.matchDecisions.WithLabelValues(decision).Inc()
}

// IncrSkipped counts a candidate skipped inside a batch operation.
func (m *Metrics) IncrSkipped(operation string) {
	m.skippedCandidates.WithLabelValues(operation).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Snapshot is a JSON-friendly view of the core counters.
type Snapshot struct {
	AutoRealizedTransactions float64 `json:"auto_realized_transactions"`
	AutoRealizedTransfers    float64 `json:"auto_realized_transfers"`
	MatchesAutoMatched       float64 `json:"matches_auto_matched"`
	MatchesPending           float64 `json:"matches_pending"`
	MatchesManual            float64 `json:"matches_manual"`
	Accepted                 float64 `json:"accepted"`
	Rejected                 float64 `json:"rejected"`
	AutoMatchRate            float64 `json:"auto_match_rate"`
	CacheHitRate             float64 `json:"cache_hit_rate"`
}

// Snapshot reads the current counter values back from the registry.
func (m *Metrics) Snapshot() *Snapshot {
	s := &Snapshot{
		AutoRealizedTransactions: getCounterValue(m.autoRealized, "transaction"),
		AutoRealizedTransfers:    getCounterValue(m.autoRealized, "transfer"),
		MatchesAutoMatched:       getCounterValue(m.matchesCreated, "auto_matched"),
		MatchesPending:           getCounterValue(m.matchesCreated, "pending"),
		MatchesManual:            getCounterValue(m.matchesCreated, "accepted"),
		Accepted:                 getCounterValue(m.matchDecisions, "accept"),
		Rejected:                 getCounterValue(m.matchDecisions, "reject"),
	}

	if scored := s.MatchesAutoMatched + s.MatchesPending; scored > 0 {
		s.AutoMatchRate = s.MatchesAutoMatched / scored
	}
	hits := getCounterValue(m.cacheHits, "accounts")
	misses := getCounterValue(m.cacheMisses, "accounts")
	if hits+misses > 0 {
		s.CacheHitRate = hits / (hits + misses)
	}
	return s
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
