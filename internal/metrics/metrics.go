// Package metrics defines the Prometheus collectors for ingestion, query
// execution and language-model calls.
//
// A nil *Recorder is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "queryx"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder holds all collectors.
type Recorder struct {
	TablesMaterialized prometheus.Counter
	RowsMaterialized   prometheus.Counter

	// QueriesTotal counts engine executions. Labels: outcome.
	QueriesTotal *prometheus.CounterVec
	// QueryDuration observes engine execution latency. Labels: outcome.
	QueryDuration *prometheus.HistogramVec

	// LLMRequestsTotal counts completions. Labels: kind (generation, fix), outcome.
	LLMRequestsTotal *prometheus.CounterVec
	// LLMDuration observes completion latency. Labels: kind.
	LLMDuration *prometheus.HistogramVec
	// TokensTotal counts reported tokens. Labels: direction (prompt, completion).
	TokensTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which suits tests.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		TablesMaterialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "tables_total",
			Help:      "Tables materialized into the engine",
		}),
		RowsMaterialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "Rows materialized into the engine",
		}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "queries_total",
			Help:      "SQL executions by outcome",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "query_duration_seconds",
			Help:      "SQL execution latency in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30},
		}, []string{"outcome"}),
		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Language model completions by kind and outcome",
		}, []string{"kind", "outcome"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Language model completion latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens reported by the language model provider",
		}, []string{"direction"}),
	}

	if reg != nil {
		reg.MustRegister(
			r.TablesMaterialized,
			r.RowsMaterialized,
			r.QueriesTotal,
			r.QueryDuration,
			r.LLMRequestsTotal,
			r.LLMDuration,
			r.TokensTotal,
		)
	}
	return r
}

// ObserveMaterialize records one materialized table.
func (r *Recorder) ObserveMaterialize(rows int) {
	if r == nil {
		return
	}
	r.TablesMaterialized.Inc()
	r.RowsMaterialized.Add(float64(rows))
}

// ObserveQuery records one engine execution.
func (r *Recorder) ObserveQuery(d time.Duration, err error) {
	if r == nil {
		return
	}
	o := outcome(err)
	r.QueriesTotal.WithLabelValues(o).Inc()
	r.QueryDuration.WithLabelValues(o).Observe(d.Seconds())
}

// ObserveCompletion records one language model call and its token usage.
func (r *Recorder) ObserveCompletion(kind string, d time.Duration, promptTokens, completionTokens int, err error) {
	if r == nil {
		return
	}
	r.LLMRequestsTotal.WithLabelValues(kind, outcome(err)).Inc()
	r.LLMDuration.WithLabelValues(kind).Observe(d.Seconds())
	if promptTokens > 0 {
		r.TokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		r.TokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
