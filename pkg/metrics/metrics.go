// Package metrics exposes the prover and attestor's Prometheus metrics.
// spec.md section 1 puts "logging" and general observability ambient
// concerns out of scope for the core algorithms, but SPEC_FULL.md's
// ambient stack still wires the teacher's Prometheus dependency rather
// than leaving it unused.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every counter/gauge/histogram the prover and attestor
// record, registered against a caller-supplied registry so tests can
// use prometheus.NewRegistry() instead of the global default.
type Metrics struct {
	ProveDuration   prometheus.Histogram
	ProveFailures   *prometheus.CounterVec
	ReportsSigned   prometheus.Counter
	AttestorVotes   *prometheus.CounterVec
	RPCErrorsByKind *prometheus.CounterVec
}

// New registers and returns a Metrics set. Callers typically pass
// prometheus.DefaultRegisterer in production and prometheus.NewRegistry()
// in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sgx_prover",
			Name:      "prove_duration_seconds",
			Help:      "Wall-clock duration of a single prove() request.",
			Buckets:   prometheus.DefBuckets,
		}),
		ProveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sgx_prover",
			Name:      "prove_failures_total",
			Help:      "Count of prove() requests that aborted without signing, by error kind.",
		}, []string{"kind"}),
		ReportsSigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sgx_prover",
			Name:      "reports_signed_total",
			Help:      "Count of PoE reports successfully signed.",
		}),
		AttestorVotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sgx_attestor",
			Name:      "votes_total",
			Help:      "Count of votes cast by the attestor loop, by outcome.",
		}, []string{"outcome"}),
		RPCErrorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sgx_prover",
			Name:      "rpc_errors_total",
			Help:      "Count of JSON-RPC errors returned to callers, by error-taxonomy kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.ProveDuration, m.ProveFailures, m.ReportsSigned, m.AttestorVotes, m.RPCErrorsByKind)
	return m
}
