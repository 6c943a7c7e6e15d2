// Package metrics holds keygate's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dukerupert/keygate/internal/model"
)

// Activation results.
const (
	ResultActivated = "activated"
	ResultRejected  = "rejected"
	ResultError     = "error"
)

// Gate decisions.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionError = "error"
)

// Metrics groups the counters and gauges the service updates. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	tokensIssued  *prometheus.CounterVec
	activations   *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
	tokens        *prometheus.GaugeVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_tokens_issued_total",
			Help: "Activation tokens issued, by plan.",
		}, []string{"plan"}),
		activations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_activations_total",
			Help: "Activation attempts, by result.",
		}, []string{"result"}),
		gateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_gate_decisions_total",
			Help: "Access gate decisions, by guard and decision.",
		}, []string{"guard", "decision"}),
		tokens: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keygate_tokens",
			Help: "Tokens currently stored, by state.",
		}, []string{"state"}),
	}
}

func (m *Metrics) TokenIssued(plan model.Plan) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(string(plan)).Inc()
}

func (m *Metrics) Activation(result string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(result).Inc()
}

func (m *Metrics) GateDecision(guard, decision string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(guard, decision).Inc()
}

// SetTokenStats replaces the per-state token gauge.
func (m *Metrics) SetTokenStats(s model.TokenStats) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("unclaimed").Set(float64(s.Unclaimed))
	m.tokens.WithLabelValues("active").Set(float64(s.Active))
	m.tokens.WithLabelValues("expired").Set(float64(s.Expired))
	m.tokens.WithLabelValues("revoked").Set(float64(s.Revoked))
}
