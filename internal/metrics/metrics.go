// Package metrics holds the service's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shadowbox"

type Metrics struct {
	registry  *prometheus.Registry
	claims    *prometheus.CounterVec
	redeems   *prometheus.CounterVec
	withdraws *prometheus.CounterVec
	payouts   *prometheus.CounterVec
	requests  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Voucher claims by tier and outcome.",
		}, []string{"tier", "outcome"}),
		redeems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeems_total",
			Help:      "Voucher redemptions by outcome class.",
		}, []string{"outcome"}),
		withdraws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Reward withdrawals by outcome class.",
		}, []string{"outcome"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Payout job attempts by status.",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		m.claims, m.redeems, m.withdraws, m.payouts, m.requests,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObserveClaim(tier, outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) ObserveRedeem(outcome string) {
	if m == nil {
		return
	}
	m.redeems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveWithdraw(outcome string) {
	if m == nil {
		return
	}
	m.withdraws.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePayout(status string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRequest(route, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
