// Package metrics holds the Prometheus collectors for the funding bot and
// the handler that exposes them.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const namespace = "fundbot"

// Metrics is the collector set. Each instance owns its registry so tests
// can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal       *prometheus.CounterVec
	DecodeErrorsTotal prometheus.Counter
	ReconnectsTotal   prometheus.Counter

	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	ReplacementsTotal *prometheus.CounterVec

	BorrowedAmount *prometheus.GaugeVec
	WeightedRate   prometheus.Gauge
	BestOfferRate  prometheus.Gauge
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Stream events applied to state, by kind",
		}, []string{"kind"}),
		DecodeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Stream messages dropped because they could not be decoded",
		}),
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Websocket reconnect attempts",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Exchange commands issued, by command and result",
		}, []string{"command", "result"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Exchange command latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		ReplacementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replacements_total",
			Help:      "Finished replacements, by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		BorrowedAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "borrowed_amount",
			Help:      "Currently borrowed amount, by usage",
		}, []string{"usage"}),
		WeightedRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "borrow_weighted_rate",
			Help:      "Amount weighted average daily rate of open borrows",
		}),
		BestOfferRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_offer_rate",
			Help:      "Cheapest daily rate on the public funding book",
		}),
	}

	m.registry.MustRegister(
		m.EventsTotal,
		m.DecodeErrorsTotal,
		m.ReconnectsTotal,
		m.CommandsTotal,
		m.CommandDuration,
		m.ReplacementsTotal,
		m.BorrowedAmount,
		m.WeightedRate,
		m.BestOfferRate,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvent counts one applied stream event.
func (m *Metrics) ObserveEvent(kind domain.EventKind) {
	m.EventsTotal.WithLabelValues(kind.String()).Inc()
}

// DecodeError counts one dropped stream message.
func (m *Metrics) DecodeError() {
	m.DecodeErrorsTotal.Inc()
}

// Reconnect counts one reconnect attempt.
func (m *Metrics) Reconnect() {
	m.ReconnectsTotal.Inc()
}

// ObserveCommand records the result and latency of an exchange command.
func (m *Metrics) ObserveCommand(command string, err error, took time.Duration) {
	m.CommandsTotal.WithLabelValues(command, commandResult(err)).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(took.Seconds())
}

// ObserveReplacement counts a finished replacement.
func (m *Metrics) ObserveReplacement(strategy string, outcome domain.ReplacementOutcome) {
	m.ReplacementsTotal.WithLabelValues(strategy, string(outcome)).Inc()
}

// SetBorrowState updates the borrow gauges.
func (m *Metrics) SetBorrowState(totals domain.Totals, weightedRate, bestOffer float64) {
	m.BorrowedAmount.WithLabelValues(string(domain.UsageUsing)).Set(totals.NetUsing)
	m.BorrowedAmount.WithLabelValues(string(domain.UsageUnused)).Set(totals.NetUnused)
	m.WeightedRate.Set(weightedRate)
	m.BestOfferRate.Set(bestOffer)
}

func commandResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
