// Package metrics registers the engine's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's instruments. Outcome label values are "ok" or
// the structured error kind.
type Metrics struct {
	Interactions *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	Tokens       *prometheus.CounterVec
}

// New registers the instruments on reg. Pass prometheus.DefaultRegisterer
// in production; tests use a private registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Interactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "uichat_interactions_total",
			Help: "Completed interactions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "uichat_interaction_duration_seconds",
			Help:    "End-to-end interaction duration by provider.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"provider"}),
		Tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "uichat_tokens_total",
			Help: "Estimated tokens by provider and direction (sent, received).",
		}, []string{"provider", "direction"}),
	}
}

// ObserveInteraction records one finished interaction.
func (m *Metrics) ObserveInteraction(provider, outcome string, elapsed time.Duration) {
	m.Interactions.WithLabelValues(provider, outcome).Inc()
	m.Duration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// AddTokens records estimated token counts for one interaction.
func (m *Metrics) AddTokens(provider string, sent, received int) {
	m.Tokens.WithLabelValues(provider, "sent").Add(float64(sent))
	m.Tokens.WithLabelValues(provider, "received").Add(float64(received))
}
