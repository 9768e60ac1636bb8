package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawler-edge/internal/events"
)

// PrometheusSink exports render outcomes, latency and byte savings.
type PrometheusSink struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
	savings  prometheus.Histogram
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_render_requests_total",
			Help: "Edge requests partitioned by mode, outcome and crawler flag.",
		}, []string{"mode", "outcome", "bot"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edge_render_duration_seconds",
			Help:    "End-to-end latency per mode and outcome.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"mode", "outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_render_bytes_total",
			Help: "Original and rendered bytes seen by the edge.",
		}, []string{"kind"}),
		savings: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edge_render_token_savings_ratio",
			Help:    "Fraction of original bytes a crawler skipped by reading the rendering.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
	for _, collector := range []prometheus.Collector{s.requests, s.duration, s.bytes, s.savings} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register render collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		mode := string(evt.Mode)
		bot := "false"
		if evt.Bot {
			bot = "true"
		}
		s.requests.WithLabelValues(mode, evt.Outcome, bot).Inc()
		if evt.Dur > 0 {
			s.duration.WithLabelValues(mode, evt.Outcome).Observe(evt.Dur.Seconds())
		}
		if evt.OriginalBytes > 0 {
			s.bytes.WithLabelValues("original").Add(float64(evt.OriginalBytes))
		}
		if evt.RenderedBytes > 0 {
			s.bytes.WithLabelValues("rendered").Add(float64(evt.RenderedBytes))
		}
		if ratio := evt.SavingsRatio(); ratio > 0 {
			s.savings.Observe(ratio)
		}
	}
	return nil
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
