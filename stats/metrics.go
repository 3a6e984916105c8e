package stats

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the event stream into Prometheus collectors on a private
// registry so a batch run can leave a textfile for node_exporter.
type Metrics struct {
	registry *prometheus.Registry

	Events      *prometheus.CounterVec
	Listed      prometheus.Counter
	ExtractTime prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailbox_export_events_total",
			Help: "Pipeline events by stage and type",
		}, []string{"stage", "type"}),
		Listed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbox_export_listed_messages_total",
			Help: "Messages listed across all folders",
		}),
		ExtractTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailbox_export_extract_duration_seconds",
			Help:    "Time spent fetching and interpreting one message",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Observe(evt Event) {
	m.Events.WithLabelValues(string(evt.Stage), string(evt.Type)).Inc()
	switch evt.Type {
	case EventTypeListed:
		m.Listed.Add(float64(evt.Count))
	case EventTypeFetched:
		if evt.Duration > 0 {
			m.ExtractTime.Observe(evt.Duration.Seconds())
		}
	}
}

// Subscribe attaches the metrics to an event stream.
func (m *Metrics) Subscribe(stream EventStream) {
	stream.SubscribeStats("metrics", m.consume)
}

func (m *Metrics) consume(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			m.Observe(evt)
		}
	}
}

// WriteToTextfile writes the current values in the text exposition format.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
