// Package metrics exposes Prometheus collectors for fetches, scans and
// notifications.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fcfswatch/internal/eventbus"
	"fcfswatch/internal/monitor"
	"fcfswatch/internal/notifier"
)

const namespace = "fcfswatch"

// Metrics implements catalog.Observer and monitor.ScanObserver.
type Metrics struct {
	gatherer prometheus.Gatherer

	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchRecords  *prometheus.CounterVec
	fetchSkipped  *prometheus.CounterVec

	scansTotal     *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	lastSuccess    prometheus.Gauge
	detectedTotal  prometheus.Counter
	dispatchTotal  *prometheus.CounterVec
	notifyTotal    *prometheus.CounterVec
	advisoriesSent prometheus.Counter
}

// New registers collectors on reg. A nil reg uses a fresh registry, so
// tests never collide on the default one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		fetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Catalog fetch calls by source and result",
		}, []string{"source", "result"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Catalog fetch latency by source",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 20},
		}, []string{"source"}),
		fetchRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_records_total",
			Help:      "Campaign records returned by source",
		}, []string{"source"}),
		fetchSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_anomalies_total",
			Help:      "Malformed catalog records skipped by source",
		}, []string{"source"}),
		scansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans by outcome (success, failure, skipped)",
		}, []string{"outcome"}),
		scanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of completed scans",
			Buckets:   []float64{.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful scan",
		}),
		detectedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaigns_detected_total",
			Help:      "New FCFS campaigns detected",
		}),
		dispatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Campaign deliveries by result",
		}, []string{"result"}),
		notifyTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Transport sends by channel and result",
		}, []string{"channel", "result"}),
		advisoriesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisories_total",
			Help:      "Health advisories and recovery notes raised",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(source string, d time.Duration, records, anomalies int, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case records == 0:
		result = "empty"
	}
	m.fetchTotal.WithLabelValues(source, result).Inc()
	m.fetchDuration.WithLabelValues(source).Observe(d.Seconds())
	m.fetchRecords.WithLabelValues(source).Add(float64(records))
	if anomalies > 0 {
		m.fetchSkipped.WithLabelValues(source).Add(float64(anomalies))
	}
}

func (m *Metrics) ObserveScan(r monitor.Report) {
	switch {
	case r.Skipped:
		m.scansTotal.WithLabelValues("skipped").Inc()
		return
	case r.Success:
		m.scansTotal.WithLabelValues("success").Inc()
		m.lastSuccess.Set(float64(r.Started.Add(r.Duration).Unix()))
	default:
		m.scansTotal.WithLabelValues("failure").Inc()
	}
	m.scanDuration.Observe(r.Duration.Seconds())
	m.detectedTotal.Add(float64(len(r.New)))
	m.dispatchTotal.WithLabelValues("sent").Add(float64(r.Dispatch.Sent))
	m.dispatchTotal.WithLabelValues("failed").Add(float64(r.Dispatch.Failed))
}

// Consume counts notifier and advisory events from bus until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.observeEvent(ev)
		}
	}
}

func (m *Metrics) observeEvent(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TopicNotifySent, eventbus.TopicNotifyFailed:
		channel := "unknown"
		if ne, ok := ev.Data.(notifier.NotificationEvent); ok && ne.Channel != "" {
			channel = ne.Channel
		}
		result := "sent"
		if ev.Type == eventbus.TopicNotifyFailed {
			result = "failed"
		}
		m.notifyTotal.WithLabelValues(channel, result).Inc()
	case eventbus.TopicAdvisory:
		m.advisoriesSent.Inc()
	}
}
