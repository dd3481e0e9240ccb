// Package metrics exposes gateway activity as Prometheus collectors.
// A nil *Metrics is valid and records nothing, so components can run
// without a registry in tests and one-shot tools.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors shared by the session, dispatcher and archive.
type Metrics struct {
	reg prometheus.Gatherer

	sessionState   prometheus.Gauge
	notifications  *prometheus.CounterVec
	writes         *prometheus.CounterVec
	commands       *prometheus.CounterVec
	archived       prometheus.Counter
	decodeErrors   prometheus.Counter
	recordsPerBlob prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blegateway_session_state",
			Help: "Current peripheral session state (0=idle .. 8=closed).",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blegateway_notifications_total",
			Help: "Notifications delivered by characteristic index.",
		}, []string{"characteristic"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blegateway_characteristic_writes_total",
			Help: "Characteristic writes by outcome (ok, rejected, failed).",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blegateway_commands_total",
			Help: "Interactive commands by outcome (ok, invalid, failed).",
		}, []string{"result"}),
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blegateway_readings_archived_total",
			Help: "Aggregated readings appended to the store.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blegateway_decode_errors_total",
			Help: "Archived blobs that failed to decode.",
		}),
		recordsPerBlob: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blegateway_records_per_reading",
			Help:    "Sensor records carried by each archived reading.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9),
		}),
	}
	reg.MustRegister(m.sessionState, m.notifications, m.writes, m.commands,
		m.archived, m.decodeErrors, m.recordsPerBlob)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("[METRICS] listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (m *Metrics) SetSessionState(state int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(state))
}

func (m *Metrics) Notification(index int) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(strconv.Itoa(index)).Inc()
}

// Write records a characteristic write outcome: "ok", "rejected" or "failed".
func (m *Metrics) Write(result string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(result).Inc()
}

// Command records a dispatcher outcome: "ok", "invalid" or "failed".
func (m *Metrics) Command(result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(result).Inc()
}

func (m *Metrics) Archived(records int) {
	if m == nil {
		return
	}
	m.archived.Inc()
	m.recordsPerBlob.Observe(float64(records))
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}
