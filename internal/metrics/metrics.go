// Package metrics exposes the loop's events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/storyloop/internal/event"
	"github.com/Iron-Ham/storyloop/internal/logging"
)

const namespace = "storyloop"

// Metrics holds the collectors fed from the event bus. Each Metrics has its
// own registry, so several can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	PhasesTotal           *prometheus.CounterVec
	PhaseDuration         *prometheus.HistogramVec
	ProcessesTotal        *prometheus.CounterVec
	ProcessDuration       *prometheus.HistogramVec
	ValidatorsTotal       *prometheus.CounterVec
	AnomaliesTotal        *prometheus.CounterVec
	ResolutionsTotal      *prometheus.CounterVec
	DiscrepanciesTotal    *prometheus.CounterVec
	StoriesCompletedTotal prometheus.Counter
	Paused                prometheus.Gauge
}

// New creates and registers the collectors.
//
// Metrics:
//   - storyloop_phases_total{phase,result}
//   - storyloop_phase_duration_seconds{phase}
//   - storyloop_processes_total{role,tool,status}
//   - storyloop_process_duration_seconds{role,tool}
//   - storyloop_validators_total{tool,status}
//   - storyloop_anomalies_total{type}
//   - storyloop_resolutions_total{action}
//   - storyloop_discrepancies_total{type,outcome}
//   - storyloop_stories_completed_total
//   - storyloop_paused
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	// Tool invocations run from seconds to most of an hour.
	long := []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2700}

	return &Metrics{
		registry: reg,
		PhasesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phases_total",
			Help:      "Phases committed, by phase and result",
		}, []string{"phase", "result"}),
		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of executed phases",
			Buckets:   long,
		}, []string{"phase"}),
		ProcessesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_total",
			Help:      "External tool invocations, by role, tool and status",
		}, []string{"role", "tool", "status"}),
		ProcessDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Duration of external tool invocations",
			Buckets:   long,
		}, []string{"role", "tool"}),
		ValidatorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validators_total",
			Help:      "Settled validators, by tool and status",
		}, []string{"tool", "status"}),
		AnomaliesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Pauses caused by the guardian, by anomaly type",
		}, []string{"type"}),
		ResolutionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Applied anomaly resolutions, by action",
		}, []string{"action"}),
		DiscrepanciesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discrepancies_total",
			Help:      "Reconciliation attempts, by discrepancy type and outcome",
		}, []string{"type", "outcome"}),
		StoriesCompletedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_completed_total",
			Help:      "Stories that finished SYNTHESIZE_REVIEW",
		}),
		Paused: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "paused",
			Help:      "1 while the loop waits for an anomaly resolution",
		}),
	}
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Attach subscribes m to every event on bus and returns the subscription id.
func (m *Metrics) Attach(bus *event.Bus) string {
	return bus.SubscribeAll(m.Observe)
}

// Observe updates the collectors for one event.
func (m *Metrics) Observe(e event.Event) {
	switch e := e.(type) {
	case event.PhaseCompletedEvent:
		m.PhasesTotal.WithLabelValues(e.Phase, e.Result).Inc()
		if e.Duration > 0 {
			m.PhaseDuration.WithLabelValues(e.Phase).Observe(e.Duration.Seconds())
		}
	case event.ProcessFinishedEvent:
		m.ProcessesTotal.WithLabelValues(e.Role, e.Tool, e.Status).Inc()
		m.ProcessDuration.WithLabelValues(e.Role, e.Tool).Observe(e.Elapsed.Seconds())
	case event.ValidatorSettledEvent:
		m.ValidatorsTotal.WithLabelValues(e.Tool, e.Status).Inc()
	case event.LoopPausedEvent:
		m.AnomaliesTotal.WithLabelValues(e.AnomalyType).Inc()
		m.Paused.Set(1)
	case event.LoopResumedEvent:
		m.ResolutionsTotal.WithLabelValues(e.Action).Inc()
		m.Paused.Set(0)
	case event.DiscrepancyCorrectedEvent:
		m.DiscrepanciesTotal.WithLabelValues(e.DiscrepancyType, e.Outcome).Inc()
	case event.StoryCompletedEvent:
		m.StoriesCompletedTotal.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, logger *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
