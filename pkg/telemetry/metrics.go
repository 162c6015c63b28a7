package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for config resolution and dataset
// preparation.
type Metrics struct {
	config MetricsConfig

	// Resolution metrics
	resolutions        *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	configErrors       *prometheus.CounterVec
	watchReloads       *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// Snapshot metrics
	snapshotsRecorded *prometheus.CounterVec

	// Validation dataset metrics
	valdirFiles      *prometheus.CounterVec
	valdirCategories prometheus.Gauge
	valdirDuration   prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_resolutions_total",
				Help:      "Total number of config resolutions by config kind and status",
			},
			[]string{"kind", "status"},
		),
		resolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "config_resolution_duration_seconds",
				Help:      "Duration of config resolution in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		configErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_errors_total",
				Help:      "Total number of config errors by error kind",
			},
			[]string{"error_kind"},
		),
		watchReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_watch_reloads_total",
				Help:      "Total number of reloads triggered by watched config changes",
			},
			[]string{"status"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations by policy and severity",
			},
			[]string{"policy", "severity"},
		),

		snapshotsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_recorded_total",
				Help:      "Total number of resolved config snapshots recorded",
			},
			[]string{"kind", "deduplicated"},
		),

		valdirFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "valdir_files_total",
				Help:      "Total number of validation archive files by outcome",
			},
			[]string{"outcome"},
		),
		valdirCategories: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "valdir_categories",
				Help:      "Number of category directories in the last prepared validation set",
			},
		),
		valdirDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "valdir_duration_seconds",
				Help:      "Duration of validation set preparation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
	}

	registry.MustRegister(
		m.resolutions,
		m.resolutionDuration,
		m.configErrors,
		m.watchReloads,
		m.policyViolations,
		m.snapshotsRecorded,
		m.valdirFiles,
		m.valdirCategories,
		m.valdirDuration,
	)

	return m, nil
}

// Resolution Metrics

// RecordResolution records a config resolution. errorKind is empty on success.
func (m *Metrics) RecordResolution(kind string, duration time.Duration, errorKind string) {
	if m.resolutions == nil {
		return
	}
	status := "succeeded"
	if errorKind != "" {
		status = "failed"
		m.configErrors.WithLabelValues(errorKind).Inc()
	}
	m.resolutions.WithLabelValues(kind, status).Inc()
	m.resolutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordWatchReload records a reload triggered by a watched file.
func (m *Metrics) RecordWatchReload(failed bool) {
	if m.watchReloads == nil {
		return
	}
	status := "succeeded"
	if failed {
		status = "failed"
	}
	m.watchReloads.WithLabelValues(status).Inc()
}

// Policy Metrics

// RecordPolicyViolation records a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Snapshot Metrics

// RecordSnapshot records a stored snapshot. deduplicated is true when an
// identical snapshot already existed.
func (m *Metrics) RecordSnapshot(kind string, deduplicated bool) {
	if m.snapshotsRecorded == nil {
		return
	}
	m.snapshotsRecorded.WithLabelValues(kind, fmt.Sprint(deduplicated)).Inc()
}

// Validation Dataset Metrics

// RecordValdir records the outcome of a validation set preparation.
func (m *Metrics) RecordValdir(moved, skipped, categories int, duration time.Duration) {
	if m.valdirFiles == nil {
		return
	}
	m.valdirFiles.WithLabelValues("moved").Add(float64(moved))
	m.valdirFiles.WithLabelValues("skipped").Add(float64(skipped))
	m.valdirCategories.Set(float64(categories))
	m.valdirDuration.Observe(duration.Seconds())
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Registry returns the registry holding the metrics, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// WriteTextfile writes the current metrics to path in the Prometheus text
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// Flush writes the textfile export if one is configured.
func (m *Metrics) Flush() error {
	return m.WriteTextfile(m.config.TextfilePath)
}

// Serve exposes the metrics over HTTP until ctx is done. It returns
// immediately when metrics or the endpoint are disabled.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
