package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults",
			modify: func(*Config) {},
		},
		{
			name:    "missing service name",
			modify:  func(c *Config) { c.ServiceName = "" },
			wantErr: true,
		},
		{
			name:    "bad level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "bad format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
		{
			name: "otlp without endpoint",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: true,
		},
		{
			name: "unknown exporter",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: true,
		},
		{
			name:    "sampling rate out of range",
			modify:  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.NewComponentLogger("resolve").WithFile("train.yaml").Info("Loaded")
	logger.Debug("hidden")

	out := buf.String()
	for _, want := range []string{`"component":"resolve"`, `"file":"train.yaml"`, `"message":"Loaded"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %s", out, want)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message logged at info level: %q", out)
	}
}

func TestLogger_Context(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	ctx := logger.WithSnapshotID("abc").WithContext(context.Background())
	FromContext(ctx).Info("stored")

	if !strings.Contains(buf.String(), `"snapshot_id":"abc"`) {
		t.Errorf("log output %q missing snapshot_id", buf.String())
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	// No-op recorders must not panic.
	m.RecordResolution("train", time.Second, "validation")
	m.RecordPolicyViolation("respacing", "error")
	m.RecordSnapshot("train", false)
	m.RecordValdir(10, 1, 2, time.Second)
	m.RecordWatchReload(true)

	if m.Registry() != nil {
		t.Error("expected no registry when disabled")
	}
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Errorf("WriteTextfile on disabled metrics: %v", err)
	}
}

func TestMetrics_Record(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordResolution("train", 10*time.Millisecond, "")
	m.RecordResolution("train", 10*time.Millisecond, "missing_required")
	m.RecordResolution("gen", 10*time.Millisecond, "")
	m.RecordValdir(100, 2, 10, time.Second)

	if got := testutil.ToFloat64(m.resolutions.WithLabelValues("train", "succeeded")); got != 1 {
		t.Errorf("train succeeded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.resolutions.WithLabelValues("train", "failed")); got != 1 {
		t.Errorf("train failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.configErrors.WithLabelValues("missing_required")); got != 1 {
		t.Errorf("missing_required errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.valdirFiles.WithLabelValues("moved")); got != 100 {
		t.Errorf("moved files = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.valdirCategories); got != 10 {
		t.Errorf("categories = %v, want 10", got)
	}
}

func TestMetrics_Flush(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.TextfilePath = filepath.Join(t.TempDir(), "diffconf.prom")

	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m.RecordSnapshot("train", true)

	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	data, err := os.ReadFile(cfg.TextfilePath)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	if !strings.Contains(string(data), `diffconf_snapshots_recorded_total{deduplicated="true",kind="train"} 1`) {
		t.Errorf("textfile missing snapshot counter:\n%s", data)
	}
}

func TestStartOperation(t *testing.T) {
	tel := NewNopTelemetry()
	ctx := tel.WithContext(context.Background())

	ic := StartOperation(ctx, "config.resolve", AttrConfigKind.String("train"))
	if ic.Span == nil {
		t.Fatal("expected a span")
	}
	ic.End(errors.New("boom"))

	// Without telemetry in the context an operation still gets a logger.
	plain := StartOperation(context.Background(), "config.resolve")
	if plain.Logger == nil || plain.Timer == nil {
		t.Fatal("expected logger and timer")
	}
	plain.End(nil)
}

func TestNewTracer_Disabled(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "diffconf", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}

	ctx, span := tracer.StartResolveSpan(context.Background(), "train", []string{"a.yaml"})
	span.End()

	if TraceID(ctx) != "" {
		t.Error("expected no trace id from a disabled tracer")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
