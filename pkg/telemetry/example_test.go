package telemetry_test

import (
	"context"
	"os"

	"github.com/openfroyo/diffconf/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_textfileExport demonstrates exporting metrics for the node exporter.
func Example_textfileExport() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.TextfilePath = os.TempDir() + "/diffconf.prom"

	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		panic(err)
	}

	metrics.RecordResolution("train", 0, "")
	if err := metrics.Flush(); err != nil {
		panic(err)
	}
}
