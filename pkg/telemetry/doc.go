// Package telemetry provides observability instrumentation for the diffconf
// tools.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind one Telemetry value that
// commands create at startup and carry through their context.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// Logs go to stderr by default so that resolved configs printed on stdout
// stay machine readable:
//
//	logger := tel.Logger.NewComponentLogger("resolve")
//	logger.WithFile(path).Info("Loaded config document")
//
// Packages that take a zerolog.Logger directly get one from Logger.Zerolog.
//
// # Distributed Tracing
//
// Tracing is off by default. When enabled, spans are exported synchronously
// through the stdout or OTLP/gRPC exporter:
//
//	ctx, span := tel.Tracer.StartResolveSpan(ctx, "train", files)
//	defer span.End()
//
// # Metrics
//
// Metrics live in a private registry. Short-lived commands write them to a
// textfile for the node exporter (MetricsConfig.TextfilePath); long-running
// ones such as validate --watch can serve them over HTTP with Metrics.Serve.
//
//  - diffconf_config_resolutions_total{kind,status}
//  - diffconf_config_resolution_duration_seconds{kind}
//  - diffconf_config_errors_total{error_kind}
//  - diffconf_config_watch_reloads_total{status}
//  - diffconf_policy_violations_total{policy,severity}
//  - diffconf_snapshots_recorded_total{kind,deduplicated}
//  - diffconf_valdir_files_total{outcome}
//  - diffconf_valdir_categories
//  - diffconf_valdir_duration_seconds
//
// # Context Helpers
//
//	ic := telemetry.StartOperation(ctx, "config.validate")
//	defer func() { ic.End(err) }()
//	ic.Logger.Info("Validating")
package telemetry
