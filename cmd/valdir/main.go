// Package main implements the valdir binary, which sorts an archive of
// validation images into one directory per category.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openfroyo/diffconf/pkg/telemetry"
	"github.com/openfroyo/diffconf/pkg/valdir"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		opts       valdir.Options
		remotes    remoteFlags
		configPath string
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "valdir -t <archive> -o <outdir>",
		Short: "Sort validation images into per-category directories",
		Long: `Extract a tar archive of validation images and move every file into a
directory named after its category.

The category list holds one category per line. The per-file category list
holds, on line n, the category of the n-th file in sorted name order. Both
default to category_list.txt and val_data_category_list.txt next to the
archive. The archive may be plain, gzip, zstd, lz4 or s2 compressed.

The archive and both lists may be sftp://[user@]host[:port]/path URLs. They
are downloaded to a temporary directory first; lists left unset are fetched
from next to a remote archive.

Members that would be written outside the output directory abort the run
before anything is extracted.`,
		Example: `  valdir -t ILSVRC2012_img_val.tar -o data/val
  valdir -t val.tar.zst -o data/val --category-list labels.txt --json
  valdir -t sftp://data.example.com/srv/imagenet/val.tar -o data/val`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadTelemetryConfig(configPath)
			if err != nil {
				return err
			}
			cfg.ServiceName = "valdir"
			cfg.ServiceVersion = Version
			if verbose {
				cfg.Logging.Level = "debug"
			}

			tel, err := telemetry.NewTelemetry(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				if err := tel.Shutdown(context.WithoutCancel(cmd.Context())); err != nil {
					log.Warn().Err(err).Msg("Failed to shut down telemetry")
				}
			}()

			ctx, span := tel.Tracer.StartValdirSpan(cmd.Context(), opts.Archive, opts.OutDir)
			defer span.End()

			archive := opts.Archive
			cleanup, err := fetchInputs(ctx, &remotes, &opts, tel.Logger.NewComponentLogger("fetch").Zerolog())
			defer cleanup()
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}

			summary, err := valdir.NewPreparer(tel.Logger.Zerolog()).Prepare(ctx, opts)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			telemetry.RecordSuccess(span)
			summary.Archive = archive
			tel.Metrics.RecordValdir(summary.Moved, summary.Skipped, summary.Categories, summary.Duration)

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			fmt.Fprintf(out, "moved %d of %d files into %d categories under %s\n",
				summary.Moved, summary.Moved+summary.Skipped, summary.Categories, summary.OutDir)
			if summary.Skipped > 0 || summary.Unused > 0 {
				fmt.Fprintf(out, "%d files had no label, %d labels had no file\n", summary.Skipped, summary.Unused)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Archive, "tarfile", "t", "", "tar archive of validation images")
	cmd.Flags().StringVarP(&opts.OutDir, "outdir", "o", "", "output directory")
	cmd.Flags().StringVar(&opts.CategoryList, "category-list", "", "category list file (default: next to the archive)")
	cmd.Flags().StringVar(&opts.FileCategoryList, "file-category-list", "", "per-file category list (default: next to the archive)")
	cmd.Flags().BoolVar(&opts.KeepTemp, "keep-temp", false, "keep the extraction directory")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "settings file; only its telemetry section is read")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the summary as JSON")
	remotes.register(cmd)
	_ = cmd.MarkFlagRequired("tarfile")
	_ = cmd.MarkFlagRequired("outdir")

	return cmd
}

// loadTelemetryConfig reads the telemetry section of a diffconf settings
// file over the defaults. Other sections are ignored.
func loadTelemetryConfig(path string) (*telemetry.Config, error) {
	settings := struct {
		Telemetry *telemetry.Config `yaml:"telemetry"`
	}{Telemetry: telemetry.DefaultConfig()}

	if path == "" {
		return settings.Telemetry, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return settings.Telemetry, nil
}
