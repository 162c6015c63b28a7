package commands

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/openfroyo/diffconf/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Settings configures the diffconf tool itself, as opposed to the configs it
// resolves. They are read from the file given with --config.
type Settings struct {
	Telemetry telemetry.Config `yaml:"telemetry"`

	History struct {
		// Path is the SQLite database recording resolved snapshots.
		Path string `yaml:"path"`
	} `yaml:"history"`

	Policies struct {
		// Paths are .rego/.json files or directories of user policies.
		Paths []string `yaml:"paths"`

		// Disabled names policies, built-in or not, to skip.
		Disabled []string `yaml:"disabled"`
	} `yaml:"policies"`

	// StarlarkTimeout bounds each .star document.
	StarlarkTimeout time.Duration `yaml:"starlark_timeout"`
}

// DefaultSettings returns settings used when no --config file is given.
func DefaultSettings() *Settings {
	s := &Settings{
		Telemetry:       *telemetry.DefaultConfig(),
		StarlarkTimeout: 30 * time.Second,
	}
	s.History.Path = ".diffconf/history.db"
	if p := os.Getenv("DIFFCONF_HISTORY"); p != "" {
		s.History.Path = p
	}
	return s
}

// LoadSettings overlays the YAML file at path onto DefaultSettings. Unknown
// keys are an error. An empty path returns the defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	if err := s.Telemetry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry settings: %w", err)
	}
	return s, nil
}
