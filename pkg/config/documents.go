package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Supported document formats, keyed by file extension.
const (
	FormatYAML     = "yaml"
	FormatJSON     = "json"
	FormatCUE      = "cue"
	FormatStarlark = "starlark"
)

// DetectFormat returns the document format for a path, or "" if the
// extension is not recognized.
func DetectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	case ".cue":
		return FormatCUE
	case ".star":
		return FormatStarlark
	default:
		return ""
	}
}

// ReadDocument reads an override document from path. A path that does not
// exist fails with a not-found error before any parsing is attempted.
func ReadDocument(ctx context.Context, path string) (Document, error) {
	return readDocument(ctx, path, NewStarlarkEvaluator(0))
}

func readDocument(ctx context.Context, path string, star *StarlarkEvaluator) (Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewNotFoundError(path, err)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, NewValidationError("", "config path is a directory", nil).WithFile(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc Document
	switch DetectFormat(path) {
	case FormatYAML, FormatJSON:
		doc, err = ParseYAMLDocument(data)
	case FormatCUE:
		doc, err = ParseCUEDocument(data, filepath.Base(path))
	case FormatStarlark:
		doc, err = star.EvaluateDocument(ctx, string(data), filepath.Base(path))
	default:
		err = NewValidationError("", fmt.Sprintf("unsupported config format %q", filepath.Ext(path)), nil)
	}
	if err != nil {
		var cfgErr *Error
		if errors.As(err, &cfgErr) {
			return nil, cfgErr.WithFile(path)
		}
		return nil, NewValidationError("", "failed to parse document", err).WithFile(path)
	}

	return doc, nil
}

// ParseYAMLDocument parses a YAML or JSON document. An empty document yields
// an empty Document.
func ParseYAMLDocument(data []byte) (Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch v := raw.(type) {
	case nil:
		return Document{}, nil
	case map[string]any:
		return Document(v), nil
	default:
		return nil, NewValidationError("", fmt.Sprintf("document root must be a mapping, got %T", raw), nil)
	}
}

// ParseCUEDocument evaluates a CUE document and exports it as concrete data.
// The document may use the full CUE language, but every field must resolve
// to a concrete value.
func ParseCUEDocument(data []byte, filename string) (Document, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, err
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, err
	}

	// Exporting through JSON keeps integers as integers once re-parsed.
	out, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return ParseYAMLDocument(out)
}

// SaveDocument writes v to path as YAML, or as indented JSON when path ends
// in ".json". Parent directories are created as needed.
func SaveDocument(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if DetectFormat(path) == FormatJSON {
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
