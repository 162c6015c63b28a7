package config

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Resolver composes configs from defaults, override documents and command
// line overrides, in that order of increasing precedence.
type Resolver struct {
	registry *SchemaRegistry
	starlark *StarlarkEvaluator
	logger   zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithStarlarkTimeout bounds the execution time of Starlark documents.
func WithStarlarkTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.starlark = NewStarlarkEvaluator(timeout)
	}
}

// NewResolver creates a resolver validating against registry.
func NewResolver(registry *SchemaRegistry, logger zerolog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		registry: registry,
		starlark: NewStarlarkEvaluator(0),
		logger:   logger.With().Str("component", "config-resolver").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the schema registry the resolver validates against.
func (r *Resolver) Registry() *SchemaRegistry {
	return r.registry
}

// LoadDocuments reads files in order and deep-merges them with the command
// line overrides on top. Each file is checked against the registry on its
// own so errors name the file they come from.
func (r *Resolver) LoadDocuments(ctx context.Context, files, overrides []string) (Document, error) {
	docs := make([]Document, 0, len(files)+1)

	for _, file := range files {
		doc, err := readDocument(ctx, file, r.starlark)
		if err != nil {
			return nil, err
		}
		if err := r.validateDocument(doc); err != nil {
			return nil, withFile(err, file)
		}

		r.logger.Debug().
			Str("file", file).
			Int("sections", len(doc)).
			Msg("Loaded config document")

		docs = append(docs, doc)
	}

	if len(overrides) > 0 {
		doc, err := ParseOverrides(overrides)
		if err != nil {
			return nil, err
		}
		if err := r.validateDocument(doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return MergeDocuments(docs...), nil
}

// validateDocument checks every section of doc against its group schema.
func (r *Resolver) validateDocument(doc Document) error {
	for _, name := range sortedKeys(doc) {
		if _, ok := r.registry.GetSchema(name); !ok {
			return NewValidationError(name, "unknown configuration section", nil)
		}
		section, err := sectionMap(name, doc[name])
		if err != nil {
			return err
		}
		if err := r.registry.ValidateSection(name, section); err != nil {
			return err
		}
	}
	return nil
}

// LoadTrainConfig builds a training config from files and overrides.
func (r *Resolver) LoadTrainConfig(ctx context.Context, files, overrides []string) (*TrainScriptConfig, error) {
	doc, err := r.LoadDocuments(ctx, files, overrides)
	if err != nil {
		return nil, err
	}

	cfg, err := Merge(r.registry, NewTrainScriptConfig(), doc)
	if err != nil {
		return nil, err
	}

	r.checkModelVarType(cfg.Model.ModelVarType)
	r.logger.Info().
		Int("files", len(files)).
		Int("overrides", len(overrides)).
		Msg("Training config resolved")

	return cfg, nil
}

// LoadGenConfig builds a generation config from files and overrides.
func (r *Resolver) LoadGenConfig(ctx context.Context, files, overrides []string) (*GenScriptConfig, error) {
	doc, err := r.LoadDocuments(ctx, files, overrides)
	if err != nil {
		return nil, err
	}

	cfg, err := Merge(r.registry, NewGenScriptConfig(), doc)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Int("files", len(files)).
		Int("overrides", len(overrides)).
		Msg("Generation config resolved")

	return cfg, nil
}

// LoadSaved reloads the model and diffusion groups of a saved training config.
func (r *Resolver) LoadSaved(ctx context.Context, path string) (*LoadedConfig, error) {
	cfg, err := loadSavedConfig(ctx, r.registry, r.starlark, path)
	if err != nil {
		return nil, err
	}

	r.checkModelVarType(cfg.Model.ModelVarType)
	r.logger.Info().Str("file", path).Msg("Saved config loaded")

	return cfg, nil
}

// checkModelVarType logs variance types the diffusion process does not know.
// They are accepted and treated as fixed variance.
func (r *Resolver) checkModelVarType(varType string) {
	if IsKnownModelVarType(varType) {
		return
	}
	r.logger.Warn().
		Str("model_var_type", varType).
		Strs("known", KnownModelVarTypes).
		Msg("Unknown model_var_type, assuming fixed variance")
}

// LoadSavedConfig reads a config saved by a training run and merges its
// diffusion and model sections onto NewLoadedConfig.
//
// The path must exist, and the document must hold both a diffusion and a
// model section. Other sections are allowed when they name a known group;
// only dataset.num_classes is read from them. Derived fields written by
// Resolve are dropped, since they are recomputed from the loaded values.
func LoadSavedConfig(ctx context.Context, reg *SchemaRegistry, path string) (*LoadedConfig, error) {
	return loadSavedConfig(ctx, reg, NewStarlarkEvaluator(0), path)
}

func loadSavedConfig(ctx context.Context, reg *SchemaRegistry, star *StarlarkEvaluator, path string) (*LoadedConfig, error) {
	doc, err := readDocument(ctx, path, star)
	if err != nil {
		return nil, err
	}

	for _, required := range []string{GroupDiffusion, GroupModel} {
		if _, ok := doc[required]; !ok {
			return nil, NewStructuralError(required,
				fmt.Sprintf("saved config has no %s section", required)).WithFile(path)
		}
	}

	base := NewLoadedConfig()
	loaded := Document{}
	for _, name := range sortedKeys(doc) {
		schema, ok := reg.GetSchema(name)
		if !ok {
			return nil, NewValidationError(name, "unknown configuration section", nil).WithFile(path)
		}

		section, err := sectionMap(name, doc[name])
		if err != nil {
			return nil, withFile(err, path)
		}
		section = withoutDerived(section, schema)

		switch name {
		case GroupDiffusion, GroupModel:
			loaded[name] = section
		case GroupDataset:
			if err := reg.ValidateSection(name, section); err != nil {
				return nil, withFile(err, path)
			}
			dataset := DefaultDatasetConfig()
			if err := decodeSection(name, section, &dataset); err != nil {
				return nil, withFile(err, path)
			}
			base.numClasses = dataset.NumClasses
		}
	}

	cfg, err := Merge(reg, base, loaded)
	if err != nil {
		return nil, withFile(err, path)
	}
	return cfg, nil
}

// withoutDerived returns section minus the fields schema marks as derived.
func withoutDerived(section map[string]any, schema Schema) map[string]any {
	if len(schema.Derived) == 0 {
		return section
	}
	out := make(map[string]any, len(section))
	for k, v := range section {
		if _, derived := schema.Derived[k]; derived {
			continue
		}
		out[k] = v
	}
	return out
}

// withFile attaches file context to a classified error. Joined errors are
// annotated element by element.
func withFile(err error, file string) error {
	switch e := err.(type) {
	case *Error:
		if e.File == "" {
			e.File = file
		}
		return e
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			_ = withFile(inner, file)
		}
		return err
	default:
		return err
	}
}
