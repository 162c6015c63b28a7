// Package config defines the hierarchical configuration of diffusion model
// training and generation, and resolves it from defaults, override documents
// and command line overrides.
//
// # Overview
//
// A configuration is a composite of named groups. Training scripts use
// TrainScriptConfig (runtime, dataset, model, diffusion, train), generation
// scripts use GenScriptConfig (runtime, generate), and LoadedConfig holds the
// model and diffusion groups reloaded from a saved training config.
//
// Some fields are never stored. image_shape, low_res_shape and
// output_channels are computed from other model fields, and dataset
// channel_last, batch_size and image_size, model num_classes and diffusion
// model_var_type alias fields of other groups. The accessors on ModelConfig
// compute them on every call, and Resolve returns a snapshot with all of them
// materialized. Documents may not set them.
//
// # Components
//
// SchemaRegistry: Holds one closed CUE definition per group. Sections are
// checked against it before they are decoded, so unknown fields, derived
// fields and mistyped values are rejected with the offending path.
//
// Merge: Overlays a Document onto a copy of a composite and checks struct
// constraints on the result. The base is never modified.
//
// Resolver: Reads YAML, JSON, CUE and Starlark documents, deep-merges them in
// order with dotted command line overrides on top, and merges the result onto
// the group defaults.
//
// StarlarkEvaluator: Runs Starlark override documents with a timeout. Public
// globals become sections.
//
// Watcher: Calls back when watched documents change.
//
// # Usage Example
//
//	registry := config.NewSchemaRegistry()
//	resolver := config.NewResolver(registry, logger)
//
//	cfg, err := resolver.LoadTrainConfig(ctx,
//	    []string{"configs/base.yaml", "configs/imagenet64.star"},
//	    []string{"train.batch_size=16"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	shape := cfg.Model.ImageShape() // e.g. [64 64 3]
//
// # Error Handling
//
// Failures are *Error values classified by Kind: missing_required,
// validation, structural and not_found. Use IsMissingRequired, IsValidation,
// IsStructural and IsNotFound, or errors.Is with the Err* sentinels. When
// several required fields are unset, all of them are reported in one joined
// error.
//
// # Thread Safety
//
// SchemaRegistry is safe for concurrent use. Config values are not; callers
// that share one across goroutines must synchronize access or Clone it.
package config
