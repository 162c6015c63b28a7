package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// Schema describes a configuration group.
type Schema struct {
	// Definition is the CUE definition the group validates against (e.g., "#Model").
	Definition string

	// Source is the CUE source declaring Definition. The definition lists every
	// writable field as optional and typed; it is closed, so unknown fields fail.
	Source string

	// Derived maps each computed or aliased field to the expression producing
	// it. These fields are read-only and rejected in documents.
	Derived map[string]string

	// Description is a short summary shown by tooling.
	Description string
}

// registeredSchema is a compiled Schema.
type registeredSchema struct {
	schema Schema
	value  cue.Value
}

// SchemaRegistry holds the schemas of the configuration groups. It is built
// once at startup and handed to whatever composes the final configuration.
type SchemaRegistry struct {
	ctx      *cue.Context
	schemas  map[string]registeredSchema
	validate *validator.Validate
	mu       sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the built-in group schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:      cuecontext.New(),
		schemas:  make(map[string]registeredSchema),
		validate: newValidator(),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers the six built-in groups. The sources are
// constants, so a compile failure is a programming error.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for name, schema := range BuiltinSchemas() {
		if err := sr.RegisterSchema(name, schema); err != nil {
			panic(fmt.Sprintf("built-in schema %s: %v", name, err))
		}
	}
}

// RegisterSchema compiles and registers a schema under the given group name.
// Registering an existing name replaces the previous schema.
func (sr *SchemaRegistry) RegisterSchema(name string, schema Schema) error {
	if name == "" {
		return fmt.Errorf("schema name is required")
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema.Source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(schema.Definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare %s", name, schema.Definition)
	}
	if err := def.Err(); err != nil {
		return fmt.Errorf("schema %s has errors: %w", name, err)
	}

	sr.schemas[name] = registeredSchema{schema: schema, value: def}
	return nil
}

// GetSchema retrieves a schema by group name.
func (sr *SchemaRegistry) GetSchema(name string) (Schema, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	rs, ok := sr.schemas[name]
	return rs.schema, ok
}

// ListSchemas returns all registered group names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateSection checks one document section against the schema of the
// named group. It rejects unknown groups, derived fields, unknown fields and
// type mismatches with a validation error naming the offending path.
func (sr *SchemaRegistry) ValidateSection(name string, section map[string]any) error {
	sr.mu.RLock()
	rs, ok := sr.schemas[name]
	sr.mu.RUnlock()
	if !ok {
		return NewValidationError(name, "unknown configuration group", nil)
	}

	for _, field := range sortedKeys(section) {
		if expr, derived := rs.schema.Derived[field]; derived {
			return NewValidationError(name+"."+field,
				fmt.Sprintf("field is derived from %s and cannot be set", expr), nil)
		}
		if !rs.value.Allows(cue.Str(field)) {
			return NewValidationError(name+"."+field, "unknown field", nil)
		}
	}

	data := sr.ctx.Encode(section)
	if err := data.Err(); err != nil {
		return NewValidationError(name, "failed to encode section", err)
	}

	unified := rs.value.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return sr.convertCUEError(name, err)
	}

	return nil
}

// convertCUEError turns the first CUE error into a validation error with a
// dotted path rooted at the group name.
func (sr *SchemaRegistry) convertCUEError(group string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return NewValidationError(group, err.Error(), nil)
	}

	first := errs[0]
	path := group
	for _, sel := range first.Path() {
		if strings.HasPrefix(sel, "#") {
			continue
		}
		path += "." + sel
	}

	format, args := first.Msg()
	return NewValidationError(path, fmt.Sprintf(format, args...), nil)
}

// Struct validates struct tags on a merged config.
func (sr *SchemaRegistry) Struct(v any) error {
	return validateStruct(sr.validate, v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuiltinSchemas returns the schemas of the six built-in groups.
func BuiltinSchemas() map[string]Schema {
	return map[string]Schema{
		GroupRuntime: {
			Definition:  "#Runtime",
			Source:      builtinRuntimeSchema,
			Description: "compute precision and device",
		},
		GroupDataset: {
			Definition: "#Dataset",
			Source:     builtinDatasetSchema,
			Derived: map[string]string{
				"channel_last": "model.channel_last",
				"batch_size":   "train.batch_size",
				"image_size":   "model.image_size",
			},
			Description: "dataset location and loading options",
		},
		GroupModel: {
			Definition: "#Model",
			Source:     builtinModelSchema,
			Derived: map[string]string{
				"image_shape":     "get_image_shape(model.image_size, model.input_channels, model.channel_last)",
				"low_res_shape":   "get_image_shape(model.low_res_size, model.input_channels, model.channel_last)",
				"output_channels": "get_output_channels(model.input_channels, model.model_var_type)",
				"num_classes":     "dataset.num_classes",
			},
			Description: "network architecture and output parameterization",
		},
		GroupDiffusion: {
			Definition: "#Diffusion",
			Source:     builtinDiffusionSchema,
			Derived: map[string]string{
				"model_var_type": "model.model_var_type",
			},
			Description: "noise schedule and timestep respacing",
		},
		GroupTrain: {
			Definition:  "#Train",
			Source:      builtinTrainSchema,
			Description: "training loop, checkpointing and optimization",
		},
		GroupGenerate: {
			Definition:  "#Generate",
			Source:      builtinGenerateSchema,
			Description: "sampling from a trained model",
		},
	}
}

// Built-in schema definitions

const builtinRuntimeSchema = `
#Runtime: {
	type_config?: string
	device_id?:   string
}
`

const builtinDatasetSchema = `
#Dataset: {
	name?:             string
	data_dir?:         null | string
	dataset_root_dir?: null | string
	on_memory?:        bool
	fix_aspect_ratio?: bool
	random_crop?:      bool
	shuffle_dataset?:  bool
	num_classes?:      int
}
`

const builtinModelSchema = `
#Model: {
	// input
	input_channels?: int
	image_size?:     [...int]
	low_res_size?:   null | [...int]

	// arch.
	scale_shift_norm?:      bool
	resblock_resample?:     bool
	resblock_rescale_skip?: bool
	num_res_blocks?:        int
	channel_mult?:          [...int]
	base_channels?:         int
	dropout?:               number
	class_cond?:            bool
	class_cond_drop_rate?:  number
	class_cond_emb_type?:   string
	channel_last?:          bool
	conv_resample?:         bool

	// attention
	attention_resolutions?:       [...int]
	num_attention_head_channels?: null | int
	num_attention_heads?:         null | int

	// output
	model_var_type?: string
}
`

const builtinDiffusionSchema = `
#Diffusion: {
	beta_strategy?:  string
	max_timesteps?:  int
	t_start?:        null | int
	respacing_step?: int
}
`

const builtinTrainSchema = `
#Train: {
	batch_size?: int
	accum?:      int
	n_iters?:    int

	// dump
	progress?:       bool
	output_dir?:     string
	save_interval?:  int
	show_interval?:  int
	gen_interval?:   int
	dump_grad_norm?: bool

	// checkpointing
	resume?: bool

	// loss
	loss_scaling?: number
	lr?:           number
	clip_grad?:    null | number
	lr_scheduler?: null | string
}
`

const builtinGenerateSchema = `
#Generate: {
	// load
	config?: string
	h5?:     string

	// generation
	ema?:        bool
	ddim?:       bool
	ode_solver?: null | "plms" | "dpm2"
	samples?:    int
	batch_size?: int

	// refinement
	respacing_step?: int
	t_start?:        null | int

	base_samples_dir?: null | string
	gen_class_id?:     null | int
	x_start_path?:     null | string

	// dump
	output_dir?:  string
	tiled?:       bool
	save_xstart?: bool
}
`
