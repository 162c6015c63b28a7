package config

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator turns Starlark scripts into override documents. Every
// public global bound by the script becomes a top-level section, so
//
//	model = {"image_size": [64, 64], "channel_mult": [1, 2, 2]}
//
// overrides the model group. Names starting with "_" and functions are
// ignored, which leaves scripts free to use helpers.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second // Default timeout
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// EvaluateDocument executes script and returns its globals as a document.
// Execution is cancelled when ctx is done or the evaluator timeout expires.
func (se *StarlarkEvaluator) EvaluateDocument(ctx context.Context, script, filename string) (Document, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "diffconf",
		Print: func(_ *starlark.Thread, msg string) {
			// Suppress print
		},
	}

	stop := context.AfterFunc(evalCtx, func() {
		thread.Cancel(evalCtx.Err().Error())
	})
	defer stop()

	globals, err := starlark.ExecFile(thread, filename, script, starlarkBuiltins())
	if err != nil {
		if ctxErr := evalCtx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("starlark execution cancelled after %v: %w", se.timeout, ctxErr)
		}
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	doc := make(Document, len(globals))
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", name, err)
		}
		doc[name] = goVal
	}

	return doc, nil
}

// starlarkBuiltins exposes the derivation helpers so scripts can compute
// values the same way the resolver does.
func starlarkBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"struct":              starlarkstruct.Default,
		"get_image_shape":     starlark.NewBuiltin("get_image_shape", builtinGetImageShape),
		"get_output_channels": starlark.NewBuiltin("get_output_channels", builtinGetOutputChannels),
		"is_learn_sigma":      starlark.NewBuiltin("is_learn_sigma", builtinIsLearnSigma),
	}
}

// builtinGetImageShape implements get_image_shape(image_size, input_channels, channel_last).
func builtinGetImageShape(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		size        starlark.Value
		channels    int
		channelLast bool
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "image_size", &size, "input_channels", &channels, "channel_last", &channelLast); err != nil {
		return nil, err
	}
	if size == starlark.None {
		return starlark.None, nil
	}

	goSize, err := fromStarlarkValue(size)
	if err != nil {
		return nil, err
	}
	items, ok := goSize.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: image_size must be a list, got %s", b.Name(), size.Type())
	}

	ints := make([]int, len(items))
	for i, item := range items {
		n, ok := item.(int64)
		if !ok {
			return nil, fmt.Errorf("%s: image_size[%d] must be an int", b.Name(), i)
		}
		ints[i] = int(n)
	}

	shape := GetImageShape(ints, channels, channelLast)
	out := make([]starlark.Value, len(shape))
	for i, n := range shape {
		out[i] = starlark.MakeInt(n)
	}
	return starlark.NewList(out), nil
}

// builtinGetOutputChannels implements get_output_channels(input_channels, model_var_type).
func builtinGetOutputChannels(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		channels int
		varType  string
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "input_channels", &channels, "model_var_type", &varType); err != nil {
		return nil, err
	}
	return starlark.MakeInt(GetOutputChannels(channels, varType)), nil
}

// builtinIsLearnSigma implements is_learn_sigma(model_var_type).
func builtinIsLearnSigma(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var varType string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "model_var_type", &varType); err != nil {
		return nil, err
	}
	return starlark.Bool(IsLearnSigma(varType)), nil
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromStarlarkSequence(val)
	case starlark.Tuple:
		return fromStarlarkSequence(val)
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromStarlarkSequence(seq starlark.Indexable) ([]any, error) {
	list := make([]any, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}
