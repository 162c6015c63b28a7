package config

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a parsed override document: top-level keys are group names and
// values are the sections overriding them.
type Document map[string]any

// Composite is a configuration made of named groups. TrainScriptConfig,
// GenScriptConfig and LoadedConfig implement it.
type Composite[C any] interface {
	// Sections returns the groups of the config, pointing into the receiver.
	Sections() []Section

	// Clone returns a deep copy sharing no memory with the receiver.
	Clone() C
}

// Merge overlays doc onto a copy of base and validates the result. Fields the
// document does not mention keep their value from base, and base itself is
// never modified.
//
// A section naming a group base does not have, a field the group does not
// declare, a derived field or a value of the wrong type fails with a
// validation error. Required fields still unset after the merge fail with a
// missing-required error.
func Merge[C Composite[C]](reg *SchemaRegistry, base C, doc Document) (C, error) {
	var zero C

	out := base.Clone()
	targets := make(map[string]any)
	for _, s := range out.Sections() {
		targets[s.Name] = s.Target
	}

	for _, name := range sortedKeys(doc) {
		target, ok := targets[name]
		if !ok {
			return zero, NewValidationError(name, "unknown configuration section", nil)
		}

		section, err := sectionMap(name, doc[name])
		if err != nil {
			return zero, err
		}
		if len(section) == 0 {
			continue
		}

		if err := reg.ValidateSection(name, section); err != nil {
			return zero, err
		}
		if err := decodeSection(name, section, target); err != nil {
			return zero, err
		}
	}

	if err := reg.Struct(out); err != nil {
		return zero, err
	}

	return out, nil
}

// sectionMap returns a document section as a map. A null section is empty.
func sectionMap(name string, v any) (map[string]any, error) {
	switch section := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return section, nil
	case Document:
		return section, nil
	default:
		return nil, NewValidationError(name, fmt.Sprintf("section must be a mapping, got %T", v), nil)
	}
}

// decodeSection writes the fields present in section onto target. Fields
// absent from section are left untouched.
func decodeSection(name string, section map[string]any, target any) error {
	data, err := yaml.Marshal(section)
	if err != nil {
		return NewValidationError(name, "failed to encode section", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil {
		return NewValidationError(name, "failed to decode section", err)
	}

	return nil
}

// MergeDocuments deep-merges documents in order. Mappings are merged key by
// key; any other value, lists included, replaces what came before.
func MergeDocuments(docs ...Document) Document {
	out := Document{}
	for _, doc := range docs {
		mergeInto(out, doc)
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := asMap(v)
		dstMap, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			merged := make(map[string]any, len(dstMap))
			mergeInto(merged, dstMap)
			mergeInto(merged, srcMap)
			dst[k] = merged
			continue
		}
		if srcIsMap {
			copied := make(map[string]any, len(srcMap))
			mergeInto(copied, srcMap)
			dst[k] = copied
			continue
		}
		dst[k] = v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	default:
		return nil, false
	}
}

// ParseOverrides turns command line overrides of the form
// "group.field=value" into a document. Values are parsed as YAML, so
// "model.image_size=[64,64]" sets a list and "train.clip_grad=null" clears
// an optional field.
func ParseOverrides(args []string) (Document, error) {
	doc := Document{}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, NewValidationError(arg, "override must have the form group.field=value", nil)
		}

		parts := strings.Split(key, ".")
		for _, p := range parts {
			if p == "" {
				return nil, NewValidationError(key, "override path has an empty element", nil)
			}
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, NewValidationError(key, "failed to parse override value", err)
		}

		node := map[string]any(doc)
		for _, p := range parts[:len(parts)-1] {
			next, ok := node[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[p] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = value
	}
	return doc, nil
}
