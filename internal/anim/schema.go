package anim

import (
	"fmt"

	"github.com/dop251/goja"
)

// ParamType enumerates the parameter kinds a script may declare.
type ParamType string

const (
	TypeScalar ParamType = "scalar" // real in [Min,Max]
	TypeInt    ParamType = "int"    // integer in [Min,Max]
	TypePair   ParamType = "pair"   // two independent reals
	TypeColor  ParamType = "color"  // three reals in [0,1]
	TypeEnum   ParamType = "enum"   // option index into Options
	TypeFlags  ParamType = "flags"  // bitset over Flags
)

// ParamSpec declares one tweakable parameter. The richer fields (bounds,
// options) feed the design-time editor; the runtime only needs Default.
type ParamSpec struct {
	Type     ParamType
	Default  any
	Min, Max float64
	Options  []string // enum
	Flags    []string // flag set
}

// Schema is the two-level parameter declaration: group name to parameter
// key to spec.
type Schema map[string]map[string]ParamSpec

// Defaults flattens the schema into the parameter map handed to every
// color call.
func (s Schema) Defaults() map[string]any {
	out := map[string]any{}
	for _, group := range s {
		for key, spec := range group {
			out[key] = spec.Default
		}
	}
	return out
}

// parseSchema reads the script's optional global params object. A missing
// or null declaration is an empty schema, not an error.
func parseSchema(v goja.Value) (Schema, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return Schema{}, nil
	}
	raw, ok := v.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("params must be an object")
	}
	schema := Schema{}
	for groupName, groupVal := range raw {
		groupMap, ok := groupVal.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("params.%s must be an object", groupName)
		}
		group := map[string]ParamSpec{}
		for key, specVal := range groupMap {
			specMap, ok := specVal.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("params.%s.%s must be an object", groupName, key)
			}
			spec, err := parseSpec(specMap)
			if err != nil {
				return nil, fmt.Errorf("params.%s.%s: %w", groupName, key, err)
			}
			group[key] = spec
		}
		schema[groupName] = group
	}
	return schema, nil
}

func parseSpec(m map[string]any) (ParamSpec, error) {
	spec := ParamSpec{}
	typStr, _ := m["type"].(string)
	switch ParamType(typStr) {
	case TypeScalar, TypeInt, TypePair, TypeColor, TypeEnum, TypeFlags:
		spec.Type = ParamType(typStr)
	default:
		return spec, fmt.Errorf("unknown type %q", typStr)
	}
	if v, ok := m["min"]; ok {
		spec.Min, _ = toFloat(v)
	}
	if v, ok := m["max"]; ok {
		spec.Max, _ = toFloat(v)
	}
	spec.Options = toStrings(m["options"])
	spec.Flags = toStrings(m["flags"])

	def, ok := m["default"]
	if !ok {
		return spec, fmt.Errorf("missing default")
	}
	switch spec.Type {
	case TypeScalar:
		f, okf := toFloat(def)
		if !okf {
			return spec, fmt.Errorf("default must be a number")
		}
		spec.Default = f
	case TypeInt, TypeEnum, TypeFlags:
		f, okf := toFloat(def)
		if !okf {
			return spec, fmt.Errorf("default must be an integer")
		}
		spec.Default = int(f)
	case TypePair, TypeColor:
		want := 2
		if spec.Type == TypeColor {
			want = 3
		}
		arr, oka := def.([]any)
		if !oka || len(arr) != want {
			return spec, fmt.Errorf("default must be an array of %d numbers", want)
		}
		vals := make([]float64, want)
		for i, el := range arr {
			f, okf := toFloat(el)
			if !okf {
				return spec, fmt.Errorf("default must be an array of %d numbers", want)
			}
			vals[i] = f
		}
		spec.Default = vals
	}
	return spec, nil
}

func toStrings(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, el := range arr {
		if s, ok := el.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
