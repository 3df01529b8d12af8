package deepsearch

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ParamType enumerates the wire types a tool parameter accepts.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
	TypeAny    ParamType = "any"
	TypeList   ParamType = "list"
)

// ParamSpec describes one named tool parameter. For TypeList, Elem
// names the element type (TypeAny when unset).
type ParamSpec struct {
	Type        ParamType
	Elem        ParamType
	Required    bool
	Default     any
	Description string
}

// buildJSONSchema renders an input map as a JSON Schema object in the
// shape OpenAI-compatible APIs expect. Properties are emitted in sorted
// name order so definitions are stable across runs.
func buildJSONSchema(inputs map[string]ParamSpec) json.RawMessage {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	props := make(map[string]any, len(names))
	var required []string
	for _, name := range names {
		spec := inputs[name]
		props[name] = schemaForSpec(spec)
		if spec.Required {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return raw
}

func schemaForSpec(spec ParamSpec) map[string]any {
	out := map[string]any{}
	switch spec.Type {
	case TypeString:
		out["type"] = "string"
	case TypeInt:
		out["type"] = "integer"
	case TypeFloat:
		out["type"] = "number"
	case TypeBool:
		out["type"] = "boolean"
	case TypeList:
		out["type"] = "array"
		if spec.Elem != "" && spec.Elem != TypeAny {
			out["items"] = schemaForSpec(ParamSpec{Type: spec.Elem})
		}
	case TypeAny, "":
		// no type constraint
	}
	if spec.Description != "" {
		out["description"] = spec.Description
	}
	if spec.Default != nil {
		out["default"] = spec.Default
	}
	return out
}

// ValidateArgs checks args against the descriptor's input schema and
// returns a normalized copy: defaults filled in, JSON numbers coerced
// to the declared type. Unknown keys pass through untouched so tools
// can accept open-ended maps. A violation returns a schema-kind
// ToolError and a nil map.
func ValidateArgs(desc ToolDescriptor, args map[string]any) (map[string]any, *ToolError) {
	normalized := make(map[string]any, len(args))
	for k, v := range args {
		normalized[k] = v
	}

	names := make([]string, 0, len(desc.Inputs))
	for name := range desc.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := desc.Inputs[name]
		val, present := normalized[name]
		if !present || val == nil {
			if spec.Default != nil {
				normalized[name] = spec.Default
				continue
			}
			if spec.Required {
				return nil, &ToolError{
					Kind:    ErrKindSchema,
					Tool:    desc.Name,
					Message: fmt.Sprintf("missing required parameter %q", name),
				}
			}
			continue
		}
		coerced, err := coerceValue(name, spec, val)
		if err != nil {
			return nil, &ToolError{Kind: ErrKindSchema, Tool: desc.Name, Message: err.Error()}
		}
		normalized[name] = coerced
	}
	return normalized, nil
}

func coerceValue(name string, spec ParamSpec, val any) (any, error) {
	switch spec.Type {
	case TypeString:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %q: expected string, got %T", name, val)
		}
		return s, nil
	case TypeInt:
		switch v := val.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("parameter %q: expected integer, got %v", name, v)
			}
			return int(v), nil
		default:
			return nil, fmt.Errorf("parameter %q: expected integer, got %T", name, val)
		}
	case TypeFloat:
		switch v := val.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		default:
			return nil, fmt.Errorf("parameter %q: expected number, got %T", name, val)
		}
	case TypeBool:
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("parameter %q: expected boolean, got %T", name, val)
		}
		return b, nil
	case TypeList:
		items, ok := val.([]any)
		if !ok {
			// A typed slice (e.g. []string from Go callers) is fine too.
			if typed, isStrings := val.([]string); isStrings {
				items = make([]any, len(typed))
				for i, s := range typed {
					items[i] = s
				}
			} else {
				return nil, fmt.Errorf("parameter %q: expected array, got %T", name, val)
			}
		}
		if spec.Elem == "" || spec.Elem == TypeAny {
			return items, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			coerced, err := coerceValue(fmt.Sprintf("%s[%d]", name, i), ParamSpec{Type: spec.Elem}, item)
			if err != nil {
				return nil, err
			}
			out[i] = coerced
		}
		return out, nil
	case TypeAny, "":
		return val, nil
	default:
		return nil, fmt.Errorf("parameter %q: unknown type %q", name, spec.Type)
	}
}
