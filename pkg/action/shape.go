package action

import (
	"encoding/json"
	"fmt"
	"math"
)

// FieldKind is the expected type of one action argument.
type FieldKind int

const (
	// KindString accepts any string.
	KindString FieldKind = iota

	// KindInt accepts integral numbers. JSON numbers arrive as float64;
	// a fractional value is a validation failure, not a truncation.
	KindInt

	// KindFloat accepts any number.
	KindFloat

	// KindBool accepts booleans.
	KindBool

	// KindAny accepts any JSON value unchanged.
	KindAny
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindAny:
		return "any"
	default:
		return "unknown"
	}
}

// Field describes one argument of an action's input shape.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool

	// Default is used when the field is absent and not required.
	Default any
}

// Shape is the declared input schema for an action. A nil or empty
// shape accepts anything.
type Shape struct {
	Fields []Field
}

// String declares a string field.
func String(name string) Field { return Field{Name: name, Kind: KindString} }

// Int declares an int field.
func Int(name string) Field { return Field{Name: name, Kind: KindInt} }

// Float declares a float field.
func Float(name string) Field { return Field{Name: name, Kind: KindFloat} }

// Bool declares a bool field.
func Bool(name string) Field { return Field{Name: name, Kind: KindBool} }

// Any declares a field of unchecked type.
func Any(name string) Field { return Field{Name: name, Kind: KindAny} }

// Req marks the field required.
func (f Field) Req() Field {
	f.Required = true
	return f
}

// WithDefault sets the value used when the field is absent.
func (f Field) WithDefault(v any) Field {
	f.Default = v
	return f
}

// NewShape builds a shape from fields.
func NewShape(fields ...Field) Shape {
	return Shape{Fields: fields}
}

// Decode validates raw against the shape and returns the typed args.
// A validation failure is terminal: the handler never runs.
func (s Shape) Decode(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.Fields))

	for _, f := range s.Fields {
		v, ok := raw[f.Name]
		if !ok || v == nil {
			if f.Required {
				return nil, &ValidationError{Field: f.Name, Reason: "required field missing"}
			}
			if f.Default != nil {
				out[f.Name] = f.Default
			}
			continue
		}

		coerced, err := coerce(f, v)
		if err != nil {
			return nil, err
		}
		out[f.Name] = coerced
	}

	// Undeclared args pass through untouched so handlers can accept
	// open-ended payloads alongside a declared core.
	for name, v := range raw {
		if _, declared := out[name]; !declared && !s.declares(name) {
			out[name] = v
		}
	}
	return out, nil
}

func (s Shape) declares(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func coerce(f Field, v any) (any, error) {
	switch f.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, &ValidationError{Field: f.Name, Reason: fmt.Sprintf("expected string, got %T", v)}
		}
		return s, nil

	case KindInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, &ValidationError{Field: f.Name, Reason: "expected integer, got fraction"}
			}
			return int(n), nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, &ValidationError{Field: f.Name, Reason: "expected integer"}
			}
			return int(i), nil
		default:
			return nil, &ValidationError{Field: f.Name, Reason: fmt.Sprintf("expected integer, got %T", v)}
		}

	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case json.Number:
			fl, err := n.Float64()
			if err != nil {
				return nil, &ValidationError{Field: f.Name, Reason: "expected number"}
			}
			return fl, nil
		default:
			return nil, &ValidationError{Field: f.Name, Reason: fmt.Sprintf("expected number, got %T", v)}
		}

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, &ValidationError{Field: f.Name, Reason: fmt.Sprintf("expected bool, got %T", v)}
		}
		return b, nil

	case KindAny:
		return v, nil

	default:
		return nil, &ValidationError{Field: f.Name, Reason: "unknown field kind"}
	}
}
