package fieldspec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Validate checks a decoded JSON value against an object schema and returns the
// coerced record. Unknown keys are dropped; optional fields that are missing or
// null come back as explicit nil values.
func (s *Schema) Validate(v any) (map[string]any, error) {
	var violations []Violation
	out := s.validate("", v, &violations)
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	record, ok := out.(map[string]any)
	if !ok {
		return nil, &ValidationError{Violations: []Violation{{Message: "expected a JSON object"}}}
	}
	return record, nil
}

func (s *Schema) validate(path string, v any, violations *[]Violation) any {
	if v == nil {
		if s.optional {
			return nil
		}
		*violations = append(*violations, Violation{Path: path, Message: "must not be null"})
		return nil
	}

	switch s.kind {
	case KindObject:
		m, ok := v.(map[string]any)
		if !ok {
			*violations = append(*violations, Violation{Path: path, Message: "expected object, got " + describeValue(v)})
			return nil
		}
		out := make(map[string]any, len(s.fields))
		for _, f := range s.fields {
			childPath := joinPath(path, f.name)
			val, present := m[f.name]
			if !present {
				if f.schema.optional {
					out[f.name] = nil
					continue
				}
				*violations = append(*violations, Violation{Path: childPath, Message: "is required"})
				continue
			}
			out[f.name] = f.schema.validate(childPath, val, violations)
		}
		return out

	case KindList:
		items, ok := v.([]any)
		if !ok {
			*violations = append(*violations, Violation{Path: path, Message: "expected list, got " + describeValue(v)})
			return nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = s.items.validate(fmt.Sprintf("%s[%d]", path, i), item, violations)
		}
		return out

	default:
		coerced, ok := coerceScalar(s.kind, v)
		if !ok {
			*violations = append(*violations, Violation{
				Path:    path,
				Message: fmt.Sprintf("expected %s, got %s", s.kind, describeValue(v)),
			})
			return nil
		}
		if len(s.literals) > 0 && !s.allows(coerced) {
			*violations = append(*violations, Violation{Path: path, Message: "not in " + s.literalSet()})
			return nil
		}
		return coerced
	}
}

func (s *Schema) allows(v any) bool {
	for _, lit := range s.literals {
		if lit == v {
			return true
		}
	}
	return false
}

func (s *Schema) literalSet() string {
	parts := make([]string, len(s.literals))
	for i, lit := range s.literals {
		parts[i] = fmt.Sprint(lit)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// floatToInt converts an integral float that fits in int64, i.e. lies in
// [-2^63, 2^63).
func floatToInt(f float64) (any, bool) {
	if f != math.Trunc(f) || f < -(1<<63) || f >= 1<<63 {
		return nil, false
	}
	return int64(f), true
}

// coerceScalar converts v to the canonical Go representation of kind:
// string, int64, float64 or bool. Numeric strings and integral floats are
// accepted where the conversion is lossless.
func coerceScalar(kind Kind, v any) (any, bool) {
	switch kind {
	case KindStr:
		s, ok := v.(string)
		return s, ok

	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), true
		case int64:
			return n, true
		case float64:
			return floatToInt(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, true
			}
			if f, err := n.Float64(); err == nil {
				return floatToInt(f)
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return i, true
			}
		}
		return nil, false

	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
		return nil, false

	case KindBool:
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		}
		return nil, false
	}
	return nil, false
}

func describeValue(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, int, int64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "list"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
