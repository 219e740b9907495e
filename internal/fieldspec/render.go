package fieldspec

import (
	"encoding/json"
	"fmt"
	"strings"
)

var kindNames = map[Kind]string{
	KindStr:    "string",
	KindInt:    "integer",
	KindFloat:  "number",
	KindBool:   "boolean",
	KindObject: "object",
	KindList:   "array",
}

// Describe renders the expected shape as indented text in spec order.
// The output depends only on the compiled schema, so prompts built from it are
// reproducible.
func (s *Schema) Describe() string {
	var b strings.Builder
	switch s.kind {
	case KindObject:
		b.WriteString("A JSON object with the following fields:\n")
		s.describeFields(&b, 0)
	default:
		b.WriteString("A JSON value: ")
		b.WriteString(s.summary())
		b.WriteString("\n")
		if el := s.element(); el.kind == KindObject {
			el.describeFields(&b, 0)
		}
	}
	return b.String()
}

func (s *Schema) describeFields(b *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, f := range s.fields {
		fmt.Fprintf(b, "%s- %q (%s)", indent, f.name, f.schema.summary())
		if f.schema.description != "" {
			b.WriteString(": ")
			b.WriteString(f.schema.description)
		}
		b.WriteString("\n")
		if el := f.schema.element(); el.kind == KindObject {
			el.describeFields(b, depth+1)
		}
	}
}

// element unwraps nested lists down to their innermost item schema.
func (s *Schema) element() *Schema {
	for s.kind == KindList {
		s = s.items
	}
	return s
}

func (s *Schema) summary() string {
	var parts []string
	switch s.kind {
	case KindList:
		parts = append(parts, "list of "+s.items.typeLabel())
	default:
		parts = append(parts, s.typeLabel())
	}
	if s.optional {
		parts = append(parts, "optional, null if unknown")
	} else {
		parts = append(parts, "required")
	}
	return strings.Join(parts, ", ")
}

func (s *Schema) typeLabel() string {
	label := kindNames[s.kind]
	if s.kind == KindList {
		label = "list of " + s.items.typeLabel()
	}
	if len(s.literals) > 0 {
		vals := make([]string, len(s.literals))
		for i, lit := range s.literals {
			if str, ok := lit.(string); ok {
				vals[i] = fmt.Sprintf("%q", str)
			} else {
				vals[i] = fmt.Sprint(lit)
			}
		}
		label += " one of [" + strings.Join(vals, ", ") + "]"
	}
	return label
}

// JSONSchema returns a JSON Schema document for the compiled schema, suitable as
// a structured-decoding constraint.
func (s *Schema) JSONSchema() map[string]any {
	out := map[string]any{}
	typ := kindNames[s.kind]
	if s.optional {
		out["type"] = []string{typ, "null"}
	} else {
		out["type"] = typ
	}
	if s.description != "" {
		out["description"] = s.description
	}

	switch s.kind {
	case KindObject:
		props := make(map[string]any, len(s.fields))
		required := make([]string, 0, len(s.fields))
		for _, f := range s.fields {
			props[f.name] = f.schema.JSONSchema()
			if !f.schema.optional {
				required = append(required, f.name)
			}
		}
		out["properties"] = props
		out["required"] = required
	case KindList:
		out["items"] = s.items.JSONSchema()
	default:
		if len(s.literals) > 0 {
			enum := append([]any{}, s.literals...)
			if s.optional {
				enum = append(enum, nil)
			}
			out["enum"] = enum
		}
	}
	return out
}

// JSONSchemaBytes returns the JSON encoding of JSONSchema.
func (s *Schema) JSONSchemaBytes() (json.RawMessage, error) {
	data, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON schema: %w", err)
	}
	return data, nil
}
