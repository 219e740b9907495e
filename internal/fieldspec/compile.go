package fieldspec

import (
	"fmt"
	"strings"
)

// Kind is the compiled type of a schema node.
type Kind string

const (
	KindStr    Kind = "str"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindObject Kind = "object"
	KindList   Kind = "list"
)

var typeAliases = map[string]Kind{
	"str":     KindStr,
	"string":  KindStr,
	"int":     KindInt,
	"integer": KindInt,
	"float":   KindFloat,
	"number":  KindFloat,
	"bool":    KindBool,
	"boolean": KindBool,
	"object":  KindObject,
	"dict":    KindObject,
	"list":    KindList,
	"array":   KindList,
}

// IsScalar reports whether the kind is a leaf type.
func (k Kind) IsScalar() bool {
	return k == KindStr || k == KindInt || k == KindFloat || k == KindBool
}

// Schema is a compiled, immutable validator for one node.
type Schema struct {
	kind        Kind
	description string
	optional    bool
	literals    []any
	fields      []field
	items       *Schema
}

type field struct {
	name   string
	schema *Schema
}

// Kind returns the compiled kind.
func (s *Schema) Kind() Kind { return s.kind }

// Optional reports whether a missing or null value is accepted.
func (s *Schema) Optional() bool { return s.optional }

// FieldNames returns the member names of an object schema in spec order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.name
	}
	return names
}

// Compile compiles the top-level fields of a spec into an object schema.
func Compile(spec *Spec) (*Schema, error) {
	if spec == nil {
		return nil, &CompilationError{Reason: "nil specification"}
	}
	c := &compiler{defs: spec.Defs, onPath: map[*Node]bool{}}
	return c.compile("", spec.Object())
}

// CompileNode compiles a single node tree without shared definitions.
func CompileNode(n *Node) (*Schema, error) {
	c := &compiler{onPath: map[*Node]bool{}}
	return c.compile("", n)
}

type compiler struct {
	defs   map[string]*Node
	onPath map[*Node]bool
}

func (c *compiler) compile(path string, n *Node) (*Schema, error) {
	if n == nil {
		return nil, &CompilationError{Path: path, Reason: "missing field definition"}
	}
	if n.Ref != "" {
		target, ok := c.defs[n.Ref]
		if !ok {
			return nil, &CompilationError{Path: path, Reason: fmt.Sprintf("unknown reference %q", n.Ref)}
		}
		resolved, err := c.compile(path, target)
		if err != nil {
			return nil, err
		}
		if n.Optional || n.Description != "" {
			// The referencing node may refine optionality and description.
			cp := *resolved
			cp.optional = cp.optional || n.Optional
			if n.Description != "" {
				cp.description = n.Description
			}
			return &cp, nil
		}
		return resolved, nil
	}

	if c.onPath[n] {
		return nil, &CompilationError{Path: path, Reason: "cycle detected"}
	}
	c.onPath[n] = true
	defer delete(c.onPath, n)

	kind, ok := typeAliases[strings.ToLower(strings.TrimSpace(n.Type))]
	if !ok {
		if n.Type == "" {
			return nil, &CompilationError{Path: path, Reason: "missing type"}
		}
		return nil, &CompilationError{Path: path, Reason: fmt.Sprintf("unsupported type %q", n.Type)}
	}

	s := &Schema{kind: kind, description: n.Description, optional: n.Optional}

	switch kind {
	case KindObject:
		if n.Properties == nil {
			return nil, &CompilationError{Path: path, Reason: "object requires properties"}
		}
		if len(n.Literals) > 0 {
			return nil, &CompilationError{Path: path, Reason: "literals are only allowed on scalar fields"}
		}
		seen := make(map[string]bool, len(n.Properties))
		for _, p := range n.Properties {
			if seen[p.Name] {
				return nil, &CompilationError{Path: joinPath(path, p.Name), Reason: "duplicate field"}
			}
			seen[p.Name] = true
			child, err := c.compile(joinPath(path, p.Name), p.Node)
			if err != nil {
				return nil, err
			}
			s.fields = append(s.fields, field{name: p.Name, schema: child})
		}
	case KindList:
		if n.Items == nil {
			return nil, &CompilationError{Path: path, Reason: "list requires items"}
		}
		if len(n.Literals) > 0 {
			return nil, &CompilationError{Path: path, Reason: "literals are only allowed on scalar fields"}
		}
		child, err := c.compile(path+"[]", n.Items)
		if err != nil {
			return nil, err
		}
		s.items = child
	default:
		for _, lit := range n.Literals {
			if !isScalarValue(lit) {
				return nil, &CompilationError{Path: path, Reason: fmt.Sprintf("literal %v is not a scalar", lit)}
			}
			v, ok := coerceScalar(kind, lit)
			if !ok {
				return nil, &CompilationError{Path: path, Reason: fmt.Sprintf("literal %v is not a valid %s", lit, kind)}
			}
			s.literals = append(s.literals, v)
		}
	}
	return s, nil
}

func isScalarValue(v any) bool {
	switch v.(type) {
	case string, bool, int, int64, float64:
		return true
	}
	return false
}
