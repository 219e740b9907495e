// Package fieldspec compiles declarative field specifications into validators.
//
// A field specification is an ordered map of field names to nodes. Each node is
// either a scalar (str, int, float, bool), an object with ordered properties, or
// a list with an item node. Nodes may reference shared definitions declared under
// the reserved top-level "$defs" key with {"$ref": "Name"}.
package fieldspec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefsKey is the reserved top-level key holding shared node definitions.
const DefsKey = "$defs"

// Node describes one field in a specification.
type Node struct {
	Type        string
	Description string
	Optional    bool
	Literals    []any
	Properties  []Property
	Items       *Node
	Ref         string
}

// Property is a named member of an object node. Order is significant.
type Property struct {
	Name string
	Node *Node
}

// Spec is a parsed field specification.
type Spec struct {
	Fields []Property
	Defs   map[string]*Node
}

// Object wraps the top-level fields as an object node.
func (s *Spec) Object() *Node {
	return &Node{Type: "object", Properties: s.Fields}
}

// Parse decodes a JSON or YAML field specification, preserving field order.
func Parse(data []byte) (*Spec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &CompilationError{Reason: fmt.Sprintf("invalid field specification: %v", err)}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &CompilationError{Reason: "empty field specification"}
	}
	return FromYAML(doc.Content[0])
}

// FromYAML builds a Spec from an already decoded YAML mapping node. Task files
// embed the specification inline and hand over the sub-node directly.
func FromYAML(root *yaml.Node) (*Spec, error) {
	if root.Kind != yaml.MappingNode {
		return nil, &CompilationError{Reason: "field specification must be a mapping of field names"}
	}

	spec := &Spec{Defs: map[string]*Node{}}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i].Value, root.Content[i+1]
		if key == DefsKey {
			if val.Kind != yaml.MappingNode {
				return nil, &CompilationError{Path: DefsKey, Reason: "must be a mapping"}
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				name := val.Content[j].Value
				n, err := decodeNode(DefsKey+"."+name, val.Content[j+1])
				if err != nil {
					return nil, err
				}
				spec.Defs[name] = n
			}
			continue
		}
		n, err := decodeNode(key, val)
		if err != nil {
			return nil, err
		}
		spec.Fields = append(spec.Fields, Property{Name: key, Node: n})
	}
	return spec, nil
}

func decodeNode(path string, yn *yaml.Node) (*Node, error) {
	if yn.Kind != yaml.MappingNode {
		return nil, &CompilationError{Path: path, Reason: "field must be a mapping"}
	}

	n := &Node{}
	for i := 0; i+1 < len(yn.Content); i += 2 {
		key, val := yn.Content[i].Value, yn.Content[i+1]
		switch key {
		case "type":
			n.Type = val.Value
		case "description":
			n.Description = val.Value
		case "$ref":
			n.Ref = val.Value
		case "optional":
			if err := val.Decode(&n.Optional); err != nil {
				return nil, &CompilationError{Path: path, Reason: "optional must be a boolean"}
			}
		case "literals":
			if val.Kind != yaml.SequenceNode {
				return nil, &CompilationError{Path: path, Reason: "literals must be a list"}
			}
			for _, el := range val.Content {
				var lit any
				if err := el.Decode(&lit); err != nil {
					return nil, &CompilationError{Path: path, Reason: fmt.Sprintf("invalid literal: %v", err)}
				}
				n.Literals = append(n.Literals, lit)
			}
		case "properties":
			if val.Kind != yaml.MappingNode {
				return nil, &CompilationError{Path: path, Reason: "properties must be a mapping"}
			}
			// An explicit empty mapping still counts as declared properties.
			n.Properties = []Property{}
			for j := 0; j+1 < len(val.Content); j += 2 {
				name := val.Content[j].Value
				child, err := decodeNode(joinPath(path, name), val.Content[j+1])
				if err != nil {
					return nil, err
				}
				n.Properties = append(n.Properties, Property{Name: name, Node: child})
			}
		case "items":
			child, err := decodeNode(path+"[]", val)
			if err != nil {
				return nil, err
			}
			n.Items = child
		}
	}
	return n, nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
