package fieldspec

import (
	"fmt"
	"strings"
)

// CompilationError reports a malformed field specification.
type CompilationError struct {
	Path   string
	Reason string
}

func (e *CompilationError) Error() string {
	if e.Path == "" {
		return "schema compilation: " + e.Reason
	}
	return fmt.Sprintf("schema compilation: %s: %s", e.Path, e.Reason)
}

// Violation is one mismatch between a candidate value and the schema.
type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + " " + v.Message
}

// ValidationError lists every violation found in a candidate answer.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}
