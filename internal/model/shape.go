// Package model implements the reflective data-model runtime (§4.1): one
// uniform layer that can create, copy, compare, parse, serialise,
// partial-read, and partial-delete any declared function payload, driven
// entirely by read-only Shape tables rather than per-function code.
package model

// Kind identifies which of the four record shapes (§3) a Shape describes.
type Kind int

const (
	KindSimple Kind = iota
	KindSequence
	KindList
	KindContainer
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindSequence:
		return "sequence"
	case KindList:
		return "list"
	case KindContainer:
		return "container"
	default:
		return "unknown"
	}
}

// FieldDecl declares one named field of a sequence shape.
type FieldDecl struct {
	Name  string
	Shape *Shape
}

// Shape is immutable, read-only metadata describing one function payload
// or one of its nested records. It is consulted at runtime by every
// operation in this package; there is no per-function hand-written copy
// routine (§4.1 "shape is data, not code").
type Shape struct {
	Name string
	Kind Kind

	// KindSimple
	ScalarKind ScalarKind

	// KindSequence
	Fields []FieldDecl

	// KindList
	Element    *Shape   // element shape, normally KindSequence
	ElementKey []string // top-level field names of Element identifying uniqueness
	MaxElements int      // 0 = unbounded (supplemental cardinality, see SPEC_FULL §4)

	// KindContainer
	ContainerField string // field name the wrapped list is exposed under, e.g. "xData"
	ContainerList  *Shape // the wrapped KindList shape
}

// FieldShape returns the declared shape of a named field on a sequence
// shape, or nil if the field is not declared.
func (s *Shape) FieldShape(name string) *Shape {
	if s == nil || s.Kind != KindSequence {
		return nil
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Shape
		}
	}
	return nil
}
