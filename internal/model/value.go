package model

import "fmt"

// Value is one node of the reflective record tree (§3/§4.1). Exactly one
// of its payload fields is meaningful, selected by Shape.Kind:
//
//	KindSimple     -> Scalar
//	KindSequence   -> Fields (by declared field name; absent key == absent
//	                  field, not a stored null -- this is how "not sent"
//	                  is told apart from a zero value)
//	KindList       -> Elements
//	KindContainer  -> Fields[Shape.ContainerField] holds the wrapped list
type Value struct {
	Shape    *Shape
	Scalar   *Scalar
	Fields   map[string]*Value
	Elements []*Value
}

// CreateEmpty returns a new, empty Value of the given shape: no scalar set,
// no fields present, no elements. Every field of a sequence starts absent,
// not zero-valued, matching the "nothing sent yet" state of a fresh record.
func CreateEmpty(shape *Shape) *Value {
	if shape == nil {
		return nil
	}
	v := &Value{Shape: shape}
	switch shape.Kind {
	case KindSequence:
		v.Fields = make(map[string]*Value)
	case KindContainer:
		v.Fields = make(map[string]*Value)
	case KindList:
		v.Elements = nil
	}
	return v
}

// Copy returns a deep clone of v.
func (v *Value) Copy() *Value {
	if v == nil {
		return nil
	}
	clone := &Value{Shape: v.Shape}
	if v.Scalar != nil {
		clone.Scalar = v.Scalar.Copy()
	}
	if v.Fields != nil {
		clone.Fields = make(map[string]*Value, len(v.Fields))
		for k, fv := range v.Fields {
			clone.Fields[k] = fv.Copy()
		}
	}
	if v.Elements != nil {
		clone.Elements = make([]*Value, len(v.Elements))
		for i, e := range v.Elements {
			clone.Elements[i] = e.Copy()
		}
	}
	return clone
}

// Compare reports structural equality: same shape (the same Shape table,
// or two tables with equal name and kind), same present fields, same
// elements in the same order. Absence of a field in one side and
// presence in the other are never equal, even if the present value would
// be a zero value.
func Compare(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Shape != b.Shape && (a.Shape == nil || b.Shape == nil ||
		a.Shape.Name != b.Shape.Name || a.Shape.Kind != b.Shape.Kind) {
		return false
	}
	switch a.Shape.Kind {
	case KindSimple:
		return a.Scalar.Equal(b.Scalar)
	case KindSequence, KindContainer:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for k, av := range a.Fields {
			bv, ok := b.Fields[k]
			if !ok || !Compare(av, bv) {
				return false
			}
		}
		return true
	case KindList:
		if len(a.Elements) != len(b.Elements) {
			return false
		}
		for i := range a.Elements {
			if !Compare(a.Elements[i], b.Elements[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Get returns the named field of a sequence/container value, or nil if
// the field is absent.
func (v *Value) Get(name string) *Value {
	if v == nil || v.Fields == nil {
		return nil
	}
	return v.Fields[name]
}

// Set stores a field by name, creating the field map if necessary. Setting
// nil removes the field (making it absent again).
func (v *Value) Set(name string, field *Value) {
	if v.Fields == nil {
		v.Fields = make(map[string]*Value)
	}
	if field == nil {
		delete(v.Fields, name)
		return
	}
	v.Fields[name] = field
}

// Has reports whether the named field is present (regardless of its value).
func (v *Value) Has(name string) bool {
	if v == nil || v.Fields == nil {
		return false
	}
	_, ok := v.Fields[name]
	return ok
}

// elementKeyValues extracts the element-key field values used to decide
// whether two list elements identify "the same" record (§4.1: lists are
// merged by declared key fields, never by position).
func elementKeyValues(shape *Shape, e *Value) ([]*Value, bool) {
	if e == nil || len(shape.ElementKey) == 0 {
		return nil, false
	}
	keys := make([]*Value, len(shape.ElementKey))
	for i, name := range shape.ElementKey {
		kv := e.Get(name)
		if kv == nil {
			return nil, false
		}
		keys[i] = kv
	}
	return keys, true
}

func sameKey(a, b []*Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Compare(a[i], b[i]) {
			return false
		}
	}
	return true
}

// ListAppendOrMerge inserts elem into a KindList value. If an existing
// element shares the same element-key field values, that element is
// replaced field-by-field with the incoming one (partial-merge semantics:
// fields absent in elem are left untouched on the existing element) rather
// than duplicated.
func ListAppendOrMerge(list *Value, elem *Value) error {
	if list == nil || list.Shape == nil || list.Shape.Kind != KindList {
		return fmt.Errorf("model: ListAppendOrMerge requires a list value")
	}
	elemKey, hasKey := elementKeyValues(list.Shape, elem)
	if hasKey {
		for i, existing := range list.Elements {
			existingKey, ok := elementKeyValues(list.Shape, existing)
			if ok && sameKey(existingKey, elemKey) {
				list.Elements[i] = mergeSequence(existing, elem)
				return nil
			}
		}
	}
	if list.Shape.MaxElements > 0 && len(list.Elements) >= list.Shape.MaxElements {
		return fmt.Errorf("model: list %q at MaxElements=%d", list.Shape.Name, list.Shape.MaxElements)
	}
	list.Elements = append(list.Elements, elem)
	return nil
}

// mergeSequence returns a copy of base with every field present in patch
// overwritten; fields absent from patch are left as in base.
func mergeSequence(base, patch *Value) *Value {
	merged := base.Copy()
	if patch == nil {
		return merged
	}
	for name, pv := range patch.Fields {
		merged.Set(name, pv)
	}
	return merged
}

// ListRemove deletes every element of list matching selector (a value of
// the same element shape with only the fields to match against present;
// an absent field in selector means "don't care"). Returns the number of
// elements removed.
func ListRemove(list *Value, selector *Value) int {
	if list == nil || list.Shape == nil || list.Shape.Kind != KindList {
		return 0
	}
	kept := list.Elements[:0:0]
	removed := 0
	for _, e := range list.Elements {
		if matchesSelector(e, selector) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	list.Elements = kept
	return removed
}

// matchesSelector reports whether value satisfies selector: every field
// present in selector must be present and equal (recursively) in value.
// A field absent from selector imposes no constraint.
func matchesSelector(value, selector *Value) bool {
	if selector == nil {
		return true
	}
	if selector.Shape != nil && selector.Shape.Kind == KindSimple {
		return value != nil && value.Scalar.Equal(selector.Scalar)
	}
	for name, sv := range selector.Fields {
		vv := value.Get(name)
		if vv == nil || !matchesSelector(vv, sv) {
			return false
		}
	}
	return true
}

// ListMatchIter returns every element of list satisfying selector, in
// stored order. A nil selector matches every element.
func ListMatchIter(list *Value, selector *Value) []*Value {
	if list == nil {
		return nil
	}
	var out []*Value
	for _, e := range list.Elements {
		if matchesSelector(e, selector) {
			out = append(out, e)
		}
	}
	return out
}

// ErrNoMatch and ErrAmbiguousMatch are returned by UniqueMatch.
var (
	ErrNoMatch        = fmt.Errorf("model: selector matched no element")
	ErrAmbiguousMatch = fmt.Errorf("model: selector matched more than one element")
)

// UniqueMatch returns the single list element satisfying selector. A
// selector that matches zero or more than one element is a protocol
// error (§4.1), distinguished so dispatch can report the right failure.
func UniqueMatch(list *Value, selector *Value) (*Value, error) {
	matches := ListMatchIter(list, selector)
	switch len(matches) {
	case 0:
		return nil, ErrNoMatch
	case 1:
		return matches[0], nil
	default:
		return nil, ErrAmbiguousMatch
	}
}

// ReadElements applies a read filter (partial projection) to v, returning
// a new Value containing only the named field paths (each path is a list
// of field names, one per nesting level). An empty paths list returns a
// full deep copy.
func ReadElements(v *Value, paths [][]string) *Value {
	if v == nil {
		return nil
	}
	if len(paths) == 0 {
		return v.Copy()
	}
	out := CreateEmpty(v.Shape)
	for _, path := range paths {
		projectPath(v, out, path)
	}
	return out
}

func projectPath(src, dst *Value, path []string) {
	if len(path) == 0 || src == nil {
		return
	}
	name := path[0]
	sv := src.Get(name)
	if sv == nil {
		return
	}
	if len(path) == 1 {
		dst.Set(name, sv.Copy())
		return
	}
	existing := dst.Get(name)
	if existing == nil {
		existing = CreateEmpty(sv.Shape)
		dst.Set(name, existing)
	}
	projectPath(sv, existing, path[1:])
}

// DeleteElements removes the named field paths from v in place (§4.2
// delete semantics operate on whole declared elements, never bare
// scalars). Returns the number of paths actually found and removed.
func DeleteElements(v *Value, paths [][]string) int {
	if v == nil {
		return 0
	}
	removed := 0
	for _, path := range paths {
		if deletePath(v, path) {
			removed++
		}
	}
	return removed
}

func deletePath(v *Value, path []string) bool {
	if v == nil || len(path) == 0 {
		return false
	}
	name := path[0]
	if len(path) == 1 {
		if !v.Has(name) {
			return false
		}
		v.Set(name, nil)
		return true
	}
	child := v.Get(name)
	if child == nil {
		return false
	}
	return deletePath(child, path[1:])
}
