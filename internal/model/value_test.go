package model

import "testing"

func powerLimitShape() *Shape {
	element := &Shape{
		Name: "powerLimitListDataType",
		Kind: KindSequence,
		Fields: []FieldDecl{
			{Name: "limitId", Shape: &Shape{Name: "limitId", Kind: KindSimple, ScalarKind: ScalarInt}},
			{Name: "value", Shape: &Shape{Name: "value", Kind: KindSimple, ScalarKind: ScalarScaledNumber}},
			{Name: "isActive", Shape: &Shape{Name: "isActive", Kind: KindSimple, ScalarKind: ScalarBool}},
		},
	}
	return &Shape{
		Name:       "powerLimitListData",
		Kind:       KindList,
		Element:    element,
		ElementKey: []string{"limitId"},
	}
}

func newLimit(id int64, number int64, scale int, active bool) *Value {
	e := CreateEmpty(powerLimitShape().Element)
	e.Set("limitId", &Value{Shape: e.Shape.FieldShape("limitId"), Scalar: IntScalar(id)})
	e.Set("value", &Value{Shape: e.Shape.FieldShape("value"), Scalar: ScaledNumberScalar(number, scale)})
	e.Set("isActive", &Value{Shape: e.Shape.FieldShape("isActive"), Scalar: BoolScalar(active)})
	return e
}

func TestCreateEmpty_SequenceHasNoPresentFields(t *testing.T) {
	shape := powerLimitShape().Element
	v := CreateEmpty(shape)
	if v.Has("limitId") {
		t.Error("freshly created sequence must not have any field present")
	}
}

func TestCompare_AbsentVsZeroValueAreNotEqual(t *testing.T) {
	shape := powerLimitShape().Element
	withZero := CreateEmpty(shape)
	withZero.Set("isActive", &Value{Shape: shape.FieldShape("isActive"), Scalar: BoolScalar(false)})
	withoutField := CreateEmpty(shape)

	if Compare(withZero, withoutField) {
		t.Error("a present zero-value field must not compare equal to an absent field")
	}
}

func TestCopy_IsDeepAndIndependent(t *testing.T) {
	original := newLimit(1, 2000, 2, true)
	clone := original.Copy()

	clone.Set("isActive", &Value{Shape: clone.Shape.FieldShape("isActive"), Scalar: BoolScalar(false)})

	if !original.Get("isActive").Scalar.BoolValue {
		t.Fatal("mutating the clone must not affect the original")
	}
	if !Compare(original, newLimit(1, 2000, 2, true)) {
		t.Error("original should remain equal to a freshly built equivalent value")
	}
}

func TestListAppendOrMerge_MergesByElementKeyNotIndex(t *testing.T) {
	list := CreateEmpty(powerLimitShape())

	if err := ListAppendOrMerge(list, newLimit(1, 1000, 0, true)); err != nil {
		t.Fatal(err)
	}
	if err := ListAppendOrMerge(list, newLimit(2, 2000, 0, true)); err != nil {
		t.Fatal(err)
	}
	if len(list.Elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(list.Elements))
	}

	patch := CreateEmpty(powerLimitShape().Element)
	patch.Set("limitId", &Value{Shape: patch.Shape.FieldShape("limitId"), Scalar: IntScalar(1)})
	patch.Set("isActive", &Value{Shape: patch.Shape.FieldShape("isActive"), Scalar: BoolScalar(false)})
	if err := ListAppendOrMerge(list, patch); err != nil {
		t.Fatal(err)
	}

	if len(list.Elements) != 2 {
		t.Fatalf("merge-by-key must not grow the list, got %d elements", len(list.Elements))
	}
	merged := list.Elements[0]
	if merged.Get("isActive").Scalar.BoolValue {
		t.Error("isActive should have been overwritten to false by the partial merge")
	}
	if merged.Get("value").Scalar.ScaledValue.Number != 1000 {
		t.Error("value untouched by the patch must survive the merge")
	}
}

func TestListAppendOrMerge_RejectsBeyondMaxElements(t *testing.T) {
	shape := powerLimitShape()
	shape.MaxElements = 1
	list := CreateEmpty(shape)
	if err := ListAppendOrMerge(list, newLimit(1, 0, 0, true)); err != nil {
		t.Fatal(err)
	}
	if err := ListAppendOrMerge(list, newLimit(2, 0, 0, true)); err == nil {
		t.Error("expected MaxElements to reject a second distinct element")
	}
}

func TestListRemove_DeletesBySelectorFieldNotIndex(t *testing.T) {
	list := CreateEmpty(powerLimitShape())
	ListAppendOrMerge(list, newLimit(1, 0, 0, true))
	ListAppendOrMerge(list, newLimit(2, 0, 0, false))

	selector := CreateEmpty(powerLimitShape().Element)
	selector.Set("isActive", &Value{Shape: selector.Shape.FieldShape("isActive"), Scalar: BoolScalar(false)})

	removed := ListRemove(list, selector)
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if len(list.Elements) != 1 || list.Elements[0].Get("limitId").Scalar.IntValue != 1 {
		t.Error("wrong element removed")
	}
}

func TestUniqueMatch_NoMatchVsAmbiguousAreDistinctErrors(t *testing.T) {
	list := CreateEmpty(powerLimitShape())
	ListAppendOrMerge(list, newLimit(1, 0, 0, true))
	ListAppendOrMerge(list, newLimit(2, 0, 0, true))

	activeSelector := CreateEmpty(powerLimitShape().Element)
	activeSelector.Set("isActive", &Value{Shape: activeSelector.Shape.FieldShape("isActive"), Scalar: BoolScalar(true)})

	if _, err := UniqueMatch(list, activeSelector); err != ErrAmbiguousMatch {
		t.Errorf("expected ErrAmbiguousMatch, got %v", err)
	}

	missingSelector := CreateEmpty(powerLimitShape().Element)
	missingSelector.Set("limitId", &Value{Shape: missingSelector.Shape.FieldShape("limitId"), Scalar: IntScalar(99)})
	if _, err := UniqueMatch(list, missingSelector); err != ErrNoMatch {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}

func TestReadElements_ProjectsOnlyRequestedPaths(t *testing.T) {
	v := newLimit(1, 5000, 1, true)
	projected := ReadElements(v, [][]string{{"limitId"}})

	if !projected.Has("limitId") {
		t.Error("expected limitId to be present in the projection")
	}
	if projected.Has("value") || projected.Has("isActive") {
		t.Error("expected only requested paths to be present")
	}
}

func TestReadElements_EmptyPathsReturnsFullCopy(t *testing.T) {
	v := newLimit(1, 5000, 1, true)
	full := ReadElements(v, nil)
	if !Compare(v, full) {
		t.Error("expected empty path list to return an equivalent full copy")
	}
}

func TestDeleteElements_RemovesNamedFieldsOnly(t *testing.T) {
	v := newLimit(1, 5000, 1, true)
	removed := DeleteElements(v, [][]string{{"isActive"}})
	if removed != 1 {
		t.Fatalf("expected 1 path removed, got %d", removed)
	}
	if v.Has("isActive") {
		t.Error("expected isActive to be absent after deletion")
	}
	if !v.Has("limitId") || !v.Has("value") {
		t.Error("deletion of one field must not affect sibling fields")
	}
}

func TestDeleteElements_MissingPathReportsZeroRemoved(t *testing.T) {
	v := CreateEmpty(powerLimitShape().Element)
	if removed := DeleteElements(v, [][]string{{"isActive"}}); removed != 0 {
		t.Errorf("expected 0 removed for an already-absent field, got %d", removed)
	}
}
