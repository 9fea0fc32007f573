package feature

import (
	"testing"
	"time"

	"github.com/enbility/eebus-core/internal/address"
	"github.com/enbility/eebus-core/internal/model"
	"github.com/enbility/eebus-core/internal/spine/filter"
)

func limitListShape() *model.Shape {
	element := &model.Shape{
		Name: "loadControlLimitDataType",
		Kind: model.KindSequence,
		Fields: []model.FieldDecl{
			{Name: "limitId", Shape: &model.Shape{Name: "limitId", Kind: model.KindSimple, ScalarKind: model.ScalarInt}},
			{Name: "value", Shape: &model.Shape{Name: "value", Kind: model.KindSimple, ScalarKind: model.ScalarScaledNumber}},
		},
	}
	return &model.Shape{
		Name:       "loadControlLimitListData",
		Kind:       model.KindList,
		Element:    element,
		ElementKey: []string{"limitId"},
	}
}

func limitElement(id int64, number int64, scale int) *model.Value {
	shape := limitListShape().Element
	e := model.CreateEmpty(shape)
	e.Set("limitId", &model.Value{Shape: shape.FieldShape("limitId"), Scalar: model.IntScalar(id)})
	e.Set("value", &model.Value{Shape: shape.FieldShape("value"), Scalar: model.ScaledNumberScalar(number, scale)})
	return e
}

func featureAddr() address.Feature {
	return address.Feature{Entity: address.Entity{Device: "d:_n:ACME_1", EntityIDs: []uint{1}}, FeatureID: 0}
}

func newSeededFeature(t *testing.T) *Feature {
	t.Helper()
	f := New(featureAddr(), RoleServer, "loadControl")
	f.RegisterFunction("loadControlLimitListData", limitListShape(), Operations{Read: true, ReadPartial: true, Write: true, WritePartial: true})

	shape := limitListShape()
	seed := model.CreateEmpty(shape)
	for _, id := range []int64{10, 25, 113} {
		if err := model.ListAppendOrMerge(seed, limitElement(id, int64(id)*10, 0)); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Update("loadControlLimitListData", nil, seed, "write", false); err != nil {
		t.Fatal(err)
	}
	return f
}

func elementByID(list *model.Value, id int64) *model.Value {
	for _, e := range list.Elements {
		if e.Get("limitId").Scalar.IntValue == id {
			return e
		}
	}
	return nil
}

func TestUpdate_PartialFilterPreservesOtherElements(t *testing.T) {
	f := newSeededFeature(t)

	selector := model.CreateEmpty(limitListShape().Element)
	selector.Set("limitId", &model.Value{Shape: selector.Shape.FieldShape("limitId"), Scalar: model.IntScalar(113)})

	patch := model.CreateEmpty(limitListShape())
	model.ListAppendOrMerge(patch, limitElement(113, 95, 1))

	err := f.Update("loadControlLimitListData", []filter.Filter{{Control: filter.ControlPartial, Selectors: selector}}, patch, "notify", false)
	if err != nil {
		t.Fatal(err)
	}

	cache, err := f.ReadCache("loadControlLimitListData", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cache.Elements) != 3 {
		t.Fatalf("expected 3 elements to survive, got %d", len(cache.Elements))
	}
	e113 := elementByID(cache, 113)
	if e113.Get("value").Scalar.ScaledValue.Number != 95 {
		t.Error("expected element 113 to be updated to 95")
	}
	if elementByID(cache, 10).Get("value").Scalar.ScaledValue.Number != 100 {
		t.Error("expected element 10 to be untouched")
	}
	if elementByID(cache, 25).Get("value").Scalar.ScaledValue.Number != 250 {
		t.Error("expected element 25 to be untouched")
	}
}

func TestUpdate_DeleteByElementDescriptorClearsSubfieldOnly(t *testing.T) {
	f := newSeededFeature(t)

	selector := model.CreateEmpty(limitListShape().Element)
	selector.Set("limitId", &model.Value{Shape: selector.Shape.FieldShape("limitId"), Scalar: model.IntScalar(10)})

	flt := filter.Filter{Control: filter.ControlDelete, Selectors: selector, Elements: [][]string{{"value"}}}
	if err := f.Update("loadControlLimitListData", []filter.Filter{flt}, nil, "notify", false); err != nil {
		t.Fatal(err)
	}

	cache, _ := f.ReadCache("loadControlLimitListData", nil)
	e10 := elementByID(cache, 10)
	if e10 == nil {
		t.Fatal("expected element 10 to still be present")
	}
	if e10.Has("value") {
		t.Error("expected value field to have been cleared")
	}
	if !e10.Has("limitId") {
		t.Error("expected limitId field to survive the sub-field delete")
	}
}

func TestUpdate_DeleteWithoutElementsRemovesWholeElement(t *testing.T) {
	f := newSeededFeature(t)
	selector := model.CreateEmpty(limitListShape().Element)
	selector.Set("limitId", &model.Value{Shape: selector.Shape.FieldShape("limitId"), Scalar: model.IntScalar(25)})

	flt := filter.Filter{Control: filter.ControlDelete, Selectors: selector}
	if err := f.Update("loadControlLimitListData", []filter.Filter{flt}, nil, "notify", false); err != nil {
		t.Fatal(err)
	}
	cache, _ := f.ReadCache("loadControlLimitListData", nil)
	if len(cache.Elements) != 2 {
		t.Fatalf("expected 2 elements remaining, got %d", len(cache.Elements))
	}
	if elementByID(cache, 25) != nil {
		t.Error("expected element 25 to be removed entirely")
	}
}

func TestUpdate_RejectsWriteWhenOperationFlagDisabled(t *testing.T) {
	f := New(featureAddr(), RoleServer, "loadControl")
	f.RegisterFunction("loadControlLimitListData", limitListShape(), Operations{Read: true})

	err := f.Update("loadControlLimitListData", nil, model.CreateEmpty(limitListShape()), "write", true)
	if err == nil {
		t.Error("expected write to be rejected when the write flag is off")
	}
}

func TestResolvePending_FiresOnceThenReportsNotFound(t *testing.T) {
	f := New(featureAddr(), RoleClient, "loadControl")
	fired := 0
	f.RegisterPending(42, &PendingRequest{ResponseCallback: func(*model.Value) { fired++ }})

	req, ok := f.ResolvePending(42)
	if !ok {
		t.Fatal("expected first resolution to find the pending request")
	}
	req.ResponseCallback(nil)
	if fired != 1 {
		t.Fatalf("expected callback to fire exactly once, fired=%d", fired)
	}

	if _, ok := f.ResolvePending(42); ok {
		t.Error("expected second resolution for the same counter to report not found")
	}
}

func TestEvictExpired_RemovesOnlyPastExpiry(t *testing.T) {
	f := New(featureAddr(), RoleClient, "loadControl")
	f.RegisterPending(1, &PendingRequest{Expiry: time.Now().Add(-time.Second)})
	f.RegisterPending(2, &PendingRequest{Expiry: time.Now().Add(time.Hour)})

	expired := f.EvictExpired(time.Now())
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired entry, got %d", len(expired))
	}
	if _, ok := f.ResolvePending(2); !ok {
		t.Error("expected non-expired entry to remain pending")
	}
}

func TestOnChange_InvokedAfterSuccessfulUpdate(t *testing.T) {
	f := New(featureAddr(), RoleServer, "loadControl")
	f.RegisterFunction("loadControlLimitListData", limitListShape(), Operations{Write: true})

	var got ChangeEvent
	f.OnChange = func(ev ChangeEvent) { got = ev }

	if err := f.Update("loadControlLimitListData", nil, model.CreateEmpty(limitListShape()), "write", false); err != nil {
		t.Fatal(err)
	}
	if got.Function != "loadControlLimitListData" || got.Classifier != "write" {
		t.Errorf("unexpected change event: %+v", got)
	}
}
