package dispatch

import (
	"testing"

	"github.com/enbility/eebus-core/internal/address"
	"github.com/enbility/eebus-core/internal/model"
	"github.com/enbility/eebus-core/internal/spine/device"
	"github.com/enbility/eebus-core/internal/spine/feature"
	"github.com/enbility/eebus-core/internal/spine/frame"
)

type fakeSender struct {
	sent []frame.Datagram
}

func (s *fakeSender) SendDatagram(ski string, dg frame.Datagram) error {
	s.sent = append(s.sent, dg)
	return nil
}

func boolShape() *model.Shape {
	return &model.Shape{Name: "onOffState", Kind: model.KindSequence, Fields: []model.FieldDecl{
		{Name: "onOff", Shape: &model.Shape{Name: "onOff", Kind: model.KindSimple, ScalarKind: model.ScalarBool}},
	}}
}

func setupDevice(t *testing.T) (*device.Device, address.Feature, *feature.Feature) {
	t.Helper()
	d := device.New(device.Info{Vendor: "ACME", Serial: "1", Address: "d:_n:ACME_1"})
	h := d.Lock()
	defer h.Unlock()

	entity, err := d.AddEntity(h, d.Root(), "ControllableSystem")
	if err != nil {
		t.Fatal(err)
	}
	addr := address.Feature{Entity: entity.Address, FeatureID: entity.NextFeatureID()}
	f := feature.New(addr, feature.RoleServer, "OnOffState")
	f.RegisterFunction("onOffState", boolShape(), feature.Operations{Read: true, Write: true})
	if err := d.AddFeature(h, entity, f); err != nil {
		t.Fatal(err)
	}
	return d, addr, f
}

func TestDispatch_UnknownDestinationReturnsResultError(t *testing.T) {
	d, addr, _ := setupDevice(t)
	sender := &fakeSender{}
	disp := New(d, sender, nil)

	unknown := addr
	unknown.FeatureID = 99
	dg := frame.Datagram{Destination: unknown, Classifier: frame.ClassifierRead, MsgCounter: 1, Command: frame.Command{Function: "onOffState"}}
	disp.Dispatch("peer-ski", dg)

	if len(sender.sent) != 1 || sender.sent[0].Command.Result.ErrorNumber != ErrNumberDestinationUnknown {
		t.Fatalf("expected a destination-unknown result, got %+v", sender.sent)
	}
}

func TestDispatch_ReadRepliesWithCache(t *testing.T) {
	d, addr, f := setupDevice(t)
	sender := &fakeSender{}
	disp := New(d, sender, nil)

	seed := model.CreateEmpty(boolShape())
	seed.Set("onOff", &model.Value{Shape: boolShape().FieldShape("onOff"), Scalar: model.BoolScalar(true)})
	if err := f.Update("onOffState", nil, seed, "write", false); err != nil {
		t.Fatal(err)
	}

	dg := frame.Datagram{Destination: addr, Classifier: frame.ClassifierRead, MsgCounter: 2, Command: frame.Command{Function: "onOffState"}}
	disp.Dispatch("peer-ski", dg)

	if len(sender.sent) != 1 || sender.sent[0].Classifier != frame.ClassifierReply {
		t.Fatalf("expected exactly one reply, got %+v", sender.sent)
	}
	if !sender.sent[0].Command.Payload.Get("onOff").Scalar.BoolValue {
		t.Error("expected reply payload to reflect the cached value")
	}
}

func TestDispatch_WriteDeferredUntilApproval(t *testing.T) {
	d, addr, f := setupDevice(t)
	sender := &fakeSender{}
	disp := New(d, sender, nil)

	var deferredApprove func(bool, string)
	disp.SetWriteApproval(addr, func(ski string, remote address.Feature, dg frame.Datagram, approve func(bool, string)) {
		deferredApprove = approve
	})

	incoming := model.CreateEmpty(boolShape())
	incoming.Set("onOff", &model.Value{Shape: boolShape().FieldShape("onOff"), Scalar: model.BoolScalar(true)})
	dg := frame.Datagram{Destination: addr, Classifier: frame.ClassifierWrite, MsgCounter: 3, Command: frame.Command{Function: "onOffState", Payload: incoming}}
	disp.Dispatch("peer-ski", dg)

	if len(sender.sent) != 0 {
		t.Fatal("expected write to be deferred, not applied synchronously")
	}
	cache, _ := f.ReadCache("onOffState", nil)
	if cache.Has("onOff") {
		t.Fatal("expected cache to remain untouched before approval")
	}

	deferredApprove(true, "")
	cache, _ = f.ReadCache("onOffState", nil)
	if !cache.Get("onOff").Scalar.BoolValue {
		t.Error("expected cache to be updated once the write was approved")
	}
}

func TestDispatch_UnmatchedReplyBecomesResultError(t *testing.T) {
	d, addr, _ := setupDevice(t)
	sender := &fakeSender{}
	disp := New(d, sender, nil)

	dg := frame.Datagram{Destination: addr, Classifier: frame.ClassifierReply, MsgCounter: 10, CommandReference: 42, Command: frame.Command{Function: "onOffState"}}
	disp.Dispatch("peer-ski", dg)

	if len(sender.sent) != 1 || sender.sent[0].Command.Result.ErrorNumber != ErrNumberUnmatchedReply {
		t.Fatalf("expected an unmatched-reply result, got %+v", sender.sent)
	}
}

func TestDispatch_MatchedReplyFiresCallbackOnceThenUnmatched(t *testing.T) {
	d, addr, f := setupDevice(t)
	sender := &fakeSender{}
	disp := New(d, sender, nil)

	fired := 0
	f.RegisterPending(42, &feature.PendingRequest{ResponseCallback: func(*model.Value) { fired++ }})

	dg := frame.Datagram{Destination: addr, Classifier: frame.ClassifierReply, MsgCounter: 10, CommandReference: 42, Command: frame.Command{Function: "onOffState"}}
	disp.Dispatch("peer-ski", dg)
	disp.Dispatch("peer-ski", dg)

	if fired != 1 {
		t.Fatalf("expected callback to fire exactly once, fired=%d", fired)
	}
	if len(sender.sent) != 1 || sender.sent[0].Command.Result.ErrorNumber != ErrNumberUnmatchedReply {
		t.Fatalf("expected the second reply to produce an unmatched-reply result, got %+v", sender.sent)
	}
}

// TestDispatch_ResultCallbackReArmedUnderOriginalCommandReference checks
// that a reply carrying a result-callback re-arms the pending entry
// under the original request's counter (dg.CommandReference), since a
// genuine follow-up Result frame echoes that counter, not the reply's
// own MsgCounter (§4.4 "the result-callback is also armed for the
// subsequent result frame that may follow").
func TestDispatch_ResultCallbackReArmedUnderOriginalCommandReference(t *testing.T) {
	d, addr, f := setupDevice(t)
	sender := &fakeSender{}
	disp := New(d, sender, nil)

	var gotErrorNumber int
	var gotDescription string
	f.RegisterPending(42, &feature.PendingRequest{ResultCallback: func(errorNumber int, description string) {
		gotErrorNumber = errorNumber
		gotDescription = description
	}})

	reply := frame.Datagram{Destination: addr, Classifier: frame.ClassifierReply, MsgCounter: 10, CommandReference: 42, Command: frame.Command{Function: "onOffState"}}
	disp.Dispatch("peer-ski", reply)

	result := frame.Datagram{
		Destination:      addr,
		Classifier:       frame.ClassifierResult,
		MsgCounter:       11,
		CommandReference: 42,
		Command:          frame.Command{Result: &frame.ResultDescriptor{ErrorNumber: ErrNumberGeneric, Description: "device busy"}},
	}
	disp.Dispatch("peer-ski", result)

	if gotErrorNumber != ErrNumberGeneric || gotDescription != "device busy" {
		t.Fatalf("expected the follow-up result to reach the re-armed callback, got errorNumber=%d description=%q", gotErrorNumber, gotDescription)
	}
}
