package device

import (
	"testing"

	"github.com/enbility/eebus-core/internal/address"
	"github.com/enbility/eebus-core/internal/spine/feature"
)

func newTestDevice() *Device {
	return New(Info{Vendor: "ACME", Serial: "1", Address: address.DeriveDeviceAddress("ACME", "1")})
}

func TestNew_CreatesRootEntityWithEmptyAddress(t *testing.T) {
	d := newTestDevice()
	if len(d.Root().Address.EntityIDs) != 0 {
		t.Errorf("expected root entity to have an empty id path, got %v", d.Root().Address.EntityIDs)
	}
}

func TestAddEntity_AssignsMonotonicNeverReusedIDs(t *testing.T) {
	d := newTestDevice()
	h := d.Lock()
	defer h.Unlock()

	e1, err := d.AddEntity(h, d.Root(), "MonitoredUnit")
	if err != nil {
		t.Fatal(err)
	}
	e2, err := d.AddEntity(h, d.Root(), "MonitoredUnit")
	if err != nil {
		t.Fatal(err)
	}
	if e1.Address.EntityIDs[0] != 1 || e2.Address.EntityIDs[0] != 2 {
		t.Errorf("expected ids 1 then 2, got %v and %v", e1.Address.EntityIDs, e2.Address.EntityIDs)
	}
}

func TestAddEntity_RequiresValidHandle(t *testing.T) {
	d := newTestDevice()
	other := newTestDevice()
	h := other.Lock()
	defer h.Unlock()

	defer func() {
		if recover() == nil {
			t.Error("expected AddEntity with a foreign handle to panic")
		}
	}()
	d.AddEntity(h, d.Root(), "MonitoredUnit")
}

func TestAddFeature_RejectsDuplicateFeatureID(t *testing.T) {
	d := newTestDevice()
	h := d.Lock()
	defer h.Unlock()

	entity, _ := d.AddEntity(h, d.Root(), "MonitoredUnit")
	addr := address.Feature{Entity: entity.Address, FeatureID: 1}
	f1 := feature.New(addr, feature.RoleServer, "Measurement")
	f2 := feature.New(addr, feature.RoleServer, "Measurement")

	if err := d.AddFeature(h, entity, f1); err != nil {
		t.Fatal(err)
	}
	if err := d.AddFeature(h, entity, f2); err == nil {
		t.Error("expected registering a second feature at the same id to fail")
	}
}

func TestEntity_NextFeatureID_RootStartsAtZeroNonRootAtOne(t *testing.T) {
	d := newTestDevice()
	h := d.Lock()
	defer h.Unlock()

	if got := d.Root().NextFeatureID(); got != 0 {
		t.Errorf("root NextFeatureID() = %d, want 0", got)
	}
	child, _ := d.AddEntity(h, d.Root(), "MonitoredUnit")
	if got := child.NextFeatureID(); got != 1 {
		t.Errorf("non-root NextFeatureID() = %d, want 1", got)
	}
}

func TestFindFeature_ResolvesRegisteredFeature(t *testing.T) {
	d := newTestDevice()
	h := d.Lock()
	entity, _ := d.AddEntity(h, d.Root(), "MonitoredUnit")
	addr := address.Feature{Entity: entity.Address, FeatureID: 1}
	f := feature.New(addr, feature.RoleServer, "Measurement")
	d.AddFeature(h, entity, f)
	h.Unlock()

	if got := d.FindFeature(addr); got != f {
		t.Error("expected FindFeature to resolve the registered feature")
	}
}

func TestRemote_DetachClearsEntitiesAndSender(t *testing.T) {
	r := NewRemote("test-ski")
	entityAddr := address.Entity{Device: "d:_n:PEER_1", EntityIDs: []uint{1}}
	r.UpsertEntity(entityAddr, "MonitoredUnit")

	if r.Entity(entityAddr) == nil {
		t.Fatal("expected entity to be cached before detach")
	}
	r.Detach()
	if r.Entity(entityAddr) != nil {
		t.Error("expected entity cache to be cleared after Detach")
	}
	if r.Sender() != nil {
		t.Error("expected sender to be cleared after Detach")
	}
}
