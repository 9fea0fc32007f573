// Package device implements the local and remote device trees (§4.5):
// the local device owns its entities and features under one process-wide
// mutation lock; the remote device mirrors what SHIP attach and node
// management discovery learn about a peer.
//
// Per §9's redesign guidance, the lock is not an embedded recursive
// mutex: holding it is represented by an explicit Handle value. Every
// mutating method requires a Handle, so a caller can only mutate the
// tree after proving (at the type level) that it holds the lock, and
// nested calls pass their already-acquired Handle down instead of
// re-entering the lock.
package device

import (
	"fmt"
	"sync"

	"github.com/enbility/eebus-core/internal/address"
	"github.com/enbility/eebus-core/internal/eebuserrors"
	"github.com/enbility/eebus-core/internal/spine/feature"
)

// Info is the static description of a device (§4.5 "device info").
type Info struct {
	Vendor  string
	Brand   string
	Model   string
	Serial  string
	Address address.Device
}

// Entity is one node of a device's entity tree.
type Entity struct {
	Address  address.Entity
	Type     string
	features map[uint]*feature.Feature
	children []*Entity
	nextID   uint
}

func newEntity(addr address.Entity, entityType string) *Entity {
	return &Entity{
		Address:  addr,
		Type:     entityType,
		features: make(map[uint]*feature.Feature),
		nextID:   1,
	}
}

// Features returns every feature registered on this entity.
func (e *Entity) Features() []*feature.Feature {
	out := make([]*feature.Feature, 0, len(e.features))
	for _, f := range e.features {
		out = append(out, f)
	}
	return out
}

// Feature returns the feature registered under featureID, or nil.
func (e *Entity) Feature(featureID uint) *feature.Feature {
	return e.features[featureID]
}

// Children returns this entity's direct child entities.
func (e *Entity) Children() []*Entity {
	return e.children
}

// Handle is proof of holding the device's mutation lock. It is only ever
// constructed by Device.Lock and is valid until the matching Unlock.
type Handle struct {
	device *Device
}

// Unlock releases the device lock this handle represents. Using the
// handle again afterwards is a programmer error and will panic on the
// next mutating call's ownership check.
func (h *Handle) Unlock() {
	h.device.mu.Unlock()
	h.device = nil
}

// Device is the local SPINE device: an ordered entity tree plus the
// process-wide lock guarding every mutation of that tree (§4.5).
type Device struct {
	Info Info

	mu       sync.Mutex
	root     *Entity
	entities map[string]*Entity // address.Entity.String() -> entity
	nextRootID uint
}

// New constructs the local device with its root entity (the empty entity
// address) already created.
func New(info Info) *Device {
	rootAddr := address.Entity{Device: info.Address}
	root := newEntity(rootAddr, "DeviceInformation")
	d := &Device{
		Info:       info,
		root:       root,
		entities:   map[string]*Entity{entityKey(rootAddr): root},
		nextRootID: 1,
	}
	return d
}

func entityKey(addr address.Entity) string {
	return fmt.Sprintf("%s|%s", addr.Device, addr.String())
}

// Lock acquires the device's mutation lock and returns a Handle proving
// it. The lock is not reentrant: a caller that already holds a Handle
// must pass it down rather than calling Lock again.
func (d *Device) Lock() *Handle {
	d.mu.Lock()
	return &Handle{device: d}
}

func (d *Device) checkHandle(h *Handle) {
	if h == nil || h.device != d {
		panic("device: mutating call without a valid Handle for this device")
	}
}

// Root returns the device's root entity (address with an empty id path).
func (d *Device) Root() *Entity {
	return d.root
}

// Entity looks up an entity by address. It takes the device lock itself
// for the lookup, so it must not be called while holding a Handle; the
// returned pointer is borrowed and the tree may change once the lock is
// released.
func (d *Device) Entity(addr address.Entity) *Entity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entities[entityKey(addr)]
}

// AddEntity creates a new child entity under parent with the next
// monotonically increasing, never-reused id (§4.5 invariant), and
// registers it in the device's address index.
func (d *Device) AddEntity(h *Handle, parent *Entity, entityType string) (*Entity, error) {
	d.checkHandle(h)
	if parent == nil {
		return nil, eebuserrors.InputArgument("parent", "must not be nil")
	}
	id := parent.nextID
	parent.nextID++
	addr := parent.Address.Child(id)
	e := newEntity(addr, entityType)
	parent.children = append(parent.children, e)
	d.entities[entityKey(addr)] = e
	return e, nil
}

// AddFeature registers f on entity under f.Address.FeatureID, which must
// not already be in use on that entity.
func (d *Device) AddFeature(h *Handle, e *Entity, f *feature.Feature) error {
	d.checkHandle(h)
	if e == nil || f == nil {
		return eebuserrors.InputArgument("entity/feature", "must not be nil")
	}
	if _, exists := e.features[f.Address.FeatureID]; exists {
		return eebuserrors.NoChange(fmt.Sprintf("feature id %d already registered on entity %s", f.Address.FeatureID, e.Address))
	}
	e.features[f.Address.FeatureID] = f
	return nil
}

// NextFeatureID returns the next unused feature id for entity, following
// §3: root entity starts at 0, non-root entities start at 1.
func (e *Entity) NextFeatureID() uint {
	used := make(map[uint]bool, len(e.features))
	for id := range e.features {
		used[id] = true
	}
	start := uint(1)
	if len(e.Address.EntityIDs) == 0 {
		start = 0
	}
	for id := start; ; id++ {
		if !used[id] {
			return id
		}
	}
}

// FindFeature resolves a feature address anywhere in the device tree.
func (d *Device) FindFeature(addr address.Feature) *feature.Feature {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entities[entityKey(addr.Entity)]
	if !ok {
		return nil
	}
	return e.Feature(addr.FeatureID)
}

// AllEntities returns every entity currently registered, in no
// particular order. It takes the device lock itself, so it must not be
// called while holding a Handle; the returned slice is a snapshot.
func (d *Device) AllEntities() []*Entity {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Entity, 0, len(d.entities))
	for _, e := range d.entities {
		out = append(out, e)
	}
	return out
}
