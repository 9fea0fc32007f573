package device

import (
	"sync"

	"github.com/enbility/eebus-core/internal/address"
	"github.com/enbility/eebus-core/internal/spine/feature"
)

// Sender is the outbound half of a remote device's wiring: whatever
// delivers a datagram to the peer, installed with SetSender. It is kept
// as a narrow interface here so this package never imports the transport
// layer; ship.Connection does not implement it (its method is SendData).
type Sender interface {
	SendFrame(payload []byte) error
}

// Remote mirrors a peer device discovered over SHIP: the entities and
// features node management has reported, plus the sender wired to its
// SHIP connection (§4.5).
type Remote struct {
	SKI  string
	Info Info

	mu       sync.RWMutex
	entities map[string]*Entity
	sender   Sender
}

// NewRemote constructs an empty remote device for ski, with no entities
// cached yet; entities are added with UpsertEntity.
func NewRemote(ski string) *Remote {
	return &Remote{
		SKI:      ski,
		entities: make(map[string]*Entity),
	}
}

// SetSender wires (or rewires, across a reconnect) the transport used to
// reach this peer.
func (r *Remote) SetSender(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = s
}

// Sender returns the currently wired transport, or nil if detached.
func (r *Remote) Sender() Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sender
}

// UpsertEntity creates the cached description of one of the peer's
// entities, or returns the existing one unchanged if addr is already
// cached (entityType is then ignored).
func (r *Remote) UpsertEntity(addr address.Entity, entityType string) *Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entityKey(addr)
	if e, ok := r.entities[key]; ok {
		return e
	}
	e := newEntity(addr, entityType)
	r.entities[key] = e
	return e
}

// Entity returns the cached remote entity at addr, or nil.
func (r *Remote) Entity(addr address.Entity) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[entityKey(addr)]
}

// AddFeature registers f on the cached remote entity e.
func (r *Remote) AddFeature(e *Entity, f *feature.Feature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.features[f.Address.FeatureID] = f
}

// FindFeature resolves a feature address within this remote device.
func (r *Remote) FindFeature(addr address.Feature) *feature.Feature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[entityKey(addr.Entity)]
	if !ok {
		return nil
	}
	return e.Feature(addr.FeatureID)
}

// AllEntities returns every cached entity for this remote device.
func (r *Remote) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	return out
}

// Detach clears every cached entity/feature and the sender, leaving the
// Remote ready for garbage collection or a future reconnect (§4.5 remote
// lifecycle: "discarded on SHIP detach and on disconnect").
func (r *Remote) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = make(map[string]*Entity)
	r.sender = nil
}
