// Package nodemanagement holds the node-management inventories (§4.6):
// detailed discovery, use-case data, subscription and binding
// inventories, and the destination list. Each is a plain Go type guarded
// by its own mutex; none is registered as a feature on a device or wired
// to the dispatcher, and none goes through the feature update algorithm.
package nodemanagement

import (
	"sync"

	"github.com/enbility/eebus-core/internal/address"
	"github.com/enbility/eebus-core/internal/spine/feature"
)

// FeatureInfo is one entry of detailed discovery's per-entity feature list.
type FeatureInfo struct {
	Address            address.Feature
	Role               feature.Role
	FeatureType        string
	SupportedFunctions []string
}

// EntityInfo is one entry of detailed discovery's entity list.
type EntityInfo struct {
	Address  address.Entity
	Type     string
	Features []FeatureInfo
}

// DetailedDiscovery is the full payload returned on read and reissued
// spontaneously on change (§4.6).
type DetailedDiscovery struct {
	mu       sync.RWMutex
	entities []EntityInfo
}

// SetEntities replaces the discovery snapshot wholesale.
func (d *DetailedDiscovery) SetEntities(entities []EntityInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entities = entities
}

// Entities returns the current discovery snapshot.
func (d *DetailedDiscovery) Entities() []EntityInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]EntityInfo, len(d.entities))
	copy(out, d.entities)
	return out
}

// UseCaseSupport is one supported use case advertised for an actor.
type UseCaseSupport struct {
	NameID      string
	Version     string
	SubRevision string
	Available   bool
	Scenarios   []int
}

// useCaseEntry is one {entity-address, actor} record with its supports.
type useCaseEntry struct {
	EntityAddress address.Entity
	Actor         string
	Supports      []UseCaseSupport
}

// UseCaseFilter selects use-case entries/supports for removal. A nil
// field imposes no constraint on that dimension; EntityAddress matches
// entries whose entity address equals it exactly (device and entity ids),
// so there is no filter selecting every entity of one device; Actor and
// NameID narrow to specific {actor, name-id} pairs.
type UseCaseFilter struct {
	EntityAddress *address.Entity
	Actor         *string
	NameID        *string
}

func (f UseCaseFilter) matchesEntry(e useCaseEntry) bool {
	if f.EntityAddress != nil && !f.EntityAddress.Equal(e.EntityAddress) {
		return false
	}
	if f.Actor != nil && *f.Actor != e.Actor {
		return false
	}
	return true
}

// UseCaseData is the node-management use-case inventory.
type UseCaseData struct {
	mu      sync.Mutex
	entries []useCaseEntry
}

// Add merges a use-case support into the entry for (entityAddress,
// actor), creating the entry if it does not yet exist (§4.6: "adding a
// use-case support merges into the existing record").
func (d *UseCaseData) Add(entityAddress address.Entity, actor string, support UseCaseSupport) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.entries {
		e := &d.entries[i]
		if e.Actor != actor || !e.EntityAddress.Equal(entityAddress) {
			continue
		}
		for j := range e.Supports {
			if e.Supports[j].NameID == support.NameID {
				e.Supports[j] = support
				return
			}
		}
		e.Supports = append(e.Supports, support)
		return
	}
	d.entries = append(d.entries, useCaseEntry{
		EntityAddress: entityAddress,
		Actor:         actor,
		Supports:      []UseCaseSupport{support},
	})
}

// Remove deletes entries or individual supports matching filter. A
// filter with no NameID removes whole matching entries; a filter with a
// NameID removes just that support from matching entries, dropping the
// entry entirely if no supports remain.
func (d *UseCaseData) Remove(f UseCaseFilter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.entries[:0:0]
	for _, e := range d.entries {
		if !f.matchesEntry(e) {
			kept = append(kept, e)
			continue
		}
		if f.NameID == nil {
			continue // whole entry removed
		}
		remainingSupports := e.Supports[:0:0]
		for _, s := range e.Supports {
			if s.NameID != *f.NameID {
				remainingSupports = append(remainingSupports, s)
			}
		}
		if len(remainingSupports) == 0 {
			continue
		}
		e.Supports = remainingSupports
		kept = append(kept, e)
	}
	d.entries = kept
}

// EntriesForActor returns actor once for every entry currently recorded
// for it (so its length is that entry count), for inspection/testing.
func (d *UseCaseData) EntriesForActor(actor string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var actors []string
	for _, e := range d.entries {
		if e.Actor == actor {
			actors = append(actors, e.Actor)
		}
	}
	return actors
}

// Actors returns the actor of every currently recorded entry, in stored
// order, for inspection/testing.
func (d *UseCaseData) Actors() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.Actor
	}
	return out
}

// SubscriptionEntry is one row of the authoritative subscription
// inventory (§4.6).
type SubscriptionEntry struct {
	ID            string
	LocalFeature  address.Feature
	RemoteFeature address.Feature
}

// BindingEntry is one row of the authoritative binding inventory.
type BindingEntry = SubscriptionEntry

// Registry is the shared shape of the subscription and binding
// inventories: add, remove by remote feature (remote-initiated removal
// or local unsubscribe both go through this), remove by id.
type Registry struct {
	mu      sync.Mutex
	entries []SubscriptionEntry
}

// Add records a new entry.
func (r *Registry) Add(e SubscriptionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// RemoveByRemote removes every entry referencing remoteFeature.
func (r *Registry) RemoveByRemote(remoteFeature address.Feature) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0:0]
	removed := 0
	for _, e := range r.entries {
		if e.RemoteFeature.Equal(remoteFeature) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return removed
}

// RemoveByID removes the entry with the given id, if any.
func (r *Registry) RemoveByID(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// All returns every entry currently recorded.
func (r *Registry) All() []SubscriptionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SubscriptionEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// DestinationEntry is one cached, directly-reachable device description.
type DestinationEntry struct {
	SKI     string
	Address address.Device
	Brand   string
	Model   string
}

// DestinationList is the node-management destination cache.
type DestinationList struct {
	mu      sync.Mutex
	entries map[string]DestinationEntry // ski -> entry
}

// Upsert records or replaces the destination entry for e.SKI.
func (d *DestinationList) Upsert(e DestinationEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.entries == nil {
		d.entries = make(map[string]DestinationEntry)
	}
	d.entries[e.SKI] = e
}

// Remove drops the destination entry for ski.
func (d *DestinationList) Remove(ski string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, ski)
}

// All returns every cached destination entry.
func (d *DestinationList) All() []DestinationEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DestinationEntry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	return out
}
