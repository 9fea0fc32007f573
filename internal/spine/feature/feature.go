// Package feature implements the per-feature state SPINE attaches to
// every (entity, feature-id) pair (§3 "feature table row", §4.4): the
// declared operation flags, the payload cache, subscription/binding
// registries, and the update algorithm that mutates the cache from an
// inbound write or a local change.
package feature

import (
	"fmt"
	"sync"
	"time"

	"github.com/enbility/eebus-core/internal/address"
	"github.com/enbility/eebus-core/internal/eebuserrors"
	"github.com/enbility/eebus-core/internal/model"
	"github.com/enbility/eebus-core/internal/spine/filter"
)

// Role is the client/server role a feature plays within its entity.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Operations are the per-function operation flags gating what a remote
// peer may do against this function (§4.4).
type Operations struct {
	Read         bool
	ReadPartial  bool
	Write        bool
	WritePartial bool
}

// Allows reports whether a read (write=false) or a write (write=true),
// full or partial, is permitted given these flags. Notify/reply/result/
// call are never gated here; only read and write are.
func (o Operations) Allows(write, partial bool) bool {
	if write {
		if partial {
			return o.WritePartial
		}
		return o.Write
	}
	if partial {
		return o.ReadPartial
	}
	return o.Read
}

// FunctionEntry is the per-function slice of a feature: its declared
// shape, its operation flags, and its current cached value.
type FunctionEntry struct {
	Shape      *model.Shape
	Operations Operations
	Cache      *model.Value
}

// PendingRequest is one outstanding request awaiting a reply/result
// (§4.4 "pending-request matching"). ResponseCallback fires on the first
// matching reply; ResultCallback, if set, is subsequently armed for a
// result frame that may follow the reply.
type PendingRequest struct {
	ResponseCallback func(payload *model.Value)
	ResultCallback   func(errorNumber int, description string)
	Context          interface{}
	Expiry           time.Time
}

// ChangeEvent is emitted by the update algorithm on a successful mutation
// (§4.4 step 5).
type ChangeEvent struct {
	LocalFeature address.Feature
	Function     string
	Classifier   string
}

// Feature is one (entity, feature-id) slot of a device tree.
type Feature struct {
	Address     address.Feature
	Role        Role
	FeatureType string

	mu        sync.RWMutex
	functions map[string]*FunctionEntry

	subscriptions map[address.Feature]string // remote feature -> subscription id
	bindings      map[address.Feature]string // remote feature -> binding id

	pendingMu sync.Mutex
	pending   map[uint64]*PendingRequest

	// OnChange is invoked (outside the feature's own lock) whenever the
	// update algorithm completes a mutation successfully.
	OnChange func(ChangeEvent)
}

// New creates a feature with no functions registered.
func New(addr address.Feature, role Role, featureType string) *Feature {
	return &Feature{
		Address:       addr,
		Role:          role,
		FeatureType:   featureType,
		functions:     make(map[string]*FunctionEntry),
		subscriptions: make(map[address.Feature]string),
		bindings:      make(map[address.Feature]string),
		pending:       make(map[uint64]*PendingRequest),
	}
}

// RegisterFunction declares a function this feature supports, with its
// shape and operation flags, and creates its initial empty cache.
func (f *Feature) RegisterFunction(name string, shape *model.Shape, ops Operations) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.functions[name] = &FunctionEntry{
		Shape:      shape,
		Operations: ops,
		Cache:      model.CreateEmpty(shape),
	}
}

// Function returns the named function entry, or nil if undeclared.
func (f *Feature) Function(name string) *FunctionEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.functions[name]
}

// ReadCache returns a deep copy of the named function's current cache,
// projected to elements if given (nil elements = full copy). Returns an
// error if the function is undeclared or read is disallowed.
func (f *Feature) ReadCache(name string, elements [][]string) (*model.Value, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.functions[name]
	if !ok {
		return nil, eebuserrors.InputArgument("function", fmt.Sprintf("%q not declared", name))
	}
	partial := len(elements) > 0
	if !entry.Operations.Allows(false, partial) {
		return nil, eebuserrors.NotSupported(name, fmt.Sprintf("read%s", partialSuffix(partial)))
	}
	return model.ReadElements(entry.Cache, elements), nil
}

func partialSuffix(partial bool) string {
	if partial {
		return "-partial"
	}
	return ""
}

// Update applies the §4.4 update algorithm to the named function's
// cache: validates filters, applies deletes then partial merges, or
// swaps the cache wholesale when no filter was supplied. On success it
// invokes OnChange with the given classifier label.
func (f *Feature) Update(name string, filters []filter.Filter, incoming *model.Value, classifier string, checkWritePermission bool) error {
	f.mu.Lock()
	entry, ok := f.functions[name]
	if !ok {
		f.mu.Unlock()
		return eebuserrors.InputArgument("function", fmt.Sprintf("%q not declared", name))
	}

	for _, flt := range filters {
		if err := flt.Validate(); err != nil {
			f.mu.Unlock()
			return eebuserrors.Wrap(eebuserrors.KindParse, "invalid filter", err)
		}
	}

	if checkWritePermission {
		partial := false
		for _, flt := range filters {
			if flt.Control == filter.ControlPartial {
				partial = true
			}
		}
		if !entry.Operations.Allows(true, partial) {
			f.mu.Unlock()
			return eebuserrors.NotSupported(name, fmt.Sprintf("write%s", partialSuffix(partial)))
		}
	}

	if len(filters) == 0 {
		entry.Cache = incoming
	} else {
		for _, flt := range filters {
			if flt.Control == filter.ControlDelete {
				applyDelete(entry.Cache, flt)
			}
		}
		for _, flt := range filters {
			if flt.Control == filter.ControlPartial {
				if err := applyPartial(entry.Cache, flt, incoming); err != nil {
					f.mu.Unlock()
					return err
				}
			}
		}
	}
	onChange := f.OnChange
	addr := f.Address
	f.mu.Unlock()

	if onChange != nil {
		onChange(ChangeEvent{LocalFeature: addr, Function: name, Classifier: classifier})
	}
	return nil
}

// applyDelete removes matching list elements, or clears named sub-fields
// within them, per the filter's element descriptor (§4.4 step 2).
func applyDelete(cache *model.Value, flt filter.Filter) {
	if cache == nil {
		return
	}
	if cache.Shape != nil && cache.Shape.Kind == model.KindList {
		if len(flt.Elements) == 0 {
			model.ListRemove(cache, flt.Selectors)
			return
		}
		for _, e := range model.ListMatchIter(cache, flt.Selectors) {
			model.DeleteElements(e, flt.Elements)
		}
		return
	}
	if len(flt.Elements) > 0 {
		model.DeleteElements(cache, flt.Elements)
	}
}

// applyPartial merges incoming list elements into the cache by element
// key, appending those with no key match (list case), or sets incoming
// top-level fields (sequence/container case), preserving fields the
// incoming record did not carry (§4.4 step 3). The filter's selectors are
// not consulted: every incoming element is merged.
func applyPartial(cache *model.Value, flt filter.Filter, incoming *model.Value) error {
	if cache == nil || incoming == nil {
		return nil
	}
	if cache.Shape != nil && cache.Shape.Kind == model.KindList {
		if incoming.Shape != nil && incoming.Shape.Kind == model.KindList {
			for _, e := range incoming.Elements {
				if err := model.ListAppendOrMerge(cache, e); err != nil {
					return eebuserrors.Wrap(eebuserrors.KindInputArgument, "partial update exceeded list capacity", err)
				}
			}
			return nil
		}
		return model.ListAppendOrMerge(cache, incoming)
	}
	for name, fv := range incoming.Fields {
		cache.Set(name, fv)
	}
	return nil
}

// Subscribe records that remoteFeature now subscribes to this feature
// under subscriptionID (§4.4 subscription table).
func (f *Feature) Subscribe(remoteFeature address.Feature, subscriptionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[remoteFeature] = subscriptionID
}

// Unsubscribe removes remoteFeature's subscription, if any.
func (f *Feature) Unsubscribe(remoteFeature address.Feature) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscriptions, remoteFeature)
}

// Subscribers returns every remote feature currently subscribed.
func (f *Feature) Subscribers() []address.Feature {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]address.Feature, 0, len(f.subscriptions))
	for remote := range f.subscriptions {
		out = append(out, remote)
	}
	return out
}

// Bind records that remoteFeature is authorised to write to this feature.
func (f *Feature) Bind(remoteFeature address.Feature, bindingID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[remoteFeature] = bindingID
}

// Unbind removes remoteFeature's binding, if any.
func (f *Feature) Unbind(remoteFeature address.Feature) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bindings, remoteFeature)
}

// RegisterPending records a pending request before the outbound frame is
// handed to the sender, so a fast reply can never race the registration
// (§4.4 "pending-request matching").
func (f *Feature) RegisterPending(msgCounter uint64, req *PendingRequest) {
	f.pendingMu.Lock()
	defer f.pendingMu.Unlock()
	f.pending[msgCounter] = req
}

// ResolvePending looks up and removes the pending request for
// commandReference, returning (entry, true) if found. The entry's
// ResultCallback, if any, stays addressable by the caller for a
// subsequent result frame; resolving twice for the same counter returns
// (nil, false) the second time.
func (f *Feature) ResolvePending(commandReference uint64) (*PendingRequest, bool) {
	f.pendingMu.Lock()
	defer f.pendingMu.Unlock()
	req, ok := f.pending[commandReference]
	if ok {
		delete(f.pending, commandReference)
	}
	return req, ok
}

// EvictExpired removes and returns every pending request whose expiry
// has passed as of now (§7: evicted with an init-kind result on
// disconnect, or on max-response-delay).
func (f *Feature) EvictExpired(now time.Time) []*PendingRequest {
	f.pendingMu.Lock()
	defer f.pendingMu.Unlock()
	var expired []*PendingRequest
	for counter, req := range f.pending {
		if !req.Expiry.IsZero() && now.After(req.Expiry) {
			expired = append(expired, req)
			delete(f.pending, counter)
		}
	}
	return expired
}

// EvictAll removes every pending request unconditionally (§7: on
// disconnect, all pending entries for the affected remote are evicted).
func (f *Feature) EvictAll() []*PendingRequest {
	f.pendingMu.Lock()
	defer f.pendingMu.Unlock()
	all := make([]*PendingRequest, 0, len(f.pending))
	for counter, req := range f.pending {
		all = append(all, req)
		delete(f.pending, counter)
	}
	return all
}
