// Package address implements the three-level SPINE addressing scheme
// (§3): device, entity (a path of entity ids under a device), and feature
// (one feature id under an entity).
package address

import (
	"fmt"
	"strconv"
	"strings"
)

// Device identifies a SPINE device by its address string, e.g. "d:_i:3210_HEMS".
type Device string

// Entity identifies an entity as a path of entity ids below a device,
// e.g. device "d:_i:3210_HEMS" + EntityIDs [1] is entity address "1".
type Entity struct {
	Device    Device
	EntityIDs []uint
}

// Feature identifies a single feature under an entity.
type Feature struct {
	Entity    Entity
	FeatureID uint
}

// String renders the entity address as dot-separated ids, the form used
// on the wire and in log output.
func (e Entity) String() string {
	parts := make([]string, len(e.EntityIDs))
	for i, id := range e.EntityIDs {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ".")
}

// Equal reports whether two entity addresses name the same entity.
func (e Entity) Equal(o Entity) bool {
	if e.Device != o.Device || len(e.EntityIDs) != len(o.EntityIDs) {
		return false
	}
	for i := range e.EntityIDs {
		if e.EntityIDs[i] != o.EntityIDs[i] {
			return false
		}
	}
	return true
}

// Child returns the address of the entity nested one level below e with
// the given child id.
func (e Entity) Child(id uint) Entity {
	ids := make([]uint, len(e.EntityIDs)+1)
	copy(ids, e.EntityIDs)
	ids[len(ids)-1] = id
	return Entity{Device: e.Device, EntityIDs: ids}
}

// Equal reports whether two feature addresses name the same feature.
func (f Feature) Equal(o Feature) bool {
	return f.FeatureID == o.FeatureID && f.Entity.Equal(o.Entity)
}

// String renders the feature address as "<entity>:<featureId>".
func (f Feature) String() string {
	return fmt.Sprintf("%s:%d", f.Entity.String(), f.FeatureID)
}

// DeriveDeviceAddress computes the device address from a vendor code and
// serial number, following the original implementation's
// "d:_n:<vendor>_<serial>" scheme (supplemental: spec.md leaves device
// address derivation unspecified beyond "stable per device").
func DeriveDeviceAddress(vendorCode, serialNumber string) Device {
	vendorCode = sanitiseAddressPart(vendorCode)
	serialNumber = sanitiseAddressPart(serialNumber)
	return Device(fmt.Sprintf("d:_n:%s_%s", vendorCode, serialNumber))
}

// sanitiseAddressPart strips the characters the wire format reserves as
// address separators so a vendor code or serial number can never corrupt
// the address it is embedded in.
func sanitiseAddressPart(s string) string {
	replacer := strings.NewReplacer(":", "", "_", "", ".", "")
	return replacer.Replace(s)
}
