// Package filter implements the SPINE filter/selector rules of §4.2: a
// filter carries a control (partial xor delete), optional selectors
// (which list elements) and optional element descriptors (which
// sub-fields within them).
package filter

import (
	"fmt"

	"github.com/enbility/eebus-core/internal/model"
)

// Control is the partial/delete discriminator of a filter.
type Control int

const (
	// ControlNone means neither partial nor delete was set: valid only
	// on read (full current cache) and write (full replace) frames.
	ControlNone Control = iota
	ControlPartial
	ControlDelete
)

func (c Control) String() string {
	switch c {
	case ControlPartial:
		return "partial"
	case ControlDelete:
		return "delete"
	default:
		return "none"
	}
}

// Filter is one entry of a command frame's filter list (§4.3).
type Filter struct {
	Control   Control
	Selectors *model.Value // identifies which list elements; nil = all
	Elements  [][]string   // field-name paths of sub-fields to touch; nil = whole element
}

// Validate enforces the §4.2 table: exactly one of partial/delete, or
// neither on a frame with no filters at all; delete with no selectors and
// no elements is always invalid.
func (f Filter) Validate() error {
	switch f.Control {
	case ControlNone:
		if f.Selectors != nil || len(f.Elements) > 0 {
			return fmt.Errorf("filter: control=none must not carry selectors or elements")
		}
	case ControlPartial:
		// selectors optional, elements not meaningful for partial merges
	case ControlDelete:
		if f.Selectors == nil && len(f.Elements) == 0 {
			return fmt.Errorf("filter: delete without selectors or elements is invalid")
		}
	default:
		return fmt.Errorf("filter: unknown control %d", f.Control)
	}
	return nil
}

// IsFullReplace reports whether this filter means "operate on the whole
// payload", i.e. a read/write frame carrying no filter at all.
func (f Filter) IsFullReplace() bool {
	return f.Control == ControlNone
}
