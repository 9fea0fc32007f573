// Package api defines the embedder-facing contracts (§6): the
// collaborators the core consumes (codec, discovery, TLS credential) and
// the event callbacks and service surface the core exposes in return.
package api

import (
	"time"

	"github.com/enbility/eebus-core/internal/model"
	"github.com/enbility/eebus-core/internal/ship"
)

// Codec turns a shaped value into wire bytes and back, plus the
// unformatted (human-readable / debug) variants (§6).
type Codec interface {
	Parse(shape *model.Shape, data []byte) (*model.Value, error)
	Serialise(v *model.Value) ([]byte, error)
	ParseUnformatted(shape *model.Shape, s string) (*model.Value, error)
	PrintUnformatted(v *model.Value) (string, error)
}

// DiscoveryEntry is one advertised peer, as reported by the mDNS
// collaborator (§6). An entry is valid only once every mandatory field
// is populated and Register is "true" or "false".
type DiscoveryEntry struct {
	ServiceName string
	Host        string
	Port        int
	Interface   string

	TxtVers  string
	ID       string
	Path     string
	SKI      string
	Register string
	Brand    string
	Type     string
	Model    string
}

// Valid reports whether e carries every mandatory field and a
// well-formed register flag (§6).
func (e DiscoveryEntry) Valid() bool {
	if e.ServiceName == "" || e.Host == "" || e.Port == 0 || e.SKI == "" {
		return false
	}
	return e.Register == "true" || e.Register == "false"
}

// Discovery is the mDNS collaborator: it emits the current entry set on
// every change. The core never calls into a specific mDNS library
// directly.
type Discovery interface {
	Start(onUpdate func(entries []DiscoveryEntry)) error
	Stop() error
}

// BrowseIntervalMin and BrowseIntervalMax bound the randomised mDNS
// browse interval (§6: "10-20s to avoid thundering-herd").
const (
	BrowseIntervalMin = 10 * time.Second
	BrowseIntervalMax = 20 * time.Second
)

// Callbacks are the embedder-facing notifications the service invokes on
// its internal threads (§6); the embedder must treat them as
// non-reentrant calls from unspecified threads.
type Callbacks struct {
	OnRemoteSKIConnected     func(ski string)
	OnRemoteSKIDisconnected  func(ski string)
	OnShipStateUpdate        func(ski string, state ship.State)
	OnShipIDUpdate           func(ski, shipID string)
	OnRemoteServicesUpdate   func(entries []DiscoveryEntry)
	IsWaitingForTrustAllowed func(ski string) bool
}

// ConnectionState is returned by GetConnectionStateWithSKI.
type ConnectionState struct {
	SKI     string
	State   ship.State
	ShipID  string
	Trusted bool
}

// RemoteServiceDetails describes a remote service; no Service method
// returns it.
type RemoteServiceDetails struct {
	SKI    string
	Brand  string
	Model  string
	Type   string
}
