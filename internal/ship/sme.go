// Package ship implements the SHIP connection state machine entity
// (§4.8): the per-WebSocket handshake from hello through trusted and
// completed, and the control-frame/data-frame multiplex that rides on
// top of it once the connection is established.
package ship

import (
	"fmt"
	"sync"
	"time"

	"github.com/enbility/eebus-core/internal/logging"
	"github.com/enbility/eebus-core/internal/metrics"
)

// State is one node of the SME's state graph.
type State int

const (
	StateInit State = iota
	StateHelloReady
	StateHelloPending
	StateProtocolHandshake
	StatePin
	StateAccessMethods
	StateTrusted
	StateCompleted
	StateCloseNormal
	StateCloseError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateHelloReady:
		return "hello-ready"
	case StateHelloPending:
		return "hello-pending"
	case StateProtocolHandshake:
		return "protocol-handshake"
	case StatePin:
		return "pin"
	case StateAccessMethods:
		return "access-methods"
	case StateTrusted:
		return "trusted"
	case StateCompleted:
		return "completed"
	case StateCloseNormal:
		return "close-normal"
	case StateCloseError:
		return "close-error"
	default:
		return "unknown"
	}
}

// Closed reports whether s is one of the two terminal close states.
func (s State) Closed() bool {
	return s == StateCloseNormal || s == StateCloseError
}

// Role is which side of the SHIP handshake this connection plays. It is
// independent of client/server role at the SPINE layer.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Timers (§4.8), named constants rather than values scattered through the
// handshake logic.
const (
	TWaitForReady      = 60 * time.Second
	TProlongationReply = TWaitForReady
	TCMITimeout        = 10 * time.Second
)

// ProlongationRequestInterval is half the peer-advertised hello timeout,
// the point at which this side should issue a prolongation request.
func ProlongationRequestInterval(peerHelloTimeout time.Duration) time.Duration {
	return peerHelloTimeout / 2
}

// Callbacks are the embedder-facing notifications the SME fires (§6).
// Each is invoked at most the number of times documented on the field;
// nil callbacks are simply skipped.
type Callbacks struct {
	OnStateUpdate     func(ski string, state State)
	OnSKIConnected    func(ski string) // exactly once per connect
	OnSKIDisconnected func(ski string) // exactly once per disconnect
	OnShipIDUpdate    func(ski, shipID string)
}

// SME is the pure state-machine logic for one SHIP connection: no I/O,
// no timers of its own. The owning Connection drives it from frames it
// reads off the wire and from timer expiries it schedules.
type SME struct {
	mu    sync.Mutex
	ski   string
	role  Role
	state State

	peerHelloTimeout time.Duration
	localShipID      string
	remoteShipID     string

	localSent    bool
	remoteRecv   bool
	connectFired bool
	disconnectFired bool

	cb     Callbacks
	logger *logging.Logger

	serviceName string
	metrics     *metrics.Metrics
}

// NewSME creates an SME in StateInit for ski.
func NewSME(ski string, role Role, cb Callbacks, logger *logging.Logger) *SME {
	if logger == nil {
		logger = logging.Default()
	}
	return &SME{ski: ski, role: role, state: StateInit, cb: cb, logger: logger, serviceName: "eebus-core", metrics: metrics.Global()}
}

// SetMetrics attaches a service-scoped metrics instance, replacing the
// unregistered global fallback NewSME constructs by default.
func (s *SME) SetMetrics(serviceName string, m *metrics.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceName = serviceName
	s.metrics = m
}

// State returns the current state.
func (s *SME) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SME) transition(to State) {
	from := s.state
	s.state = to
	if from == to {
		return
	}
	s.logger.LogSMETransition(s.ski, from.String(), to.String())
	s.metrics.SetConnectionState(s.serviceName, from.String(), 0)
	s.metrics.SetConnectionState(s.serviceName, to.String(), 1)
	if s.cb.OnStateUpdate != nil {
		s.cb.OnStateUpdate(s.ski, to)
	}
}

// StartHello sends this side's hello and moves into hello-ready or
// hello-pending depending on pending.
func (s *SME) StartHello(pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending {
		s.transition(StateHelloPending)
	} else {
		s.transition(StateHelloReady)
	}
}

// HandlePeerHello processes the peer's MessageHello. A pending peer
// starts the prolongation window at peerTimeout; the caller is
// responsible for scheduling HandleProlongationTimeout after
// ProlongationRequestInterval/TProlongationReply elapse.
func (s *SME) HandlePeerHello(peerPending bool, peerTimeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHelloReady && s.state != StateHelloPending {
		return fmt.Errorf("ship: unexpected hello in state %s", s.state)
	}
	if peerPending {
		s.peerHelloTimeout = peerTimeout
		s.transition(StateHelloPending)
		return nil
	}
	s.transition(StateProtocolHandshake)
	return nil
}

// HandleProlongationResponse advances out of hello-pending once the
// prolongation exchange has completed successfully.
func (s *SME) HandleProlongationResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHelloPending {
		return fmt.Errorf("ship: unexpected prolongation response in state %s", s.state)
	}
	s.transition(StateProtocolHandshake)
	return nil
}

// HandleProlongationTimeout is called by the owning Connection's timer
// when no prolongation reply arrives in time (§8 scenario 4).
func (s *SME) HandleProlongationTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(CloseReason{Error: true, Message: "wait-for-ready timeout"})
}

// HandleCMITimeout is called by the owning Connection's timer when the
// protocol-handshake, pin, or access-methods phase fails to complete
// within T_cmi_timeout (§4.8 initial CMI timeout).
func (s *SME) HandleCMITimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(CloseReason{Error: true, Message: "cmi timeout"})
}

// HandleProtocolHandshake processes the peer's proposed protocol version
// set; ourVersion is the one this side selected. An empty ourVersion
// means no common version was found.
func (s *SME) HandleProtocolHandshake(ourVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateProtocolHandshake {
		return fmt.Errorf("ship: unexpected protocol handshake in state %s", s.state)
	}
	if ourVersion == "" {
		s.closeLocked(CloseReason{Error: true, Message: "protocol mismatch"})
		return nil
	}
	s.transition(StatePin)
	return nil
}

// HandlePinAdvertised processes the PIN state variant both sides
// advertised. Only "none" is supported in this implementation; any other
// variant closes with an error (§4.8).
func (s *SME) HandlePinAdvertised(variant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePin {
		return fmt.Errorf("ship: unexpected pin message in state %s", s.state)
	}
	if variant != "none" {
		s.closeLocked(CloseReason{Error: true, Message: "pin not supported"})
		return nil
	}
	s.transition(StateAccessMethods)
	return nil
}

// HandleLocalShipIDSent records that this side has sent its permanent
// SHIP id.
func (s *SME) HandleLocalShipIDSent(localShipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAccessMethods {
		return fmt.Errorf("ship: unexpected access-methods send in state %s", s.state)
	}
	s.localShipID = localShipID
	s.localSent = true
	s.maybeBecomeTrustedLocked()
	return nil
}

// HandleRemoteShipIDReceived records the peer's permanent SHIP id,
// learned during access-methods (§6 on_ship_id_update).
func (s *SME) HandleRemoteShipIDReceived(remoteShipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAccessMethods {
		return fmt.Errorf("ship: unexpected access-methods receive in state %s", s.state)
	}
	s.remoteShipID = remoteShipID
	s.remoteRecv = true
	if s.cb.OnShipIDUpdate != nil {
		s.cb.OnShipIDUpdate(s.ski, remoteShipID)
	}
	s.maybeBecomeTrustedLocked()
	return nil
}

func (s *SME) maybeBecomeTrustedLocked() {
	if !s.localSent || !s.remoteRecv {
		return
	}
	s.transition(StateTrusted)
	if !s.connectFired {
		s.connectFired = true
		if s.cb.OnSKIConnected != nil {
			s.cb.OnSKIConnected(s.ski)
		}
	}
}

// HandleSpineAttachConfirmed moves trusted -> completed once both
// endpoints confirm their SPINE attach.
func (s *SME) HandleSpineAttachConfirmed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTrusted {
		return fmt.Errorf("ship: unexpected spine-attach confirmation in state %s", s.state)
	}
	s.transition(StateCompleted)
	return nil
}

// CloseReason describes why the connection is closing.
type CloseReason struct {
	Error   bool
	Message string
}

// Close transitions the SME to its terminal close state from any
// non-terminal state, in exactly one transition (§8 SME reachability).
// Calling Close on an already-closed SME is a no-op.
func (s *SME) Close(reason CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(reason)
}

func (s *SME) closeLocked(reason CloseReason) {
	if s.state.Closed() {
		return
	}
	if reason.Error {
		s.transition(StateCloseError)
		s.metrics.RecordHandshakeFailure(s.serviceName, reason.Message)
	} else {
		s.transition(StateCloseNormal)
	}
	if !s.disconnectFired {
		s.disconnectFired = true
		if s.cb.OnSKIDisconnected != nil {
			s.cb.OnSKIDisconnected(s.ski)
		}
	}
}
