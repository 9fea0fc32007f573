package ship

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/enbility/eebus-core/internal/eebuserrors"
	"github.com/enbility/eebus-core/internal/logging"
	"github.com/enbility/eebus-core/internal/resilience"
)

// frameType is the one-byte prefix distinguishing SHIP control frames
// from SPINE data frames sharing the WebSocket (§4.8 data plane).
type frameType byte

const (
	frameTypeControl frameType = 0x00
	frameTypeData    frameType = 0x01
)

// Conn is the narrow subset of *websocket.Conn the connection loop uses,
// kept as an interface so the SME can be driven in tests without a real
// socket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DataHandler is invoked for every inbound SPINE data frame, with its
// raw payload (the dispatcher's codec decodes it further up the stack).
type DataHandler func(payload []byte)

// Connection owns one SHIP WebSocket: the SME driving its handshake and
// the reader loop demultiplexing control and data frames. It also holds a
// circuit breaker for this peer's SKI, which none of its methods consult.
type Connection struct {
	ski    string
	sme    *SME
	conn   Conn
	logger *logging.Logger
	cb     *resilience.CircuitBreaker

	writeMu sync.Mutex
	onData  DataHandler

	localShipID           string
	protocolHandshakeSent bool
	pinSent               bool

	// activity is nudged (non-blocking) by Run for every frame read,
	// resetting watchInactivity's current timeout window.
	activity chan struct{}

	cancel context.CancelFunc
}

// NewConnection wires sme to conn. onData is called for each inbound
// SPINE data frame, whatever state the handshake is in.
func NewConnection(ski string, conn Conn, sme *SME, logger *logging.Logger, onData DataHandler) *Connection {
	if logger == nil {
		logger = logging.Default()
	}
	return &Connection{
		ski:      ski,
		sme:      sme,
		conn:     conn,
		logger:   logger,
		cb:       resilience.New(resilience.DefaultReconnectCBConfig(logger, ski)),
		onData:   onData,
		activity: make(chan struct{}, 1),
	}
}

// SetLocalShipID records this side's permanent SHIP id, sent during the
// access-methods phase once the peer's pin advertisement is accepted.
func (c *Connection) SetLocalShipID(id string) {
	c.localShipID = id
}

// SendHello sends this side's hello message (§4.8 hello phase).
func (c *Connection) SendHello(pending bool, timeout time.Duration) error {
	payload, err := EncodeControlMessage(ControlMessage{Hello: &HelloMessage{
		Pending:       pending,
		TimeoutMillis: timeout.Milliseconds(),
	}})
	if err != nil {
		return err
	}
	return c.SendControl(payload)
}

func (c *Connection) sendProtocolHandshake(version string) error {
	payload, err := EncodeControlMessage(ControlMessage{ProtocolHandshake: &ProtocolHandshakeMessage{Version: version}})
	if err != nil {
		return err
	}
	return c.SendControl(payload)
}

func (c *Connection) sendPin(variant string) error {
	payload, err := EncodeControlMessage(ControlMessage{Pin: &PinMessage{Variant: variant}})
	if err != nil {
		return err
	}
	return c.SendControl(payload)
}

func (c *Connection) sendAccessMethodsID(id string) error {
	payload, err := EncodeControlMessage(ControlMessage{AccessMethods: &AccessMethodsMessage{ID: id}})
	if err != nil {
		return err
	}
	return c.SendControl(payload)
}

// ensureProtocolHandshakeSent sends this side's protocol-version proposal
// exactly once, whichever of the hello or protocol-handshake branches
// reaches the protocol-handshake phase first.
func (c *Connection) ensureProtocolHandshakeSent() {
	if c.protocolHandshakeSent {
		return
	}
	c.protocolHandshakeSent = true
	if err := c.sendProtocolHandshake(SupportedProtocolVersion); err != nil {
		c.logger.WithSKI(c.ski).WithError(err).Warn("failed to send protocol-handshake")
	}
}

// ensurePinSent sends this side's pin advertisement exactly once.
func (c *Connection) ensurePinSent() {
	if c.pinSent {
		return
	}
	c.pinSent = true
	if err := c.sendPin("none"); err != nil {
		c.logger.WithSKI(c.ski).WithError(err).Warn("failed to send pin")
	}
}

// handleControlFrame decodes one inbound control-frame payload and drives
// the SME accordingly (§4.8: "the owning Connection drives it from frames
// it reads off the wire"). Both sides advance through hello,
// protocol-handshake and pin symmetrically, so each phase's outbound
// message is sent proactively the first time either side reaches that
// phase, rather than only as a reply.
func (c *Connection) handleControlFrame(payload []byte) {
	msg, err := DecodeControlMessage(payload)
	if err != nil {
		c.logger.WithSKI(c.ski).WithError(err).Warn("dropping malformed control frame")
		return
	}
	switch {
	case msg.Hello != nil:
		timeout := time.Duration(msg.Hello.TimeoutMillis) * time.Millisecond
		if err := c.sme.HandlePeerHello(msg.Hello.Pending, timeout); err != nil {
			c.sme.Close(CloseReason{Error: true, Message: err.Error()})
			return
		}
		if c.sme.State() == StateProtocolHandshake {
			c.ensureProtocolHandshakeSent()
		}
	case msg.ProtocolHandshake != nil:
		ourVersion := ""
		if msg.ProtocolHandshake.Version == SupportedProtocolVersion {
			ourVersion = SupportedProtocolVersion
		}
		if err := c.sme.HandleProtocolHandshake(ourVersion); err != nil {
			c.sme.Close(CloseReason{Error: true, Message: err.Error()})
			return
		}
		c.ensureProtocolHandshakeSent()
		if c.sme.State() == StatePin {
			c.ensurePinSent()
		}
	case msg.Pin != nil:
		if err := c.sme.HandlePinAdvertised(msg.Pin.Variant); err != nil {
			c.sme.Close(CloseReason{Error: true, Message: err.Error()})
			return
		}
		if msg.Pin.Variant != "none" {
			return
		}
		c.ensurePinSent()
		if c.localShipID != "" && c.sme.State() == StateAccessMethods {
			if err := c.sme.HandleLocalShipIDSent(c.localShipID); err == nil {
				if err := c.sendAccessMethodsID(c.localShipID); err != nil {
					c.logger.WithSKI(c.ski).WithError(err).Warn("failed to send access-methods id")
				}
			}
		}
	case msg.AccessMethods != nil:
		if err := c.sme.HandleRemoteShipIDReceived(msg.AccessMethods.ID); err != nil {
			c.sme.Close(CloseReason{Error: true, Message: err.Error()})
		}
	default:
		c.logger.WithSKI(c.ski).Warn("control frame with no recognised phase")
	}
}

// Run drives the reader loop until ctx is cancelled or the connection
// closes. Each inbound message's first byte selects control vs data. A
// second goroutine enforces the handshake's inactivity timers
// (§4.8 T_wait_for_ready / T_prolongation_reply / T_cmi_timeout), since
// ReadMessage blocks with no timeout of its own.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	go c.watchInactivity(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.sme.Close(CloseReason{Error: true, Message: err.Error()})
			return eebuserrors.Wrap(eebuserrors.KindThread, "ship read failed", err)
		}
		if len(data) == 0 {
			continue
		}
		select {
		case c.activity <- struct{}{}:
		default:
		}
		switch frameType(data[0]) {
		case frameTypeControl:
			c.logger.LogFrame(ctx, "in", "control", 0)
			c.handleControlFrame(data[1:])
		case frameTypeData:
			if c.onData != nil {
				c.onData(data[1:])
			}
		default:
			c.logger.WithSKI(c.ski).Warn("dropping frame with unknown type prefix")
		}

		if c.sme.State().Closed() {
			return nil
		}
	}
}

// handshakeTimeout reports the inactivity window active in state, and
// whether one applies at all (§4.8 timers): T_wait_for_ready through
// the hello phase, T_prolongation_reply once a peer has asked to wait,
// T_cmi_timeout through the remaining handshake phases, and no timeout
// at all once trusted — the data plane has no inactivity guard.
func handshakeTimeout(state State) (time.Duration, bool) {
	switch state {
	case StateHelloPending:
		return TProlongationReply, true
	case StateInit, StateHelloReady:
		return TWaitForReady, true
	case StateProtocolHandshake, StatePin, StateAccessMethods:
		return TCMITimeout, true
	default:
		return 0, false
	}
}

// watchInactivity enforces handshakeTimeout against c.sme's current
// state, restarting its window on every frame Run reads. Expiry closes
// the SME with the appropriate timeout reason and closes the
// underlying socket, which unblocks Run's blocked ReadMessage call.
func (c *Connection) watchInactivity(ctx context.Context) {
	for {
		d, active := handshakeTimeout(c.sme.State())
		if !active {
			select {
			case <-ctx.Done():
				return
			case <-c.activity:
				continue
			}
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-c.activity:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
			c.onHandshakeTimeout()
			return
		}
	}
}

func (c *Connection) onHandshakeTimeout() {
	state := c.sme.State()
	c.logger.WithSKI(c.ski).Warn("ship handshake inactivity timeout")
	switch state {
	case StateInit, StateHelloReady, StateHelloPending:
		c.sme.HandleProlongationTimeout()
	default:
		c.sme.HandleCMITimeout()
	}
	_ = c.conn.Close()
}

// SendData writes a SPINE data frame, length-prefixed at the WebSocket
// message level by gorilla's own framing and tagged with the data-frame
// type byte.
func (c *Connection) SendData(payload []byte) error {
	return c.writeFramed(frameTypeData, payload)
}

// SendControl writes a SHIP control frame.
func (c *Connection) SendControl(payload []byte) error {
	return c.writeFramed(frameTypeControl, payload)
}

func (c *Connection) writeFramed(t frameType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.sme.State().Closed() {
		return eebuserrors.NotSupported("connection", "write after close")
	}
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(t)
	copy(buf[1:], payload)
	return c.conn.WriteMessage(websocket.BinaryMessage, buf)
}

// Close performs the close-with-error sequence (§4.8): best-effort
// control-frame notifying the peer, then the underlying WebSocket close,
// then cancels the reader loop.
func (c *Connection) Close(reason CloseReason) {
	msg := "bye"
	if reason.Error {
		msg = fmt.Sprintf("error: %s", reason.Message)
	}
	_ = c.writeFramed(frameTypeControl, []byte(msg))
	c.sme.Close(reason)
	_ = c.conn.Close()
	if c.cancel != nil {
		c.cancel()
	}
}

