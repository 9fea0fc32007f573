package ship

import "encoding/json"

// SupportedProtocolVersion is the only SPINE-over-SHIP protocol version
// this implementation offers during the handshake (§4.8 protocol-handshake
// state). A peer proposing anything else makes this side's SME close the
// connection with a "protocol mismatch" error.
const SupportedProtocolVersion = "1.0.0"

// ControlMessage is the wire envelope for one SHIP control frame (§4.8
// "control-frame codec"). Exactly one field is populated per message,
// selecting which handshake phase it belongs to.
type ControlMessage struct {
	Hello             *HelloMessage             `json:"hello,omitempty"`
	ProtocolHandshake *ProtocolHandshakeMessage `json:"protocolHandshake,omitempty"`
	Pin               *PinMessage               `json:"pin,omitempty"`
	AccessMethods     *AccessMethodsMessage     `json:"accessMethods,omitempty"`
}

// HelloMessage announces readiness to proceed, or asks the peer to wait
// (pending) for up to timeoutMillis before the hello is retried.
type HelloMessage struct {
	Pending       bool  `json:"pending"`
	TimeoutMillis int64 `json:"timeoutMillis,omitempty"`
}

// ProtocolHandshakeMessage proposes (or counter-proposes) a protocol
// version. An empty Version signals "no common version found".
type ProtocolHandshakeMessage struct {
	Version string `json:"version"`
}

// PinMessage advertises a PIN variant. Only "none" is accepted by this
// implementation (§4.8).
type PinMessage struct {
	Variant string `json:"variant"`
}

// AccessMethodsMessage carries one side's permanent SHIP id during the
// access-methods phase.
type AccessMethodsMessage struct {
	ID string `json:"id"`
}

// EncodeControlMessage serialises a control message to its wire form.
func EncodeControlMessage(m ControlMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeControlMessage parses a control-frame payload.
func DecodeControlMessage(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
