package frame

// Codec turns a whole datagram (header plus payload or result
// descriptor) into wire bytes and back. Implementations are supplied by
// the embedder; this package defines no wire encoding of its own.
type Codec interface {
	EncodeDatagram(d Datagram) ([]byte, error)
	DecodeDatagram(data []byte) (Datagram, error)
}
