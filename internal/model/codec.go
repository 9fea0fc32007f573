package model

// Codec turns a shaped Value into wire bytes and back (§6). The data-model
// runtime never hard-codes a wire format: it is handed a Codec and drives
// it through the Shape tree, the same way the embedder is handed a Codec
// collaborator to plug in XML, JSON, or anything else.
type Codec interface {
	// Serialise encodes v (whose Shape must be the same shape the Codec
	// is asked to decode with Parse) to wire bytes.
	Serialise(v *Value) ([]byte, error)
	// Parse decodes wire bytes into a new Value of the given shape.
	Parse(shape *Shape, data []byte) (*Value, error)
}

// Parse decodes data into a Value of shape using codec.
func Parse(codec Codec, shape *Shape, data []byte) (*Value, error) {
	return codec.Parse(shape, data)
}

// Serialise encodes v using codec.
func Serialise(codec Codec, v *Value) ([]byte, error) {
	return codec.Serialise(v)
}
