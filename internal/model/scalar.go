package model

import "time"

// ScalarKind enumerates the leaf scalar types a "simple" record can hold
// (§3: bool, int, scaled number, duration, timestamp, enum tag, octet-string,
// free-form string).
type ScalarKind int

const (
	ScalarBool ScalarKind = iota
	ScalarInt
	ScalarScaledNumber
	ScalarDuration
	ScalarTimestamp
	ScalarEnum
	ScalarOctetString
	ScalarString
)

func (k ScalarKind) String() string {
	switch k {
	case ScalarBool:
		return "bool"
	case ScalarInt:
		return "int"
	case ScalarScaledNumber:
		return "scaled-number"
	case ScalarDuration:
		return "duration"
	case ScalarTimestamp:
		return "timestamp"
	case ScalarEnum:
		return "enum"
	case ScalarOctetString:
		return "octet-string"
	case ScalarString:
		return "string"
	default:
		return "unknown"
	}
}

// ScaledNumber is a decimal value represented as number * 10^scale, the
// wire shape used throughout SPINE for measurements and limits.
type ScaledNumber struct {
	Number int64
	Scale  int
}

// Equal reports structural equality between two scaled numbers.
func (s ScaledNumber) Equal(o ScaledNumber) bool {
	return s.Number == o.Number && s.Scale == o.Scale
}

// Scalar is the value held by a "simple" leaf record. Exactly one field is
// meaningful, selected by Kind.
type Scalar struct {
	Kind ScalarKind

	BoolValue   bool
	IntValue    int64
	ScaledValue ScaledNumber
	Duration    time.Duration
	Timestamp   time.Time
	EnumValue   string
	Octets      []byte
	StringValue string
}

// Equal reports structural equality between two scalars of the same kind.
func (s *Scalar) Equal(o *Scalar) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case ScalarBool:
		return s.BoolValue == o.BoolValue
	case ScalarInt:
		return s.IntValue == o.IntValue
	case ScalarScaledNumber:
		return s.ScaledValue.Equal(o.ScaledValue)
	case ScalarDuration:
		return s.Duration == o.Duration
	case ScalarTimestamp:
		return s.Timestamp.Equal(o.Timestamp)
	case ScalarEnum:
		return s.EnumValue == o.EnumValue
	case ScalarOctetString:
		return string(s.Octets) == string(o.Octets)
	case ScalarString:
		return s.StringValue == o.StringValue
	default:
		return false
	}
}

// Copy returns a deep clone of the scalar.
func (s *Scalar) Copy() *Scalar {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Octets != nil {
		clone.Octets = append([]byte(nil), s.Octets...)
	}
	return &clone
}

func BoolScalar(v bool) *Scalar    { return &Scalar{Kind: ScalarBool, BoolValue: v} }
func IntScalar(v int64) *Scalar    { return &Scalar{Kind: ScalarInt, IntValue: v} }
func StringScalar(v string) *Scalar { return &Scalar{Kind: ScalarString, StringValue: v} }
func EnumScalar(v string) *Scalar  { return &Scalar{Kind: ScalarEnum, EnumValue: v} }
func ScaledNumberScalar(number int64, scale int) *Scalar {
	return &Scalar{Kind: ScalarScaledNumber, ScaledValue: ScaledNumber{Number: number, Scale: scale}}
}
