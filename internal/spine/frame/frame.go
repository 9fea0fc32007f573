// Package frame implements the SPINE command frame envelope (§4.3): the
// datagram wrapper that carries source/destination feature addresses, a
// classifier, correlation ids, filters, and either a payload or a result
// descriptor.
package frame

import (
	"github.com/enbility/eebus-core/internal/address"
	"github.com/enbility/eebus-core/internal/eebuserrors"
	"github.com/enbility/eebus-core/internal/model"
	"github.com/enbility/eebus-core/internal/spine/filter"
)

// Classifier identifies the kind of operation a datagram carries.
type Classifier int

const (
	ClassifierRead Classifier = iota
	ClassifierReply
	ClassifierNotify
	ClassifierWrite
	ClassifierCall
	ClassifierResult
)

func (c Classifier) String() string {
	switch c {
	case ClassifierRead:
		return "read"
	case ClassifierReply:
		return "reply"
	case ClassifierNotify:
		return "notify"
	case ClassifierWrite:
		return "write"
	case ClassifierCall:
		return "call"
	case ClassifierResult:
		return "result"
	default:
		return "unknown"
	}
}

// ResultDescriptor is the payload of a result frame: a non-zero ErrorNumber
// is a protocol-level failure (§7); zero means the preceding command
// succeeded without data to return (e.g. a write acknowledgement).
type ResultDescriptor struct {
	ErrorNumber int
	Description string
}

// OK reports whether the descriptor represents a successful result.
func (r ResultDescriptor) OK() bool {
	return r.ErrorNumber == 0
}

// Command is the body of a datagram: a function name, zero or more
// filters, and either a payload or a result descriptor.
type Command struct {
	Function string
	Filters  []filter.Filter
	Payload  *model.Value
	Result   *ResultDescriptor
}

// Datagram is one SPINE frame.
type Datagram struct {
	Source      address.Feature
	Destination address.Feature
	Classifier  Classifier
	MsgCounter  uint64

	// AckRequested asks the receiver to send a result frame even on
	// success (optional acknowledge-request flag, §4.3).
	AckRequested bool

	// CommandReference echoes the originating msgCounter on reply/result
	// frames; zero on read/write/notify/call.
	CommandReference uint64

	Command Command
}

// Validate checks the structural invariants of the envelope that are
// cheap to enforce before a datagram reaches the dispatcher: every filter
// must itself be internally consistent, and reply/result frames must
// carry a non-zero command reference.
func (d Datagram) Validate() error {
	for _, f := range d.Command.Filters {
		if err := f.Validate(); err != nil {
			return eebuserrors.Wrap(eebuserrors.KindParse, "invalid filter in datagram", err)
		}
	}
	if (d.Classifier == ClassifierReply || d.Classifier == ClassifierResult) && d.CommandReference == 0 {
		return eebuserrors.New(eebuserrors.KindParse, "reply/result frame missing command_reference")
	}
	return nil
}

// NewResult builds a result datagram answering request, echoing its
// msgCounter as the command reference (§4.3: replies/results echo the
// sender's counter back in command_reference).
func NewResult(request Datagram, from address.Feature, descriptor ResultDescriptor) Datagram {
	return Datagram{
		Source:           from,
		Destination:      request.Source,
		Classifier:        ClassifierResult,
		CommandReference: request.MsgCounter,
		Command: Command{
			Function: request.Command.Function,
			Result:   &descriptor,
		},
	}
}

// NewReply builds a reply datagram answering a read request with payload.
func NewReply(request Datagram, from address.Feature, payload *model.Value) Datagram {
	return Datagram{
		Source:           from,
		Destination:      request.Source,
		Classifier:        ClassifierReply,
		CommandReference: request.MsgCounter,
		Command: Command{
			Function: request.Command.Function,
			Payload:  payload,
		},
	}
}
