// Package dispatch implements the SPINE inbound-frame dispatcher (§4.7):
// classify the frame, resolve addresses, apply write-approval policy,
// invoke pending-request callbacks, and emit change events to use cases.
package dispatch

import (
	"fmt"
	"time"

	"github.com/enbility/eebus-core/internal/address"
	"github.com/enbility/eebus-core/internal/eebuserrors"
	"github.com/enbility/eebus-core/internal/logging"
	"github.com/enbility/eebus-core/internal/metrics"
	"github.com/enbility/eebus-core/internal/model"
	"github.com/enbility/eebus-core/internal/security"
	"github.com/enbility/eebus-core/internal/spine/device"
	"github.com/enbility/eebus-core/internal/spine/feature"
	"github.com/enbility/eebus-core/internal/spine/frame"
)

// ErrorNumber values used in outbound result frames (§7 translates
// internal error kinds to a protocol-level error number).
const (
	ErrNumberGeneric           = 1
	ErrNumberDestinationUnknown = 2
	ErrNumberNotSupported      = 3
	ErrNumberWriteDenied       = 4
	ErrNumberUnmatchedReply    = 5
)

// Sender delivers an outbound datagram to a specific peer. Implemented
// by the SHIP connection layer.
type Sender interface {
	SendDatagram(ski string, dg frame.Datagram) error
}

// WriteApprovalFunc gates a write targeting localFeature. approve must be
// called exactly once; the dispatcher does not block waiting for it
// (§4.7 "deferred work is a queued callback, not a synchronous wait").
type WriteApprovalFunc func(ski string, remote address.Feature, dg frame.Datagram, approve func(approved bool, reason string))

// CallHandler routes a "call" classifier frame to the node-management
// implementation.
type CallHandler func(ski string, dg frame.Datagram) (frame.ResultDescriptor, *frame.Datagram)

// Dispatcher processes inbound datagrams for one local device.
type Dispatcher struct {
	local   *device.Device
	remotes map[string]*device.Remote
	sender  Sender
	logger  *logging.Logger

	approvals map[address.Feature]WriteApprovalFunc
	callHandler CallHandler

	maxResponseDelay time.Duration

	guards map[string]*security.MsgCounterGuard

	serviceName string
	metrics     *metrics.Metrics
}

// New creates a dispatcher for local, sending outbound frames via sender.
func New(local *device.Device, sender Sender, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		local:            local,
		remotes:          make(map[string]*device.Remote),
		sender:           sender,
		logger:           logger,
		approvals:        make(map[address.Feature]WriteApprovalFunc),
		maxResponseDelay: 10 * time.Second,
		guards:           make(map[string]*security.MsgCounterGuard),
		serviceName:      "eebus-core",
		metrics:          metrics.Global(),
	}
}

// SetMetrics attaches a service-scoped metrics instance, replacing the
// unregistered global fallback New constructs by default.
func (d *Dispatcher) SetMetrics(serviceName string, m *metrics.Metrics) {
	d.serviceName = serviceName
	d.metrics = m
}

// RegisterRemote attaches a remote device under ski.
func (d *Dispatcher) RegisterRemote(ski string, remote *device.Remote) {
	d.remotes[ski] = remote
	d.guards[ski] = security.NewMsgCounterGuard(d.maxResponseDelay, d.logger)
}

// RemoveRemote detaches a remote device, evicting its pending requests
// with an init-kind result (§7 disconnect policy).
func (d *Dispatcher) RemoveRemote(ski string) {
	delete(d.remotes, ski)
	delete(d.guards, ski)
	for _, e := range d.local.AllEntities() {
		for _, f := range e.Features() {
			for _, pending := range f.EvictAll() {
				d.metrics.PendingEvictions.Inc()
				if pending.ResultCallback != nil {
					pending.ResultCallback(ErrNumberGeneric, "remote disconnected")
				}
			}
		}
	}
}

// SetWriteApproval registers (or clears, with nil) the write-approval
// callback for localFeature.
func (d *Dispatcher) SetWriteApproval(localFeature address.Feature, fn WriteApprovalFunc) {
	if fn == nil {
		delete(d.approvals, localFeature)
		return
	}
	d.approvals[localFeature] = fn
}

// SetCallHandler registers the node-management call handler.
func (d *Dispatcher) SetCallHandler(h CallHandler) {
	d.callHandler = h
}

// Dispatch processes one inbound datagram received from ski (§4.7 steps 1-6).
func (d *Dispatcher) Dispatch(ski string, dg frame.Datagram) {
	if err := dg.Validate(); err != nil {
		d.logger.WithSKI(ski).WithError(err).Warn("dropping malformed datagram")
		return
	}

	d.metrics.RecordFrame(d.serviceName, dg.Classifier.String())

	local := d.local.FindFeature(dg.Destination)
	if local == nil {
		d.sendResult(ski, dg, frame.ResultDescriptor{ErrorNumber: ErrNumberDestinationUnknown, Description: "unknown destination feature"})
		return
	}

	switch dg.Classifier {
	case frame.ClassifierRead:
		d.handleRead(ski, dg, local)
	case frame.ClassifierWrite:
		d.handleWrite(ski, dg, local)
	case frame.ClassifierNotify, frame.ClassifierReply, frame.ClassifierResult:
		d.handleUpdateAndPending(ski, dg, local)
	case frame.ClassifierCall:
		d.handleCall(ski, dg)
	default:
		d.sendResult(ski, dg, frame.ResultDescriptor{ErrorNumber: ErrNumberGeneric, Description: "unknown classifier"})
	}
}

func (d *Dispatcher) handleRead(ski string, dg frame.Datagram, local *feature.Feature) {
	var elements [][]string
	partial := false
	for _, f := range dg.Command.Filters {
		if !f.IsFullReplace() {
			partial = true
			elements = append(elements, f.Elements...)
		}
	}
	entry := local.Function(dg.Command.Function)
	if entry == nil {
		d.sendResult(ski, dg, frame.ResultDescriptor{ErrorNumber: ErrNumberNotSupported, Description: "function not declared"})
		return
	}
	if !entry.Operations.Allows(false, partial) {
		d.sendResult(ski, dg, frame.ResultDescriptor{ErrorNumber: ErrNumberNotSupported, Description: "read not permitted"})
		return
	}
	payload, err := local.ReadCache(dg.Command.Function, elements)
	if err != nil {
		d.sendResult(ski, dg, frame.ResultDescriptor{ErrorNumber: ErrNumberGeneric, Description: err.Error()})
		return
	}
	reply := frame.NewReply(dg, dg.Destination, payload)
	d.send(ski, reply)
}

func (d *Dispatcher) handleWrite(ski string, dg frame.Datagram, local *feature.Feature) {
	apply := func() {
		err := local.Update(dg.Command.Function, dg.Command.Filters, dg.Command.Payload, "write", true)
		if err != nil {
			d.sendResult(ski, dg, frame.ResultDescriptor{ErrorNumber: ErrNumberGeneric, Description: err.Error()})
			return
		}
		d.metrics.RecordFeatureUpdate(d.serviceName, "write")
		if dg.AckRequested {
			d.sendResult(ski, dg, frame.ResultDescriptor{ErrorNumber: 0})
		}
	}

	approval, gated := d.approvals[dg.Destination]
	if !gated {
		apply()
		return
	}
	approval(ski, dg.Source, dg, func(approved bool, reason string) {
		if !approved {
			d.sendResult(ski, dg, frame.ResultDescriptor{ErrorNumber: ErrNumberWriteDenied, Description: reason})
			return
		}
		apply()
	})
}

func (d *Dispatcher) handleUpdateAndPending(ski string, dg frame.Datagram, local *feature.Feature) {
	if dg.Classifier == frame.ClassifierNotify {
		if err := local.Update(dg.Command.Function, dg.Command.Filters, dg.Command.Payload, "notify", false); err != nil {
			d.logger.WithSKI(ski).WithError(err).Warn("failed to apply inbound notify")
			return
		}
		d.metrics.RecordFeatureUpdate(d.serviceName, "notify")
		return
	}

	req, ok := local.ResolvePending(dg.CommandReference)
	if !ok {
		d.sendResult(ski, dg, frame.ResultDescriptor{ErrorNumber: ErrNumberUnmatchedReply, Description: "unmatched reply"})
		return
	}
	switch dg.Classifier {
	case frame.ClassifierReply:
		if guard, ok := d.guards[ski]; ok && !guard.MarkAnswered(dg.CommandReference) {
			d.sendResult(ski, dg, frame.ResultDescriptor{ErrorNumber: ErrNumberUnmatchedReply, Description: "unmatched reply"})
			return
		}
		if req.ResponseCallback != nil {
			req.ResponseCallback(dg.Command.Payload)
		}
		if req.ResultCallback != nil {
			local.RegisterPending(dg.CommandReference, &feature.PendingRequest{
				ResultCallback: req.ResultCallback,
				Expiry:         time.Now().Add(d.maxResponseDelay),
			})
		}
	case frame.ClassifierResult:
		if req.ResultCallback != nil && dg.Command.Result != nil {
			req.ResultCallback(dg.Command.Result.ErrorNumber, dg.Command.Result.Description)
		}
	}
}

func (d *Dispatcher) handleCall(ski string, dg frame.Datagram) {
	if d.callHandler == nil {
		d.sendResult(ski, dg, frame.ResultDescriptor{ErrorNumber: ErrNumberNotSupported, Description: "no call handler registered"})
		return
	}
	result, reply := d.callHandler(ski, dg)
	if reply != nil {
		d.send(ski, *reply)
		return
	}
	d.sendResult(ski, dg, result)
}

func (d *Dispatcher) sendResult(ski string, request frame.Datagram, descriptor frame.ResultDescriptor) {
	if descriptor.ErrorNumber != 0 {
		d.metrics.RecordDispatchError(d.serviceName, descriptor.Description)
	}
	d.send(ski, frame.NewResult(request, request.Destination, descriptor))
}

func (d *Dispatcher) send(ski string, dg frame.Datagram) {
	if d.sender == nil {
		return
	}
	if err := d.sender.SendDatagram(ski, dg); err != nil {
		d.logger.WithSKI(ski).WithError(err).Warn("failed to send datagram")
	}
}

// SendRequest delivers an outbound read/write, registering the pending
// response before handing the frame to the sender so a fast reply can
// never race the registration (§4.4).
func (d *Dispatcher) SendRequest(ski string, dg frame.Datagram, local *feature.Feature, resp func(*model.Value), result func(int, string)) error {
	local.RegisterPending(dg.MsgCounter, &feature.PendingRequest{
		ResponseCallback: func(v *model.Value) {
			if resp != nil {
				resp(v)
			}
		},
		ResultCallback: result,
		Expiry:         time.Now().Add(d.maxResponseDelay),
	})
	if err := d.sender.SendDatagram(ski, dg); err != nil {
		local.ResolvePending(dg.MsgCounter)
		return eebuserrors.Wrap(eebuserrors.KindThread, fmt.Sprintf("send to %s failed", ski), err)
	}
	return nil
}
