// Package eebuserrors provides the uniform error kinds surfaced at every
// API boundary of the stack (§7 of the specification).
package eebuserrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error kinds the core is allowed to produce.
// "other" is reserved for embedder plug-ins and is never constructed by
// internal code — see newOther below, reached only through
// NewOtherForPlugin.
type Kind string

const (
	// KindInputArgument marks a null, out-of-range, or missing required argument.
	KindInputArgument Kind = "input-argument"
	// KindNoChange marks an operation that was a no-op given current state; not fatal.
	KindNoChange Kind = "no-change"
	// KindMemoryAllocate marks an allocation failure.
	KindMemoryAllocate Kind = "memory-allocate"
	// KindInit marks a resource that could not be constructed.
	KindInit Kind = "init"
	// KindParse marks a wire format or input string that did not match schema.
	KindParse Kind = "parse"
	// KindNotSupported marks an operation valid but unimplemented for this function.
	KindNotSupported Kind = "not-supported"
	// KindThread marks a platform concurrency primitive failure.
	KindThread Kind = "thread"
	// KindActivate marks an external registration (mDNS publish, DNS-SD) refused.
	KindActivate Kind = "activate"
	// KindOther is the catch-all reserved for embedder plug-ins.
	KindOther Kind = "other"
)

// Error is a structured error carrying a Kind, a human-readable message,
// optional structured details, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured detail and returns the same error for chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap wraps an existing error with a Kind and message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Constructors for each kind, one per name the spec lists in §7.

func InputArgument(field, reason string) *Error {
	return New(KindInputArgument, "invalid argument").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func NoChange(operation string) *Error {
	return New(KindNoChange, "operation was a no-op").WithDetails("operation", operation)
}

func MemoryAllocate(what string) *Error {
	return New(KindMemoryAllocate, "allocation failed").WithDetails("what", what)
}

func Init(resource string, err error) *Error {
	return Wrap(KindInit, "resource could not be constructed", err).WithDetails("resource", resource)
}

func Parse(what string, err error) *Error {
	return Wrap(KindParse, "did not match declared schema", err).WithDetails("what", what)
}

func NotSupported(function, operation string) *Error {
	return New(KindNotSupported, "operation not supported for this function").
		WithDetails("function", function).
		WithDetails("operation", operation)
}

func Thread(primitive string, err error) *Error {
	return Wrap(KindThread, "platform primitive failure", err).WithDetails("primitive", primitive)
}

func Activate(target string, err error) *Error {
	return Wrap(KindActivate, "external registration refused", err).WithDetails("target", target)
}

// newOther constructs a KindOther error. Unexported: only embedder plug-ins
// reachable through the capability traits in pkg/api are expected to
// produce this kind; internal code must always pick a concrete kind above.
func newOther(message string, err error) *Error {
	return Wrap(KindOther, message, err)
}

// NewOtherForPlugin lets an embedder-supplied collaborator (codec, discovery,
// TLS credential) report a failure that does not fit any other kind.
func NewOtherForPlugin(message string, err error) *Error {
	return newOther(message, err)
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts an *Error from an error chain.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
