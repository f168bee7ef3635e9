// Package indexererr defines the error taxonomy used across every
// component: a fixed set of classes, a wrapped error type carrying one of
// them, and the wire-level Error the controller sends to clients.
package indexererr

import (
	"errors"
	"fmt"
)

// Class is one of the seven error kinds recognized end to end.
type Class string

const (
	ClassTransient  Class = "transient"   // network, timeout
	ClassProtocol   Class = "protocol"    // unexpected RPC shape, decode failure
	ClassNotFound   Class = "not_found"   // missing block at a finalised height
	ClassStorage    Class = "storage"     // write failure, non-idempotent constraint violation
	ClassCancelled  Class = "cancelled"   // context cancellation
	ClassBadRequest Class = "bad_request" // malformed controller command
	ClassFatal      Class = "fatal"       // invariant violated
)

// Code is the machine-readable wire code sent to clients over the event
// protocol.
type Code string

const (
	CodeRPCTransient Code = "E_RPC_TRANSIENT"
	CodeRPCProtocol  Code = "E_RPC_PROTOCOL"
	CodeDecode       Code = "E_DECODE"
	CodeStorage      Code = "E_STORAGE"
	CodeCancelled    Code = "E_CANCELLED"
	CodeBadRequest   Code = "E_BAD_REQUEST"
	CodeUnknown      Code = "E_UNKNOWN"
)

var classToCode = map[Class]Code{
	ClassTransient:  CodeRPCTransient,
	ClassProtocol:   CodeRPCProtocol,
	ClassNotFound:   CodeRPCProtocol,
	ClassStorage:    CodeStorage,
	ClassCancelled:  CodeCancelled,
	ClassBadRequest: CodeBadRequest,
	ClassFatal:      CodeUnknown,
}

// classified wraps an underlying error with a Class, matching the shape of
// the RPC router's ClassifyError but making the class a first-class type
// instead of an inferred enum only known at the retry call site.
type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return fmt.Sprintf("%s: %v", c.class, c.err) }
func (c *classified) Unwrap() error { return c.err }

// New wraps err with the given class.
func New(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: class, err: err}
}

// Newf wraps a formatted error with the given class.
func Newf(class Class, format string, args ...any) error {
	return New(class, fmt.Errorf(format, args...))
}

// ClassOf extracts the Class from err, walking the wrap chain. Unclassified
// errors report ClassFatal, matching the taxonomy's fail-closed default.
func ClassOf(err error) Class {
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	return ClassFatal
}

// Is reports whether err (or something it wraps) is of the given class.
func Is(err error, class Class) bool {
	return ClassOf(err) == class
}

// WireError is the {code, message, fatal, context} payload of the `error`
// s2c event, kept as a distinct wire type from the internal error so the
// client always receives a human message, never just a bare code.
type WireError struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Fatal   bool           `json:"fatal"`
	Context map[string]any `json:"context,omitempty"`
}

// ToWire renders err as the wire error sent to a client, with fatal decided
// by the caller (a Transient failure mid-retry is not fatal; the same class
// exhausting all retries is).
func ToWire(err error, fatal bool, context map[string]any) WireError {
	class := ClassOf(err)
	code, ok := classToCode[class]
	if !ok {
		code = CodeUnknown
	}
	return WireError{
		Code:    code,
		Message: err.Error(),
		Fatal:   fatal,
		Context: context,
	}
}
