package xmlrpc

import (
	"errors"
	"fmt"
	"strings"
)

// CodeInternal is the fault code used for every failure that is not
// itself a *Fault.
const CodeInternal = 1

// Fault is an XML-RPC protocol error. Handlers return a *Fault to send a
// specific faultCode/faultString pair to the caller; it is written to the
// wire verbatim.
type Fault struct {
	Code   int
	String string
}

func (f *Fault) Error() string {
	if f == nil {
		return "xmlrpc: fault: <nil>"
	}
	return fmt.Sprintf("fault %d: %s", f.Code, f.String)
}

// NewFault creates a new Fault.
func NewFault(code int, message string) *Fault {
	return &Fault{Code: code, String: message}
}

// MethodNotSupportedError reports a method name that cannot be dispatched:
// unknown, disabled, or private.
type MethodNotSupportedError struct {
	Method string
}

func (e *MethodNotSupportedError) Error() string {
	return fmt.Sprintf("method %q is not supported", e.Method)
}

func (e *MethodNotSupportedError) Kind() string { return "MethodNotSupported" }

// ArgumentError reports params that do not fit the handler's declared
// parameters. It is raised before the handler body runs.
type ArgumentError struct {
	Method string
	Index  int // -1 for arity mismatches
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Index < 0 {
		return e.Method + ": " + e.Reason
	}
	return fmt.Sprintf("%s: param %d: %s", e.Method, e.Index+1, e.Reason)
}

func (e *ArgumentError) Kind() string { return "ArgumentError" }

// ParseError reports a request body that is not a valid methodCall.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string {
	if e.Cause == nil {
		return "malformed request"
	}
	return "malformed request: " + e.Cause.Error()
}

func (e *ParseError) Unwrap() error { return e.Cause }

func (e *ParseError) Kind() string { return "ParseError" }

// MarshalError reports a result value that has no XML-RPC representation.
type MarshalError struct {
	Reason string
}

func (e *MarshalError) Error() string { return e.Reason }

func (e *MarshalError) Kind() string { return "MarshalError" }

// PanicError carries a panic recovered from a handler.
type PanicError struct {
	Method string
	Value  any
}

func (e *PanicError) Error() string {
	switch v := e.Value.(type) {
	case error:
		return e.Method + ": " + v.Error()
	case string:
		return e.Method + ": " + v
	default:
		return fmt.Sprintf("%s: %v", e.Method, v)
	}
}

func (e *PanicError) Kind() string { return "Panic" }

// FaultFromError converts any error into the Fault written to the wire.
// A *Fault anywhere in the chain is returned unchanged; everything else
// becomes CodeInternal with "<category>:<message>".
func FaultFromError(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) && f != nil {
		return f
	}
	return &Fault{
		Code:   CodeInternal,
		String: errorCategory(err) + ":" + err.Error(),
	}
}

func errorCategory(err error) string {
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
