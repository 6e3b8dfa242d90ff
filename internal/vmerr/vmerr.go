package vmerr

import (
	"errors"
	"fmt"
)

// Code identifies one of the closed set of runtime error conditions.
type Code int

const (
	// OK reports successful completion. It never appears inside an Error.
	OK Code = iota
	// InvalidArgument reports invalid parameters, including null or
	// wrong-kind handles.
	InvalidArgument
	// Resource reports a resource that is temporarily or permanently
	// unavailable, such as a failed allocation.
	Resource
	// Range reports an offset or length outside the legal range.
	Range
	// ReadOnly reports a write to a read-only location or attribute.
	ReadOnly
	// NotFound reports an object that does not exist, including stale
	// handles.
	NotFound
	// NoAddressSpace reports insufficient address space for a mapping.
	NoAddressSpace
	// Timeout reports an expired wait.
	Timeout
	// NotAllowedInCallback reports an operation that is forbidden while
	// executing inside another callback.
	NotAllowedInCallback
)

// String returns the canonical name of the code.
func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case InvalidArgument:
		return "invalid-argument"
	case Resource:
		return "resource-unavailable"
	case Range:
		return "range"
	case ReadOnly:
		return "read-only"
	case NotFound:
		return "not-found"
	case NoAddressSpace:
		return "no-address-space"
	case Timeout:
		return "timeout"
	case NotAllowedInCallback:
		return "not-allowed-in-callback"
	default:
		return "unknown"
	}
}

// Error carries a Code plus a short operation context.
type Error struct {
	Code Code
	Op   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

// E builds an error with the given code and operation context.
// A code of OK yields nil.
func E(code Code, op string) error {
	if code == OK {
		return nil
	}
	return &Error{Code: code, Op: op}
}

// Ef builds an error with a formatted operation context.
func Ef(code Code, format string, args ...interface{}) error {
	if code == OK {
		return nil
	}
	return &Error{Code: code, Op: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from err. A nil error is OK; an error
// from outside the taxonomy maps to Resource, the catch-all for host
// failures the contract has no finer code for.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Resource
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
