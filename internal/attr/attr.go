// Package attr defines the typed attribute values plugins expose through
// their get/set-attribute operations, and conversion between the types.
package attr

import (
	"strconv"

	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// Kind identifies an attribute value's type.
type Kind int

const (
	// Unsigned is an unsigned 64-bit integer.
	Unsigned Kind = iota
	// Integer is a signed 64-bit integer.
	Integer
	// String is a text value.
	String
	// Reference is an opaque pointer-like value. References never
	// convert.
	Reference
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Unsigned:
		return "unsigned"
	case Integer:
		return "integer"
	case String:
		return "string"
	case Reference:
		return "reference"
	default:
		return "unknown"
	}
}

// Value is one attribute value. Exactly the field matching Kind is
// meaningful.
type Value struct {
	Kind Kind
	U    uint64
	I    int64
	S    string
	Ref  interface{}
}

// UnsignedValue builds an unsigned value.
func UnsignedValue(v uint64) Value { return Value{Kind: Unsigned, U: v} }

// IntegerValue builds a signed value.
func IntegerValue(v int64) Value { return Value{Kind: Integer, I: v} }

// StringValue builds a string value.
func StringValue(v string) Value { return Value{Kind: String, S: v} }

// RefValue builds a reference value.
func RefValue(v interface{}) Value { return Value{Kind: Reference, Ref: v} }

// Capability bits advertised through the capability attribute.
const (
	// CapMigration marks a device that supports checkpoint/migration.
	CapMigration uint64 = 1 << 0
)

// Well-known attribute names.
const (
	// NameCapabilities is the device capability mask (unsigned).
	NameCapabilities = "capabilities"
	// NameMigrationSupported reports hypervisor migration support
	// (unsigned, 0 or 1).
	NameMigrationSupported = "migration_supported"
)

// Convert converts v to the target kind. Signed/unsigned conversions fail
// with Resource on overflow; string conversions parse or format decimal,
// with maxLen bounding the formatted output (0 means unbounded). Reference
// values do not convert.
func Convert(v Value, to Kind, maxLen int) (Value, error) {
	if v.Kind == Reference || to == Reference {
		return Value{}, vmerr.E(vmerr.InvalidArgument, "attr.Convert")
	}
	if v.Kind == to {
		return v, nil
	}

	switch to {
	case Unsigned:
		switch v.Kind {
		case Integer:
			if v.I < 0 {
				return Value{}, vmerr.E(vmerr.Resource, "attr.Convert")
			}
			return UnsignedValue(uint64(v.I)), nil
		case String:
			u, err := strconv.ParseUint(v.S, 0, 64)
			if err != nil {
				return Value{}, vmerr.E(vmerr.InvalidArgument, "attr.Convert")
			}
			return UnsignedValue(u), nil
		}
	case Integer:
		switch v.Kind {
		case Unsigned:
			if v.U > 1<<63-1 {
				return Value{}, vmerr.E(vmerr.Resource, "attr.Convert")
			}
			return IntegerValue(int64(v.U)), nil
		case String:
			i, err := strconv.ParseInt(v.S, 0, 64)
			if err != nil {
				return Value{}, vmerr.E(vmerr.InvalidArgument, "attr.Convert")
			}
			return IntegerValue(i), nil
		}
	case String:
		var s string
		switch v.Kind {
		case Unsigned:
			s = strconv.FormatUint(v.U, 10)
		case Integer:
			s = strconv.FormatInt(v.I, 10)
		}
		if maxLen > 0 && len(s) > maxLen {
			return Value{}, vmerr.E(vmerr.Resource, "attr.Convert")
		}
		return StringValue(s), nil
	}
	return Value{}, vmerr.E(vmerr.InvalidArgument, "attr.Convert")
}
