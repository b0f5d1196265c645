package hap

import "errors"

// Domain errors for the hap package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, hap.ErrValueUnavailable) {
//	    // report "not responding" to the controller
//	}
var (
	// ErrValueUnavailable is returned by read handlers when the backing
	// device has no value for the capability.
	ErrValueUnavailable = errors.New("hap: value unavailable")

	// ErrInvalidValue is returned when a value cannot be coerced to the
	// characteristic's format or is not one of its valid values.
	ErrInvalidValue = errors.New("hap: invalid value")

	// ErrNotWritable is returned when a controller writes a read-only characteristic.
	ErrNotWritable = errors.New("hap: characteristic not writable")

	// ErrNotReadable is returned when a controller reads a write-only characteristic.
	ErrNotReadable = errors.New("hap: characteristic not readable")

	// ErrWriteDropped is returned by a set handler whose value was coalesced
	// away before reaching the device. HandleSet completes the controller
	// write without storing the value.
	ErrWriteDropped = errors.New("hap: write dropped")

	// ErrUnknownType is returned when a service or characteristic name is not catalogued.
	ErrUnknownType = errors.New("hap: unknown type")
)
