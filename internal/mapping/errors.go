package mapping

import "errors"

// Domain errors for the mapping package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, mapping.ErrUnmappableDevice) {
//	    // no rule fits; cached until ForgetDevice
//	}
var (
	// ErrUnmappableDevice is returned when no rule clears its threshold for a
	// device. The result is cached per device id.
	ErrUnmappableDevice = errors.New("mapping: unmappable device")

	// ErrDeviceNotMapped is returned when a device id has no mapping.
	ErrDeviceNotMapped = errors.New("mapping: device not mapped")

	// ErrDeviceClosed is returned when a forgotten device is accessorized.
	ErrDeviceClosed = errors.New("mapping: device forgotten")
)
