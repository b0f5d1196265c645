package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDescriptor is returned when a descriptor is missing required fields.
	ErrInvalidDescriptor = errors.New("device: invalid descriptor")

	// ErrCapabilityNotFound is returned when a capability is not declared by the device.
	ErrCapabilityNotFound = errors.New("device: capability not found")

	// ErrNotConnected is returned when the device transport is unavailable.
	ErrNotConnected = errors.New("device: transport not connected")

	// ErrReadTimeout is returned when a live read receives no response in time.
	ErrReadTimeout = errors.New("device: read timed out")

	// ErrSubscribeFailed is returned when a change subscription cannot be established.
	ErrSubscribeFailed = errors.New("device: subscribe failed")
)
