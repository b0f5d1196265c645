package bridge

import "errors"

// Domain errors for the bridge package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, bridge.ErrInvalidAnnouncement) {
//	    // the payload was not a descriptor
//	}
var (
	// ErrRegistryRequired is returned by New without a device registry.
	ErrRegistryRequired = errors.New("bridge: device registry is required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("bridge: already started")

	// ErrInvalidAnnouncement is returned for a descriptor payload that
	// cannot be decoded or names a different device than its topic.
	ErrInvalidAnnouncement = errors.New("bridge: invalid device announcement")
)
