// Package mapping selects rules for devices and synthesizes their
// protocol accessories.
//
// The Engine owns one MappedDevice per device id:
//
//	device.Device ──Descriptor──▶ Matcher.Select ──▶ Selection
//	                                                   │ primary + secondaries
//	                                                   ▼
//	                                              MappedDevice
//	                                                   │ Accessorize (once)
//	                                                   ▼
//	   capability.Observer ──▶ getter ──▶ hap.Characteristic ◀── controller
//	   state.Manager ◀── setter ◀── debounce ◀─────────────────────┘
//
// # Selection
//
// Rules are filtered by class (exact, wildcard, virtual class or fallback
// flag), scored by the share of required capabilities the device shows in
// its UI, checked against forbidden capabilities and their threshold, then
// ordered: rules naming the virtual class are preferred, non-fallback
// rules come first, higher scores win. The first rule is the primary; the
// rest join as secondaries unless they would duplicate a service, are
// listed as incompatible with the primary, or are a second distinct
// enhanced variant.
//
// A device no rule fits is remembered as unmappable until ForgetDevice.
//
// # Synthesis
//
// Accessorize builds the accessory once and memoizes it. UI capabilities
// are grouped by their ".group" suffix; grouped rules get one service per
// group, other rules share one service and bind each capability only in
// its shortest group. Read handlers serve the device's cached value through
// the getter, write handlers run the setter and a serialized state write,
// then echo the value into the device cache. Device write failures are
// logged and absorbed so the controller is always answered.
//
// # Thread Safety
//
// Engine and MappedDevice are safe for concurrent use.
package mapping
