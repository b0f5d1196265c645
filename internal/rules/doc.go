// Package rules describes how device capabilities map onto protocol
// services and characteristics.
//
// A RuleDescriptor names the device classes it applies to, the service it
// exposes and a table of capability bindings tagged Required, Optional or
// Trigger. Each binding lists the characteristics it drives and a pair of
// converters for the two directions:
//
//	device value ──Get──▶ characteristic value
//	device value ◀──Set── characteristic value
//
// A binding may carry a Fallback pair, used when the device does not
// literally declare the capability, and a debounce policy for writes.
//
// Rules are authored in Go with Builder or loaded from YAML with Parse and
// LoadFile, and collected in a Registry that rejects duplicate ids.
//
// # Converters
//
// Converters are pure functions of the raw value and a Context. A getter
// may return NoValue to leave a characteristic untouched.
//
//	rules.NewBuilder("light", rules.MatchClasses("light"), hap.ServiceLightbulb).
//	    Category(hap.CategoryLightbulb).
//	    Required("onoff", rules.OnOff()).
//	    Optional("dim", rules.Dim()).
//	    Build()
//
// # Thread Safety
//
// Registry is safe for concurrent use. Descriptors returned by the registry
// are copies; converters must not retain or mutate the Context.
package rules
