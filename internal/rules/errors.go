package rules

import "errors"

// Domain errors for the rules package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, rules.ErrDuplicateRule) {
//	    // a rule with this id is already registered
//	}
var (
	// ErrDuplicateRule is returned when a rule id is registered twice.
	ErrDuplicateRule = errors.New("rules: duplicate rule id")

	// ErrInvalidRule is returned when a rule descriptor fails validation.
	ErrInvalidRule = errors.New("rules: invalid rule")

	// ErrRuleNotFound is returned when a rule id is not registered.
	ErrRuleNotFound = errors.New("rules: not found")

	// ErrUnknownConverter is returned when a rule file names a converter or
	// preset that does not exist.
	ErrUnknownConverter = errors.New("rules: unknown converter")

	// ErrInvalidValue is returned by converters and validators for values
	// they cannot handle.
	ErrInvalidValue = errors.New("rules: invalid value")
)
