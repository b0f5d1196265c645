package rules

import (
	"errors"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is an ordered collection of rules with unique ids.
//
// Registration order is preserved; the matcher uses it as the stable base
// order before sorting candidates.
type Registry struct {
	mu     sync.RWMutex
	rules  []RuleDescriptor
	byID   map[string]int
	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]int),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Add validates and registers a rule.
//
// Returns:
//   - error: ErrInvalidRule if validation fails, ErrDuplicateRule if the id
//     is taken (the earlier registration stands)
func (r *Registry) Add(rule RuleDescriptor) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[rule.ID]; exists {
		r.logger.Warn("duplicate rule rejected", "rule", rule.ID)
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}
	r.byID[rule.ID] = len(r.rules)
	r.rules = append(r.rules, rule.Clone())
	r.logger.Debug("rule registered", "rule", rule.ID, "service", rule.Service.String())
	return nil
}

// AddAll registers each rule, continuing past failures. The returned error
// joins every failure.
func (r *Registry) AddAll(rules ...RuleDescriptor) error {
	var errs []error
	for _, rule := range rules {
		if err := r.Add(rule); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns a copy of the rule with the given id.
func (r *Registry) Get(id string) (RuleDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return RuleDescriptor{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return r.rules[i].Clone(), nil
}

// Rules returns copies of all rules in registration order.
func (r *Registry) Rules() []RuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RuleDescriptor, len(r.rules))
	for i, rule := range r.rules {
		out[i] = rule.Clone()
	}
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
