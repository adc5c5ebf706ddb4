package policy

import "fmt"

// Registry keeps a mapping from policy names to customer strategies.
type Registry struct {
	strategies map[string]CustomerStrategy
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: map[string]CustomerStrategy{}}
}

// DefaultRegistry registers the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(LookupOnly{})
	r.Register(LookupOrCreate{})
	return r
}

// Register adds or replaces a strategy implementation.
func (r *Registry) Register(strategy CustomerStrategy) {
	if r.strategies == nil {
		r.strategies = map[string]CustomerStrategy{}
	}
	r.strategies[strategy.Name()] = strategy
}

// Resolve returns a strategy by name or an error if it is absent.
func (r *Registry) Resolve(name string) (CustomerStrategy, error) {
	if strategy, ok := r.strategies[name]; ok {
		return strategy, nil
	}
	return nil, fmt.Errorf("customer policy %s is not registered", name)
}
