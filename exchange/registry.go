// Copyright (c) 2025 BVK Chaitanya

package exchange

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Registry is a static mapping from exchange name to its adapter. Adapters
// are registered once at startup; there is no runtime discovery.
type Registry struct {
	mu sync.Mutex

	exchangeMap map[string]Exchange
}

func NewRegistry() *Registry {
	return &Registry{
		exchangeMap: make(map[string]Exchange),
	}
}

// Register adds an adapter under its lowercased name. Registering the same
// name twice is an error.
func (r *Registry) Register(ex Exchange) error {
	name := strings.ToLower(ex.ExchangeName())
	if len(name) == 0 {
		return fmt.Errorf("exchange name cannot be empty: %w", os.ErrInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.exchangeMap[name]; ok {
		return fmt.Errorf("exchange %q is already registered: %w", name, os.ErrExist)
	}
	r.exchangeMap[name] = ex
	return nil
}

func (r *Registry) Lookup(name string) (Exchange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ex, ok := r.exchangeMap[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("no exchange with name %q: %w", name, os.ErrNotExist)
	}
	return ex, nil
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for name := range r.exchangeMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every registered adapter. Close errors are collected, but
// every adapter is attempted.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, ex := range r.exchangeMap {
		if err := ex.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("could not close exchange %q: %w", name, err)
		}
	}
	clear(r.exchangeMap)
	return firstErr
}
