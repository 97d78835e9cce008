// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import "github.com/hal9999/orchestrator/lib/hal9999errors"

// Registry maps a slot's provider name to the Provider implementation
// that serves it. Bootstrap does not use it; the pool takes a plain
// name → Provider map.
type Registry struct {
	byName map[string]Provider
}

// NewRegistry builds a Registry from a name → Provider map.
func NewRegistry(providers map[string]Provider) *Registry {
	byName := make(map[string]Provider, len(providers))
	for name, p := range providers {
		byName[name] = p
	}
	return &Registry{byName: byName}
}

// Get returns the Provider registered under name, or
// hal9999errors.ProviderNotFound if none was registered.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, &hal9999errors.ProviderNotFound{Provider: name}
	}
	return p, nil
}
