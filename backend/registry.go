// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/rhi"
)

// Well-known backend names.
const (
	BackendNative   = "native"
	BackendSoftware = "software"
)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// First that opens wins; unlisted backends follow in name order.
	backendPriority = []string{BackendNative, BackendSoftware}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// A later registration under the same name replaces the earlier one.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Unregister removes a backend from the registry.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered backend names in priority order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return orderedNames()
}

// IsRegistered reports whether a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

func orderedNames() []string {
	names := make([]string, 0, len(factories))
	for _, name := range backendPriority {
		if _, ok := factories[name]; ok {
			names = append(names, name)
		}
	}
	var rest []string
	for name := range factories {
		if !slices.Contains(backendPriority, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

// Open opens the named backend.
func Open(name string, cfg Config) (rhi.Driver, error) {
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrBackendNotAvailable, name)
	}
	d, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	return d, nil
}

// OpenDefault opens the first backend in priority order that succeeds.
// The error joins every failure when none does.
func OpenDefault(cfg Config) (rhi.Driver, error) {
	registryMu.RLock()
	names := orderedNames()
	registryMu.RUnlock()

	errs := []error{ErrBackendNotAvailable}
	for _, name := range names {
		d, err := Open(name, cfg)
		if err == nil {
			return d, nil
		}
		cfgLogger(cfg).Warn("backend: open failed", "backend", name, "err", err)
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func cfgLogger(cfg Config) *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return rhi.Logger()
}
