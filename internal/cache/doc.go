// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cache provides a generic LRU cache whose evicted values are handed
// to a callback instead of being dropped.
//
// The driver keeps transient GPU objects (bind groups) here. Those objects
// may still be referenced by in-flight command buffers when they fall out of
// the cache, so the eviction callback defers their destruction rather than
// releasing them on the spot.
//
//	c := cache.New[key, hal.BindGroup](256, func(k key, g hal.BindGroup) {
//	    queue.Release(lastFence, func() { device.DestroyBindGroup(g) })
//	})
//	g, err := c.GetOrCreate(k, build)
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
