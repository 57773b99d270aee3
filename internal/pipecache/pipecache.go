// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package pipecache caches native pipeline objects by the content of their
// descriptions.
//
// Keys are hashed with FNV-128a over their little-endian binary image and
// the hash is truncated to 64 bits. Because the image is produced field by
// field with encoding/binary, padding never reaches the hash. A hash hit is
// confirmed by comparing the full key, so two descriptions that collide are
// kept apart.
//
// The cache is append-only while the device lives and is torn down as a
// whole with DestroyAll.
package pipecache

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Hash returns the 64-bit key hash of key. key must be a fixed-size value
// as accepted by encoding/binary.
func Hash[K any](key K) uint64 {
	h := fnv.New128a()
	if err := binary.Write(h, binary.LittleEndian, key); err != nil {
		panic(fmt.Sprintf("pipecache: key %T is not fixed-size: %v", key, err))
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[8:])
}

type entry[K comparable, V any] struct {
	key K
	val V
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries    int
	Hits       uint64
	Misses     uint64
	Collisions uint64
}

// HitRate returns hits over lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache maps fixed-size keys to pipeline objects.
//
// Thread Safety:
// Cache is safe for concurrent use. Reads take a read lock; creation takes
// the write lock and re-checks before calling create, so create runs at most
// once per key.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	buckets map[uint64][]entry[K, V]
	n       int
	hash    func(K) uint64

	hits       atomic.Uint64
	misses     atomic.Uint64
	collisions atomic.Uint64
}

// New returns an empty cache. It panics if K has no fixed binary size.
func New[K comparable, V any]() *Cache[K, V] {
	var zero K
	if binary.Size(zero) < 0 {
		panic(fmt.Sprintf("pipecache: key type %T is not fixed-size", zero))
	}
	return &Cache[K, V]{
		buckets: make(map[uint64][]entry[K, V]),
		hash:    Hash[K],
	}
}

func find[K comparable, V any](bucket []entry[K, V], key K) (V, bool) {
	for _, e := range bucket {
		if e.key == key {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

// Get returns the cached value for key without creating one.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	h := c.hash(key)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return find(c.buckets[h], key)
}

// GetOrCreate returns the cached value for key, calling create on a miss.
// A failed create caches nothing.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	h := c.hash(key)

	// Fast path: read lock
	c.mu.RLock()
	if v, ok := find(c.buckets[h], key); ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return v, nil
	}
	c.mu.RUnlock()

	// Slow path: write lock with double-check
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket := c.buckets[h]
	if v, ok := find(bucket, key); ok {
		c.hits.Add(1)
		return v, nil
	}

	v, err := create()
	if err != nil {
		var zero V
		return zero, err
	}
	if len(bucket) > 0 {
		c.collisions.Add(1)
	}
	c.buckets[h] = append(bucket, entry[K, V]{key: key, val: v})
	c.n++
	c.misses.Add(1)
	return v, nil
}

// Len returns the number of cached values.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.n
}

// Stats returns the current counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Entries:    c.Len(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Collisions: c.collisions.Load(),
	}
}

// DestroyAll passes every cached value to release, empties the cache and
// resets the counters.
func (c *Cache[K, V]) DestroyAll(release func(V)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if release != nil {
		for _, bucket := range c.buckets {
			for _, e := range bucket {
				release(e.val)
			}
		}
	}
	c.buckets = make(map[uint64][]entry[K, V])
	c.n = 0
	c.hits.Store(0)
	c.misses.Store(0)
	c.collisions.Store(0)
}
