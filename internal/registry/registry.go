// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package registry maps resource handles to backend objects.
//
// Each resource kind has its own Registry. Storage is a slot map: a handle
// packs the kind, a generation counter and a slot index, and a slot is only
// handed out again after its generation has been bumped. A stale handle
// therefore never resolves to the object that later reuses its slot.
//
// Registries are not internally synchronized; the driver guards them with
// its resource lock.
package registry

import (
	"errors"
	"fmt"

	"github.com/gogpu/rhi"
)

// Kind identifies the resource class encoded in a handle.
type Kind uint8

const (
	KindNone Kind = iota
	KindTexture
	KindBuffer
	KindSampler
	KindRenderState
	KindShaderSet
	KindInputLayout
)

var kindNames = [...]string{"none", "texture", "buffer", "sampler", "render-state", "shader-set", "input-layout"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Registry errors. Both match the rhi sentinels under errors.Is.
var (
	ErrStale     = fmt.Errorf("%w: stale or unknown handle", rhi.ErrInvalidHandle)
	ErrWrongKind = rhi.ErrWrongKind
)

// ErrExhausted is returned when every slot has been retired.
var ErrExhausted = errors.New("registry: slot space exhausted")

const (
	indexBits = 32
	genBits   = 24
	genShift  = indexBits
	kindShift = indexBits + genBits

	indexMask = 1<<indexBits - 1
	genMask   = 1<<genBits - 1

	// maxGen is the last generation a slot may carry; it is retired after.
	maxGen = genMask
)

// makeID packs a handle. The stored index is slot+1 so no handle is zero.
func makeID(kind Kind, gen uint32, slot uint32) rhi.ResId {
	return rhi.ResId(uint64(kind)<<kindShift | uint64(gen&genMask)<<genShift | uint64(slot+1))
}

// KindOf returns the kind encoded in id. Used by uniform destroy dispatch.
func KindOf(id rhi.ResId) Kind {
	return Kind(uint64(id) >> kindShift)
}

func split(id rhi.ResId) (gen uint32, slot uint32, ok bool) {
	idx := uint64(id) & indexMask
	if idx == 0 {
		return 0, 0, false
	}
	return uint32(uint64(id)>>genShift) & genMask, uint32(idx - 1), true
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// Registry is a slot map from handles of one kind to values of type T.
// It does not own the values.
type Registry[T any] struct {
	kind  Kind
	slots []slot[T]
	free  []uint32
	live  int
}

// New creates an empty registry for kind.
func New[T any](kind Kind) *Registry[T] {
	return &Registry[T]{kind: kind}
}

// Kind returns the registry's resource kind.
func (r *Registry[T]) Kind() Kind { return r.kind }

// Register stores v and returns its handle.
func (r *Registry[T]) Register(v T) (rhi.ResId, error) {
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		if len(r.slots) >= indexMask {
			return rhi.BadResID, ErrExhausted
		}
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot[T]{})
	}
	s := &r.slots[idx]
	s.live = true
	s.val = v
	r.live++
	return makeID(r.kind, s.gen, idx), nil
}

func (r *Registry[T]) resolve(id rhi.ResId) (*slot[T], uint32, error) {
	if !id.Valid() {
		return nil, 0, fmt.Errorf("%w: %v", ErrStale, id)
	}
	if KindOf(id) != r.kind {
		return nil, 0, fmt.Errorf("%w: %v is a %v, want %v", ErrWrongKind, id, KindOf(id), r.kind)
	}
	gen, idx, ok := split(id)
	if !ok || int(idx) >= len(r.slots) {
		return nil, 0, fmt.Errorf("%w: %v", ErrStale, id)
	}
	s := &r.slots[idx]
	if !s.live || s.gen != gen {
		return nil, 0, fmt.Errorf("%w: %v", ErrStale, id)
	}
	return s, idx, nil
}

// Lookup returns the value registered under id.
func (r *Registry[T]) Lookup(id rhi.ResId) (T, bool) {
	s, _, err := r.resolve(id)
	if err != nil {
		var zero T
		return zero, false
	}
	return s.val, true
}

// Exists reports whether id is live in this registry.
func (r *Registry[T]) Exists(id rhi.ResId) bool {
	_, _, err := r.resolve(id)
	return err == nil
}

// Replace swaps the value stored under a live id, keeping the handle.
func (r *Registry[T]) Replace(id rhi.ResId, v T) (T, error) {
	s, _, err := r.resolve(id)
	if err != nil {
		var zero T
		return zero, err
	}
	old := s.val
	s.val = v
	return old, nil
}

// Unregister removes id and returns its value. Removing an unknown, stale or
// foreign-kind handle is an error the caller should treat as fatal.
func (r *Registry[T]) Unregister(id rhi.ResId) (T, error) {
	s, idx, err := r.resolve(id)
	if err != nil {
		var zero T
		return zero, err
	}
	v := s.val
	var zero T
	s.val = zero
	s.live = false
	r.live--
	if s.gen == maxGen {
		// retired: the slot never comes back
		return v, nil
	}
	s.gen++
	r.free = append(r.free, idx)
	return v, nil
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int { return r.live }

// Each calls fn for every live entry in slot order.
func (r *Registry[T]) Each(fn func(id rhi.ResId, v T)) {
	for i := range r.slots {
		s := &r.slots[i]
		if s.live {
			fn(makeID(r.kind, s.gen, uint32(i)), s.val)
		}
	}
}
