// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package registry

import (
	"errors"
	"testing"

	"github.com/gogpu/rhi"
)

func TestRegisterUnique(t *testing.T) {
	r := New[int](KindBuffer)
	seen := make(map[rhi.ResId]bool)
	for i := 0; i < 1000; i++ {
		id, err := r.Register(i)
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if id == rhi.BadResID {
			t.Fatal("Register() returned BadResID")
		}
		if seen[id] {
			t.Fatalf("handle %v issued twice", id)
		}
		seen[id] = true
	}
	if r.Len() != 1000 {
		t.Errorf("Len() = %d, want 1000", r.Len())
	}
}

func TestUnregisterThenLookupFails(t *testing.T) {
	r := New[string](KindTexture)
	id, _ := r.Register("albedo")
	if v, ok := r.Lookup(id); !ok || v != "albedo" {
		t.Fatalf("Lookup() = %q, %v", v, ok)
	}
	if _, err := r.Unregister(id); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if r.Exists(id) {
		t.Error("Exists() = true after Unregister")
	}
	if _, err := r.Unregister(id); !errors.Is(err, rhi.ErrInvalidHandle) {
		t.Errorf("second Unregister() = %v, want ErrInvalidHandle", err)
	}
}

func TestStaleHandleAfterSlotReuse(t *testing.T) {
	r := New[string](KindBuffer)
	old, _ := r.Register("a")
	if _, err := r.Unregister(old); err != nil {
		t.Fatal(err)
	}
	fresh, _ := r.Register("b")
	if fresh == old {
		t.Fatal("reused slot returned the same handle")
	}
	if _, ok := r.Lookup(old); ok {
		t.Error("stale handle resolved after slot reuse")
	}
	if v, ok := r.Lookup(fresh); !ok || v != "b" {
		t.Errorf("Lookup(fresh) = %q, %v", v, ok)
	}
}

func TestWrongKind(t *testing.T) {
	bufs := New[int](KindBuffer)
	texs := New[int](KindTexture)
	b, _ := bufs.Register(1)
	tx, _ := texs.Register(1)
	if b == tx {
		t.Fatal("handles of different kinds collide")
	}
	if _, err := texs.Unregister(b); !errors.Is(err, rhi.ErrWrongKind) {
		t.Errorf("Unregister(buffer) on texture registry = %v, want ErrWrongKind", err)
	}
	if KindOf(b) != KindBuffer || KindOf(tx) != KindTexture {
		t.Errorf("KindOf = %v, %v", KindOf(b), KindOf(tx))
	}
}

func TestBadResIDNeverResolves(t *testing.T) {
	r := New[int](KindSampler)
	_, _ = r.Register(7)
	if r.Exists(rhi.BadResID) {
		t.Error("BadResID resolved")
	}
	_, err := r.Unregister(rhi.BadResID)
	if !errors.Is(err, rhi.ErrInvalidHandle) || errors.Is(err, rhi.ErrWrongKind) {
		t.Errorf("Unregister(BadResID) err = %v, want ErrInvalidHandle", err)
	}
	if _, err := r.Replace(rhi.BadResID, 1); !errors.Is(err, ErrStale) {
		t.Errorf("Replace(BadResID) err = %v, want ErrStale", err)
	}
}

func TestRetiredSlotNotReused(t *testing.T) {
	r := New[int](KindBuffer)
	_, _ = r.Register(1)
	r.slots[0].gen = maxGen
	id := makeID(KindBuffer, maxGen, 0)
	if _, err := r.Unregister(id); err != nil {
		t.Fatal(err)
	}
	if len(r.free) != 0 {
		t.Fatalf("retired slot pushed to free list")
	}
	next, _ := r.Register(2)
	_, idx, _ := split(next)
	if idx == 0 {
		t.Error("retired slot 0 was reused")
	}
}

func TestReplaceKeepsHandle(t *testing.T) {
	r := New[string](KindShaderSet)
	id, _ := r.Register("v1")
	old, err := r.Replace(id, "v2")
	if err != nil || old != "v1" {
		t.Fatalf("Replace() = %q, %v", old, err)
	}
	if v, _ := r.Lookup(id); v != "v2" {
		t.Errorf("Lookup after Replace = %q", v)
	}
}

func TestEach(t *testing.T) {
	r := New[int](KindInputLayout)
	a, _ := r.Register(10)
	b, _ := r.Register(20)
	c, _ := r.Register(30)
	_, _ = r.Unregister(b)

	got := map[rhi.ResId]int{}
	r.Each(func(id rhi.ResId, v int) { got[id] = v })
	if len(got) != 2 || got[a] != 10 || got[c] != 30 {
		t.Errorf("Each visited %v", got)
	}
}

func TestKindString(t *testing.T) {
	if KindRenderState.String() != "render-state" {
		t.Errorf("KindRenderState.String() = %q", KindRenderState.String())
	}
	if Kind(99).String() != "Kind(99)" {
		t.Errorf("Kind(99).String() = %q", Kind(99).String())
	}
}
