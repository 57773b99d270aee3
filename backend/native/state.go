// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/registry"
)

// maxVertexBuffers is the number of vertex buffer slots.
const maxVertexBuffers = 8

// bindTable holds the handles bound to each register space.
type bindTable [numGroups][MaxSlots]rhi.ResId

type vertexBinding struct {
	id     rhi.ResId
	offset uint64
}

// drawState is the bound pipeline state of the context. Graphics stages
// share one binding table; compute has its own.
type drawState struct {
	graphics bindTable
	compute  bindTable

	vertex      [maxVertexBuffers]vertexBinding
	index       vertexBinding
	indexFormat gputypes.IndexFormat

	colors    [rhi.MaxRenderTargets]rhi.ResId
	numColors int
	depth     rhi.ResId

	shader         rhi.ResId
	variant        int
	computeShader  rhi.ResId
	computeVariant int
	renderState    rhi.ResId
	inputLayout    rhi.ResId

	viewport    rhi.Viewport
	hasViewport bool
	scissor     rhi.Scissor
	hasScissor  bool
}

func (s *drawState) reset() {
	*s = drawState{indexFormat: gputypes.IndexFormatUint16}
}

func (s *drawState) table(stage rhi.Stage) *bindTable {
	if stage == rhi.StageCompute {
		return &s.compute
	}
	return &s.graphics
}

// targets returns the bound color targets.
func (s *drawState) targets() []rhi.ResId {
	return s.colors[:s.numColors]
}

func (d *Driver) checkSlot(what string, slot, limit uint32) bool {
	if slot < limit {
		return true
	}
	rhi.Fatal(fmt.Errorf("%w: %s slot %d out of range [0,%d)", rhi.ErrInvalidDesc, what, slot, limit))
	return false
}

// checkBuffer validates a buffer handle for a binding call. BadResID passes.
func (d *Driver) checkBuffer(id rhi.ResId, flag rhi.BindFlags) bool {
	if !id.Valid() {
		return true
	}
	d.resMu.Lock()
	b, err := resolve(d.buffers, id)
	d.resMu.Unlock()
	if err == nil && d.cfg.validation && !b.desc.BindFlags.Has(flag) {
		err = missingFlag(id, b.desc.BindFlags, flag)
	}
	return fail(err) == nil
}

// checkTexture validates a texture handle for a binding call. BadResID passes.
func (d *Driver) checkTexture(id rhi.ResId, flag rhi.BindFlags) bool {
	if !id.Valid() {
		return true
	}
	d.resMu.Lock()
	t, err := resolve(d.textures, id)
	d.resMu.Unlock()
	if err == nil && d.cfg.validation && !t.desc.BindFlags.Has(flag) {
		err = missingFlag(id, t.desc.BindFlags, flag)
	}
	return fail(err) == nil
}

func checkKind[T any](d *Driver, r *registry.Registry[T], id rhi.ResId) bool {
	if !id.Valid() {
		return true
	}
	d.resMu.Lock()
	_, err := resolve(r, id)
	d.resMu.Unlock()
	return fail(err) == nil
}

// SetVertexBuffer binds id to a vertex buffer slot. The stride comes from
// the bound input layout.
func (d *Driver) SetVertexBuffer(slot uint32, id rhi.ResId, offset uint64) {
	if !d.checkSlot("vertex buffer", slot, maxVertexBuffers) || !d.checkBuffer(id, rhi.BindVertexBuffer) {
		return
	}
	d.ctxMu.Lock()
	d.state.vertex[slot] = vertexBinding{id: id, offset: offset}
	d.ctxMu.Unlock()
}

// SetIndexBuffer binds the index buffer.
func (d *Driver) SetIndexBuffer(id rhi.ResId, format gputypes.IndexFormat, offset uint64) {
	if !d.checkBuffer(id, rhi.BindIndexBuffer) {
		return
	}
	d.ctxMu.Lock()
	d.state.index = vertexBinding{id: id, offset: offset}
	d.state.indexFormat = format
	d.ctxMu.Unlock()
}

func (d *Driver) bind(stage rhi.Stage, group int, slot uint32, id rhi.ResId) {
	d.ctxMu.Lock()
	d.state.table(stage)[group][slot] = id
	d.ctxMu.Unlock()
}

// SetConstantBuffer binds a constant buffer. All graphics stages share
// one table.
func (d *Driver) SetConstantBuffer(stage rhi.Stage, slot uint32, id rhi.ResId) {
	if !d.checkSlot("constant buffer", slot, MaxSlots) || !d.checkBuffer(id, rhi.BindConstantBuffer) {
		return
	}
	d.bind(stage, groupCB, slot, id)
}

// SetTexture binds a shader resource: a texture, or a buffer read as
// read-only storage.
func (d *Driver) SetTexture(stage rhi.Stage, slot uint32, id rhi.ResId) {
	if !d.checkSlot("shader resource", slot, MaxSlots) || !d.checkResource(id, rhi.BindShaderResource) {
		return
	}
	d.bind(stage, groupSRV, slot, id)
}

// SetUAV binds a read-write buffer or storage texture.
func (d *Driver) SetUAV(stage rhi.Stage, slot uint32, id rhi.ResId) {
	if !d.checkSlot("unordered access", slot, MaxSlots) || !d.checkResource(id, rhi.BindUnorderedAccess) {
		return
	}
	d.bind(stage, groupUAV, slot, id)
}

func (d *Driver) checkResource(id rhi.ResId, flag rhi.BindFlags) bool {
	if registry.KindOf(id) == registry.KindBuffer {
		return d.checkBuffer(id, flag)
	}
	return d.checkTexture(id, flag)
}

// SetSampler binds a sampler.
func (d *Driver) SetSampler(stage rhi.Stage, slot uint32, id rhi.ResId) {
	if !d.checkSlot("sampler", slot, MaxSlots) || !checkKind(d, d.samplers, id) {
		return
	}
	d.bind(stage, groupSampler, slot, id)
}

// SetRenderTargets binds color targets and a depth target. BadResID color
// entries are skipped. A change ends the open render pass.
func (d *Driver) SetRenderTargets(colors []rhi.ResId, depth rhi.ResId) {
	if len(colors) > rhi.MaxRenderTargets {
		rhi.Fatal(fmt.Errorf("%w: %d render targets, at most %d", rhi.ErrInvalidDesc, len(colors), rhi.MaxRenderTargets))
		return
	}
	for _, id := range colors {
		if !d.checkTexture(id, rhi.BindRenderTarget) {
			return
		}
	}
	if !d.checkTexture(depth, rhi.BindDepthStencil) {
		return
	}

	var next [rhi.MaxRenderTargets]rhi.ResId
	n := 0
	for _, id := range colors {
		if id.Valid() {
			next[n] = id
			n++
		}
	}

	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	if next == d.state.colors && n == d.state.numColors && depth == d.state.depth {
		return
	}
	d.endPass()
	d.state.colors = next
	d.state.numColors = n
	d.state.depth = depth
}

// SetShaderSet binds a graphics shader set and variant. An out-of-range
// variant draws with the error shader.
func (d *Driver) SetShaderSet(id rhi.ResId, variant int) {
	if !d.checkShader(id, false) {
		return
	}
	d.ctxMu.Lock()
	d.state.shader = id
	d.state.variant = variant
	d.ctxMu.Unlock()
}

// SetComputeShader binds a compute shader and variant.
func (d *Driver) SetComputeShader(id rhi.ResId, variant int) {
	if !d.checkShader(id, true) {
		return
	}
	d.ctxMu.Lock()
	d.state.computeShader = id
	d.state.computeVariant = variant
	d.ctxMu.Unlock()
}

func (d *Driver) checkShader(id rhi.ResId, compute bool) bool {
	if !id.Valid() {
		return true
	}
	s, err := d.lookupSet(id)
	if err == nil && s.compute != compute {
		err = fmt.Errorf("%w: %v compute=%v bound as compute=%v", rhi.ErrWrongKind, id, s.compute, compute)
	}
	return fail(err) == nil
}

// SetRenderState binds fixed-function state. BadResID restores the default.
func (d *Driver) SetRenderState(id rhi.ResId) {
	if !checkKind(d, d.states, id) {
		return
	}
	d.ctxMu.Lock()
	d.state.renderState = id
	d.ctxMu.Unlock()
}

// SetInputLayout binds the vertex input layout.
func (d *Driver) SetInputLayout(id rhi.ResId) {
	if !checkKind(d, d.layouts, id) {
		return
	}
	d.ctxMu.Lock()
	d.state.inputLayout = id
	d.ctxMu.Unlock()
}

// SetViewport sets the viewport. Without one, draws cover the first target.
func (d *Driver) SetViewport(vp rhi.Viewport) {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	d.state.viewport = vp
	d.state.hasViewport = true
	if d.frame.pass != nil {
		d.frame.pass.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
	}
}

// SetScissor sets the scissor rectangle.
func (d *Driver) SetScissor(rect rhi.Scissor) {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	d.state.scissor = rect
	d.state.hasScissor = true
	if d.frame.pass != nil {
		d.frame.pass.SetScissorRect(rect.X, rect.Y, rect.Width, rect.Height)
	}
}
