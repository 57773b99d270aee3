// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/pipecache"
	"github.com/gogpu/rhi/shader"
)

// bindKey identifies a bind group by program, group and bound handles.
type bindKey struct {
	program uint64
	group   uint8
	res     [MaxSlots]rhi.ResId
}

func (k bindKey) references(id rhi.ResId) bool {
	return slices.Contains(k.res[:], id)
}

const defaultBufferSize = 256

type defaultTexture struct {
	tex  hal.Texture
	view hal.TextureView
}

type defaultKey struct {
	dim          shader.ViewDim
	sample       shader.SampleType
	storage      gputypes.TextureFormat
	multisampled bool
}

// defaults are bound to slots a program declares but the caller left
// empty. Guarded by resMu.
type defaults struct {
	buffer   hal.Buffer
	sampler  hal.Sampler
	compare  hal.Sampler
	textures map[defaultKey]defaultTexture
}

func (df *defaults) create(d *Driver) error {
	var err error
	df.textures = make(map[defaultKey]defaultTexture)
	df.buffer, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "default buffer",
		Size:  defaultBufferSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("native: default buffer: %w", err)
	}
	df.sampler, err = d.device.CreateSampler(samplerDescriptor(rhi.SamplerDesc{}, 1))
	if err != nil {
		return fmt.Errorf("native: default sampler: %w", err)
	}
	df.compare, err = d.device.CreateSampler(samplerDescriptor(rhi.SamplerDesc{Compare: gputypes.CompareFunctionLessEqual}, 1))
	if err != nil {
		return fmt.Errorf("native: default comparison sampler: %w", err)
	}
	return nil
}

func (df *defaults) destroy(dev hal.Device) {
	for _, t := range df.textures {
		dev.DestroyTextureView(t.view)
		dev.DestroyTexture(t.tex)
	}
	df.textures = nil
	if df.buffer != nil {
		dev.DestroyBuffer(df.buffer)
		df.buffer = nil
	}
	if df.sampler != nil {
		dev.DestroySampler(df.sampler)
		df.sampler = nil
	}
	if df.compare != nil {
		dev.DestroySampler(df.compare)
		df.compare = nil
	}
}

// view returns a 1x1 texture matching what b expects. Float textures read
// opaque white, every other kind reads zero.
func (df *defaults) view(d *Driver, b shader.Binding) (hal.TextureView, error) {
	key := defaultKey{dim: b.ViewDim, sample: b.SampleType, multisampled: b.Multisampled}
	storage := b.Kind == shader.BindingStorageTexture
	if storage {
		key = defaultKey{dim: b.ViewDim, storage: b.StorageFormat}
	}
	if t, ok := df.textures[key]; ok {
		return t.view, nil
	}

	format := gputypes.TextureFormatRGBA8Unorm
	switch {
	case storage:
		if b.StorageFormat != gputypes.TextureFormatUndefined {
			format = b.StorageFormat
		}
	case b.SampleType == shader.SampleDepth:
		format = gputypes.TextureFormatDepth32Float
	case b.SampleType == shader.SampleSint:
		format = gputypes.TextureFormatRGBA8Sint
	case b.SampleType == shader.SampleUint:
		format = gputypes.TextureFormatRGBA8Uint
	}

	layers := uint32(1)
	if b.ViewDim == shader.ViewDimCube || b.ViewDim == shader.ViewDimCubeArray {
		layers = 6
	}
	dim := gputypes.TextureDimension2D
	switch b.ViewDim {
	case shader.ViewDim3D:
		dim = gputypes.TextureDimension3D
	case shader.ViewDim1D:
		dim = gputypes.TextureDimension1D
	}
	desc := &hal.TextureDescriptor{
		Label:         "default texture",
		Size:          hal.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: layers},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     dim,
		Format:        format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	}
	switch {
	case storage:
		desc.Usage = gputypes.TextureUsageStorageBinding
	case b.Multisampled:
		desc.SampleCount = 4
		desc.Usage = gputypes.TextureUsageTextureBinding | gputypes.TextureUsageRenderAttachment
	}

	tex, err := d.device.CreateTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("native: default texture: %w", err)
	}
	aspect := gputypes.TextureAspectAll
	if format.IsDepthStencil() {
		aspect = gputypes.TextureAspectDepthOnly
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:           "default texture",
		Format:          format,
		Dimension:       shaderViewDim(b.ViewDim),
		Aspect:          aspect,
		MipLevelCount:   1,
		ArrayLayerCount: layers,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return nil, fmt.Errorf("native: default texture view: %w", err)
	}
	if !storage && !b.Multisampled && b.SampleType == shader.SampleFloat {
		white := make([]byte, 4*layers)
		for i := range white {
			white[i] = 0xFF
		}
		err := d.queue.WriteTexture(&hal.ImageCopyTexture{Texture: tex}, white,
			&hal.ImageDataLayout{BytesPerRow: 4, RowsPerImage: 1},
			&hal.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: layers})
		if err != nil {
			d.device.DestroyTextureView(view)
			d.device.DestroyTexture(tex)
			return nil, fmt.Errorf("native: default texture upload: %w", err)
		}
	}
	df.textures[key] = defaultTexture{tex: tex, view: view}
	return view, nil
}

// bindingResource resolves the handle bound for b. Callers hold resMu.
func (d *Driver) bindingResource(b shader.Binding, id rhi.ResId) (gputypes.BindingResource, error) {
	switch b.Kind {
	case shader.BindingUniform, shader.BindingStorage, shader.BindingReadOnlyStorage:
		if !id.Valid() {
			return gputypes.BufferBinding{Buffer: d.defaults.buffer.NativeHandle(), Size: defaultBufferSize}, nil
		}
		buf, err := resolve(d.buffers, id)
		if err != nil {
			return nil, err
		}
		return gputypes.BufferBinding{Buffer: buf.buf.NativeHandle(), Size: buf.size}, nil

	case shader.BindingTexture, shader.BindingStorageTexture:
		if !id.Valid() {
			view, err := d.defaults.view(d, b)
			if err != nil {
				return nil, err
			}
			return gputypes.TextureViewBinding{TextureView: view.NativeHandle()}, nil
		}
		t, err := resolve(d.textures, id)
		if err != nil {
			return nil, err
		}
		view, flag := t.srv, rhi.BindShaderResource
		if b.Kind == shader.BindingStorageTexture {
			view, flag = t.uav, rhi.BindUnorderedAccess
		}
		if view == nil {
			return nil, missingFlag(id, t.desc.BindFlags, flag)
		}
		return gputypes.TextureViewBinding{TextureView: view.NativeHandle()}, nil

	case shader.BindingSampler, shader.BindingComparisonSampler:
		if !id.Valid() {
			smp := d.defaults.sampler
			if b.Kind == shader.BindingComparisonSampler {
				smp = d.defaults.compare
			}
			return gputypes.SamplerBinding{Sampler: smp.NativeHandle()}, nil
		}
		s, err := resolve(d.samplers, id)
		if err != nil {
			return nil, err
		}
		return gputypes.SamplerBinding{Sampler: s.smp.NativeHandle()}, nil
	}
	return nil, fmt.Errorf("native: binding %q has unknown kind %v", b.Name, b.Kind)
}

// bindGroupsFor returns one bind group per layout of prog, built from table.
// Callers hold resMu.
func (d *Driver) bindGroupsFor(prog *program, table *bindTable) ([]hal.BindGroup, error) {
	out := make([]hal.BindGroup, len(prog.groupLayouts))
	for g := range prog.groupLayouts {
		key := bindKey{program: prog.serial, group: uint8(g)}
		for _, b := range prog.groups[g] {
			key.res[b.Slot] = table[g][b.Slot]
		}
		bg, err := d.bindGroups.GetOrCreate(key, func() (hal.BindGroup, error) {
			entries := make([]gputypes.BindGroupEntry, 0, len(prog.groups[g]))
			for _, b := range prog.groups[g] {
				r, err := d.bindingResource(b, key.res[b.Slot])
				if err != nil {
					return nil, err
				}
				entries = append(entries, gputypes.BindGroupEntry{Binding: b.Slot, Resource: r})
			}
			return d.device.CreateBindGroup(&hal.BindGroupDescriptor{
				Label:   fmt.Sprintf("%s group %d", prog.label, g),
				Layout:  prog.groupLayouts[g],
				Entries: entries,
			})
		})
		if err != nil {
			return nil, err
		}
		out[g] = bg
	}
	return out, nil
}

func (d *Driver) createRenderPipeline(prog *program, key *pipecache.RenderKey, layout *inputLayout) (hal.RenderPipeline, error) {
	vs := prog.stages[rhi.StageVertex]
	if vs.module == nil {
		return nil, fmt.Errorf("native: %s has no vertex stage", prog.label)
	}
	desc := &hal.RenderPipelineDescriptor{
		Label:  prog.label,
		Layout: prog.layout,
		Vertex: hal.VertexState{Module: vs.module, EntryPoint: vs.entry},
		Primitive:    primitiveState(key.State.Rasterizer),
		DepthStencil: depthStencilState(key.State, key.DepthFormat),
		Multisample:  gputypes.MultisampleState{Count: key.SampleCount, Mask: 0xFFFFFFFF},
	}
	if layout != nil {
		desc.Vertex.Buffers = layout.buffers
	}
	if ps := prog.stages[rhi.StagePixel]; ps.module != nil {
		targets := make([]gputypes.ColorTargetState, key.NumColor)
		for i := range targets {
			targets[i] = colorTarget(key.State.Blend[i], key.ColorFormats[i])
		}
		desc.Fragment = &hal.FragmentState{Module: ps.module, EntryPoint: ps.entry, Targets: targets}
	}
	p, err := d.device.CreateRenderPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("native: render pipeline %s: %w", prog.label, err)
	}
	d.logger.Debug("native: render pipeline created", "program", prog.label, "serial", prog.serial,
		"targets", key.NumColor, "depth", key.DepthFormat)
	return p, nil
}

type boundBuffer struct {
	buf    hal.Buffer
	offset uint64
}

// passBindings tracks what the open render pass has bound.
type passBindings struct {
	pipeline    hal.RenderPipeline
	groups      [numGroups]hal.BindGroup
	vertex      [maxVertexBuffers]boundBuffer
	index       boundBuffer
	indexFormat gputypes.IndexFormat
}

type drawPlan struct {
	pipeline    hal.RenderPipeline
	groups      []hal.BindGroup
	vertex      [maxVertexBuffers]boundBuffer
	index       boundBuffer
	indexFormat gputypes.IndexFormat
}

func (d *Driver) resolveProgram(s *shaderSet, variant int) (*program, error) {
	fallback := d.errorSet
	if s.compute {
		fallback = d.errorCompute
	}
	v, substituted := s.set.Resolve(variant, fallback)
	if v == nil {
		return nil, fmt.Errorf("%w: %s variant %d is unusable", rhi.ErrNoShader, s.set.Desc().Path, variant)
	}
	if substituted {
		d.logger.Debug("native: drawing with error shader", "path", s.set.Desc().Path, "variant", variant)
	}
	return v.Module.(*program), nil
}

// resolveDraw builds the pipeline and bindings for the bound state.
func (d *Driver) resolveDraw(indexed bool) (*drawPlan, error) {
	st := &d.state
	if !st.shader.Valid() {
		return nil, rhi.ErrNoShader
	}
	if st.numColors == 0 && !st.depth.Valid() {
		return nil, ErrNoTargets
	}

	d.resMu.Lock()
	defer d.resMu.Unlock()

	set, err := resolve(d.shaders, st.shader)
	if err != nil {
		return nil, err
	}
	prog, err := d.resolveProgram(set, st.variant)
	if err != nil {
		return nil, err
	}

	key := pipecache.RenderKey{
		Program:     prog.serial,
		InputLayout: st.inputLayout,
		State:       rhi.DefaultRenderState(),
		NumColor:    uint8(st.numColors),
		SampleCount: 1,
	}
	if st.renderState.Valid() {
		rs, err := resolve(d.states, st.renderState)
		if err != nil {
			return nil, err
		}
		key.State = rs.desc
	}
	var layout *inputLayout
	if st.inputLayout.Valid() {
		if layout, err = resolve(d.layouts, st.inputLayout); err != nil {
			return nil, err
		}
	}
	for i, id := range st.targets() {
		t, err := resolve(d.textures, id)
		if err != nil {
			return nil, err
		}
		key.ColorFormats[i] = t.desc.Format
		key.SampleCount = t.desc.SampleCount
	}
	if st.depth.Valid() {
		t, err := resolve(d.textures, st.depth)
		if err != nil {
			return nil, err
		}
		key.DepthFormat = t.desc.Format
		key.SampleCount = t.desc.SampleCount
	}

	pipe, err := d.renderPipelines.GetOrCreate(key, func() (hal.RenderPipeline, error) {
		return d.createRenderPipeline(prog, &key, layout)
	})
	if err != nil {
		return nil, err
	}
	plan := &drawPlan{pipeline: pipe}
	if plan.groups, err = d.bindGroupsFor(prog, &st.graphics); err != nil {
		return nil, err
	}

	if layout != nil {
		for slot, l := range layout.buffers {
			if l.StepMode == gputypes.VertexStepModeVertexBufferNotUsed {
				continue
			}
			vb := st.vertex[slot]
			if !vb.id.Valid() {
				return nil, fmt.Errorf("%w: input layout reads vertex slot %d but no buffer is bound", rhi.ErrInvalidDesc, slot)
			}
			b, err := resolve(d.buffers, vb.id)
			if err != nil {
				return nil, err
			}
			plan.vertex[slot] = boundBuffer{buf: b.buf, offset: vb.offset}
		}
	}
	if indexed {
		if !st.index.id.Valid() {
			return nil, fmt.Errorf("%w: indexed draw without an index buffer", rhi.ErrInvalidDesc)
		}
		b, err := resolve(d.buffers, st.index.id)
		if err != nil {
			return nil, err
		}
		plan.index = boundBuffer{buf: b.buf, offset: st.index.offset}
		plan.indexFormat = st.indexFormat
	}
	return plan, nil
}

// prepareDraw opens the render pass if needed and applies the bound state.
// Callers hold ctxMu.
func (d *Driver) prepareDraw(indexed bool) (hal.RenderPassEncoder, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if !d.frame.active {
		return nil, rhi.ErrNoFrame
	}
	plan, err := d.resolveDraw(indexed)
	if err != nil {
		return nil, fail(err)
	}
	pass, err := d.ensurePass()
	if err != nil {
		return nil, fail(err)
	}

	b := &d.frame.bound
	if b.pipeline != plan.pipeline {
		pass.SetPipeline(plan.pipeline)
		b.pipeline = plan.pipeline
	}
	for i, g := range plan.groups {
		if b.groups[i] != g {
			pass.SetBindGroup(uint32(i), g, nil)
			b.groups[i] = g
		}
	}
	for slot, vb := range plan.vertex {
		if vb.buf != nil && b.vertex[slot] != vb {
			pass.SetVertexBuffer(uint32(slot), vb.buf, vb.offset)
			b.vertex[slot] = vb
		}
	}
	if indexed && (b.index != plan.index || b.indexFormat != plan.indexFormat) {
		pass.SetIndexBuffer(plan.index.buf, plan.indexFormat, plan.index.offset)
		b.index = plan.index
		b.indexFormat = plan.indexFormat
	}
	d.frame.draws++
	return pass, nil
}

// Draw draws non-indexed vertices.
func (d *Driver) Draw(vertexCount, firstVertex uint32) error {
	return d.DrawInstanced(vertexCount, 1, firstVertex, 0)
}

// DrawInstanced draws non-indexed instances.
func (d *Driver) DrawInstanced(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	pass, err := d.prepareDraw(false)
	if err != nil {
		return err
	}
	pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	return nil
}

// DrawIndexed draws indexed vertices.
func (d *Driver) DrawIndexed(indexCount, firstIndex uint32, baseVertex int32) error {
	return d.DrawIndexedInstanced(indexCount, 1, firstIndex, baseVertex, 0)
}

// DrawIndexedInstanced draws indexed instances.
func (d *Driver) DrawIndexedInstanced(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	pass, err := d.prepareDraw(true)
	if err != nil {
		return err
	}
	pass.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	return nil
}

type dispatchPlan struct {
	label    string
	pipeline hal.ComputePipeline
	groups   []hal.BindGroup
}

func (d *Driver) resolveDispatch() (*dispatchPlan, error) {
	st := &d.state
	d.resMu.Lock()
	defer d.resMu.Unlock()

	set, err := resolve(d.shaders, st.computeShader)
	if err != nil {
		return nil, err
	}
	prog, err := d.resolveProgram(set, st.computeVariant)
	if err != nil {
		return nil, err
	}
	pipe, err := d.computePipelines.GetOrCreate(pipecache.ComputeKey{Program: prog.serial}, func() (hal.ComputePipeline, error) {
		cs := prog.stages[rhi.StageCompute]
		if cs.module == nil {
			return nil, fmt.Errorf("native: %s has no compute stage", prog.label)
		}
		p, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:   prog.label,
			Layout:  prog.layout,
			Compute: hal.ComputeState{Module: cs.module, EntryPoint: cs.entry},
		})
		if err != nil {
			return nil, fmt.Errorf("native: compute pipeline %s: %w", prog.label, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	plan := &dispatchPlan{label: prog.label, pipeline: pipe}
	if plan.groups, err = d.bindGroupsFor(prog, &st.compute); err != nil {
		return nil, err
	}
	return plan, nil
}

// Dispatch runs the bound compute shader. Inside a frame the work is
// recorded into the frame's command list; otherwise it is submitted on the
// compute queue right away.
func (d *Driver) Dispatch(x, y, z uint32) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	if !d.state.computeShader.Valid() {
		return rhi.ErrNoShader
	}

	d.beginRecording()
	defer d.endRecording()
	plan, err := d.resolveDispatch()
	if err != nil {
		return fail(err)
	}

	if d.frame.active {
		d.endPass()
		recordDispatch(d.frame.list.Encoder(), plan, x, y, z)
		return nil
	}
	q := d.queues.Compute()
	l, err := q.GetCommandList("dispatch")
	if err != nil {
		return err
	}
	recordDispatch(l.Encoder(), plan, x, y, z)
	_, err = q.ExecuteCommandList(l)
	return err
}

func recordDispatch(enc hal.CommandEncoder, plan *dispatchPlan, x, y, z uint32) {
	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: plan.label})
	pass.SetPipeline(plan.pipeline)
	for i, g := range plan.groups {
		pass.SetBindGroup(uint32(i), g, nil)
	}
	pass.Dispatch(x, y, z)
	pass.End()
}
