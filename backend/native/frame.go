// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/submit"
)

type depthClear struct {
	depth   float32
	stencil uint32
}

// frameState is the command list of the frame being recorded.
type frameState struct {
	active bool
	list   *submit.CommandList
	pass   hal.RenderPassEncoder
	bound  passBindings

	clearColor map[rhi.ResId]gputypes.Color
	clearDepth map[rhi.ResId]depthClear
	draws      int
}

// swapchain owns the backbuffers. With a surface there is one backbuffer
// handle whose texture is swapped for each acquired surface image;
// offscreen there is one texture per frame in flight. Handles stay valid
// across Resize.
type swapchain struct {
	width, height uint32
	color         []rhi.ResId
	depth         rhi.ResId

	// slot indexes fences, one per frame in flight.
	slot   int
	fences []uint64

	acquired    *hal.AcquiredSurfaceTexture
	configured  bool
	lastPresent time.Time

	reconfigure atomic.Bool
	frames      atomic.Uint64
}

func (s *swapchain) colorDesc(d *Driver, i int) rhi.TextureDesc {
	flags := rhi.BindRenderTarget
	if d.cfg.surface == nil {
		flags |= rhi.BindShaderResource
	}
	return rhi.TextureDesc{
		Label:     fmt.Sprintf("backbuffer %d", i),
		Width:     s.width,
		Height:    s.height,
		Format:    d.cfg.colorFormat,
		BindFlags: flags,
	}.Normalized()
}

func (s *swapchain) depthDesc(d *Driver) rhi.TextureDesc {
	return rhi.TextureDesc{
		Label:     "depth buffer",
		Width:     s.width,
		Height:    s.height,
		Format:    d.cfg.depthFormat,
		BindFlags: rhi.BindDepthStencil,
	}.Normalized()
}

func (s *swapchain) configure(d *Driver) error {
	err := d.cfg.surface.Configure(d.device, &hal.SurfaceConfiguration{
		Width:       s.width,
		Height:      s.height,
		Format:      d.cfg.colorFormat,
		Usage:       gputypes.TextureUsageRenderAttachment,
		PresentMode: presentMode(d.Settings().VSync),
		AlphaMode:   gputypes.CompositeAlphaModeOpaque,
	})
	if err != nil {
		return fmt.Errorf("native: configure surface: %w", err)
	}
	s.configured = true
	return nil
}

func (s *swapchain) create(d *Driver, width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: backbuffer size %dx%d", rhi.ErrInvalidDesc, width, height)
	}
	s.width, s.height = width, height
	s.fences = make([]uint64, d.cfg.backbufferCount)

	if d.cfg.surface != nil {
		if err := s.configure(d); err != nil {
			return err
		}
		id, err := d.registerTexture(&texture{desc: s.colorDesc(d, 0), external: true, owned: true})
		if err != nil {
			return err
		}
		s.color = []rhi.ResId{id}
	} else {
		for i := range d.cfg.backbufferCount {
			t, err := d.createTexture(s.colorDesc(d, i))
			if err != nil {
				return err
			}
			t.owned = true
			id, err := d.registerTexture(t)
			if err != nil {
				return err
			}
			s.color = append(s.color, id)
		}
	}

	if d.cfg.depthFormat != gputypes.TextureFormatUndefined {
		t, err := d.createTexture(s.depthDesc(d))
		if err != nil {
			return err
		}
		t.owned = true
		if s.depth, err = d.registerTexture(t); err != nil {
			return err
		}
	}
	d.logger.Debug("native: backbuffers created", "width", width, "height", height,
		"count", len(s.color), "surface", d.cfg.surface != nil)
	return nil
}

// replace swaps the texture behind id for next.
func (s *swapchain) replace(d *Driver, id rhi.ResId, next *texture) error {
	d.resMu.Lock()
	old, err := d.textures.Replace(id, next)
	if err == nil {
		d.evictBindGroups(id)
	}
	d.resMu.Unlock()
	if err != nil {
		next.destroy(d.device)
		return err
	}
	d.retire(func() { old.destroy(d.device) })
	return nil
}

// resize follows the flush, release, resize, recreate order: the native
// textures and views behind every handle are destroyed before the surface
// is reconfigured and before any new-size texture exists. The caller has
// flushed every queue.
func (s *swapchain) resize(d *Driver, width, height uint32) error {
	s.discard(d)
	s.release(d)
	s.width, s.height = width, height
	if d.cfg.surface != nil {
		if err := s.configure(d); err != nil {
			return err
		}
	}
	for i, id := range s.color {
		var next *texture
		if d.cfg.surface != nil {
			next = &texture{desc: s.colorDesc(d, i), external: true}
		} else {
			t, err := d.createTexture(s.colorDesc(d, i))
			if err != nil {
				return err
			}
			next = t
		}
		next.owned = true
		if err := s.replace(d, id, next); err != nil {
			return err
		}
	}
	if s.depth.Valid() {
		t, err := d.createTexture(s.depthDesc(d))
		if err != nil {
			return err
		}
		t.owned = true
		if err := s.replace(d, s.depth, t); err != nil {
			return err
		}
	}
	return nil
}

// release destroys the native objects behind the backbuffers and the depth
// buffer at once, leaving empty textures in their slots so the handles
// survive. The GPU must be idle.
func (s *swapchain) release(d *Driver) {
	ids := slices.Clone(s.color)
	if s.depth.Valid() {
		ids = append(ids, s.depth)
	}
	d.resMu.Lock()
	defer d.resMu.Unlock()
	for _, id := range ids {
		old, ok := d.textures.Lookup(id)
		if !ok {
			continue
		}
		empty := &texture{desc: old.desc, external: old.external, owned: true}
		if _, err := d.textures.Replace(id, empty); err != nil {
			continue
		}
		d.evictBindGroups(id)
		old.destroy(d.device)
	}
}

// discard gives an acquired but unpresented surface image back.
func (s *swapchain) discard(d *Driver) {
	if s.acquired == nil {
		return
	}
	d.cfg.surface.DiscardTexture(s.acquired.Texture)
	s.acquired = nil
}

func (s *swapchain) destroy(d *Driver) {
	s.discard(d)
	d.resMu.Lock()
	for _, id := range append(slices.Clone(s.color), s.depth) {
		if t, err := d.textures.Unregister(id); err == nil {
			t.destroy(d.device)
		}
	}
	d.resMu.Unlock()
	s.color, s.depth = nil, rhi.BadResID
	if s.configured {
		d.cfg.surface.Unconfigure(d.device)
		s.configured = false
	}
}

// acquire installs the next surface image behind the backbuffer handle.
func (s *swapchain) acquire(d *Driver) error {
	surface := d.cfg.surface
	if surface == nil {
		return nil
	}
	if s.reconfigure.Swap(false) {
		if err := s.configure(d); err != nil {
			return err
		}
	}
	acq, err := surface.AcquireTexture(nil)
	if err != nil {
		return fmt.Errorf("native: acquire surface texture: %w", err)
	}
	if acq.Suboptimal {
		d.logger.Debug("native: surface suboptimal, reconfiguring next frame")
		s.reconfigure.Store(true)
	}
	view, err := d.device.CreateTextureView(acq.Texture, &hal.TextureViewDescriptor{
		Label:           "backbuffer",
		Format:          d.cfg.colorFormat,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		surface.DiscardTexture(acq.Texture)
		return fmt.Errorf("native: backbuffer view: %w", err)
	}
	next := &texture{desc: s.colorDesc(d, 0), tex: acq.Texture, rtv: view, external: true, owned: true}
	if err := s.replace(d, s.color[0], next); err != nil {
		surface.DiscardTexture(acq.Texture)
		return err
	}
	s.acquired = acq
	return nil
}

// limitFPS sleeps so Present calls are at least 1/FPSLimit apart when
// VSync is off.
func (s *swapchain) limitFPS(d *Driver) {
	set := d.Settings()
	now := d.cfg.now()
	if !set.VSync && set.FPSLimit > 0 && !s.lastPresent.IsZero() {
		interval := time.Second / time.Duration(set.FPSLimit)
		if wait := s.lastPresent.Add(interval).Sub(now); wait > 0 {
			d.cfg.sleep(wait)
			now = now.Add(wait)
		}
	}
	s.lastPresent = now
}

// BeginFrame opens the frame's command list and binds the backbuffer and
// depth buffer as render targets.
func (d *Driver) BeginFrame() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	if d.frame.active {
		return ErrFrameActive
	}

	d.applyShaderChanges()
	d.queues.CollectAll()
	if err := d.swap.acquire(d); err != nil {
		return err
	}

	d.beginRecording()
	list, err := d.queues.Direct().GetCommandList("frame")
	if err != nil {
		d.endRecording()
		d.swap.discard(d)
		return err
	}
	d.frame = frameState{
		active:     true,
		list:       list,
		clearColor: make(map[rhi.ResId]gputypes.Color),
		clearDepth: make(map[rhi.ResId]depthClear),
	}
	d.state.colors = [rhi.MaxRenderTargets]rhi.ResId{d.backbuffer()}
	d.state.numColors = 1
	d.state.depth = d.swap.depth
	d.state.hasViewport = false
	d.state.hasScissor = false
	return nil
}

// EndFrame ends the open pass and submits the frame on the direct queue.
func (d *Driver) EndFrame() error {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	if !d.frame.active {
		return rhi.ErrNoFrame
	}
	d.endPass()
	v, err := d.queues.Direct().ExecuteCommandList(d.frame.list)
	draws := d.frame.draws
	d.frame = frameState{}
	d.endRecording()
	if err != nil {
		return fmt.Errorf("native: submit frame: %w", err)
	}
	d.swap.fences[d.swap.slot] = v
	d.logger.Debug("native: frame submitted", "fence", v, "draws", draws)
	return nil
}

// Present shows the frame and advances to the next backbuffer, waiting
// until the GPU has finished the frame that last used it.
func (d *Driver) Present() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	if d.frame.active {
		return ErrFrameActive
	}

	s := &d.swap
	if acq := s.acquired; acq != nil {
		s.acquired = nil
		if err := d.queue.Present(d.cfg.surface, acq.Texture, nil); err != nil {
			return fmt.Errorf("native: present: %w", err)
		}
	}
	s.limitFPS(d)

	s.slot = (s.slot + 1) % len(s.fences)
	if v := s.fences[s.slot]; v > 0 {
		if err := d.queues.Direct().WaitForFenceValue(v); err != nil {
			return err
		}
	}
	d.queues.CollectAll()
	s.frames.Add(1)
	return nil
}

func (d *Driver) backbuffer() rhi.ResId {
	if len(d.swap.color) == 0 {
		return rhi.BadResID
	}
	return d.swap.color[d.swap.slot%len(d.swap.color)]
}

// Backbuffer is the color target of the current frame.
func (d *Driver) Backbuffer() rhi.ResId {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	return d.backbuffer()
}

// DepthBuffer is the default depth target, or BadResID when the driver
// was opened without a depth format.
func (d *Driver) DepthBuffer() rhi.ResId {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	return d.swap.depth
}

// Resize recreates the backbuffers and depth buffer. Their handles do not
// change. It must be called between frames.
func (d *Driver) Resize(width, height uint32) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: resize to %dx%d", rhi.ErrInvalidDesc, width, height)
	}
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	if d.frame.active {
		return ErrFrameActive
	}
	if width == d.swap.width && height == d.swap.height {
		return nil
	}
	if err := d.queues.FlushAll(); err != nil {
		return err
	}
	if err := d.swap.resize(d, width, height); err != nil {
		return err
	}
	d.queues.CollectAll()
	d.logger.Info("native: resized", "width", width, "height", height)
	return nil
}

// abortFrame drops the frame being recorded. Callers hold ctxMu.
func (d *Driver) abortFrame() {
	d.endPass()
	if err := d.queues.Direct().Discard(d.frame.list); err != nil {
		d.logger.Warn("native: discard frame", "err", err)
	}
	d.frame = frameState{}
	d.endRecording()
	d.swap.discard(d)
}

// ensurePass opens a render pass on the bound targets, applying pending
// clears. Callers hold ctxMu.
func (d *Driver) ensurePass() (hal.RenderPassEncoder, error) {
	if d.frame.pass != nil {
		return d.frame.pass, nil
	}
	st := &d.state
	if st.numColors == 0 && !st.depth.Valid() {
		return nil, ErrNoTargets
	}

	desc := &hal.RenderPassDescriptor{Label: "frame"}
	var width, height uint32
	d.resMu.Lock()
	for _, id := range st.targets() {
		t, err := resolve(d.textures, id)
		if err == nil && t.rtv == nil {
			err = missingFlag(id, t.desc.BindFlags, rhi.BindRenderTarget)
		}
		if err != nil {
			d.resMu.Unlock()
			return nil, err
		}
		att := hal.RenderPassColorAttachment{View: t.rtv, LoadOp: gputypes.LoadOpLoad, StoreOp: gputypes.StoreOpStore}
		if c, ok := d.frame.clearColor[id]; ok {
			att.LoadOp = gputypes.LoadOpClear
			att.ClearValue = c
			delete(d.frame.clearColor, id)
		}
		desc.ColorAttachments = append(desc.ColorAttachments, att)
		if width == 0 {
			width, height = t.desc.Width, t.desc.Height
		}
	}
	if st.depth.Valid() {
		t, err := resolve(d.textures, st.depth)
		if err == nil && t.dsv == nil {
			err = missingFlag(st.depth, t.desc.BindFlags, rhi.BindDepthStencil)
		}
		if err != nil {
			d.resMu.Unlock()
			return nil, err
		}
		att := &hal.RenderPassDepthStencilAttachment{
			View:         t.dsv,
			DepthLoadOp:  gputypes.LoadOpLoad,
			DepthStoreOp: gputypes.StoreOpStore,
		}
		c, clear := d.frame.clearDepth[st.depth]
		if clear {
			att.DepthLoadOp = gputypes.LoadOpClear
			att.DepthClearValue = c.depth
			delete(d.frame.clearDepth, st.depth)
		}
		if t.desc.Format.HasStencil() {
			att.StencilLoadOp = gputypes.LoadOpLoad
			att.StencilStoreOp = gputypes.StoreOpStore
			if clear {
				att.StencilLoadOp = gputypes.LoadOpClear
				att.StencilClearValue = c.stencil
			}
		}
		desc.DepthStencilAttachment = att
		if width == 0 {
			width, height = t.desc.Width, t.desc.Height
		}
	}
	d.resMu.Unlock()

	pass := d.frame.list.Encoder().BeginRenderPass(desc)
	d.frame.pass = pass
	d.frame.bound = passBindings{}

	vp := rhi.Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1}
	if st.hasViewport {
		vp = st.viewport
	}
	pass.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
	if st.hasScissor {
		pass.SetScissorRect(st.scissor.X, st.scissor.Y, st.scissor.Width, st.scissor.Height)
	}
	return pass, nil
}

// endPass closes the open render pass. Callers hold ctxMu.
func (d *Driver) endPass() {
	if d.frame.pass == nil {
		return
	}
	d.frame.pass.End()
	d.frame.pass = nil
	d.frame.bound = passBindings{}
}

// clearPass applies pending clears. A bound target is cleared by reopening
// the frame's pass; any other target gets a pass of its own.
func (d *Driver) clearPass(bound bool, colors []rhi.ResId, depth rhi.ResId) error {
	if bound {
		_, err := d.ensurePass()
		return err
	}
	saved := d.state
	d.state.colors = [rhi.MaxRenderTargets]rhi.ResId{}
	d.state.numColors = copy(d.state.colors[:], colors)
	d.state.depth = depth
	d.state.hasViewport = false
	d.state.hasScissor = false
	_, err := d.ensurePass()
	d.endPass()
	d.state = saved
	return err
}

func (d *Driver) clearPrecheck(op string, id rhi.ResId, flag rhi.BindFlags) bool {
	if !id.Valid() {
		rhi.Fatal(fmt.Errorf("%w: %s of %v", rhi.ErrInvalidHandle, op, id))
		return false
	}
	return d.checkTexture(id, flag)
}

func (d *Driver) reportClear(op string, err error) {
	if err = fail(err); err != nil && !isPrecondition(err) {
		d.logger.Error("native: clear failed", "op", op, "err", err)
	}
}

// ClearRenderTarget clears a color target to color. It must be called
// inside a frame.
func (d *Driver) ClearRenderTarget(id rhi.ResId, color gputypes.Color) {
	if !d.clearPrecheck("ClearRenderTarget", id, rhi.BindRenderTarget) {
		return
	}
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	if !d.frame.active {
		rhi.Fatal(fmt.Errorf("%w: ClearRenderTarget", rhi.ErrNoFrame))
		return
	}
	d.endPass()
	d.frame.clearColor[id] = color
	err := d.clearPass(slices.Contains(d.state.targets(), id), []rhi.ResId{id}, rhi.BadResID)
	delete(d.frame.clearColor, id)
	d.reportClear("ClearRenderTarget", err)
}

// ClearDepthStencil clears a depth target, and its stencil when the format
// has one. It must be called inside a frame.
func (d *Driver) ClearDepthStencil(id rhi.ResId, depth float32, stencil uint32) {
	if !d.clearPrecheck("ClearDepthStencil", id, rhi.BindDepthStencil) {
		return
	}
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	if !d.frame.active {
		rhi.Fatal(fmt.Errorf("%w: ClearDepthStencil", rhi.ErrNoFrame))
		return
	}
	d.endPass()
	d.frame.clearDepth[id] = depthClear{depth: depth, stencil: stencil}
	err := d.clearPass(d.state.depth == id, nil, id)
	delete(d.frame.clearDepth, id)
	d.reportClear("ClearDepthStencil", err)
}
