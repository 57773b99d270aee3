// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/registry"
	"github.com/gogpu/rhi/textureio"
)

type texture struct {
	desc rhi.TextureDesc
	tex  hal.Texture
	srv  hal.TextureView
	rtv  hal.TextureView
	dsv  hal.TextureView
	uav  hal.TextureView
	// external textures belong to a surface; only the views are ours.
	external bool
	// owned textures are backbuffers and may not be destroyed by callers.
	owned bool
}

func (t *texture) destroy(dev hal.Device) {
	for _, v := range []hal.TextureView{t.srv, t.rtv, t.dsv, t.uav} {
		if v != nil {
			dev.DestroyTextureView(v)
		}
	}
	if t.tex != nil && !t.external {
		dev.DestroyTexture(t.tex)
	}
}

type buffer struct {
	desc rhi.BufferDesc
	buf  hal.Buffer
	// size is the allocated size, desc.ByteSize rounded up.
	size uint64
}

type sampler struct {
	desc rhi.SamplerDesc
	smp  hal.Sampler
}

type renderState struct {
	desc rhi.RenderStateDesc
}

type inputLayout struct {
	desc    rhi.InputLayoutDesc
	buffers []gputypes.VertexBufferLayout
}

// resolve looks id up in r and explains a miss. Callers hold resMu.
func resolve[T any](r *registry.Registry[T], id rhi.ResId) (T, error) {
	v, ok := r.Lookup(id)
	if ok {
		return v, nil
	}
	if !id.Valid() {
		return v, fmt.Errorf("%w: %v", rhi.ErrInvalidHandle, id)
	}
	if k := registry.KindOf(id); k != r.Kind() {
		return v, fmt.Errorf("%w: %v is a %v, want %v", rhi.ErrWrongKind, id, k, r.Kind())
	}
	return v, fmt.Errorf("%w: %v", rhi.ErrInvalidHandle, id)
}

// isPrecondition reports whether err is a caller bug routed to rhi.Fatal.
func isPrecondition(err error) bool {
	return errors.Is(err, rhi.ErrInvalidHandle) ||
		errors.Is(err, rhi.ErrWrongKind) ||
		errors.Is(err, rhi.ErrMissingBindFlag)
}

// fail reports precondition violations through rhi.Fatal and returns err.
func fail(err error) error {
	if err != nil && isPrecondition(err) {
		rhi.Fatal(err)
	}
	return err
}

func missingFlag(id rhi.ResId, have, want rhi.BindFlags) error {
	return fmt.Errorf("%w: %v has %v, needs %v", rhi.ErrMissingBindFlag, id, have, want)
}

func (d *Driver) createTexture(desc rhi.TextureDesc) (*texture, error) {
	tex, err := d.device.CreateTexture(textureDescriptor(desc))
	if err != nil {
		return nil, fmt.Errorf("native: create texture %q: %w", desc.Label, err)
	}
	t := &texture{desc: desc, tex: tex}

	layers := desc.DepthOrLayers
	if desc.Dimension == rhi.Texture3D {
		layers = 1
	}
	aspect := gputypes.TextureAspectAll
	if desc.Format.IsDepthStencil() {
		aspect = gputypes.TextureAspectDepthOnly
	}
	view := func(label string, dim gputypes.TextureViewDimension, mips, arrayLayers uint32, aspect gputypes.TextureAspect) (hal.TextureView, error) {
		return d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
			Label:           desc.Label + " " + label,
			Format:          desc.Format,
			Dimension:       dim,
			Aspect:          aspect,
			MipLevelCount:   mips,
			ArrayLayerCount: arrayLayers,
		})
	}

	if desc.BindFlags.Has(rhi.BindShaderResource) {
		if t.srv, err = view("srv", sampledViewDim(desc), desc.MipLevels, layers, aspect); err != nil {
			t.destroy(d.device)
			return nil, fmt.Errorf("native: texture %q view: %w", desc.Label, err)
		}
	}
	if desc.BindFlags.Has(rhi.BindUnorderedAccess) {
		if t.uav, err = view("uav", sampledViewDim(desc), 1, layers, gputypes.TextureAspectAll); err != nil {
			t.destroy(d.device)
			return nil, fmt.Errorf("native: texture %q view: %w", desc.Label, err)
		}
	}
	if desc.BindFlags.Has(rhi.BindRenderTarget) {
		if t.rtv, err = view("rtv", gputypes.TextureViewDimension2D, 1, 1, gputypes.TextureAspectAll); err != nil {
			t.destroy(d.device)
			return nil, fmt.Errorf("native: texture %q view: %w", desc.Label, err)
		}
	}
	if desc.BindFlags.Has(rhi.BindDepthStencil) {
		if t.dsv, err = view("dsv", gputypes.TextureViewDimension2D, 1, 1, gputypes.TextureAspectAll); err != nil {
			t.destroy(d.device)
			return nil, fmt.Errorf("native: texture %q view: %w", desc.Label, err)
		}
	}
	return t, nil
}

// mipBytes is the size of one mip level over every layer.
func mipBytes(desc rhi.TextureDesc, level uint32) (uint64, error) {
	bpp := bytesPerBlock(desc.Format)
	if bpp == 0 {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, desc.Format)
	}
	w, h := max(1, desc.Width>>level), max(1, desc.Height>>level)
	depth := desc.DepthOrLayers
	if desc.Dimension == rhi.Texture3D {
		depth = max(1, depth>>level)
	}
	return uint64(w) * uint64(h) * uint64(depth) * uint64(bpp), nil
}

func (d *Driver) writeMip(t *texture, level uint32, data []byte) error {
	desc := t.desc
	w, h := max(1, desc.Width>>level), max(1, desc.Height>>level)
	depth := desc.DepthOrLayers
	if desc.Dimension == rhi.Texture3D {
		depth = max(1, depth>>level)
	}
	bpp := bytesPerBlock(desc.Format)
	err := d.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: t.tex, MipLevel: level, Aspect: gputypes.TextureAspectAll},
		data,
		&hal.ImageDataLayout{BytesPerRow: w * bpp, RowsPerImage: h},
		&hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: depth},
	)
	if err != nil {
		return fmt.Errorf("native: write texture %q mip %d: %w", desc.Label, level, err)
	}
	return nil
}

// upload writes data as mip 0, or as the whole mip chain when data covers it.
func (d *Driver) upload(t *texture, data []byte) error {
	if t.desc.SampleCount > 1 {
		return fmt.Errorf("%w: multisampled texture %q cannot take initial data", rhi.ErrInvalidDesc, t.desc.Label)
	}
	sizes := make([]uint64, t.desc.MipLevels)
	var total uint64
	for i := range sizes {
		n, err := mipBytes(t.desc, uint32(i))
		if err != nil {
			return err
		}
		sizes[i] = n
		total += n
	}
	switch uint64(len(data)) {
	case sizes[0]:
		return d.writeMip(t, 0, data)
	case total:
		var off uint64
		for i, n := range sizes {
			if err := d.writeMip(t, uint32(i), data[off:off+n]); err != nil {
				return err
			}
			off += n
		}
		return nil
	}
	return fmt.Errorf("%w: texture %q got %d bytes, mip 0 is %d and the chain %d",
		ErrDataSize, t.desc.Label, len(data), sizes[0], total)
}

// CreateTexture creates a texture and its views. data, when not nil, is mip
// 0 or the whole mip chain, tightly packed.
func (d *Driver) CreateTexture(desc rhi.TextureDesc, data []byte) (rhi.ResId, error) {
	if err := d.checkOpen(); err != nil {
		return rhi.BadResID, err
	}
	if err := desc.Validate(); err != nil {
		return rhi.BadResID, err
	}
	desc = desc.Normalized()
	t, err := d.createTexture(desc)
	if err != nil {
		return rhi.BadResID, err
	}
	if data != nil {
		if err := d.upload(t, data); err != nil {
			t.destroy(d.device)
			return rhi.BadResID, err
		}
	}
	return d.registerTexture(t)
}

func (d *Driver) registerTexture(t *texture) (rhi.ResId, error) {
	d.resMu.Lock()
	id, err := d.textures.Register(t)
	d.resMu.Unlock()
	if err != nil {
		t.destroy(d.device)
		return rhi.BadResID, err
	}
	d.logger.Debug("native: texture created", "id", id, "label", t.desc.Label,
		"size", fmt.Sprintf("%dx%d", t.desc.Width, t.desc.Height), "format", t.desc.Format)
	return id, nil
}

// LoadTexture decodes path from the texture file system with a full mip
// chain. When decoding fails it logs, creates the fallback placeholder and
// returns its handle together with the *textureio.DecodeError.
func (d *Driver) LoadTexture(path string, fallback rhi.Placeholder) (rhi.ResId, error) {
	img, decodeErr := textureio.Load(d.cfg.textureFS, path)
	if decodeErr != nil {
		d.logger.Warn("native: texture load failed, using placeholder", "path", path, "err", decodeErr)
		img = textureio.Placeholder(fallback)
	} else {
		textureio.GenerateMips(img, 0)
	}
	id, err := d.CreateTexture(img.Desc(path), slices.Concat(img.Levels...))
	if err != nil {
		return rhi.BadResID, err
	}
	return id, decodeErr
}

func (d *Driver) createBuffer(desc rhi.BufferDesc) (*buffer, error) {
	size := bufferSize(desc)
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: bufferUsage(desc),
	})
	if err != nil {
		return nil, fmt.Errorf("native: create buffer %q: %w", desc.Label, err)
	}
	return &buffer{desc: desc, buf: buf, size: size}, nil
}

func (d *Driver) writeBuffer(b *buffer, offset uint64, data []byte) error {
	if offset%copyAlign != 0 {
		return fmt.Errorf("%w: buffer %q offset %d not a multiple of %d", rhi.ErrInvalidDesc, b.desc.Label, offset, copyAlign)
	}
	if offset+uint64(len(data)) > b.desc.ByteSize() {
		return fmt.Errorf("%w: buffer %q write of %d bytes at %d exceeds %d",
			ErrDataSize, b.desc.Label, len(data), offset, b.desc.ByteSize())
	}
	if pad := alignUp(uint64(len(data)), copyAlign) - uint64(len(data)); pad > 0 {
		data = append(slices.Clip(data), make([]byte, pad)...)
	}
	if err := d.queue.WriteBuffer(b.buf, offset, data); err != nil {
		return fmt.Errorf("native: write buffer %q: %w", b.desc.Label, err)
	}
	return nil
}

// CreateBuffer creates a buffer. Constant buffers are allocated in 256-byte
// steps; BufferDesc reports the requested size.
func (d *Driver) CreateBuffer(desc rhi.BufferDesc, data []byte) (rhi.ResId, error) {
	if err := d.checkOpen(); err != nil {
		return rhi.BadResID, err
	}
	if err := desc.Validate(); err != nil {
		return rhi.BadResID, err
	}
	b, err := d.createBuffer(desc)
	if err != nil {
		return rhi.BadResID, err
	}
	if len(data) > 0 {
		if err := d.writeBuffer(b, 0, data); err != nil {
			d.device.DestroyBuffer(b.buf)
			return rhi.BadResID, err
		}
	}
	d.resMu.Lock()
	id, err := d.buffers.Register(b)
	d.resMu.Unlock()
	if err != nil {
		d.device.DestroyBuffer(b.buf)
		return rhi.BadResID, err
	}
	d.logger.Debug("native: buffer created", "id", id, "label", desc.Label, "size", b.size, "flags", desc.BindFlags)
	return id, nil
}

// CreateSampler creates a sampler. Anisotropic samplers without a level use
// the Anisotropy setting.
func (d *Driver) CreateSampler(desc rhi.SamplerDesc) (rhi.ResId, error) {
	if err := d.checkOpen(); err != nil {
		return rhi.BadResID, err
	}
	smp, err := d.device.CreateSampler(samplerDescriptor(desc, d.Settings().Anisotropy))
	if err != nil {
		return rhi.BadResID, fmt.Errorf("native: create sampler: %w", err)
	}
	d.resMu.Lock()
	id, err := d.samplers.Register(&sampler{desc: desc, smp: smp})
	d.resMu.Unlock()
	if err != nil {
		d.device.DestroySampler(smp)
		return rhi.BadResID, err
	}
	return id, nil
}

// CreateRenderState registers fixed-function state. Pipelines are built
// lazily from it at draw time.
func (d *Driver) CreateRenderState(desc rhi.RenderStateDesc) (rhi.ResId, error) {
	if err := d.checkOpen(); err != nil {
		return rhi.BadResID, err
	}
	d.resMu.Lock()
	defer d.resMu.Unlock()
	return d.states.Register(&renderState{desc: desc})
}

// CreateInputLayout registers a vertex input description.
func (d *Driver) CreateInputLayout(desc rhi.InputLayoutDesc) (rhi.ResId, error) {
	if err := d.checkOpen(); err != nil {
		return rhi.BadResID, err
	}
	if err := desc.Validate(); err != nil {
		return rhi.BadResID, err
	}
	l := &inputLayout{desc: desc, buffers: vertexLayouts(desc)}
	d.resMu.Lock()
	defer d.resMu.Unlock()
	return d.layouts.Register(l)
}

// DestroyResource releases id. Native objects are destroyed once the GPU has
// finished every submission that may use them.
func (d *Driver) DestroyResource(id rhi.ResId) {
	if d.closed.Load() {
		return
	}
	_ = fail(d.destroy(id))
}

func (d *Driver) destroy(id rhi.ResId) error {
	if !id.Valid() {
		return fmt.Errorf("%w: destroy of %v", rhi.ErrInvalidHandle, id)
	}
	d.resMu.Lock()
	defer d.resMu.Unlock()

	switch registry.KindOf(id) {
	case registry.KindTexture:
		t, err := resolve(d.textures, id)
		if err != nil {
			return err
		}
		if t.owned {
			return fmt.Errorf("%w: %v is a driver-owned backbuffer", rhi.ErrInvalidHandle, id)
		}
		if _, err := d.textures.Unregister(id); err != nil {
			return err
		}
		d.evictBindGroups(id)
		d.retire(func() { t.destroy(d.device) })
	case registry.KindBuffer:
		b, err := d.buffers.Unregister(id)
		if err != nil {
			return err
		}
		d.evictBindGroups(id)
		d.retire(func() { d.device.DestroyBuffer(b.buf) })
	case registry.KindSampler:
		s, err := d.samplers.Unregister(id)
		if err != nil {
			return err
		}
		d.evictBindGroups(id)
		d.retire(func() { d.device.DestroySampler(s.smp) })
	case registry.KindRenderState:
		if _, err := d.states.Unregister(id); err != nil {
			return err
		}
	case registry.KindInputLayout:
		if _, err := d.layouts.Unregister(id); err != nil {
			return err
		}
	case registry.KindShaderSet:
		s, err := d.shaders.Unregister(id)
		if err != nil {
			return err
		}
		// Each variant's program.Destroy retires its modules and layouts.
		s.set.Release()
	default:
		return fmt.Errorf("%w: %v", rhi.ErrInvalidHandle, id)
	}
	return nil
}

// evictBindGroups drops cached bind groups that reference id.
func (d *Driver) evictBindGroups(id rhi.ResId) {
	d.bindGroups.DeleteFunc(func(k bindKey, _ hal.BindGroup) bool {
		return k.references(id)
	})
}

// Exists reports whether id is a live handle of this driver.
func (d *Driver) Exists(id rhi.ResId) bool {
	d.resMu.Lock()
	defer d.resMu.Unlock()
	switch registry.KindOf(id) {
	case registry.KindTexture:
		return d.textures.Exists(id)
	case registry.KindBuffer:
		return d.buffers.Exists(id)
	case registry.KindSampler:
		return d.samplers.Exists(id)
	case registry.KindRenderState:
		return d.states.Exists(id)
	case registry.KindShaderSet:
		return d.shaders.Exists(id)
	case registry.KindInputLayout:
		return d.layouts.Exists(id)
	}
	return false
}

// UpdateBuffer writes data at offset. The write is ordered before any work
// submitted afterwards.
func (d *Driver) UpdateBuffer(id rhi.ResId, offset uint64, data []byte) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	d.resMu.Lock()
	b, err := resolve(d.buffers, id)
	d.resMu.Unlock()
	if err != nil {
		return fail(err)
	}
	return d.writeBuffer(b, offset, data)
}

// UpdateTexture rewrites mip 0 of every layer.
func (d *Driver) UpdateTexture(id rhi.ResId, data []byte) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	d.resMu.Lock()
	t, err := resolve(d.textures, id)
	d.resMu.Unlock()
	if err != nil {
		return fail(err)
	}
	n, err := mipBytes(t.desc, 0)
	if err != nil {
		return err
	}
	if uint64(len(data)) != n {
		return fmt.Errorf("%w: texture %q mip 0 is %d bytes, got %d", ErrDataSize, t.desc.Label, n, len(data))
	}
	return d.writeMip(t, 0, data)
}

// CopyBuffer records and submits a copy on the copy queue.
func (d *Driver) CopyBuffer(dst rhi.ResId, dstOffset uint64, src rhi.ResId, srcOffset, size uint64) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	d.beginRecording()
	defer d.endRecording()

	d.resMu.Lock()
	db, err := resolve(d.buffers, dst)
	if err == nil {
		var sb *buffer
		sb, err = resolve(d.buffers, src)
		if err == nil {
			err = checkCopy(db, dstOffset, sb, srcOffset, size)
			if err == nil {
				err = d.recordCopy(db, dstOffset, sb, srcOffset, size)
			}
		}
	}
	d.resMu.Unlock()
	return fail(err)
}

func checkCopy(dst *buffer, dstOffset uint64, src *buffer, srcOffset, size uint64) error {
	switch {
	case size%copyAlign != 0 || dstOffset%copyAlign != 0 || srcOffset%copyAlign != 0:
		return fmt.Errorf("%w: copy offsets and size must be multiples of %d", rhi.ErrInvalidDesc, copyAlign)
	case srcOffset+size > src.size:
		return fmt.Errorf("%w: copy reads past %q", ErrDataSize, src.desc.Label)
	case dstOffset+size > dst.size:
		return fmt.Errorf("%w: copy writes past %q", ErrDataSize, dst.desc.Label)
	case dst == src && dstOffset < srcOffset+size && srcOffset < dstOffset+size:
		return fmt.Errorf("%w: overlapping copy within %q", rhi.ErrInvalidDesc, dst.desc.Label)
	}
	return nil
}

func (d *Driver) recordCopy(dst *buffer, dstOffset uint64, src *buffer, srcOffset, size uint64) error {
	q := d.queues.Copy()
	l, err := q.GetCommandList("copy")
	if err != nil {
		return err
	}
	l.Encoder().CopyBufferToBuffer(src.buf, dst.buf, []hal.BufferCopy{
		{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size},
	})
	_, err = q.ExecuteCommandList(l)
	return err
}

// BufferDesc returns the description id was created with.
func (d *Driver) BufferDesc(id rhi.ResId) (rhi.BufferDesc, bool) {
	d.resMu.Lock()
	defer d.resMu.Unlock()
	b, ok := d.buffers.Lookup(id)
	if !ok {
		return rhi.BufferDesc{}, false
	}
	return b.desc, true
}

// TextureDesc returns the normalized description of id.
func (d *Driver) TextureDesc(id rhi.ResId) (rhi.TextureDesc, bool) {
	d.resMu.Lock()
	defer d.resMu.Unlock()
	t, ok := d.textures.Lookup(id)
	if !ok {
		return rhi.TextureDesc{}, false
	}
	return t.desc, true
}
