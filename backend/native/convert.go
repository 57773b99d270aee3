// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/shader"
)

const (
	// constantBufferAlign is the size granularity of constant buffers.
	constantBufferAlign = 256
	// copyAlign is the granularity of buffer sizes and write lengths.
	copyAlign = 4
	// rowPitchAlign is the row alignment of buffer-to-texture copies.
	rowPitchAlign = 256
)

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}

func bufferUsage(d rhi.BufferDesc) gputypes.BufferUsage {
	u := gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	if d.BindFlags.Has(rhi.BindVertexBuffer) {
		u |= gputypes.BufferUsageVertex
	}
	if d.BindFlags.Has(rhi.BindIndexBuffer) {
		u |= gputypes.BufferUsageIndex
	}
	if d.BindFlags.Has(rhi.BindConstantBuffer) {
		u |= gputypes.BufferUsageUniform
	}
	if d.BindFlags&(rhi.BindShaderResource|rhi.BindUnorderedAccess) != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if d.CPUAccess == rhi.CPUAccessRead {
		u |= gputypes.BufferUsageMapRead
	}
	return u
}

func bufferSize(d rhi.BufferDesc) uint64 {
	size := alignUp(d.ByteSize(), copyAlign)
	if d.BindFlags.Has(rhi.BindConstantBuffer) {
		size = alignUp(size, constantBufferAlign)
	}
	return size
}

func textureUsage(d rhi.TextureDesc) gputypes.TextureUsage {
	u := gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc
	if d.BindFlags.Has(rhi.BindShaderResource) {
		u |= gputypes.TextureUsageTextureBinding
	}
	if d.BindFlags.Has(rhi.BindUnorderedAccess) {
		u |= gputypes.TextureUsageStorageBinding
	}
	if d.BindFlags&(rhi.BindRenderTarget|rhi.BindDepthStencil) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	return u
}

func textureDescriptor(d rhi.TextureDesc) *hal.TextureDescriptor {
	dim := gputypes.TextureDimension2D
	if d.Dimension == rhi.Texture3D {
		dim = gputypes.TextureDimension3D
	}
	return &hal.TextureDescriptor{
		Label: d.Label,
		Size: hal.Extent3D{
			Width:              d.Width,
			Height:             d.Height,
			DepthOrArrayLayers: d.DepthOrLayers,
		},
		MipLevelCount: d.MipLevels,
		SampleCount:   d.SampleCount,
		Dimension:     dim,
		Format:        d.Format,
		Usage:         textureUsage(d),
	}
}

// sampledViewDim is the view dimension of a texture's shader-resource view.
func sampledViewDim(d rhi.TextureDesc) gputypes.TextureViewDimension {
	switch d.Dimension {
	case rhi.Texture2DArray:
		return gputypes.TextureViewDimension2DArray
	case rhi.TextureCube:
		if d.DepthOrLayers > 6 {
			return gputypes.TextureViewDimensionCubeArray
		}
		return gputypes.TextureViewDimensionCube
	case rhi.Texture3D:
		return gputypes.TextureViewDimension3D
	}
	return gputypes.TextureViewDimension2D
}

func shaderViewDim(v shader.ViewDim) gputypes.TextureViewDimension {
	switch v {
	case shader.ViewDim1D:
		return gputypes.TextureViewDimension1D
	case shader.ViewDim2DArray:
		return gputypes.TextureViewDimension2DArray
	case shader.ViewDimCube:
		return gputypes.TextureViewDimensionCube
	case shader.ViewDimCubeArray:
		return gputypes.TextureViewDimensionCubeArray
	case shader.ViewDim3D:
		return gputypes.TextureViewDimension3D
	}
	return gputypes.TextureViewDimension2D
}

func shaderSampleType(s shader.SampleType) gputypes.TextureSampleType {
	switch s {
	case shader.SampleUnfilterableFloat:
		return gputypes.TextureSampleTypeUnfilterableFloat
	case shader.SampleDepth:
		return gputypes.TextureSampleTypeDepth
	case shader.SampleSint:
		return gputypes.TextureSampleTypeSint
	case shader.SampleUint:
		return gputypes.TextureSampleTypeUint
	}
	return gputypes.TextureSampleTypeFloat
}

func samplerDescriptor(d rhi.SamplerDesc, anisotropy int) *hal.SamplerDescriptor {
	sd := &hal.SamplerDescriptor{
		AddressModeU: addressMode(d.AddressU),
		AddressModeV: addressMode(d.AddressV),
		AddressModeW: addressMode(d.AddressW),
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
		LodMinClamp:  d.LodMin,
		LodMaxClamp:  d.LodMax,
		Compare:      d.Compare,
		Anisotropy:   1,
	}
	if sd.LodMaxClamp == 0 {
		sd.LodMaxClamp = 32
	}
	switch d.Filter {
	case rhi.FilterPoint:
		sd.MagFilter = gputypes.FilterModeNearest
		sd.MinFilter = gputypes.FilterModeNearest
		sd.MipmapFilter = gputypes.FilterModeNearest
	case rhi.FilterAnisotropic:
		sd.Anisotropy = d.Anisotropy
		if sd.Anisotropy == 0 {
			sd.Anisotropy = uint16(anisotropy)
		}
	}
	return sd
}

func addressMode(m gputypes.AddressMode) gputypes.AddressMode {
	if m == gputypes.AddressModeUndefined {
		return gputypes.AddressModeClampToEdge
	}
	return m
}

func vertexLayouts(d rhi.InputLayoutDesc) []gputypes.VertexBufferLayout {
	out := make([]gputypes.VertexBufferLayout, len(d.Buffers))
	for i, b := range d.Buffers {
		l := gputypes.VertexBufferLayout{
			ArrayStride: uint64(b.Stride),
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes:  make([]gputypes.VertexAttribute, len(b.Attributes)),
		}
		if b.PerInstance {
			l.StepMode = gputypes.VertexStepModeInstance
		}
		if len(b.Attributes) == 0 {
			l.StepMode = gputypes.VertexStepModeVertexBufferNotUsed
		}
		for j, a := range b.Attributes {
			l.Attributes[j] = gputypes.VertexAttribute{
				Format:         a.Format,
				Offset:         uint64(a.Offset),
				ShaderLocation: a.Location,
			}
		}
		out[i] = l
	}
	return out
}

func stencilOp(op rhi.StencilOp) hal.StencilOperation {
	// rhi and hal enumerate stencil operations in the same order.
	return hal.StencilOperation(op)
}

func stencilFace(f rhi.StencilFace) hal.StencilFaceState {
	cmp := f.Compare
	if cmp == gputypes.CompareFunctionUndefined {
		cmp = gputypes.CompareFunctionAlways
	}
	return hal.StencilFaceState{
		Compare:     cmp,
		FailOp:      stencilOp(f.Fail),
		DepthFailOp: stencilOp(f.DepthFail),
		PassOp:      stencilOp(f.Pass),
	}
}

func primitiveState(r rhi.RasterizerDesc) gputypes.PrimitiveState {
	return gputypes.PrimitiveState{
		Topology:  r.Topology,
		FrontFace: r.FrontFace,
		CullMode:  r.Cull,
	}
}

func depthStencilState(s rhi.RenderStateDesc, format gputypes.TextureFormat) *hal.DepthStencilState {
	if format == gputypes.TextureFormatUndefined {
		return nil
	}
	ds := s.DepthStencil
	out := &hal.DepthStencilState{
		Format:              format,
		DepthWriteEnabled:   ds.DepthTest && ds.DepthWrite,
		DepthCompare:        gputypes.CompareFunctionAlways,
		StencilFront:        stencilFace(rhi.StencilFace{}),
		StencilBack:         stencilFace(rhi.StencilFace{}),
		DepthBias:           s.Rasterizer.DepthBias,
		DepthBiasSlopeScale: s.Rasterizer.SlopeBias,
		DepthBiasClamp:      s.Rasterizer.BiasClamp,
	}
	if ds.DepthTest {
		out.DepthCompare = ds.DepthCompare
	}
	if ds.StencilEnable && format.HasStencil() {
		out.StencilFront = stencilFace(ds.Front)
		out.StencilBack = stencilFace(ds.Back)
		out.StencilReadMask = uint32(ds.StencilRead)
		out.StencilWriteMask = uint32(ds.StencilWrite)
	}
	return out
}

func colorTarget(b rhi.BlendDesc, format gputypes.TextureFormat) gputypes.ColorTargetState {
	t := gputypes.ColorTargetState{Format: format, WriteMask: b.WriteMask}
	if b.Enable {
		t.Blend = &gputypes.BlendState{
			Color: gputypes.BlendComponent{SrcFactor: b.Src, DstFactor: b.Dst, Operation: b.Op},
			Alpha: gputypes.BlendComponent{SrcFactor: b.SrcAlpha, DstFactor: b.DstAlpha, Operation: b.OpAlpha},
		}
	}
	return t
}

// bytesPerBlock returns the size of one texel of an uncompressed format,
// or 0 for formats uploads do not support.
func bytesPerBlock(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatStencil8:
		return 1
	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm,
		gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR16Float,
		gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatRG8Snorm,
		gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint,
		gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatRG16Float, gputypes.TextureFormatRG16Unorm,
		gputypes.TextureFormatRG16Snorm, gputypes.TextureFormatRG16Uint,
		gputypes.TextureFormatRG16Sint,
		gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatRGB10A2Uint, gputypes.TextureFormatRGB10A2Unorm,
		gputypes.TextureFormatRG11B10Ufloat, gputypes.TextureFormatRGB9E5Ufloat,
		gputypes.TextureFormatDepth32Float, gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth24PlusStencil8:
		return 4
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint,
		gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm,
		gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA16Float:
		return 8
	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint:
		return 16
	}
	return 0
}

func presentMode(vsync bool) gputypes.PresentMode {
	if vsync {
		return gputypes.PresentModeFifo
	}
	return gputypes.PresentModeImmediate
}
