// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

// BindFlags declare how a buffer or texture may be bound. Views are created
// eagerly from these flags, and binding calls check them.
type BindFlags uint32

// Bind flags.
const (
	BindVertexBuffer BindFlags = 1 << iota
	BindIndexBuffer
	BindConstantBuffer
	BindShaderResource
	BindUnorderedAccess
	BindRenderTarget
	BindDepthStencil
)

// Has reports whether all bits of flag are set.
func (f BindFlags) Has(flag BindFlags) bool { return f&flag == flag }

var bindFlagNames = [...]string{
	"VertexBuffer", "IndexBuffer", "ConstantBuffer", "ShaderResource",
	"UnorderedAccess", "RenderTarget", "DepthStencil",
}

func (f BindFlags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	for i, name := range bindFlagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// CPUAccess describes whether the CPU reads or writes a resource after creation.
type CPUAccess uint8

const (
	CPUAccessNone CPUAccess = iota
	CPUAccessWrite
	CPUAccessRead
)

// TextureDim is the shape of a texture.
type TextureDim uint8

const (
	Texture2D TextureDim = iota
	Texture2DArray
	TextureCube
	Texture3D
)

// TextureDesc describes a texture to create.
type TextureDesc struct {
	Label string

	Width  uint32
	Height uint32
	// DepthOrLayers is the depth of a 3D texture or the layer count of an
	// array or cube texture. Zero means 1 (6 for cubes).
	DepthOrLayers uint32
	// MipLevels of zero means 1.
	MipLevels uint32
	// SampleCount of zero means 1.
	SampleCount uint32

	Format    gputypes.TextureFormat
	Dimension TextureDim
	BindFlags BindFlags
	CPUAccess CPUAccess
}

// Normalized returns d with zero counts replaced by their defaults.
func (d TextureDesc) Normalized() TextureDesc {
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	if d.DepthOrLayers == 0 {
		d.DepthOrLayers = 1
		if d.Dimension == TextureCube {
			d.DepthOrLayers = 6
		}
	}
	return d
}

// Validate checks d for zero sizes and contradictory flags.
func (d TextureDesc) Validate() error {
	d = d.Normalized()
	switch {
	case d.Width == 0 || d.Height == 0:
		return fmt.Errorf("%w: texture %q has zero size %dx%d", ErrInvalidDesc, d.Label, d.Width, d.Height)
	case d.Format == gputypes.TextureFormatUndefined:
		return fmt.Errorf("%w: texture %q has undefined format", ErrInvalidDesc, d.Label)
	case d.BindFlags.Has(BindDepthStencil) && !d.Format.IsDepthStencil():
		return fmt.Errorf("%w: texture %q is a depth-stencil target with color format %v", ErrInvalidDesc, d.Label, d.Format)
	case d.BindFlags.Has(BindRenderTarget) && d.Format.IsDepthStencil():
		return fmt.Errorf("%w: texture %q is a render target with depth format %v", ErrInvalidDesc, d.Label, d.Format)
	case d.BindFlags&(BindVertexBuffer|BindIndexBuffer|BindConstantBuffer) != 0:
		return fmt.Errorf("%w: texture %q carries buffer bind flags %v", ErrInvalidDesc, d.Label, d.BindFlags)
	case d.Dimension == TextureCube && d.DepthOrLayers%6 != 0:
		return fmt.Errorf("%w: cube texture %q needs a multiple of 6 layers, got %d", ErrInvalidDesc, d.Label, d.DepthOrLayers)
	case d.Dimension == TextureCube && d.Width != d.Height:
		return fmt.Errorf("%w: cube texture %q faces must be square", ErrInvalidDesc, d.Label)
	}
	return nil
}

// BufferDesc describes a buffer as an array of fixed-size elements.
type BufferDesc struct {
	Label string

	NumElements     uint32
	ElementByteSize uint32

	BindFlags BindFlags
	CPUAccess CPUAccess
}

// ByteSize is NumElements * ElementByteSize.
func (d BufferDesc) ByteSize() uint64 {
	return uint64(d.NumElements) * uint64(d.ElementByteSize)
}

// Validate checks d for zero sizes and texture-only flags.
func (d BufferDesc) Validate() error {
	switch {
	case d.NumElements == 0 || d.ElementByteSize == 0:
		return fmt.Errorf("%w: buffer %q has zero size (%d x %d)", ErrInvalidDesc, d.Label, d.NumElements, d.ElementByteSize)
	case d.BindFlags&(BindRenderTarget|BindDepthStencil) != 0:
		return fmt.Errorf("%w: buffer %q carries texture bind flags %v", ErrInvalidDesc, d.Label, d.BindFlags)
	case d.BindFlags.Has(BindIndexBuffer) && d.ElementByteSize != 2 && d.ElementByteSize != 4:
		return fmt.Errorf("%w: index buffer %q element size must be 2 or 4, got %d", ErrInvalidDesc, d.Label, d.ElementByteSize)
	}
	return nil
}

// Filter selects sampler filtering.
type Filter uint8

const (
	FilterLinear Filter = iota
	FilterPoint
	FilterAnisotropic
)

// SamplerDesc describes a sampler. Anisotropy of zero uses the driver
// settings when Filter is FilterAnisotropic.
type SamplerDesc struct {
	Filter     Filter
	AddressU   gputypes.AddressMode
	AddressV   gputypes.AddressMode
	AddressW   gputypes.AddressMode
	Anisotropy uint16
	Compare    gputypes.CompareFunction
	LodMin     float32
	LodMax     float32
}

// MaxRenderTargets is the number of simultaneous color targets.
const MaxRenderTargets = 8

// StencilOp is a stencil operation.
type StencilOp uint8

const (
	StencilKeep StencilOp = iota
	StencilZero
	StencilReplace
	StencilInvert
	StencilIncrClamp
	StencilDecrClamp
	StencilIncrWrap
	StencilDecrWrap
)

// StencilFace is the stencil state for one face.
type StencilFace struct {
	Compare   gputypes.CompareFunction
	Fail      StencilOp
	DepthFail StencilOp
	Pass      StencilOp
}

// RasterizerDesc holds rasterizer state.
type RasterizerDesc struct {
	Cull      gputypes.CullMode
	FrontFace gputypes.FrontFace
	Topology  gputypes.PrimitiveTopology
	DepthBias int32
	SlopeBias float32
	BiasClamp float32
}

// DepthStencilDesc holds depth and stencil state.
type DepthStencilDesc struct {
	DepthTest    bool
	DepthWrite   bool
	DepthCompare gputypes.CompareFunction

	StencilEnable bool
	StencilRead   uint8
	StencilWrite  uint8
	Front         StencilFace
	Back          StencilFace
}

// BlendDesc holds blending for one render target.
type BlendDesc struct {
	Enable    bool
	Src       gputypes.BlendFactor
	Dst       gputypes.BlendFactor
	Op        gputypes.BlendOperation
	SrcAlpha  gputypes.BlendFactor
	DstAlpha  gputypes.BlendFactor
	OpAlpha   gputypes.BlendOperation
	WriteMask gputypes.ColorWriteMask
}

// RenderStateDesc aggregates fixed-function state. It is a fixed-size value
// with no pointers, slices or strings so it can be hashed as raw bytes.
type RenderStateDesc struct {
	Rasterizer   RasterizerDesc
	DepthStencil DepthStencilDesc
	Blend        [MaxRenderTargets]BlendDesc
}

// DefaultRenderState is back-face culling, less-equal depth test with
// writes, and opaque output to every target.
func DefaultRenderState() RenderStateDesc {
	var d RenderStateDesc
	d.Rasterizer = RasterizerDesc{
		Cull:      gputypes.CullModeBack,
		FrontFace: gputypes.FrontFaceCCW,
		Topology:  gputypes.PrimitiveTopologyTriangleList,
	}
	d.DepthStencil = DepthStencilDesc{
		DepthTest:    true,
		DepthWrite:   true,
		DepthCompare: gputypes.CompareFunctionLessEqual,
		StencilRead:  0xFF,
		StencilWrite: 0xFF,
		Front:        StencilFace{Compare: gputypes.CompareFunctionAlways},
		Back:         StencilFace{Compare: gputypes.CompareFunctionAlways},
	}
	for i := range d.Blend {
		d.Blend[i] = OpaqueBlend()
	}
	return d
}

// OpaqueBlend writes all channels without blending.
func OpaqueBlend() BlendDesc {
	return BlendDesc{
		Src: gputypes.BlendFactorOne, Dst: gputypes.BlendFactorZero, Op: gputypes.BlendOperationAdd,
		SrcAlpha: gputypes.BlendFactorOne, DstAlpha: gputypes.BlendFactorZero, OpAlpha: gputypes.BlendOperationAdd,
		WriteMask: gputypes.ColorWriteMaskAll,
	}
}

// AlphaBlend is straight alpha blending.
func AlphaBlend() BlendDesc {
	return BlendDesc{
		Enable: true,
		Src:    gputypes.BlendFactorSrcAlpha, Dst: gputypes.BlendFactorOneMinusSrcAlpha, Op: gputypes.BlendOperationAdd,
		SrcAlpha: gputypes.BlendFactorOne, DstAlpha: gputypes.BlendFactorOneMinusSrcAlpha, OpAlpha: gputypes.BlendOperationAdd,
		WriteMask: gputypes.ColorWriteMaskAll,
	}
}

// Stage is a programmable pipeline stage.
type Stage uint8

const (
	StageVertex Stage = iota
	StagePixel
	StageGeometry
	StageHull
	StageDomain
	StageCompute

	NumStages
)

var stageNames = [NumStages]string{"vertex", "pixel", "geometry", "hull", "domain", "compute"}

func (s Stage) String() string {
	if s < NumStages {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// ShaderSetDesc names a shader source file and its per-stage entry points.
// Empty entries are skipped. A compute shader sets only Entry[StageCompute].
type ShaderSetDesc struct {
	Path  string
	Entry [NumStages]string
}

// IsCompute reports whether d describes a compute-only shader.
func (d ShaderSetDesc) IsCompute() bool {
	if d.Entry[StageCompute] == "" {
		return false
	}
	for s := StageVertex; s < StageCompute; s++ {
		if d.Entry[s] != "" {
			return false
		}
	}
	return true
}

// Validate checks that d names a path and a coherent set of stages.
func (d ShaderSetDesc) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("%w: shader set has no source path", ErrInvalidDesc)
	}
	if d.Entry[StageCompute] != "" {
		if !d.IsCompute() {
			return fmt.Errorf("%w: shader %q mixes compute and graphics stages", ErrInvalidDesc, d.Path)
		}
		return nil
	}
	if d.Entry[StageVertex] == "" {
		return fmt.Errorf("%w: shader %q has no vertex entry point", ErrInvalidDesc, d.Path)
	}
	return nil
}

// VertexAttribute places one shader input inside a vertex buffer element.
type VertexAttribute struct {
	Location uint32
	Format   gputypes.VertexFormat
	Offset   uint32
}

// VertexBufferLayout describes the vertices fed from one buffer slot.
type VertexBufferLayout struct {
	Stride      uint32
	PerInstance bool
	Attributes  []VertexAttribute
}

// InputLayoutDesc describes vertex input for every bound buffer slot, indexed by slot.
type InputLayoutDesc struct {
	Buffers []VertexBufferLayout
}

// Validate checks for duplicate locations and attributes outside their stride.
func (d InputLayoutDesc) Validate() error {
	seen := make(map[uint32]bool)
	for slot, b := range d.Buffers {
		for _, a := range b.Attributes {
			if seen[a.Location] {
				return fmt.Errorf("%w: input layout location %d declared twice", ErrInvalidDesc, a.Location)
			}
			seen[a.Location] = true
			if b.Stride != 0 && a.Offset >= b.Stride {
				return fmt.Errorf("%w: input layout slot %d attribute %d offset %d outside stride %d",
					ErrInvalidDesc, slot, a.Location, a.Offset, b.Stride)
			}
		}
	}
	return nil
}

// Viewport is a render viewport in pixels.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Scissor is a scissor rectangle in pixels.
type Scissor struct {
	X, Y, Width, Height uint32
}

// Placeholder selects the texture substituted when a texture file cannot be loaded.
type Placeholder uint8

const (
	// PlaceholderSolid is a magenta and black checkerboard.
	PlaceholderSolid Placeholder = iota
	// PlaceholderFlatNormal is a tangent-space normal pointing straight out.
	PlaceholderFlatNormal
)
