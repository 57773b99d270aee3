// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestBufferDescByteSize(t *testing.T) {
	d := BufferDesc{NumElements: 3, ElementByteSize: 32, BindFlags: BindVertexBuffer}
	if got := d.ByteSize(); got != 96 {
		t.Errorf("ByteSize() = %d, want 96", got)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestBufferDescValidate(t *testing.T) {
	tests := []struct {
		name string
		desc BufferDesc
	}{
		{"zero elements", BufferDesc{ElementByteSize: 4}},
		{"zero element size", BufferDesc{NumElements: 4}},
		{"render target flag", BufferDesc{NumElements: 1, ElementByteSize: 4, BindFlags: BindRenderTarget}},
		{"odd index size", BufferDesc{NumElements: 3, ElementByteSize: 8, BindFlags: BindIndexBuffer}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.desc.Validate(); !errors.Is(err, ErrInvalidDesc) {
				t.Errorf("Validate() = %v, want ErrInvalidDesc", err)
			}
		})
	}
}

func TestTextureDescValidate(t *testing.T) {
	ok := TextureDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm, BindFlags: BindShaderResource | BindRenderTarget}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	tests := []struct {
		name string
		desc TextureDesc
	}{
		{"zero width", TextureDesc{Height: 4, Format: gputypes.TextureFormatRGBA8Unorm}},
		{"no format", TextureDesc{Width: 4, Height: 4}},
		{"depth flag on color", TextureDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm, BindFlags: BindDepthStencil}},
		{"rt flag on depth", TextureDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatDepth32Float, BindFlags: BindRenderTarget}},
		{"buffer flag", TextureDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm, BindFlags: BindVertexBuffer}},
		{"cube not square", TextureDesc{Width: 4, Height: 8, Format: gputypes.TextureFormatRGBA8Unorm, Dimension: TextureCube}},
		{"cube layers", TextureDesc{Width: 4, Height: 4, DepthOrLayers: 4, Format: gputypes.TextureFormatRGBA8Unorm, Dimension: TextureCube}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.desc.Validate(); !errors.Is(err, ErrInvalidDesc) {
				t.Errorf("Validate() = %v, want ErrInvalidDesc", err)
			}
		})
	}
}

func TestTextureDescNormalized(t *testing.T) {
	d := TextureDesc{Width: 8, Height: 8, Dimension: TextureCube}.Normalized()
	if d.MipLevels != 1 || d.SampleCount != 1 || d.DepthOrLayers != 6 {
		t.Errorf("Normalized() = mips %d samples %d layers %d, want 1 1 6", d.MipLevels, d.SampleCount, d.DepthOrLayers)
	}
}

func TestBindFlagsString(t *testing.T) {
	if got := (BindVertexBuffer | BindShaderResource).String(); got != "VertexBuffer|ShaderResource" {
		t.Errorf("String() = %q", got)
	}
	if got := BindFlags(0).String(); got != "None" {
		t.Errorf("String() = %q", got)
	}
	if !(BindVertexBuffer | BindIndexBuffer).Has(BindIndexBuffer) {
		t.Error("Has(BindIndexBuffer) = false")
	}
}

func TestShaderSetDescValidate(t *testing.T) {
	var gfx ShaderSetDesc
	gfx.Path = "mesh.wgsl"
	gfx.Entry[StageVertex] = "vs_main"
	gfx.Entry[StagePixel] = "fs_main"
	if err := gfx.Validate(); err != nil {
		t.Errorf("graphics Validate() = %v", err)
	}
	if gfx.IsCompute() {
		t.Error("graphics set reported as compute")
	}

	var cs ShaderSetDesc
	cs.Path = "blur.wgsl"
	cs.Entry[StageCompute] = "main"
	if err := cs.Validate(); err != nil || !cs.IsCompute() {
		t.Errorf("compute Validate() = %v, IsCompute = %v", err, cs.IsCompute())
	}

	mixed := gfx
	mixed.Entry[StageCompute] = "main"
	if err := mixed.Validate(); !errors.Is(err, ErrInvalidDesc) {
		t.Errorf("mixed Validate() = %v, want ErrInvalidDesc", err)
	}
	if err := (ShaderSetDesc{}).Validate(); !errors.Is(err, ErrInvalidDesc) {
		t.Errorf("empty Validate() = %v, want ErrInvalidDesc", err)
	}
}

func TestInputLayoutValidate(t *testing.T) {
	good := InputLayoutDesc{Buffers: []VertexBufferLayout{{
		Stride: 20,
		Attributes: []VertexAttribute{
			{Location: 0, Format: gputypes.VertexFormatFloat32x3, Offset: 0},
			{Location: 1, Format: gputypes.VertexFormatFloat32x2, Offset: 12},
		},
	}}}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	dup := InputLayoutDesc{Buffers: []VertexBufferLayout{
		{Stride: 12, Attributes: []VertexAttribute{{Location: 0, Format: gputypes.VertexFormatFloat32x3}}},
		{Stride: 8, Attributes: []VertexAttribute{{Location: 0, Format: gputypes.VertexFormatFloat32x2}}},
	}}
	if err := dup.Validate(); !errors.Is(err, ErrInvalidDesc) {
		t.Errorf("duplicate location Validate() = %v", err)
	}
}

func TestDefaultRenderStateComparable(t *testing.T) {
	a, b := DefaultRenderState(), DefaultRenderState()
	if a != b {
		t.Error("DefaultRenderState() values differ")
	}
	b.Blend[2] = AlphaBlend()
	if a == b {
		t.Error("changing a blend target should change the value")
	}
}

func TestStageString(t *testing.T) {
	if StagePixel.String() != "pixel" || StageCompute.String() != "compute" {
		t.Errorf("unexpected stage names %q %q", StagePixel, StageCompute)
	}
	if got := Stage(42).String(); got != "Stage(42)" {
		t.Errorf("Stage(42).String() = %q", got)
	}
}
