// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import "github.com/gogpu/gputypes"

// Driver is the backend-agnostic contract render passes program against.
//
// Creation calls are serialized by a resource lock and may be made from any
// goroutine. State, draw and frame calls take the context lock and are meant
// for the render goroutine.
//
// Handles are released with DestroyResource. Destroying a handle that is
// unknown or already destroyed is a precondition violation reported via Fatal.
type Driver interface {
	CreateTexture(desc TextureDesc, data []byte) (ResId, error)
	// LoadTexture decodes an image file. On failure it logs and returns a
	// placeholder texture together with the decode error.
	LoadTexture(path string, fallback Placeholder) (ResId, error)
	CreateBuffer(desc BufferDesc, data []byte) (ResId, error)
	CreateSampler(desc SamplerDesc) (ResId, error)
	CreateRenderState(desc RenderStateDesc) (ResId, error)
	// CreateShaderSet compiles every keyword variant. A returned error means
	// some variants failed; the handle is still valid and failed variants
	// render with the error shader.
	CreateShaderSet(desc ShaderSetDesc) (ResId, error)
	CreateComputeShader(desc ShaderSetDesc) (ResId, error)
	CreateInputLayout(desc InputLayoutDesc) (ResId, error)
	DestroyResource(id ResId)
	Exists(id ResId) bool

	// UpdateBuffer rewrites buffer contents in place; the handle is kept.
	UpdateBuffer(id ResId, offset uint64, data []byte) error
	// UpdateTexture rewrites mip 0 in place; the handle is kept.
	UpdateTexture(id ResId, data []byte) error
	// CopyBuffer records a buffer copy on the copy queue.
	CopyBuffer(dst ResId, dstOffset uint64, src ResId, srcOffset, size uint64) error

	BufferDesc(id ResId) (BufferDesc, bool)
	TextureDesc(id ResId) (TextureDesc, bool)
	// VariantIndex resolves keywords to a variant of a shader set.
	VariantIndex(shader ResId, keywords []string) int
	VariantCount(shader ResId) int

	SetVertexBuffer(slot uint32, id ResId, offset uint64)
	SetIndexBuffer(id ResId, format gputypes.IndexFormat, offset uint64)
	SetConstantBuffer(stage Stage, slot uint32, id ResId)
	SetTexture(stage Stage, slot uint32, id ResId)
	SetUAV(stage Stage, slot uint32, id ResId)
	SetSampler(stage Stage, slot uint32, id ResId)
	SetRenderTargets(colors []ResId, depth ResId)
	SetShaderSet(id ResId, variant int)
	SetComputeShader(id ResId, variant int)
	SetRenderState(id ResId)
	SetInputLayout(id ResId)
	SetViewport(vp Viewport)
	SetScissor(rect Scissor)
	ClearRenderTarget(id ResId, color gputypes.Color)
	ClearDepthStencil(id ResId, depth float32, stencil uint32)

	Draw(vertexCount, firstVertex uint32) error
	DrawInstanced(vertexCount, instanceCount, firstVertex, firstInstance uint32) error
	DrawIndexed(indexCount, firstIndex uint32, baseVertex int32) error
	DrawIndexedInstanced(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error
	Dispatch(x, y, z uint32) error

	BeginFrame() error
	EndFrame() error
	Present() error
	// Backbuffer is the color target of the current frame.
	Backbuffer() ResId
	// DepthBuffer is the default depth target, resized with the backbuffer.
	DepthBuffer() ResId
	Resize(width, height uint32) error

	Settings() Settings
	SetSettings(s Settings)
	// RecompileShaders rebuilds every shader set whose path matches the
	// ShaderRecompileFilter setting, keeping handles.
	RecompileShaders() error

	Close() error
}
