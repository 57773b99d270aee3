// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package rhi is a render hardware interface: the layer between render
// passes and a native GPU API.
//
// # Overview
//
// Render passes create resources, bind shader variants and draw through the
// [Driver] interface without knowing which native API runs underneath. The
// concrete driver lives in backend/native and runs on gogpu/wgpu's HAL
// (Vulkan, Metal, DX12, GLES, or the pure-Go software rasterizer). The
// backend package picks one by name or by availability.
//
// Resources are named by [ResId] handles. A handle stays valid until it is
// passed to [Driver.DestroyResource]; the native object is released only
// after the GPU finished every command that referenced it.
//
// # Shaders
//
// Shader sources are WGSL with a small preprocessor on top. Keyword
// permutations are declared with pragma lines:
//
//	#pragma multi_compile _ SHADOWS
//	#pragma multi_compile _ FOG_LINEAR FOG_EXP
//
// Every combination is compiled up front (six variants here). At draw time
// [Driver.VariantIndex] maps the keywords a pass wants to the best matching
// variant. Variants that fail to compile render with the built-in error shader.
//
// # Quick Start
//
//	import _ "github.com/gogpu/rhi/backend/native"
//
//	drv, err := backend.OpenDefault(backend.Config{Width: 1280, Height: 720})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
//	mesh, err := drv.CreateShaderSet(rhi.ShaderSetDesc{
//	    Path:  "shaders/mesh.wgsl",
//	    Entry: [rhi.NumStages]string{rhi.StageVertex: "vs_main", rhi.StagePixel: "fs_main"},
//	})
//	layout, _ := drv.CreateInputLayout(rhi.InputLayoutDesc{Buffers: []rhi.VertexBufferLayout{{
//	    Stride:     32,
//	    Attributes: []rhi.VertexAttribute{{Location: 0, Format: gputypes.VertexFormatFloat32x3}},
//	}}})
//	vb, _ := drv.CreateBuffer(rhi.BufferDesc{
//	    NumElements: 3, ElementByteSize: 32, BindFlags: rhi.BindVertexBuffer,
//	}, vertices)
//
//	if err := drv.BeginFrame(); err != nil { ... }
//	drv.SetInputLayout(layout)
//	drv.SetVertexBuffer(0, vb, 0)
//	drv.SetShaderSet(mesh, drv.VariantIndex(mesh, []string{"SHADOWS"}))
//	_ = drv.Draw(3, 0)
//	_ = drv.EndFrame()
//	_ = drv.Present()
//
// # Logging
//
// rhi is silent by default. Call [SetLogger] to route diagnostics to a
// [log/slog] logger.
package rhi
