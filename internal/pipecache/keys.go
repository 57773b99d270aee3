// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipecache

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi"
)

// RenderKey identifies a render pipeline: program, vertex input,
// fixed-function state and attachment formats.
type RenderKey struct {
	Program      uint64
	InputLayout  rhi.ResId
	State        rhi.RenderStateDesc
	NumColor     uint8
	ColorFormats [rhi.MaxRenderTargets]gputypes.TextureFormat
	DepthFormat  gputypes.TextureFormat
	SampleCount  uint32
}

// ComputeKey identifies a compute pipeline.
type ComputeKey struct {
	Program uint64
}
