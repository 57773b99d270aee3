// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nagac

import (
	"sort"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga/ir"

	"github.com/gogpu/rhi/shader"
)

// Reflect lists the resource bindings a module declares, ordered by group
// and binding.
func Reflect(m *ir.Module) []shader.Binding {
	var out []shader.Binding
	for _, gv := range m.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		b := shader.Binding{
			Group: gv.Binding.Group,
			Slot:  gv.Binding.Binding,
			Name:  gv.Name,
		}
		switch gv.Space {
		case ir.SpaceUniform:
			b.Kind = shader.BindingUniform
		case ir.SpaceStorage:
			b.Kind = shader.BindingStorage
			if gv.Access == ir.StorageRead {
				b.Kind = shader.BindingReadOnlyStorage
			}
		case ir.SpaceHandle:
			if !reflectHandle(m, gv.Type, &b) {
				continue
			}
		default:
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Slot < out[j].Slot
	})
	return out
}

func reflectHandle(m *ir.Module, th ir.TypeHandle, b *shader.Binding) bool {
	if int(th) >= len(m.Types) {
		return false
	}
	inner := m.Types[th].Inner
	if arr, ok := inner.(ir.BindingArrayType); ok {
		if int(arr.Base) >= len(m.Types) {
			return false
		}
		inner = m.Types[arr.Base].Inner
	}

	switch t := inner.(type) {
	case ir.SamplerType:
		b.Kind = shader.BindingSampler
		if t.Comparison {
			b.Kind = shader.BindingComparisonSampler
		}
	case ir.ImageType:
		b.Kind = shader.BindingTexture
		if t.Class == ir.ImageClassStorage {
			b.Kind = shader.BindingStorageTexture
			b.StorageFormat = storageFormats[t.StorageFormat]
			b.StorageAccess = storageAccess(t.StorageAccess)
		}
		b.Multisampled = t.Multisampled
		b.ViewDim = viewDim(t.Dim, t.Arrayed)
		switch {
		case t.Class == ir.ImageClassDepth:
			b.SampleType = shader.SampleDepth
		case t.SampledKind == ir.ScalarSint:
			b.SampleType = shader.SampleSint
		case t.SampledKind == ir.ScalarUint:
			b.SampleType = shader.SampleUint
		default:
			b.SampleType = shader.SampleFloat
		}
	default:
		return false
	}
	return true
}

var storageFormats = map[ir.StorageFormat]gputypes.TextureFormat{
	ir.StorageFormatR8Unorm:       gputypes.TextureFormatR8Unorm,
	ir.StorageFormatR16Float:      gputypes.TextureFormatR16Float,
	ir.StorageFormatR32Uint:       gputypes.TextureFormatR32Uint,
	ir.StorageFormatR32Sint:       gputypes.TextureFormatR32Sint,
	ir.StorageFormatR32Float:      gputypes.TextureFormatR32Float,
	ir.StorageFormatRg16Float:     gputypes.TextureFormatRG16Float,
	ir.StorageFormatRgba8Unorm:    gputypes.TextureFormatRGBA8Unorm,
	ir.StorageFormatRgba8Snorm:    gputypes.TextureFormatRGBA8Snorm,
	ir.StorageFormatRgba8Uint:     gputypes.TextureFormatRGBA8Uint,
	ir.StorageFormatRgba8Sint:     gputypes.TextureFormatRGBA8Sint,
	ir.StorageFormatBgra8Unorm:    gputypes.TextureFormatBGRA8Unorm,
	ir.StorageFormatRgb10a2Unorm:  gputypes.TextureFormatRGB10A2Unorm,
	ir.StorageFormatRg11b10Ufloat: gputypes.TextureFormatRG11B10Ufloat,
	ir.StorageFormatRg32Float:     gputypes.TextureFormatRG32Float,
	ir.StorageFormatRgba16Uint:    gputypes.TextureFormatRGBA16Uint,
	ir.StorageFormatRgba16Sint:    gputypes.TextureFormatRGBA16Sint,
	ir.StorageFormatRgba16Float:   gputypes.TextureFormatRGBA16Float,
	ir.StorageFormatRgba32Uint:    gputypes.TextureFormatRGBA32Uint,
	ir.StorageFormatRgba32Sint:    gputypes.TextureFormatRGBA32Sint,
	ir.StorageFormatRgba32Float:   gputypes.TextureFormatRGBA32Float,
}

func storageAccess(a ir.StorageAccess) gputypes.StorageTextureAccess {
	switch a {
	case ir.StorageAccessRead:
		return gputypes.StorageTextureAccessReadOnly
	case ir.StorageAccessWrite:
		return gputypes.StorageTextureAccessWriteOnly
	}
	return gputypes.StorageTextureAccessReadWrite
}

func viewDim(d ir.ImageDimension, arrayed bool) shader.ViewDim {
	switch d {
	case ir.Dim1D:
		return shader.ViewDim1D
	case ir.Dim3D:
		return shader.ViewDim3D
	case ir.DimCube:
		if arrayed {
			return shader.ViewDimCubeArray
		}
		return shader.ViewDimCube
	}
	if arrayed {
		return shader.ViewDim2DArray
	}
	return shader.ViewDim2D
}
