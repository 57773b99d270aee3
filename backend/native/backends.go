// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"github.com/gogpu/gputypes"
	// Registers Vulkan, Metal, DX12, GL and the software rasterizer for
	// the host platform.
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
)

func init() {
	backend.Register(backend.BackendNative, func(cfg backend.Config) (rhi.Driver, error) {
		return Open(configOptions(cfg)...)
	})
	backend.Register(backend.BackendSoftware, func(cfg backend.Config) (rhi.Driver, error) {
		return Open(append(configOptions(cfg), WithBackend(gputypes.BackendEmpty))...)
	})
}

// configOptions translates a backend.Config into driver options.
func configOptions(cfg backend.Config) []Option {
	var opts []Option
	if cfg.Width != 0 && cfg.Height != 0 {
		opts = append(opts, WithSize(cfg.Width, cfg.Height))
	}
	if cfg.Settings != (rhi.Settings{}) {
		opts = append(opts, WithSettings(cfg.Settings))
	}
	if cfg.Validation {
		opts = append(opts, WithValidation(true))
	}
	if cfg.ShaderFS != nil {
		opts = append(opts, WithShaderFS(cfg.ShaderFS))
	}
	if cfg.TextureFS != nil {
		opts = append(opts, WithTextureFS(cfg.TextureFS))
	}
	if cfg.Logger != nil {
		opts = append(opts, WithLogger(cfg.Logger))
	}
	return opts
}
