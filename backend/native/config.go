// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/shader"
	"github.com/gogpu/rhi/shader/nagac"
)

// Option configures a Driver during Open.
//
// Example:
//
//	drv, err := native.Open(
//	    native.WithBackend(gputypes.BackendVulkan),
//	    native.WithSize(1280, 720),
//	    native.WithValidation(true),
//	)
type Option func(*config)

type config struct {
	backend         gputypes.Backend
	backendSet      bool
	logger          *slog.Logger
	backbufferCount int
	validation      bool
	settings        rhi.Settings
	shaderFS        fs.FS
	textureFS       fs.FS
	errorShader     string
	compiler        shader.Compiler
	compileWorkers  int
	surface         hal.Surface
	width, height   uint32
	colorFormat     gputypes.TextureFormat
	depthFormat     gputypes.TextureFormat
	watchDir        string
	bindGroupCache  int

	now   func() time.Time
	sleep func(time.Duration)
}

func defaultConfig() config {
	return config{
		logger:          rhi.Logger(),
		backbufferCount: 2,
		settings:        rhi.DefaultSettings(),
		shaderFS:        os.DirFS("."),
		textureFS:       os.DirFS("."),
		errorShader:     errorShaderWGSL,
		width:           1280,
		height:          720,
		colorFormat:     gputypes.TextureFormatBGRA8Unorm,
		depthFormat:     gputypes.TextureFormatDepth24PlusStencil8,
		bindGroupCache:  1024,
		now:             time.Now,
		sleep:           time.Sleep,
	}
}

// WithBackend selects the HAL backend. Without it Open tries Vulkan, Metal,
// DX12 and GL in that order.
func WithBackend(b gputypes.Backend) Option {
	return func(c *config) {
		c.backend = b
		c.backendSet = true
	}
}

// WithLogger sets the driver logger. The default is rhi.Logger().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBackbufferCount sets the number of backbuffers in flight. Values
// below 1 are ignored.
func WithBackbufferCount(n int) Option {
	return func(c *config) {
		if n >= 1 {
			c.backbufferCount = n
		}
	}
}

// WithValidation enables bind flag checks on every binding call.
// Violations are reported through rhi.Fatal.
func WithValidation(on bool) Option {
	return func(c *config) { c.validation = on }
}

// WithSettings sets the initial runtime settings.
func WithSettings(s rhi.Settings) Option {
	return func(c *config) { c.settings = s.Sanitized() }
}

// WithShaderFS sets the file system shader sources and includes are read from.
func WithShaderFS(fsys fs.FS) Option {
	return func(c *config) { c.shaderFS = fsys }
}

// WithTextureFS sets the file system LoadTexture reads from.
func WithTextureFS(fsys fs.FS) Option {
	return func(c *config) { c.textureFS = fsys }
}

// WithErrorShader replaces the built-in error shader source. The source must
// define vs_main, fs_main and cs_main.
func WithErrorShader(src string) Option {
	return func(c *config) { c.errorShader = src }
}

// WithCompiler replaces the naga compiler.
func WithCompiler(comp shader.Compiler) Option {
	return func(c *config) { c.compiler = comp }
}

// WithCompileWorkers sets the size of the variant compile pool. Zero uses
// one worker per CPU.
func WithCompileWorkers(n int) Option {
	return func(c *config) { c.compileWorkers = n }
}

// WithSurface presents frames to s. Without a surface the driver renders
// into offscreen backbuffers.
func WithSurface(s hal.Surface) Option {
	return func(c *config) { c.surface = s }
}

// WithSize sets the initial backbuffer size.
func WithSize(width, height uint32) Option {
	return func(c *config) {
		c.width = width
		c.height = height
	}
}

// WithFormats sets the backbuffer color and depth formats.
func WithFormats(color, depth gputypes.TextureFormat) Option {
	return func(c *config) {
		if color != gputypes.TextureFormatUndefined {
			c.colorFormat = color
		}
		if depth != gputypes.TextureFormatUndefined {
			c.depthFormat = depth
		}
	}
}

// WithShaderWatch watches dir for source changes and recompiles affected
// shader sets at the next BeginFrame.
func WithShaderWatch(dir string) Option {
	return func(c *config) { c.watchDir = dir }
}

// WithBindGroupCache sets the bind group cache capacity.
func WithBindGroupCache(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.bindGroupCache = n
		}
	}
}

func (c *config) defaultCompiler() shader.Compiler {
	if c.compiler != nil {
		return c.compiler
	}
	return nagac.New()
}
