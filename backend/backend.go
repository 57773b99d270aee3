// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/gogpu/rhi"
)

// ErrBackendNotAvailable is returned when no registered backend can open.
var ErrBackendNotAvailable = errors.New("backend: not available")

// Config holds the options every backend understands. Zero fields keep
// the backend's defaults.
type Config struct {
	Width, Height uint32
	// Settings replaces rhi.DefaultSettings when non-zero.
	Settings   rhi.Settings
	Validation bool
	ShaderFS   fs.FS
	TextureFS  fs.FS
	Logger     *slog.Logger
}

// Factory opens a driver. It returns an error when the backend cannot run
// on this machine.
type Factory func(cfg Config) (rhi.Driver, error)
