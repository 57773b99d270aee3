// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import "errors"

// Driver errors.
var (
	// ErrNotOpen is returned when a driver call is made after Close.
	ErrNotOpen = errors.New("rhi: driver not open")

	// ErrNoAdapter is returned when no GPU adapter is available.
	ErrNoAdapter = errors.New("rhi: no GPU adapter available")

	// ErrDeviceLost is returned when the GPU device is lost.
	ErrDeviceLost = errors.New("rhi: GPU device lost")

	// ErrInvalidHandle is reported for handles the driver never issued or already released.
	ErrInvalidHandle = errors.New("rhi: invalid resource handle")

	// ErrWrongKind is reported when a handle of one resource kind is passed where another is expected.
	ErrWrongKind = errors.New("rhi: handle refers to a different resource kind")

	// ErrMissingBindFlag is reported when a resource is bound for a use it was not created for.
	ErrMissingBindFlag = errors.New("rhi: resource lacks required bind flag")

	// ErrInvalidDesc is returned when a description fails validation.
	ErrInvalidDesc = errors.New("rhi: invalid resource description")

	// ErrNoFrame is returned for draw calls outside BeginFrame/EndFrame.
	ErrNoFrame = errors.New("rhi: no frame in progress")

	// ErrNoShader is returned for draw or dispatch calls with no shader bound.
	ErrNoShader = errors.New("rhi: no shader bound")
)
