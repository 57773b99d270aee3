// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import "errors"

// Package errors for the native backend.
var (
	// ErrNoBackend is returned when no HAL backend is registered.
	ErrNoBackend = errors.New("native: no HAL backend available")

	// ErrFrameActive is returned by calls that must run between frames.
	ErrFrameActive = errors.New("native: frame in progress")

	// ErrNoTargets is returned for draws with no render target bound.
	ErrNoTargets = errors.New("native: no render target bound")

	// ErrUnsupportedFormat is returned for uploads to formats without a
	// known texel size.
	ErrUnsupportedFormat = errors.New("native: texture format does not support uploads")

	// ErrDataSize is returned when initial or update data does not match
	// the resource size.
	ErrDataSize = errors.New("native: data size does not match resource")

	// ErrNotHALProvider is returned by OpenShared for providers that do not
	// expose HAL objects.
	ErrNotHALProvider = errors.New("native: provider does not expose HAL device and queue")
)
