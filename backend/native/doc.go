// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package native implements rhi.Driver on the wgpu HAL.
//
// Open picks a backend and adapter and owns the resulting device.
// OpenWithDevice and OpenShared wrap a device that belongs to someone else,
// for example a gogpu application:
//
//	drv, err := native.OpenShared(app.DeviceProvider(), native.WithShaderFS(assets))
//
// Importing the package registers the "native" and "software" backends
// with package backend.
//
// # Binding model
//
// Each register space is one bind group: constant buffers in group 0,
// shader resources in group 1, samplers in group 2 and unordered access in
// group 3. The slot passed to a Set call is the binding number inside the
// group. Graphics stages share one table and compute has its own. Slots a
// shader declares but the caller left empty read a 1x1 default resource.
//
// # Pipelines
//
// Render and compute pipelines are built on first draw and cached for the
// life of the driver, keyed by program, input layout, render state and
// attachment formats. Bind groups live in an LRU cache and are evicted when
// a resource they reference is destroyed.
//
// # Frames and queues
//
// Work is submitted on three logical queues sharing one HAL queue: direct
// for frames, compute for dispatches outside a frame and copy for buffer
// copies. Destroyed resources are released once every queue has passed the
// last submission that may use them.
package native
