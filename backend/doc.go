// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package backend selects an rhi.Driver implementation by name.
//
// Backends register a Factory from an init function, so importing a
// backend package is enough to make it available:
//
//	import _ "github.com/gogpu/rhi/backend/native"
//
// OpenDefault tries the registered backends in priority order, native GPU
// first and the CPU software rasterizer last:
//
//	drv, err := backend.OpenDefault(backend.Config{Width: 1280, Height: 720})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer drv.Close()
//
// Open requests one backend by name:
//
//	drv, err := backend.Open(backend.BackendSoftware, cfg)
package backend
