// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package nagac compiles WGSL shader variants with naga.
//
// Every compiled program carries SPIR-V for native modules and the resource
// bindings it declares. Translation to HLSL, MSL or GLSL is available for
// backends and tools that consume text.
package nagac
