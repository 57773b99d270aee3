// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shader compiles shader sources into keyword variants.
//
// A source declares option groups with pragma lines:
//
//	#pragma multi_compile _ SHADOWS
//	#pragma multi_compile _ FOG_LINEAR FOG_EXP
//
// Each line is a group of mutually exclusive keywords; "_" stands for none.
// A Set compiles the Cartesian product of all groups, six variants in the
// example above, with the keywords of each combination defined for the
// preprocessor. Variant 0 always exists and, with "_" options first, carries
// no keywords.
//
// Compilation goes through a Compiler (see package nagac for the WGSL
// implementation). A combination that fails keeps its index and is marked
// failed; Resolve substitutes an error shader for it at bind time.
package shader
