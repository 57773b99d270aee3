// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import "fmt"

// ResId is an opaque handle to a GPU resource owned by a Driver.
//
// Handles are only meaningful for the driver that issued them. The numeric
// value carries no information a caller may rely on; in particular the kind
// of resource cannot be inferred from it.
type ResId uint64

// BadResID is the "no resource" sentinel. Setters treat it as unbind.
const BadResID ResId = 0

// Valid reports whether id is not the sentinel.
func (id ResId) Valid() bool { return id != BadResID }

// String formats the handle for logs.
func (id ResId) String() string {
	if id == BadResID {
		return "ResId(bad)"
	}
	return fmt.Sprintf("ResId(%#x)", uint64(id))
}
