// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/rhi"
)

var (
	// ErrNotCompiled is returned by queries on a set that was never compiled.
	ErrNotCompiled = errors.New("shader: set not compiled")

	// ErrNoCompiler is returned when a set has no Compiler.
	ErrNoCompiler = errors.New("shader: no compiler")

	// ErrUnsupportedStage is reported by compilers for stages they cannot produce.
	ErrUnsupportedStage = errors.New("shader: unsupported stage")
)

// CompileError describes a keyword combination that failed to build.
// Stage is rhi.NumStages when the failure is not tied to one stage, such as
// a preprocessor or read error.
type CompileError struct {
	Path     string
	Keywords []string
	Stage    rhi.Stage
	Err      error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "shader: %s [%s]", e.Path, strings.Join(e.Keywords, " "))
	if e.Stage < rhi.NumStages {
		fmt.Fprintf(&b, " %s", e.Stage)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *CompileError) Unwrap() error { return e.Err }
