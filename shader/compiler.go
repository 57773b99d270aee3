// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi"
)

// Unit is one keyword combination of a shader source, ready to compile.
type Unit struct {
	// Path is the source path, used in diagnostics.
	Path string
	// Source is the preprocessed source text.
	Source string
	// Keywords are the keywords defined for this combination.
	Keywords []string
	// Entries holds the entry point per stage. Empty stages are skipped.
	Entries [rhi.NumStages]string
}

// BindingKind classifies a resource binding declared by a program.
type BindingKind uint8

const (
	BindingUniform BindingKind = iota
	BindingStorage
	BindingReadOnlyStorage
	BindingTexture
	BindingStorageTexture
	BindingSampler
	BindingComparisonSampler
)

var bindingKindNames = [...]string{
	"uniform", "storage", "read-only-storage", "texture",
	"storage-texture", "sampler", "comparison-sampler",
}

func (k BindingKind) String() string {
	if int(k) < len(bindingKindNames) {
		return bindingKindNames[k]
	}
	return fmt.Sprintf("BindingKind(%d)", uint8(k))
}

// ViewDim is the dimension a texture binding expects.
type ViewDim uint8

const (
	ViewDim2D ViewDim = iota
	ViewDim2DArray
	ViewDimCube
	ViewDimCubeArray
	ViewDim3D
	ViewDim1D
)

// SampleType is the component type a texture binding samples.
type SampleType uint8

const (
	SampleFloat SampleType = iota
	SampleUnfilterableFloat
	SampleDepth
	SampleSint
	SampleUint
)

// Binding is one resource slot a program reads or writes.
type Binding struct {
	Group        uint32
	Slot         uint32
	Kind         BindingKind
	ViewDim      ViewDim
	SampleType   SampleType
	Multisampled bool
	// StorageFormat and StorageAccess apply to storage textures.
	StorageFormat gputypes.TextureFormat
	StorageAccess gputypes.StorageTextureAccess
	Name          string
}

// StageCode is the compiled output of one stage.
type StageCode struct {
	Stage rhi.Stage
	Entry string
	SPIRV []uint32
	// Text holds translated source for backends that consume text.
	Text string
}

// Program is a compiled keyword combination.
type Program struct {
	Path     string
	Keywords []string
	Source   string
	Stages   []StageCode
	Bindings []Binding
	// Serial is unique per compiled program and changes on recompilation.
	Serial uint64
}

// Stage returns the code compiled for s.
func (p *Program) Stage(s rhi.Stage) (StageCode, bool) {
	for _, sc := range p.Stages {
		if sc.Stage == s {
			return sc, true
		}
	}
	return StageCode{}, false
}

var programSerial atomic.Uint64

// NextSerial returns a fresh program serial. Compilers assign it to every
// Program they produce.
func NextSerial() uint64 {
	return programSerial.Add(1)
}

// Compiler turns one Unit into a Program.
type Compiler interface {
	Compile(ctx context.Context, u Unit) (*Program, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, u Unit) (*Program, error)

// Compile calls f.
func (f CompilerFunc) Compile(ctx context.Context, u Unit) (*Program, error) { return f(ctx, u) }

// Module is a native object created from a Program.
type Module interface {
	Destroy()
}

// Loader creates native objects for compiled programs.
type Loader interface {
	Load(p *Program) (Module, error)
}

// Runner executes compile jobs. *parallel.WorkerPool satisfies it.
type Runner interface {
	Run(ctx context.Context, jobs []func(context.Context) error) error
}

type sequentialRunner struct{}

func (sequentialRunner) Run(ctx context.Context, jobs []func(context.Context) error) error {
	errs := make([]error, len(jobs))
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		errs[i] = job(ctx)
	}
	return errors.Join(errs...)
}
