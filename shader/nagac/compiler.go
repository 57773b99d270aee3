// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nagac

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/shader"
)

// Option configures a Compiler.
type Option func(*Compiler)

// WithTarget adds translated text for target to every stage.
// SPIR-V is always produced.
func WithTarget(t Lang) Option {
	return func(c *Compiler) { c.target = t }
}

// WithDebug emits SPIR-V debug names.
func WithDebug(debug bool) Option {
	return func(c *Compiler) { c.debug = debug }
}

// WithoutValidation skips IR validation.
func WithoutValidation() Option {
	return func(c *Compiler) { c.validate = false }
}

// Compiler compiles WGSL with naga. It is safe for concurrent use.
type Compiler struct {
	target   Lang
	debug    bool
	validate bool
}

var _ shader.Compiler = (*Compiler)(nil)

// New returns a Compiler producing SPIR-V.
func New(opts ...Option) *Compiler {
	c := &Compiler{target: LangSPIRV, validate: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func stageError(u shader.Unit, stage rhi.Stage, err error) error {
	return &shader.CompileError{Path: u.Path, Keywords: u.Keywords, Stage: stage, Err: err}
}

// irStage maps a pipeline stage to its naga stage.
func irStage(s rhi.Stage) (ir.ShaderStage, error) {
	switch s {
	case rhi.StageVertex:
		return ir.StageVertex, nil
	case rhi.StagePixel:
		return ir.StageFragment, nil
	case rhi.StageCompute:
		return ir.StageCompute, nil
	}
	return 0, fmt.Errorf("%w: %s", shader.ErrUnsupportedStage, s)
}

// lower parses and lowers WGSL source, validating when asked.
func lower(src string, validate bool) (*ir.Module, error) {
	ast, err := naga.Parse(src)
	if err != nil {
		return nil, err
	}
	m, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, err
	}
	if validate {
		verrs, err := naga.Validate(m)
		if err != nil {
			return nil, err
		}
		if len(verrs) > 0 {
			errs := make([]error, len(verrs))
			for i, ve := range verrs {
				errs[i] = ve
			}
			return nil, fmt.Errorf("validation failed: %w", errors.Join(errs...))
		}
	}
	return m, nil
}

// Compile builds every stage with an entry point in u.
func (c *Compiler) Compile(ctx context.Context, u shader.Unit) (*shader.Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, err := lower(u.Source, c.validate)
	if err != nil {
		return nil, stageError(u, rhi.NumStages, err)
	}

	p := &shader.Program{
		Path:     u.Path,
		Keywords: u.Keywords,
		Source:   u.Source,
		Serial:   shader.NextSerial(),
	}
	for s, entry := range u.Entries {
		if entry == "" {
			continue
		}
		stage := rhi.Stage(s)
		want, err := irStage(stage)
		if err != nil {
			return nil, stageError(u, stage, err)
		}
		ep, ok := findEntryPoint(m, entry)
		if !ok {
			return nil, stageError(u, stage, fmt.Errorf("entry point %q not found", entry))
		}
		if ep.Stage != want {
			return nil, stageError(u, stage, fmt.Errorf("entry point %q is not a %s shader", entry, stage))
		}
		p.Stages = append(p.Stages, shader.StageCode{Stage: stage, Entry: entry})
	}
	if len(p.Stages) == 0 {
		return nil, stageError(u, rhi.NumStages, errors.New("no entry points requested"))
	}

	p.Bindings = Reflect(m)

	code, err := naga.GenerateSPIRV(m, spirv.Options{Version: spirv.Version1_3, Debug: c.debug})
	if err != nil {
		return nil, stageError(u, rhi.NumStages, err)
	}
	words := SPIRVWords(code)
	for i := range p.Stages {
		p.Stages[i].SPIRV = words
	}

	if c.target != LangSPIRV {
		for i := range p.Stages {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			text, err := Translate(u.Source, c.target, p.Stages[i].Entry)
			if err != nil {
				return nil, stageError(u, p.Stages[i].Stage, err)
			}
			p.Stages[i].Text = text
		}
	}
	return p, nil
}

func findEntryPoint(m *ir.Module, name string) (*ir.EntryPoint, bool) {
	for i := range m.EntryPoints {
		if m.EntryPoints[i].Name == name {
			return &m.EntryPoints[i], true
		}
	}
	return nil, false
}

// SPIRVWords converts a little-endian SPIR-V byte stream into words.
// Trailing bytes that do not fill a word are dropped.
func SPIRVWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = uint32(code[i*4]) |
			uint32(code[i*4+1])<<8 |
			uint32(code[i*4+2])<<16 |
			uint32(code[i*4+3])<<24
	}
	return words
}
