// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/text/cases"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/shader"
)

// Binding tables. Each register space maps to one bind group and the slot
// number is the binding number inside it.
const (
	groupCB = iota
	groupSRV
	groupSampler
	groupUAV

	numGroups
)

// MaxSlots is the number of slots per register space and stage table.
const MaxSlots = 16

// errorShaderWGSL renders magenta at the transformed vertex position and
// stands in for every variant that failed to compile.
const errorShaderWGSL = `
struct Transform {
    mvp: mat4x4<f32>,
}

@group(0) @binding(0) var<uniform> transform: Transform;

@vertex
fn vs_main(@location(0) position: vec3<f32>) -> @builtin(position) vec4<f32> {
    return transform.mvp * vec4<f32>(position, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 1.0, 1.0);
}

@compute @workgroup_size(1)
fn cs_main() {
}
`

func errorShaderDesc(compute bool) rhi.ShaderSetDesc {
	desc := rhi.ShaderSetDesc{Path: "<error>"}
	if compute {
		desc.Entry[rhi.StageCompute] = "cs_main"
	} else {
		desc.Entry[rhi.StageVertex] = "vs_main"
		desc.Entry[rhi.StagePixel] = "fs_main"
	}
	return desc
}

type shaderSet struct {
	set     *shader.Set
	compute bool
}

func (d *Driver) newSet(desc rhi.ShaderSetDesc, compute bool, opts ...shader.Option) *shader.Set {
	base := []shader.Option{
		shader.WithFS(d.cfg.shaderFS),
		shader.WithLoader(&loader{d: d, compute: compute}),
		shader.WithRunner(d.pool),
		shader.WithLogger(d.logger),
	}
	return shader.NewSet(desc, d.compiler, append(base, opts...)...)
}

// CreateShaderSet compiles every keyword variant of a graphics shader.
func (d *Driver) CreateShaderSet(desc rhi.ShaderSetDesc) (rhi.ResId, error) {
	return d.createShaderSet(desc, false)
}

// CreateComputeShader compiles every keyword variant of a compute shader.
func (d *Driver) CreateComputeShader(desc rhi.ShaderSetDesc) (rhi.ResId, error) {
	return d.createShaderSet(desc, true)
}

func (d *Driver) createShaderSet(desc rhi.ShaderSetDesc, compute bool) (rhi.ResId, error) {
	if err := d.checkOpen(); err != nil {
		return rhi.BadResID, err
	}
	if err := desc.Validate(); err != nil {
		return rhi.BadResID, err
	}
	if desc.IsCompute() != compute {
		return rhi.BadResID, fmt.Errorf("%w: %q compute=%v passed to the wrong constructor", rhi.ErrInvalidDesc, desc.Path, desc.IsCompute())
	}

	set := d.newSet(desc, compute)
	compileErr := set.Compile(context.Background())
	if compileErr != nil {
		failed := 0
		for _, v := range set.Variants() {
			if !v.OK {
				failed++
			}
		}
		d.logger.Warn("native: shader variants failed, using error shader",
			"path", desc.Path, "failed", failed, "variants", set.Len())
	} else {
		d.logger.Debug("native: shader compiled", "path", desc.Path, "variants", set.Len())
	}

	d.resMu.Lock()
	id, err := d.shaders.Register(&shaderSet{set: set, compute: compute})
	d.resMu.Unlock()
	if err != nil {
		set.Release()
		return rhi.BadResID, err
	}
	return id, compileErr
}

func (d *Driver) lookupSet(id rhi.ResId) (*shaderSet, error) {
	d.resMu.Lock()
	defer d.resMu.Unlock()
	return resolve(d.shaders, id)
}

// VariantIndex resolves keywords to a variant of shader. Unknown keywords
// are ignored.
func (d *Driver) VariantIndex(id rhi.ResId, keywords []string) int {
	s, err := d.lookupSet(id)
	if err != nil {
		_ = fail(err)
		return 0
	}
	return s.set.VariantIndex(keywords)
}

// VariantCount is the number of keyword combinations of shader.
func (d *Driver) VariantCount(id rhi.ResId) int {
	s, err := d.lookupSet(id)
	if err != nil {
		_ = fail(err)
		return 0
	}
	return s.set.Len()
}

// RecompileShaders rebuilds the shader sets whose path contains the
// ShaderRecompileFilter setting, ignoring case. Handles and variant indices
// stay valid.
func (d *Driver) RecompileShaders() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	fold := cases.Fold()
	filter := fold.String(d.Settings().ShaderRecompileFilter)
	sets := d.matchSets(func(path string) bool {
		return strings.Contains(fold.String(path), filter)
	})
	return d.recompile(sets)
}

func (d *Driver) matchSets(match func(path string) bool) []*shader.Set {
	d.resMu.Lock()
	defer d.resMu.Unlock()
	var sets []*shader.Set
	d.shaders.Each(func(_ rhi.ResId, s *shaderSet) {
		if match(s.set.Desc().Path) {
			sets = append(sets, s.set)
		}
	})
	return sets
}

func (d *Driver) recompile(sets []*shader.Set) error {
	ctx := context.Background()
	var errs []error
	for _, s := range sets {
		if err := s.Recompile(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.logger.Info("native: shaders recompiled", "sets", len(sets), "failed", len(errs))
	return errors.Join(errs...)
}

func (d *Driver) onShaderChange(paths []string) {
	d.watchMu.Lock()
	d.changed = append(d.changed, paths...)
	d.watchMu.Unlock()
}

// applyShaderChanges recompiles sets whose source changed on disk. A change
// that matches no set path, such as an include, recompiles every set.
func (d *Driver) applyShaderChanges() {
	d.watchMu.Lock()
	changed := d.changed
	d.changed = nil
	d.watchMu.Unlock()
	if len(changed) == 0 {
		return
	}
	for i, p := range changed {
		changed[i] = filepath.ToSlash(p)
	}
	sets := d.matchSets(func(path string) bool {
		path = filepath.ToSlash(path)
		for _, c := range changed {
			if c == path || strings.HasSuffix(c, "/"+path) {
				return true
			}
		}
		return false
	})
	if len(sets) == 0 {
		sets = d.matchSets(func(string) bool { return true })
	}
	if err := d.recompile(sets); err != nil {
		d.logger.Warn("native: shader reload failed", "err", err)
	}
}

// loader turns compiled programs into HAL modules and layouts.
type loader struct {
	d       *Driver
	compute bool
}

func (l *loader) Load(p *shader.Program) (shader.Module, error) {
	prog, err := l.d.loadProgram(p, l.compute)
	if err != nil {
		return nil, err
	}
	return prog, nil
}

type stageModule struct {
	module hal.ShaderModule
	entry  string
}

// program is the native form of one compiled variant.
type program struct {
	d       *Driver
	label   string
	serial  uint64
	compute bool

	stages  [rhi.NumStages]stageModule
	modules []hal.ShaderModule

	groups       [numGroups][]shader.Binding
	groupLayouts []hal.BindGroupLayout
	layout       hal.PipelineLayout

	once sync.Once
}

// groupAccepts reports whether a binding kind belongs in register space g.
func groupAccepts(g uint32, k shader.BindingKind) bool {
	switch g {
	case groupCB:
		return k == shader.BindingUniform
	case groupSRV:
		return k == shader.BindingTexture || k == shader.BindingReadOnlyStorage
	case groupSampler:
		return k == shader.BindingSampler || k == shader.BindingComparisonSampler
	case groupUAV:
		return k == shader.BindingStorage || k == shader.BindingStorageTexture
	}
	return false
}

func (d *Driver) loadProgram(p *shader.Program, compute bool) (_ *program, err error) {
	prog := &program{
		d:       d,
		label:   p.Path,
		serial:  p.Serial,
		compute: compute,
	}
	defer func() {
		if err != nil {
			prog.release()
		}
	}()

	used := -1
	for _, b := range p.Bindings {
		if b.Group >= numGroups || b.Slot >= MaxSlots {
			return nil, fmt.Errorf("native: %s: %s %q at group %d binding %d is outside the %dx%d binding tables",
				p.Path, b.Kind, b.Name, b.Group, b.Slot, numGroups, MaxSlots)
		}
		if !groupAccepts(b.Group, b.Kind) {
			return nil, fmt.Errorf("native: %s: %s %q cannot live in group %d", p.Path, b.Kind, b.Name, b.Group)
		}
		prog.groups[b.Group] = append(prog.groups[b.Group], b)
		used = max(used, int(b.Group))
	}

	var wgsl hal.ShaderModule
	for _, sc := range p.Stages {
		var m hal.ShaderModule
		switch {
		case len(sc.SPIRV) > 0:
			m = prog.findSPIRV(p, sc.SPIRV)
			if m == nil {
				m, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
					Label:  fmt.Sprintf("%s %s", p.Path, sc.Stage),
					Source: hal.ShaderSource{SPIRV: sc.SPIRV},
				})
				if err != nil {
					return nil, fmt.Errorf("native: %s %s module: %w", p.Path, sc.Stage, err)
				}
				prog.modules = append(prog.modules, m)
			}
		default:
			if wgsl == nil {
				wgsl, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
					Label:  p.Path,
					Source: hal.ShaderSource{WGSL: p.Source},
				})
				if err != nil {
					return nil, fmt.Errorf("native: %s module: %w", p.Path, err)
				}
				prog.modules = append(prog.modules, wgsl)
			}
			m = wgsl
		}
		prog.stages[sc.Stage] = stageModule{module: m, entry: sc.Entry}
	}

	visibility := gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	if compute {
		visibility = gputypes.ShaderStageCompute
	}
	for g := 0; g <= used; g++ {
		entries := make([]gputypes.BindGroupLayoutEntry, 0, len(prog.groups[g]))
		for _, b := range prog.groups[g] {
			entries = append(entries, layoutEntry(b, visibility))
		}
		bgl, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s group %d", p.Path, g),
			Entries: entries,
		})
		if err != nil {
			return nil, fmt.Errorf("native: %s group %d layout: %w", p.Path, g, err)
		}
		prog.groupLayouts = append(prog.groupLayouts, bgl)
	}

	prog.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.Path,
		BindGroupLayouts: prog.groupLayouts,
	})
	if err != nil {
		return nil, fmt.Errorf("native: %s pipeline layout: %w", p.Path, err)
	}
	return prog, nil
}

// findSPIRV returns the module already created for code. Compilers emit
// one SPIR-V module holding every entry point.
func (p *program) findSPIRV(src *shader.Program, code []uint32) hal.ShaderModule {
	for _, sc := range src.Stages {
		if len(sc.SPIRV) > 0 && &sc.SPIRV[0] == &code[0] {
			if m := p.stages[sc.Stage].module; m != nil {
				return m
			}
		}
	}
	return nil
}

func layoutEntry(b shader.Binding, visibility gputypes.ShaderStages) gputypes.BindGroupLayoutEntry {
	e := gputypes.BindGroupLayoutEntry{Binding: b.Slot, Visibility: visibility}
	switch b.Kind {
	case shader.BindingUniform:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case shader.BindingStorage:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
	case shader.BindingReadOnlyStorage:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
	case shader.BindingTexture:
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    shaderSampleType(b.SampleType),
			ViewDimension: shaderViewDim(b.ViewDim),
			Multisampled:  b.Multisampled,
		}
	case shader.BindingStorageTexture:
		e.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        b.StorageAccess,
			Format:        b.StorageFormat,
			ViewDimension: shaderViewDim(b.ViewDim),
		}
	case shader.BindingSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	case shader.BindingComparisonSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeComparison}
	}
	return e
}

// Destroy evicts the program's bind groups and retires its native objects.
func (p *program) Destroy() {
	p.once.Do(func() {
		p.d.bindGroups.DeleteFunc(func(k bindKey, _ hal.BindGroup) bool {
			return k.program == p.serial
		})
		p.d.retire(p.release)
	})
}

func (p *program) release() {
	dev := p.d.device
	if p.layout != nil {
		dev.DestroyPipelineLayout(p.layout)
		p.layout = nil
	}
	for _, l := range p.groupLayouts {
		dev.DestroyBindGroupLayout(l)
	}
	p.groupLayouts = nil
	for _, m := range p.modules {
		dev.DestroyShaderModule(m)
	}
	p.modules = nil
}
