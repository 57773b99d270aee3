// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/shader"
)

// countingDevice counts native object creation and destruction, logs them in
// order, and records the render passes and draws issued through its
// encoders.
type countingDevice struct {
	*noop.Device

	mu         sync.Mutex
	created    map[string]int
	destroyed  map[string]int
	events     []string
	passes     []hal.RenderPassDescriptor
	draws      int
	dispatches int
}

func newCountingDevice() *countingDevice {
	return &countingDevice{
		Device:    &noop.Device{},
		created:   make(map[string]int),
		destroyed: make(map[string]int),
	}
}

func (d *countingDevice) create(kind string) {
	d.mu.Lock()
	d.created[kind]++
	d.events = append(d.events, "create "+kind)
	d.mu.Unlock()
}

func (d *countingDevice) destroy(kind string) {
	d.mu.Lock()
	d.destroyed[kind]++
	d.events = append(d.events, "destroy "+kind)
	d.mu.Unlock()
}

func (d *countingDevice) count(kind string) (created, destroyed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind], d.destroyed[kind]
}

// mark returns a position in the event log for eventsSince.
func (d *countingDevice) mark() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// eventsSince returns the logged events of the given kinds after mark.
func (d *countingDevice) eventsSince(mark int, kinds ...string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, e := range d.events[mark:] {
		_, kind, _ := strings.Cut(e, " ")
		if slices.Contains(kinds, kind) {
			out = append(out, e)
		}
	}
	return out
}

func (d *countingDevice) renderPasses() []hal.RenderPassDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.passes)
}

func (d *countingDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	d.create("buffer")
	return d.Device.CreateBuffer(desc)
}

func (d *countingDevice) DestroyBuffer(b hal.Buffer) { d.destroy("buffer") }

func (d *countingDevice) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	d.create("texture")
	return d.Device.CreateTexture(desc)
}

func (d *countingDevice) DestroyTexture(hal.Texture) { d.destroy("texture") }

func (d *countingDevice) CreateTextureView(tex hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	d.create("view")
	return d.Device.CreateTextureView(tex, desc)
}

func (d *countingDevice) DestroyTextureView(hal.TextureView) { d.destroy("view") }

func (d *countingDevice) CreateSampler(desc *hal.SamplerDescriptor) (hal.Sampler, error) {
	d.create("sampler")
	return d.Device.CreateSampler(desc)
}

func (d *countingDevice) DestroySampler(hal.Sampler) { d.destroy("sampler") }

func (d *countingDevice) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	d.create("bindgroup")
	return d.Device.CreateBindGroup(desc)
}

func (d *countingDevice) DestroyBindGroup(hal.BindGroup) { d.destroy("bindgroup") }

func (d *countingDevice) CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error) {
	d.create("module")
	return d.Device.CreateShaderModule(desc)
}

func (d *countingDevice) DestroyShaderModule(hal.ShaderModule) { d.destroy("module") }

func (d *countingDevice) CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	d.create("render")
	return d.Device.CreateRenderPipeline(desc)
}

func (d *countingDevice) DestroyRenderPipeline(hal.RenderPipeline) { d.destroy("render") }

func (d *countingDevice) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	d.create("compute")
	return d.Device.CreateComputePipeline(desc)
}

func (d *countingDevice) DestroyComputePipeline(hal.ComputePipeline) { d.destroy("compute") }

func (d *countingDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	return &recordingEncoder{CommandEncoder: enc, dev: d}, nil
}

type recordingEncoder struct {
	hal.CommandEncoder
	dev *countingDevice
}

func (e *recordingEncoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	e.dev.mu.Lock()
	e.dev.passes = append(e.dev.passes, *desc)
	e.dev.mu.Unlock()
	return &recordingPass{RenderPassEncoder: e.CommandEncoder.BeginRenderPass(desc), dev: e.dev}
}

func (e *recordingEncoder) BeginComputePass(desc *hal.ComputePassDescriptor) hal.ComputePassEncoder {
	return &recordingCompute{ComputePassEncoder: e.CommandEncoder.BeginComputePass(desc), dev: e.dev}
}

type recordingPass struct {
	hal.RenderPassEncoder
	dev *countingDevice
}

func (p *recordingPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.dev.mu.Lock()
	p.dev.draws++
	p.dev.mu.Unlock()
}

func (p *recordingPass) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	p.dev.mu.Lock()
	p.dev.draws++
	p.dev.mu.Unlock()
}

type recordingCompute struct {
	hal.ComputePassEncoder
	dev *countingDevice
}

func (p *recordingCompute) Dispatch(x, y, z uint32) {
	p.dev.mu.Lock()
	p.dev.dispatches++
	p.dev.mu.Unlock()
}

var errBroken = errors.New("broken variant")

// fakeCompiler compiles anything, failing variants that define BROKEN.
// Bindings come from the bindings map by path.
type fakeCompiler struct {
	mu       sync.Mutex
	compiles map[string]int
	bindings map[string][]shader.Binding
}

func newFakeCompiler() *fakeCompiler {
	return &fakeCompiler{
		compiles: make(map[string]int),
		bindings: map[string][]shader.Binding{
			"<error>": {{Group: groupCB, Slot: 0, Kind: shader.BindingUniform, Name: "transform"}},
			"shaders/lit.wgsl": {
				{Group: groupCB, Slot: 0, Kind: shader.BindingUniform, Name: "camera"},
				{Group: groupSRV, Slot: 0, Kind: shader.BindingTexture, Name: "albedo"},
				{Group: groupSampler, Slot: 0, Kind: shader.BindingSampler, Name: "linear"},
			},
			"shaders/blur.wgsl": {
				{Group: groupSRV, Slot: 0, Kind: shader.BindingReadOnlyStorage, Name: "input"},
				{Group: groupUAV, Slot: 0, Kind: shader.BindingStorage, Name: "output"},
			},
		},
	}
}

func (c *fakeCompiler) Compile(_ context.Context, u shader.Unit) (*shader.Program, error) {
	c.mu.Lock()
	c.compiles[u.Path]++
	bindings := c.bindings[u.Path]
	c.mu.Unlock()

	if slices.Contains(u.Keywords, "BROKEN") {
		return nil, errBroken
	}
	p := &shader.Program{
		Path:     u.Path,
		Keywords: u.Keywords,
		Source:   u.Source,
		Bindings: bindings,
		Serial:   shader.NextSerial(),
	}
	for s, entry := range u.Entries {
		if entry != "" {
			p.Stages = append(p.Stages, shader.StageCode{Stage: rhi.Stage(s), Entry: entry})
		}
	}
	return p, nil
}

func (c *fakeCompiler) compiled(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compiles[path]
}

var testShaders = fstest.MapFS{
	"shaders/lit.wgsl": {Data: []byte(`#pragma multi_compile _ FOG
#pragma multi_compile _ BROKEN
@vertex fn vs_main() {}
@fragment fn fs_main() {}
`)},
	"shaders/flat.wgsl": {Data: []byte(`@vertex fn vs_main() {}
@fragment fn fs_main() {}
`)},
	"shaders/blur.wgsl": {Data: []byte(`#pragma multi_compile _ WIDE
@compute fn cs_main() {}
`)},
}

var (
	litDesc  = rhi.ShaderSetDesc{Path: "shaders/lit.wgsl", Entry: [rhi.NumStages]string{rhi.StageVertex: "vs_main", rhi.StagePixel: "fs_main"}}
	flatDesc = rhi.ShaderSetDesc{Path: "shaders/flat.wgsl", Entry: [rhi.NumStages]string{rhi.StageVertex: "vs_main", rhi.StagePixel: "fs_main"}}
	blurDesc = rhi.ShaderSetDesc{Path: "shaders/blur.wgsl", Entry: [rhi.NumStages]string{rhi.StageCompute: "cs_main"}}
)

type testDriver struct {
	*Driver
	dev      *countingDevice
	compiler *fakeCompiler
}

func newTestDriver(t *testing.T, opts ...Option) *testDriver {
	t.Helper()
	dev := newCountingDevice()
	comp := newFakeCompiler()
	base := []Option{
		WithCompiler(comp),
		WithShaderFS(testShaders),
		WithSize(64, 32),
		WithCompileWorkers(2),
		WithLogger(slog.New(slog.DiscardHandler)),
	}
	d, err := OpenWithDevice(dev, &noop.Queue{}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("OpenWithDevice: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &testDriver{Driver: d, dev: dev, compiler: comp}
}

// catchFatal routes rhi.Fatal into a slice for the rest of the test.
func catchFatal(t *testing.T) *[]error {
	t.Helper()
	var got []error
	prev := rhi.SetFatalHook(func(err error) { got = append(got, err) })
	t.Cleanup(func() { rhi.SetFatalHook(prev) })
	return &got
}

func wantFatal(t *testing.T, got *[]error, target error) {
	t.Helper()
	if len(*got) == 0 {
		t.Fatalf("no fatal reported, want %v", target)
	}
	last := (*got)[len(*got)-1]
	if !errors.Is(last, target) {
		t.Fatalf("fatal = %v, want %v", last, target)
	}
	*got = (*got)[:0]
}

func mustBuffer(t *testing.T, d *testDriver, desc rhi.BufferDesc, data []byte) rhi.ResId {
	t.Helper()
	id, err := d.CreateBuffer(desc, data)
	if err != nil {
		t.Fatalf("CreateBuffer(%q): %v", desc.Label, err)
	}
	return id
}

func mustTexture(t *testing.T, d *testDriver, desc rhi.TextureDesc) rhi.ResId {
	t.Helper()
	id, err := d.CreateTexture(desc, nil)
	if err != nil {
		t.Fatalf("CreateTexture(%q): %v", desc.Label, err)
	}
	return id
}
