// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/rhi"
)

func runFrame(t *testing.T, d *testDriver, draw func()) {
	t.Helper()
	beginFrame(t, d)
	if draw != nil {
		draw()
	}
	if err := d.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	if err := d.Present(); err != nil {
		t.Fatalf("Present: %v", err)
	}
}

func TestBackbuffersRotate(t *testing.T) {
	d := newTestDriver(t, WithBackbufferCount(3))
	var seen []rhi.ResId
	for range 4 {
		seen = append(seen, d.Backbuffer())
		runFrame(t, d, nil)
	}
	if seen[0] == seen[1] || seen[1] == seen[2] || seen[0] == seen[2] {
		t.Errorf("backbuffers did not rotate: %v", seen)
	}
	if seen[3] != seen[0] {
		t.Errorf("fourth frame used %v, want %v", seen[3], seen[0])
	}
	if s := d.Stats(); s.Frames != 4 {
		t.Errorf("Stats.Frames = %d, want 4", s.Frames)
	}

	desc, _ := d.TextureDesc(seen[0])
	if desc.Width != 64 || desc.Height != 32 || !desc.BindFlags.Has(rhi.BindRenderTarget|rhi.BindShaderResource) {
		t.Errorf("offscreen backbuffer desc = %+v", desc)
	}
	if depth, _ := d.TextureDesc(d.DepthBuffer()); depth.Format != gputypes.TextureFormatDepth24PlusStencil8 {
		t.Errorf("depth format = %v", depth.Format)
	}
}

func TestFrameOrdering(t *testing.T) {
	d := newTestDriver(t)
	if err := d.EndFrame(); !errors.Is(err, rhi.ErrNoFrame) {
		t.Errorf("EndFrame without frame = %v, want ErrNoFrame", err)
	}
	beginFrame(t, d)
	if err := d.BeginFrame(); !errors.Is(err, ErrFrameActive) {
		t.Errorf("nested BeginFrame = %v, want ErrFrameActive", err)
	}
	if err := d.Present(); !errors.Is(err, ErrFrameActive) {
		t.Errorf("Present inside frame = %v, want ErrFrameActive", err)
	}
	if err := d.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	if err := d.Present(); err != nil {
		t.Fatalf("Present: %v", err)
	}
}

func TestCloseDuringFrame(t *testing.T) {
	d := newTestDriver(t)
	flat := mustShader(t, d, flatDesc)
	beginFrame(t, d)
	d.SetShaderSet(flat, 0)
	if err := d.Draw(3, 0); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c, x := d.dev.count("texture"); c != x {
		t.Errorf("textures: created %d, destroyed %d", c, x)
	}
}

func TestResizeKeepsHandles(t *testing.T) {
	d := newTestDriver(t)
	color, depth := d.Backbuffer(), d.DepthBuffer()
	created, destroyed := d.dev.count("texture")
	mark := d.dev.mark()

	if err := d.Resize(640, 480); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if d.Backbuffer() != color || d.DepthBuffer() != depth {
		t.Fatal("Resize changed backbuffer handles")
	}
	for _, id := range []rhi.ResId{color, depth} {
		if desc, _ := d.TextureDesc(id); desc.Width != 640 || desc.Height != 480 {
			t.Errorf("%v is %dx%d after resize", id, desc.Width, desc.Height)
		}
	}
	c, x := d.dev.count("texture")
	if c-created != 3 || x-destroyed != 3 {
		t.Errorf("resize created %d and destroyed %d textures, want 3 and 3", c-created, x-destroyed)
	}
	// Every old texture and view is gone before the first new-size one.
	events := d.dev.eventsSince(mark, "texture", "view")
	lastDestroy, firstCreate := -1, len(events)
	for i, e := range events {
		if strings.HasPrefix(e, "destroy ") {
			lastDestroy = i
		} else if firstCreate == len(events) {
			firstCreate = i
		}
	}
	if lastDestroy < 0 || lastDestroy > firstCreate {
		t.Errorf("resize texture events out of order: %v", events)
	}

	if err := d.Resize(640, 480); err != nil {
		t.Errorf("Resize to the same size: %v", err)
	}
	if c2, _ := d.dev.count("texture"); c2 != c {
		t.Error("Resize to the same size recreated textures")
	}
	if err := d.Resize(0, 10); !errors.Is(err, rhi.ErrInvalidDesc) {
		t.Errorf("Resize(0, 10) = %v, want ErrInvalidDesc", err)
	}

	beginFrame(t, d)
	if err := d.Resize(800, 600); !errors.Is(err, ErrFrameActive) {
		t.Errorf("Resize inside frame = %v, want ErrFrameActive", err)
	}
	if err := d.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
}

func TestFPSLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	var slept []time.Duration
	fakeClock := func(c *config) {
		c.now = func() time.Time { return now }
		c.sleep = func(d time.Duration) {
			slept = append(slept, d)
			now = now.Add(d)
		}
	}
	d := newTestDriver(t, WithSettings(rhi.Settings{VSync: false, FPSLimit: 50}), fakeClock)

	runFrame(t, d, nil)
	now = now.Add(5 * time.Millisecond)
	runFrame(t, d, nil)
	runFrame(t, d, nil)
	want := []time.Duration{15 * time.Millisecond, 20 * time.Millisecond}
	if len(slept) != len(want) || slept[0] != want[0] || slept[1] != want[1] {
		t.Fatalf("slept %v, want %v", slept, want)
	}

	now = now.Add(time.Second)
	runFrame(t, d, nil)
	if len(slept) != 2 {
		t.Errorf("slept after a slow frame: %v", slept[2:])
	}

	d.SetSettings(rhi.Settings{VSync: true, FPSLimit: 50})
	runFrame(t, d, nil)
	if len(slept) != 2 {
		t.Errorf("limiter ran with VSync on: %v", slept[2:])
	}
}

func TestClearBoundTargets(t *testing.T) {
	d := newTestDriver(t)
	flat := mustShader(t, d, flatDesc)
	red := gputypes.Color{R: 1, A: 1}

	beginFrame(t, d)
	d.ClearRenderTarget(d.Backbuffer(), red)
	d.SetShaderSet(flat, 0)
	if err := d.Draw(3, 0); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	passes := d.dev.renderPasses()
	if len(passes) != 1 {
		t.Fatalf("passes = %d, want the cleared pass reused by the draw", len(passes))
	}
	color := passes[0].ColorAttachments[0]
	if color.LoadOp != gputypes.LoadOpClear || color.ClearValue != red {
		t.Errorf("color attachment = %+v, want clear to red", color)
	}
	if ds := passes[0].DepthStencilAttachment; ds == nil || ds.DepthLoadOp != gputypes.LoadOpLoad {
		t.Errorf("depth attachment = %+v, want load", ds)
	}

	d.ClearDepthStencil(d.DepthBuffer(), 1, 7)
	passes = d.dev.renderPasses()
	if len(passes) != 2 {
		t.Fatalf("passes = %d, want 2", len(passes))
	}
	ds := passes[1].DepthStencilAttachment
	if ds.DepthLoadOp != gputypes.LoadOpClear || ds.DepthClearValue != 1 ||
		ds.StencilLoadOp != gputypes.LoadOpClear || ds.StencilClearValue != 7 {
		t.Errorf("depth attachment = %+v, want clear to 1/7", ds)
	}
	if passes[1].ColorAttachments[0].LoadOp != gputypes.LoadOpLoad {
		t.Error("depth clear also cleared color")
	}
	if err := d.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
}

func TestClearUnboundTarget(t *testing.T) {
	d := newTestDriver(t)
	fatals := catchFatal(t)
	flat := mustShader(t, d, flatDesc)
	rt := mustTexture(t, d, rhi.TextureDesc{Label: "shadow", Width: 16, Height: 16,
		Format: gputypes.TextureFormatRGBA8Unorm, BindFlags: rhi.BindRenderTarget | rhi.BindShaderResource})
	srvOnly := mustTexture(t, d, rhi.TextureDesc{Label: "srv", Width: 16, Height: 16,
		Format: gputypes.TextureFormatRGBA8Unorm, BindFlags: rhi.BindShaderResource})

	d.ClearRenderTarget(rt, gputypes.Color{})
	wantFatal(t, fatals, rhi.ErrNoFrame)

	beginFrame(t, d)
	d.ClearRenderTarget(rt, gputypes.Color{B: 1, A: 1})
	passes := d.dev.renderPasses()
	if len(passes) != 1 || len(passes[0].ColorAttachments) != 1 || passes[0].DepthStencilAttachment != nil {
		t.Fatalf("clear pass = %+v, want one color attachment", passes)
	}

	d.SetShaderSet(flat, 0)
	if err := d.Draw(3, 0); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	passes = d.dev.renderPasses()
	if len(passes) != 2 || passes[1].ColorAttachments[0].LoadOp != gputypes.LoadOpLoad {
		t.Errorf("draw after clearing another target: %+v", passes)
	}

	d.ClearRenderTarget(rhi.BadResID, gputypes.Color{})
	wantFatal(t, fatals, rhi.ErrInvalidHandle)
	d.ClearRenderTarget(srvOnly, gputypes.Color{})
	wantFatal(t, fatals, rhi.ErrMissingBindFlag)

	if err := d.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
}

type halProvider struct {
	dev    *countingDevice
	queue  *noop.Queue
	format gputypes.TextureFormat
}

func (p *halProvider) Device() gpucontext.Device { return p.dev }
func (p *halProvider) Queue() gpucontext.Queue { return p.queue }
func (p *halProvider) SurfaceFormat() gputypes.TextureFormat { return p.format }
func (p *halProvider) Adapter() gpucontext.Adapter { return nil }
func (p *halProvider) AdapterInfo() gpucontext.AdapterInfo { return gpucontext.AdapterInfo{Name: "test adapter"} }
func (p *halProvider) HalDevice() any { return p.dev }
func (p *halProvider) HalQueue() any { return p.queue }

type plainProvider struct{ halProvider }

func (p *plainProvider) HalDevice() {}

func TestOpenShared(t *testing.T) {
	p := &halProvider{dev: newCountingDevice(), queue: &noop.Queue{}, format: gputypes.TextureFormatRGBA8Unorm}
	d, err := OpenShared(p, WithCompiler(newFakeCompiler()), WithShaderFS(testShaders))
	if err != nil {
		t.Fatalf("OpenShared: %v", err)
	}
	defer d.Close()

	if got := d.Stats().Adapter; got != "test adapter" {
		t.Errorf("Adapter = %q", got)
	}
	if desc, _ := d.TextureDesc(d.Backbuffer()); desc.Format != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("backbuffer format = %v, want the surface format", desc.Format)
	}

	if _, err := OpenShared(&plainProvider{}); !errors.Is(err, ErrNotHALProvider) {
		t.Errorf("OpenShared(plain) = %v, want ErrNotHALProvider", err)
	}
	if _, err := OpenWithDevice(nil, &noop.Queue{}); err == nil {
		t.Error("OpenWithDevice(nil device) succeeded")
	}
}
