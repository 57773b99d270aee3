// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/cache"
	"github.com/gogpu/rhi/internal/parallel"
	"github.com/gogpu/rhi/internal/pipecache"
	"github.com/gogpu/rhi/internal/registry"
	"github.com/gogpu/rhi/internal/submit"
	"github.com/gogpu/rhi/shader"
)

var _ rhi.Driver = (*Driver)(nil)

// backendOrder is the preference order when no backend is configured.
var backendOrder = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
	gputypes.BackendGL,
}

// Driver implements rhi.Driver on a wgpu HAL device.
//
// Lock order is ctxMu, then resMu, then gcMu. Shader compilation runs
// without resMu held.
type Driver struct {
	cfg    config
	logger *slog.Logger

	instance   hal.Instance
	device     hal.Device
	queue      hal.Queue
	ownsDevice bool
	adapter    string

	queues   *submit.Queues
	pool     *parallel.WorkerPool
	compiler shader.Compiler

	resMu    sync.Mutex
	textures *registry.Registry[*texture]
	buffers  *registry.Registry[*buffer]
	samplers *registry.Registry[*sampler]
	states   *registry.Registry[*renderState]
	shaders  *registry.Registry[*shaderSet]
	layouts  *registry.Registry[*inputLayout]
	defaults defaults

	renderPipelines  *pipecache.Cache[pipecache.RenderKey, hal.RenderPipeline]
	computePipelines *pipecache.Cache[pipecache.ComputeKey, hal.ComputePipeline]
	bindGroups       *cache.Cache[bindKey, hal.BindGroup]

	// gcMu guards deferred destruction.
	gcMu      sync.Mutex
	recording int
	graveyard []func()

	errorSet     *shader.Set
	errorCompute *shader.Set

	settingsMu sync.RWMutex
	settings   rhi.Settings

	ctxMu sync.Mutex
	state drawState
	frame frameState
	swap  swapchain

	watcher *shader.Watcher
	watchMu sync.Mutex
	changed []string

	closed atomic.Bool
}

// Open creates a driver on its own device.
func Open(opts ...Option) (*Driver, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	backend, err := selectBackend(&cfg)
	if err != nil {
		return nil, err
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, rhi.ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}

	d, err := newDriver(cfg, openDev.Device, openDev.Queue)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	d.ownsDevice = true
	d.adapter = selected.Info.Name
	d.logger.Info("native: device opened", "backend", backend.Variant(), "adapter", d.adapter)
	return d, nil
}

func selectBackend(cfg *config) (hal.Backend, error) {
	if cfg.backendSet {
		b, ok := hal.GetBackend(cfg.backend)
		if !ok {
			return nil, fmt.Errorf("%w: %v not registered", ErrNoBackend, cfg.backend)
		}
		return b, nil
	}
	for _, v := range backendOrder {
		if b, ok := hal.GetBackend(v); ok {
			return b, nil
		}
	}
	return nil, ErrNoBackend
}

// OpenWithDevice creates a driver on an existing device and queue. The
// driver does not destroy them on Close.
func OpenWithDevice(device hal.Device, queue hal.Queue, opts ...Option) (*Driver, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("native: nil device or queue")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newDriver(cfg, device, queue)
}

// OpenShared creates a driver on the device of a host application. The
// provider must expose HalDevice() and HalQueue(). The backbuffer format
// follows the provider's surface format when it reports one.
func OpenShared(provider gpucontext.DeviceProvider, opts ...Option) (*Driver, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNotHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNotHALProvider)
	}
	if f := provider.SurfaceFormat(); f != gputypes.TextureFormatUndefined {
		opts = append([]Option{WithFormats(f, gputypes.TextureFormatUndefined)}, opts...)
	}
	d, err := OpenWithDevice(device, queue, opts...)
	if err != nil {
		return nil, err
	}
	d.adapter = provider.AdapterInfo().Name
	d.logger.Info("native: sharing host device", "adapter", d.adapter)
	return d, nil
}

func newDriver(cfg config, device hal.Device, queue hal.Queue) (*Driver, error) {
	d := &Driver{
		cfg:      cfg,
		logger:   cfg.logger,
		device:   device,
		queue:    queue,
		compiler: cfg.defaultCompiler(),
		settings: cfg.settings.Sanitized(),

		textures: registry.New[*texture](registry.KindTexture),
		buffers:  registry.New[*buffer](registry.KindBuffer),
		samplers: registry.New[*sampler](registry.KindSampler),
		states:   registry.New[*renderState](registry.KindRenderState),
		shaders:  registry.New[*shaderSet](registry.KindShaderSet),
		layouts:  registry.New[*inputLayout](registry.KindInputLayout),

		renderPipelines:  pipecache.New[pipecache.RenderKey, hal.RenderPipeline](),
		computePipelines: pipecache.New[pipecache.ComputeKey, hal.ComputePipeline](),
	}
	d.queues = submit.NewQueues(device, queue, d.logger)
	d.pool = parallel.NewWorkerPool(cfg.compileWorkers)
	d.bindGroups = cache.New[bindKey, hal.BindGroup](cfg.bindGroupCache, func(_ bindKey, bg hal.BindGroup) {
		d.retire(func() { d.device.DestroyBindGroup(bg) })
	})
	d.state.reset()

	if err := d.init(); err != nil {
		d.teardown()
		return nil, err
	}
	return d, nil
}

func (d *Driver) init() error {
	if err := d.defaults.create(d); err != nil {
		return err
	}

	ctx := context.Background()
	d.errorSet = d.newSet(errorShaderDesc(false), false, shader.WithSource(d.cfg.errorShader))
	if err := d.errorSet.Compile(ctx); err != nil {
		return fmt.Errorf("native: error shader: %w", err)
	}
	d.errorCompute = d.newSet(errorShaderDesc(true), true, shader.WithSource(d.cfg.errorShader))
	if err := d.errorCompute.Compile(ctx); err != nil {
		return fmt.Errorf("native: error compute shader: %w", err)
	}

	if err := d.swap.create(d, d.cfg.width, d.cfg.height); err != nil {
		return err
	}

	if d.cfg.watchDir != "" {
		w, err := shader.NewWatcher(0, d.onShaderChange)
		if err != nil {
			return fmt.Errorf("native: shader watch: %w", err)
		}
		if err := w.Add(d.cfg.watchDir); err != nil {
			_ = w.Close()
			return fmt.Errorf("native: shader watch: %w", err)
		}
		d.watcher = w
	}
	return nil
}

// Close waits for the GPU, releases every resource and, for drivers created
// by Open, destroys the device.
func (d *Driver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()

	var errs []error
	if d.frame.active {
		d.abortFrame()
	}
	if err := d.queues.FlushAll(); err != nil {
		errs = append(errs, err)
	}
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.teardown()
	d.logger.Info("native: driver closed")
	return errors.Join(errs...)
}

// teardown releases everything the driver created. The queues must be idle.
func (d *Driver) teardown() {
	d.swap.destroy(d)
	d.resMu.Lock()
	d.shaders.Each(func(_ rhi.ResId, s *shaderSet) { s.set.Release() })
	d.textures.Each(func(_ rhi.ResId, t *texture) { t.destroy(d.device) })
	d.buffers.Each(func(_ rhi.ResId, b *buffer) { d.device.DestroyBuffer(b.buf) })
	d.samplers.Each(func(_ rhi.ResId, s *sampler) { d.device.DestroySampler(s.smp) })
	d.resMu.Unlock()

	if d.errorSet != nil {
		d.errorSet.Release()
	}
	if d.errorCompute != nil {
		d.errorCompute.Release()
	}
	d.bindGroups.Clear()
	d.renderPipelines.DestroyAll(func(p hal.RenderPipeline) { d.device.DestroyRenderPipeline(p) })
	d.computePipelines.DestroyAll(func(p hal.ComputePipeline) { d.device.DestroyComputePipeline(p) })
	d.defaults.destroy(d.device)

	d.flushGraveyard()
	d.queues.Destroy()
	d.pool.Close()

	if d.ownsDevice {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
}

// Device returns the HAL device. Callers must not destroy it.
func (d *Driver) Device() hal.Device { return d.device }

// Settings returns the current settings.
func (d *Driver) Settings() rhi.Settings {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	return d.settings
}

// SetSettings replaces the settings. A VSync change takes effect at the
// next BeginFrame.
func (d *Driver) SetSettings(s rhi.Settings) {
	s = s.Sanitized()
	d.settingsMu.Lock()
	prev := d.settings
	d.settings = s
	d.settingsMu.Unlock()
	if prev.VSync != s.VSync {
		d.swap.reconfigure.Store(true)
	}
	d.logger.Debug("native: settings changed", "vsync", s.VSync, "fps_limit", s.FPSLimit, "anisotropy", s.Anisotropy)
}

// retire destroys native objects once every queue has passed the work that
// may reference them. While a command list is being recorded the objects
// wait for that list's fence instead.
func (d *Driver) retire(fn func()) {
	d.gcMu.Lock()
	defer d.gcMu.Unlock()
	if d.recording > 0 {
		d.graveyard = append(d.graveyard, fn)
		return
	}
	d.releaseAfterAll(fn)
}

// releaseAfterAll chains fn behind the last signaled fence of every queue.
func (d *Driver) releaseAfterAll(fn func()) {
	direct, compute, cp := d.queues.Direct(), d.queues.Compute(), d.queues.Copy()
	dv, xv, cv := direct.LastSignaled(), compute.LastSignaled(), cp.LastSignaled()
	direct.Release(dv, func() {
		compute.Release(xv, func() {
			cp.Release(cv, fn)
		})
	})
}

// beginRecording defers retirements until endRecording.
func (d *Driver) beginRecording() {
	d.gcMu.Lock()
	d.recording++
	d.gcMu.Unlock()
}

// endRecording hands deferred retirements to the queues. Call it after the
// recorded list was executed or discarded.
func (d *Driver) endRecording() {
	d.gcMu.Lock()
	defer d.gcMu.Unlock()
	d.recording--
	if d.recording > 0 {
		return
	}
	for _, fn := range d.graveyard {
		d.releaseAfterAll(fn)
	}
	d.graveyard = nil
}

func (d *Driver) flushGraveyard() {
	d.gcMu.Lock()
	g := d.graveyard
	d.graveyard = nil
	d.recording = 0
	d.gcMu.Unlock()
	for _, fn := range g {
		fn()
	}
	d.queues.CollectAll()
}

// Stats is a snapshot of driver bookkeeping.
type Stats struct {
	Adapter string

	Textures     int
	Buffers      int
	Samplers     int
	RenderStates int
	ShaderSets   int
	InputLayouts int

	RenderPipelines    int
	ComputePipelines   int
	PipelineHits       uint64
	PipelineMisses     uint64
	PipelineCollisions uint64

	BindGroups         int
	BindGroupEvictions uint64

	InFlight        int
	PendingReleases int
	Frames          uint64
}

// Stats returns current counts.
func (d *Driver) Stats() Stats {
	d.resMu.Lock()
	s := Stats{
		Adapter:      d.adapter,
		Textures:     d.textures.Len(),
		Buffers:      d.buffers.Len(),
		Samplers:     d.samplers.Len(),
		RenderStates: d.states.Len(),
		ShaderSets:   d.shaders.Len(),
		InputLayouts: d.layouts.Len(),
	}
	d.resMu.Unlock()

	rp, cp := d.renderPipelines.Stats(), d.computePipelines.Stats()
	s.RenderPipelines = rp.Entries
	s.ComputePipelines = cp.Entries
	s.PipelineHits = rp.Hits + cp.Hits
	s.PipelineMisses = rp.Misses + cp.Misses
	s.PipelineCollisions = rp.Collisions + cp.Collisions

	bg := d.bindGroups.Stats()
	s.BindGroups = bg.Len
	s.BindGroupEvictions = bg.Evictions

	for _, k := range []submit.Kind{submit.Direct, submit.Compute, submit.Copy} {
		qs := d.queues.Get(k).Stats()
		s.InFlight += qs.InFlight
		s.PendingReleases += qs.PendingReleases
	}
	s.Frames = d.swap.frames.Load()
	return s
}

func (d *Driver) checkOpen() error {
	if d.closed.Load() {
		return rhi.ErrNotOpen
	}
	return nil
}
