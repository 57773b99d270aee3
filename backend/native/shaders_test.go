// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"errors"
	"testing"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/shader"
)

func TestShaderSetVariants(t *testing.T) {
	d := newTestDriver(t)
	blur, err := d.CreateComputeShader(blurDesc)
	if err != nil {
		t.Fatalf("CreateComputeShader: %v", err)
	}
	if n := d.VariantCount(blur); n != 2 {
		t.Errorf("VariantCount = %d, want 2", n)
	}
	if got := d.VariantIndex(blur, []string{"UNKNOWN", "WIDE"}); got != 1 {
		t.Errorf("VariantIndex(UNKNOWN WIDE) = %d, want 1", got)
	}
	if got := d.compiler.compiled(blurDesc.Path); got != 2 {
		t.Errorf("compiled %d times, want 2", got)
	}

	fatals := catchFatal(t)
	if got := d.VariantCount(rhi.BadResID); got != 0 {
		t.Errorf("VariantCount(bad) = %d", got)
	}
	wantFatal(t, fatals, rhi.ErrInvalidHandle)
}

func TestShaderSetMissingSource(t *testing.T) {
	d := newTestDriver(t)
	id, err := d.CreateShaderSet(rhi.ShaderSetDesc{Path: "shaders/missing.wgsl",
		Entry: [rhi.NumStages]string{rhi.StageVertex: "vs_main"}})
	var ce *shader.CompileError
	if !errors.As(err, &ce) || ce.Path != "shaders/missing.wgsl" {
		t.Fatalf("CreateShaderSet error = %v, want CompileError", err)
	}
	if !d.Exists(id) {
		t.Fatal("set with missing source has no handle")
	}

	flat := mustShader(t, d, flatDesc)
	beginFrame(t, d)
	d.SetShaderSet(id, 0)
	if err := d.Draw(3, 0); err != nil {
		t.Errorf("Draw with missing source: %v", err)
	}
	d.SetShaderSet(flat, 0)
	if err := d.Draw(3, 0); err != nil {
		t.Errorf("Draw: %v", err)
	}
	if err := d.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
}

func TestDestroyShaderSetReleasesModules(t *testing.T) {
	d := newTestDriver(t)
	_, destroyedBefore := d.dev.count("module")
	id := mustShader(t, d, flatDesc)
	d.DestroyResource(id)
	if d.Exists(id) {
		t.Fatal("shader set still exists")
	}
	if _, destroyed := d.dev.count("module"); destroyed != destroyedBefore+1 {
		t.Errorf("modules destroyed = %d, want %d", destroyed-destroyedBefore, 1)
	}
}

func TestRecompileShadersFilter(t *testing.T) {
	d := newTestDriver(t)
	lit, _ := d.CreateShaderSet(litDesc)
	flat := mustShader(t, d, flatDesc)
	litBefore, flatBefore := d.compiler.compiled(litDesc.Path), d.compiler.compiled(flatDesc.Path)

	runFrame(t, d, func() {
		d.SetShaderSet(flat, 0)
		if err := d.Draw(3, 0); err != nil {
			t.Fatalf("Draw: %v", err)
		}
	})

	d.SetSettings(rhi.Settings{VSync: true, ShaderRecompileFilter: "LIT.wgsl"})
	if err := d.RecompileShaders(); !errors.Is(err, errBroken) {
		t.Errorf("RecompileShaders = %v, want the broken variants reported", err)
	}
	if got := d.compiler.compiled(litDesc.Path) - litBefore; got != 4 {
		t.Errorf("lit recompiled %d variants, want 4", got)
	}
	if got := d.compiler.compiled(flatDesc.Path) - flatBefore; got != 0 {
		t.Errorf("flat recompiled %d times, want 0", got)
	}
	if n := d.VariantCount(lit); n != 4 {
		t.Errorf("VariantCount after recompile = %d", n)
	}

	d.SetSettings(rhi.Settings{VSync: true})
	_ = d.RecompileShaders()
	if got := d.compiler.compiled(flatDesc.Path) - flatBefore; got != 1 {
		t.Errorf("flat recompiled %d times with no filter, want 1", got)
	}

	runFrame(t, d, func() {
		d.SetShaderSet(flat, 0)
		if err := d.Draw(3, 0); err != nil {
			t.Fatalf("Draw after recompile: %v", err)
		}
	})
	if s := d.Stats(); s.RenderPipelines != 2 {
		t.Errorf("pipelines = %d, want a new one for the recompiled program", s.RenderPipelines)
	}
}

func TestShaderChangesApplyAtBeginFrame(t *testing.T) {
	d := newTestDriver(t)
	if _, err := d.CreateComputeShader(blurDesc); err != nil {
		t.Fatalf("CreateComputeShader: %v", err)
	}
	mustShader(t, d, flatDesc)
	blurBefore, flatBefore := d.compiler.compiled(blurDesc.Path), d.compiler.compiled(flatDesc.Path)

	d.onShaderChange([]string{"/work/assets/shaders/blur.wgsl"})
	if got := d.compiler.compiled(blurDesc.Path); got != blurBefore {
		t.Fatal("change applied before BeginFrame")
	}
	runFrame(t, d, nil)
	if got := d.compiler.compiled(blurDesc.Path) - blurBefore; got != 2 {
		t.Errorf("blur recompiled %d variants, want 2", got)
	}
	if got := d.compiler.compiled(flatDesc.Path) - flatBefore; got != 0 {
		t.Errorf("flat recompiled %d times, want 0", got)
	}

	d.onShaderChange([]string{"shaders/common.inc"})
	runFrame(t, d, nil)
	if got := d.compiler.compiled(flatDesc.Path) - flatBefore; got != 1 {
		t.Errorf("include change recompiled flat %d times, want 1", got)
	}
	if got := d.compiler.compiled(blurDesc.Path) - blurBefore; got != 4 {
		t.Errorf("include change recompiled blur to %d total, want 4", got)
	}
}
