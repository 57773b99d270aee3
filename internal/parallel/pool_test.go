// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestWorkerPool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -5} {
		pool := NewWorkerPool(n)
		if pool.Workers() != runtime.GOMAXPROCS(0) {
			t.Errorf("NewWorkerPool(%d).Workers() = %d, want GOMAXPROCS", n, pool.Workers())
		}
		pool.Close()
	}
}

func TestWorkerPool_ExecuteAll(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	pool.ExecuteAll(work)

	if got := counter.Load(); got != 100 {
		t.Errorf("counter = %d, want 100", got)
	}
}

func TestWorkerPool_ExecuteAllAfterCloseRunsInline(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()

	ran := 0
	pool.ExecuteAll([]func(){func() { ran++ }, func() { ran++ }})
	if ran != 2 {
		t.Errorf("ran = %d, want 2", ran)
	}
}

func TestWorkerPool_RunJoinsErrors(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Close()

	errA := errors.New("variant 1 failed")
	errB := errors.New("variant 4 failed")
	jobs := make([]func(context.Context) error, 6)
	for i := range jobs {
		jobs[i] = func(context.Context) error {
			switch i {
			case 1:
				return errA
			case 4:
				return errB
			}
			return nil
		}
	}

	err := pool.Run(context.Background(), jobs)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Run() = %v, want both errors joined", err)
	}
}

func TestWorkerPool_RunCancelled(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	jobs := []func(context.Context) error{
		func(context.Context) error { ran.Add(1); return nil },
		func(context.Context) error { ran.Add(1); return nil },
	}
	if err := pool.Run(ctx, jobs); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if ran.Load() != 0 {
		t.Errorf("%d jobs ran after cancel", ran.Load())
	}
}

func TestWorkerPool_Submit(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	var wg sync.WaitGroup
	var counter atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		})
	}
	wg.Wait()
	if counter.Load() != 10 {
		t.Errorf("counter = %d, want 10", counter.Load())
	}
	pool.Submit(nil)
}

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()
	if pool.IsRunning() {
		t.Error("pool should not be running after Close")
	}
	pool.Submit(func() { t.Error("work ran on closed pool") })
}

func TestWorkerPool_WorkStealing(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	// One slow job on worker 0 plus many quick jobs that also land on worker 0.
	var quick atomic.Int32
	work := make([]func(), 0, 17)
	work = append(work, func() { time.Sleep(20 * time.Millisecond) })
	for i := 0; i < 16; i++ {
		work = append(work, func() { quick.Add(1) })
	}
	pool.ExecuteAll(work)
	if quick.Load() != 16 {
		t.Errorf("quick = %d, want 16", quick.Load())
	}
	if pool.QueuedWork() != 0 {
		t.Errorf("QueuedWork() = %d after ExecuteAll", pool.QueuedWork())
	}
}

func TestWorkerPool_NoGoroutineLeak(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 5; i++ {
		pool := NewWorkerPool(4)
		pool.ExecuteAll([]func(){func() {}})
		pool.Close()
	}
	time.Sleep(10 * time.Millisecond)
	if after := runtime.NumGoroutine(); after > before+2 {
		t.Errorf("goroutines grew from %d to %d", before, after)
	}
}
