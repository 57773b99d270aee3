// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package submit serializes command submission to the GPU timeline.
//
// A Queue hands out command lists, submits them, and tracks completion with
// a monotonic fence value. Command lists move through three states: in use
// (returned by GetCommandList), submitted (ExecuteCommandList, tied to a
// fence value), and free again once the fence value completes. Completed
// lists are reclaimed on the next GetCommandList or Collect without
// blocking: their encoders are reset and pooled for the next
// GetCommandList, so a steady frame loop creates no new encoders.
//
// Fence values are per Queue and are not comparable across queues.
package submit

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

var (
	// ErrDestroyed is returned by calls on a destroyed queue.
	ErrDestroyed = errors.New("submit: queue destroyed")

	// ErrForeignList is returned when a command list is executed on a queue
	// other than the one that created it.
	ErrForeignList = errors.New("submit: command list belongs to another queue")

	// ErrListClosed is returned when a command list is executed or
	// discarded twice.
	ErrListClosed = errors.New("submit: command list already closed")

	// ErrNeverSignaled is returned when waiting for a fence value the queue
	// has not signaled yet.
	ErrNeverSignaled = errors.New("submit: fence value never signaled")
)

// Kind selects a queue.
type Kind uint8

const (
	Direct Kind = iota
	Compute
	Copy

	numKinds
)

var kindNames = [numKinds]string{"direct", "compute", "copy"}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// slowWaitInterval is how often a blocked WaitForFenceValue logs a warning.
const slowWaitInterval = 5 * time.Second

const (
	minBackoff = 50 * time.Microsecond
	maxBackoff = 2 * time.Millisecond
)

// CommandList is an open command encoder leased from a Queue.
type CommandList struct {
	queue  *Queue
	enc    hal.CommandEncoder
	label  string
	closed bool
}

// Encoder returns the encoder to record commands into.
func (l *CommandList) Encoder() hal.CommandEncoder { return l.enc }

// Label returns the debug label the list was opened with.
func (l *CommandList) Label() string { return l.label }

// Kind returns the kind of the owning queue.
func (l *CommandList) Kind() Kind { return l.queue.kind }

type signal struct {
	value      uint64
	submission uint64
}

type inFlight struct {
	fence uint64
	enc   hal.CommandEncoder
	cmd   hal.CommandBuffer
}

// poolManaged is implemented by encoders that must keep their native pool
// across EndEncoding to be reusable after ResetAll (Vulkan).
type poolManaged interface {
	SetPoolManaged(managed bool)
}

type release struct {
	fence uint64
	fn    func()
}

// Queue is one logical submission queue with its own fence counter.
//
// Queue is safe for concurrent use.
type Queue struct {
	kind   Kind
	device hal.Device
	hq     hal.Queue
	logger *slog.Logger

	mu             sync.Mutex
	signaled       uint64
	completed      uint64
	lastSubmission uint64
	pending        []signal
	inFlight       []inFlight
	free           []hal.CommandEncoder
	releases       []release
	open           int
	destroyed      bool
}

// New returns a queue submitting to hq. Several logical queues may share
// one hal.Queue. A nil logger uses rhi.Logger().
func New(kind Kind, device hal.Device, hq hal.Queue, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = rhi.Logger()
	}
	return &Queue{
		kind:   kind,
		device: device,
		hq:     hq,
		logger: logger.With("queue", kind.String()),
	}
}

// Kind returns the queue kind.
func (q *Queue) Kind() Kind { return q.kind }

// GetCommandList reclaims completed command lists and opens a new one.
func (q *Queue) GetCommandList(label string) (*CommandList, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		return nil, ErrDestroyed
	}
	q.reclaimLocked()

	enc, err := q.acquireLocked(label)
	if err != nil {
		return nil, err
	}
	if err := enc.BeginEncoding(label); err != nil {
		enc.DiscardEncoding()
		enc.Destroy()
		return nil, fmt.Errorf("submit: begin encoding: %w", err)
	}
	q.open++
	return &CommandList{queue: q, enc: enc, label: label}, nil
}

// acquireLocked pops a reset encoder from the free list or creates one.
func (q *Queue) acquireLocked(label string) (hal.CommandEncoder, error) {
	if n := len(q.free); n > 0 {
		enc := q.free[n-1]
		q.free[n-1] = nil
		q.free = q.free[:n-1]
		return enc, nil
	}
	enc, err := q.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("submit: create command encoder: %w", err)
	}
	if pm, ok := enc.(poolManaged); ok {
		pm.SetPoolManaged(true)
	}
	return enc, nil
}

// ExecuteCommandList closes l, submits it and signals a new fence value,
// which is returned. The list must not be used afterwards.
func (q *Queue) ExecuteCommandList(l *CommandList) (uint64, error) {
	if l.queue != q {
		return 0, ErrForeignList
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if l.closed {
		return 0, ErrListClosed
	}
	l.closed = true
	q.open--
	if q.destroyed {
		l.enc.DiscardEncoding()
		l.enc.Destroy()
		return 0, ErrDestroyed
	}

	cmd, err := l.enc.EndEncoding()
	if err != nil {
		l.enc.DiscardEncoding()
		l.enc.Destroy()
		return 0, fmt.Errorf("submit: end encoding %q: %w", l.label, err)
	}
	idx, err := q.hq.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		// Destroying the encoder frees its pool and every buffer in it.
		l.enc.Destroy()
		return 0, fmt.Errorf("submit: submit %q: %w", l.label, err)
	}
	if idx > q.lastSubmission {
		q.lastSubmission = idx
	}
	fence := q.signalLocked()
	q.inFlight = append(q.inFlight, inFlight{fence: fence, enc: l.enc, cmd: cmd})
	return fence, nil
}

// Discard abandons an open command list without submitting it.
func (q *Queue) Discard(l *CommandList) error {
	if l.queue != q {
		return ErrForeignList
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if l.closed {
		return ErrListClosed
	}
	l.closed = true
	q.open--
	l.enc.DiscardEncoding()
	if q.destroyed {
		l.enc.Destroy()
		return nil
	}
	// Nothing was submitted, so the encoder is reusable at once.
	l.enc.ResetAll(nil)
	q.free = append(q.free, l.enc)
	return nil
}

// Signal returns a new fence value that completes once everything
// submitted on this queue so far has finished.
func (q *Queue) Signal() (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return 0, ErrDestroyed
	}
	return q.signalLocked(), nil
}

func (q *Queue) signalLocked() uint64 {
	q.signaled++
	q.pending = append(q.pending, signal{value: q.signaled, submission: q.lastSubmission})
	return q.signaled
}

// advanceLocked moves completed forward using the device's progress.
func (q *Queue) advanceLocked() {
	if len(q.pending) == 0 {
		return
	}
	done := q.hq.PollCompleted()
	i := 0
	for i < len(q.pending) && q.pending[i].submission <= done {
		q.completed = q.pending[i].value
		i++
	}
	q.pending = q.pending[i:]
}

// reclaimLocked resets the encoders whose fence has completed and returns
// them to the free list.
func (q *Queue) reclaimLocked() {
	q.advanceLocked()
	n := 0
	for _, f := range q.inFlight {
		if f.fence <= q.completed {
			f.enc.ResetAll([]hal.CommandBuffer{f.cmd})
			q.free = append(q.free, f.enc)
			continue
		}
		q.inFlight[n] = f
		n++
	}
	clear(q.inFlight[n:])
	q.inFlight = q.inFlight[:n]
}

// LastSignaled returns the most recent fence value, 0 if none.
func (q *Queue) LastSignaled() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.signaled
}

// CompletedValue returns the highest fence value known to be complete.
func (q *Queue) CompletedValue() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.advanceLocked()
	return q.completed
}

// IsFenceComplete reports whether the GPU has reached fence value v.
// It never blocks.
func (q *Queue) IsFenceComplete(v uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if v <= q.completed {
		return true
	}
	q.advanceLocked()
	return v <= q.completed
}

// WaitForFenceValue blocks until fence value v completes. There is no
// timeout; a warning is logged while the wait keeps going.
func (q *Queue) WaitForFenceValue(v uint64) error {
	if v > q.LastSignaled() {
		return fmt.Errorf("%w: %d (last %d)", ErrNeverSignaled, v, q.LastSignaled())
	}

	start := time.Now()
	lastWarn := start
	backoff := minBackoff
	for !q.IsFenceComplete(v) {
		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
		if now := time.Now(); now.Sub(lastWarn) >= slowWaitInterval {
			q.logger.Warn("submit: waiting for GPU", "fence", v, "elapsed", now.Sub(start))
			lastWarn = now
		}
	}
	return nil
}

// Flush waits for all work submitted so far.
func (q *Queue) Flush() error {
	v, err := q.Signal()
	if err != nil {
		return err
	}
	return q.WaitForFenceValue(v)
}

// Release runs fn once fence value v has completed. A completed value runs
// fn immediately on the calling goroutine.
func (q *Queue) Release(v uint64, fn func()) {
	if fn == nil {
		return
	}
	if q.IsFenceComplete(v) {
		fn()
		return
	}
	q.mu.Lock()
	q.releases = append(q.releases, release{fence: v, fn: fn})
	q.mu.Unlock()
}

// Collect reclaims completed command lists and runs due releases. It
// returns the number of releases run.
func (q *Queue) Collect() int {
	q.mu.Lock()
	q.reclaimLocked()
	var due []func()
	n := 0
	for _, r := range q.releases {
		if r.fence <= q.completed {
			due = append(due, r.fn)
			continue
		}
		q.releases[n] = r
		n++
	}
	clear(q.releases[n:])
	q.releases = q.releases[:n]
	q.mu.Unlock()

	for _, fn := range due {
		fn()
	}
	return len(due)
}

// Stats is a snapshot of queue bookkeeping.
type Stats struct {
	Signaled        uint64
	Completed       uint64
	InFlight        int
	Free            int
	Open            int
	PendingReleases int
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.advanceLocked()
	return Stats{
		Signaled:        q.signaled,
		Completed:       q.completed,
		InFlight:        len(q.inFlight),
		Free:            len(q.free),
		Open:            q.open,
		PendingReleases: len(q.releases),
	}
}

// Destroy waits for outstanding work, destroys every pooled and in-flight
// encoder, runs every pending release and rejects further use. Lists still
// open are destroyed when they are executed or discarded.
func (q *Queue) Destroy() {
	if err := q.Flush(); err != nil && !errors.Is(err, ErrDestroyed) {
		q.logger.Error("submit: flush on destroy", "err", err)
	}
	q.Collect()

	q.mu.Lock()
	q.destroyed = true
	rest := q.releases
	q.releases = nil
	for _, f := range q.inFlight {
		f.enc.Destroy()
	}
	q.inFlight = nil
	for _, enc := range q.free {
		enc.Destroy()
	}
	q.free = nil
	q.mu.Unlock()

	for _, r := range rest {
		r.fn()
	}
}
