// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package submit

import (
	"errors"
	"log/slog"

	"github.com/gogpu/wgpu/hal"
)

// Queues groups the direct, compute and copy queues of one device.
type Queues struct {
	all [numKinds]*Queue
}

// NewQueues creates the three logical queues over one hal.Queue.
func NewQueues(device hal.Device, hq hal.Queue, logger *slog.Logger) *Queues {
	qs := &Queues{}
	for k := range numKinds {
		qs.all[k] = New(k, device, hq, logger)
	}
	return qs
}

// Get returns the queue of kind k.
func (qs *Queues) Get(k Kind) *Queue { return qs.all[k] }

// Direct returns the graphics queue.
func (qs *Queues) Direct() *Queue { return qs.all[Direct] }

// Compute returns the async compute queue.
func (qs *Queues) Compute() *Queue { return qs.all[Compute] }

// Copy returns the upload queue.
func (qs *Queues) Copy() *Queue { return qs.all[Copy] }

// FlushAll waits for every queue in turn.
func (qs *Queues) FlushAll() error {
	var errs []error
	for _, q := range qs.all {
		if err := q.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CollectAll runs Collect on every queue.
func (qs *Queues) CollectAll() int {
	n := 0
	for _, q := range qs.all {
		n += q.Collect()
	}
	return n
}

// Destroy destroys every queue.
func (qs *Queues) Destroy() {
	for _, q := range qs.all {
		q.Destroy()
	}
}
