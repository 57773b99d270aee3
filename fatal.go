// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"sync/atomic"
)

// FatalHook receives precondition violations: stale or unknown handles,
// double destroy, missing bind flags. These are programming errors.
type FatalHook func(err error)

var fatalPtr atomic.Pointer[FatalHook]

func init() {
	h := FatalHook(panicHook)
	fatalPtr.Store(&h)
}

func panicHook(err error) { panic(err) }

// SetFatalHook installs h as the fatal handler and returns the previous one.
// A nil h restores the default, which panics with the error.
//
// Tests use this to observe the fatal path without crashing:
//
//	var got error
//	prev := rhi.SetFatalHook(func(err error) { got = err })
//	defer rhi.SetFatalHook(prev)
func SetFatalHook(h FatalHook) FatalHook {
	if h == nil {
		h = panicHook
	}
	prev := fatalPtr.Swap(&h)
	return *prev
}

// Fatal reports a precondition violation through the installed hook.
// With the default hook it does not return.
func Fatal(err error) {
	Logger().Error("rhi: fatal", "err", err)
	(*fatalPtr.Load())(err)
}
