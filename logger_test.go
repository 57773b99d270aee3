// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package rhi

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestNopHandler(t *testing.T) {
	h := nopHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), level) {
			t.Errorf("nopHandler.Enabled(%v) = true, want false", level)
		}
	}
	if err := h.Handle(context.Background(), slog.Record{}); err != nil {
		t.Errorf("nopHandler.Handle() = %v, want nil", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).(nopHandler); !ok {
		t.Error("WithAttrs should return nopHandler")
	}
	if _, ok := h.WithGroup("g").(nopHandler); !ok {
		t.Error("WithGroup should return nopHandler")
	}
}

func TestLoggerDefaultSilent(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger() returned nil")
	}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if l.Enabled(context.Background(), level) {
			t.Errorf("default logger should not be enabled for %v", level)
		}
	}
}

func TestSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(custom)

	if Logger() != custom {
		t.Fatal("Logger() did not return the logger passed to SetLogger")
	}
	Logger().Info("device opened", "backend", "noop")
	if !strings.Contains(buf.String(), "device opened") {
		t.Errorf("log output missing message: %s", buf.String())
	}

	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) should restore the silent logger")
	}
}

func TestSetLoggerConcurrent(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetLogger(slog.Default())
		}()
		go func() {
			defer wg.Done()
			Logger().Debug("concurrent")
		}()
	}
	wg.Wait()
}

func TestFatalHook(t *testing.T) {
	var got error
	prev := SetFatalHook(func(err error) { got = err })
	defer SetFatalHook(prev)

	Fatal(ErrInvalidHandle)
	if !errors.Is(got, ErrInvalidHandle) {
		t.Errorf("hook received %v, want %v", got, ErrInvalidHandle)
	}
}

func TestFatalDefaultPanics(t *testing.T) {
	prev := SetFatalHook(nil)
	defer SetFatalHook(prev)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("default fatal hook should panic")
		}
		if err, ok := r.(error); !ok || !errors.Is(err, ErrWrongKind) {
			t.Errorf("panic value = %v, want %v", r, ErrWrongKind)
		}
	}()
	Fatal(ErrWrongKind)
}

func TestResIdString(t *testing.T) {
	if BadResID.Valid() {
		t.Error("BadResID must not be valid")
	}
	if got := BadResID.String(); got != "ResId(bad)" {
		t.Errorf("BadResID.String() = %q", got)
	}
	if got := ResId(0x10).String(); got != "ResId(0x10)" {
		t.Errorf("ResId(0x10).String() = %q", got)
	}
}
