// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/rhi"
)

// DefaultDebounce is how long a Watcher waits for further events before
// reporting a batch of changes. Editors often write a file in several steps.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reports shader source changes on disk.
type Watcher struct {
	watch    *fsnotify.Watcher
	onChange func(paths []string)
	delay    time.Duration
	logger   *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWatcher starts watching. onChange runs on the watcher goroutine with
// the sorted, cleaned paths that changed since the previous call.
// A delay of zero uses DefaultDebounce.
func NewWatcher(delay time.Duration, onChange func(paths []string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		delay = DefaultDebounce
	}
	w := &Watcher{
		watch:    fw,
		onChange: onChange,
		delay:    delay,
		logger:   rhi.Logger(),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Add watches a file or a directory (not recursively).
func (w *Watcher) Add(path string) error {
	return w.watch.Add(path)
}

// Remove stops watching path.
func (w *Watcher) Remove(path string) error {
	return w.watch.Remove(path)
}

// Close stops the watcher. Pending changes are dropped.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.watch.Close()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	pending := make(map[string]bool)
	timer := time.NewTimer(w.delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watch.Events:
			if !ok {
				return
			}
			switch {
			case event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create ||
				event.Op&fsnotify.Rename == fsnotify.Rename ||
				event.Op&fsnotify.Remove == fsnotify.Remove:
				pending[filepath.Clean(event.Name)] = true
				timer.Reset(w.delay)
			}
		case err, ok := <-w.watch.Errors:
			if !ok {
				return
			}
			w.logger.Warn("shader: watch error", "err", err)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			if w.onChange != nil {
				w.onChange(paths)
			}
		}
	}
}
