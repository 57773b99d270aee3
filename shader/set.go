// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/rhi"
)

// Variant is one keyword combination of a Set.
type Variant struct {
	Index    int
	Keywords []string
	// OK reports whether every stage compiled and loaded.
	OK bool
	// Err is the failure when OK is false.
	Err     error
	Program *Program
	// Module is the loaded native object, nil without a Loader or on failure.
	Module Module
}

// HasKeyword reports whether kw is part of the variant's combination.
func (v *Variant) HasKeyword(kw string) bool {
	return slices.Contains(v.Keywords, kw)
}

// Option configures a Set.
type Option func(*Set)

// WithFS sets the file system the source and its includes are read from.
func WithFS(fsys fs.FS) Option {
	return func(s *Set) { s.fsys = fsys }
}

// WithSource compiles src instead of reading the source path.
// Includes are still resolved through the set's file system.
func WithSource(src string) Option {
	return func(s *Set) { s.source = &src }
}

// WithLoader loads every compiled program into a native Module.
func WithLoader(l Loader) Option {
	return func(s *Set) { s.loader = l }
}

// WithRunner runs compile jobs, typically on a worker pool.
func WithRunner(r Runner) Option {
	return func(s *Set) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithLogger sets the logger. The default is rhi.Logger().
func WithLogger(l *slog.Logger) Option {
	return func(s *Set) { s.logger = l }
}

// Set holds every keyword combination of one shader source. Variant indices
// are stable: a combination that fails to compile keeps its slot.
//
// Set is safe for concurrent use.
type Set struct {
	desc     rhi.ShaderSetDesc
	compiler Compiler
	fsys     fs.FS
	source   *string
	loader   Loader
	runner   Runner
	logger   *slog.Logger

	mu       sync.RWMutex
	groups   [][]string
	vocab    []string
	variants []*Variant
	compiled bool
}

// NewSet creates an uncompiled set. Call Compile before selecting variants.
func NewSet(desc rhi.ShaderSetDesc, c Compiler, opts ...Option) *Set {
	s := &Set{
		desc:     desc,
		compiler: c,
		runner:   sequentialRunner{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Set) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return rhi.Logger()
}

// Desc returns the description the set was created with.
func (s *Set) Desc() rhi.ShaderSetDesc { return s.desc }

// Compile builds every keyword combination. A failing combination does not
// stop the others; the returned error joins every failure, and the set stays
// usable with failed variants marked.
func (s *Set) Compile(ctx context.Context) error {
	if s.compiler == nil {
		return ErrNoCompiler
	}
	groups, variants, err := s.build(ctx)

	s.mu.Lock()
	old := s.variants
	s.groups = groups
	s.vocab = Vocabulary(groups)
	s.variants = variants
	s.compiled = true
	s.mu.Unlock()

	releaseVariants(old)
	return err
}

// Recompile reloads the source and rebuilds every variant in place. The old
// native modules are destroyed once the new variants are installed.
func (s *Set) Recompile(ctx context.Context) error {
	s.log().Info("shader: recompiling", "path", s.desc.Path)
	return s.Compile(ctx)
}

// Release destroys every loaded module and empties the set.
func (s *Set) Release() {
	s.mu.Lock()
	old := s.variants
	s.variants = nil
	s.groups = nil
	s.vocab = nil
	s.compiled = false
	s.mu.Unlock()
	releaseVariants(old)
}

func releaseVariants(vs []*Variant) {
	for _, v := range vs {
		if v.Module != nil {
			v.Module.Destroy()
			v.Module = nil
		}
	}
}

func (s *Set) readSource() (string, error) {
	if s.source != nil {
		return *s.source, nil
	}
	if s.fsys == nil {
		return "", fmt.Errorf("shader: no file system to read %s", s.desc.Path)
	}
	data, err := fs.ReadFile(s.fsys, s.desc.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Set) build(ctx context.Context) ([][]string, []*Variant, error) {
	src, err := s.readSource()
	if err != nil {
		cerr := &CompileError{Path: s.desc.Path, Stage: rhi.NumStages, Err: err}
		s.log().Warn("shader: source unavailable", "path", s.desc.Path, "err", err)
		return nil, []*Variant{{Index: 0, Keywords: []string{}, Err: cerr}}, cerr
	}

	groups := ParsePragmas(src)
	combos := Combinations(groups)
	variants := make([]*Variant, len(combos))
	jobs := make([]func(context.Context) error, len(combos))
	for i, kw := range combos {
		v := &Variant{Index: i, Keywords: kw}
		variants[i] = v
		jobs[i] = func(ctx context.Context) error {
			s.compileVariant(ctx, src, v)
			return nil
		}
	}
	runErr := s.runner.Run(ctx, jobs)

	var errs []error
	for _, v := range variants {
		if v.OK {
			continue
		}
		if v.Err == nil {
			cause := runErr
			if cause == nil {
				cause = context.Canceled
			}
			v.Err = &CompileError{Path: s.desc.Path, Keywords: v.Keywords, Stage: rhi.NumStages, Err: cause}
		}
		errs = append(errs, v.Err)
	}
	if len(errs) == 0 {
		s.log().Info("shader: compiled", "path", s.desc.Path, "variants", len(variants))
	}
	return groups, variants, errors.Join(errs...)
}

func (s *Set) compileVariant(ctx context.Context, src string, v *Variant) {
	fail := func(stage rhi.Stage, err error) {
		v.Err = &CompileError{Path: s.desc.Path, Keywords: v.Keywords, Stage: stage, Err: err}
		s.log().Warn("shader: variant failed", "path", s.desc.Path, "variant", v.Index,
			"keywords", v.Keywords, "err", err)
	}

	text, err := Preprocess(s.fsys, s.desc.Path, src, v.Keywords)
	if err != nil {
		fail(rhi.NumStages, err)
		return
	}
	prog, err := s.compiler.Compile(ctx, Unit{
		Path:     s.desc.Path,
		Source:   text,
		Keywords: v.Keywords,
		Entries:  s.desc.Entry,
	})
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			fail(ce.Stage, ce.Err)
		} else {
			fail(rhi.NumStages, err)
		}
		return
	}
	if prog.Serial == 0 {
		prog.Serial = NextSerial()
	}
	v.Program = prog

	if s.loader != nil {
		mod, err := s.loader.Load(prog)
		if err != nil {
			fail(rhi.NumStages, err)
			return
		}
		v.Module = mod
	}
	v.OK = true
}

// Groups returns the option groups declared by the source pragmas.
func (s *Set) Groups() [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups
}

// Keywords returns the sorted keyword vocabulary of the set.
func (s *Set) Keywords() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vocab
}

// Len returns the number of variants, 0 before Compile.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.variants)
}

// Variant returns variant i, or nil when i is out of range.
func (s *Set) Variant(i int) *Variant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.variants) {
		return nil
	}
	return s.variants[i]
}

// Variants returns a snapshot of all variants in index order.
func (s *Set) Variants() []*Variant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.variants)
}

// AllCompiled reports whether the set is compiled and every variant succeeded.
func (s *Set) AllCompiled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.compiled || len(s.variants) == 0 {
		return false
	}
	for _, v := range s.variants {
		if !v.OK {
			return false
		}
	}
	return true
}

// relevant filters keywords down to the set's vocabulary, dropping
// duplicates and keeping request order.
func (s *Set) relevant(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if _, ok := slices.BinarySearch(s.vocab, kw); ok && !slices.Contains(out, kw) {
			out = append(out, kw)
		}
	}
	return out
}

// VariantIndex selects the variant for the requested keywords. Keywords the
// set does not declare are ignored and request order does not matter. A
// variant with exactly the requested keywords wins; otherwise the variant
// containing the most requested keywords is chosen, ties going to the one
// with the fewest other keywords and then to the lowest index.
func (s *Set) VariantIndex(keywords []string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req := s.relevant(keywords)
	best, bestMatched, bestExtra := 0, -1, 0
	for i, v := range s.variants {
		matched := 0
		for _, kw := range req {
			if v.HasKeyword(kw) {
				matched++
			}
		}
		extra := len(v.Keywords) - matched
		if matched > bestMatched || (matched == bestMatched && extra < bestExtra) {
			best, bestMatched, bestExtra = i, matched, extra
		}
	}
	return best
}

// VariantIndexPrefixGreedy narrows the candidates by each requested keyword
// in order and stops before a keyword would leave none. The first remaining
// candidate is returned. The result depends on request order.
func (s *Set) VariantIndexPrefixGreedy(keywords []string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]int, len(s.variants))
	for i := range candidates {
		candidates[i] = i
	}
	for _, kw := range s.relevant(keywords) {
		var next []int
		for _, i := range candidates {
			if s.variants[i].HasKeyword(kw) {
				next = append(next, i)
			}
		}
		if len(next) == 0 {
			break
		}
		candidates = next
	}
	if len(candidates) == 0 {
		return 0
	}
	return candidates[0]
}

// Resolve returns variant i when it compiled, or variant 0 of fallback
// otherwise. substituted reports whether the fallback was used. The result
// is nil only when neither is usable.
func (s *Set) Resolve(i int, fallback *Set) (v *Variant, substituted bool) {
	if v := s.Variant(i); v != nil && v.OK {
		return v, false
	}
	if fallback != nil {
		if fv := fallback.Variant(0); fv != nil && fv.OK {
			return fv, true
		}
	}
	return nil, true
}
