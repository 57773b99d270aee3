// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command rhishaderc compiles every keyword variant of a WGSL shader set.
//
// Usage:
//
//	rhishaderc [options] <input.wgsl>
//
// Examples:
//
//	rhishaderc -list lit.wgsl                     # Print pragma groups and variants
//	rhishaderc lit.wgsl                           # Compile and report every variant
//	rhishaderc -keywords FOG,SHADOWS lit.wgsl     # Report the variant selected for FOG+SHADOWS
//	rhishaderc -lang hlsl -out build lit.wgsl     # Write HLSL for every variant to build/
//	rhishaderc -cs cs_main blur.wgsl              # Compute shader
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/parallel"
	"github.com/gogpu/rhi/shader"
	"github.com/gogpu/rhi/shader/nagac"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	toolVersion = "0.1.0-dev"
)

type options struct {
	keywords []string
	lang     nagac.Lang
	out      string
	entries  [rhi.NumStages]string
	list     bool
	debug    bool
	validate bool
	workers  int
	verbose  bool
	input    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if opts == nil {
		fmt.Fprintf(stdout, "rhishaderc version %s\n", toolVersion)
		return exitOK
	}

	if opts.verbose {
		rhi.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		defer rhi.SetLogger(nil)
	}

	src, err := os.ReadFile(opts.input)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading file: %v\n", err)
		return exitFailed
	}

	groups := shader.ParsePragmas(string(src))
	printGroups(stdout, opts.input, groups)
	if opts.list {
		for i, kw := range shader.Combinations(groups) {
			fmt.Fprintf(stdout, "  [%d] %s\n", i, keywordLabel(kw))
		}
		return exitOK
	}

	set, err := compileSet(ctx, opts, string(src))
	if set == nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	selected := set.Variants()
	if opts.keywords != nil {
		v := set.Variant(set.VariantIndex(opts.keywords))
		fmt.Fprintf(stdout, "keywords %s select variant %d\n", keywordLabel(opts.keywords), v.Index)
		selected = []*shader.Variant{v}
	}

	failed := 0
	for _, v := range selected {
		if !v.OK {
			failed++
			fmt.Fprintf(stdout, "  [%d] %-24s FAILED: %v\n", v.Index, keywordLabel(v.Keywords), v.Err)
			continue
		}
		fmt.Fprintf(stdout, "  [%d] %-24s ok (%d stages, %d bindings)\n",
			v.Index, keywordLabel(v.Keywords), len(v.Program.Stages), len(v.Program.Bindings))
		if opts.out == "" {
			continue
		}
		files, err := writeVariant(opts, v)
		if err != nil {
			fmt.Fprintf(stderr, "Error writing output: %v\n", err)
			return exitFailed
		}
		for _, f := range files {
			fmt.Fprintf(stdout, "      wrote %s\n", f)
		}
	}
	fmt.Fprintf(stdout, "%d of %d variants compiled\n", len(selected)-failed, len(selected))
	if failed > 0 {
		return exitFailed
	}
	return exitOK
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("rhishaderc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		keywords = fs.String("keywords", "", "comma separated keywords; report only the selected variant")
		lang     = fs.String("lang", "spirv", "output language: spirv, hlsl, msl or glsl")
		out      = fs.String("out", "", "output directory (default: no files written)")
		vs       = fs.String("vs", "vs_main", "vertex entry point")
		ps       = fs.String("ps", "fs_main", "pixel entry point, empty for none")
		cs       = fs.String("cs", "", "compute entry point; disables -vs and -ps")
		list     = fs.Bool("list", false, "print variants without compiling")
		debug    = fs.Bool("debug", false, "include SPIR-V debug names")
		validate = fs.Bool("validate", true, "validate IR")
		workers  = fs.Int("j", runtime.GOMAXPROCS(0), "parallel compile jobs")
		verbose  = fs.Bool("v", false, "log compiler activity to stderr")
		version  = fs.Bool("version", false, "print version")
	)
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *version {
		return nil, nil
	}
	if fs.NArg() != 1 {
		usage(fs)
		return nil, errors.New("expected exactly one input file")
	}

	l, err := nagac.ParseLang(*lang)
	if err != nil {
		return nil, err
	}
	if *workers < 1 {
		return nil, fmt.Errorf("-j must be at least 1, got %d", *workers)
	}

	o := &options{
		lang:     l,
		out:      *out,
		list:     *list,
		debug:    *debug,
		validate: *validate,
		workers:  *workers,
		verbose:  *verbose,
		input:    fs.Arg(0),
	}
	if *keywords != "" {
		o.keywords = splitKeywords(*keywords)
	}
	if *cs != "" {
		o.entries[rhi.StageCompute] = *cs
	} else {
		o.entries[rhi.StageVertex] = *vs
		o.entries[rhi.StagePixel] = *ps
	}
	return o, nil
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintf(w, "Usage: rhishaderc [options] <input.wgsl>\n\n")
	fmt.Fprintf(w, "Options:\n")
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  rhishaderc -list lit.wgsl                 Print variants\n")
	fmt.Fprintf(w, "  rhishaderc -keywords FOG lit.wgsl         Report the FOG variant\n")
	fmt.Fprintf(w, "  rhishaderc -lang hlsl -out build lit.wgsl Write HLSL per variant\n")
}

func splitKeywords(s string) []string {
	var kws []string
	for _, kw := range strings.Split(s, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			kws = append(kws, kw)
		}
	}
	return kws
}

// compileSet compiles every variant of the input. The set is nil only when
// the description itself is unusable.
func compileSet(ctx context.Context, o *options, src string) (*shader.Set, error) {
	desc := rhi.ShaderSetDesc{Path: filepath.Base(o.input), Entry: o.entries}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	copts := []nagac.Option{nagac.WithTarget(o.lang), nagac.WithDebug(o.debug)}
	if !o.validate {
		copts = append(copts, nagac.WithoutValidation())
	}

	pool := parallel.NewWorkerPool(o.workers)
	defer pool.Close()

	set := shader.NewSet(desc, nagac.New(copts...),
		shader.WithFS(os.DirFS(filepath.Dir(o.input))),
		shader.WithSource(src),
		shader.WithRunner(pool),
	)
	err := set.Compile(ctx)
	return set, err
}

func printGroups(w io.Writer, path string, groups [][]string) {
	fmt.Fprintf(w, "%s: %d keyword groups, %d variants\n", path, len(groups), len(shader.Combinations(groups)))
	for _, g := range groups {
		opts := make([]string, len(g))
		for i, o := range g {
			if o == "" {
				o = "_"
			}
			opts[i] = o
		}
		fmt.Fprintf(w, "  #pragma multi_compile %s\n", strings.Join(opts, " "))
	}
}

func keywordLabel(kws []string) string {
	if len(kws) == 0 {
		return "<none>"
	}
	return strings.Join(kws, "+")
}

// variantBase names the files of v: the source name followed by its
// keywords, e.g. lit_FOG_SHADOWS.
func variantBase(input string, v *shader.Variant) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if len(v.Keywords) == 0 {
		return base
	}
	return base + "_" + strings.Join(v.Keywords, "_")
}

var langExt = map[nagac.Lang]string{
	nagac.LangHLSL: ".hlsl",
	nagac.LangMSL:  ".metal",
	nagac.LangGLSL: ".glsl",
}

// writeVariant writes the compiled output of v into o.out and returns the
// written paths. SPIR-V holds every stage in one module; text targets get
// one file per stage.
func writeVariant(o *options, v *shader.Variant) ([]string, error) {
	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return nil, err
	}
	base := filepath.Join(o.out, variantBase(o.input, v))

	if o.lang == nagac.LangSPIRV {
		words := v.Program.Stages[0].SPIRV
		buf := make([]byte, 0, len(words)*4)
		for _, w := range words {
			buf = binary.LittleEndian.AppendUint32(buf, w)
		}
		name := base + ".spv"
		return []string{name}, os.WriteFile(name, buf, 0o644)
	}

	var files []string
	for _, sc := range v.Program.Stages {
		name := base + "." + sc.Stage.String() + langExt[o.lang]
		if err := os.WriteFile(name, []byte(sc.Text), 0o644); err != nil {
			return files, err
		}
		files = append(files, name)
	}
	return files, nil
}
