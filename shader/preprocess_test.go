// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func TestPreprocessConditionals(t *testing.T) {
	src := `#pragma multi_compile _ SHADOWS FOG
a
#ifdef SHADOWS
shadows
#else
no_shadows
#endif
#ifndef FOG
no_fog
#endif
#if defined(SHADOWS) && !defined(FOG)
only_shadows
#elif defined FOG
only_fog
#else
neither
#endif`

	tests := []struct {
		keywords []string
		want     string
	}{
		{nil, "a no_shadows no_fog neither"},
		{[]string{"SHADOWS"}, "a shadows no_fog only_shadows"},
		{[]string{"FOG"}, "a no_shadows only_fog"},
		{[]string{"SHADOWS", "FOG"}, "a shadows only_fog"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.keywords, "+"), func(t *testing.T) {
			out, err := Preprocess(nil, "test.wgsl", src, tt.keywords)
			if err != nil {
				t.Fatalf("Preprocess: %v", err)
			}
			if got := strings.Join(lines(out), " "); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPreprocessKeepsLineNumbers(t *testing.T) {
	src := "#ifdef X\nskipped\n#endif\nkept"
	out, err := Preprocess(nil, "a.wgsl", src, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Split(out, "\n")
	if len(got) != 4 || got[3] != "kept" {
		t.Errorf("lines = %q, want kept on line 4", got)
	}
}

func TestPreprocessNested(t *testing.T) {
	src := "#ifdef A\n#ifdef B\nab\n#else\na\n#endif\n#else\n#ifdef B\nb\n#endif\nnone\n#endif"
	tests := map[string][]string{
		"ab":     {"A", "B"},
		"a":      {"A"},
		"b none": {"B"},
		"none":   nil,
	}
	for want, kw := range tests {
		out, err := Preprocess(nil, "n.wgsl", src, kw)
		if err != nil {
			t.Fatal(err)
		}
		if got := strings.Join(lines(out), " "); got != want {
			t.Errorf("keywords %v: got %q, want %q", kw, got, want)
		}
	}
}

func TestPreprocessDefineAndExpand(t *testing.T) {
	src := "#define COUNT 4\n#define FLAG\nlet n = COUNT; // COUNT stays\n#if COUNT > 0\n#endif\n#undef COUNT\nlet m = COUNT;"
	_, err := Preprocess(nil, "d.wgsl", src, nil)
	if err == nil {
		t.Fatal("expected error for unsupported > operator")
	}

	src = "#define COUNT 4\n#define FLAG\nlet n = COUNT; // COUNT stays\n#if COUNT && FLAG_OFF == 0\n#endif\n#undef COUNT\nlet m = COUNT;"
	_, err = Preprocess(nil, "d.wgsl", src, nil)
	var pe *PreprocessError
	if !errors.As(err, &pe) || pe.Line != 4 {
		t.Fatalf("err = %v, want PreprocessError on line 4", err)
	}

	src = "#define COUNT 4\n#define FLAG\nlet n = COUNT; // COUNT stays\n#if COUNT\nyes\n#endif\n#undef COUNT\nlet m = COUNT;"
	out, err := Preprocess(nil, "d.wgsl", src, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := "let n = 4; // COUNT stays yes let m = COUNT;"
	if got := strings.Join(lines(out), " "); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPreprocessInclude(t *testing.T) {
	fsys := fstest.MapFS{
		"shaders/main.wgsl":           {Data: []byte("#include \"lib/common.wgsl\"\n#include \"lib/common.wgsl\"\nmain")},
		"shaders/lib/common.wgsl":     {Data: []byte("#include \"math.wgsl\"\ncommon")},
		"shaders/lib/math.wgsl":       {Data: []byte("#ifdef FAST\nfast_math\n#else\nmath\n#endif")},
		"shaders/broken.wgsl":         {Data: []byte("#include \"missing.wgsl\"")},
		"shaders/lib/unbalanced.wgsl": {Data: []byte("#ifdef X")},
		"shaders/bad_include.wgsl":    {Data: []byte("#include \"lib/unbalanced.wgsl\"")},
	}

	src, _ := fsys.ReadFile("shaders/main.wgsl")
	out, err := Preprocess(fsys, "shaders/main.wgsl", string(src), []string{"FAST"})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if got, want := strings.Join(lines(out), " "), "fast_math common main"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	_, err = Preprocess(fsys, "shaders/broken.wgsl", "#include \"missing.wgsl\"", nil)
	var pe *PreprocessError
	if !errors.As(err, &pe) || pe.Path != "shaders/broken.wgsl" {
		t.Errorf("missing include: err = %v", err)
	}

	_, err = Preprocess(fsys, "shaders/bad_include.wgsl", "#include \"lib/unbalanced.wgsl\"", nil)
	if !errors.As(err, &pe) || pe.Path != "shaders/lib/unbalanced.wgsl" {
		t.Errorf("unbalanced include: err = %v", err)
	}

	if _, err := Preprocess(nil, "x.wgsl", "#include \"a.wgsl\"", nil); err == nil {
		t.Error("include without file system should fail")
	}
}

func TestPreprocessErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"else without if", "a\n#else", 2},
		{"endif without if", "#endif", 1},
		{"unterminated", "#ifdef A\nx", 1},
		{"duplicate else", "#ifdef A\n#else\n#else\n#endif", 3},
		{"elif after else", "#if 1\n#else\n#elif 1\n#endif", 3},
		{"bad expression", "#if (A\n#endif", 1},
		{"ifdef without name", "#ifdef\n#endif", 1},
		{"malformed include", "#include <a.wgsl>", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Preprocess(nil, "e.wgsl", tt.src, nil)
			var pe *PreprocessError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *PreprocessError", err)
			}
			if pe.Line != tt.line {
				t.Errorf("line = %d, want %d (%v)", pe.Line, tt.line, err)
			}
		})
	}
}

func TestPreprocessStripsPragmas(t *testing.T) {
	out, err := Preprocess(nil, "p.wgsl", "#pragma multi_compile A B\nbody", []string{"A"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "pragma") {
		t.Errorf("pragma not stripped: %q", out)
	}
}
