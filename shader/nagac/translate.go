// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nagac

import (
	"fmt"
	"strings"

	"github.com/gogpu/naga/glsl"
	"github.com/gogpu/naga/hlsl"
	"github.com/gogpu/naga/msl"
)

// Lang is a shader output language.
type Lang uint8

const (
	LangSPIRV Lang = iota
	LangHLSL
	LangMSL
	LangGLSL
)

var langNames = [...]string{"spirv", "hlsl", "msl", "glsl"}

func (l Lang) String() string {
	if int(l) < len(langNames) {
		return langNames[l]
	}
	return fmt.Sprintf("Lang(%d)", uint8(l))
}

// ParseLang parses a language name as printed by Lang.String.
func ParseLang(s string) (Lang, error) {
	for i, name := range langNames {
		if strings.EqualFold(s, name) {
			return Lang(i), nil
		}
	}
	return 0, fmt.Errorf("nagac: unknown language %q", s)
}

// Translate converts WGSL source to text in lang for one entry point.
// An empty entry translates the whole module where the target allows it.
// LangSPIRV has no text form.
func Translate(src string, lang Lang, entry string) (string, error) {
	m, err := lower(src, true)
	if err != nil {
		return "", err
	}
	switch lang {
	case LangHLSL:
		opts := hlsl.DefaultOptions()
		opts.EntryPoint = entry
		out, _, err := hlsl.Compile(m, opts)
		return out, err
	case LangMSL:
		out, _, err := msl.Compile(m, msl.DefaultOptions())
		return out, err
	case LangGLSL:
		opts := glsl.DefaultOptions()
		opts.EntryPoint = entry
		out, _, err := glsl.Compile(m, opts)
		return out, err
	}
	return "", fmt.Errorf("nagac: %s has no text form", lang)
}
