// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"sort"
	"strings"
)

const (
	pragmaMarker = "#pragma"
	multiCompile = "multi_compile"
	commentMark  = "//"
)

// ParsePragmas scans src for lines of the form
//
//	#pragma multi_compile KW_A KW_B ...
//
// and returns one option group per line, in source order. A line whose
// pragma sits behind a // comment is ignored, and a // after the pragma
// ends the option list. An option made only of underscores means "none of
// this group" and is returned as the empty string. Repeated options within a
// line are dropped; lines without options contribute nothing.
func ParsePragmas(src string) [][]string {
	var groups [][]string
	for _, line := range strings.Split(src, "\n") {
		at := strings.Index(line, pragmaMarker)
		if at < 0 {
			continue
		}
		if c := strings.Index(line, commentMark); c >= 0 && c < at {
			continue
		}
		rest := line[at+len(pragmaMarker):]
		if c := strings.Index(rest, commentMark); c >= 0 {
			rest = rest[:c]
		}
		fields := strings.Fields(rest)
		if len(fields) < 2 || fields[0] != multiCompile {
			continue
		}

		seen := make(map[string]bool, len(fields)-1)
		opts := make([]string, 0, len(fields)-1)
		for _, f := range fields[1:] {
			if isOffOption(f) {
				f = ""
			}
			if seen[f] {
				continue
			}
			seen[f] = true
			opts = append(opts, f)
		}
		groups = append(groups, opts)
	}
	return groups
}

func isOffOption(tok string) bool {
	return strings.Trim(tok, "_") == ""
}

// Combinations returns the Cartesian product of groups, picking one option
// per group. The product is seeded with the empty combination, so the
// result always has at least one element. Empty options are left out of the
// keyword lists. Combination i varies the last group fastest.
func Combinations(groups [][]string) [][]string {
	combos := [][]string{{}}
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		next := make([][]string, 0, len(combos)*len(g))
		for _, c := range combos {
			for _, opt := range g {
				kw := make([]string, len(c), len(c)+1)
				copy(kw, c)
				if opt != "" {
					kw = append(kw, opt)
				}
				next = append(next, kw)
			}
		}
		combos = next
	}
	return combos
}

// Vocabulary returns the sorted set of keywords declared across groups.
func Vocabulary(groups [][]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		for _, kw := range g {
			if kw != "" && !seen[kw] {
				seen[kw] = true
				out = append(out, kw)
			}
		}
	}
	sort.Strings(out)
	return out
}
