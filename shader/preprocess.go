// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"unicode"
)

// maxIncludeDepth bounds nested #include chains.
const maxIncludeDepth = 32

// PreprocessError reports a malformed directive.
type PreprocessError struct {
	Path string
	Line int
	Msg  string
}

func (e *PreprocessError) Error() string {
	return fmt.Sprintf("shader: %s:%d: %s", e.Path, e.Line, e.Msg)
}

// Preprocess expands directives in src with every keyword defined as 1.
//
// Supported directives are #define, #undef, #ifdef, #ifndef, #if, #elif,
// #else, #endif and #include "file". Includes are resolved through fsys
// relative to the including file and are expanded at most once per path.
// #pragma lines are blanked. Lines removed by the preprocessor are kept as
// empty lines so diagnostics from the top-level file keep their line numbers.
func Preprocess(fsys fs.FS, name, src string, keywords []string) (string, error) {
	p := &preprocessor{
		fsys:     fsys,
		macros:   make(map[string]string, len(keywords)),
		included: map[string]bool{path.Clean(name): true},
	}
	for _, kw := range keywords {
		if kw != "" {
			p.macros[kw] = "1"
		}
	}
	var out strings.Builder
	out.Grow(len(src))
	if err := p.run(&out, name, src, 0); err != nil {
		return "", err
	}
	return out.String(), nil
}

type condFrame struct {
	parentActive bool
	active       bool
	taken        bool
	sawElse      bool
	line         int
}

type preprocessor struct {
	fsys     fs.FS
	macros   map[string]string
	included map[string]bool
}

func (p *preprocessor) run(out *strings.Builder, name, src string, depth int) error {
	var stack []condFrame
	active := func() bool {
		return len(stack) == 0 || stack[len(stack)-1].active
	}
	fail := func(line int, format string, args ...any) error {
		return &PreprocessError{Path: name, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	lines := strings.Split(src, "\n")
	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)

		if !strings.HasPrefix(trimmed, "#") {
			if active() {
				out.WriteString(p.expand(line))
			}
			if i < len(lines)-1 {
				out.WriteByte('\n')
			}
			continue
		}

		directive, arg := splitDirective(trimmed)
		switch directive {
		case "ifdef", "ifndef":
			macro := firstWord(arg)
			if macro == "" {
				return fail(lineNo, "#%s without a name", directive)
			}
			_, defined := p.macros[macro]
			cond := defined == (directive == "ifdef")
			parent := active()
			stack = append(stack, condFrame{parentActive: parent, active: parent && cond, taken: cond, line: lineNo})
		case "if":
			v, err := p.eval(arg)
			if err != nil {
				return fail(lineNo, "#if: %v", err)
			}
			parent := active()
			stack = append(stack, condFrame{parentActive: parent, active: parent && v != 0, taken: v != 0, line: lineNo})
		case "elif":
			if len(stack) == 0 {
				return fail(lineNo, "#elif without #if")
			}
			top := &stack[len(stack)-1]
			if top.sawElse {
				return fail(lineNo, "#elif after #else")
			}
			if top.taken {
				top.active = false
				break
			}
			v, err := p.eval(arg)
			if err != nil {
				return fail(lineNo, "#elif: %v", err)
			}
			top.taken = v != 0
			top.active = top.parentActive && top.taken
		case "else":
			if len(stack) == 0 {
				return fail(lineNo, "#else without #if")
			}
			top := &stack[len(stack)-1]
			if top.sawElse {
				return fail(lineNo, "duplicate #else")
			}
			top.sawElse = true
			top.active = top.parentActive && !top.taken
			top.taken = true
		case "endif":
			if len(stack) == 0 {
				return fail(lineNo, "#endif without #if")
			}
			stack = stack[:len(stack)-1]
		case "define":
			if !active() {
				break
			}
			macro, value := splitDefine(arg)
			if macro == "" {
				return fail(lineNo, "#define without a name")
			}
			p.macros[macro] = value
		case "undef":
			if active() {
				delete(p.macros, firstWord(arg))
			}
		case "include":
			if !active() {
				break
			}
			if depth >= maxIncludeDepth {
				return fail(lineNo, "#include nested too deeply")
			}
			target, err := strconv.Unquote(strings.TrimSpace(arg))
			if err != nil || target == "" {
				return fail(lineNo, "malformed #include %s", arg)
			}
			if p.fsys == nil {
				return fail(lineNo, "#include %q: no file system", target)
			}
			full := path.Join(path.Dir(name), target)
			if p.included[full] {
				break
			}
			p.included[full] = true
			data, err := fs.ReadFile(p.fsys, full)
			if err != nil {
				return fail(lineNo, "#include: %v", err)
			}
			if err := p.run(out, full, string(data), depth+1); err != nil {
				return err
			}
		case "pragma":
		default:
			if active() {
				out.WriteString(p.expand(line))
			}
		}
		if i < len(lines)-1 {
			out.WriteByte('\n')
		}
	}
	if len(stack) > 0 {
		return fail(stack[len(stack)-1].line, "unterminated conditional block")
	}
	return nil
}

func splitDirective(line string) (directive, arg string) {
	rest := strings.TrimSpace(line[1:])
	if c := strings.Index(rest, "//"); c >= 0 {
		rest = rest[:c]
	}
	end := strings.IndexFunc(rest, unicode.IsSpace)
	if end < 0 {
		return rest, ""
	}
	return rest[:end], strings.TrimSpace(rest[end:])
}

func splitDefine(arg string) (name, value string) {
	end := strings.IndexFunc(arg, unicode.IsSpace)
	if end < 0 {
		return arg, ""
	}
	return arg[:end], strings.TrimSpace(arg[end:])
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

func isIdentStart(r byte) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r byte) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

// expand substitutes macros that carry a value. Macros defined without a
// value only participate in conditionals.
func (p *preprocessor) expand(line string) string {
	hasValued := false
	for _, v := range p.macros {
		if v != "" {
			hasValued = true
			break
		}
	}
	if !hasValued {
		return line
	}

	var b strings.Builder
	for i := 0; i < len(line); {
		c := line[i]
		if c == '/' && i+1 < len(line) && line[i+1] == '/' {
			b.WriteString(line[i:])
			break
		}
		if !isIdentStart(c) {
			b.WriteByte(c)
			i++
			continue
		}
		j := i + 1
		for j < len(line) && isIdentPart(line[j]) {
			j++
		}
		word := line[i:j]
		if v, ok := p.macros[word]; ok && v != "" {
			b.WriteString(v)
		} else {
			b.WriteString(word)
		}
		i = j
	}
	return b.String()
}

// eval evaluates a #if expression made of integers, identifiers,
// defined(NAME), !, &&, || and parentheses.
func (p *preprocessor) eval(expr string) (int64, error) {
	e := &exprParser{src: expr, macros: p.macros}
	v, err := e.or()
	if err != nil {
		return 0, err
	}
	e.skipSpace()
	if e.pos < len(e.src) {
		return 0, fmt.Errorf("unexpected %q", e.src[e.pos:])
	}
	return v, nil
}

type exprParser struct {
	src    string
	pos    int
	macros map[string]string
}

func (e *exprParser) skipSpace() {
	for e.pos < len(e.src) && (e.src[e.pos] == ' ' || e.src[e.pos] == '\t') {
		e.pos++
	}
}

func (e *exprParser) consume(tok string) bool {
	e.skipSpace()
	if strings.HasPrefix(e.src[e.pos:], tok) {
		e.pos += len(tok)
		return true
	}
	return false
}

func (e *exprParser) or() (int64, error) {
	l, err := e.and()
	if err != nil {
		return 0, err
	}
	for e.consume("||") {
		r, err := e.and()
		if err != nil {
			return 0, err
		}
		l = boolInt(l != 0 || r != 0)
	}
	return l, nil
}

func (e *exprParser) and() (int64, error) {
	l, err := e.unary()
	if err != nil {
		return 0, err
	}
	for e.consume("&&") {
		r, err := e.unary()
		if err != nil {
			return 0, err
		}
		l = boolInt(l != 0 && r != 0)
	}
	return l, nil
}

func (e *exprParser) unary() (int64, error) {
	if e.consume("!") {
		v, err := e.unary()
		if err != nil {
			return 0, err
		}
		return boolInt(v == 0), nil
	}
	return e.primary()
}

func (e *exprParser) primary() (int64, error) {
	e.skipSpace()
	if e.pos >= len(e.src) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	if e.consume("(") {
		v, err := e.or()
		if err != nil {
			return 0, err
		}
		if !e.consume(")") {
			return 0, fmt.Errorf("missing )")
		}
		return v, nil
	}

	c := e.src[e.pos]
	switch {
	case c >= '0' && c <= '9':
		start := e.pos
		for e.pos < len(e.src) && isIdentPart(e.src[e.pos]) {
			e.pos++
		}
		return strconv.ParseInt(e.src[start:e.pos], 0, 64)
	case isIdentStart(c):
		name := e.ident()
		if name == "defined" {
			paren := e.consume("(")
			e.skipSpace()
			target := e.ident()
			if target == "" {
				return 0, fmt.Errorf("defined without a name")
			}
			if paren && !e.consume(")") {
				return 0, fmt.Errorf("missing ) after defined(%s", target)
			}
			_, ok := e.macros[target]
			return boolInt(ok), nil
		}
		v, ok := e.macros[name]
		if !ok || v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("macro %s=%q is not an integer", name, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("unexpected %q", e.src[e.pos:])
}

func (e *exprParser) ident() string {
	start := e.pos
	for e.pos < len(e.src) && isIdentPart(e.src[e.pos]) {
		e.pos++
	}
	return e.src[start:e.pos]
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
