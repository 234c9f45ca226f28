// Package style compiles stylesheets.
//
// The built-in compiler understands a practical subset of SCSS: partial
// imports, variables (with !default and !global), nested rules with the
// parent selector, and nested @media/@supports blocks, which bubble up
// to the top level. Mixins, functions, control flow, interpolation and
// arithmetic are rejected with a syntax error; projects that need them
// should configure an external compiler command.
package style

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"

	"github.com/dshills/assetstorm/internal/sourcemap"
)

// Output styles.
const (
	Expanded   = "expanded"
	Compressed = "compressed"
)

// Options configures a compilation.
type Options struct {
	// BaseDir is the directory names are relative to. Source map sources
	// are reported relative to it.
	BaseDir string

	// IncludePaths are searched for imports after the importing file's
	// directory.
	IncludePaths []string

	// OutputStyle is Expanded or Compressed. Empty means Compressed.
	OutputStyle string

	// Prefix adds vendor-prefixed copies of declarations that still need
	// them.
	Prefix bool
}

// Compiler turns a stylesheet into CSS and an optional source map.
type Compiler interface {
	Compile(ctx context.Context, name string, src []byte, opts Options) ([]byte, *sourcemap.Map, error)
}

// SCSS is the built-in SCSS-subset compiler.
type SCSS struct{}

var minifier = func() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	return m
}()

type decl struct {
	prop, value string
	pos         pos
}

type rule struct {
	at        []string
	selectors []string
	decls     []decl
	file      int
	pos       pos
}

type stmt struct {
	text string
	file int
	pos  pos
}

type blockCtx struct {
	selectors []string
	at        []string
	rule      *rule
	scope     *scope
}

type compilation struct {
	ctx     context.Context
	opts    Options
	builder *sourcemap.Builder
	rules   []*rule
	stmts   []stmt
	stack   []string
}

// Compile implements Compiler.
func (SCSS) Compile(ctx context.Context, name string, src []byte, opts Options) ([]byte, *sourcemap.Map, error) {
	abs := name
	if opts.BaseDir != "" && !filepath.IsAbs(name) {
		abs = filepath.Join(opts.BaseDir, name)
	}
	outName := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)) + ".css"

	c := &compilation{
		ctx:     ctx,
		opts:    opts,
		builder: sourcemap.NewBuilder(outName),
		stack:   []string{abs},
	}
	sc := &scanner{
		name: filepath.ToSlash(name),
		dir:  filepath.Dir(abs),
		file: c.builder.AddSource(filepath.ToSlash(name), src),
		src:  src,
	}

	if err := c.parseBlock(sc, blockCtx{scope: newScope(nil)}, false, pos{}); err != nil {
		return nil, nil, err
	}

	var out []byte
	var err error
	if opts.OutputStyle == Expanded {
		out = c.emitExpanded()
	} else {
		out, err = c.emitCompressed()
	}
	if err != nil {
		return nil, nil, err
	}
	return out, c.builder.Map(), nil
}

func (c *compilation) parseBlock(sc *scanner, bc blockCtx, nested bool, open pos) error {
	for {
		if err := sc.skipSpace(); err != nil {
			return err
		}
		if sc.eof() {
			if nested {
				return sc.errorf(open, "unclosed block")
			}
			return nil
		}
		if sc.peek() == '}' {
			p := sc.pos
			sc.next()
			if !nested {
				return sc.errorf(p, "unexpected }")
			}
			return nil
		}

		start := sc.pos
		text, term, err := sc.readStatement()
		if err != nil {
			return err
		}
		if term == '{' {
			err = c.openBlock(sc, bc, text, start)
		} else if text != "" {
			err = c.statement(sc, bc, text, start)
		}
		if err != nil {
			return err
		}
	}
}

func (c *compilation) newRule(sc *scanner, bc blockCtx, p pos) *rule {
	r := &rule{at: bc.at, selectors: bc.selectors, file: sc.file, pos: p}
	c.rules = append(c.rules, r)
	return r
}

func atName(text string) (string, string) {
	i := 1
	for i < len(text) && isIdent(text[i]) {
		i++
	}
	return text[1:i], strings.TrimSpace(text[i:])
}

func (c *compilation) openBlock(sc *scanner, bc blockCtx, prelude string, start pos) error {
	if prelude == "" {
		return sc.errorf(start, "missing selector")
	}

	child := blockCtx{selectors: bc.selectors, at: bc.at, scope: newScope(bc.scope)}

	if prelude[0] == '@' {
		name, rest := atName(prelude)
		rest, err := bc.scope.substitute(rest)
		if err != nil {
			return sc.errorf(start, "%v", err)
		}
		header := "@" + name
		if rest != "" {
			header += " " + collapseSpace(rest)
		}

		switch name {
		case "media", "supports", "document", "container", "layer":
			child.at = appendCopy(bc.at, header)
			if len(child.selectors) > 0 {
				child.rule = c.newRule(sc, child, start)
			}
		case "keyframes", "-webkit-keyframes", "-moz-keyframes", "-o-keyframes":
			child.at = appendCopy(bc.at, header)
			child.selectors = nil
		case "font-face", "page", "viewport", "counter-style", "property":
			child.selectors = []string{header}
			child.rule = c.newRule(sc, child, start)
		default:
			return sc.errorf(start, "@%s is not supported", name)
		}
		return c.parseBlock(sc, child, true, start)
	}

	sels, err := resolveSelectors(bc.selectors, prelude)
	if err != nil {
		return sc.errorf(start, "%v", err)
	}
	child.selectors = sels
	child.rule = c.newRule(sc, child, start)
	return c.parseBlock(sc, child, true, start)
}

func appendCopy(s []string, v string) []string {
	out := make([]string, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}

// resolveSelectors combines parent selectors with a nested prelude.
func resolveSelectors(parents []string, prelude string) ([]string, error) {
	var children []string
	for _, part := range splitTop(prelude, ',') {
		part = collapseSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty selector in %q", prelude)
		}
		children = append(children, part)
	}
	if len(parents) == 0 {
		for _, ch := range children {
			if strings.Contains(ch, "&") {
				return nil, fmt.Errorf("parent selector & used at top level")
			}
		}
		return children, nil
	}

	out := make([]string, 0, len(parents)*len(children))
	for _, p := range parents {
		for _, ch := range children {
			if strings.Contains(ch, "&") {
				out = append(out, strings.ReplaceAll(ch, "&", p))
			} else {
				out = append(out, p+" "+ch)
			}
		}
	}
	return out, nil
}

func (c *compilation) statement(sc *scanner, bc blockCtx, text string, start pos) error {
	switch text[0] {
	case '$':
		return c.variable(sc, bc, text, start)
	case '@':
		name, rest := atName(text)
		switch name {
		case "import":
			return c.importFiles(sc, bc, rest, start)
		case "charset", "namespace":
			if len(bc.selectors) > 0 || len(bc.at) > 0 {
				return sc.errorf(start, "@%s must be at the top level", name)
			}
			c.stmts = append(c.stmts, stmt{text: "@" + name + " " + collapseSpace(rest), file: sc.file, pos: start})
			return nil
		default:
			return sc.errorf(start, "@%s is not supported", name)
		}
	}

	if bc.rule == nil {
		return sc.errorf(start, "declaration outside of a rule: %q", text)
	}
	i := strings.IndexByte(text, ':')
	if i <= 0 {
		return sc.errorf(start, "expected declaration, found %q", text)
	}
	prop := strings.TrimSpace(text[:i])
	value, err := bc.scope.substitute(strings.TrimSpace(text[i+1:]))
	if err != nil {
		return sc.errorf(start, "%v", err)
	}
	if value == "" {
		return sc.errorf(start, "missing value for %s", prop)
	}
	bc.rule.decls = append(bc.rule.decls, decl{prop: prop, value: collapseSpace(value), pos: start})
	return nil
}

func (c *compilation) variable(sc *scanner, bc blockCtx, text string, start pos) error {
	i := strings.IndexByte(text, ':')
	if i < 0 {
		return sc.errorf(start, "expected ':' after variable name")
	}
	name := strings.TrimSpace(text[1:i])
	for j := 0; j < len(name); j++ {
		if !isIdent(name[j]) {
			return sc.errorf(start, "invalid variable name $%s", name)
		}
	}
	value := strings.TrimSpace(text[i+1:])

	target := bc.scope
	isDefault := false
	for {
		switch {
		case strings.HasSuffix(value, "!default"):
			isDefault = true
			value = strings.TrimSpace(strings.TrimSuffix(value, "!default"))
			continue
		case strings.HasSuffix(value, "!global"):
			target = bc.scope.root()
			value = strings.TrimSpace(strings.TrimSuffix(value, "!global"))
			continue
		}
		break
	}

	if isDefault {
		if _, ok := bc.scope.lookup(name); ok {
			return nil
		}
	}
	resolved, err := bc.scope.substitute(value)
	if err != nil {
		return sc.errorf(start, "%v", err)
	}
	target.vars[name] = collapseSpace(resolved)
	return nil
}

func (c *compilation) importFiles(sc *scanner, bc blockCtx, list string, start pos) error {
	for _, item := range splitTop(list, ',') {
		item = strings.TrimSpace(item)
		if item == "" {
			return sc.errorf(start, "empty @import")
		}
		if isCSSImport(item) {
			if len(bc.selectors) > 0 || len(bc.at) > 0 {
				return sc.errorf(start, "css @import must be at the top level")
			}
			c.stmts = append(c.stmts, stmt{text: "@import " + collapseSpace(item), file: sc.file, pos: start})
			continue
		}

		target := unquote(item)
		path, ok := c.resolve(sc.dir, target)
		if !ok {
			return sc.errorf(start, "file to import not found: %s", target)
		}
		for _, p := range c.stack {
			if p == path {
				return sc.errorf(start, "import cycle: %s", target)
			}
		}
		if err := c.ctx.Err(); err != nil {
			return err
		}

		src, err := os.ReadFile(path)
		if err != nil {
			return sc.errorf(start, "cannot read import: %v", err)
		}
		name := c.sourceName(path)
		sub := &scanner{name: name, dir: filepath.Dir(path), file: c.builder.AddSource(name, src), src: src}

		c.stack = append(c.stack, path)
		err = c.parseBlock(sub, bc, false, pos{})
		c.stack = c.stack[:len(c.stack)-1]
		if err != nil {
			return err
		}
	}
	return nil
}

func isCSSImport(item string) bool {
	u := unquote(item)
	return strings.HasPrefix(item, "url(") ||
		strings.HasSuffix(u, ".css") ||
		strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "//") ||
		u == item
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func (c *compilation) resolve(dir, target string) (string, bool) {
	t := filepath.FromSlash(target)
	d, base := filepath.Split(t)

	var names []string
	if filepath.Ext(base) == ".scss" {
		names = []string{t, filepath.Join(d, "_"+base)}
	} else {
		names = []string{
			t + ".scss",
			filepath.Join(d, "_"+base+".scss"),
			filepath.Join(t, "_index.scss"),
			filepath.Join(t, "index.scss"),
		}
	}

	dirs := []string{dir}
	if filepath.IsAbs(t) {
		dirs = []string{""}
	} else {
		dirs = append(dirs, c.opts.IncludePaths...)
	}

	for _, dd := range dirs {
		for _, n := range names {
			p := filepath.Join(dd, n)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				if abs, err := filepath.Abs(p); err == nil {
					return abs, true
				}
				return p, true
			}
		}
	}
	return "", false
}

func (c *compilation) sourceName(path string) string {
	if c.opts.BaseDir != "" {
		if rel, err := filepath.Rel(c.opts.BaseDir, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}
