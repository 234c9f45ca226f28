// Package template renders view templates to HTML.
package template

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/dshills/assetstorm/internal/fault"
	"github.com/dshills/assetstorm/internal/process"
)

// Renderer turns template source into HTML.
type Renderer interface {
	Render(ctx context.Context, name string, src []byte) ([]byte, error)
}

// Options configures the built-in renderer.
type Options struct {
	// Partials is a glob of templates made available to every view by
	// their base name without extension, e.g. {{template "header" .}}.
	Partials string

	// Data is a YAML or JSON file passed to every view as its dot value.
	Data string
}

// HTMLRenderer renders html/template views.
type HTMLRenderer struct {
	base *template.Template
	data any
}

// NewHTMLRenderer parses partials and loads data. It fails with a config
// fault if either cannot be read.
func NewHTMLRenderer(opts Options) (*HTMLRenderer, error) {
	base := template.New("").Funcs(funcs)

	if opts.Partials != "" {
		matches, err := doublestar.FilepathGlob(opts.Partials, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fault.Config(opts.Partials, "invalid partials glob: %v", err)
		}
		for _, m := range matches {
			src, err := os.ReadFile(m)
			if err != nil {
				return nil, fault.Config(m, "cannot read partial: %v", err)
			}
			name := strings.TrimSuffix(filepath.Base(m), filepath.Ext(m))
			if _, err := base.New(name).Parse(string(src)); err != nil {
				return nil, fault.Compilation("views", m, err)
			}
		}
	}

	r := &HTMLRenderer{base: base}
	if opts.Data != "" {
		raw, err := os.ReadFile(opts.Data)
		if err != nil {
			return nil, fault.Config(opts.Data, "cannot read view data: %v", err)
		}
		var data map[string]any
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return nil, fault.Config(opts.Data, "invalid view data: %v", err)
		}
		r.data = data
	}
	return r, nil
}

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join":  strings.Join,
}

// Render implements Renderer.
func (r *HTMLRenderer) Render(_ context.Context, name string, src []byte) ([]byte, error) {
	set, err := r.base.Clone()
	if err != nil {
		return nil, err
	}
	t, err := set.New(name).Parse(string(src))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, r.data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Filterer pipes input through an external command.
type Filterer interface {
	Filter(ctx context.Context, name, cmdline string, input []byte) ([]byte, error)
}

// CommandRenderer renders by piping the template through an external
// command, for engines such as pug. "{name}" in the command line is
// replaced with the template's path.
type CommandRenderer struct {
	Runner  Filterer
	Cmdline string
}

// Render implements Renderer.
func (r *CommandRenderer) Render(ctx context.Context, name string, src []byte) ([]byte, error) {
	cmdline := strings.ReplaceAll(r.Cmdline, "{name}", process.ShellEscape(name))
	out, err := r.Runner.Filter(ctx, "views", cmdline, src)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}
