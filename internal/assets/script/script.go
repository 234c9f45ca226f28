// Package script minifies JavaScript and CSS bundles.
package script

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"

	"github.com/dshills/assetstorm/internal/process"
)

// Media types understood by LibMinifier.
const (
	JavaScript = "application/javascript"
	CSS        = "text/css"
)

// Minifier shrinks code of a media type.
type Minifier interface {
	Minify(ctx context.Context, mediaType string, code []byte) ([]byte, error)
}

// MediaType returns the media type for a file name, or "" if unknown.
func MediaType(name string) string {
	switch filepath.Ext(name) {
	case ".js", ".mjs", ".cjs":
		return JavaScript
	case ".css":
		return CSS
	}
	return ""
}

// LibMinifier minifies in-process.
type LibMinifier struct {
	m *minify.M
}

// NewLibMinifier creates a LibMinifier.
func NewLibMinifier() *LibMinifier {
	m := minify.New()
	m.AddFunc(JavaScript, js.Minify)
	m.AddFunc("text/javascript", js.Minify)
	m.AddFunc(CSS, css.Minify)
	return &LibMinifier{m: m}
}

// Minify implements Minifier.
func (l *LibMinifier) Minify(_ context.Context, mediaType string, code []byte) ([]byte, error) {
	out, err := l.m.Bytes(mediaType, code)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Filterer pipes input through an external command.
type Filterer interface {
	Filter(ctx context.Context, name, cmdline string, input []byte) ([]byte, error)
}

// CommandMinifier runs an external minifier such as "terser -c -m".
// "{type}" in the command line is replaced with the media type.
type CommandMinifier struct {
	Runner  Filterer
	Cmdline string
}

// Minify implements Minifier.
func (c *CommandMinifier) Minify(ctx context.Context, mediaType string, code []byte) ([]byte, error) {
	cmdline := c.Cmdline
	if mediaType != "" {
		cmdline = strings.ReplaceAll(cmdline, "{type}", process.ShellEscape(mediaType))
	}
	out, err := c.Runner.Filter(ctx, "minify", cmdline, code)
	if err != nil {
		return nil, fmt.Errorf("minify: %w", err)
	}
	return out, nil
}
