// Package loader reads assetstorm configuration sources into generic maps.
//
// File loaders handle TOML and YAML. The environment loader maps
// ASSETSTORM_* variables onto section.key paths. Maps from several sources
// are layered with DeepMerge.
package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned by ForPath for unknown file extensions.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Loader produces one configuration layer. A source that does not exist
// yields nil, nil.
type Loader interface {
	Load() (map[string]any, error)
}

// FileLoader is a Loader backed by a file that can also decode other
// paths or arbitrary readers in the same format.
type FileLoader interface {
	Loader
	LoadFrom(path string) (map[string]any, error)
	LoadFromReader(r io.Reader) (map[string]any, error)
}

// FileSystem is the read side used by file loaders.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
}

// OSFS reads from the host file system.
type OSFS struct{}

func (OSFS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (OSFS) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

// DefaultFS returns OSFS.
func DefaultFS() FileSystem { return OSFS{} }

// ForPath picks a loader from the extension of path.
func ForPath(fsys FileSystem, path string) (FileLoader, error) {
	if fsys == nil {
		fsys = DefaultFS()
	}
	ext := strings.ToLower(filepath.Ext(path))
	dec, ok := decoders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return &FormatLoader{fs: fsys, path: path, decode: dec}, nil
}

// ParseError locates a syntax error in a configuration source. Line and
// Column are zero when the decoder does not report them.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	where := e.Path
	switch {
	case e.Line > 0 && e.Column > 0:
		where = fmt.Sprintf("%s at line %d, column %d", e.Path, e.Line, e.Column)
	case e.Line > 0:
		where = fmt.Sprintf("%s at line %d", e.Path, e.Line)
	}
	return "parse error in " + where + ": " + e.Message
}

func (e *ParseError) Unwrap() error { return e.Err }
