package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// decodeFunc turns raw file contents into a settings tree. source names
// the input in errors.
type decodeFunc func(source string, data []byte) (map[string]any, error)

var decoders = map[string]decodeFunc{
	".toml": decodeTOML,
	".yaml": decodeYAML,
	".yml":  decodeYAML,
}

// FormatLoader reads one file format.
type FormatLoader struct {
	fs     FileSystem
	path   string
	decode decodeFunc
}

func NewTOMLLoader(path string) *FormatLoader { return NewTOMLLoaderWithFS(DefaultFS(), path) }

func NewTOMLLoaderWithFS(fsys FileSystem, path string) *FormatLoader {
	return &FormatLoader{fs: fsys, path: path, decode: decodeTOML}
}

func NewYAMLLoader(path string) *FormatLoader { return NewYAMLLoaderWithFS(DefaultFS(), path) }

func NewYAMLLoaderWithFS(fsys FileSystem, path string) *FormatLoader {
	return &FormatLoader{fs: fsys, path: path, decode: decodeYAML}
}

func (l *FormatLoader) Load() (map[string]any, error) { return l.LoadFrom(l.path) }

// LoadFrom decodes path. A missing file is not an error.
func (l *FormatLoader) LoadFrom(path string) (map[string]any, error) {
	data, err := l.fs.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return l.decode(path, data)
}

func (l *FormatLoader) LoadFromReader(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return l.decode("<reader>", data)
}

func decodeTOML(source string, data []byte) (map[string]any, error) {
	var out map[string]any
	err := toml.Unmarshal(data, &out)
	if err == nil {
		return out, nil
	}
	perr := &ParseError{Path: source, Message: err.Error(), Err: err}
	var de *toml.DecodeError
	if errors.As(err, &de) {
		perr.Line, perr.Column = de.Position()
	}
	return nil, perr
}

func decodeYAML(source string, data []byte) (map[string]any, error) {
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		var te *yaml.TypeError
		if !errors.As(err, &te) {
			perr.Line = yamlLine(err.Error())
		}
		return nil, perr
	}
	for k, v := range out {
		out[k] = stringKeys(v)
	}
	return out, nil
}

// yamlLine pulls the line number out of "yaml: line N: ..." messages.
func yamlLine(msg string) int {
	var n int
	if _, err := fmt.Sscanf(msg, "yaml: line %d:", &n); err != nil {
		return 0
	}
	return n
}

// stringKeys rewrites the map[any]any values yaml produces for
// non-string keys into map[string]any, recursively.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = stringKeys(t[i])
		}
	}
	return v
}
