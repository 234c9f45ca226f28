package pipeline

import (
	"maps"
	"path/filepath"

	"github.com/dshills/assetstorm/internal/sourcemap"
)

// FileRecord is one file flowing through a pipeline. Records are
// immutable; the With methods return modified copies.
type FileRecord struct {
	// Path is relative to Base, in slash form.
	Path string

	// Base is the absolute directory Path is relative to.
	Base string

	// Contents holds the file bytes.
	Contents []byte

	// SourceMap describes Contents, if any stage produced one.
	SourceMap *sourcemap.Map

	// Meta carries stage-specific annotations.
	Meta map[string]string

	// Dest overrides the pipeline destination directory when set.
	Dest string
}

// NewRecord creates a record for path under base.
func NewRecord(base, path string, contents []byte) FileRecord {
	return FileRecord{Base: base, Path: filepath.ToSlash(path), Contents: contents}
}

// SourcePath returns the absolute path the record was read from.
func (r FileRecord) SourcePath() string {
	return filepath.Join(r.Base, filepath.FromSlash(r.Path))
}

// Ext returns the extension of Path.
func (r FileRecord) Ext() string {
	return filepath.Ext(r.Path)
}

// WithContents returns a copy with new contents.
func (r FileRecord) WithContents(b []byte) FileRecord {
	r.Contents = b
	return r
}

// WithPath returns a copy with a new relative path.
func (r FileRecord) WithPath(p string) FileRecord {
	r.Path = filepath.ToSlash(p)
	return r
}

// WithSourceMap returns a copy carrying m.
func (r FileRecord) WithSourceMap(m *sourcemap.Map) FileRecord {
	r.SourceMap = m
	return r
}

// WithMeta returns a copy with key set to value.
func (r FileRecord) WithMeta(key, value string) FileRecord {
	m := make(map[string]string, len(r.Meta)+1)
	maps.Copy(m, r.Meta)
	m[key] = value
	r.Meta = m
	return r
}

// WithDest returns a copy written under dir instead of the pipeline
// destination.
func (r FileRecord) WithDest(dir string) FileRecord {
	r.Dest = dir
	return r
}

// ReplaceExt returns a copy whose path has ext in place of its current
// extension.
func (r FileRecord) ReplaceExt(ext string) FileRecord {
	p := r.Path
	return r.WithPath(p[:len(p)-len(filepath.Ext(p))] + ext)
}
