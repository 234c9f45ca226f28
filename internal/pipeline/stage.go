package pipeline

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/dshills/assetstorm/internal/sourcemap"
)

// StageKind selects how the runner feeds records to a stage.
type StageKind int

const (
	// PerFile stages are applied to each lane separately, one record at
	// a time. They may return zero or more records.
	PerFile StageKind = iota
	// Merge stages receive every surviving record at once, in source
	// order.
	Merge
)

// String returns the kind name.
func (k StageKind) String() string {
	if k == Merge {
		return "merge"
	}
	return "per-file"
}

// Stage is one step of a pipeline.
type Stage interface {
	Name() string
	Kind() StageKind
	Apply(ctx context.Context, records []FileRecord) ([]FileRecord, error)
}

// FileFunc transforms a single record into zero or more records.
type FileFunc func(ctx context.Context, rec FileRecord) ([]FileRecord, error)

// MergeFunc combines records.
type MergeFunc func(ctx context.Context, records []FileRecord) ([]FileRecord, error)

type fileStage struct {
	name string
	fn   FileFunc
}

// Each returns a PerFile stage running fn on every record.
func Each(name string, fn FileFunc) Stage {
	return &fileStage{name: name, fn: fn}
}

func (s *fileStage) Name() string    { return s.name }
func (s *fileStage) Kind() StageKind { return PerFile }

func (s *fileStage) Apply(ctx context.Context, records []FileRecord) ([]FileRecord, error) {
	var out []FileRecord
	for _, rec := range records {
		res, err := s.fn(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

type mergeStage struct {
	name string
	fn   MergeFunc
}

// Gather returns a Merge stage.
func Gather(name string, fn MergeFunc) Stage {
	return &mergeStage{name: name, fn: fn}
}

func (s *mergeStage) Name() string    { return s.name }
func (s *mergeStage) Kind() StageKind { return Merge }

func (s *mergeStage) Apply(ctx context.Context, records []FileRecord) ([]FileRecord, error) {
	return s.fn(ctx, records)
}

// Transform returns a PerFile stage mapping each record to exactly one
// record.
func Transform(name string, fn func(ctx context.Context, rec FileRecord) (FileRecord, error)) Stage {
	return Each(name, func(ctx context.Context, rec FileRecord) ([]FileRecord, error) {
		out, err := fn(ctx, rec)
		if err != nil {
			return nil, err
		}
		return []FileRecord{out}, nil
	})
}

// Rename returns a PerFile stage rewriting each record's path.
func Rename(fn func(p string) string) Stage {
	return Transform("rename", func(_ context.Context, rec FileRecord) (FileRecord, error) {
		return rec.WithPath(fn(rec.Path)), nil
	})
}

// Filter drops records for which keep returns false.
func Filter(name string, keep func(FileRecord) bool) Stage {
	return Each(name, func(_ context.Context, rec FileRecord) ([]FileRecord, error) {
		if !keep(rec) {
			return nil, nil
		}
		return []FileRecord{rec}, nil
	})
}

// Concat joins all records into one file named name, separated by sep.
// Every part is terminated by a newline so source map lines stay aligned.
// The combined source map covers every input.
func Concat(name, sep string) Stage {
	return Gather("concat", func(_ context.Context, records []FileRecord) ([]FileRecord, error) {
		if len(records) == 0 {
			return nil, nil
		}

		var b strings.Builder
		parts := make([]sourcemap.Part, 0, len(records))
		sepLines := strings.Count(sep, "\n")

		for i, rec := range records {
			content := rec.Contents
			if len(content) > 0 && content[len(content)-1] != '\n' {
				content = append(append([]byte(nil), content...), '\n')
			}
			b.Write(content)

			lines := sourcemap.LineCount(content)
			if i < len(records)-1 {
				b.WriteString(sep)
				lines += sepLines
			}
			parts = append(parts, sourcemap.Part{
				Map:     rec.SourceMap,
				Source:  rec.Path,
				Content: rec.Contents,
				Lines:   lines,
			})
		}

		m, err := sourcemap.Concat(path.Base(name), parts)
		if err != nil {
			return nil, err
		}

		out := records[0].WithPath(name).WithContents([]byte(b.String())).WithSourceMap(m)
		return []FileRecord{out}, nil
	})
}

// WriteMaps splits every record carrying a source map into the record,
// with a sourceMappingURL comment appended, and a .map record placed in
// dir relative to the destination.
func WriteMaps(dir string) Stage {
	if dir == "" {
		dir = "."
	}
	return Each("sourcemaps", func(_ context.Context, rec FileRecord) ([]FileRecord, error) {
		if rec.SourceMap == nil {
			return []FileRecord{rec}, nil
		}

		mapPath := path.Join(dir, rec.Path+".map")
		url, err := filepath.Rel(filepath.FromSlash(path.Dir(rec.Path)), filepath.FromSlash(mapPath))
		if err != nil {
			return nil, fmt.Errorf("source map location: %w", err)
		}

		data, err := rec.SourceMap.WithFile(path.Base(rec.Path)).Marshal()
		if err != nil {
			return nil, err
		}

		contents := append([]byte(nil), rec.Contents...)
		if len(contents) > 0 && contents[len(contents)-1] != '\n' {
			contents = append(contents, '\n')
		}
		contents = append(contents, sourcemap.Comment(filepath.ToSlash(url), rec.Ext() == ".css")...)
		contents = append(contents, '\n')

		mapRec := rec.WithPath(mapPath).WithContents(data).WithSourceMap(nil).WithMeta("sourcemap", "true")
		return []FileRecord{rec.WithContents(contents).WithSourceMap(nil), mapRec}, nil
	})
}
