// Package sourcemap builds revision 3 source maps for compiled and
// concatenated assets.
package sourcemap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Map is a revision 3 source map.
type Map struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	SourceRoot     string   `json:"sourceRoot,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent,omitempty"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// Segment maps a generated column to a source position. All fields are
// zero-based. Name is -1 when the segment has no name.
type Segment struct {
	GenCol  int
	Source  int
	SrcLine int
	SrcCol  int
	Name    int
}

// New returns an empty map for file.
func New(file string) *Map {
	return &Map{Version: 3, File: file, Sources: []string{}, Names: []string{}}
}

// Identity maps every line of content to the same line of source.
func Identity(file, source string, content []byte) *Map {
	m := New(file)
	m.Sources = []string{source}
	m.SourcesContent = []string{string(content)}

	n := LineCount(content)
	lines := make([][]Segment, n)
	for i := range lines {
		lines[i] = []Segment{{GenCol: 0, Source: 0, SrcLine: i, SrcCol: 0, Name: -1}}
	}
	m.Mappings = Encode(lines)
	return m
}

// LineCount returns the number of generated lines content occupies. A
// trailing newline does not start a new line.
func LineCount(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte("\n"))
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}

// Clone returns a deep copy of m.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Sources = append([]string(nil), m.Sources...)
	cp.SourcesContent = append([]string(nil), m.SourcesContent...)
	cp.Names = append([]string(nil), m.Names...)
	return &cp
}

// WithFile returns a copy of m naming a different generated file.
func (m *Map) WithFile(file string) *Map {
	cp := m.Clone()
	cp.File = file
	return cp
}

// Decode parses the mappings into absolute segments, one slice per
// generated line.
func (m *Map) Decode() ([][]Segment, error) {
	if m.Mappings == "" {
		return nil, nil
	}

	var (
		lines                   [][]Segment
		source, srcLine, srcCol int
		name                    int
	)

	for _, rawLine := range strings.Split(m.Mappings, ";") {
		var segs []Segment
		genCol := 0
		for _, raw := range strings.Split(rawLine, ",") {
			if raw == "" {
				continue
			}
			var fields []int
			rest := raw
			for rest != "" {
				v, r, err := readVLQ(rest)
				if err != nil {
					return nil, err
				}
				fields = append(fields, v)
				rest = r
			}

			switch len(fields) {
			case 1, 4, 5:
			default:
				return nil, fmt.Errorf("%w: segment %q has %d fields", ErrBadMappings, raw, len(fields))
			}

			genCol += fields[0]
			seg := Segment{GenCol: genCol, Source: -1, Name: -1}
			if len(fields) >= 4 {
				source += fields[1]
				srcLine += fields[2]
				srcCol += fields[3]
				seg.Source, seg.SrcLine, seg.SrcCol = source, srcLine, srcCol
			}
			if len(fields) == 5 {
				name += fields[4]
				seg.Name = name
			}
			segs = append(segs, seg)
		}
		lines = append(lines, segs)
	}
	return lines, nil
}

// Encode serializes absolute segments into a mappings string.
func Encode(lines [][]Segment) string {
	var (
		b                       strings.Builder
		source, srcLine, srcCol int
		name                    int
	)

	for i, segs := range lines {
		if i > 0 {
			b.WriteByte(';')
		}
		genCol := 0
		for j, s := range segs {
			if j > 0 {
				b.WriteByte(',')
			}
			writeVLQ(&b, s.GenCol-genCol)
			genCol = s.GenCol
			if s.Source < 0 {
				continue
			}
			writeVLQ(&b, s.Source-source)
			writeVLQ(&b, s.SrcLine-srcLine)
			writeVLQ(&b, s.SrcCol-srcCol)
			source, srcLine, srcCol = s.Source, s.SrcLine, s.SrcCol
			if s.Name >= 0 {
				writeVLQ(&b, s.Name-name)
				name = s.Name
			}
		}
	}
	return b.String()
}

// Builder accumulates segments for a generated file.
type Builder struct {
	m       *Map
	index   map[string]int
	lines   [][]Segment
	current int
}

// NewBuilder starts a map for file.
func NewBuilder(file string) *Builder {
	return &Builder{m: New(file), index: make(map[string]int), lines: [][]Segment{nil}}
}

// AddSource registers a source and returns its index.
func (b *Builder) AddSource(name string, content []byte) int {
	if i, ok := b.index[name]; ok {
		return i
	}
	i := len(b.m.Sources)
	b.index[name] = i
	b.m.Sources = append(b.m.Sources, name)
	b.m.SourcesContent = append(b.m.SourcesContent, string(content))
	return i
}

// Add maps genCol on the current generated line to a source position.
func (b *Builder) Add(genCol, source, srcLine, srcCol int) {
	b.lines[b.current] = append(b.lines[b.current], Segment{
		GenCol: genCol, Source: source, SrcLine: srcLine, SrcCol: srcCol, Name: -1,
	})
}

// NewLine advances to the next generated line.
func (b *Builder) NewLine() {
	b.lines = append(b.lines, nil)
	b.current++
}

// Map returns the built map.
func (b *Builder) Map() *Map {
	m := b.m.Clone()
	m.Mappings = Encode(b.lines)
	return m
}

// Part is one input to Concat.
type Part struct {
	// Map describes the part's contents. It may be nil if Source is set.
	Map *Map

	// Source and Content build an identity map when Map is nil.
	Source  string
	Content []byte

	// Lines is how many generated lines the part occupies in the output,
	// including any separator that follows it.
	Lines int
}

// Concat joins the maps of parts laid out one after another in file.
func Concat(file string, parts []Part) (*Map, error) {
	out := New(file)
	srcIndex := make(map[string]int)
	nameIndex := make(map[string]int)
	var lines [][]Segment

	for _, p := range parts {
		pm := p.Map
		if pm == nil {
			pm = Identity(file, p.Source, p.Content)
		}

		decoded, err := pm.Decode()
		if err != nil {
			return nil, fmt.Errorf("concat %s: %w", strings.Join(pm.Sources, ","), err)
		}

		remapSrc := make([]int, len(pm.Sources))
		for i, s := range pm.Sources {
			idx, ok := srcIndex[s]
			if !ok {
				idx = len(out.Sources)
				srcIndex[s] = idx
				out.Sources = append(out.Sources, s)
				content := ""
				if i < len(pm.SourcesContent) {
					content = pm.SourcesContent[i]
				}
				out.SourcesContent = append(out.SourcesContent, content)
			}
			remapSrc[i] = idx
		}
		remapName := make([]int, len(pm.Names))
		for i, n := range pm.Names {
			idx, ok := nameIndex[n]
			if !ok {
				idx = len(out.Names)
				nameIndex[n] = idx
				out.Names = append(out.Names, n)
			}
			remapName[i] = idx
		}

		for i := 0; i < p.Lines; i++ {
			var segs []Segment
			if i < len(decoded) {
				for _, s := range decoded[i] {
					if s.Source >= 0 && s.Source < len(remapSrc) {
						s.Source = remapSrc[s.Source]
					}
					if s.Name >= 0 && s.Name < len(remapName) {
						s.Name = remapName[s.Name]
					}
					segs = append(segs, s)
				}
			}
			lines = append(lines, segs)
		}
	}

	out.Mappings = Encode(lines)
	return out, nil
}

// Marshal encodes m as JSON.
func (m *Map) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes a JSON source map.
func Unmarshal(data []byte) (*Map, error) {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Version != 3 {
		return nil, fmt.Errorf("sourcemap: unsupported version %d", m.Version)
	}
	return &m, nil
}

// Comment returns the sourceMappingURL comment for url in the syntax of
// the generated file.
func Comment(url string, css bool) string {
	if css {
		return "/*# sourceMappingURL=" + url + " */"
	}
	return "//# sourceMappingURL=" + url
}

// Coarse returns a copy of m that keeps its sources but maps only the
// start of the generated file. Used after transforms that discard
// positional information, such as minification. A nil map stays nil.
func (m *Map) Coarse() *Map {
	if m == nil {
		return nil
	}
	cp := m.Clone()
	if len(cp.Sources) == 0 {
		cp.Mappings = ""
		return cp
	}
	cp.Mappings = Encode([][]Segment{{{GenCol: 0, Source: 0, SrcLine: 0, SrcCol: 0, Name: -1}}})
	return cp
}
