package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/assetstorm/internal/fault"
	"github.com/dshills/assetstorm/internal/sourcemap"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	return string(data)
}

// upper fails on files containing "!" and upper-cases everything else.
func upper() Stage {
	return Transform("upper", func(_ context.Context, rec FileRecord) (FileRecord, error) {
		if bytes.Contains(rec.Contents, []byte("!")) {
			return rec, errors.New("line 1: unexpected !")
		}
		return rec.WithContents(bytes.ToUpper(rec.Contents)), nil
	})
}

func TestExecute_ConfigFaults(t *testing.T) {
	base := t.TempDir()
	writeTestFile(t, filepath.Join(base, "a.txt"), "a")

	tests := []struct {
		name string
		spec Spec
	}{
		{"no dest", Spec{Name: "x", Base: base, Sources: []string{"*.txt"}}},
		{"bad glob", Spec{Name: "x", Base: base, Sources: []string{"[oops"}, Dest: t.TempDir()}},
		{"missing literal", Spec{Name: "x", Base: base, Sources: []string{"a.txt", "missing.txt"}, Dest: t.TempDir()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewRunner().Execute(context.Background(), tt.spec)
			if fault.KindOf(err) != fault.KindConfig {
				t.Fatalf("Execute error = %v, want config fault", err)
			}
			if !fault.IsFatal(err) {
				t.Error("config fault should be fatal")
			}
			if res != nil {
				t.Errorf("Result = %+v, want nil", res)
			}
		})
	}
}

func TestExecute_BadGlobWrapsErrBadPattern(t *testing.T) {
	_, err := NewRunner().Execute(context.Background(), Spec{Sources: []string{"a/[b"}, Base: t.TempDir(), Dest: t.TempDir()})
	if !errors.Is(err, doublestar.ErrBadPattern) {
		t.Errorf("error = %v, want ErrBadPattern in chain", err)
	}
}

func TestExecute_PerFileWritesAndOrder(t *testing.T) {
	base := t.TempDir()
	dest := t.TempDir()
	writeTestFile(t, filepath.Join(base, "b.txt"), "b")
	writeTestFile(t, filepath.Join(base, "a.txt"), "a")
	writeTestFile(t, filepath.Join(base, "sub", "c.txt"), "c")

	res, err := NewRunner().Execute(context.Background(), Spec{
		Name:    "upper",
		Base:    base,
		Sources: []string{"**/*.txt"},
		Stages:  []Stage{upper()},
		Dest:    dest,
	})
	if err != nil {
		t.Fatalf("Execute error = %v", err)
	}
	if !res.OK() {
		t.Fatalf("Faults = %v", res.Faults)
	}

	want := []string{
		filepath.Join(dest, "a.txt"),
		filepath.Join(dest, "b.txt"),
		filepath.Join(dest, "sub", "c.txt"),
	}
	if len(res.Written) != len(want) {
		t.Fatalf("Written = %v, want %v", res.Written, want)
	}
	for i := range want {
		if res.Written[i] != want[i] {
			t.Errorf("Written[%d] = %q, want %q", i, res.Written[i], want[i])
		}
	}
	if got := readFile(t, filepath.Join(dest, "sub", "c.txt")); got != "C" {
		t.Errorf("c.txt = %q, want C", got)
	}
}

func TestExecute_PathsRelativeToGlobBase(t *testing.T) {
	base := t.TempDir()
	dest := t.TempDir()
	writeTestFile(t, filepath.Join(base, "assets", "styles", "main.scss"), "m")
	writeTestFile(t, filepath.Join(base, "assets", "styles", "sub", "x.scss"), "x")
	writeTestFile(t, filepath.Join(base, "assets", "extra.scss"), "e")

	res, err := NewRunner().Execute(context.Background(), Spec{
		Base:    base,
		Sources: []string{"assets/styles/**/*.scss", "assets/extra.scss"},
		Dest:    dest,
	})
	if err != nil || !res.OK() {
		t.Fatalf("Execute = %+v, %v", res, err)
	}
	for _, p := range []string{"main.scss", filepath.Join("sub", "x.scss"), "extra.scss"} {
		if _, err := os.Stat(filepath.Join(dest, p)); err != nil {
			t.Errorf("%s not written: %v", p, err)
		}
	}
}

func TestExecute_FailedLaneContained(t *testing.T) {
	base := t.TempDir()
	dest := t.TempDir()
	writeTestFile(t, filepath.Join(base, "good.txt"), "good")
	writeTestFile(t, filepath.Join(base, "bad.txt"), "bad!")

	var reported []*fault.Error
	r := NewRunner(WithReporter(func(f *fault.Error) { reported = append(reported, f) }))
	res, err := r.Execute(context.Background(), Spec{Base: base, Sources: []string{"*.txt"}, Stages: []Stage{upper()}, Dest: dest})
	if err != nil {
		t.Fatalf("Execute error = %v", err)
	}

	if len(res.Faults) != 1 {
		t.Fatalf("Faults = %v, want 1", res.Faults)
	}
	f := res.Faults[0]
	if f.Kind != fault.KindCompilation || f.Stage != "upper" || !strings.HasSuffix(f.Path, "bad.txt") {
		t.Errorf("fault = %+v", f)
	}
	if len(reported) != 1 {
		t.Errorf("reporter calls = %d, want 1", len(reported))
	}
	if _, err := os.Stat(filepath.Join(dest, "bad.txt")); !os.IsNotExist(err) {
		t.Error("failed lane should not be written")
	}
	if got := readFile(t, filepath.Join(dest, "good.txt")); got != "GOOD" {
		t.Errorf("good.txt = %q, want GOOD", got)
	}
}

func TestExecute_MergeWithheldThenFixed(t *testing.T) {
	base := t.TempDir()
	dest := t.TempDir()
	writeTestFile(t, filepath.Join(base, "1.txt"), "one")
	writeTestFile(t, filepath.Join(base, "2.txt"), "two!")

	spec := Spec{
		Base:    base,
		Sources: []string{"1.txt", "2.txt"},
		Stages:  []Stage{upper(), Concat("all.txt", "")},
		Dest:    dest,
	}

	res, err := NewRunner().Execute(context.Background(), spec)
	if err != nil {
		t.Fatalf("Execute error = %v", err)
	}
	if len(res.Faults) != 2 {
		t.Fatalf("Faults = %v, want lane fault and withheld merge", res.Faults)
	}
	if res.Faults[1].Stage != "concat" || !strings.Contains(res.Faults[1].Message, "2.txt") {
		t.Errorf("merge fault = %+v", res.Faults[1])
	}
	if len(res.Written) != 0 {
		t.Errorf("Written = %v, want nothing", res.Written)
	}
	if _, err := os.Stat(filepath.Join(dest, "all.txt")); !os.IsNotExist(err) {
		t.Fatal("partial bundle was written")
	}

	writeTestFile(t, filepath.Join(base, "2.txt"), "two")
	res, err = NewRunner().Execute(context.Background(), spec)
	if err != nil || !res.OK() {
		t.Fatalf("rerun = %v, %v", res, err)
	}
	if got := readFile(t, filepath.Join(dest, "all.txt")); got != "ONE\nTWO\n" {
		t.Errorf("all.txt = %q, want ONE\\nTWO\\n", got)
	}
}

func TestExecute_UnchangedNotRewritten(t *testing.T) {
	base := t.TempDir()
	dest := t.TempDir()
	writeTestFile(t, filepath.Join(base, "a.txt"), "a")
	spec := Spec{Base: base, Sources: []string{"a.txt"}, Dest: dest}

	if _, err := NewRunner().Execute(context.Background(), spec); err != nil {
		t.Fatalf("Execute error = %v", err)
	}
	res, err := NewRunner().Execute(context.Background(), spec)
	if err != nil {
		t.Fatalf("Execute error = %v", err)
	}
	if len(res.Written) != 0 || len(res.Unchanged) != 1 {
		t.Errorf("Written = %v, Unchanged = %v", res.Written, res.Unchanged)
	}
}

func TestExecute_StageConfigFaultIsFatal(t *testing.T) {
	base := t.TempDir()
	writeTestFile(t, filepath.Join(base, "a.txt"), "a")

	missing := Transform("vendor", func(_ context.Context, rec FileRecord) (FileRecord, error) {
		return rec, fault.Config("bower_components/x/x.js", "vendor file missing")
	})
	_, err := NewRunner().Execute(context.Background(), Spec{Base: base, Sources: []string{"a.txt"}, Stages: []Stage{missing}, Dest: t.TempDir()})
	if fault.KindOf(err) != fault.KindConfig {
		t.Errorf("error = %v, want config fault", err)
	}
}

func TestExecute_PanicBecomesFault(t *testing.T) {
	base := t.TempDir()
	writeTestFile(t, filepath.Join(base, "a.txt"), "a")

	boom := Transform("boom", func(context.Context, FileRecord) (FileRecord, error) {
		panic("kaboom")
	})
	res, err := NewRunner().Execute(context.Background(), Spec{Base: base, Sources: []string{"a.txt"}, Stages: []Stage{boom}, Dest: t.TempDir()})
	if err != nil {
		t.Fatalf("Execute error = %v", err)
	}
	if len(res.Faults) != 1 || !strings.Contains(res.Faults[0].Message, "kaboom") {
		t.Errorf("Faults = %v", res.Faults)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	base := t.TempDir()
	writeTestFile(t, filepath.Join(base, "a.txt"), "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner().Execute(ctx, Spec{Base: base, Sources: []string{"a.txt"}, Stages: []Stage{upper()}, Dest: t.TempDir()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestExecute_WithFS(t *testing.T) {
	fsys := fstest.MapFS{
		"src/x.js":  {Data: []byte("var x;")},
		"src/y.js":  {Data: []byte("var y;")},
		"src/z.css": {Data: []byte("z{}")},
	}
	dest := t.TempDir()

	res, err := NewRunner(WithFS(fsys), WithConcurrency(1)).Execute(context.Background(), Spec{
		Base:    "/virtual",
		Sources: []string{"src/*.js", "src/x.js"},
		Stages:  []Stage{Concat("app.js", ";\n"), WriteMaps(".")},
		Dest:    dest,
	})
	if err != nil {
		t.Fatalf("Execute error = %v", err)
	}
	if !res.OK() || len(res.Written) != 2 {
		t.Fatalf("Result = %+v", res)
	}

	app := readFile(t, filepath.Join(dest, "app.js"))
	if !strings.HasPrefix(app, "var x;\n;\nvar y;\n") {
		t.Errorf("app.js = %q, want x before y with x once", app)
	}
	if !strings.HasSuffix(app, "//# sourceMappingURL=app.js.map\n") {
		t.Errorf("app.js = %q, want sourceMappingURL comment", app)
	}

	m, err := sourcemap.Unmarshal([]byte(readFile(t, filepath.Join(dest, "app.js.map"))))
	if err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if len(m.Sources) != 2 || m.Sources[0] != "x.js" || m.File != "app.js" {
		t.Errorf("map = %+v", m)
	}
}

func TestWriteMaps_SubDir(t *testing.T) {
	rec := NewRecord("/b", "css/main.css", []byte("a{}")).WithSourceMap(sourcemap.Identity("main.css", "main.scss", []byte("a{}")))
	out, err := WriteMaps("maps").Apply(context.Background(), []FileRecord{rec})
	if err != nil {
		t.Fatalf("Apply error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("records = %d, want 2", len(out))
	}
	if out[1].Path != "maps/css/main.css.map" {
		t.Errorf("map path = %q", out[1].Path)
	}
	if !strings.Contains(string(out[0].Contents), "/*# sourceMappingURL=../maps/css/main.css.map */") {
		t.Errorf("contents = %q", out[0].Contents)
	}
	if out[0].SourceMap != nil {
		t.Error("written record should drop its map")
	}
}

func TestRecord_Immutable(t *testing.T) {
	a := NewRecord("/b", "x.scss", []byte("x")).WithMeta("k", "1")
	b := a.WithMeta("k", "2").ReplaceExt(".css")

	if a.Meta["k"] != "1" || a.Path != "x.scss" {
		t.Errorf("original changed: %+v", a)
	}
	if b.Meta["k"] != "2" || b.Path != "x.css" {
		t.Errorf("copy = %+v", b)
	}
	if a.SourcePath() != filepath.Join("/b", "x.scss") {
		t.Errorf("SourcePath = %q", a.SourcePath())
	}
}
