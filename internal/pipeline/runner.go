// Package pipeline runs ordered stages over sets of files.
//
// A pipeline expands its source globs into file records ("lanes") and
// passes them through stages. Consecutive per-file stages run lane by
// lane, with lanes processed concurrently. A merge stage combines every
// surviving lane into one. Failures are contained per lane: a failed
// file is reported and its output withheld while other lanes continue,
// and a merge is never run over a partial set of inputs.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/assetstorm/internal/fault"
	"github.com/dshills/assetstorm/internal/logging"
)

// ErrNoDest is wrapped by the config fault returned for a pipeline
// without a destination.
var ErrNoDest = errors.New("pipeline has no destination")

// Spec describes one pipeline.
type Spec struct {
	// Name identifies the pipeline in logs.
	Name string

	// Sources are doublestar globs relative to Base, or absolute.
	Sources []string

	// Base is the directory relative sources resolve against. Empty
	// means the working directory. Record paths are relative to each
	// source's static prefix, so assets/styles/*.scss yields main.scss.
	Base string

	// Stages run in order.
	Stages []Stage

	// Dest is the output directory.
	Dest string
}

// Result reports what a pipeline execution produced.
type Result struct {
	// Written lists files whose contents changed on disk.
	Written []string

	// Unchanged lists outputs that already had the produced contents.
	Unchanged []string

	// Faults are the contained per-file failures.
	Faults []*fault.Error
}

// OK reports whether the execution had no faults.
func (r *Result) OK() bool {
	return len(r.Faults) == 0
}

// Err joins the faults into one error, or returns nil.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Faults))
	for i, f := range r.Faults {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Runner executes pipelines.
type Runner struct {
	logger      *logging.Logger
	concurrency int
	reporter    func(*fault.Error)
	fsys        fs.FS
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithConcurrency bounds how many lanes are processed at once.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithReporter receives every fault as it is recorded.
func WithReporter(fn func(*fault.Error)) RunnerOption {
	return func(r *Runner) {
		r.reporter = fn
	}
}

// WithFS replaces the file system relative sources are read from.
// Absolute sources are always read from the OS.
func WithFS(fsys fs.FS) RunnerOption {
	return func(r *Runner) {
		r.fsys = fsys
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{concurrency: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNull(r.logger).WithComponent("pipeline")
	return r
}

// lane is the ordered set of records derived from one source file.
type lane struct {
	source  string
	records []FileRecord
	failed  bool
}

// execution holds the state of one Execute call.
type execution struct {
	r      *Runner
	spec   Spec
	logger *logging.Logger

	mu     sync.Mutex
	result *Result
	fatal  error
}

// Execute runs spec. The returned error is non-nil only for fatal
// failures (configuration faults and cancellation); contained per-file
// failures are reported in Result.Faults.
func (r *Runner) Execute(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Dest == "" {
		return nil, &fault.Error{Kind: fault.KindConfig, Message: fmt.Sprintf("pipeline %q: %v", spec.Name, ErrNoDest), Err: ErrNoDest}
	}
	if spec.Base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		spec.Base = wd
	}
	sources, err := r.validate(spec)
	if err != nil {
		return nil, err
	}

	ex := &execution{
		r:      r,
		spec:   spec,
		logger: r.logger.WithField("pipeline", spec.Name),
		result: &Result{},
	}

	lanes, err := ex.expand(sources)
	if err != nil {
		return nil, err
	}
	ex.logger.Debug("%d source files", len(lanes))

	return ex.run(ctx, lanes)
}

// source is a validated glob with the file system it is matched against.
type source struct {
	fsys    fs.FS
	base    string
	pattern string
	literal bool
}

func (r *Runner) validate(spec Spec) ([]source, error) {
	out := make([]source, 0, len(spec.Sources))
	for _, raw := range spec.Sources {
		src, err := r.resolveSource(spec.Base, raw)
		if err != nil {
			return nil, err
		}
		if !doublestar.ValidatePattern(src.pattern) {
			return nil, &fault.Error{
				Kind:    fault.KindConfig,
				Path:    raw,
				Message: fmt.Sprintf("invalid glob: %v", doublestar.ErrBadPattern),
				Err:     doublestar.ErrBadPattern,
			}
		}
		if src.literal {
			if _, err := fs.Stat(src.fsys, src.pattern); err != nil {
				return nil, &fault.Error{Kind: fault.KindConfig, Path: raw, Message: "source file does not exist", Err: err}
			}
		}
		out = append(out, src)
	}
	return out, nil
}

func (r *Runner) resolveSource(base, raw string) (source, error) {
	p := filepath.ToSlash(raw)
	if !filepath.IsAbs(raw) {
		clean := filepath.ToSlash(filepath.Clean(raw))
		if clean != ".." && !strings.HasPrefix(clean, "../") {
			fsys := r.fsys
			if fsys == nil {
				fsys = os.DirFS(base)
			}
			// Records are named relative to the glob's static prefix.
			dir, pattern := doublestar.SplitPattern(clean)
			if dir != "." {
				sub, err := fs.Sub(fsys, dir)
				if err != nil {
					return source{}, fault.Config(raw, "invalid source: %v", err)
				}
				fsys, base = sub, filepath.Join(base, filepath.FromSlash(dir))
			}
			return source{fsys: fsys, base: base, pattern: pattern, literal: !hasMeta(pattern)}, nil
		}
		p = filepath.ToSlash(filepath.Join(base, raw))
	}

	dir, pattern := doublestar.SplitPattern(p)
	if pattern == "" || pattern == "." {
		return source{}, fault.Config(raw, "source must name a file or glob")
	}
	dir = filepath.FromSlash(dir)
	return source{fsys: os.DirFS(dir), base: dir, pattern: pattern, literal: !hasMeta(pattern)}, nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{\\")
}

func (ex *execution) expand(sources []source) ([]*lane, error) {
	seen := make(map[string]bool)
	var lanes []*lane

	for _, src := range sources {
		var matches []string
		if src.literal {
			matches = []string{src.pattern}
		} else {
			var err error
			matches, err = doublestar.Glob(src.fsys, src.pattern, doublestar.WithFilesOnly())
			if err != nil {
				return nil, &fault.Error{Kind: fault.KindConfig, Path: src.pattern, Message: err.Error(), Err: err}
			}
			sort.Strings(matches)
			if len(matches) == 0 {
				ex.logger.Warn("no files match %s", src.pattern)
			}
		}

		for _, m := range matches {
			abs := filepath.Join(src.base, filepath.FromSlash(m))
			if seen[abs] {
				continue
			}
			seen[abs] = true

			data, err := fs.ReadFile(src.fsys, m)
			if err != nil {
				return nil, &fault.Error{Kind: fault.KindConfig, Path: abs, Message: "cannot read source", Err: err}
			}
			lanes = append(lanes, &lane{
				source:  abs,
				records: []FileRecord{NewRecord(src.base, m, data)},
			})
		}
	}
	return lanes, nil
}

func (ex *execution) run(ctx context.Context, lanes []*lane) (*Result, error) {
	stages := ex.spec.Stages
	for i := 0; i < len(stages); {
		if err := ctx.Err(); err != nil {
			return ex.result, err
		}

		if stages[i].Kind() == Merge {
			merged, ok := ex.merge(ctx, stages[i], lanes)
			if ex.fatal != nil {
				return ex.result, ex.fatal
			}
			if !ok {
				return ex.result, nil
			}
			lanes = merged
			i++
			continue
		}

		j := i
		for j < len(stages) && stages[j].Kind() == PerFile {
			j++
		}
		ex.perFile(ctx, stages[i:j], lanes)
		if ex.fatal != nil {
			return ex.result, ex.fatal
		}
		i = j
	}

	if err := ctx.Err(); err != nil {
		return ex.result, err
	}
	ex.write(lanes)
	return ex.result, ex.fatal
}

// perFile runs a segment of per-file stages over every live lane.
func (ex *execution) perFile(ctx context.Context, stages []Stage, lanes []*lane) {
	sem := make(chan struct{}, ex.r.concurrency)
	var wg sync.WaitGroup

	for _, ln := range lanes {
		if ln.failed {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(ln *lane) {
			defer func() {
				<-sem
				wg.Done()
			}()
			for _, st := range stages {
				if ctx.Err() != nil {
					return
				}
				out, err := ex.apply(ctx, st, ln.records)
				if err != nil {
					ln.failed = true
					ex.report(st, ln.source, err)
					return
				}
				ln.records = out
			}
		}(ln)
	}
	wg.Wait()
}

// merge applies a merge stage. It reports false when the merge was
// withheld or failed.
func (ex *execution) merge(ctx context.Context, st Stage, lanes []*lane) ([]*lane, bool) {
	var failed []string
	var records []FileRecord
	for _, ln := range lanes {
		if ln.failed {
			failed = append(failed, ln.source)
			continue
		}
		records = append(records, ln.records...)
	}

	if len(failed) > 0 {
		ex.record(&fault.Error{
			Kind:    fault.KindCompilation,
			Stage:   st.Name(),
			Message: fmt.Sprintf("output withheld, %d input(s) failed: %s", len(failed), strings.Join(failed, ", ")),
		})
		return nil, false
	}

	out, err := ex.apply(ctx, st, records)
	if err != nil {
		ex.report(st, "", err)
		return nil, false
	}
	if len(out) == 0 {
		return nil, true
	}
	return []*lane{{source: st.Name(), records: out}}, true
}

func (ex *execution) apply(ctx context.Context, st Stage, records []FileRecord) (out []FileRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	ex.logger.Debug("stage %s on %d record(s)", st.Name(), len(records))
	return st.Apply(ctx, records)
}

// report classifies a stage error. Config faults are fatal; everything
// else becomes a compilation fault.
func (ex *execution) report(st Stage, path string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	var fe *fault.Error
	if errors.As(err, &fe) {
		cp := *fe
		fe = &cp
	} else {
		fe = fault.Compilation(st.Name(), path, err)
	}
	if fe.Stage == "" {
		fe.Stage = st.Name()
	}
	if fe.Path == "" {
		fe.Path = path
	}

	if fe.Kind == fault.KindConfig {
		ex.mu.Lock()
		if ex.fatal == nil {
			ex.fatal = fe
		}
		ex.mu.Unlock()
		return
	}
	if fe.Kind != fault.KindCompilation {
		fe.Kind = fault.KindCompilation
	}
	ex.record(fe)
}

func (ex *execution) record(fe *fault.Error) {
	ex.mu.Lock()
	ex.result.Faults = append(ex.result.Faults, fe)
	ex.mu.Unlock()

	ex.logger.Debug("fault: %v", fe)
	if ex.r.reporter != nil {
		ex.r.reporter(fe)
	}
}

func (ex *execution) write(lanes []*lane) {
	for _, ln := range lanes {
		if ln.failed {
			continue
		}
		for _, rec := range ln.records {
			dest := rec.Dest
			if dest == "" {
				dest = ex.spec.Dest
			}
			target := filepath.Join(dest, filepath.FromSlash(rec.Path))

			if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, rec.Contents) {
				ex.result.Unchanged = append(ex.result.Unchanged, target)
				continue
			}

			if err := writeFile(target, rec.Contents); err != nil {
				ex.record(&fault.Error{Kind: fault.KindCompilation, Stage: "write", Path: target, Message: err.Error(), Err: err})
				continue
			}
			ex.logger.Debug("wrote %s", target)
			ex.result.Written = append(ex.result.Written, target)
		}
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
