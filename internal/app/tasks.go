package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/assetstorm/internal/assets/script"
	"github.com/dshills/assetstorm/internal/assets/sprite"
	"github.com/dshills/assetstorm/internal/assets/style"
	"github.com/dshills/assetstorm/internal/assets/vendor"
	"github.com/dshills/assetstorm/internal/config"
	"github.com/dshills/assetstorm/internal/fault"
	"github.com/dshills/assetstorm/internal/pipeline"
	"github.com/dshills/assetstorm/internal/preview"
	"github.com/dshills/assetstorm/internal/task"
	"github.com/dshills/assetstorm/internal/watcher"
)

// Built-in task names.
const (
	TaskViews        = "views"
	TaskStyles       = "styles"
	TaskScripts      = "scripts"
	TaskSprites      = "sprites"
	TaskDependencies = "dependencies"
	TaskLint         = "lint"
	TaskServe        = "serve"
	TaskWatch        = "watch"
	TaskBuild        = "build"
	TaskDefault      = "default"
)

func (p *Project) register() error {
	builtins := []task.Task{
		{Name: TaskViews, Description: "render view templates to HTML", Action: p.views},
		{Name: TaskStyles, Description: "compile stylesheets", Deps: []string{TaskSprites}, Action: p.styles},
		{Name: TaskScripts, Description: "bundle and minify scripts", Action: p.scripts},
		{Name: TaskSprites, Description: "pack sprite images and write their SCSS variables", Action: p.sprites},
		{Name: TaskDependencies, Description: "concatenate vendor styles and scripts", Action: p.dependencies},
		{Name: TaskLint, Description: "run the configured linter", Action: p.lint},
		{Name: TaskServe, Description: "serve the site with live reload", Kind: task.KindLong, Action: p.serve},
		{Name: TaskWatch, Description: "rebuild on change", Kind: task.KindLong, Action: p.watch},
		{
			Name:        TaskBuild,
			Description: "build every asset once",
			Deps:        []string{TaskDependencies, TaskViews, TaskSprites, TaskStyles, TaskScripts, TaskLint},
		},
		{Name: TaskDefault, Description: "build, serve and watch", Deps: []string{TaskBuild, TaskServe, TaskWatch}},
	}

	var errs []error
	for _, name := range p.cfg.TaskNames() {
		t, err := p.userTask(name, p.cfg.Tasks[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		// User tasks replace built-ins of the same name.
		replaced := false
		for i := range builtins {
			if builtins[i].Name == name {
				builtins[i] = t
				replaced = true
			}
		}
		if !replaced {
			builtins = append(builtins, t)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	for _, t := range builtins {
		if t.Action != nil && t.Kind == task.KindOneShot {
			t.Action = exclusive(t.Action)
		}
		if err := p.registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// exclusive lets one call of action run at a time, so watch rules that
// share a task never write its outputs concurrently.
func exclusive(action task.Action) task.Action {
	slot := make(chan struct{}, 1)
	return func(ctx context.Context) error {
		select {
		case slot <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-slot }()
		return action(ctx)
	}
}

func (p *Project) userTask(name string, tc config.TaskConfig) (task.Task, error) {
	t := task.Task{Name: name, Description: tc.Description, Deps: tc.Deps}
	if tc.Long {
		t.Kind = task.KindLong
	}
	if t.Description == "" && tc.Cmd != "" {
		t.Description = tc.Cmd
	}
	if tc.Cmd == "" {
		return t, nil
	}
	m, err := p.matcher(tc.Matcher, "tasks."+name+".matcher")
	if err != nil {
		return t, err
	}
	t.Action = task.ShellAction(p.procs, task.ShellConfig{
		Name:      name,
		Command:   tc.Cmd,
		Dir:       tc.Dir,
		Env:       tc.Env,
		Matcher:   m,
		OnProblem: p.metrics.Problem,
		Logger:    p.log,
	})
	return t, nil
}

func (p *Project) views(ctx context.Context) error {
	r, err := p.renderer()
	if err != nil {
		return err
	}
	stages := []pipeline.Stage{
		pipeline.Transform("render", func(ctx context.Context, rec pipeline.FileRecord) (pipeline.FileRecord, error) {
			out, err := r.Render(ctx, rec.Path, rec.Contents)
			if err != nil {
				return rec, err
			}
			return rec.WithContents(out).ReplaceExt(".html"), nil
		}),
	}
	stages = append(stages, p.transforms[TaskViews]...)
	return p.execute(ctx, pipeline.Spec{
		Name:    TaskViews,
		Sources: p.cfg.Views.Src,
		Stages:  stages,
		Dest:    p.cfg.Views.Dest,
	})
}

func (p *Project) styles(ctx context.Context) error {
	sc := p.cfg.Styles
	imports, err := p.vendorFiles("scss")
	if err != nil {
		return err
	}
	opts := style.Options{
		IncludePaths: sc.IncludePaths,
		OutputStyle:  sc.OutputStyle,
		Prefix:       sc.Prefix,
	}

	stages := []pipeline.Stage{
		pipeline.Filter("partials", func(rec pipeline.FileRecord) bool {
			return !strings.HasPrefix(path.Base(rec.Path), "_")
		}),
		pipeline.Transform("inject", func(_ context.Context, rec pipeline.FileRecord) (pipeline.FileRecord, error) {
			lines := style.ImportLines(sc.Inject.Format, imports.Relative(filepath.Dir(rec.SourcePath())))
			out, ok := style.Inject(rec.Contents, sc.Inject.Start, sc.Inject.End, lines)
			if !ok {
				return rec, nil
			}
			return rec.WithContents(out), nil
		}),
		pipeline.Transform("compile", func(ctx context.Context, rec pipeline.FileRecord) (pipeline.FileRecord, error) {
			o := opts
			o.BaseDir = rec.Base
			css, m, err := p.compiler.Compile(ctx, rec.Path, rec.Contents, o)
			if err != nil {
				return rec, err
			}
			return rec.WithContents(css).WithSourceMap(m).ReplaceExt(".css"), nil
		}),
	}
	stages = append(stages, p.transforms[TaskStyles]...)
	if sc.Maps != "" {
		stages = append(stages, pipeline.WriteMaps(sc.Maps))
	}
	return p.execute(ctx, pipeline.Spec{
		Name:    TaskStyles,
		Sources: sc.Src,
		Stages:  stages,
		Dest:    sc.Dest,
	})
}

func (p *Project) scripts(ctx context.Context) error {
	sc := p.cfg.Scripts
	stages := append([]pipeline.Stage(nil), p.transforms[TaskScripts]...)
	stages = append(stages, pipeline.Concat(sc.Bundle, ";\n"))
	if sc.Minify {
		stages = append(stages, p.minify(script.JavaScript))
	}
	if sc.Maps != "" {
		stages = append(stages, pipeline.WriteMaps(sc.Maps))
	}
	return p.execute(ctx, pipeline.Spec{
		Name:    TaskScripts,
		Sources: sc.Src,
		Stages:  stages,
		Dest:    sc.Dest,
	})
}

// minify shrinks each record. Minification drops column information, so
// a record's map is reduced to line granularity.
func (p *Project) minify(mediaType string) pipeline.Stage {
	return pipeline.Transform("minify", func(ctx context.Context, rec pipeline.FileRecord) (pipeline.FileRecord, error) {
		out, err := p.minifier.Minify(ctx, mediaType, rec.Contents)
		if err != nil {
			return rec, err
		}
		return rec.WithContents(out).WithSourceMap(rec.SourceMap.Coarse()), nil
	})
}

func (p *Project) sprites(ctx context.Context) error {
	sc := p.cfg.Sprites
	pack := pipeline.Gather("pack", func(_ context.Context, records []pipeline.FileRecord) ([]pipeline.FileRecord, error) {
		images := make([]sprite.Image, len(records))
		for i, rec := range records {
			images[i] = sprite.Image{Name: rec.Path, Data: rec.Contents}
		}
		sheet, err := p.packer.Pack(images, sprite.Options{
			ImgPath: sc.ImgPath,
			Prefix:  sc.Prefix,
			Padding: sc.Padding,
		})
		if errors.Is(err, sprite.ErrNoImages) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		p.log.WithComponent(TaskSprites).Debug("packed %d sprites into %dx%d", len(sheet.Sprites), sheet.Width, sheet.Height)
		return []pipeline.FileRecord{
			pipeline.NewRecord(p.cfg.Root, sc.ImgName, sheet.PNG),
			pipeline.NewRecord(p.cfg.Root, sc.CSSName, sheet.SCSS).WithDest(sc.StyleDest),
		}, nil
	})
	return p.execute(ctx, pipeline.Spec{
		Name:    TaskSprites,
		Sources: sc.Src,
		Stages:  []pipeline.Stage{pack},
		Dest:    sc.Dest,
	})
}

// vendorFiles returns the manifest's main files with one of exts.
func (p *Project) vendorFiles(exts ...string) (vendor.Files, error) {
	files, err := vendor.Discover(p.cfg.Vendor.Manifest, p.cfg.Vendor.ComponentsDir)
	if err != nil {
		return nil, err
	}
	return files.Ext(exts...), nil
}

func (p *Project) dependencies(ctx context.Context) error {
	vc := p.cfg.Vendor
	files, err := vendor.Discover(vc.Manifest, vc.ComponentsDir)
	if err != nil {
		return err
	}

	styles := append([]string(files.Ext("css")), vc.Styles...)
	scripts := append([]string(files.Ext("js")), vc.Scripts...)

	var errs []error
	if len(styles) > 0 {
		errs = append(errs, p.execute(ctx, pipeline.Spec{
			Name:    "vendor.css",
			Sources: styles,
			Stages:  []pipeline.Stage{pipeline.Concat("vendor.css", "\n")},
			Dest:    p.cfg.Styles.Dest,
		}))
	}
	if len(scripts) > 0 {
		errs = append(errs, p.execute(ctx, pipeline.Spec{
			Name:    "vendor.js",
			Sources: scripts,
			Stages:  []pipeline.Stage{pipeline.Concat("vendor.js", ";\n"), p.minify(script.JavaScript)},
			Dest:    p.cfg.Scripts.Dest,
		}))
	}
	if len(styles) == 0 && len(scripts) == 0 {
		p.log.WithComponent(TaskDependencies).Debug("no vendor files")
	}
	return errors.Join(errs...)
}

func (p *Project) lint(ctx context.Context) error {
	lc := p.cfg.Lint
	log := p.log.WithComponent(TaskLint)
	if lc.Command == "" {
		log.Debug("no lint command configured")
		return nil
	}
	m, err := p.matcher(lc.Matcher, "lint.matcher")
	if err != nil {
		return err
	}

	var files []string
	fsys := os.DirFS(p.cfg.Root)
	for _, pattern := range lc.Files {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return fault.Config(p.cfg.Path, "lint.files: %v", err)
		}
		files = append(files, matches...)
	}
	if len(lc.Files) > 0 && len(files) == 0 {
		log.Debug("no files to lint")
		return nil
	}

	action := task.ShellAction(p.procs, task.ShellConfig{
		Name:      TaskLint,
		Command:   lc.Command,
		Args:      files,
		Dir:       p.cfg.Root,
		Matcher:   m,
		OnProblem: p.metrics.Problem,
		Logger:    p.log,
	})
	if err := action(ctx); err != nil {
		fe := fault.Compilation(TaskLint, "", err)
		p.report(fe)
		return fe
	}
	return nil
}

func (p *Project) serve(ctx context.Context) error {
	sc := p.cfg.Server
	if err := os.MkdirAll(sc.BaseDir, 0o755); err != nil {
		return fault.Config(sc.BaseDir, "cannot create server.baseDir: %v", err)
	}
	cfg := preview.Config{
		Addr:    sc.Addr(),
		BaseDir: sc.BaseDir,
		Open:    sc.Open || p.open,
		Logger:  p.log,
	}
	if sc.Metrics {
		cfg.Gatherer = p.metrics.Registry()
	}
	return p.server.Start(ctx, cfg)
}

func (p *Project) watch(ctx context.Context) error {
	g, err := watcher.NewGroup(p.rules(), p.onChange,
		watcher.WithRoot(p.cfg.Root),
		watcher.WithDebounceDelay(p.cfg.Watch.Debounce),
		watcher.WithIgnorePatterns(p.cfg.Watch.Ignore),
		watcher.WithLogger(p.log),
	)
	if err != nil {
		return err
	}
	return g.Run(ctx)
}

// onChange re-runs a rule's tasks and requests its reload once they
// succeed. Failures are logged and the watch continues.
func (p *Project) onChange(ctx context.Context, rule watcher.Rule, file string) {
	log := p.log.WithComponent(TaskWatch)
	log.Info("%s changed", p.cfg.Rel(file))

	if len(rule.Tasks) > 0 {
		run, err := p.scheduler.Run(ctx, rule.Tasks...)
		if err != nil {
			p.log.Alert(err)
			return
		}
		if err := run.Wait(); err != nil {
			if ctx.Err() == nil {
				log.Warn("%s: %v", strings.Join(rule.Tasks, ", "), err)
			}
			return
		}
	}

	scope, _ := preview.ParseScope(rule.Reload)
	p.notifier.NotifyReload(scope, p.cfg.Rel(file))
}

// rules returns the configured watch rules, or the defaults derived from
// the asset sections. Default rules whose directory does not exist are
// left out.
func (p *Project) rules() []watcher.Rule {
	if len(p.cfg.Watch.Rules) > 0 {
		out := make([]watcher.Rule, len(p.cfg.Watch.Rules))
		for i, r := range p.cfg.Watch.Rules {
			out[i] = watcher.Rule{Pattern: r.Pattern, Tasks: r.Tasks, Reload: r.Reload}
		}
		return out
	}

	c := p.cfg
	full := preview.ScopeFull.String()
	var candidates []watcher.Rule
	add := func(patterns []string, reload string, tasks ...string) {
		for _, pat := range patterns {
			if pat != "" {
				candidates = append(candidates, watcher.Rule{Pattern: pat, Tasks: tasks, Reload: reload})
			}
		}
	}
	add(c.Views.Src, full, TaskViews)
	if c.Views.Partials != "" {
		add([]string{c.Rel(c.Views.Partials)}, full, TaskViews)
	}
	add([]string{c.Styles.Watch}, preview.ScopeStyles.String(), TaskStyles)
	add(c.Scripts.Src, full, TaskScripts)
	add(c.Sprites.Src, full, TaskSprites)
	add(c.Lint.Files, "", TaskLint)
	add([]string{c.Rel(c.Vendor.Manifest)}, "", TaskDependencies, TaskStyles)

	var out []watcher.Rule
	for _, r := range candidates {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(r.Pattern))
		if !strings.ContainsAny(r.Pattern, "*?[{") {
			base = path.Dir(filepath.ToSlash(r.Pattern))
		}
		if _, err := os.Stat(c.Abs(base)); err != nil {
			p.log.WithComponent(TaskWatch).Debug("not watching %s: %v", r.Pattern, err)
			continue
		}
		out = append(out, r)
	}
	return out
}

// checkRules rejects watch rules naming unknown tasks or reload scopes.
func (p *Project) checkRules() error {
	var errs []error
	for _, r := range p.rules() {
		if _, err := preview.ParseScope(r.Reload); err != nil {
			errs = append(errs, fault.Config(p.cfg.Path, "watch rule %s: %v", r.Pattern, err))
		}
		for _, name := range r.Tasks {
			if _, err := p.registry.Resolve(name); err != nil {
				errs = append(errs, fault.Config(p.cfg.Path, "watch rule %s: %v", r.Pattern, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Project) String() string {
	return fmt.Sprintf("project %s (%d tasks)", p.cfg.Root, p.registry.Len())
}
