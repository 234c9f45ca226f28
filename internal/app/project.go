// Package app wires configuration, collaborators and tasks into a
// runnable project, and supervises configuration generations.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/assetstorm/internal/assets/script"
	"github.com/dshills/assetstorm/internal/assets/sprite"
	"github.com/dshills/assetstorm/internal/assets/style"
	"github.com/dshills/assetstorm/internal/assets/template"
	"github.com/dshills/assetstorm/internal/config"
	"github.com/dshills/assetstorm/internal/fault"
	"github.com/dshills/assetstorm/internal/logging"
	"github.com/dshills/assetstorm/internal/pipeline"
	"github.com/dshills/assetstorm/internal/preview"
	"github.com/dshills/assetstorm/internal/process"
	"github.com/dshills/assetstorm/internal/task"
)

// Project is one configuration generation: the frozen task registry and
// the collaborators its actions use.
type Project struct {
	cfg     *config.Config
	log     *logging.Logger
	procs   *process.Supervisor
	metrics *Metrics
	open    bool

	notifier *preview.Notifier
	server   *preview.Server
	runner   *pipeline.Runner

	compiler style.Compiler
	minifier script.Minifier
	packer   sprite.Packer
	matchers *task.ProblemMatcher

	transforms map[string][]pipeline.Stage
	luaStages  []*pipeline.LuaStage

	registry  *task.Registry
	scheduler *task.Scheduler
}

// Option configures a Project.
type Option func(*Project)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Project) { p.log = l }
}

// WithProcesses sets the supervisor external commands run under.
func WithProcesses(s *process.Supervisor) Option {
	return func(p *Project) { p.procs = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(p *Project) { p.metrics = m }
}

// WithOpen opens the browser when the preview server starts, regardless
// of server.open.
func WithOpen(open bool) Option {
	return func(p *Project) { p.open = open }
}

// BuildRegistry wires collaborators for cfg and registers every built-in
// and user task. The returned project's registry is frozen; graph and
// configuration errors are returned before anything runs.
func BuildRegistry(cfg *config.Config, opts ...Option) (*Project, error) {
	p := &Project{cfg: cfg, transforms: make(map[string][]pipeline.Stage)}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logging.OrNull(p.log)
	if p.procs == nil {
		p.procs = process.NewSupervisor(process.WithLogger(p.log))
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}

	p.notifier = preview.NewNotifier(
		preview.WithReloadDelay(cfg.Server.ReloadDelay),
		preview.WithLogger(p.log),
		preview.WithSignalHook(p.metrics.ReloadSent),
	)
	p.server = preview.NewServer(p.notifier)
	p.runner = pipeline.NewRunner(
		pipeline.WithLogger(p.log),
		pipeline.WithReporter(p.report),
	)
	p.matchers = task.NewProblemMatcher()
	p.packer = sprite.BinaryTree{}

	p.compiler = style.SCSS{}
	if cfg.Styles.Command != "" {
		p.compiler = &style.CommandCompiler{Runner: p.procs, Cmdline: cfg.Styles.Command}
	}
	p.minifier = script.NewLibMinifier()
	if cfg.Scripts.Command != "" {
		p.minifier = &script.CommandMinifier{Runner: p.procs, Cmdline: cfg.Scripts.Command}
	}

	if err := p.loadTransforms(); err != nil {
		p.Close()
		return nil, err
	}

	p.registry = task.NewRegistry()
	if err := p.register(); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.registry.Freeze(); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.checkRules(); err != nil {
		p.Close()
		return nil, err
	}

	p.scheduler = task.NewScheduler(p.registry,
		task.WithLogger(p.log),
		task.WithListener(p.metrics),
	)
	return p, nil
}

// Config returns the configuration the project was built from.
func (p *Project) Config() *config.Config {
	return p.cfg
}

// Registry returns the frozen task registry.
func (p *Project) Registry() *task.Registry {
	return p.registry
}

// Notifier returns the live-reload notifier.
func (p *Project) Notifier() *preview.Notifier {
	return p.notifier
}

// Run schedules the named tasks.
func (p *Project) Run(ctx context.Context, names ...string) (*task.Run, error) {
	return p.scheduler.Run(ctx, names...)
}

// Close releases Lua states and pending reload signals.
func (p *Project) Close() error {
	if p.notifier != nil {
		p.notifier.Close()
	}
	var errs []error
	for _, st := range p.luaStages {
		errs = append(errs, st.Close())
	}
	p.luaStages = nil
	return errors.Join(errs...)
}

func (p *Project) loadTransforms() error {
	lists := map[string][]string{
		"views":   p.cfg.Transforms.Views,
		"styles":  p.cfg.Transforms.Styles,
		"scripts": p.cfg.Transforms.Scripts,
	}
	for name, paths := range lists {
		for _, path := range paths {
			st, err := pipeline.Lua(path)
			if err != nil {
				return err
			}
			p.luaStages = append(p.luaStages, st)
			p.transforms[name] = append(p.transforms[name], st)
		}
	}
	return nil
}

func (p *Project) matcher(name, setting string) (*task.CompiledMatcher, error) {
	if name == "" {
		return nil, nil
	}
	m := p.matchers.Get(name)
	if m == nil {
		return nil, fault.Config(p.cfg.Path, "%s: unknown problem matcher %q (have %v)", setting, name, p.matchers.Names())
	}
	return m, nil
}

// report receives contained pipeline faults.
func (p *Project) report(fe *fault.Error) {
	p.metrics.Fault(fe)
	p.log.Alert(fe)
}

// execute runs one pipeline. Contained faults fail the task after every
// independent file has been processed.
func (p *Project) execute(ctx context.Context, spec pipeline.Spec) error {
	if spec.Base == "" {
		spec.Base = p.cfg.Root
	}
	res, err := p.runner.Execute(ctx, spec)
	if err != nil {
		return err
	}
	p.metrics.Written(spec.Name, len(res.Written))
	p.log.WithComponent(spec.Name).Info("%d written, %d unchanged, %d failed", len(res.Written), len(res.Unchanged), len(res.Faults))
	if !res.OK() {
		return fmt.Errorf("%s: %w", spec.Name, res.Err())
	}
	return nil
}

func (p *Project) renderer() (template.Renderer, error) {
	if p.cfg.Views.Command != "" {
		return &template.CommandRenderer{Runner: p.procs, Cmdline: p.cfg.Views.Command}, nil
	}
	return template.NewHTMLRenderer(template.Options{
		Partials: p.cfg.Views.Partials,
		Data:     p.cfg.Views.Data,
	})
}
