package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/run"

	"github.com/dshills/assetstorm/internal/config"
	"github.com/dshills/assetstorm/internal/fault"
	"github.com/dshills/assetstorm/internal/logging"
	"github.com/dshills/assetstorm/internal/process"
	"github.com/dshills/assetstorm/internal/task"
	"github.com/dshills/assetstorm/internal/watcher"
)

// shutdownTimeout bounds how long child processes get to exit once the
// supervisor returns.
const shutdownTimeout = 5 * time.Second

// Options configures a Supervisor.
type Options struct {
	// Config selects and layers the configuration file.
	Config config.Options

	// Tasks are the tasks to run; empty means "default".
	Tasks []string

	// Open opens the browser when the preview server first starts.
	Open bool

	// LogLevel, when set, overrides logging.level.
	LogLevel string

	// ReloadConfig restarts long-running tasks when the configuration
	// file changes.
	ReloadConfig bool

	Logger *logging.Logger
}

// Supervisor runs the requested tasks for successive configuration
// generations. Each configuration change builds a fresh project; the
// previous generation is stopped only once the new one is valid.
type Supervisor struct {
	opts    Options
	log     *logging.Logger
	procs   *process.Supervisor
	metrics *Metrics

	load func(config.Options) (*config.Config, error)
}

// NewSupervisor returns a Supervisor for opts.
func NewSupervisor(opts Options) *Supervisor {
	if len(opts.Tasks) == 0 {
		opts.Tasks = []string{TaskDefault}
	}
	log := logging.OrNull(opts.Logger)
	return &Supervisor{
		opts:    opts,
		log:     log,
		procs:   process.NewSupervisor(process.WithLogger(log)),
		metrics: NewMetrics(),
		load:    config.LoadWith,
	}
}

// Metrics returns the metrics shared by every generation.
func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}

// generation is one running project.
type generation struct {
	project *Project
	run     *task.Run
	cancel  context.CancelFunc

	// done is closed once every long task has returned; err is then the
	// run's joined failure.
	done chan struct{}
	err  error

	once    sync.Once
	stopErr error
}

func (g *generation) stop() error {
	g.once.Do(func() {
		g.cancel()
		<-g.done
		g.stopErr = errors.Join(g.err, g.project.Close())
	})
	return g.stopErr
}

// Run loads the configuration and runs the requested tasks. When only
// one-shot tasks were requested it returns their joined failure. With
// long-running tasks it blocks until ctx is cancelled, which is a clean
// exit, or until every long task has returned on its own.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.procs.Shutdown(shutdownTimeout)

	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	gen, err := s.start(ctx, cfg, s.opts.Open)
	if err != nil {
		return err
	}
	if len(gen.run.Launched()) == 0 {
		return gen.stop()
	}

	reloads := make(chan *config.Config)
	var g run.Group

	genCtx, genCancel := context.WithCancel(ctx)
	g.Add(func() error {
		return s.loop(genCtx, gen, reloads)
	}, func(error) {
		genCancel()
	})

	if s.opts.ReloadConfig && cfg.Path != "" {
		watchCtx, watchCancel := context.WithCancel(ctx)
		g.Add(func() error {
			err := watcher.Watch(watchCtx, cfg.Path, func(ctx context.Context, _ string) {
				s.reload(ctx, reloads)
			}, watcher.WithRoot(cfg.Root), watcher.WithLogger(s.log))
			if err != nil {
				s.log.Warn("not watching %s: %v", cfg.Path, err)
				<-watchCtx.Done()
			}
			return nil
		}, func(error) {
			watchCancel()
		})
	}

	err = g.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// loop owns the current generation, swapping it for each validated
// reload.
func (s *Supervisor) loop(ctx context.Context, gen *generation, reloads <-chan *config.Config) error {
	current := gen
	defer func() {
		if err := current.stop(); err != nil && ctx.Err() == nil {
			s.log.Debug("generation stopped: %v", err)
		}
	}()

	for {
		done := current.done
		select {
		case <-ctx.Done():
			return nil

		case <-done:
			err := current.err
			if err == nil {
				err = errors.New("all long-running tasks exited")
			}
			return err

		case cfg := <-reloads:
			project, err := s.prepare(cfg, false)
			if err != nil {
				s.log.Alert(err)
				s.log.Warn("keeping the previous configuration")
				continue
			}
			// The new project is valid; release the old generation's
			// listeners and watches before launching it.
			if err := current.stop(); err != nil {
				s.log.Debug("previous generation: %v", err)
			}
			next, err := s.launch(ctx, project)
			if err != nil {
				return err
			}
			current = next
			s.log.Info("configuration reloaded")
		}
	}
}

// reload loads the changed configuration and hands it to the loop.
// Invalid configurations are reported and dropped.
func (s *Supervisor) reload(ctx context.Context, reloads chan<- *config.Config) {
	cfg, err := s.loadConfig()
	if err != nil {
		s.log.Alert(err)
		s.log.Warn("keeping the previous configuration")
		return
	}
	select {
	case reloads <- cfg:
	case <-ctx.Done():
	}
}

func (s *Supervisor) loadConfig() (*config.Config, error) {
	cfg, err := s.load(s.opts.Config)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if s.opts.LogLevel != "" {
		level = s.opts.LogLevel
	}
	s.log.SetLevel(logging.ParseLevel(level))
	return cfg, nil
}

// start builds a project for cfg and launches it.
func (s *Supervisor) start(ctx context.Context, cfg *config.Config, open bool) (*generation, error) {
	project, err := s.prepare(cfg, open)
	if err != nil {
		return nil, err
	}
	return s.launch(ctx, project)
}

// prepare builds and validates a project without running anything.
func (s *Supervisor) prepare(cfg *config.Config, open bool) (*Project, error) {
	project, err := BuildRegistry(cfg,
		WithLogger(s.log),
		WithProcesses(s.procs),
		WithMetrics(s.metrics),
		WithOpen(open),
	)
	if err != nil {
		return nil, err
	}
	for _, name := range s.opts.Tasks {
		if _, err := project.Registry().Resolve(name); err != nil {
			_ = project.Close()
			return nil, err
		}
	}
	return project, nil
}

// launch runs the requested tasks under a context the generation owns.
func (s *Supervisor) launch(ctx context.Context, project *Project) (*generation, error) {
	s.metrics.GenerationStarted()
	genCtx, cancel := context.WithCancel(ctx)
	r, err := project.Run(genCtx, s.opts.Tasks...)
	if err != nil {
		cancel()
		_ = project.Close()
		return nil, err
	}

	g := &generation{project: project, run: r, cancel: cancel, done: make(chan struct{})}
	go func() {
		g.err = r.Wait()
		close(g.done)
	}()
	return g, nil
}

// ExitCode maps a Run error to a process exit status: 0 on success, 2 for
// configuration and scheduling faults, 1 for task failures.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case fault.IsFatal(err):
		return 2
	}
	return 1
}
