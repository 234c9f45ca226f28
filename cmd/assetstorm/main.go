// Package main is the entry point for the assetstorm task runner.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/dshills/assetstorm/internal/app"
	"github.com/dshills/assetstorm/internal/config"
	"github.com/dshills/assetstorm/internal/fault"
	"github.com/dshills/assetstorm/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type flags struct {
	config         string
	dir            string
	logLevel       string
	open           bool
	noReloadConfig bool
}

func main() {
	os.Exit(run())
}

func run() int {
	gin.SetMode(gin.ReleaseMode)

	var f flags
	code := 0
	root := &cobra.Command{
		Use:   "assetstorm [task...]",
		Short: "Build, watch and serve front-end assets",
		Long: `assetstorm compiles views, stylesheets and scripts, packs sprites,
bundles vendor files and serves the result with live reload.

Without a task it runs "default": build, then watch and serve.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// runTasks reports its own failure.
			code = app.ExitCode(runTasks(cmd.Context(), f, args))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "", "configuration file (default: assetstorm.{yaml,yml,toml} in the project directory)")
	root.PersistentFlags().StringVarP(&f.dir, "dir", "C", "", "project directory")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.Flags().BoolVar(&f.open, "open", false, "open the browser when the preview server starts")
	root.Flags().BoolVar(&f.noReloadConfig, "no-reload-config", false, "do not restart when the configuration file changes")

	root.AddCommand(tasksCmd(&f), versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = app.ExitCode(err)
	}
	return code
}

func newLogger(f flags) (*logging.Logger, error) {
	cfg := logging.DefaultConfig()
	if f.logLevel != "" {
		if !logging.ValidLevel(f.logLevel) {
			return nil, fault.Config("", "invalid log level %q (must be debug, info, warn, or error)", f.logLevel)
		}
		cfg.Level = logging.ParseLevel(f.logLevel)
	}
	return logging.New(cfg), nil
}

func runTasks(ctx context.Context, f flags, tasks []string) error {
	log, err := newLogger(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	s := app.NewSupervisor(app.Options{
		Config:       config.Options{Path: f.config, Dir: f.dir},
		Tasks:        tasks,
		Open:         f.open,
		LogLevel:     f.logLevel,
		ReloadConfig: !f.noReloadConfig,
		Logger:       log,
	})
	err = s.Run(ctx)
	switch {
	case err == nil:
	case fault.IsFatal(err):
		log.Alert(err)
	default:
		log.Error("%v", err)
	}
	return err
}

func tasksCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List tasks and their dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(config.Options{Path: f.config, Dir: f.dir})
			if err != nil {
				return err
			}
			p, err := app.BuildRegistry(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tKIND\tDEPENDS ON\tDESCRIPTION")
			for _, name := range p.Registry().Names() {
				t, _ := p.Registry().Resolve(name)
				deps := strings.Join(t.Deps, ", ")
				if deps == "" {
					deps = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Kind, deps, t.Description)
			}
			return w.Flush()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "assetstorm %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}
