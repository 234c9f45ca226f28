package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dshills/assetstorm/internal/logging"
	"github.com/dshills/assetstorm/internal/process"
)

// ErrProblems is returned by a shell action whose output contained
// error-severity problems.
var ErrProblems = errors.New("problems reported")

// Runner runs external commands. *process.Supervisor implements it.
type Runner interface {
	Run(ctx context.Context, c process.Command) (*process.Result, error)
}

// ShellConfig describes a task backed by an external command.
type ShellConfig struct {
	// Name labels the command in logs.
	Name string

	// Command is the command line, run through the shell.
	Command string

	// Args are escaped and appended to Command.
	Args []string

	Dir string
	Env map[string]string

	// Matcher, if set, scans stdout and stderr for problems.
	Matcher *CompiledMatcher

	// OnProblem is called once per matched problem.
	OnProblem func(Problem)

	Logger *logging.Logger
}

// ShellAction returns an Action that runs cfg through r. The command's
// output is logged at info level. A non-zero exit or any error-severity
// problem fails the task.
func ShellAction(r Runner, cfg ShellConfig) Action {
	log := logging.OrNull(cfg.Logger).WithComponent(cfg.Name)

	return func(ctx context.Context) error {
		line := cfg.Command
		if len(cfg.Args) > 0 {
			line += " " + process.ShellJoin(cfg.Args...)
		}

		log.Debug("exec: %s", line)
		res, runErr := r.Run(ctx, process.Command{
			Name:  cfg.Name,
			Shell: line,
			Dir:   cfg.Dir,
			Env:   cfg.Env,
		})
		if runErr != nil && res == nil {
			return runErr
		}

		var problems []Problem
		if cfg.Matcher != nil {
			for _, stream := range [][]byte{res.Stdout, res.Stderr} {
				found, err := cfg.Matcher.Scan(bytes.NewReader(stream))
				if err != nil {
					return fmt.Errorf("scan %s output: %w", cfg.Name, err)
				}
				problems = append(problems, found...)
			}
		} else {
			logOutput(log, res.Stdout)
			logOutput(log, res.Stderr)
		}

		errCount := 0
		for _, p := range problems {
			if cfg.OnProblem != nil {
				cfg.OnProblem(p)
			}
			if p.Severity == ProblemSeverityError {
				errCount++
				log.Error("%s", p)
			} else {
				log.Warn("%s", p)
			}
		}

		switch {
		case errCount > 0:
			return fmt.Errorf("%w: %d error(s) from %s", ErrProblems, errCount, cfg.Name)
		case runErr != nil:
			return runErr
		}
		return nil
	}
}

func logOutput(log *logging.Logger, out []byte) {
	for _, line := range bytes.Split(bytes.TrimRight(out, "\n"), []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			log.Info("%s", line)
		}
	}
}
