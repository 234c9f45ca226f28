// Package process runs the external commands assetstorm delegates to:
// user shell tasks, linters, and command-backed collaborators such as an
// external stylesheet compiler or minifier.
//
// # Supervisor
//
// The Supervisor tracks every child it starts so that a configuration
// reload or process shutdown can stop them all:
//
//	sup := process.NewSupervisor()
//	defer sup.Shutdown(5 * time.Second)
//
//	res, err := sup.Run(ctx, process.Command{
//	    Name:  "sass",
//	    Shell: "sass --stdin",
//	    Stdin: src,
//	})
//
// Run feeds Stdin, captures stdout and stderr, and blocks until the
// command exits or ctx is cancelled. On cancellation the child's process
// group receives SIGTERM, then SIGKILL after the grace period.
//
// # Filters
//
// Filter is the stdin to stdout shape used by the collaborator
// implementations: the input is piped through a shell command line and the
// command's stdout is the result. A non-zero exit becomes *ExitError
// carrying the command's stderr.
package process
