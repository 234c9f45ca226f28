package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// DefaultShell runs Shell command lines.
var DefaultShell = []string{"sh", "-c"}

// Command describes an external command to run.
type Command struct {
	// Name labels the process in logs and errors.
	Name string

	// Shell is a command line run through DefaultShell. When set, Path and
	// Args are ignored.
	Shell string

	// Path and Args run a program directly.
	Path string
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is added on top of the current environment.
	Env map[string]string

	// Stdin is written to the process's standard input.
	Stdin []byte

	// Stdout and Stderr, when set, receive output as it is produced in
	// addition to the captured buffers.
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) label() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Shell != "" {
		return c.Shell
	}
	return c.Path
}

func (c Command) build() (*exec.Cmd, error) {
	var cmd *exec.Cmd
	switch {
	case strings.TrimSpace(c.Shell) != "":
		args := append(append([]string(nil), DefaultShell[1:]...), c.Shell)
		cmd = exec.Command(DefaultShell[0], args...)
	case c.Path != "":
		cmd = exec.Command(c.Path, c.Args...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrEmptyCommand, c.label())
	}
	cmd.Dir = c.Dir
	cmd.Env = buildEnvironment(c.Env)
	return cmd, nil
}

// buildEnvironment merges extra over os.Environ with deterministic order.
func buildEnvironment(extra map[string]string) []string {
	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.Index(kv, "="); idx > 0 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range extra {
		envMap[k] = v
	}

	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(envMap))
	for _, k := range keys {
		env = append(env, k+"="+envMap[k])
	}
	return env
}

// ShellJoin quotes each argument as needed and joins them into a command
// line suitable for Command.Shell.
func ShellJoin(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = ShellEscape(a)
	}
	return strings.Join(quoted, " ")
}

// ShellEscape single-quotes s unless it consists only of safe characters.
func ShellEscape(s string) string {
	if s == "" {
		return "''"
	}

	safe := true
	for _, c := range s {
		if !isShellSafe(c) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}

	var b strings.Builder
	b.WriteByte('\'')
	for _, c := range s {
		if c == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteRune(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func isShellSafe(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		strings.ContainsRune("-_./=:,+@%", c)
}
