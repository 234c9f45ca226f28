package style

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/assetstorm/internal/process"
	"github.com/dshills/assetstorm/internal/sourcemap"
)

// Filterer pipes input through an external command.
type Filterer interface {
	Filter(ctx context.Context, name, cmdline string, input []byte) ([]byte, error)
}

// CommandCompiler compiles by piping the stylesheet through an external
// command such as "sass --stdin". "{name}" in the command line is
// replaced with the stylesheet path and "{includes}" with the include
// paths, colon separated. No source map is produced.
type CommandCompiler struct {
	Runner  Filterer
	Cmdline string
}

// Compile implements Compiler.
func (c *CommandCompiler) Compile(ctx context.Context, name string, src []byte, opts Options) ([]byte, *sourcemap.Map, error) {
	r := strings.NewReplacer(
		"{name}", process.ShellEscape(name),
		"{includes}", process.ShellEscape(strings.Join(opts.IncludePaths, ":")),
	)
	out, err := c.Runner.Filter(ctx, "styles", r.Replace(c.Cmdline), src)
	if err != nil {
		return nil, nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return out, nil, nil
}
