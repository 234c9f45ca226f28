package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/dshills/assetstorm/internal/config/loader"
	"github.com/dshills/assetstorm/internal/fault"
	"github.com/dshills/assetstorm/internal/logging"
)

// Config is a fully resolved project configuration.
type Config struct {
	// Root is the project directory. Relative paths resolve against it.
	Root string `mapstructure:"-"`

	// Path is the file the configuration was read from, if any.
	Path string `mapstructure:"-"`

	// Unused lists keys present in the sources that no setting consumed.
	Unused []string `mapstructure:"-"`

	Views      ViewsConfig           `mapstructure:"views"`
	Styles     StylesConfig          `mapstructure:"styles"`
	Scripts    ScriptsConfig         `mapstructure:"scripts"`
	Sprites    SpritesConfig         `mapstructure:"sprites"`
	Vendor     VendorConfig          `mapstructure:"vendor"`
	Lint       LintConfig            `mapstructure:"lint"`
	Server     ServerConfig          `mapstructure:"server"`
	Watch      WatchConfig           `mapstructure:"watch"`
	Tasks      map[string]TaskConfig `mapstructure:"tasks"`
	Logging    LoggingConfig         `mapstructure:"logging"`
	Transforms TransformsConfig      `mapstructure:"transforms"`
}

// Options controls Load.
type Options struct {
	// Path is the config file. Empty searches Dir for DefaultFiles.
	Path string

	// Dir is the project directory used when Path is empty. Defaults to
	// the working directory.
	Dir string

	// Env is the environment layer. Defaults to ASSETSTORM_* variables.
	Env loader.Loader

	// FS is the file system config files are read from.
	FS loader.FileSystem
}

// Load reads the configuration at path, or the default file in the
// working directory when path is empty.
func Load(path string) (*Config, error) {
	return LoadWith(Options{Path: path})
}

// LoadWith layers defaults, the config file and the environment, then
// decodes and validates the result. Every failure is a config fault.
func LoadWith(opts Options) (*Config, error) {
	if opts.FS == nil {
		opts.FS = loader.DefaultFS()
	}
	if opts.Env == nil {
		opts.Env = loader.NewEnvLoader(loader.EnvPrefix)
	}

	file, root, err := locate(opts)
	if err != nil {
		return nil, err
	}

	merged := Defaults()
	if file != "" {
		fl, err := loader.ForPath(opts.FS, file)
		if err != nil {
			return nil, wrap(file, err)
		}
		data, err := fl.Load()
		if err != nil {
			return nil, wrap(file, err)
		}
		merged = loader.DeepMerge(merged, data)
	}

	env, err := opts.Env.Load()
	if err != nil {
		return nil, wrap("environment", err)
	}
	merged = loader.DeepMerge(merged, env)

	cfg, err := decode(merged)
	if err != nil {
		return nil, wrap(file, err)
	}
	cfg.Root = root
	cfg.Path = file
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find returns the first of DefaultFiles present in dir, or "".
func Find(dir string) string {
	for _, name := range DefaultFiles {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func locate(opts Options) (file, root string, err error) {
	if opts.Path != "" {
		file, err = filepath.Abs(opts.Path)
		if err != nil {
			return "", "", wrap(opts.Path, err)
		}
		if _, err := opts.FS.Stat(file); err != nil {
			return "", "", &fault.Error{Kind: fault.KindConfig, Path: file, Message: ErrNotFound.Error(), Err: ErrNotFound}
		}
		return file, filepath.Dir(file), nil
	}

	root = opts.Dir
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return "", "", err
		}
	}
	if root, err = filepath.Abs(root); err != nil {
		return "", "", wrap(opts.Dir, err)
	}
	return Find(root), root, nil
}

func decode(data map[string]any) (*Config, error) {
	var (
		cfg Config
		md  mapstructure.Metadata
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(data); err != nil {
		return nil, err
	}
	cfg.Unused = md.Unused
	sort.Strings(cfg.Unused)
	return &cfg, nil
}

func wrap(path string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return &fault.Error{Kind: fault.KindConfig, Path: path, Message: err.Error(), Err: err}
}

// Abs resolves p against Root. Absolute paths are returned cleaned.
func (c *Config) Abs(p string) string {
	if p == "" {
		return ""
	}
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Root, p)
}

// resolve makes output and file paths absolute and normalizes source
// globs to slash-separated paths relative to Root.
func (c *Config) resolve() {
	c.Views.Src = globs(c.Views.Src)
	c.Views.Dest = c.Abs(c.Views.Dest)
	c.Views.Partials = c.Abs(c.Views.Partials)
	c.Views.Data = c.Abs(c.Views.Data)

	c.Styles.Src = globs(c.Styles.Src)
	c.Styles.Watch = glob(c.Styles.Watch)
	c.Styles.Dest = c.Abs(c.Styles.Dest)
	for i, p := range c.Styles.IncludePaths {
		c.Styles.IncludePaths[i] = c.Abs(p)
	}

	c.Scripts.Src = globs(c.Scripts.Src)
	c.Scripts.Dest = c.Abs(c.Scripts.Dest)

	c.Sprites.Src = globs(c.Sprites.Src)
	c.Sprites.Dest = c.Abs(c.Sprites.Dest)
	c.Sprites.StyleDest = c.Abs(c.Sprites.StyleDest)

	c.Vendor.Manifest = c.Abs(c.Vendor.Manifest)
	c.Vendor.ComponentsDir = c.Abs(c.Vendor.ComponentsDir)
	for i, p := range c.Vendor.Styles {
		c.Vendor.Styles[i] = c.Abs(p)
	}
	for i, p := range c.Vendor.Scripts {
		c.Vendor.Scripts[i] = c.Abs(p)
	}

	c.Lint.Files = globs(c.Lint.Files)
	c.Server.BaseDir = c.Abs(c.Server.BaseDir)

	for i, r := range c.Watch.Rules {
		c.Watch.Rules[i].Pattern = glob(r.Pattern)
	}
	for name, t := range c.Tasks {
		t.Dir = c.Abs(t.Dir)
		if t.Dir == "" {
			t.Dir = c.Root
		}
		c.Tasks[name] = t
	}

	for _, list := range []*[]string{&c.Transforms.Views, &c.Transforms.Styles, &c.Transforms.Scripts} {
		for i, p := range *list {
			(*list)[i] = c.Abs(p)
		}
	}
}

func globs(list []string) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		if p = glob(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// glob cleans a relative glob so it matches against an fs.FS rooted at
// the project. Absolute globs are left absolute.
func glob(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.ToSlash(filepath.Clean(p))
	}
	return path.Clean(filepath.ToSlash(p))
}

// Validate checks settings that decoding cannot.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fault.Config(c.Path, format, args...))
	}

	if !logging.ValidLevel(c.Logging.Level) {
		bad("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Styles.OutputStyle {
	case "compressed", "expanded":
	default:
		bad("styles.outputStyle: must be compressed or expanded, got %q", c.Styles.OutputStyle)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		bad("server.port: %d out of range", c.Server.Port)
	}
	if c.Server.ReloadDelay < 0 {
		bad("server.reloadDelay: must not be negative")
	}
	if c.Watch.Debounce < 0 {
		bad("watch.debounce: must not be negative")
	}
	if c.Scripts.Bundle == "" || strings.ContainsAny(c.Scripts.Bundle, `/\`) {
		bad("scripts.bundle: must be a file name, got %q", c.Scripts.Bundle)
	}
	if c.Sprites.Padding < 0 {
		bad("sprites.padding: must not be negative")
	}
	for i, r := range c.Watch.Rules {
		if r.Pattern == "" {
			bad("watch.rules[%d]: pattern is required", i)
		}
		if len(r.Tasks) == 0 && r.Reload == "" {
			bad("watch.rules[%d]: needs tasks or a reload scope", i)
		}
	}
	for _, name := range c.TaskNames() {
		t := c.Tasks[name]
		if t.Cmd == "" && len(t.Deps) == 0 {
			bad("tasks.%s: needs cmd or deps", name)
		}
	}
	return errors.Join(errs...)
}

// TaskNames returns the user task names in sorted order.
func (c *Config) TaskNames() []string {
	names := make([]string, 0, len(c.Tasks))
	for name := range c.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rel returns p relative to Root for display.
func (c *Config) Rel(p string) string {
	if rel, err := filepath.Rel(c.Root, p); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return p
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// String summarizes where the configuration came from.
func (c *Config) String() string {
	if c.Path == "" {
		return fmt.Sprintf("defaults (root %s)", c.Root)
	}
	return c.Path
}
