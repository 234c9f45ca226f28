package config

import "time"

// ViewsConfig configures template rendering.
type ViewsConfig struct {
	// Src are globs of views to render.
	Src []string `mapstructure:"src"`

	// Dest is the output directory.
	Dest string `mapstructure:"dest"`

	// Partials is a glob of templates shared by every view.
	Partials string `mapstructure:"partials"`

	// Data is a YAML or JSON file passed to views.
	Data string `mapstructure:"data"`

	// Command replaces the built-in renderer with an external filter.
	// {name} is replaced with the view path.
	Command string `mapstructure:"command"`
}

// InjectConfig controls the vendor import injection region.
type InjectConfig struct {
	Start  string `mapstructure:"start"`
	End    string `mapstructure:"end"`
	Format string `mapstructure:"format"`
}

// StylesConfig configures stylesheet compilation.
type StylesConfig struct {
	Src   []string `mapstructure:"src"`
	Watch string   `mapstructure:"watch"`
	Dest  string   `mapstructure:"dest"`

	// Maps is the source map directory relative to Dest. Empty disables
	// source maps.
	Maps string `mapstructure:"maps"`

	// OutputStyle is "compressed" or "expanded".
	OutputStyle  string       `mapstructure:"outputStyle"`
	IncludePaths []string     `mapstructure:"includePaths"`
	Inject       InjectConfig `mapstructure:"inject"`

	// Command replaces the built-in compiler. {name} and {includes} are
	// substituted.
	Command string `mapstructure:"command"`

	// Prefix adds vendor-prefixed declarations.
	Prefix bool `mapstructure:"prefix"`
}

// ScriptsConfig configures script bundling.
type ScriptsConfig struct {
	Src    []string `mapstructure:"src"`
	Dest   string   `mapstructure:"dest"`
	Bundle string   `mapstructure:"bundle"`
	Maps   string   `mapstructure:"maps"`
	Minify bool     `mapstructure:"minify"`

	// Command replaces the built-in minifier. {type} is the media type.
	Command string `mapstructure:"command"`
}

// SpritesConfig configures sprite sheet packing.
type SpritesConfig struct {
	Src       []string `mapstructure:"src"`
	Dest      string   `mapstructure:"dest"`
	StyleDest string   `mapstructure:"styleDest"`
	ImgName   string   `mapstructure:"imgName"`
	CSSName   string   `mapstructure:"cssName"`
	ImgPath   string   `mapstructure:"imgPath"`
	Prefix    string   `mapstructure:"prefix"`
	Padding   int      `mapstructure:"padding"`
}

// VendorConfig configures third-party dependency bundling.
type VendorConfig struct {
	Manifest      string `mapstructure:"manifest"`
	ComponentsDir string `mapstructure:"componentsDir"`

	// Styles and Scripts are appended to the files found through the
	// manifest.
	Styles  []string `mapstructure:"styles"`
	Scripts []string `mapstructure:"scripts"`
}

// LintConfig configures the lint task.
type LintConfig struct {
	Files   []string `mapstructure:"files"`
	Command string   `mapstructure:"command"`

	// Matcher names the problem matcher applied to the linter's output.
	Matcher string `mapstructure:"matcher"`
}

// ServerConfig configures the live-reload preview server.
type ServerConfig struct {
	BaseDir     string        `mapstructure:"baseDir"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Open        bool          `mapstructure:"open"`
	ReloadDelay time.Duration `mapstructure:"reloadDelay"`
	Metrics     bool          `mapstructure:"metrics"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}

// RuleConfig binds a pattern to tasks and a reload scope.
type RuleConfig struct {
	Pattern string   `mapstructure:"pattern"`
	Tasks   []string `mapstructure:"tasks"`

	// Reload is "", "full" or "styles".
	Reload string `mapstructure:"reload"`
}

// WatchConfig configures the watch task.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Ignore   []string      `mapstructure:"ignore"`

	// Rules replace the rules derived from the other sections when set.
	Rules []RuleConfig `mapstructure:"rules"`
}

// TaskConfig is a user-defined shell task.
type TaskConfig struct {
	Description string            `mapstructure:"description"`
	Deps        []string          `mapstructure:"deps"`
	Cmd         string            `mapstructure:"cmd"`
	Dir         string            `mapstructure:"dir"`
	Env         map[string]string `mapstructure:"env"`
	Matcher     string            `mapstructure:"matcher"`

	// Long marks a task that runs until interrupted.
	Long bool `mapstructure:"long"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// TransformsConfig lists Lua transform scripts per pipeline.
type TransformsConfig struct {
	Views   []string `mapstructure:"views"`
	Styles  []string `mapstructure:"styles"`
	Scripts []string `mapstructure:"scripts"`
}
