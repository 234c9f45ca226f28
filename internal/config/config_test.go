package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/assetstorm/internal/fault"
)

type envStub map[string]any

func (e envStub) Load() (map[string]any, error) { return e, nil }

func write(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadWith(Options{Dir: dir, Env: envStub{}})
	if err != nil {
		t.Fatalf("LoadWith error = %v", err)
	}

	if cfg.Path != "" || cfg.Root != dir {
		t.Errorf("Path, Root = %q, %q", cfg.Path, cfg.Root)
	}
	if cfg.Server.Port != DefaultPort || cfg.Server.Addr() != "localhost:3000" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Server.ReloadDelay != 100*time.Millisecond || cfg.Watch.Debounce != 100*time.Millisecond {
		t.Errorf("delays = %v, %v", cfg.Server.ReloadDelay, cfg.Watch.Debounce)
	}
	if want := filepath.Join(dir, "public", "styles"); cfg.Styles.Dest != want {
		t.Errorf("Styles.Dest = %q, want %q", cfg.Styles.Dest, want)
	}
	if len(cfg.Styles.Src) != 1 || cfg.Styles.Src[0] != "assets/styles/*.scss" {
		t.Errorf("Styles.Src = %v", cfg.Styles.Src)
	}
	if cfg.Styles.OutputStyle != "compressed" || !cfg.Styles.Prefix {
		t.Errorf("Styles = %+v", cfg.Styles)
	}
	if cfg.Sprites.Prefix != "sprite-" || cfg.Sprites.ImgPath != "../imgs/sprites/sprites.png" {
		t.Errorf("Sprites = %+v", cfg.Sprites)
	}
	if cfg.Scripts.Bundle != "app.js" || !cfg.Scripts.Minify {
		t.Errorf("Scripts = %+v", cfg.Scripts)
	}
	if cfg.Vendor.Manifest != filepath.Join(dir, "bower.json") {
		t.Errorf("Vendor.Manifest = %q", cfg.Vendor.Manifest)
	}
	if !strings.HasPrefix(cfg.String(), "defaults") {
		t.Errorf("String() = %q", cfg.String())
	}
}

func TestLoad_LayersFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := write(t, filepath.Join(dir, "assetstorm.yaml"), `
server:
  port: 8080
  open: true
  reloadDelay: 250ms
styles:
  src: ./src/css/main.scss
  outputStyle: expanded
  includePaths: [lib/scss]
watch:
  rules:
    - pattern: ./src/**/*.html
      tasks: [views]
      reload: full
tasks:
  fmt:
    cmd: prettier --write .
  serve-api:
    cmd: go run ./api
    long: true
logging:
  level: warn
mystery: 1
`)

	cfg, err := LoadWith(Options{Path: path, Env: envStub{
		"server":  map[string]any{"port": int64(9090)},
		"logging": map[string]any{"level": "debug"},
	}})
	if err != nil {
		t.Fatalf("LoadWith error = %v", err)
	}

	if cfg.Path != path || cfg.Root != dir {
		t.Errorf("Path, Root = %q, %q", cfg.Path, cfg.Root)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want env value 9090", cfg.Server.Port)
	}
	if !cfg.Server.Open || cfg.Server.ReloadDelay != 250*time.Millisecond {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want default kept", cfg.Server.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if len(cfg.Styles.Src) != 1 || cfg.Styles.Src[0] != "src/css/main.scss" {
		t.Errorf("Styles.Src = %v", cfg.Styles.Src)
	}
	if cfg.Styles.IncludePaths[0] != filepath.Join(dir, "lib", "scss") {
		t.Errorf("IncludePaths = %v", cfg.Styles.IncludePaths)
	}
	if r := cfg.Watch.Rules; len(r) != 1 || r[0].Pattern != "src/**/*.html" || r[0].Reload != "full" {
		t.Errorf("Watch.Rules = %+v", r)
	}
	if names := cfg.TaskNames(); len(names) != 2 || names[0] != "fmt" {
		t.Errorf("TaskNames = %v", names)
	}
	if api := cfg.Tasks["serve-api"]; !api.Long || api.Dir != dir {
		t.Errorf("serve-api = %+v", api)
	}
	if len(cfg.Unused) != 1 || cfg.Unused[0] != "mystery" {
		t.Errorf("Unused = %v, want [mystery]", cfg.Unused)
	}
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "assetstorm.toml"), `
[scripts]
bundle = "main.js"
minify = false

[watch]
debounce = "50ms"
`)

	cfg, err := LoadWith(Options{Dir: dir, Env: envStub{}})
	if err != nil {
		t.Fatalf("LoadWith error = %v", err)
	}
	if cfg.Path != filepath.Join(dir, "assetstorm.toml") {
		t.Errorf("Path = %q, want the toml file found in Dir", cfg.Path)
	}
	if cfg.Scripts.Bundle != "main.js" || cfg.Scripts.Minify {
		t.Errorf("Scripts = %+v", cfg.Scripts)
	}
	if cfg.Watch.Debounce != 50*time.Millisecond {
		t.Errorf("Watch.Debounce = %v", cfg.Watch.Debounce)
	}
}

func TestLoad_ConfigFaults(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"parse", "server: [", "parse error"},
		{"level", "logging:\n  level: loud\n", "logging.level"},
		{"style", "styles:\n  outputStyle: nested\n", "styles.outputStyle"},
		{"port", "server:\n  port: 70000\n", "server.port"},
		{"bundle", "scripts:\n  bundle: js/app.js\n", "scripts.bundle"},
		{"rule", "watch:\n  rules:\n    - tasks: [views]\n", "pattern is required"},
		{"task", "tasks:\n  empty:\n    description: nothing\n", "tasks.empty"},
		{"decode", "server:\n  port: [1]\n", "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := write(t, filepath.Join(dir, tt.name+".yaml"), tt.content)
			_, err := LoadWith(Options{Path: path, Env: envStub{}})
			if fault.KindOf(err) != fault.KindConfig {
				t.Fatalf("LoadWith error = %v, want config fault", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := LoadWith(Options{Path: filepath.Join(t.TempDir(), "nope.yaml"), Env: envStub{}})
	if !errors.Is(err, ErrNotFound) || !fault.IsFatal(err) {
		t.Errorf("LoadWith error = %v, want fatal ErrNotFound", err)
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := write(t, filepath.Join(t.TempDir(), "assetstorm.ini"), "x=1")
	if _, err := LoadWith(Options{Path: path, Env: envStub{}}); fault.KindOf(err) != fault.KindConfig {
		t.Errorf("LoadWith error = %v, want config fault", err)
	}
}

func TestConfig_AbsAndRel(t *testing.T) {
	c := &Config{Root: filepath.FromSlash("/project")}
	if got := c.Abs("public/styles"); got != filepath.FromSlash("/project/public/styles") {
		t.Errorf("Abs = %q", got)
	}
	if got := c.Abs(""); got != "" {
		t.Errorf("Abs(\"\") = %q", got)
	}
	if got := c.Rel(filepath.FromSlash("/project/public/app.js")); got != filepath.FromSlash("public/app.js") {
		t.Errorf("Rel = %q", got)
	}
}
