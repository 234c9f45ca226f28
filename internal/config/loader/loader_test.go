package loader

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	return nil, fs.ErrNotExist
}

func TestForPath(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/p/assetstorm.toml", `
[server]
port = 8080
open = true

[styles]
includePaths = ["assets/lib"]
`)
	memfs.AddFile("/p/assetstorm.yaml", `
server:
  port: 8080
  open: true
styles:
  includePaths: [assets/lib]
`)

	for _, path := range []string{"/p/assetstorm.toml", "/p/assetstorm.yaml"} {
		l, err := ForPath(memfs, path)
		if err != nil {
			t.Fatalf("ForPath(%q) error = %v", path, err)
		}
		cfg, err := l.Load()
		if err != nil {
			t.Fatalf("Load(%q) error = %v", path, err)
		}
		if v, _ := Get(cfg, "server.open"); v != true {
			t.Errorf("%s: server.open = %v, want true", path, v)
		}
		port, _ := Get(cfg, "server.port")
		switch p := port.(type) {
		case int64:
			if p != 8080 {
				t.Errorf("%s: server.port = %v", path, p)
			}
		case int:
			if p != 8080 {
				t.Errorf("%s: server.port = %v", path, p)
			}
		default:
			t.Errorf("%s: server.port = %v (%T)", path, port, port)
		}
		inc, _ := Get(cfg, "styles.includePaths")
		if list, ok := inc.([]any); !ok || len(list) != 1 || list[0] != "assets/lib" {
			t.Errorf("%s: styles.includePaths = %v", path, inc)
		}
	}

	if _, err := ForPath(memfs, "/p/assetstorm.ini"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("ForPath(.ini) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestFileLoader_Missing(t *testing.T) {
	for _, l := range []FileLoader{
		NewTOMLLoaderWithFS(NewMemFS(), "/none.toml"),
		NewYAMLLoaderWithFS(NewMemFS(), "/none.yaml"),
	} {
		cfg, err := l.Load()
		if err != nil || cfg != nil {
			t.Errorf("Load of missing file = %v, %v; want nil, nil", cfg, err)
		}
	}
}

func TestTOMLLoader_ParseError(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/bad.toml", "[server]\nport = = 1\n")

	_, err := NewTOMLLoaderWithFS(memfs, "/bad.toml").Load()
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Load error = %v, want *ParseError", err)
	}
	if perr.Path != "/bad.toml" || perr.Line != 2 {
		t.Errorf("ParseError = %+v, want /bad.toml line 2", perr)
	}
	if !strings.Contains(perr.Error(), "line 2") {
		t.Errorf("Error() = %q", perr.Error())
	}
}

func TestYAMLLoader_FromReader(t *testing.T) {
	cfg, err := NewYAMLLoader("").LoadFromReader(strings.NewReader("watch:\n  rules:\n    - pattern: a/*.js\n      tasks: [scripts]\n"))
	if err != nil {
		t.Fatalf("LoadFromReader error = %v", err)
	}
	rules, _ := Get(cfg, "watch.rules")
	list, ok := rules.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("watch.rules = %v", rules)
	}
	if rule, ok := list[0].(map[string]any); !ok || rule["pattern"] != "a/*.js" {
		t.Errorf("rule = %v", list[0])
	}

	if _, err := NewYAMLLoader("").LoadFromReader(strings.NewReader("a: [")); err == nil {
		t.Error("LoadFromReader of invalid yaml should fail")
	}
}

func TestDeepMerge(t *testing.T) {
	defaults := map[string]any{
		"server": map[string]any{"port": 3000, "host": "localhost"},
		"styles": map[string]any{"src": "a.scss"},
	}
	file := map[string]any{
		"server": map[string]any{"port": 8080},
		"styles": "replaced",
	}

	merged := DeepMerge(Clone(defaults), file)
	if v, _ := Get(merged, "server.port"); v != 8080 {
		t.Errorf("server.port = %v, want 8080", v)
	}
	if v, _ := Get(merged, "server.host"); v != "localhost" {
		t.Errorf("server.host = %v, want localhost", v)
	}
	if merged["styles"] != "replaced" {
		t.Errorf("styles = %v, want replaced", merged["styles"])
	}
	if v, _ := Get(defaults, "server.port"); v != 3000 {
		t.Errorf("defaults mutated: server.port = %v", v)
	}
}

func TestSetGet(t *testing.T) {
	m := map[string]any{"server": "not a map"}
	Set(m, "server.port", 1)
	if v, ok := Get(m, "server.port"); !ok || v != 1 {
		t.Errorf("Get(server.port) = %v, %v", v, ok)
	}
	if _, ok := Get(m, "server.port.x"); ok {
		t.Error("Get through a scalar should fail")
	}
}

func TestEnvLoader(t *testing.T) {
	l := NewEnvLoader(EnvPrefix)
	l.environ = func() []string {
		return []string{
			"ASSETSTORM_LOG_LEVEL=debug",
			"ASSETSTORM_PORT=8080",
			"ASSETSTORM_SERVER_RELOAD_DELAY=250ms",
			"ASSETSTORM_WATCH_IGNORE=[\"tmp/**\"]",
			"ASSETSTORM_STYLES_OUTPUT_STYLE=expanded",
			"ASSETSTORM_CONFIG=/etc/assetstorm.yaml",
			"HOME=/root",
		}
	}

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}

	tests := []struct {
		path string
		want any
	}{
		{"logging.level", "debug"},
		{"server.port", int64(8080)},
		{"server.reloadDelay", 250 * time.Millisecond},
		{"styles.outputStyle", "expanded"},
	}
	for _, tt := range tests {
		if v, ok := Get(cfg, tt.path); !ok || v != tt.want {
			t.Errorf("%s = %v (%T), want %v", tt.path, v, v, tt.want)
		}
	}
	if v, _ := Get(cfg, "watch.ignore"); v == nil {
		t.Error("watch.ignore not decoded from JSON")
	}
	if _, ok := cfg["config"]; ok {
		t.Error("ASSETSTORM_CONFIG should not become a setting")
	}
	if _, ok := cfg["home"]; ok {
		t.Error("unprefixed variables should be ignored")
	}
}

func TestEnvLoader_envToPath(t *testing.T) {
	l := NewEnvLoader(EnvPrefix)
	tests := map[string]string{
		"ASSETSTORM_SERVER_BASE_DIR":  "server.baseDir",
		"ASSETSTORM_SPRITES_IMG_PATH": "sprites.imgPath",
		"ASSETSTORM_SIMPLE":           "simple",
		"ASSETSTORM_VIEWS_DEST":       "views.dest",
	}
	for env, want := range tests {
		if got := l.envToPath(env); got != want {
			t.Errorf("envToPath(%q) = %q, want %q", env, got, want)
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"", ""},
		{"yes", true},
		{"off", false},
		{"42", int64(42)},
		{"0", int64(0)},
		{"1.5", 1.5},
		{"2s", 2 * time.Second},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); got != tt.want {
			t.Errorf("parseValue(%q) = %v (%T), want %v", tt.in, got, got, tt.want)
		}
	}
}
