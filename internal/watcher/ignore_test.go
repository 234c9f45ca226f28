package watcher

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIgnorePatterns_Match(t *testing.T) {
	ip := NewIgnorePatterns(
		"*.log",
		"node_modules/",
		"/public/",
		"assets/**/tmp",
		"!keep.log",
	)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"debug.log", false, true},
		{"assets/scripts/debug.log", false, true},
		{"keep.log", false, false},
		{"node_modules", true, true},
		{"node_modules/jquery/dist/jquery.js", false, true},
		{"assets/node_modules/x.js", false, true},
		{"public", true, true},
		{"public/css/app.css", false, true},
		{"assets/public/logo.png", false, false},
		{"assets/styles/tmp", true, true},
		{"assets/styles/partials/tmp/x.scss", false, true},
		{"assets/styles/main.scss", false, false},
		{".", true, false},
	}

	for _, tt := range tests {
		if got := ip.Match(tt.path, tt.isDir); got != tt.want {
			t.Errorf("Match(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestIgnorePatterns_DirOnly(t *testing.T) {
	ip := NewIgnorePatterns("build/")

	if ip.Match("build", false) {
		t.Error("dir-only pattern should not match a file named build")
	}
	if !ip.Match("build", true) {
		t.Error("dir-only pattern should match build directory")
	}
	if !ip.Match("build/out.js", false) {
		t.Error("dir-only pattern should match files under build")
	}
}

func TestIgnorePatterns_MatchRelative(t *testing.T) {
	root := filepath.FromSlash("/project")
	ip := NewIgnorePatterns("/public/")

	if !ip.MatchRelative(filepath.Join(root, "public", "index.html"), root, false) {
		t.Error("expected public/index.html to be ignored")
	}
	if ip.MatchRelative(filepath.FromSlash("/elsewhere/public/x"), root, false) {
		t.Error("paths outside the base should not be ignored")
	}
}

func TestIgnorePatterns_CommentsAndInvalid(t *testing.T) {
	ip := NewIgnorePatterns()
	if err := ip.AddPattern("# comment"); err != nil {
		t.Errorf("AddPattern(comment) error = %v", err)
	}
	if err := ip.AddPattern("   "); err != nil {
		t.Errorf("AddPattern(blank) error = %v", err)
	}
	if ip.Len() != 0 {
		t.Errorf("Len = %d, want 0", ip.Len())
	}
	if err := ip.AddPattern("[unclosed"); err == nil {
		t.Error("AddPattern with bad glob should fail")
	}
}

func TestIgnorePatterns_AddFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(path, []byte("# deps\nbower_components/\n*.map\n"), 0644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	ip := NewIgnorePatterns()
	if err := ip.AddFromFile(path); err != nil {
		t.Fatalf("AddFromFile error = %v", err)
	}
	if ip.Len() != 2 {
		t.Errorf("Len = %d, want 2", ip.Len())
	}
	if !ip.Match("public/js/app.js.map", false) {
		t.Error("expected *.map to be ignored")
	}

	if err := ip.AddFromFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("AddFromFile of missing file should fail")
	}
}
