package script

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLibMinifier_Idempotent(t *testing.T) {
	a := "// first file\nvar greeting = 'hello';\nfunction greet(name) {\n  return greeting + ', ' + name;\n}\n"
	b := "(function () {\n  var counter = 0;\n  window.tick = function () { counter += 1; return counter; };\n})();\n"
	bundle := []byte(a + ";\n" + b)

	m := NewLibMinifier()
	once, err := m.Minify(context.Background(), JavaScript, bundle)
	if err != nil {
		t.Fatalf("Minify error = %v", err)
	}
	twice, err := m.Minify(context.Background(), JavaScript, once)
	if err != nil {
		t.Fatalf("second Minify error = %v", err)
	}
	if !bytes.Equal(once, twice) {
		t.Errorf("minify is not idempotent:\n%s\n%s", once, twice)
	}
	if len(once) >= len(bundle) {
		t.Errorf("minified size %d, input %d", len(once), len(bundle))
	}
	if strings.Contains(string(once), "first file") {
		t.Error("comments should be stripped")
	}
}

func TestLibMinifier_CSS(t *testing.T) {
	out, err := NewLibMinifier().Minify(context.Background(), CSS, []byte(".a {\n  margin: 0px;\n}\n"))
	if err != nil {
		t.Fatalf("Minify error = %v", err)
	}
	if string(out) != ".a{margin:0}" {
		t.Errorf("Minify = %q, want .a{margin:0}", out)
	}
}

func TestLibMinifier_UnknownType(t *testing.T) {
	if _, err := NewLibMinifier().Minify(context.Background(), "image/png", []byte("x")); err == nil {
		t.Error("Minify of unknown media type should fail")
	}
}

func TestLibMinifier_SyntaxError(t *testing.T) {
	if _, err := NewLibMinifier().Minify(context.Background(), JavaScript, []byte("var = ;")); err == nil {
		t.Error("Minify of invalid javascript should fail")
	}
}

func TestMediaType(t *testing.T) {
	tests := map[string]string{"app.js": JavaScript, "x.mjs": JavaScript, "v.css": CSS, "a.png": ""}
	for name, want := range tests {
		if got := MediaType(name); got != want {
			t.Errorf("MediaType(%q) = %q, want %q", name, got, want)
		}
	}
}

type mockFilter struct{ cmdline string }

func (m *mockFilter) Filter(_ context.Context, _, cmdline string, input []byte) ([]byte, error) {
	m.cmdline = cmdline
	return bytes.TrimSpace(input), nil
}

func TestCommandMinifier(t *testing.T) {
	f := &mockFilter{}
	out, err := (&CommandMinifier{Runner: f, Cmdline: "esbuild --minify --loader={type}"}).Minify(context.Background(), JavaScript, []byte(" x "))
	if err != nil {
		t.Fatalf("Minify error = %v", err)
	}
	if string(out) != "x" || f.cmdline != "esbuild --minify --loader=application/javascript" {
		t.Errorf("out = %q, cmdline = %q", out, f.cmdline)
	}
}
