package task

import (
	"strings"
	"testing"
)

func TestProblemMatcher_Builtins(t *testing.T) {
	pm := NewProblemMatcher()

	for _, name := range []string{"$jshint", "$jshint-stylish", "$eslint-compact", "$eslint-stylish", "$generic"} {
		if pm.Get(name) == nil {
			t.Errorf("built-in matcher %s missing", name)
		}
	}
	if pm.Get("$nope") != nil {
		t.Error("Get of unknown matcher should return nil")
	}
}

func TestCompiledMatcher_Match(t *testing.T) {
	pm := NewProblemMatcher()

	tests := []struct {
		matcher string
		line    string
		want    Problem
	}{
		{
			matcher: "$jshint",
			line:    "assets/scripts/app.js: line 3, col 14, Missing semicolon. (W033)",
			want: Problem{
				File: "assets/scripts/app.js", Line: 3, Column: 14,
				Severity: ProblemSeverityWarning, Code: "W033", Message: "Missing semicolon.", Source: "jshint",
			},
		},
		{
			matcher: "$eslint-compact",
			line:    "app.js: line 1, col 1, Error - 'x' is not defined. (no-undef)",
			want: Problem{
				File: "app.js", Line: 1, Column: 1,
				Severity: ProblemSeverityError, Code: "no-undef", Message: "'x' is not defined.", Source: "eslint",
			},
		},
		{
			matcher: "$generic",
			line:    "main.scss:12:3: expected '}'",
			want: Problem{
				File: "main.scss", Line: 12, Column: 3,
				Severity: ProblemSeverityError, Message: "expected '}'", Source: "generic",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.matcher, func(t *testing.T) {
			got, ok := pm.Get(tt.matcher).Match(tt.line)
			if !ok {
				t.Fatalf("Match(%q) did not match", tt.line)
			}
			if got != tt.want {
				t.Errorf("Match = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCompiledMatcher_ScanStylish(t *testing.T) {
	out := strings.Join([]string{
		"assets/scripts/app.js",
		"  line 3  col 14  Missing semicolon.",
		"  line 9  col 2   Unreachable code.",
		"",
		"assets/scripts/util.js",
		"  line 1  col 1   'module' is not defined.",
		"",
		"3 warnings",
	}, "\n")

	problems, err := NewProblemMatcher().Get("$jshint-stylish").Scan(strings.NewReader(out))
	if err != nil {
		t.Fatalf("Scan error = %v", err)
	}
	if len(problems) != 3 {
		t.Fatalf("Scan found %d problems, want 3: %+v", len(problems), problems)
	}
	if problems[0].File != "assets/scripts/app.js" || problems[0].Line != 3 {
		t.Errorf("problems[0] = %+v", problems[0])
	}
	if problems[2].File != "assets/scripts/util.js" || problems[2].Message != "'module' is not defined." {
		t.Errorf("problems[2] = %+v", problems[2])
	}
}

func TestProblemMatcher_RegisterInvalid(t *testing.T) {
	pm := NewProblemMatcher()
	err := pm.Register(ProblemMatcherDefinition{
		Name:     "broken",
		Patterns: []ProblemPattern{{Pattern: "(unclosed"}},
	})
	if err == nil {
		t.Error("Register with invalid regex should fail")
	}
}

func TestProblem_String(t *testing.T) {
	p := Problem{File: "a.js", Line: 2, Column: 4, Severity: ProblemSeverityError, Message: "bad", Code: "E1"}
	if got := p.String(); got != "a.js:2:4: error: bad (E1)" {
		t.Errorf("String = %q", got)
	}
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]ProblemSeverity{
		"Error":   ProblemSeverityError,
		"WARNING": ProblemSeverityWarning,
		"note":    ProblemSeverityInfo,
		"weird":   ProblemSeverityError,
	}
	for in, want := range tests {
		if got := parseSeverity(in); got != want {
			t.Errorf("parseSeverity(%q) = %v, want %v", in, got, want)
		}
	}
}
