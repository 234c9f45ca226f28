package task

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ProblemSeverity indicates the severity of a problem.
type ProblemSeverity string

const (
	// ProblemSeverityError is an error.
	ProblemSeverityError ProblemSeverity = "error"
	// ProblemSeverityWarning is a warning.
	ProblemSeverityWarning ProblemSeverity = "warning"
	// ProblemSeverityInfo is informational.
	ProblemSeverityInfo ProblemSeverity = "info"
)

// Problem is a diagnostic extracted from a linter's or compiler's output.
type Problem struct {
	File     string
	Line     int
	Column   int
	Severity ProblemSeverity
	Code     string
	Message  string
	// Source is the tool that reported the problem.
	Source string
}

// String formats the problem as file:line:col: severity: message.
func (p Problem) String() string {
	var b strings.Builder
	if p.File != "" {
		b.WriteString(p.File)
		if p.Line > 0 {
			fmt.Fprintf(&b, ":%d", p.Line)
			if p.Column > 0 {
				fmt.Fprintf(&b, ":%d", p.Column)
			}
		}
		b.WriteString(": ")
	}
	b.WriteString(string(p.Severity))
	b.WriteString(": ")
	b.WriteString(p.Message)
	if p.Code != "" {
		fmt.Fprintf(&b, " (%s)", p.Code)
	}
	return b.String()
}

// ProblemPattern maps regex capture groups to Problem fields. A group
// index of 0 leaves the field unset.
type ProblemPattern struct {
	Pattern  string
	File     int
	Line     int
	Column   int
	Severity int
	Code     int
	Message  int

	// DefaultSeverity is used when Severity is 0.
	DefaultSeverity ProblemSeverity
}

// ProblemMatcherDefinition names a set of patterns for one tool.
type ProblemMatcherDefinition struct {
	Name     string
	Owner    string
	Patterns []ProblemPattern

	// FilePattern, when set, matches a header line that names the file
	// for the indented problem lines that follow it (stylish reporters).
	FilePattern string
}

// CompiledMatcher is a matcher definition with its regexps compiled.
type CompiledMatcher struct {
	owner    string
	patterns []compiledPattern
	fileRe   *regexp.Regexp
}

type compiledPattern struct {
	re *regexp.Regexp
	ProblemPattern
}

func compileMatcher(def ProblemMatcherDefinition) (*CompiledMatcher, error) {
	m := &CompiledMatcher{owner: def.Owner}
	for _, p := range def.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("matcher %s: %w", def.Name, err)
		}
		m.patterns = append(m.patterns, compiledPattern{re: re, ProblemPattern: p})
	}
	if def.FilePattern != "" {
		re, err := regexp.Compile(def.FilePattern)
		if err != nil {
			return nil, fmt.Errorf("matcher %s file pattern: %w", def.Name, err)
		}
		m.fileRe = re
	}
	return m, nil
}

// Match tries each pattern in order and converts the first hit.
func (m *CompiledMatcher) Match(line string) (Problem, bool) {
	for _, p := range m.patterns {
		if groups := p.re.FindStringSubmatch(line); groups != nil {
			return p.problem(m.owner, groups), true
		}
	}
	return Problem{}, false
}

func (p compiledPattern) problem(owner string, groups []string) Problem {
	at := func(i int) string {
		if i <= 0 || i >= len(groups) {
			return ""
		}
		return groups[i]
	}
	num := func(i int) int {
		n, _ := strconv.Atoi(at(i))
		return n
	}

	sev := p.DefaultSeverity
	if p.Severity > 0 {
		sev = parseSeverity(at(p.Severity))
	}
	if sev == "" {
		sev = ProblemSeverityError
	}
	return Problem{
		File:     strings.TrimSpace(at(p.File)),
		Line:     num(p.Line),
		Column:   num(p.Column),
		Severity: sev,
		Code:     at(p.Code),
		Message:  strings.TrimSpace(at(p.Message)),
		Source:   owner,
	}
}

// Scan collects every problem in r. For stylish reporters a header line
// matching FilePattern supplies the file of the problems below it.
func (m *CompiledMatcher) Scan(r io.Reader) ([]Problem, error) {
	var out []Problem
	file := ""

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		p, ok := m.Match(line)
		switch {
		case ok:
			if p.File == "" {
				p.File = file
			}
			out = append(out, p)
		case m.fileRe != nil:
			if h := m.fileRe.FindStringSubmatch(line); len(h) > 1 {
				file = strings.TrimSpace(h[1])
			}
		}
	}
	return out, sc.Err()
}

func parseSeverity(s string) ProblemSeverity {
	switch strings.ToLower(s) {
	case "warning", "warn", "w":
		return ProblemSeverityWarning
	case "info", "note", "i":
		return ProblemSeverityInfo
	}
	return ProblemSeverityError
}

// ProblemMatcher is a registry of named matchers.
type ProblemMatcher struct {
	mu       sync.RWMutex
	matchers map[string]*CompiledMatcher
}

// NewProblemMatcher returns a registry preloaded with builtinMatchers.
func NewProblemMatcher() *ProblemMatcher {
	pm := &ProblemMatcher{matchers: make(map[string]*CompiledMatcher, len(builtinMatchers))}
	for _, def := range builtinMatchers {
		if err := pm.Register(def); err != nil {
			panic(err)
		}
	}
	return pm
}

// Register compiles def and stores it under def.Name, replacing any
// matcher of the same name.
func (pm *ProblemMatcher) Register(def ProblemMatcherDefinition) error {
	m, err := compileMatcher(def)
	if err != nil {
		return err
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.matchers[def.Name] = m
	return nil
}

// Get returns nil for an unknown name.
func (pm *ProblemMatcher) Get(name string) *CompiledMatcher {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.matchers[name]
}

func (pm *ProblemMatcher) Names() []string {
	pm.mu.RLock()
	names := make([]string, 0, len(pm.matchers))
	for name := range pm.matchers {
		names = append(names, name)
	}
	pm.mu.RUnlock()
	sort.Strings(names)
	return names
}

// stylishHeader matches the file line that stylish reporters print above
// their indented problems.
const stylishHeader = `^(\S.*\.\w+)$`

var builtinMatchers = []ProblemMatcherDefinition{
	// a.js: line 3, col 5, Missing semicolon. (W033)
	{Name: "$jshint", Owner: "jshint", Patterns: []ProblemPattern{{
		Pattern: `^(.+):\s*line\s+(\d+),\s*col\s+(\d+),\s*(.+?)(?:\s+\((\w\d+)\))?$`,
		File:    1, Line: 2, Column: 3, Message: 4, Code: 5,
		DefaultSeverity: ProblemSeverityWarning,
	}}},
	//   line 3  col 5  Missing semicolon.
	{Name: "$jshint-stylish", Owner: "jshint", FilePattern: stylishHeader, Patterns: []ProblemPattern{{
		Pattern: `^\s+line\s+(\d+)\s+col\s+(\d+)\s+(.+)$`,
		Line:    1, Column: 2, Message: 3,
		DefaultSeverity: ProblemSeverityWarning,
	}}},
	// a.js: line 3, col 5, Error - message (rule)
	{Name: "$eslint-compact", Owner: "eslint", Patterns: []ProblemPattern{{
		Pattern: `^(.+):\s*line\s+(\d+),\s*col\s+(\d+),\s*(Error|Warning)\s*-\s*(.+?)(?:\s+\(([\w/-]+)\))?$`,
		File:    1, Line: 2, Column: 3, Severity: 4, Message: 5, Code: 6,
	}}},
	//   3:5  error  message  rule-id
	{Name: "$eslint-stylish", Owner: "eslint", FilePattern: stylishHeader, Patterns: []ProblemPattern{{
		Pattern: `^\s+(\d+):(\d+)\s+(error|warning)\s+(.+?)\s+(\S+)$`,
		Line:    1, Column: 2, Severity: 3, Message: 4, Code: 5,
	}}},
	// Stylesheet compilers: file:line:col: message, or file:line: message.
	{Name: "$generic", Owner: "generic", Patterns: []ProblemPattern{
		{Pattern: `^(\S+?):(\d+):(\d+):\s*(.+)$`, File: 1, Line: 2, Column: 3, Message: 4},
		{Pattern: `^(\S+?):(\d+):\s*(.+)$`, File: 1, Line: 2, Message: 3},
	}},
}
