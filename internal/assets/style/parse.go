package style

import (
	"fmt"
	"strings"
)

// SyntaxError is a stylesheet compilation error at a source position.
// Line and Col are one-based.
type SyntaxError struct {
	File string
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Col, e.Msg)
}

// pos is a zero-based source position.
type pos struct {
	line, col int
}

// scanner reads one stylesheet, tracking positions for errors and
// source maps.
type scanner struct {
	name string
	dir  string
	file int
	src  []byte
	off  int
	pos
}

func (s *scanner) eof() bool  { return s.off >= len(s.src) }
func (s *scanner) peek() byte { return s.src[s.off] }

func (s *scanner) peekAt(n int) byte {
	if s.off+n >= len(s.src) {
		return 0
	}
	return s.src[s.off+n]
}

func (s *scanner) next() byte {
	c := s.src[s.off]
	s.off++
	if c == '\n' {
		s.line++
		s.col = 0
	} else {
		s.col++
	}
	return c
}

func (s *scanner) errorf(p pos, format string, args ...any) *SyntaxError {
	return &SyntaxError{File: s.name, Line: p.line + 1, Col: p.col + 1, Msg: fmt.Sprintf(format, args...)}
}

// skipSpace skips whitespace and both comment forms.
func (s *scanner) skipSpace() error {
	for !s.eof() {
		c := s.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			s.next()
		case c == '/' && s.peekAt(1) == '/':
			s.skipLineComment()
		case c == '/' && s.peekAt(1) == '*':
			if err := s.skipBlockComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (s *scanner) skipLineComment() {
	for !s.eof() && s.peek() != '\n' {
		s.next()
	}
}

func (s *scanner) skipBlockComment() error {
	start := s.pos
	s.next()
	s.next()
	for !s.eof() {
		if s.peek() == '*' && s.peekAt(1) == '/' {
			s.next()
			s.next()
			return nil
		}
		s.next()
	}
	return s.errorf(start, "unterminated comment")
}

// readStatement reads up to the next '{', ';' or '}' outside strings and
// parentheses. '{' and ';' are consumed, '}' is left for the caller. A
// zero terminator means end of input.
func (s *scanner) readStatement() (string, byte, error) {
	var b strings.Builder
	depth := 0
	for !s.eof() {
		c := s.peek()
		switch {
		case c == '"' || c == '\'':
			if err := s.readString(&b); err != nil {
				return "", 0, err
			}
			continue
		case c == '/' && s.peekAt(1) == '*':
			if err := s.skipBlockComment(); err != nil {
				return "", 0, err
			}
			b.WriteByte(' ')
			continue
		case c == '/' && s.peekAt(1) == '/' && depth == 0:
			s.skipLineComment()
			continue
		case c == '#' && s.peekAt(1) == '{':
			return "", 0, s.errorf(s.pos, "interpolation is not supported")
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0 && (c == '{' || c == ';'):
			s.next()
			return strings.TrimSpace(b.String()), c, nil
		case depth == 0 && c == '}':
			return strings.TrimSpace(b.String()), c, nil
		}
		b.WriteByte(s.next())
	}
	return strings.TrimSpace(b.String()), 0, nil
}

func (s *scanner) readString(b *strings.Builder) error {
	start := s.pos
	quote := s.next()
	b.WriteByte(quote)
	for !s.eof() {
		c := s.next()
		b.WriteByte(c)
		switch c {
		case '\\':
			if !s.eof() {
				b.WriteByte(s.next())
			}
		case quote:
			return nil
		case '\n':
			return s.errorf(start, "unterminated string")
		}
	}
	return s.errorf(start, "unterminated string")
}

// splitTop splits s on sep outside strings and parentheses.
func splitTop(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	return append(parts, s[last:])
}

// collapseSpace folds whitespace runs into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isIdent(c byte) bool {
	return c == '-' || c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// scope holds variables for a block.
type scope struct {
	parent *scope
	vars   map[string]string
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, vars: make(map[string]string)}
}

func (sc *scope) lookup(name string) (string, bool) {
	for s := sc; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return "", false
}

func (sc *scope) root() *scope {
	s := sc
	for s.parent != nil {
		s = s.parent
	}
	return s
}

// substitute replaces $variables outside quoted strings.
func (sc *scope) substitute(v string) (string, error) {
	if !strings.Contains(v, "$") {
		return v, nil
	}
	var b strings.Builder
	var quote byte
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '$':
			j := i + 1
			for j < len(v) && isIdent(v[j]) {
				j++
			}
			name := v[i+1 : j]
			if name == "" {
				return "", fmt.Errorf("invalid variable reference")
			}
			val, ok := sc.lookup(name)
			if !ok {
				return "", fmt.Errorf("undefined variable $%s", name)
			}
			b.WriteString(val)
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}
