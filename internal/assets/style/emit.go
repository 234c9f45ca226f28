package style

import (
	"strings"
)

// compressSelector removes optional whitespace around combinators.
func compressSelector(s string) string {
	s = collapseSpace(s)
	for _, comb := range []string{">", "+", "~", ","} {
		s = strings.ReplaceAll(s, " "+comb, comb)
		s = strings.ReplaceAll(s, comb+" ", comb)
	}
	return s
}

func (c *compilation) emitCompressed() ([]byte, error) {
	var b strings.Builder
	col := 0
	write := func(s string) {
		b.WriteString(s)
		col += len(s)
	}

	for _, st := range c.stmts {
		c.builder.Add(col, st.file, st.pos.line, st.pos.col)
		write(st.text + ";")
	}

	var open []string
	for _, r := range c.rules {
		if len(r.decls) == 0 {
			continue
		}

		body, err := c.compressDecls(r)
		if err != nil {
			return nil, err
		}
		if body == "" {
			continue
		}

		common := commonPrefix(open, r.at)
		for i := len(open); i > common; i-- {
			write("}")
		}
		for _, a := range r.at[common:] {
			write(a + "{")
		}
		open = r.at

		sels := make([]string, len(r.selectors))
		for i, s := range r.selectors {
			sels[i] = compressSelector(s)
		}
		c.builder.Add(col, r.file, r.pos.line, r.pos.col)
		write(strings.Join(sels, ",") + "{" + body + "}")
	}
	for range open {
		write("}")
	}

	if b.Len() == 0 {
		return nil, nil
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func (c *compilation) compressDecls(r *rule) (string, error) {
	var b strings.Builder
	for i, d := range c.prefixed(r.decls) {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(d.prop)
		b.WriteByte(':')
		b.WriteString(d.value)
	}

	out, err := minifier.String("text/css;inline=1", b.String())
	if err != nil {
		return "", &SyntaxError{
			File: c.builder.Map().Sources[r.file],
			Line: r.pos.line + 1,
			Col:  r.pos.col + 1,
			Msg:  "invalid declarations: " + err.Error(),
		}
	}
	return out, nil
}

func (c *compilation) emitExpanded() []byte {
	var b strings.Builder
	line := func(indent int, s string, file int, p *pos) {
		if p != nil {
			c.builder.Add(indent*2, file, p.line, p.col)
		}
		b.WriteString(strings.Repeat("  ", indent))
		b.WriteString(s)
		b.WriteByte('\n')
		c.builder.NewLine()
	}

	for _, st := range c.stmts {
		line(0, st.text+";", st.file, &st.pos)
	}

	var open []string
	for _, r := range c.rules {
		if len(r.decls) == 0 {
			continue
		}

		common := commonPrefix(open, r.at)
		for i := len(open); i > common; i-- {
			line(i-1, "}", 0, nil)
		}
		for i, a := range r.at[common:] {
			line(common+i, a+" {", 0, nil)
		}
		open = r.at

		depth := len(r.at)
		line(depth, strings.Join(r.selectors, ", ")+" {", r.file, &r.pos)
		for _, d := range c.prefixed(r.decls) {
			line(depth+1, d.prop+": "+d.value+";", r.file, &d.pos)
		}
		line(depth, "}", 0, nil)
	}
	for i := len(open); i > 0; i-- {
		line(i-1, "}", 0, nil)
	}

	return []byte(b.String())
}

func (c *compilation) prefixed(decls []decl) []decl {
	if !c.opts.Prefix {
		return decls
	}
	return addPrefixes(decls)
}

func commonPrefix(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
