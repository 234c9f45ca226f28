package style

import (
	"bytes"
	"fmt"
	"strings"
)

// Default markers delimiting the injected import region.
const (
	InjectStart = "/* inject:imports */"
	InjectEnd   = "/* endinject */"
)

// Inject replaces the text between the start and end markers with lines,
// one per line, keeping the markers. It reports false and returns src
// unchanged when the markers are missing.
func Inject(src []byte, start, end string, lines []string) ([]byte, bool) {
	if start == "" {
		start = InjectStart
	}
	if end == "" {
		end = InjectEnd
	}

	i := bytes.Index(src, []byte(start))
	if i < 0 {
		return src, false
	}
	bodyStart := i + len(start)
	j := bytes.Index(src[bodyStart:], []byte(end))
	if j < 0 {
		return src, false
	}
	bodyEnd := bodyStart + j

	var b bytes.Buffer
	b.Write(src[:bodyStart])
	b.WriteByte('\n')
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.Write(src[bodyEnd:])
	return b.Bytes(), true
}

// ImportLines formats one import statement per path. format must contain
// a single %s verb; the default is @import '%s';.
func ImportLines(format string, paths []string) []string {
	if format == "" || !strings.Contains(format, "%s") {
		format = "@import '%s';"
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = fmt.Sprintf(format, p)
	}
	return out
}

// vendorPrefixes lists properties that still ship prefixed in the
// browsers the default build targets.
var vendorPrefixes = map[string][]string{
	"appearance":       {"-webkit-", "-moz-"},
	"backdrop-filter":  {"-webkit-"},
	"hyphens":          {"-webkit-", "-ms-"},
	"mask-image":       {"-webkit-"},
	"tab-size":         {"-moz-"},
	"text-size-adjust": {"-webkit-", "-moz-", "-ms-"},
	"user-select":      {"-webkit-", "-moz-", "-ms-"},
}

// addPrefixes inserts prefixed copies before each declaration that
// needs them, unless the rule already declares the prefixed form.
func addPrefixes(decls []decl) []decl {
	present := make(map[string]bool, len(decls))
	for _, d := range decls {
		present[d.prop] = true
	}

	out := make([]decl, 0, len(decls))
	for _, d := range decls {
		for _, p := range vendorPrefixes[d.prop] {
			if present[p+d.prop] {
				continue
			}
			out = append(out, decl{prop: p + d.prop, value: d.value, pos: d.pos})
		}
		out = append(out, d)
	}
	return out
}
