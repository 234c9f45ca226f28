package watcher

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnores are always excluded from watching.
var DefaultIgnores = []string{".git/", "node_modules/", ".DS_Store", "*.swp", "*~"}

// IgnorePatterns holds gitignore-style rules written with doublestar
// globs:
//   - *.log              any file ending in .log, at any depth
//   - /public/           the public directory at the root only
//   - assets/**/tmp      tmp anywhere below assets
//   - !keep.log          re-include keep.log
//
// The last matching rule wins.
type IgnorePatterns struct {
	mu    sync.RWMutex
	rules []ignoreRule
}

type ignoreRule struct {
	glob    string
	negate  bool
	dirOnly bool
	// rooted rules are matched against the whole relative path rather
	// than a single name.
	rooted bool
}

func parseRule(line string) (rule ignoreRule, ok bool, err error) {
	line = strings.TrimRight(line, " \t")
	if line == "" || line[0] == '#' {
		return rule, false, nil
	}
	if rest, cut := strings.CutPrefix(line, "!"); cut {
		rule.negate, line = true, rest
	}
	if rest, cut := strings.CutSuffix(line, "/"); cut {
		rule.dirOnly, line = true, rest
	}
	if rest, cut := strings.CutPrefix(line, "/"); cut {
		rule.rooted, line = true, rest
	}
	rule.rooted = rule.rooted || strings.Contains(line, "/")
	if !doublestar.ValidatePattern(line) {
		return rule, false, doublestar.ErrBadPattern
	}
	rule.glob = line
	return rule, true, nil
}

// NewIgnorePatterns builds a matcher from patterns, skipping invalid ones.
func NewIgnorePatterns(patterns ...string) *IgnorePatterns {
	ip := &IgnorePatterns{}
	_ = ip.AddPatterns(patterns)
	return ip
}

// AddPattern appends one rule. Blank lines and comments are ignored.
func (ip *IgnorePatterns) AddPattern(pattern string) error {
	rule, ok, err := parseRule(pattern)
	if !ok {
		return err
	}
	ip.mu.Lock()
	ip.rules = append(ip.rules, rule)
	ip.mu.Unlock()
	return nil
}

func (ip *IgnorePatterns) AddPatterns(patterns []string) error {
	for _, p := range patterns {
		if err := ip.AddPattern(p); err != nil {
			return err
		}
	}
	return nil
}

// AddFromFile reads one rule per line, as in a .gitignore.
func (ip *IgnorePatterns) AddFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if err := ip.AddPattern(sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (ip *IgnorePatterns) Len() int {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	return len(ip.rules)
}

// Match reports whether path, relative to the watch root, is ignored
// either directly or through one of its parent directories.
func (ip *IgnorePatterns) Match(path string, isDir bool) bool {
	return ip.MatchRelative(path, "", isDir)
}

// MatchRelative is Match for a path under base. Paths outside base are
// never ignored.
func (ip *IgnorePatterns) MatchRelative(path, base string, isDir bool) bool {
	rel := path
	if base != "" {
		r, err := filepath.Rel(base, path)
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return false
		}
		rel = r
	}
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}

	ip.mu.RLock()
	defer ip.mu.RUnlock()
	ignored := false
	for _, r := range ip.rules {
		if r.matches(rel, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

// matches tries the rule at every directory boundary of rel, so a rule
// naming a directory also covers everything inside it.
func (r ignoreRule) matches(rel string, isDir bool) bool {
	start := 0
	for end := 0; end <= len(rel); end++ {
		if end < len(rel) && rel[end] != '/' {
			continue
		}
		last := end == len(rel)
		if !r.dirOnly || !last || isDir {
			subject := rel[start:end]
			if r.rooted {
				subject = rel[:end]
			}
			if ok, _ := doublestar.Match(r.glob, subject); ok {
				return true
			}
		}
		start = end + 1
	}
	return false
}
