package loader

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the prefix of environment variables read by NewEnvLoader.
const EnvPrefix = "ASSETSTORM_"

// EnvLoader turns PREFIX_SECTION_SOME_KEY variables into section.someKey
// settings. A few short names are mapped explicitly.
type EnvLoader struct {
	prefix  string
	aliases map[string]string
	ignored map[string]bool
	environ func() []string
}

// NewEnvLoader reads variables starting with prefix, which should end in
// an underscore. PREFIX_CONFIG names the config file and is not a setting.
func NewEnvLoader(prefix string) *EnvLoader {
	aliases := make(map[string]string, len(shortNames))
	for name, path := range shortNames {
		aliases[prefix+name] = path
	}
	return &EnvLoader{
		prefix:  prefix,
		aliases: aliases,
		ignored: map[string]bool{prefix + "CONFIG": true},
		environ: os.Environ,
	}
}

var shortNames = map[string]string{
	"LOG_LEVEL":    "logging.level",
	"PORT":         "server.port",
	"HOST":         "server.host",
	"OPEN":         "server.open",
	"BASE_DIR":     "server.baseDir",
	"RELOAD_DELAY": "server.reloadDelay",
}

// AddMapping routes envVar to configPath.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	if l.aliases == nil {
		l.aliases = map[string]string{}
	}
	l.aliases[envVar] = configPath
}

// Load never fails; an empty value still counts as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	out := map[string]any{}
	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || l.ignored[name] || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		path, ok := l.aliases[name]
		if !ok {
			path = l.envToPath(name)
		}
		if path != "" {
			Set(out, path, parseValue(value))
		}
	}
	return out, nil
}

// envToPath maps ASSETSTORM_SERVER_RELOAD_DELAY to server.reloadDelay.
func (l *EnvLoader) envToPath(env string) string {
	rest := strings.ToLower(strings.TrimPrefix(env, l.prefix))
	if rest == "" {
		return ""
	}
	section, key, found := strings.Cut(rest, "_")
	if !found {
		return section
	}
	words := strings.Split(key, "_")
	var b strings.Builder
	b.WriteString(section)
	b.WriteByte('.')
	b.WriteString(words[0])
	for _, w := range words[1:] {
		if w != "" {
			b.WriteString(strings.ToUpper(w[:1]) + w[1:])
		}
	}
	return b.String()
}

// parseValue guesses the type of an environment value: bool words,
// integers, decimals, durations, then JSON arrays and objects.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "":
		return s
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if strings.ContainsRune(s, '.') {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if s[0] == '[' || s[0] == '{' {
		var v any
		if json.Unmarshal([]byte(s), &v) == nil {
			return v
		}
	}
	return s
}
