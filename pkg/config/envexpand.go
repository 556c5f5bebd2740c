package config

import (
	"os"
	"strings"
)

// EnvMap is a name to value mapping used for expansion.
type EnvMap map[string]string

// ProcessEnv builds an EnvMap from the process environment.
func ProcessEnv() EnvMap {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if idx := strings.IndexByte(entry, '='); idx > 0 {
			env[entry[:idx]] = entry[idx+1:]
		}
	}
	return env
}

func isVarChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// ExpandString replaces $VAR and ${VAR} references (alphanumeric plus
// underscore names) with values from env. References to undefined variables
// are left untouched, as is any '$' that does not start a valid reference.
func ExpandString(s string, env EnvMap) string {
	var b strings.Builder
	b.Grow(len(s))

	pos := 0
	for pos < len(s) {
		if s[pos] != '$' {
			b.WriteByte(s[pos])
			pos++
			continue
		}
		if pos+1 >= len(s) {
			// '$' at end of string.
			b.WriteByte('$')
			pos++
			continue
		}

		start := pos + 1
		var name string
		braced := false
		if s[start] == '{' {
			braced = true
			end := strings.IndexByte(s[start+1:], '}')
			if end < 0 {
				// No closing brace; keep "${" literally.
				b.WriteString("${")
				pos = start + 1
				continue
			}
			name = s[start+1 : start+1+end]
			pos = start + 1 + end + 1
		} else {
			end := start
			for end < len(s) && isVarChar(s[end]) {
				end++
			}
			if end == start {
				b.WriteByte('$')
				pos = start
				continue
			}
			name = s[start:end]
			pos = end
		}

		if name == "" {
			if braced {
				b.WriteString("${}")
			} else {
				b.WriteByte('$')
			}
			continue
		}

		if value, ok := env[name]; ok {
			b.WriteString(value)
		} else if braced {
			b.WriteString("${" + name + "}")
		} else {
			b.WriteString("$" + name)
		}
	}
	return b.String()
}

// expandValue walks a decoded JSON value and expands every string leaf.
func expandValue(v interface{}, env EnvMap) interface{} {
	switch value := v.(type) {
	case string:
		return ExpandString(value, env)
	case map[string]interface{}:
		for k, elem := range value {
			value[k] = expandValue(elem, env)
		}
		return value
	case []interface{}:
		for i, elem := range value {
			value[i] = expandValue(elem, env)
		}
		return value
	default:
		return v
	}
}
