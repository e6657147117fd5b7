package sandbox

import (
	"os"
	"sort"
	"strings"
)

// allowedEnv lists the host variables a sandboxed process inherits
var allowedEnv = []string{"PATH", "HOME", "LANG", "LANGUAGE", "TZ", "TERM"}

// blockedEnv variables are dropped even when the caller supplies them
var blockedEnv = map[string]bool{
	"LD_PRELOAD":      true,
	"LD_LIBRARY_PATH": true,
	"LD_AUDIT":        true,
	"PYTHONPATH":      true,
	"PYTHONHOME":      true,
	"PYTHONSTARTUP":   true,
	"PYTHONINSPECT":   true,
	"NODE_OPTIONS":    true,
	"NODE_PATH":       true,
	"PERL5LIB":        true,
	"PERL5OPT":        true,
	"RUBYLIB":         true,
	"RUBYOPT":         true,
	"BASH_ENV":        true,
	"ENV":             true,
	"IFS":             true,
}

func isBlocked(key string) bool {
	return blockedEnv[key] || strings.HasPrefix(key, "DYLD_") || strings.HasPrefix(key, "LD_")
}

// BuildEnv returns the minimal environment for a sandboxed process: the
// allowlisted host variables and locale settings, then caller overrides.
// Blocked variables never survive.
func BuildEnv(overrides map[string]string) []string {
	env := make(map[string]string)
	for _, key := range allowedEnv {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "LC_") {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
	}
	for k, v := range overrides {
		env[k] = v
	}

	return flattenEnv(env, true)
}

// passthroughEnv returns the full host environment plus overrides
func passthroughEnv(overrides map[string]string) []string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range overrides {
		env[k] = v
	}
	return flattenEnv(env, false)
}

func flattenEnv(env map[string]string, filter bool) []string {
	result := make([]string, 0, len(env))
	for k, v := range env {
		if k == "" || (filter && isBlocked(k)) {
			continue
		}
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}
