package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

func TestBuildEnv(t *testing.T) {
	t.Setenv("PATH", "/usr/bin:/bin")
	t.Setenv("LC_ALL", "C")
	t.Setenv("LD_PRELOAD", "/tmp/evil.so")
	t.Setenv("SECRET_TOKEN", "hunter2")

	env := envMap(BuildEnv(map[string]string{
		"API_KEY":         "abc",
		"PYTHONPATH":      "/tmp",
		"NODE_OPTIONS":    "--require x",
		"DYLD_INSERT_LIB": "x",
		"LD_AUDIT":        "x",
	}))

	assert.Equal(t, "/usr/bin:/bin", env["PATH"])
	assert.Equal(t, "C", env["LC_ALL"])
	assert.Equal(t, "abc", env["API_KEY"])

	for _, key := range []string{"LD_PRELOAD", "SECRET_TOKEN", "PYTHONPATH", "NODE_OPTIONS", "DYLD_INSERT_LIB", "LD_AUDIT"} {
		assert.NotContains(t, env, key)
	}
}

func TestBuildEnvOverridesHost(t *testing.T) {
	t.Setenv("HOME", "/root")

	env := envMap(BuildEnv(map[string]string{"HOME": "/sandbox"}))

	assert.Equal(t, "/sandbox", env["HOME"])
}

func TestBuildEnvSorted(t *testing.T) {
	env := BuildEnv(map[string]string{"B": "2", "A": "1", "C": "3"})

	assert.IsNonDecreasing(t, env)
}

func TestPassthroughEnv(t *testing.T) {
	t.Setenv("SECRET_TOKEN", "hunter2")

	env := envMap(passthroughEnv(map[string]string{"NODE_OPTIONS": "--inspect"}))

	assert.Equal(t, "hunter2", env["SECRET_TOKEN"])
	assert.Equal(t, "--inspect", env["NODE_OPTIONS"])
}
