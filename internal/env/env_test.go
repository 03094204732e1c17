package env

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func findVar(kvs []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range kvs {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix), true
		}
	}
	return "", false
}

func TestWithSetOverridesGlobal(t *testing.T) {
	e := New().WithSet("ZUZ_ENV", "production")
	out := e.Merge(nil)
	v, ok := findVar(out, "ZUZ_ENV")
	require.True(t, ok)
	require.Equal(t, "production", v)
}

func TestPerWorkerOverridesGlobal(t *testing.T) {
	e := New().WithSet("FOO", "global")
	out := e.Merge([]string{"FOO=worker"})
	v, ok := findVar(out, "FOO")
	require.True(t, ok)
	require.Equal(t, "worker", v)
}

func TestExpandSubstitutesKnownVars(t *testing.T) {
	e := New().WithSet("BASE_DIR", "/srv/app")
	out := e.Merge([]string{"LOG_DIR=${BASE_DIR}/logs"})
	v, ok := findVar(out, "LOG_DIR")
	require.True(t, ok)
	require.Equal(t, "/srv/app/logs", v)
}

func TestWithUnsetRemovesGlobal(t *testing.T) {
	e := New().WithSet("FOO", "bar").WithUnset("FOO")
	out := e.Merge(nil)
	_, ok := findVar(out, "FOO")
	require.False(t, ok)
}

func TestPrependPathPutsDirFirst(t *testing.T) {
	e := New().WithSet("PATH", "/usr/bin")
	e = e.PrependPath("/project/node_modules/.bin")
	out := e.Merge(nil)
	v, ok := findVar(out, "PATH")
	require.True(t, ok)
	require.True(t, strings.HasPrefix(v, "/project/node_modules/.bin"))
	require.True(t, strings.Contains(v, "/usr/bin"))
}

func TestImmutability(t *testing.T) {
	base := New().WithSet("A", "1")
	derived := base.WithSet("A", "2")

	baseOut := base.Merge(nil)
	derivedOut := derived.Merge(nil)

	v1, _ := findVar(baseOut, "A")
	v2, _ := findVar(derivedOut, "A")
	require.Equal(t, "1", v1)
	require.Equal(t, "2", v2)
}
