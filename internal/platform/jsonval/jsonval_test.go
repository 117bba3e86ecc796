package jsonval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedAccessors(t *testing.T) {
	m := Map{
		"name":   "alice",
		"active": true,
		"count":  float64(3), // as JSON decoding produces
		"ratio":  0.5,
		"nested": map[string]interface{}{"deep": "value"},
		"badint": 1.5,
	}

	s, ok := m.GetString("name")
	assert.True(t, ok)
	assert.Equal(t, "alice", s)

	_, ok = m.GetString("active")
	assert.False(t, ok, "no silent coercion between types")

	b, ok := m.GetBool("active")
	assert.True(t, ok)
	assert.True(t, b)

	n, ok := m.GetInt64("count")
	assert.True(t, ok)
	assert.EqualValues(t, 3, n)

	_, ok = m.GetInt64("badint")
	assert.False(t, ok, "fractional numbers are not integers")

	f, ok := m.GetFloat64("ratio")
	assert.True(t, ok)
	assert.Equal(t, 0.5, f)

	nested, ok := m.GetMap("nested")
	require.True(t, ok)
	deep, ok := nested.GetString("deep")
	assert.True(t, ok)
	assert.Equal(t, "value", deep)

	_, ok = m.GetString("missing")
	assert.False(t, ok)
}

func TestGetPath(t *testing.T) {
	m := Map{"a": map[string]interface{}{"b": map[string]interface{}{"c": "found"}}}

	v, ok := m.GetPath("a.b.c")
	require.True(t, ok)
	assert.Equal(t, "found", v)

	_, ok = m.GetPath("a.b.missing")
	assert.False(t, ok)
	_, ok = m.GetPath("a.missing.c")
	assert.False(t, ok)
}

func TestClone_Isolates(t *testing.T) {
	original := Map{"k": "v", "nested": map[string]interface{}{"x": "y"}}
	clone := original.Clone()

	clone["k"] = "changed"
	nested, _ := clone.GetMap("nested")
	nested["x"] = "changed"

	assert.Equal(t, "v", original["k"])
	origNested, _ := original.GetMap("nested")
	x, _ := origNested.GetString("x")
	assert.Equal(t, "y", x)
}

func TestRedact(t *testing.T) {
	m := Map{
		"host": "mail.local",
		"smtp": map[string]interface{}{"password": "hunter2", "port": float64(25)},
	}

	redacted := m.Redact([]string{"smtp.password", "missing.path"})

	smtp, _ := redacted.GetMap("smtp")
	pw, _ := smtp.GetString("password")
	assert.Equal(t, "[redacted]", pw)
	port, ok := smtp.GetInt64("port")
	assert.True(t, ok)
	assert.EqualValues(t, 25, port)

	// The original is untouched.
	origSMTP, _ := m.GetMap("smtp")
	origPW, _ := origSMTP.GetString("password")
	assert.Equal(t, "hunter2", origPW)
}
