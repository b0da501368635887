package anim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/showrunner/internal/coords"
)

func writeScript(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0644))
}

func loadStore(t *testing.T) *coords.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coords.txt")
	require.NoError(t, os.WriteFile(path, []byte("LED_0000 0 0 0\nLED_0001 1 1 1\n"), 0644))
	st, err := coords.Load(path)
	require.NoError(t, err)
	return st
}

func TestLoadAndEvaluate(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "solid.js", `
var params = {
	look: {
		intensity: { type: "scalar", default: 0.75, min: 0, max: 1 },
		steps:     { type: "int", default: 4, min: 1, max: 10 },
		tint:      { type: "color", default: [1, 0.5, 0] },
		speed:     { type: "pair", default: [0.1, 0.2] },
		mode:      { type: "enum", default: 1, options: ["wave", "pulse"] },
		features:  { type: "flags", default: 3, flags: ["mirror", "invert"] }
	}
};
function color(x, y, z, t, params, id) {
	return [params.intensity, 0, 0];
}
`)
	a, err := Load(dir, "solid.js", loadStore(t))
	require.NoError(t, err)

	assert.Equal(t, 0.75, a.Defaults["intensity"])
	assert.Equal(t, 4, a.Defaults["steps"])
	assert.Equal(t, []float64{1, 0.5, 0}, a.Defaults["tint"])
	assert.Equal(t, []float64{0.1, 0.2}, a.Defaults["speed"])
	assert.Equal(t, 1, a.Defaults["mode"])
	assert.Equal(t, 3, a.Defaults["features"])

	r, g, b, ok := a.Color(0.5, 0.5, 0.5, 0, 0)
	require.True(t, ok)
	assert.Equal(t, 0.75, r)
	assert.Equal(t, 0.0, g)
	assert.Equal(t, 0.0, b)
}

func TestLoadWithoutParamsIsEmptySchema(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "bare.js", `function color(x,y,z,t,p,id) { return [x, y, z]; }`)
	a, err := Load(dir, "bare.js", loadStore(t))
	require.NoError(t, err)
	assert.Empty(t, a.Defaults)

	r, g, b, ok := a.Color(0.1, 0.2, 0.3, 0, 0)
	require.True(t, ok)
	assert.InDelta(t, 0.1, r, 1e-9)
	assert.InDelta(t, 0.2, g, 1e-9)
	assert.InDelta(t, 0.3, b, 1e-9)
}

func TestLoadRejectsMissingColor(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "none.js", `var whatever = 1;`)
	_, err := Load(dir, "none.js", loadStore(t))
	assert.Error(t, err)
}

func TestLoadRejectsSyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.js", `function color( { nope`)
	_, err := Load(dir, "broken.js", loadStore(t))
	assert.Error(t, err)
}

func TestEvalFaultsYieldBlack(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "faulty.js", `
function color(x, y, z, t, params, id) {
	if (id === 0) throw new Error("boom");
	if (id === 1) return [1, 2];           // wrong shape
	if (id === 2) return [0/0, 0, 0];      // NaN
	if (id === 3) return "red";            // not an array
	return [0, 1, 0];
}
`)
	a, err := Load(dir, "faulty.js", loadStore(t))
	require.NoError(t, err)

	for id := 0; id <= 3; id++ {
		_, _, _, ok := a.Color(0, 0, 0, 0, id)
		assert.False(t, ok, "id %d should fault", id)
	}
	_, g, _, ok := a.Color(0, 0, 0, 0, 4)
	require.True(t, ok)
	assert.Equal(t, 1.0, g)
	assert.Equal(t, uint64(4), a.EvalErrors)
}

func TestCoordHelper(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "scramble.js", `
function color(x, y, z, t, params, id) {
	var other = coord(1);
	if (other === null) return [0, 0, 0];
	return [other[0], other[1], other[2]];
}
`)
	a, err := Load(dir, "scramble.js", loadStore(t))
	require.NoError(t, err)

	r, g, b, ok := a.Color(0, 0, 0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, r)
	assert.Equal(t, 1.0, g)
	assert.Equal(t, 1.0, b)
}

func TestCoordHelperAbsent(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "absent.js", `
function color(x, y, z, t, params, id) {
	if (coord(99) !== null) return [1, 1, 1];
	return [0, 0.5, 0];
}
`)
	a, err := Load(dir, "absent.js", loadStore(t))
	require.NoError(t, err)

	_, g, _, ok := a.Color(0, 0, 0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, 0.5, g)
}

func TestSchemaRejectsBadDeclarations(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "badtype.js", `
var params = { g: { p: { type: "mystery", default: 1 } } };
function color() { return [0,0,0]; }
`)
	_, err := Load(dir, "badtype.js", loadStore(t))
	assert.Error(t, err)

	writeScript(t, dir, "nodefault.js", `
var params = { g: { p: { type: "scalar" } } };
function color() { return [0,0,0]; }
`)
	_, err = Load(dir, "nodefault.js", loadStore(t))
	assert.Error(t, err)
}
