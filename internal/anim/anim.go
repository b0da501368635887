package anim

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/dop251/goja"

	"github.com/coreman2200/showrunner/internal/coords"
)

// Animation is a loaded script: its color function plus the flattened
// default parameter values. The embedded runtime is not goroutine-safe;
// Color must only be called from the render goroutine. Installing a new
// Animation hands the whole runtime over with it.
type Animation struct {
	Name     string
	Source   string
	Defaults map[string]any
	Schema   Schema

	vm     *goja.Runtime
	color  goja.Callable
	params goja.Value

	// EvalErrors counts per-LED evaluation faults since load.
	EvalErrors uint64
}

// Load compiles the script at dir/name and extracts its color function and
// parameter defaults. The store backs the ambient coord(i) helper scripts
// may call for scramble effects.
func Load(dir, name string, store *coords.Store) (*Animation, error) {
	path := filepath.Join(dir, name)
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("anim: %w", err)
	}

	vm := goja.New()
	vm.Set("coord", func(i int) any {
		if store == nil {
			return nil
		}
		if p, ok := store.Coord(i); ok {
			return []float64{p.X, p.Y, p.Z}
		}
		return nil
	})

	if _, err := vm.RunString(string(src)); err != nil {
		return nil, fmt.Errorf("anim: run %s: %w", name, err)
	}

	colorFn, ok := goja.AssertFunction(vm.Get("color"))
	if !ok {
		return nil, fmt.Errorf("anim: %s does not define a color function", name)
	}

	schema, err := parseSchema(vm.Get("params"))
	if err != nil {
		return nil, fmt.Errorf("anim: %s: %w", name, err)
	}
	defaults := schema.Defaults()

	return &Animation{
		Name:     name,
		Source:   path,
		Defaults: defaults,
		Schema:   schema,
		vm:       vm,
		color:    colorFn,
		params:   vm.ToValue(defaults),
	}, nil
}

// Color evaluates the script's color function for one LED. Any raised
// error, wrong result shape, or non-finite component yields ok=false; the
// engine renders black for that LED and carries on.
func (a *Animation) Color(x, y, z, t float64, id int) (r, g, b float64, ok bool) {
	v, err := a.color(goja.Undefined(),
		a.vm.ToValue(x), a.vm.ToValue(y), a.vm.ToValue(z),
		a.vm.ToValue(t), a.params, a.vm.ToValue(id))
	if err != nil {
		a.EvalErrors++
		return 0, 0, 0, false
	}
	r, g, b, ok = exportRGB(v)
	if !ok {
		a.EvalErrors++
	}
	return r, g, b, ok
}

func exportRGB(v goja.Value) (r, g, b float64, ok bool) {
	arr, isSlice := v.Export().([]any)
	if !isSlice || len(arr) != 3 {
		return 0, 0, 0, false
	}
	var out [3]float64
	for i, el := range arr {
		f, okf := toFloat(el)
		if !okf || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, 0, 0, false
		}
		out[i] = f
	}
	return out[0], out[1], out[2], true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
