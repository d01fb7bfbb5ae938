// Package defaults resolves default values for request template keys.
package defaults

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/micromdm/nanotenant/payload"
)

// DefaultRoundDigits is used when the static table has no roundnumber.
const DefaultRoundDigits = 5

// ErrMissingInput is returned when a computed default lacks an input.
var ErrMissingInput = errors.New("missing input")

// Func computes a default value from the working parameter set.
type Func func(r *Registry, params payload.Value) (payload.Value, error)

// Registry maps template keys to computed and static defaults.
type Registry struct {
	static   payload.Value
	computed map[string]Func
	digits   int
}

// New creates a registry with the static table and the builtin
// computed defaults registered.
func New(static payload.Value) *Registry {
	r := &Registry{
		static:   static,
		computed: make(map[string]Func),
		digits:   DefaultRoundDigits,
	}
	if v, ok := static.Get("roundnumber"); ok {
		if f, ok := v.Float(); ok {
			r.digits = int(f)
		}
	}
	r.Register("capacity", Capacity)
	r.Register("I_max", IMax)
	r.Register("volume", Volume)
	r.Register("CV_I_cutoff_formation", CVCutoffFormation)
	return r
}

// Register sets the computed default for key.
func (r *Registry) Register(key string, f Func) {
	r.computed[key] = f
}

// HasComputed reports whether key has a computed default.
func (r *Registry) HasComputed(key string) bool {
	_, ok := r.computed[key]
	return ok
}

// Compute runs the computed default for key against params.
func (r *Registry) Compute(key string, params payload.Value) (payload.Value, error) {
	f, ok := r.computed[key]
	if !ok {
		return payload.Value{}, fmt.Errorf("no computed default: %s", key)
	}
	return f(r, params)
}

// Static returns the static default for key.
func (r *Registry) Static(key string) (payload.Value, bool) {
	v, ok := r.static.Get(key)
	if !ok {
		return payload.Value{}, false
	}
	return v.Clone(), true
}

// StaticFloat returns the numeric static default for key.
func (r *Registry) StaticFloat(key string) (float64, error) {
	v, ok := r.static.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: default %s", ErrMissingInput, key)
	}
	f, ok := v.Float()
	if !ok {
		return 0, fmt.Errorf("default %s: not a number", key)
	}
	return f, nil
}

// Round rounds f half-to-even to the registry's digits.
func (r *Registry) Round(f float64) float64 {
	p := math.Pow10(r.digits)
	return math.RoundToEven(f*p) / p
}

func floatAt(params payload.Value, path ...string) (float64, error) {
	v, ok := params.Path(path...)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingInput, strings.Join(path, "."))
	}
	f, ok := v.Float()
	if !ok {
		return 0, fmt.Errorf("%s: not a number", strings.Join(path, "."))
	}
	return f, nil
}
