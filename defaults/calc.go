package defaults

import (
	"github.com/micromdm/nanotenant/payload"
)

func cathode(params payload.Value) (massLoading, size float64, err error) {
	if massLoading, err = floatAt(params, "battery_chemistry", "cathode", "mass_loading"); err != nil {
		return
	}
	size, err = floatAt(params, "battery_chemistry", "cathode", "size")
	return
}

func capacity(r *Registry, params payload.Value) (float64, error) {
	ml, size, err := cathode(params)
	if err != nil {
		return 0, err
	}
	// mA/cm^2 * cm^2
	return r.Round(ml * size * 1e-4), nil
}

// Capacity is the nominal cell capacity from the cathode loading.
func Capacity(r *Registry, params payload.Value) (payload.Value, error) {
	c, err := capacity(r, params)
	if err != nil {
		return payload.Value{}, err
	}
	return payload.Number(c), nil
}

// IMax is the maximum cycling current in A.
func IMax(r *Registry, params payload.Value) (payload.Value, error) {
	ml, size, err := cathode(params)
	if err != nil {
		return payload.Value{}, err
	}
	rate, err := r.StaticFloat("c_rate_charge")
	if err != nil {
		return payload.Value{}, err
	}
	return payload.Number(r.Round(ml * size * 1e-3 * rate * 1.2)), nil
}

// Volume is the electrolyte volume for the batch including excess.
// The batch size falls back to the static batch_volume.
func Volume(r *Registry, params payload.Value) (payload.Value, error) {
	batch, err := floatAt(params, "batch_volume")
	if err != nil {
		if batch, err = r.StaticFloat("batch_volume"); err != nil {
			return payload.Value{}, err
		}
	}
	extra, err := r.StaticFloat("additional_electrolyte_volume_percentage")
	if err != nil {
		return payload.Value{}, err
	}
	return payload.Number(r.Round(2*(batch/8)*(1+extra)) + 2), nil
}

// CVCutoffFormation is the constant-voltage cutoff current of the
// formation cycles: CV_I_cutoff when set, otherwise a twentieth of the
// capacity.
func CVCutoffFormation(r *Registry, params payload.Value) (payload.Value, error) {
	if v, ok := params.Get("CV_I_cutoff"); ok && !v.IsNull() {
		return v.Clone(), nil
	}
	c, err := capacity(r, params)
	if err != nil {
		return payload.Value{}, err
	}
	return payload.Number(r.Round(c / 20)), nil
}
