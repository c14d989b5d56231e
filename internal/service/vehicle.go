package service

import (
	"encoding/json"
	"fmt"

	"github.com/cxd309/railsim/internal/kinematics"
)

// Vehicle holds the rolling stock a train runs with.
// Running resistance is selected by the "resistance" field; adding a model only
// requires implementing kinematics.ResistanceModel and registering it in
// UnmarshalJSON below.
type Vehicle struct {
	kinematics.RollingStock
}

// resistanceDisc is the minimum JSON structure needed to read the model discriminator.
type resistanceDisc struct {
	Model string `json:"model"`
}

// vehicleJSON is the raw JSON shape of a Vehicle, before the resistance model is resolved.
type vehicleJSON struct {
	Name                  string          `json:"name"`
	Length                float64         `json:"length"`
	Mass                  float64         `json:"mass"`
	MaxSpeed              float64         `json:"max_speed"`
	StartUpAcceleration   float64         `json:"start_up_acceleration"`
	ComfortAcceleration   float64         `json:"comfort_acceleration"`
	TimetableGamma        float64         `json:"timetable_gamma"`
	EmergencyDeceleration float64         `json:"emergency_deceleration"`
	InertiaCoefficient    float64         `json:"inertia_coefficient,omitempty"`
	Resistance            json.RawMessage `json:"resistance,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler for Vehicle.
// The optional "resistance" object must contain a "model" discriminator key
// selecting the implementation; the rest of the object is forwarded to it.
// A missing inertia coefficient defaults to 1.
//
// Supported models:
//   - "davis": a, b, c coefficients.
//   - "constant": a fixed force.
func (v *Vehicle) UnmarshalJSON(data []byte) error {
	var aux vehicleJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v.RollingStock = kinematics.RollingStock{
		Name:                  aux.Name,
		Length:                aux.Length,
		Mass:                  aux.Mass,
		MaxSpeed:              aux.MaxSpeed,
		StartUpAcceleration:   aux.StartUpAcceleration,
		ComfortAcceleration:   aux.ComfortAcceleration,
		TimetableGamma:        aux.TimetableGamma,
		EmergencyDeceleration: aux.EmergencyDeceleration,
		InertiaCoefficient:    aux.InertiaCoefficient,
	}
	if v.InertiaCoefficient == 0 {
		v.InertiaCoefficient = 1
	}
	if len(aux.Resistance) == 0 || string(aux.Resistance) == "null" {
		return nil
	}

	var disc resistanceDisc
	if err := json.Unmarshal(aux.Resistance, &disc); err != nil {
		return fmt.Errorf("vehicle %q: reading resistance model discriminator: %w", v.Name, err)
	}
	switch disc.Model {
	case kinematics.DavisModelName:
		var m kinematics.Davis
		if err := json.Unmarshal(aux.Resistance, &m); err != nil {
			return fmt.Errorf("vehicle %q: parsing davis resistance: %w", v.Name, err)
		}
		v.Resistance = m
	case kinematics.ConstantModelName:
		var m kinematics.Constant
		if err := json.Unmarshal(aux.Resistance, &m); err != nil {
			return fmt.Errorf("vehicle %q: parsing constant resistance: %w", v.Name, err)
		}
		v.Resistance = m
	default:
		return fmt.Errorf("vehicle %q: unknown resistance model %q", v.Name, disc.Model)
	}
	return nil
}
