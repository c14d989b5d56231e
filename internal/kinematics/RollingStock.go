package kinematics

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRollingStock is wrapped by every RollingStock validation error.
var ErrInvalidRollingStock = errors.New("invalid rolling stock")

// RollingStock holds the immutable physical parameters of a train.
// All values are SI: metres, kilograms, m/s, m/s².
type RollingStock struct {
	Name                  string
	Length                float64
	Mass                  float64
	MaxSpeed              float64
	StartUpAcceleration   float64
	ComfortAcceleration   float64
	TimetableGamma        float64 // service braking deceleration used for braking curves
	EmergencyDeceleration float64
	InertiaCoefficient    float64 // rotating mass factor, ≥ 1
	Resistance            ResistanceModel
}

// Validate checks that every parameter is usable by the integrator.
func (rs RollingStock) Validate() error {
	checks := []struct {
		name string
		v    float64
	}{
		{"length", rs.Length},
		{"mass", rs.Mass},
		{"max_speed", rs.MaxSpeed},
		{"start_up_acceleration", rs.StartUpAcceleration},
		{"comfort_acceleration", rs.ComfortAcceleration},
		{"timetable_gamma", rs.TimetableGamma},
		{"emergency_deceleration", rs.EmergencyDeceleration},
	}
	for _, c := range checks {
		if !(c.v > 0) || math.IsInf(c.v, 0) {
			return fmt.Errorf("%w: %q: %s must be positive, got %v", ErrInvalidRollingStock, rs.Name, c.name, c.v)
		}
	}
	if rs.InertiaCoefficient < 1 {
		return fmt.Errorf("%w: %q: inertia_coefficient must be ≥ 1, got %v", ErrInvalidRollingStock, rs.Name, rs.InertiaCoefficient)
	}
	return nil
}

// EffectiveMass is the mass used to convert force into acceleration.
func (rs RollingStock) EffectiveMass() float64 {
	return rs.Mass * rs.InertiaCoefficient
}

// BrakingDistance returns the distance needed to decelerate from v to targetV at
// constant deceleration gamma. Returns 0 if v ≤ targetV.
func BrakingDistance(v, targetV, gamma float64) float64 {
	if gamma <= 0 {
		return math.Inf(1)
	}
	if v <= targetV {
		return 0
	}
	return (v*v - targetV*targetV) / (2 * gamma)
}

// BrakingCurveSpeed returns the highest speed at distance d before a point
// where speed must be targetV, braking at gamma.
func BrakingCurveSpeed(targetV, d, gamma float64) float64 {
	if d <= 0 {
		return targetV
	}
	return math.Sqrt(targetV*targetV + 2*gamma*d)
}
