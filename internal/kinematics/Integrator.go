package kinematics

import "math"

// StandardGravity in m/s².
const StandardGravity = 9.81

// Integrator advances a train's speed over one time step.
type Integrator struct {
	rs RollingStock
}

// NewIntegrator returns an Integrator for the given rolling stock.
func NewIntegrator(rs RollingStock) Integrator {
	return Integrator{rs: rs}
}

// Step holds the result of integrating one time step.
type Step struct {
	Speed    float64 // m/s at the end of the step
	Distance float64 // metres travelled during the step
}

// acceleration returns the acceleration of the train at speed under the given
// forces (N) on a grade (‰, positive uphill).
func (in Integrator) acceleration(speed, traction, braking, grade float64) float64 {
	gradeForce := in.rs.Mass * StandardGravity * grade / 1000
	var resistance float64
	if in.rs.Resistance != nil {
		resistance = in.rs.Resistance.Resistance(speed)
	}
	return (traction - braking - resistance - gradeForce) / in.rs.EffectiveMass()
}

// NewSpeed computes the speed reached after dt seconds starting at speed under
// the given traction and braking forces (N) on a grade (‰, positive uphill).
//
// Braking and running resistance only ever slow the train down: they cannot
// push it backwards, so the result is clamped at zero.
func (in Integrator) NewSpeed(speed, traction, braking, grade, dt float64) float64 {
	acc := in.acceleration(speed, traction, braking, grade)
	if speed <= 0 {
		// at standstill, brakes and resistance hold the train unless overcome
		if acc <= 0 {
			return 0
		}
		return acc * dt
	}
	newSpeed := speed + acc*dt
	if newSpeed < 0 || math.IsNaN(newSpeed) {
		return 0
	}
	return newSpeed
}

// Advance integrates one step and returns the new speed together with the
// distance covered, using the mean speed over the step. A train that comes
// to a halt during the step only covers its stopping distance.
func (in Integrator) Advance(speed, traction, braking, grade, dt float64) Step {
	v := in.NewSpeed(speed, traction, braking, grade, dt)
	if v == 0 && speed > 0 {
		if acc := in.acceleration(speed, traction, braking, grade); acc < 0 {
			return Step{Distance: math.Min(speed*speed/(-2*acc), speed/2*dt)}
		}
	}
	return Step{Speed: v, Distance: (speed + v) / 2 * dt}
}
