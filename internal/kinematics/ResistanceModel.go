// Package kinematics defines rolling-stock parameters and the physics used to
// turn traction and braking forces into a new train speed.
//
// Running resistance is pluggable through ResistanceModel. Adding a new model
// only requires implementing the interface and registering it in the JSON
// discriminator in the service package; the integrator never needs to change.
package kinematics

import "math"

// Discriminator strings for the built-in resistance models.
const (
	DavisModelName    = "davis"
	ConstantModelName = "constant"
)

// ResistanceModel returns the running resistance opposing motion, in newtons,
// for a train travelling at speed v (m/s). It must be non-negative.
type ResistanceModel interface {
	Resistance(v float64) float64
}

// Davis is the classic Davis equation R(v) = A + B·v + C·v².
//
// JSON discriminator: "model": "davis"
type Davis struct {
	A float64 `json:"a"` // N
	B float64 `json:"b"` // N/(m/s)
	C float64 `json:"c"` // N/(m/s)²
}

func (d Davis) Resistance(v float64) float64 {
	v = math.Abs(v)
	return math.Max(0, d.A+d.B*v+d.C*v*v)
}

// Constant applies the same resistance at any speed.
//
// JSON discriminator: "model": "constant"
type Constant struct {
	Force float64 `json:"force"` // N
}

func (c Constant) Resistance(float64) float64 { return math.Max(0, c.Force) }
