// Package speedcontrol combines the proposals of a train's active speed
// controllers into the single action applied at each integration step.
package speedcontrol

import "fmt"

// ActionType ranks how restrictive a proposal is. Higher values dominate.
type ActionType int

const (
	NoAction ActionType = iota
	Accelerate
	Limit
	Brake
	EmergencyBrake
)

func (t ActionType) String() string {
	switch t {
	case NoAction:
		return "no_action"
	case Accelerate:
		return "accelerate"
	case Limit:
		return "limit"
	case Brake:
		return "brake"
	case EmergencyBrake:
		return "emergency_brake"
	}
	return fmt.Sprintf("action(%d)", int(t))
}

// Action is a controller's proposal for one step. Forces are in newtons.
// DeleteController asks the aggregator to drop the proposing controller
// once it has been consulted.
type Action struct {
	Type             ActionType
	TractionForce    float64
	BrakingForce     float64
	DeleteController bool
}

func (a Action) String() string {
	return fmt.Sprintf("%s(traction=%.0f, braking=%.0f)", a.Type, a.TractionForce, a.BrakingForce)
}

// Coast is the action taken when no controller has anything to say.
var Coast = Action{Type: NoAction}

// MoreRestrictive reports whether a must be preferred over b.
// Emergency braking dominates, then braking (strongest force first), then
// limiting and accelerating (weakest traction first).
func MoreRestrictive(a, b Action) bool {
	if a.Type != b.Type {
		return a.Type > b.Type
	}
	switch a.Type {
	case Brake, EmergencyBrake:
		return a.BrakingForce > b.BrakingForce
	default:
		return a.TractionForce < b.TractionForce
	}
}

// Aggregate consults every controller and returns the most restrictive
// non-NoAction proposal, along with the controllers to keep for the next step.
// Ties keep the earliest controller's proposal.
func Aggregate(controllers []Controller, ctx Context) (Action, []Controller) {
	best := Coast
	found := false
	kept := make([]Controller, 0, len(controllers))
	for _, c := range controllers {
		a := c.Action(ctx)
		if !a.DeleteController {
			kept = append(kept, c)
		}
		if a.Type == NoAction {
			continue
		}
		if !found || MoreRestrictive(a, best) {
			best = a
			found = true
		}
	}
	best.DeleteController = false
	return best, kept
}

// Strongest returns the most restrictive of actions, ignoring NoAction
// proposals. Ties keep the earliest.
func Strongest(actions ...Action) Action {
	best := Coast
	for _, a := range actions {
		if a.Type == NoAction {
			continue
		}
		if best.Type == NoAction || MoreRestrictive(a, best) {
			best = a
		}
	}
	best.DeleteController = false
	return best
}
