package speedcontrol

import (
	"fmt"
	"math"

	"github.com/cxd309/railsim/internal/kinematics"
)

// EmergencyOverspeed is the excess speed (m/s) over a limit that triggers
// emergency braking instead of service braking.
const EmergencyOverspeed = 2.5

// Context is what a controller sees of the train at the start of a step.
type Context struct {
	Position        float64 // path position of the head, m
	Speed           float64 // m/s
	TimeStep        float64 // s
	MaxAcceleration float64 // m/s², depends on the train status
	RollingStock    kinematics.RollingStock
}

// Controller proposes an action for the current step.
type Controller interface {
	Action(ctx Context) Action
	String() string
}

// StopPoint is implemented by controllers that forbid the head of the train
// from ever passing a position.
type StopPoint interface {
	StopPosition() (float64, bool)
}

func limitTraction(ctx Context, target float64) Action {
	traction := ctx.RollingStock.EffectiveMass() * (target - ctx.Speed) / ctx.TimeStep
	return Action{Type: Limit, TractionForce: math.Max(0, traction)}
}

func serviceBrake(ctx Context) Action {
	return brake(ctx, ctx.RollingStock.TimetableGamma)
}

func brake(ctx Context, deceleration float64) Action {
	return Action{Type: Brake, BrakingForce: ctx.RollingStock.EffectiveMass() * deceleration}
}

func emergencyBrake(ctx Context) Action {
	return Action{Type: EmergencyBrake, BrakingForce: ctx.RollingStock.EffectiveMass() * ctx.RollingStock.EmergencyDeceleration}
}

// AccelerateController is the default controller: full traction within the
// comfort or start-up acceleration.
type AccelerateController struct{}

func (AccelerateController) Action(ctx Context) Action {
	return Action{Type: Accelerate, TractionForce: ctx.RollingStock.EffectiveMass() * ctx.MaxAcceleration}
}

func (AccelerateController) String() string { return "Accelerate" }

// MaxSpeedController is a hard speed ceiling effective on [Begin, End).
type MaxSpeedController struct {
	Limit float64
	Begin float64
	End   float64
}

// NewMaxSpeedController returns a ceiling of limit m/s effective on [begin, end).
func NewMaxSpeedController(limit, begin, end float64) *MaxSpeedController {
	return &MaxSpeedController{Limit: limit, Begin: begin, End: end}
}

func (c *MaxSpeedController) Action(ctx Context) Action {
	if ctx.Position >= c.End {
		return Action{Type: NoAction, DeleteController: true}
	}
	if ctx.Position < c.Begin {
		return Coast
	}
	over := ctx.Speed - c.Limit
	switch {
	case over > EmergencyOverspeed:
		return emergencyBrake(ctx)
	case over > 0:
		return serviceBrake(ctx)
	case ctx.Speed+ctx.MaxAcceleration*ctx.TimeStep > c.Limit:
		return limitTraction(ctx, c.Limit)
	}
	return Coast
}

// StopPosition reports Begin when the ceiling is zero.
func (c *MaxSpeedController) StopPosition() (float64, bool) {
	return c.Begin, c.Limit == 0
}

func (c *MaxSpeedController) String() string {
	return fmt.Sprintf("MaxSpeed{%.2f m/s on [%.1f, %.1f)}", c.Limit, c.Begin, c.End)
}

// LimitAnnounceController brakes along the curve v² = s² + 2γ(x−p) so the train
// reaches TargetPosition at no more than TargetSpeed. Every step is planned so
// that the speed at its end is back on or under the curve.
type LimitAnnounceController struct {
	TargetSpeed    float64
	TargetPosition float64
	Gamma          float64
	Begin          float64
}

// NewLimitAnnounceController builds an announce controller whose curve starts
// where a train at maxSpeed must start braking.
func NewLimitAnnounceController(maxSpeed, targetSpeed, targetPosition, gamma float64) *LimitAnnounceController {
	return &LimitAnnounceController{
		TargetSpeed:    targetSpeed,
		TargetPosition: targetPosition,
		Gamma:          gamma,
		Begin:          targetPosition - kinematics.BrakingDistance(maxSpeed, targetSpeed, gamma),
	}
}

func (c *LimitAnnounceController) Action(ctx Context) Action {
	if ctx.Position >= c.TargetPosition {
		return Action{Type: NoAction, DeleteController: true}
	}
	d := c.TargetPosition - ctx.Position
	if ctx.Speed-kinematics.BrakingCurveSpeed(c.TargetSpeed, d, c.Gamma) > EmergencyOverspeed {
		return emergencyBrake(ctx)
	}
	end, stops := c.endSpeed(ctx.Speed, d, ctx.TimeStep)
	switch {
	case stops:
		// halt exactly on the target
		return brake(ctx, math.Min(ctx.Speed*ctx.Speed/(2*d), c.Gamma))
	case ctx.Speed > end:
		return brake(ctx, math.Min((ctx.Speed-end)/ctx.TimeStep, c.Gamma))
	case ctx.Speed+ctx.MaxAcceleration*ctx.TimeStep > end:
		return limitTraction(ctx, end)
	}
	return Coast
}

// endSpeed returns the highest speed a step of dt seconds started d metres
// before the target at speed v may end with, the curve being extended past
// the target. It reports true when the train has to halt within the step.
func (c *LimitAnnounceController) endSpeed(v, d, dt float64) (float64, bool) {
	// v1² = s² + 2γ(d − (v+v1)·dt/2)
	g := c.Gamma
	k := c.TargetSpeed*c.TargetSpeed + 2*g*d - g*dt*v
	if k <= 0 {
		return 0, true
	}
	return (math.Sqrt(g*g*dt*dt+4*k) - g*dt) / 2, false
}

func (c *LimitAnnounceController) String() string {
	return fmt.Sprintf("LimitAnnounce{%.2f m/s at %.1f from %.1f}", c.TargetSpeed, c.TargetPosition, c.Begin)
}

// FromSpeedLimit converts a resolved speed limit into its controller pair: the
// anticipatory braking curve and the ceiling on [appliesAt, until).
func FromSpeedLimit(maxSpeed, speed, appliesAt, until, gamma float64) []Controller {
	return []Controller{
		NewLimitAnnounceController(maxSpeed, speed, appliesAt, gamma),
		NewMaxSpeedController(speed, appliesAt, until),
	}
}
