package speedcontrol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxd309/railsim/internal/kinematics"
)

func testContext(pos, speed float64) Context {
	return Context{
		Position:        pos,
		Speed:           speed,
		TimeStep:        1,
		MaxAcceleration: 0.5,
		RollingStock: kinematics.RollingStock{
			Name:                  "test",
			Length:                200,
			Mass:                  400_000,
			MaxSpeed:              40,
			StartUpAcceleration:   0.5,
			ComfortAcceleration:   0.5,
			TimetableGamma:        1.75,
			EmergencyDeceleration: 2.5,
			InertiaCoefficient:    1,
		},
	}
}

type fixed struct {
	a    Action
	name string
}

func (f fixed) Action(Context) Action { return f.a }
func (f fixed) String() string        { return f.name }

func TestMoreRestrictiveOrder(t *testing.T) {
	emergency := Action{Type: EmergencyBrake, BrakingForce: 1}
	strongBrake := Action{Type: Brake, BrakingForce: 100}
	weakBrake := Action{Type: Brake, BrakingForce: 10}
	limit := Action{Type: Limit, TractionForce: 50}
	accelerate := Action{Type: Accelerate, TractionForce: 10}
	weakAccelerate := Action{Type: Accelerate, TractionForce: 5}

	assert.True(t, MoreRestrictive(emergency, strongBrake))
	assert.True(t, MoreRestrictive(strongBrake, weakBrake))
	assert.True(t, MoreRestrictive(weakBrake, limit))
	assert.True(t, MoreRestrictive(limit, accelerate))
	assert.True(t, MoreRestrictive(weakAccelerate, accelerate))
	assert.False(t, MoreRestrictive(accelerate, limit))
}

func TestAggregateSelectsMostRestrictiveAndDeletes(t *testing.T) {
	controllers := []Controller{
		fixed{Action{Type: Accelerate, TractionForce: 100}, "acc"},
		fixed{Action{Type: NoAction, DeleteController: true}, "done"},
		fixed{Action{Type: Brake, BrakingForce: 20, DeleteController: true}, "brake-once"},
		fixed{Action{Type: Limit, TractionForce: 10}, "limit"},
	}
	action, kept := Aggregate(controllers, testContext(0, 10))
	assert.Equal(t, Brake, action.Type)
	assert.Equal(t, 20.0, action.BrakingForce)
	assert.False(t, action.DeleteController)
	require.Len(t, kept, 2)
	assert.Equal(t, "acc", kept[0].String())
	assert.Equal(t, "limit", kept[1].String())
}

func TestAggregateCoastsWithoutProposals(t *testing.T) {
	action, kept := Aggregate(nil, testContext(0, 0))
	assert.Equal(t, Coast, action)
	assert.Empty(t, kept)
}

func TestEmergencyBrakeDominates(t *testing.T) {
	controllers := []Controller{
		fixed{Action{Type: Brake, BrakingForce: 1e9}, "huge"},
		fixed{Action{Type: EmergencyBrake, BrakingForce: 1}, "emergency"},
	}
	action, _ := Aggregate(controllers, testContext(0, 10))
	assert.Equal(t, EmergencyBrake, action.Type)
}

func TestMaxSpeedController(t *testing.T) {
	c := NewMaxSpeedController(10, 100, 200)

	assert.Equal(t, NoAction, c.Action(testContext(50, 30)).Type)
	assert.Equal(t, Limit, c.Action(testContext(150, 10)).Type)
	assert.Equal(t, NoAction, c.Action(testContext(150, 5)).Type)
	assert.Equal(t, Brake, c.Action(testContext(150, 11)).Type)
	assert.Equal(t, EmergencyBrake, c.Action(testContext(150, 20)).Type)

	past := c.Action(testContext(200, 30))
	assert.Equal(t, NoAction, past.Type)
	assert.True(t, past.DeleteController)

	_, isStop := c.StopPosition()
	assert.False(t, isStop)
	pos, isStop := NewMaxSpeedController(0, 42, math.Inf(1)).StopPosition()
	assert.True(t, isStop)
	assert.Equal(t, 42.0, pos)
}

func TestLimitAnnounceFollowsCurve(t *testing.T) {
	c := NewLimitAnnounceController(40, 0, 1000, 0.5)
	assert.InDelta(t, 1000-1600, c.Begin, 1e-9)

	// 400 m before the target the curve allows 20 m/s
	assert.Equal(t, Brake, c.Action(testContext(600, 21)).Type)
	assert.Equal(t, Limit, c.Action(testContext(600, 19.3)).Type)
	assert.Equal(t, NoAction, c.Action(testContext(600, 10)).Type)
	assert.Equal(t, EmergencyBrake, c.Action(testContext(600, 23)).Type)

	// on the curve one metre out: service braking all the way down
	onCurve := c.Action(testContext(999, 1))
	assert.Equal(t, Brake, onCurve.Type)
	assert.InDelta(t, 400_000*0.5, onCurve.BrakingForce, 1e-6)

	// slow enough to halt within the step: just what stops it on the target
	halt := c.Action(testContext(999.875, 0.3))
	assert.Equal(t, Brake, halt.Type)
	assert.InDelta(t, 400_000*0.36, halt.BrakingForce, 1e-6)

	done := c.Action(testContext(1000, 0))
	assert.True(t, done.DeleteController)
}

// Driving the pair with the integrator, the train never enters the limit
// faster than the limit, whatever the step length.
func TestSpeedLimitIsNeverEnteredTooFast(t *testing.T) {
	const (
		limit  = 10.0
		target = 1000.0
		until  = 1500.0
	)
	for _, dt := range []float64{0.25, 1, 2.5} {
		ctx := testContext(0, 20)
		ctx.TimeStep = dt
		in := kinematics.NewIntegrator(ctx.RollingStock)
		controllers := append([]Controller{AccelerateController{}}, FromSpeedLimit(40, limit, target, until, 0.5)...)

		for ctx.Position < until {
			action, kept := Aggregate(controllers, ctx)
			controllers = kept
			step := in.Advance(ctx.Speed, action.TractionForce, action.BrakingForce, 0, dt)
			require.Greater(t, step.Distance, 0.0)

			if ctx.Position < target && ctx.Position+step.Distance >= target {
				// constant acceleration over the step: v² is linear in distance
				acc := (step.Speed*step.Speed - ctx.Speed*ctx.Speed) / (2 * step.Distance)
				crossing := math.Sqrt(ctx.Speed*ctx.Speed + 2*acc*(target-ctx.Position))
				assert.LessOrEqual(t, crossing, limit+1e-9, "dt=%v", dt)
			}
			ctx.Position += step.Distance
			ctx.Speed = step.Speed
			if ctx.Position >= target && ctx.Position < until {
				assert.LessOrEqual(t, ctx.Speed, limit+1e-9, "dt=%v pos=%v", dt, ctx.Position)
			}
		}
	}
}

// A 30 m/s limit at 500 announced over a 200 m approach: the aggregate of the
// pair must always be the most restrictive of the two proposals.
func TestSpeedLimitAspectPair(t *testing.T) {
	const gamma = 1.75 // (40² − 30²) / (2·200)
	controllers := FromSpeedLimit(40, 30, 500, 1500, gamma)
	require.Len(t, controllers, 2)

	announce, ok := controllers[0].(*LimitAnnounceController)
	require.True(t, ok)
	assert.InDelta(t, 300, announce.Begin, 1e-9)
	assert.Equal(t, 500.0, announce.TargetPosition)

	ceiling, ok := controllers[1].(*MaxSpeedController)
	require.True(t, ok)
	assert.Equal(t, 30.0, ceiling.Limit)
	assert.Equal(t, 500.0, ceiling.Begin)
	assert.Equal(t, 1500.0, ceiling.End)

	for pos := 0.0; pos <= 1600; pos += 25 {
		for speed := 0.0; speed <= 45; speed += 2.5 {
			ctx := testContext(pos, speed)
			a := controllers[0].Action(ctx)
			b := controllers[1].Action(ctx)
			want := Coast
			switch {
			case a.Type == NoAction && b.Type == NoAction:
			case a.Type == NoAction:
				want = b
			case b.Type == NoAction:
				want = a
			case MoreRestrictive(b, a):
				want = b
			default:
				want = a
			}
			want.DeleteController = false
			got, _ := Aggregate(controllers, ctx)
			assert.Equal(t, want, got, "pos=%v speed=%v", pos, speed)
			if pos >= 500 && pos < 1500 && speed > 30 {
				assert.True(t, got.Type >= Brake, "pos=%v speed=%v got=%v", pos, speed, got)
			}
		}
	}
}

func TestStrongest(t *testing.T) {
	brake := Action{Type: Brake, BrakingForce: 10}
	limit := Action{Type: Limit, TractionForce: 1}
	assert.Equal(t, Coast, Strongest())
	assert.Equal(t, Coast, Strongest(Coast, Action{Type: NoAction, DeleteController: true}))
	assert.Equal(t, brake, Strongest(limit, Coast, brake))
	assert.Equal(t, limit, Strongest(Coast, limit))
}
