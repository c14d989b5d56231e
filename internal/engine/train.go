package engine

import (
	"fmt"
	"math"
	"slices"

	"github.com/cxd309/railsim/internal/graph"
	"github.com/cxd309/railsim/internal/kinematics"
	"github.com/cxd309/railsim/internal/service"
	"github.com/cxd309/railsim/internal/speedcontrol"
)

// TrainState is the simulated state of a train at one instant. A state is
// built on a copy and published whole; published states are never modified.
type TrainState struct {
	Time        float64
	Position    float64 // head, along the current phase path
	Speed       float64
	Status      service.TrainStatus
	PhaseIndex  int
	RouteIndex  int
	Cursor      int           // next unconsumed interaction of the phase path
	UnderTrain  []Interaction // tail interactions waiting for the tail, by position
	Controllers []speedcontrol.Controller
}

func (s *TrainState) clone() *TrainState {
	c := *s
	c.UnderTrain = slices.Clone(s.UnderTrain)
	c.Controllers = slices.Clone(s.Controllers)
	return &c
}

// signalControl holds the controllers derived from the last aspect of a signal
// the train has seen in the current phase.
type signalControl struct {
	signal      *graph.Signal
	controllers []speedcontrol.Controller
}

type sample struct {
	time, position, speed float64
	status                service.TrainStatus
}

// plan is the next state of a train, computed ahead and published when its
// event fires.
type plan struct {
	next    *TrainState
	samples []sample
	reached *Interaction // nil for a plain move
}

// at returns the interpolated motion of the plan at time now.
func (p *plan) at(now float64) sample {
	last := p.samples[len(p.samples)-1]
	if now >= last.time {
		return last
	}
	for i := len(p.samples) - 2; i >= 0; i-- {
		a, b := p.samples[i], p.samples[i+1]
		if now < a.time {
			continue
		}
		f := 0.0
		if b.time > a.time {
			f = (now - a.time) / (b.time - a.time)
		}
		return sample{
			time:     now,
			position: a.position + f*(b.position-a.position),
			speed:    a.speed + f*(b.speed-a.speed),
			status:   a.status,
		}
	}
	return p.samples[0]
}

// Train is a simulated train. It is owned by the Simulation and only changes
// through published changes and the controllers of the signals it watches.
type Train struct {
	Name         string
	Schedule     service.TrainSchedule
	RollingStock kinematics.RollingStock
	Phases       []*Phase

	state      *TrainState
	signals    []signalControl
	pending    *plan
	generation uint64
	integrator kinematics.Integrator
	arrival    float64
}

func newTrain(s service.TrainSchedule, phases []*Phase) *Train {
	return &Train{
		Name:         s.TrainID,
		Schedule:     s,
		RollingStock: s.Vehicle.RollingStock,
		Phases:       phases,
		integrator:   kinematics.NewIntegrator(s.Vehicle.RollingStock),
	}
}

// State returns a copy of the last published state, or nil before departure.
func (t *Train) State() *TrainState {
	if t.state == nil {
		return nil
	}
	return t.state.clone()
}

func (t *Train) finished() bool {
	return t.state != nil && t.state.Status == service.StatusReachedDestination
}

func (t *Train) phase() *Phase { return t.Phases[t.state.PhaseIndex] }

func (t *Train) maxAcceleration(status service.TrainStatus, now float64) (float64, error) {
	switch status {
	case service.StatusStartingUp:
		return t.RollingStock.StartUpAcceleration, nil
	case service.StatusRolling, service.StatusStop, service.StatusEmergencyBraking:
		return t.RollingStock.ComfortAcceleration, nil
	}
	return 0, &InvalidStateError{Train: t.Name, Status: status, Time: now}
}

// peek returns the next interaction to react to: the first one waiting under
// the train when it is not beyond the next one of the path.
func (t *Train) peek(st *TrainState, ph *Phase) (Interaction, bool) {
	next := ph.Interactions[st.Cursor]
	if len(st.UnderTrain) > 0 && st.UnderTrain[0].Position <= next.Position {
		return st.UnderTrain[0], true
	}
	return next, false
}

// simulate computes the next state of the train, up to its next interaction
// or until it can make no more progress. It returns nil when the phase has no
// interaction left.
func (t *Train) simulate(sim *Simulation) (*plan, error) {
	st := t.state.clone()
	if _, err := t.maxAcceleration(st.Status, st.Time); err != nil {
		return nil, err
	}
	ph := t.Phases[st.PhaseIndex]
	if st.Cursor == len(ph.Interactions) {
		return nil, nil
	}

	next, underTrain := t.peek(st, ph)
	reached, samples, err := t.evolve(sim, st, ph, next.Position)
	if err != nil {
		return nil, err
	}
	p := &plan{next: st, samples: samples}
	if !reached {
		return p, nil
	}

	if underTrain {
		st.UnderTrain = st.UnderTrain[1:]
	} else {
		st.Cursor++
	}
	if next.Type != Tail && next.Point.InteractionTypes().Has(Tail) {
		st.UnderTrain = append(st.UnderTrain, Interaction{
			Type:     Tail,
			Position: next.Position + t.RollingStock.Length,
			Point:    next.Point,
		})
	}
	p.reached = &next
	return p, nil
}

// stopPoint returns the nearest zero-speed ceiling ahead of the train inside
// the path, and whether it prevents reaching target.
func (t *Train) stopPoint(st *TrainState, ph *Phase, target float64) (float64, bool) {
	stop := math.Inf(1)
	consider := func(cs []speedcontrol.Controller) {
		for _, c := range cs {
			sp, ok := c.(speedcontrol.StopPoint)
			if !ok {
				continue
			}
			if s, isStop := sp.StopPosition(); isStop && s >= st.Position && s < ph.Length && s < stop {
				stop = s
			}
		}
	}
	consider(st.Controllers)
	for _, sc := range t.signals {
		consider(sc.controllers)
	}
	return stop, stop <= target
}

func (t *Train) signalAction(ctx speedcontrol.Context) speedcontrol.Action {
	actions := make([]speedcontrol.Action, 0, len(t.signals))
	for _, sc := range t.signals {
		a, _ := speedcontrol.Aggregate(sc.controllers, ctx)
		actions = append(actions, a)
	}
	return speedcontrol.Strongest(actions...)
}

// positionTolerance absorbs the rounding of a step meant to end on its limit.
const positionTolerance = 1e-6

// evolve integrates the motion of st until the head reaches target. It stops
// early, reporting false, when a stop point holds the train, when the train
// stands still or past the simulated time limit. A train that makes no
// progress at all waits for the stall poll interval.
func (t *Train) evolve(sim *Simulation, st *TrainState, ph *Phase, target float64) (bool, []sample, error) {
	dt := sim.cfg.TimeStep
	samples := []sample{{st.Time, st.Position, st.Speed, st.Status}}
	record := func() {
		samples = append(samples, sample{st.Time, st.Position, st.Speed, st.Status})
	}
	stall := func(progressed bool) (bool, []sample, error) {
		st.Speed = 0
		st.Status = service.StatusStop
		if !progressed {
			st.Time += sim.cfg.StallPollInterval
		}
		record()
		return false, samples, nil
	}

	stop, blocked := t.stopPoint(st, ph, target)
	limit := target
	if blocked {
		limit = stop
	}

	progressed := false
	for {
		if st.Position >= limit {
			if blocked {
				return stall(progressed)
			}
			return true, samples, nil
		}
		if st.Time > sim.cfg.MaxSimulatedTime {
			return false, samples, nil
		}

		maxAcc, err := t.maxAcceleration(st.Status, st.Time)
		if err != nil {
			return false, nil, err
		}
		ctx := speedcontrol.Context{
			Position:        st.Position,
			Speed:           st.Speed,
			TimeStep:        dt,
			MaxAcceleration: maxAcc,
			RollingStock:    t.RollingStock,
		}
		action, kept := speedcontrol.Aggregate(st.Controllers, ctx)
		st.Controllers = kept
		action = speedcontrol.Strongest(action, t.signalAction(ctx))

		grade := ph.MaxGrade(st.Position-t.RollingStock.Length, st.Position)
		step := t.integrator.Advance(st.Speed, action.TractionForce, action.BrakingForce, grade, dt)
		if step.Distance <= 0 {
			return stall(progressed)
		}

		if st.Position+step.Distance >= limit-positionTolerance {
			f := math.Min(1, (limit-st.Position)/step.Distance)
			st.Time += f * dt
			st.Speed += f * (step.Speed - st.Speed)
			st.Position = limit
		} else {
			st.Time += dt
			st.Speed = step.Speed
			st.Position += step.Distance
		}
		progressed = true

		switch {
		case st.Speed <= 0:
			st.Speed = 0
			st.Status = service.StatusStop
		case action.Type == speedcontrol.EmergencyBrake:
			st.Status = service.StatusEmergencyBraking
		default:
			st.Status = service.StatusRolling
		}
		record()

		if st.Speed == 0 && !(st.Position >= limit && !blocked) {
			return false, samples, nil
		}
	}
}

// setAspectConstraints replaces the controllers derived from sig with those of
// the aspect it currently displays.
func (t *Train) setAspectConstraints(sim *Simulation, sig *graph.Signal) error {
	ph := t.phase()
	signalPos, ok := ph.signalPosition(sig, t.state.Position)
	if !ok {
		return nil
	}
	aspectID := sim.infra.Signal(sig.Index).Aspect
	aspect, err := sim.graph.Aspect(aspectID)
	if err != nil {
		return fmt.Errorf("signal %q: %w", sig.ID, err)
	}

	var controllers []speedcontrol.Controller
	for _, c := range aspect.Constraints {
		appliesAt := ph.resolve(c.AppliesAt, signalPos)
		until := ph.resolve(c.Until, signalPos)
		controllers = append(controllers, speedcontrol.FromSpeedLimit(
			t.RollingStock.MaxSpeed, c.Speed, appliesAt, until, t.RollingStock.TimetableGamma)...)
	}

	for i := range t.signals {
		if t.signals[i].signal == sig {
			t.signals[i].controllers = controllers
			return nil
		}
	}
	t.signals = append(t.signals, signalControl{signal: sig, controllers: controllers})
	return nil
}

// findTVDSection returns the first TVD section of routes whose path starts
// (forward) or ends (backward) at the waypoint with index wp.
func findTVDSection(routes []*graph.Route, wp int, forward bool) (int, bool) {
	for _, r := range routes {
		for _, p := range r.TVDSectionPaths {
			node := p.EndNode()
			if forward {
				node = p.StartNode()
			}
			if node == wp {
				return p.SectionIndex(), true
			}
		}
	}
	return 0, false
}

// updateTVDSections occupies the section ahead when the head passes detector w
// and frees the section behind when the tail clears it.
func (t *Train) updateTVDSections(sim *Simulation, w *graph.Waypoint, kind InteractionType) error {
	ph := t.phase()
	now := sim.queue.Now()

	if kind == Head {
		if ri := t.state.RouteIndex; ri < len(ph.Routes) {
			paths := ph.Routes[ri].TVDSectionPaths
			if paths[len(paths)-1].EndNode() == w.Index {
				next := ri + 1
				c := &RouteAdvanceChange{Train: t.Name, RouteIndex: next, train: t}
				if next < len(ph.Routes) {
					c.Route = ph.Routes[next].ID
				}
				if err := sim.apply(c); err != nil {
					return err
				}
			}
		}
		if t.state.RouteIndex >= len(ph.Routes) {
			return nil
		}
		index, ok := findTVDSection(ph.Routes[t.state.RouteIndex:], w.Index, true)
		if !ok {
			return &TopologyError{Train: t.Name, Waypoint: w.ID, Time: now, Reason: "no tvd section of the remaining routes starts here"}
		}
		return sim.occupy(t, index)
	}

	index, ok := findTVDSection(ph.Routes, w.Index, false)
	if !ok && t.state.PhaseIndex > 0 {
		index, ok = findTVDSection(t.Phases[t.state.PhaseIndex-1].Routes, w.Index, false)
	}
	if !ok {
		return &TopologyError{Train: t.Name, Waypoint: w.ID, Time: now, Reason: "no tvd section of the phase routes ends here"}
	}
	return sim.release(t, index)
}

// snapshot converts a state into its published form.
func (t *Train) snapshot(st *TrainState) TrainSnapshot {
	s := TrainSnapshot{
		Time:       st.Time,
		Position:   st.Position,
		Location:   t.Phases[st.PhaseIndex].Locate(st.Position),
		Speed:      st.Speed,
		Status:     st.Status,
		Phase:      st.PhaseIndex,
		RouteIndex: st.RouteIndex,
		Cursor:     st.Cursor,
	}
	for _, it := range st.UnderTrain {
		s.UnderTrain = append(s.UnderTrain, it.Position)
	}
	return s
}

func (t *Train) eventName(p *plan) string {
	if p.reached != nil {
		return fmt.Sprintf("train_reaches_action_point:%s:%s", t.Name, p.reached)
	}
	return "train_move:" + t.Name
}
