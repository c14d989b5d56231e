package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cxd309/railsim/internal/config"
	"github.com/cxd309/railsim/internal/graph"
	"github.com/cxd309/railsim/internal/infrastate"
	xlog "github.com/cxd309/railsim/internal/log"
	"github.com/cxd309/railsim/internal/service"
	"github.com/cxd309/railsim/internal/timeline"
)

// Simulation owns every piece of mutable state of a run: the event queue, the
// infrastructure state and the trains. All mutations go through published
// changes.
type Simulation struct {
	meta   SimulationMeta
	cfg    config.Config
	graph  *graph.Graph
	infra  *infrastate.State
	queue  *timeline.Queue
	log    *timeline.Log
	points map[graph.EdgeID][]PlacedPoint
	trains []*Train
	byName map[string]*Train
	active int
	logger zerolog.Logger
}

// NewSimulation builds the graph and the trains of input and schedules their
// departures. Nothing is published until Run.
func NewSimulation(input SimulationInput, cfg config.Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g, err := graph.NewGraph(input.GraphData)
	if err != nil {
		return nil, fmt.Errorf("building graph: %w", err)
	}

	meta := input.Meta
	meta.TimeStep = cfg.TimeStep
	meta.SightDistance = cfg.SightDistance
	meta.MaxSimulatedTime = cfg.MaxSimulatedTime

	sim := &Simulation{
		meta:   meta,
		cfg:    cfg,
		graph:  g,
		infra:  infrastate.New(g),
		queue:  timeline.NewQueue(),
		log:    timeline.NewLog(),
		points: make(map[graph.EdgeID][]PlacedPoint),
		byName: make(map[string]*Train),
		logger: xlog.Derive(func(c *zerolog.Context) {
			*c = c.Str(xlog.FieldComponent, "engine").Str(xlog.FieldRunID, meta.RunID)
		}),
	}

	for _, s := range input.Trains {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := sim.byName[s.TrainID]; dup {
			return nil, fmt.Errorf("%w: duplicate train id %q", service.ErrInvalidSchedule, s.TrainID)
		}
		phases, err := sim.buildPhases(s)
		if err != nil {
			return nil, fmt.Errorf("train %q: %w", s.TrainID, err)
		}
		t := newTrain(s, phases)
		sim.trains = append(sim.trains, t)
		sim.byName[t.Name] = t
	}

	for _, t := range sim.trains {
		if err := sim.scheduleDeparture(t, t.Schedule.DepartureTime); err != nil {
			return nil, err
		}
	}
	return sim, nil
}

func (sim *Simulation) buildPhases(s service.TrainSchedule) ([]*Phase, error) {
	phases := make([]*Phase, 0, len(s.Phases))
	start := s.Start
	for i, spec := range s.Phases {
		routes, err := service.ResolveRoutes(sim.graph, spec)
		if err != nil {
			return nil, fmt.Errorf("phase %d: %w", i, err)
		}
		ph, err := NewPhase(sim.graph, routes, sim.cfg.SightDistance, start, spec.End, sim.lookup)
		if err != nil {
			return nil, fmt.Errorf("phase %d: %w", i, err)
		}
		ph.Dwell = spec.Dwell
		phases = append(phases, ph)
		start = spec.End
	}
	return phases, nil
}

// lookup returns the action points of an edge, built once per edge from the
// graph's waypoints and signals.
func (sim *Simulation) lookup(edge graph.EdgeID) []PlacedPoint {
	if pts, ok := sim.points[edge]; ok {
		return pts
	}
	var pts []PlacedPoint
	for _, it := range sim.graph.Interactables(edge) {
		var p ActionPoint
		switch {
		case it.Signal != nil:
			p = &SignalPoint{Signal: it.Signal}
		case it.Waypoint.Kind == graph.WaypointBufferStop:
			p = &BufferStop{Waypoint: it.Waypoint}
		default:
			p = &Detector{Waypoint: it.Waypoint}
		}
		pts = append(pts, PlacedPoint{Offset: it.Offset, Point: p})
	}
	sim.points[edge] = pts
	return pts
}

// Subscribe registers an observer of the published changes.
func (sim *Simulation) Subscribe(o timeline.Observer) { sim.log.Subscribe(o) }

// Records returns the changes published so far.
func (sim *Simulation) Records() []timeline.Record { return sim.log.Records() }

// Trains returns the trains in input order.
func (sim *Simulation) Trains() []*Train { return sim.trains }

// Infra returns the infrastructure state. It must not be modified.
func (sim *Simulation) Infra() *infrastate.State { return sim.infra }

// Now returns the current simulated time.
func (sim *Simulation) Now() float64 { return sim.queue.Now() }

// Run dispatches events until every train has reached its destination or the
// queue runs dry. It stops with ErrTimeLimit when the next event lies beyond
// the maximum simulated time, and with the handler error when an event fails.
func (sim *Simulation) Run(ctx context.Context) error {
	for sim.active > 0 || sim.pendingDepartures() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok := sim.queue.Peek()
		if !ok {
			return nil
		}
		if ev.Time > sim.cfg.MaxSimulatedTime {
			return fmt.Errorf("%w: %s due at t=%.3f, limit %.3f", ErrTimeLimit, ev.Name, ev.Time, sim.cfg.MaxSimulatedTime)
		}
		ev, _ = sim.queue.Pop()
		sim.logger.Debug().
			Str(xlog.FieldEvent, ev.Name).
			Float64(xlog.FieldSimTime, ev.Time).
			Msg("dispatch")
		if err := ev.Handler(); err != nil {
			sim.logger.Error().Err(err).
				Str(xlog.FieldEvent, ev.Name).
				Float64(xlog.FieldSimTime, ev.Time).
				Msg("simulation aborted")
			return fmt.Errorf("t=%.3f %s: %w", ev.Time, ev.Name, err)
		}
	}
	return nil
}

func (sim *Simulation) pendingDepartures() bool {
	for _, t := range sim.trains {
		if t.state == nil {
			return true
		}
	}
	return false
}

// apply validates and applies c, then publishes it. A change that fails to
// apply is not published.
func (sim *Simulation) apply(c change) error {
	if err := c.apply(sim); err != nil {
		return err
	}
	sim.log.Publish(sim.queue.Now(), c)
	return nil
}

func (sim *Simulation) trainEvent(t *Train, at float64, name string, fn func() error) error {
	gen := t.generation
	_, err := sim.queue.Schedule(at, name, func() error {
		if gen != t.generation || t.finished() {
			return nil
		}
		return fn()
	})
	return err
}

func (sim *Simulation) scheduleDeparture(t *Train, at float64) error {
	return sim.trainEvent(t, at, "train_departure:"+t.Name, func() error { return sim.depart(t) })
}

// depart puts t on the network once the first route of its journey is free,
// retrying after the stall poll interval otherwise.
func (sim *Simulation) depart(t *Train) error {
	now := sim.queue.Now()
	ph := t.Phases[0]
	first := ph.Routes[ph.StartRoute]
	behind, tails := ph.startBody(sim.graph, t.RollingStock.Length, sim.lookup)
	if !sim.infra.IsRouteFree(first, t.Name) || !sim.sectionsFree(behind, t.Name) {
		sim.logger.Info().
			Str(xlog.FieldTrain, t.Name).
			Str("route", first.ID).
			Float64(xlog.FieldSimTime, now).
			Msg("departure held, first route occupied")
		return sim.scheduleDeparture(t, now+sim.cfg.StallPollInterval)
	}

	st := &TrainState{
		Time:        now,
		Status:      service.StatusStartingUp,
		RouteIndex:  ph.StartRoute,
		UnderTrain:  tails,
		Controllers: ph.staticControllers(t.RollingStock),
	}
	c := &TrainCreatedChange{Train: t.Name, State: t.snapshot(st), train: t, next: st}
	if err := sim.apply(c); err != nil {
		return err
	}
	sim.logger.Info().
		Str(xlog.FieldTrain, t.Name).
		Float64(xlog.FieldSimTime, now).
		Str(xlog.FieldPosition, c.State.Location.String()).
		Str(xlog.FieldStatus, string(st.Status)).
		Msg("train departed")

	for _, index := range append(behind, ph.startSection) {
		if err := sim.occupy(t, index); err != nil {
			return err
		}
	}
	return sim.step(t)
}

func (sim *Simulation) sectionsFree(indexes []int, train string) bool {
	for _, i := range indexes {
		if s := sim.infra.TVDSection(i); s.Status == infrastate.Occupied && s.Holder != train {
			return false
		}
	}
	return true
}

// step plans the next event of t from its committed state.
func (sim *Simulation) step(t *Train) error {
	for !t.finished() {
		p, err := t.simulate(sim)
		if err != nil {
			return err
		}
		if p != nil {
			return sim.schedulePlan(t, p)
		}

		ended := t.phase()
		if err := sim.apply(newPhaseAdvance(t, sim.queue.Now())); err != nil {
			return err
		}
		if t.finished() {
			sim.logger.Info().
				Str(xlog.FieldTrain, t.Name).
				Float64(xlog.FieldSimTime, t.arrival).
				Msg("train reached destination")
			return nil
		}
		if ended.Dwell > 0 {
			return sim.trainEvent(t, sim.queue.Now()+ended.Dwell, "train_dwell_end:"+t.Name, func() error {
				return sim.step(t)
			})
		}
	}
	return nil
}

func (sim *Simulation) schedulePlan(t *Train, p *plan) error {
	if err := sim.trainEvent(t, p.next.Time, t.eventName(p), func() error { return sim.fire(t, p) }); err != nil {
		return err
	}
	t.pending = p
	return nil
}

// fire publishes a planned state and runs the interaction it reached.
func (sim *Simulation) fire(t *Train, p *plan) error {
	t.pending = nil
	c := &TrainStateChange{Train: t.Name, State: t.snapshot(p.next), train: t, next: p.next}
	if err := sim.apply(c); err != nil {
		return err
	}
	if p.reached != nil {
		if err := p.reached.Point.Interact(sim, t, p.reached.Type); err != nil {
			return err
		}
	}
	return sim.step(t)
}

// replan cuts the pending plan of t at the current time and plans again from
// there. It does nothing for a train without a pending plan.
func (sim *Simulation) replan(t *Train) error {
	p := t.pending
	if p == nil {
		return nil
	}
	t.generation++
	t.pending = nil

	now := sim.queue.Now()
	if now > t.state.Time {
		at := p.at(now)
		st := t.state.clone()
		st.Time, st.Position, st.Speed, st.Status = now, at.position, at.speed, at.status
		c := &TrainStateChange{Train: t.Name, State: t.snapshot(st), train: t, next: st}
		if err := sim.apply(c); err != nil {
			return err
		}
		sim.logger.Debug().
			Str(xlog.FieldTrain, t.Name).
			Float64(xlog.FieldSimTime, now).
			Float64(xlog.FieldSpeed, st.Speed).
			Str(xlog.FieldStatus, string(st.Status)).
			Msg("plan cut")
	}
	return sim.step(t)
}

// occupy grants the TVD section with the given index to t. Holding it already
// is not a change.
func (sim *Simulation) occupy(t *Train, index int) error {
	if s := sim.infra.TVDSection(index); s.Status == infrastate.Occupied && s.Holder == t.Name {
		return nil
	}
	c := &TVDOccupyChange{Section: sim.graph.TVDSection(index).ID, Train: t.Name, index: index}
	if err := sim.apply(c); err != nil {
		var conflict *infrastate.OccupancyConflictError
		if errors.As(err, &conflict) {
			sim.logger.Warn().
				Str(xlog.FieldTrain, t.Name).
				Str(xlog.FieldTVDSection, c.Section).
				Str("holder", conflict.Holder).
				Float64(xlog.FieldSimTime, sim.queue.Now()).
				Msg("tvd section conflict")
		}
		return err
	}
	return sim.refreshSignals(index)
}

// release frees the TVD section with the given index held by t.
func (sim *Simulation) release(t *Train, index int) error {
	c := &TVDUnoccupyChange{Section: sim.graph.TVDSection(index).ID, Train: t.Name, index: index}
	if err := sim.apply(c); err != nil {
		return err
	}
	return sim.refreshSignals(index)
}

// refreshSignals re-evaluates the signals guarding a TVD section and makes the
// trains watching a signal whose aspect changed react to it.
func (sim *Simulation) refreshSignals(index int) error {
	for _, sig := range sim.graph.SignalsGuarding(index) {
		aspect := sim.infra.EvaluateAspect(sig.Index)
		state := sim.infra.Signal(sig.Index)
		if aspect == state.Aspect {
			continue
		}
		if err := sim.apply(&SignalAspectChange{Signal: sig.ID, Aspect: aspect, index: sig.Index}); err != nil {
			return err
		}
		sim.logger.Debug().
			Str(xlog.FieldSignal, sig.ID).
			Str(xlog.FieldAspect, aspect).
			Float64(xlog.FieldSimTime, sim.queue.Now()).
			Msg("aspect changed")
		for _, name := range state.Watchers {
			w := sim.byName[name]
			if err := w.setAspectConstraints(sim, sig); err != nil {
				return err
			}
			if err := sim.replan(w); err != nil {
				return err
			}
		}
	}
	return nil
}
