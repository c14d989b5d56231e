package engine

import (
	"fmt"
	"slices"

	"github.com/cxd309/railsim/internal/graph"
	"github.com/cxd309/railsim/internal/service"
	"github.com/cxd309/railsim/internal/timeline"
)

// Change kinds as they appear in the output timeline.
const (
	KindTrainCreated = "train_created"
	KindTrainState   = "train_state"
	KindRouteAdvance = "route_advance"
	KindTVDOccupy    = "tvd_occupy"
	KindTVDUnoccupy  = "tvd_unoccupy"
	KindSignalAspect = "signal_aspect"
	KindSignalWatch  = "signal_watch"
	KindPhaseAdvance = "phase_advance"
)

// change is a timeline change the simulation can apply to its own state.
// apply validates first and leaves the state untouched when it fails.
type change interface {
	timeline.Change
	apply(sim *Simulation) error
}

// TrainSnapshot is the published form of a TrainState.
type TrainSnapshot struct {
	Time       float64             `json:"time"`
	Position   float64             `json:"path_position"`
	Location   graph.Position      `json:"location"`
	Speed      float64             `json:"speed"`
	Status     service.TrainStatus `json:"status"`
	Phase      int                 `json:"phase"`
	RouteIndex int                 `json:"route_index"`
	Cursor     int                 `json:"interaction_cursor"`
	UnderTrain []float64           `json:"under_train,omitempty"`
}

// TrainCreatedChange puts a train on the network in its first phase.
type TrainCreatedChange struct {
	Train string        `json:"train"`
	State TrainSnapshot `json:"state"`

	train *Train
	next  *TrainState
}

func (c *TrainCreatedChange) Kind() string { return KindTrainCreated }
func (c *TrainCreatedChange) String() string {
	return fmt.Sprintf("train %s created at %s", c.Train, c.State.Location)
}

func (c *TrainCreatedChange) apply(sim *Simulation) error {
	if c.train.state != nil {
		return fmt.Errorf("train %q created twice", c.Train)
	}
	c.train.state = c.next
	sim.active++
	return nil
}

// TrainStateChange replaces the state of a train by the next one.
type TrainStateChange struct {
	Train string        `json:"train"`
	State TrainSnapshot `json:"state"`

	train *Train
	next  *TrainState
}

func (c *TrainStateChange) Kind() string { return KindTrainState }
func (c *TrainStateChange) String() string {
	return fmt.Sprintf("train %s %s at %.1f m, %.2f m/s", c.Train, c.State.Status, c.State.Position, c.State.Speed)
}

func (c *TrainStateChange) apply(*Simulation) error {
	cur := c.train.state
	if c.next.Time < cur.Time || c.next.Speed < 0 || c.next.Cursor < cur.Cursor {
		return fmt.Errorf("train %q: state at t=%.3f cannot follow state at t=%.3f", c.Train, c.next.Time, cur.Time)
	}
	c.train.state = c.next
	return nil
}

// RouteAdvanceChange moves a train onto the next route of its phase.
// Route is empty once the train is past the last route.
type RouteAdvanceChange struct {
	Train      string        `json:"train"`
	Route      graph.RouteID `json:"route,omitempty"`
	RouteIndex int           `json:"route_index"`

	train *Train
}

func (c *RouteAdvanceChange) Kind() string { return KindRouteAdvance }
func (c *RouteAdvanceChange) String() string {
	return fmt.Sprintf("train %s on route %d %s", c.Train, c.RouteIndex, c.Route)
}

func (c *RouteAdvanceChange) apply(*Simulation) error {
	if c.RouteIndex != c.train.state.RouteIndex+1 {
		return fmt.Errorf("train %q: route index %d does not follow %d", c.Train, c.RouteIndex, c.train.state.RouteIndex)
	}
	st := c.train.state.clone()
	st.RouteIndex = c.RouteIndex
	c.train.state = st
	return nil
}

// TVDOccupyChange grants a TVD section to a train.
type TVDOccupyChange struct {
	Section graph.TVDSectionID `json:"tvd_section"`
	Train   string             `json:"train"`

	index int
}

func (c *TVDOccupyChange) Kind() string   { return KindTVDOccupy }
func (c *TVDOccupyChange) String() string { return fmt.Sprintf("%s occupied by %s", c.Section, c.Train) }

func (c *TVDOccupyChange) apply(sim *Simulation) error {
	return sim.infra.Occupy(c.index, c.Train, sim.queue.Now())
}

// TVDUnoccupyChange releases a TVD section held by a train.
type TVDUnoccupyChange struct {
	Section graph.TVDSectionID `json:"tvd_section"`
	Train   string             `json:"train"`

	index int
}

func (c *TVDUnoccupyChange) Kind() string   { return KindTVDUnoccupy }
func (c *TVDUnoccupyChange) String() string { return fmt.Sprintf("%s freed by %s", c.Section, c.Train) }

func (c *TVDUnoccupyChange) apply(sim *Simulation) error {
	return sim.infra.Unoccupy(c.index, c.Train, sim.queue.Now())
}

// SignalAspectChange sets the aspect displayed by a signal.
type SignalAspectChange struct {
	Signal graph.SignalID `json:"signal"`
	Aspect graph.AspectID `json:"aspect"`

	index int
}

func (c *SignalAspectChange) Kind() string   { return KindSignalAspect }
func (c *SignalAspectChange) String() string { return fmt.Sprintf("%s shows %s", c.Signal, c.Aspect) }

func (c *SignalAspectChange) apply(sim *Simulation) error {
	if _, err := sim.graph.Aspect(c.Aspect); err != nil {
		return fmt.Errorf("signal %q: %w", c.Signal, err)
	}
	sim.infra.SetAspect(c.index, c.Aspect)
	return nil
}

// SignalWatchChange starts or stops the reaction of a train to a signal.
type SignalWatchChange struct {
	Signal graph.SignalID `json:"signal"`
	Train  string         `json:"train"`
	Watch  bool           `json:"watch"`

	index int
}

func (c *SignalWatchChange) Kind() string { return KindSignalWatch }
func (c *SignalWatchChange) String() string {
	if c.Watch {
		return fmt.Sprintf("%s watches %s", c.Train, c.Signal)
	}
	return fmt.Sprintf("%s passed %s", c.Train, c.Signal)
}

func (c *SignalWatchChange) apply(sim *Simulation) error {
	if c.Watch {
		sim.infra.Watch(c.index, c.Train)
	} else {
		sim.infra.Unwatch(c.index, c.Train)
	}
	return nil
}

// PhaseAdvanceChange ends the current phase of a train. The train either
// starts its next phase or, after the last one, reaches its destination.
type PhaseAdvanceChange struct {
	Train       string        `json:"train"`
	Phase       int           `json:"phase"`
	Destination bool          `json:"destination"`
	State       TrainSnapshot `json:"state"`

	train *Train
	next  *TrainState
}

func (c *PhaseAdvanceChange) Kind() string { return KindPhaseAdvance }
func (c *PhaseAdvanceChange) String() string {
	if c.Destination {
		return fmt.Sprintf("train %s reached its destination", c.Train)
	}
	return fmt.Sprintf("train %s starts phase %d", c.Train, c.Phase)
}

func (c *PhaseAdvanceChange) apply(sim *Simulation) error {
	t := c.train
	if t.finished() {
		return fmt.Errorf("train %q already reached its destination", c.Train)
	}
	for _, sc := range t.signals {
		sim.infra.Unwatch(sc.signal.Index, t.Name)
	}
	t.signals = nil
	t.state = c.next
	if c.Destination {
		sim.active--
		t.arrival = c.next.Time
	}
	return nil
}

// newPhaseAdvance computes the state of t once its current phase has ended.
func newPhaseAdvance(t *Train, now float64) *PhaseAdvanceChange {
	cur := t.state
	next := cur.clone()
	next.Time = now
	next.Speed = 0
	c := &PhaseAdvanceChange{Train: t.Name, train: t, next: next}
	if cur.PhaseIndex+1 >= len(t.Phases) {
		next.Status = service.StatusReachedDestination
		c.Destination = true
		c.Phase = cur.PhaseIndex
	} else {
		old := t.Phases[cur.PhaseIndex]
		ph := t.Phases[cur.PhaseIndex+1]
		next.PhaseIndex++
		next.Position = 0
		next.RouteIndex = ph.StartRoute
		next.Cursor = 0
		next.Status = service.StatusStartingUp
		next.Controllers = ph.staticControllers(t.RollingStock)
		next.UnderTrain = slices.Clone(cur.UnderTrain)
		for i := range next.UnderTrain {
			next.UnderTrain[i].Position -= old.Length
		}
		c.Phase = next.PhaseIndex
	}
	c.State = t.snapshot(next)
	return c
}

var (
	_ change = (*TrainCreatedChange)(nil)
	_ change = (*TrainStateChange)(nil)
	_ change = (*RouteAdvanceChange)(nil)
	_ change = (*TVDOccupyChange)(nil)
	_ change = (*TVDUnoccupyChange)(nil)
	_ change = (*SignalAspectChange)(nil)
	_ change = (*SignalWatchChange)(nil)
	_ change = (*PhaseAdvanceChange)(nil)
)
