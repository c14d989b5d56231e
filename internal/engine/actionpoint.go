package engine

import (
	"fmt"

	"github.com/cxd309/railsim/internal/graph"
)

// InteractionType says which part of the train meets an action point.
type InteractionType int

const (
	Head InteractionType = iota // the head reaches the point
	Seen                        // the driver sees the point
	Tail                        // the tail clears the point
)

func (t InteractionType) String() string {
	switch t {
	case Head:
		return "head"
	case Seen:
		return "seen"
	case Tail:
		return "tail"
	}
	return fmt.Sprintf("interaction(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t InteractionType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// InteractionTypeSet is the set of interactions an action point accepts.
type InteractionTypeSet uint8

// NewInteractionTypeSet returns the set of the given types.
func NewInteractionTypeSet(types ...InteractionType) InteractionTypeSet {
	var s InteractionTypeSet
	for _, t := range types {
		s |= 1 << t
	}
	return s
}

// Has reports whether t is in the set.
func (s InteractionTypeSet) Has(t InteractionType) bool { return s&(1<<t) != 0 }

// ActionPoint is anything a train interacts with along its path.
// Interact runs inside the dispatch loop and must only mutate state through
// the simulation's changes.
type ActionPoint interface {
	InteractionTypes() InteractionTypeSet
	ActionDistance() float64
	Interact(sim *Simulation, train *Train, kind InteractionType) error
	String() string
}

// Detector occupies the TVD section ahead when the head passes and frees the
// one behind when the tail clears.
type Detector struct {
	Waypoint *graph.Waypoint
}

func (d *Detector) InteractionTypes() InteractionTypeSet { return NewInteractionTypeSet(Head, Tail) }
func (d *Detector) ActionDistance() float64              { return 0 }
func (d *Detector) String() string                       { return "Detector{" + d.Waypoint.ID + "}" }

func (d *Detector) Interact(sim *Simulation, train *Train, kind InteractionType) error {
	return train.updateTVDSections(sim, d.Waypoint, kind)
}

// BufferStop ends a track. Trains never interact with it.
type BufferStop struct {
	Waypoint *graph.Waypoint
}

func (b *BufferStop) InteractionTypes() InteractionTypeSet { return 0 }
func (b *BufferStop) ActionDistance() float64              { return 0 }
func (b *BufferStop) String() string                       { return "BufferStop{" + b.Waypoint.ID + "}" }

func (b *BufferStop) Interact(*Simulation, *Train, InteractionType) error { return nil }

// SignalPoint is a lineside signal. When seen, the train starts obeying its
// aspect; once the head passes it, later aspect changes no longer apply.
type SignalPoint struct {
	Signal *graph.Signal
}

func (s *SignalPoint) InteractionTypes() InteractionTypeSet { return NewInteractionTypeSet(Head, Seen) }
func (s *SignalPoint) ActionDistance() float64              { return s.Signal.SightDistance }
func (s *SignalPoint) String() string                       { return "Signal{" + s.Signal.ID + "}" }

func (s *SignalPoint) Interact(sim *Simulation, train *Train, kind InteractionType) error {
	switch kind {
	case Seen:
		if err := sim.apply(&SignalWatchChange{Signal: s.Signal.ID, Train: train.Name, Watch: true, index: s.Signal.Index}); err != nil {
			return err
		}
		return train.setAspectConstraints(sim, s.Signal)
	case Head:
		return sim.apply(&SignalWatchChange{Signal: s.Signal.ID, Train: train.Name, Watch: false, index: s.Signal.Index})
	}
	return nil
}

// VirtualActionPoint terminates an interaction path that does not end on a
// real action point.
type VirtualActionPoint struct{}

func (VirtualActionPoint) InteractionTypes() InteractionTypeSet                 { return 0 }
func (VirtualActionPoint) ActionDistance() float64                              { return 0 }
func (VirtualActionPoint) String() string                                       { return "VirtualActionPoint{}" }
func (VirtualActionPoint) Interact(*Simulation, *Train, InteractionType) error { return nil }
