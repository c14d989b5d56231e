// Package infrastate tracks the mutable state of the infrastructure: which
// train holds each TVD section and which aspect each signal displays.
package infrastate

import (
	"slices"

	"github.com/cxd309/railsim/internal/graph"
)

// Status of a TVD section.
type Status string

const (
	Free     Status = "free"
	Occupied Status = "occupied"
)

// TVDSectionState is the occupancy of one TVD section.
type TVDSectionState struct {
	Section *graph.TVDSection
	Status  Status
	Holder  string // train name, empty when free
}

// SignalState is the displayed aspect of a signal and the trains currently
// reacting to it.
type SignalState struct {
	Signal   *graph.Signal
	Aspect   graph.AspectID
	Watchers []string
}

// State owns every TVD section and signal state, indexed like the graph.
// It is mutated only from the dispatch loop.
type State struct {
	g           *graph.Graph
	tvdSections []TVDSectionState
	signals     []SignalState
}

// New returns a State with every section free and every signal showing the
// aspect its protected routes call for.
func New(g *graph.Graph) *State {
	s := &State{g: g}
	for _, t := range g.TVDSections() {
		s.tvdSections = append(s.tvdSections, TVDSectionState{Section: t, Status: Free})
	}
	for _, sig := range g.Signals() {
		s.signals = append(s.signals, SignalState{Signal: sig})
	}
	for i := range s.signals {
		s.signals[i].Aspect = s.EvaluateAspect(i)
	}
	return s
}

// TVDSection returns the state of the section with the given index.
func (s *State) TVDSection(index int) TVDSectionState { return s.tvdSections[index] }

// Occupy marks a section as held by train. Asking again for a section the train
// already holds is a no-op.
func (s *State) Occupy(index int, train string, now float64) error {
	t := &s.tvdSections[index]
	switch {
	case t.Status == Free:
		t.Status, t.Holder = Occupied, train
		return nil
	case t.Holder == train:
		return nil
	}
	return &OccupancyConflictError{Section: t.Section.ID, Holder: t.Holder, Requester: train, Time: now}
}

// Unoccupy frees a section held by train.
func (s *State) Unoccupy(index int, train string, now float64) error {
	t := &s.tvdSections[index]
	if t.Status != Occupied || t.Holder != train {
		return &InconsistentStateError{Section: t.Section.ID, Holder: t.Holder, Train: train, Time: now}
	}
	t.Status, t.Holder = Free, ""
	return nil
}

// IsRouteFree reports whether every TVD section of route is free or held by except.
func (s *State) IsRouteFree(route *graph.Route, except string) bool {
	for _, p := range route.TVDSectionPaths {
		t := s.tvdSections[p.SectionIndex()]
		if t.Status == Occupied && (except == "" || t.Holder != except) {
			return false
		}
	}
	return true
}

// Signal returns the state of the signal with the given index.
func (s *State) Signal(index int) SignalState {
	st := s.signals[index]
	st.Watchers = slices.Clone(st.Watchers)
	return st
}

// EvaluateAspect returns the aspect signal index should display: its stop
// aspect when any route it protects is not free, its clear aspect otherwise.
func (s *State) EvaluateAspect(index int) graph.AspectID {
	sig := s.signals[index].Signal
	for _, r := range s.g.RoutesProtectedBy(sig.ID) {
		if !s.IsRouteFree(r, "") {
			return sig.StopAspect
		}
	}
	return sig.ClearAspect
}

// SetAspect records the displayed aspect of a signal and reports whether it changed.
func (s *State) SetAspect(index int, aspect graph.AspectID) bool {
	sig := &s.signals[index]
	if sig.Aspect == aspect {
		return false
	}
	sig.Aspect = aspect
	return true
}

// Watch registers train as reacting to the signal. Watching twice is a no-op.
func (s *State) Watch(index int, train string) {
	sig := &s.signals[index]
	if !slices.Contains(sig.Watchers, train) {
		sig.Watchers = append(sig.Watchers, train)
	}
}

// Unwatch removes train from the signal's watchers.
func (s *State) Unwatch(index int, train string) {
	sig := &s.signals[index]
	sig.Watchers = slices.DeleteFunc(sig.Watchers, func(w string) bool { return w == train })
}

// OccupiedBy returns the indexes of the sections held by train, in index order.
func (s *State) OccupiedBy(train string) []int {
	var out []int
	for i, t := range s.tvdSections {
		if t.Status == Occupied && t.Holder == train {
			out = append(out, i)
		}
	}
	return out
}
