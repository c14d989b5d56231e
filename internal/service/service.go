// Package service defines the train schedules fed to the simulator: the
// vehicle each train runs with, when it departs and the phases it travels.
package service

import (
	"errors"
	"fmt"
	"math"

	"github.com/cxd309/railsim/internal/graph"
)

// ErrInvalidSchedule is wrapped by every schedule validation error.
var ErrInvalidSchedule = errors.New("invalid train schedule")

// TrainID is a unique string identifier for a train.
type TrainID = string

// TrainStatus is the lifecycle state of a simulated train.
type TrainStatus string

const (
	StatusStartingUp         TrainStatus = "starting_up"
	StatusRolling            TrainStatus = "rolling"
	StatusStop               TrainStatus = "stop"
	StatusEmergencyBraking   TrainStatus = "emergency_braking"
	StatusReachedDestination TrainStatus = "reached_destination"
)

// PhaseSpec is one leg of a journey. The routes are either listed explicitly
// or planned between the From and To waypoints. The train stops at End and
// dwells there before starting the next phase.
type PhaseSpec struct {
	Routes []graph.RouteID  `json:"routes,omitempty"`
	From   graph.WaypointID `json:"from,omitempty"`
	To     graph.WaypointID `json:"to,omitempty"`
	End    graph.Position   `json:"end"`
	Dwell  float64          `json:"dwell,omitempty"` // seconds
}

// TrainSchedule is the static definition of one train run.
type TrainSchedule struct {
	TrainID       TrainID        `json:"train_id"`
	DepartureTime float64        `json:"departure_time"` // seconds
	Start         graph.Position `json:"start"`
	Phases        []PhaseSpec    `json:"phases"`
	Vehicle       Vehicle        `json:"vehicle"`
}

// Validate checks the schedule for values the simulator cannot work with.
func (s TrainSchedule) Validate() error {
	if s.TrainID == "" {
		return fmt.Errorf("%w: empty train id", ErrInvalidSchedule)
	}
	if s.DepartureTime < 0 || math.IsNaN(s.DepartureTime) || math.IsInf(s.DepartureTime, 0) {
		return fmt.Errorf("%w: train %q: invalid departure time %v", ErrInvalidSchedule, s.TrainID, s.DepartureTime)
	}
	if len(s.Phases) == 0 {
		return fmt.Errorf("%w: train %q has no phases", ErrInvalidSchedule, s.TrainID)
	}
	for i, p := range s.Phases {
		if len(p.Routes) == 0 && (p.From == "" || p.To == "") {
			return fmt.Errorf("%w: train %q phase %d: needs routes or from/to waypoints", ErrInvalidSchedule, s.TrainID, i)
		}
		if p.Dwell < 0 || math.IsNaN(p.Dwell) {
			return fmt.Errorf("%w: train %q phase %d: invalid dwell %v", ErrInvalidSchedule, s.TrainID, i, p.Dwell)
		}
	}
	if err := s.Vehicle.RollingStock.Validate(); err != nil {
		return fmt.Errorf("train %q: %w", s.TrainID, err)
	}
	return nil
}

// ResolveRoutes returns the routes of phase p, asking the planner when the
// phase only names its end waypoints.
func ResolveRoutes(g *graph.Graph, p PhaseSpec) ([]*graph.Route, error) {
	if len(p.Routes) == 0 {
		routes, err := g.PlanRoutes(p.From, p.To)
		if err != nil {
			return nil, fmt.Errorf("planning routes: %w", err)
		}
		return routes, nil
	}
	routes := make([]*graph.Route, 0, len(p.Routes))
	for _, id := range p.Routes {
		r, err := g.Route(id)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, nil
}
