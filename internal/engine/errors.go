package engine

import (
	"errors"
	"fmt"

	"github.com/cxd309/railsim/internal/service"
)

var (
	// ErrTopology means a planned path does not match the routes it was built from.
	ErrTopology = errors.New("topology inconsistency")
	// ErrInvalidState means a train reached a lifecycle state the engine does not know.
	ErrInvalidState = errors.New("invalid train state")
	// ErrInvalidPath means an interaction path could not be built.
	ErrInvalidPath = errors.New("invalid path")
	// ErrTimeLimit means the run was stopped at the configured simulated time limit.
	ErrTimeLimit = errors.New("simulated time limit exceeded")
)

// TopologyError reports a waypoint that cannot be matched to a TVD section path
// of the routes a train is following.
type TopologyError struct {
	Train    string
	Waypoint string
	Time     float64
	Reason   string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("t=%.3f: train %q at waypoint %q: %s", e.Time, e.Train, e.Waypoint, e.Reason)
}

func (e *TopologyError) Is(target error) bool { return target == ErrTopology }

// InvalidStateError reports an unknown train status.
type InvalidStateError struct {
	Train  string
	Status service.TrainStatus
	Time   float64
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("t=%.3f: train %q in unknown state %q", e.Time, e.Train, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
