package infrastate

import (
	"errors"
	"fmt"
)

var (
	// ErrOccupied is matched by OccupancyConflictError.
	ErrOccupied = errors.New("tvd section already occupied")
	// ErrInconsistent is matched by InconsistentStateError.
	ErrInconsistent = errors.New("inconsistent tvd section state")
)

// OccupancyConflictError reports a train asking for a section held by another.
type OccupancyConflictError struct {
	Section   string
	Holder    string
	Requester string
	Time      float64
}

func (e *OccupancyConflictError) Error() string {
	return fmt.Sprintf("t=%.3f: train %q cannot occupy tvd section %q held by train %q",
		e.Time, e.Requester, e.Section, e.Holder)
}

func (e *OccupancyConflictError) Is(target error) bool { return target == ErrOccupied }

// InconsistentStateError reports a release that does not match the holder.
type InconsistentStateError struct {
	Section string
	Holder  string // empty when the section is free
	Train   string
	Time    float64
}

func (e *InconsistentStateError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("t=%.3f: train %q released free tvd section %q", e.Time, e.Train, e.Section)
	}
	return fmt.Sprintf("t=%.3f: train %q released tvd section %q held by train %q",
		e.Time, e.Train, e.Section, e.Holder)
}

func (e *InconsistentStateError) Is(target error) bool { return target == ErrInconsistent }
