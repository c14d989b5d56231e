package engine

import (
	"fmt"
	"math"
	"slices"

	"github.com/cxd309/railsim/internal/graph"
)

// Interaction is a reaction of the train to an action point at a path position.
type Interaction struct {
	Type     InteractionType
	Position float64
	Point    ActionPoint
}

func (i Interaction) String() string {
	return fmt.Sprintf("%s@%.1f %s", i.Type, i.Position, i.Point)
}

// PlacedPoint is an action point at an offset along an edge.
type PlacedPoint struct {
	Offset float64
	Point  ActionPoint
}

// PointLookup returns the action points of an edge sorted by offset.
type PointLookup func(edge graph.EdgeID) []PlacedPoint

// BuildInteractionPath projects the action points met along segments onto the
// path and returns the interactions sorted by position, with the path length.
// Position ties keep the order of the segments and of the points within them.
// The last interaction always lies at or beyond the path length; a virtual
// point is appended when needed.
//
// A point sitting on the join of two consecutive segments of the same edge is
// only taken once.
func BuildInteractionPath(segments []graph.Segment, sightDistance float64, lookup PointLookup) ([]Interaction, float64, error) {
	if !(sightDistance > 0) || math.IsInf(sightDistance, 0) {
		return nil, 0, fmt.Errorf("%w: sight distance %v must be a positive number", ErrInvalidPath, sightDistance)
	}

	var (
		path       []Interaction
		pathLength float64
	)
	for i, seg := range segments {
		if math.IsNaN(seg.Start) || math.IsNaN(seg.End) || math.IsInf(seg.Start, 0) || math.IsInf(seg.End, 0) || seg.End < seg.Start {
			return nil, 0, fmt.Errorf("%w: segment %d on edge %q has bounds [%v, %v]", ErrInvalidPath, i, seg.Edge, seg.Start, seg.End)
		}
		joined := i > 0 && segments[i-1].Edge == seg.Edge && segments[i-1].End == seg.Start
		for _, p := range lookup(seg.Edge) {
			if math.IsNaN(p.Offset) {
				return nil, 0, fmt.Errorf("%w: %s on edge %q has no position", ErrInvalidPath, p.Point, seg.Edge)
			}
			if !seg.Contains(p.Offset) || (joined && p.Offset == seg.Start) {
				continue
			}
			types := p.Point.InteractionTypes()
			pos := pathLength + p.Offset - seg.Start
			if types.Has(Head) {
				path = append(path, Interaction{Type: Head, Position: pos, Point: p.Point})
			}
			if types.Has(Seen) {
				seen := math.Max(0, pos-math.Min(p.Point.ActionDistance(), sightDistance))
				if math.IsNaN(seen) {
					return nil, 0, fmt.Errorf("%w: %s has no action distance", ErrInvalidPath, p.Point)
				}
				path = append(path, Interaction{Type: Seen, Position: seen, Point: p.Point})
			}
		}
		pathLength += seg.Length()
	}

	slices.SortStableFunc(path, func(a, b Interaction) int {
		switch {
		case a.Position < b.Position:
			return -1
		case a.Position > b.Position:
			return 1
		}
		return 0
	})

	if len(path) == 0 || path[len(path)-1].Position < pathLength {
		path = append(path, Interaction{Type: Head, Position: pathLength, Point: VirtualActionPoint{}})
	}
	return path, pathLength, nil
}
