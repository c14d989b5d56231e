package engine

import (
	"fmt"
	"math"

	"github.com/cxd309/railsim/internal/graph"
	"github.com/cxd309/railsim/internal/kinematics"
	"github.com/cxd309/railsim/internal/speedcontrol"
)

// Phase is the immutable plan of one leg of a journey: the routes followed,
// the track ranges they cover between the start and end locations, and the
// interactions met along the way.
type Phase struct {
	Routes       []*graph.Route
	End          graph.Position
	Segments     []graph.Segment
	Interactions []Interaction
	Length       float64
	Dwell        float64
	// StartRoute is the index of the route the phase starts on.
	StartRoute   int

	startSection int       // TVD section index holding the start location
	segmentStart []float64 // path position of each segment start
	grades       []float64 // grade of each segment's edge, ‰
	speedLimits  []float64 // static limit of each segment's edge, +Inf if none
}

// NewPhase builds the plan of a phase running routes from start to end.
func NewPhase(g *graph.Graph, routes []*graph.Route, sightDistance float64, start, end graph.Position, lookup PointLookup) (*Phase, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: phase without routes", ErrInvalidPath)
	}
	segments, err := graph.RoutesToSegments(routes, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	startRoute, startPath, err := g.LocateOnRoutes(routes, start)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	interactions, length, err := BuildInteractionPath(segments, sightDistance, lookup)
	if err != nil {
		return nil, err
	}

	p := &Phase{
		Routes:       routes,
		End:          end,
		Segments:     segments,
		Interactions: interactions,
		Length:       length,
		StartRoute:   startRoute,
		startSection: startPath.SectionIndex(),
	}
	var pos float64
	for _, s := range segments {
		e, err := g.GetEdgeByID(s.Edge)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		limit := math.Inf(1)
		if e.SpeedLimit != nil {
			limit = *e.SpeedLimit
		}
		p.segmentStart = append(p.segmentStart, pos)
		p.grades = append(p.grades, e.Grade)
		p.speedLimits = append(p.speedLimits, limit)
		pos += s.Length()
	}
	return p, nil
}

// startBody returns the TVD sections a train of the given length covers
// behind its start section, rearmost first, with the tail interactions that
// will free them.
func (p *Phase) startBody(g *graph.Graph, length float64, lookup PointLookup) ([]int, []Interaction) {
	var base float64
	for _, r := range p.Routes[:p.StartRoute] {
		base += r.Length()
	}
	at, ok := p.Routes[p.StartRoute].Offset(p.Segments[0].Edge, p.Segments[0].Start)
	if !ok {
		return nil, nil
	}
	start := base + at

	var (
		sections []int
		tails    []Interaction
	)
	base = 0
	for _, r := range p.Routes[:p.StartRoute+1] {
		for _, path := range r.TVDSectionPaths {
			w := g.Waypoint(path.EndNode())
			off, ok := r.Offset(w.Edge, w.Offset)
			if !ok || w.Kind != graph.WaypointDetector {
				continue
			}
			if pos := base + off; pos < start && pos > start-length {
				for _, pp := range lookup(w.Edge) {
					if d, ok := pp.Point.(*Detector); ok && d.Waypoint == w {
						sections = append(sections, path.SectionIndex())
						tails = append(tails, Interaction{Type: Tail, Position: pos - start + length, Point: d})
						break
					}
				}
			}
		}
		base += r.Length()
	}
	return sections, tails
}

// Locate converts a path position into a position on the graph. Positions
// outside the path are clamped to its ends.
func (p *Phase) Locate(pos float64) graph.Position {
	if len(p.Segments) == 0 {
		return graph.Position{}
	}
	for i := len(p.Segments) - 1; i >= 0; i-- {
		if pos >= p.segmentStart[i] || i == 0 {
			s := p.Segments[i]
			off := s.Start + math.Max(0, pos-p.segmentStart[i])
			return graph.Position{Edge: s.Edge, DistanceAlongEdge: math.Min(off, s.End)}
		}
	}
	return graph.Position{}
}

// MaxGrade returns the steepest grade of the segments overlapping [from, to].
func (p *Phase) MaxGrade(from, to float64) float64 {
	grade := math.Inf(-1)
	for i, start := range p.segmentStart {
		end := start + p.Segments[i].Length()
		if end < from || start > to {
			continue
		}
		grade = math.Max(grade, p.grades[i])
	}
	if math.IsInf(grade, -1) {
		return 0
	}
	return grade
}

// signalPosition returns the path position of the first head interaction with
// sig at or after from.
func (p *Phase) signalPosition(sig *graph.Signal, from float64) (float64, bool) {
	for _, it := range p.Interactions {
		sp, ok := it.Point.(*SignalPoint)
		if ok && it.Type == Head && sp.Signal == sig && it.Position >= from {
			return it.Position, true
		}
	}
	return 0, false
}

// nextSignalPosition returns the path position of the first signal after pos,
// or the path length when there is none.
func (p *Phase) nextSignalPosition(pos float64) float64 {
	for _, it := range p.Interactions {
		if _, ok := it.Point.(*SignalPoint); ok && it.Type == Head && it.Position > pos {
			return it.Position
		}
	}
	return p.Length
}

// resolve converts an aspect constraint bound into a path position.
func (p *Phase) resolve(cp graph.ConstraintPosition, signalPos float64) float64 {
	switch cp.Element {
	case graph.ElementCurrentSignal:
		return signalPos + cp.Offset
	case graph.ElementNextSignal:
		return p.nextSignalPosition(signalPos) + cp.Offset
	}
	return p.Length + cp.Offset
}

// staticControllers returns the controllers a train starts the phase with:
// default traction, the rolling stock max speed, edge speed limits and the
// stop at the end of the path.
func (p *Phase) staticControllers(rs kinematics.RollingStock) []speedcontrol.Controller {
	controllers := []speedcontrol.Controller{
		speedcontrol.AccelerateController{},
		speedcontrol.NewMaxSpeedController(rs.MaxSpeed, math.Inf(-1), math.Inf(1)),
	}
	for i, limit := range p.speedLimits {
		if math.IsInf(limit, 1) || limit >= rs.MaxSpeed {
			continue
		}
		begin := p.segmentStart[i]
		end := begin + p.Segments[i].Length()
		controllers = append(controllers, speedcontrol.FromSpeedLimit(rs.MaxSpeed, limit, begin, end, rs.TimetableGamma)...)
	}
	controllers = append(controllers, speedcontrol.FromSpeedLimit(rs.MaxSpeed, 0, p.Length, math.Inf(1), rs.TimetableGamma)...)
	return controllers
}
