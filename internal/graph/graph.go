// Package graph provides the read-only infrastructure model of the signalled
// network: track sections, waypoints, signals, aspects, TVD sections and routes,
// together with a route planner over the route graph.
package graph

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// String aliases used as identifiers.
type (
	NodeID       = string
	EdgeID       = string
	PathID       = string
	WaypointID   = string
	SignalID     = string
	AspectID     = string
	TVDSectionID = string
	RouteID      = string
)

// ErrInvalidInfra is wrapped by every validation error returned from NewGraph.
var ErrInvalidInfra = errors.New("invalid infrastructure")

// NodeType classifies a node in the network.
type NodeType string

const (
	NodeTypeMain    NodeType = "main"
	NodeTypeStation NodeType = "station"
	NodeTypeSide    NodeType = "side"
)

// Coordinate is a 2D position in metres.
type Coordinate struct {
	X float64 `json:"x"` // metres
	Y float64 `json:"y"` // metres
}

// Node is a point in the network graph.
type Node struct {
	ID   NodeID     `json:"node_id"`
	Loc  Coordinate `json:"loc"`
	Type NodeType   `json:"type"`
}

// Edge is a directed track section between two nodes with a length in metres.
// SpeedLimit is optional: if nil the edge imposes no limit and the rolling
// stock's own max speed applies. Grade is in per mille, positive uphill.
type Edge struct {
	ID         EdgeID   `json:"edge_id"`
	U          NodeID   `json:"u"`
	V          NodeID   `json:"v"`
	Length     float64  `json:"length"`                // metres
	SpeedLimit *float64 `json:"speed_limit,omitempty"` // m/s; nil = no restriction
	Grade      float64  `json:"grade,omitempty"`       // ‰
}

// WaypointKind discriminates waypoints.
type WaypointKind string

const (
	WaypointDetector   WaypointKind = "detector"
	WaypointBufferStop WaypointKind = "buffer_stop"
)

// Waypoint is a detector or buffer stop placed on a track section.
// Index is dense and assigned in declaration order.
type Waypoint struct {
	ID     WaypointID   `json:"waypoint_id"`
	Kind   WaypointKind `json:"kind"`
	Edge   EdgeID       `json:"edge"`
	Offset float64      `json:"offset"` // metres along edge
	Index  int          `json:"-"`
}

// Signal is a lineside signal. SightDistance is the distance at which a driver
// sees it and reacts to its aspect.
type Signal struct {
	ID            SignalID `json:"signal_id"`
	Edge          EdgeID   `json:"edge"`
	Offset        float64  `json:"offset"`
	SightDistance float64  `json:"sight_distance"`
	ClearAspect   AspectID `json:"clear_aspect,omitempty"`
	StopAspect    AspectID `json:"stop_aspect,omitempty"`
	Index         int      `json:"-"`
}

// TVDSection is a track-vacancy-detection section, the unit of exclusive occupancy.
type TVDSection struct {
	ID    TVDSectionID `json:"tvd_section_id"`
	Index int          `json:"-"`
}

// Direction is the traversal direction of a TVD section path.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
)

// TVDSectionPath is the stretch of a TVD section between two waypoints, as
// crossed by a route in a given direction.
type TVDSectionPath struct {
	TVDSection TVDSectionID `json:"tvd_section"`
	Start      WaypointID   `json:"start"`
	End        WaypointID   `json:"end"`
	Direction  Direction    `json:"direction,omitempty"`

	sectionIndex int
	startIndex   int
	endIndex     int
}

// SectionIndex returns the index of the TVD section this path belongs to.
func (p TVDSectionPath) SectionIndex() int { return p.sectionIndex }

// StartNode returns the waypoint index the path is entered from, in its direction.
func (p TVDSectionPath) StartNode() int {
	if p.Direction == DirectionBackward {
		return p.endIndex
	}
	return p.startIndex
}

// EndNode returns the waypoint index the path is left through, in its direction.
func (p TVDSectionPath) EndNode() int {
	if p.Direction == DirectionBackward {
		return p.startIndex
	}
	return p.endIndex
}

// Route is an interlocking route: an ordered set of track ranges and the TVD
// section paths it passes through.
type Route struct {
	ID              RouteID          `json:"route_id"`
	Entry           WaypointID       `json:"entry"`
	Exit            WaypointID       `json:"exit"`
	EntrySignal     SignalID         `json:"entry_signal,omitempty"`
	Segments        []Segment        `json:"segments"`
	TVDSectionPaths []TVDSectionPath `json:"tvd_section_paths"`
}

// Length returns the total length of the route segments in metres.
func (r *Route) Length() float64 {
	var l float64
	for _, s := range r.Segments {
		l += s.Length()
	}
	return l
}

// Offset returns the distance along the route of a location on one of its
// segments. The first segment containing the location wins.
func (r *Route) Offset(edge EdgeID, distance float64) (float64, bool) {
	var pos float64
	for _, s := range r.Segments {
		if s.Edge == edge && s.Contains(distance) {
			return pos + distance - s.Start, true
		}
		pos += s.Length()
	}
	return 0, false
}

// GraphData is the serialisable input representation of the infrastructure.
type GraphData struct {
	Nodes       []Node       `json:"nodes"`
	Edges       []Edge       `json:"edges"`
	Waypoints   []Waypoint   `json:"waypoints"`
	Signals     []Signal     `json:"signals"`
	Aspects     []Aspect     `json:"aspects"`
	TVDSections []TVDSection `json:"tvd_sections"`
	Routes      []Route      `json:"routes"`
}

// Position is a point along a directed edge in the graph.
type Position struct {
	Edge              EdgeID  `json:"edge"`
	DistanceAlongEdge float64 `json:"distance_along_edge"` // metres
}

func (p Position) String() string { return fmt.Sprintf("%s@%.1f", p.Edge, p.DistanceAlongEdge) }

// Segment is a contiguous stretch of a single edge, defined by start and end distances.
type Segment struct {
	Edge  EdgeID  `json:"edge"`
	Start float64 `json:"start"` // metres along edge
	End   float64 `json:"end"`   // metres along edge
}

// Length returns the length of the segment in metres.
func (s Segment) Length() float64 { return s.End - s.Start }

// Contains reports whether offset lies within the segment, bounds included.
func (s Segment) Contains(offset float64) bool {
	return offset >= s.Start && offset <= s.End
}

// Interactable is a waypoint or signal located on an edge. Exactly one of
// Waypoint and Signal is set.
type Interactable struct {
	Offset   float64
	Waypoint *Waypoint
	Signal   *Signal
}

// Graph is the validated, indexed infrastructure.
type Graph struct {
	nodes       []Node
	edges       []Edge
	nodeMap     map[NodeID]Node
	edgeMap     map[EdgeID]Edge
	edgeByNodes map[NodeID]map[NodeID]Edge // u → v → edge

	waypoints   []*Waypoint
	waypointMap map[WaypointID]*Waypoint
	signals     []*Signal
	signalMap   map[SignalID]*Signal
	aspectMap   map[AspectID]*Aspect
	tvdSections []*TVDSection
	tvdMap      map[TVDSectionID]*TVDSection
	routes      []*Route
	routeMap    map[RouteID]*Route

	interactables map[EdgeID][]Interactable
	protects      map[SignalID][]*Route // signal → routes it is the entry signal of
	guardedBy     map[int][]*Signal     // tvd index → signals whose routes cross it

	// Floyd-Warshall tables over the route graph; nil until first needed.
	dist      map[WaypointID]map[WaypointID]float64
	nextRoute map[WaypointID]map[WaypointID]*Route
	// Plan cache; cleared whenever the tables are rebuilt.
	planCache map[PathID][]*Route
}

// NewGraph builds a Graph from GraphData, returning an error if any reference is invalid.
func NewGraph(data GraphData) (*Graph, error) {
	g := &Graph{
		nodeMap:       make(map[NodeID]Node),
		edgeMap:       make(map[EdgeID]Edge),
		edgeByNodes:   make(map[NodeID]map[NodeID]Edge),
		waypointMap:   make(map[WaypointID]*Waypoint),
		signalMap:     make(map[SignalID]*Signal),
		aspectMap:     make(map[AspectID]*Aspect),
		tvdMap:        make(map[TVDSectionID]*TVDSection),
		routeMap:      make(map[RouteID]*Route),
		interactables: make(map[EdgeID][]Interactable),
		protects:      make(map[SignalID][]*Route),
		guardedBy:     make(map[int][]*Signal),
		planCache:     make(map[PathID][]*Route),
	}
	for _, n := range data.Nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range data.Edges {
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
	}
	for _, w := range data.Waypoints {
		if err := g.addWaypoint(w); err != nil {
			return nil, err
		}
	}
	for _, a := range builtinAspects() {
		g.aspectMap[a.ID] = a
	}
	for i := range data.Aspects {
		a := data.Aspects[i]
		if err := validateAspect(&a); err != nil {
			return nil, err
		}
		g.aspectMap[a.ID] = &a
	}
	for _, s := range data.Signals {
		if err := g.addSignal(s); err != nil {
			return nil, err
		}
	}
	for _, t := range data.TVDSections {
		if _, exists := g.tvdMap[t.ID]; exists {
			return nil, fmt.Errorf("%w: tvd section %q already exists", ErrInvalidInfra, t.ID)
		}
		t.Index = len(g.tvdSections)
		ts := t
		g.tvdSections = append(g.tvdSections, &ts)
		g.tvdMap[t.ID] = &ts
	}
	for _, r := range data.Routes {
		if err := g.addRoute(r); err != nil {
			return nil, err
		}
	}
	g.indexInteractables()
	return g, nil
}

// AddNode adds a node to the graph. Returns an error if the node ID already exists.
func (g *Graph) AddNode(n Node) error {
	if _, exists := g.nodeMap[n.ID]; exists {
		return fmt.Errorf("%w: node %q already exists", ErrInvalidInfra, n.ID)
	}
	g.nodes = append(g.nodes, n)
	g.nodeMap[n.ID] = n
	return nil
}

// AddEdge adds a directed edge to the graph. Returns an error if the edge ID already
// exists, either endpoint node is missing or the length is not a positive number.
func (g *Graph) AddEdge(e Edge) error {
	if _, exists := g.edgeMap[e.ID]; exists {
		return fmt.Errorf("%w: edge %q already exists", ErrInvalidInfra, e.ID)
	}
	if _, ok := g.nodeMap[e.U]; !ok {
		return fmt.Errorf("%w: edge %q: source node %q not found", ErrInvalidInfra, e.ID, e.U)
	}
	if _, ok := g.nodeMap[e.V]; !ok {
		return fmt.Errorf("%w: edge %q: target node %q not found", ErrInvalidInfra, e.ID, e.V)
	}
	if !(e.Length > 0) || math.IsInf(e.Length, 0) {
		return fmt.Errorf("%w: edge %q: invalid length %v", ErrInvalidInfra, e.ID, e.Length)
	}
	g.edges = append(g.edges, e)
	g.edgeMap[e.ID] = e
	if g.edgeByNodes[e.U] == nil {
		g.edgeByNodes[e.U] = make(map[NodeID]Edge)
	}
	g.edgeByNodes[e.U][e.V] = e
	return nil
}

func (g *Graph) checkOnEdge(kind, id string, edge EdgeID, offset float64) error {
	e, ok := g.edgeMap[edge]
	if !ok {
		return fmt.Errorf("%w: %s %q: edge %q not found", ErrInvalidInfra, kind, id, edge)
	}
	if math.IsNaN(offset) || offset < 0 || offset > e.Length {
		return fmt.Errorf("%w: %s %q: offset %v outside edge %q", ErrInvalidInfra, kind, id, offset, edge)
	}
	return nil
}

func (g *Graph) addWaypoint(w Waypoint) error {
	if _, exists := g.waypointMap[w.ID]; exists {
		return fmt.Errorf("%w: waypoint %q already exists", ErrInvalidInfra, w.ID)
	}
	switch w.Kind {
	case WaypointDetector, WaypointBufferStop:
	default:
		return fmt.Errorf("%w: waypoint %q: unknown kind %q", ErrInvalidInfra, w.ID, w.Kind)
	}
	if err := g.checkOnEdge("waypoint", w.ID, w.Edge, w.Offset); err != nil {
		return err
	}
	w.Index = len(g.waypoints)
	wp := w
	g.waypoints = append(g.waypoints, &wp)
	g.waypointMap[w.ID] = &wp
	return nil
}

func (g *Graph) addSignal(s Signal) error {
	if _, exists := g.signalMap[s.ID]; exists {
		return fmt.Errorf("%w: signal %q already exists", ErrInvalidInfra, s.ID)
	}
	if err := g.checkOnEdge("signal", s.ID, s.Edge, s.Offset); err != nil {
		return err
	}
	if s.SightDistance < 0 || math.IsNaN(s.SightDistance) {
		return fmt.Errorf("%w: signal %q: invalid sight distance %v", ErrInvalidInfra, s.ID, s.SightDistance)
	}
	if s.ClearAspect == "" {
		s.ClearAspect = AspectClear
	}
	if s.StopAspect == "" {
		s.StopAspect = AspectStop
	}
	for _, a := range []AspectID{s.ClearAspect, s.StopAspect} {
		if _, ok := g.aspectMap[a]; !ok {
			return fmt.Errorf("%w: signal %q: aspect %q not found", ErrInvalidInfra, s.ID, a)
		}
	}
	s.Index = len(g.signals)
	sp := s
	g.signals = append(g.signals, &sp)
	g.signalMap[s.ID] = &sp
	return nil
}

func (g *Graph) addRoute(r Route) error {
	if _, exists := g.routeMap[r.ID]; exists {
		return fmt.Errorf("%w: route %q already exists", ErrInvalidInfra, r.ID)
	}
	for _, w := range []WaypointID{r.Entry, r.Exit} {
		if _, ok := g.waypointMap[w]; !ok {
			return fmt.Errorf("%w: route %q: waypoint %q not found", ErrInvalidInfra, r.ID, w)
		}
	}
	if len(r.Segments) == 0 {
		return fmt.Errorf("%w: route %q has no segments", ErrInvalidInfra, r.ID)
	}
	for i, s := range r.Segments {
		e, ok := g.edgeMap[s.Edge]
		if !ok {
			return fmt.Errorf("%w: route %q: edge %q not found", ErrInvalidInfra, r.ID, s.Edge)
		}
		if s.Start < 0 || s.End > e.Length || s.Start > s.End {
			return fmt.Errorf("%w: route %q: segment [%v, %v] invalid on edge %q", ErrInvalidInfra, r.ID, s.Start, s.End, s.Edge)
		}
		if i == 0 || r.Segments[i-1].Edge == s.Edge {
			continue
		}
		// a new edge must leave the node the previous one enters, from its start
		prev := r.Segments[i-1]
		pe := g.edgeMap[prev.Edge]
		if next, err := g.GetEdge(pe.V, e.V); err != nil || next.ID != e.ID || prev.End != pe.Length || s.Start != 0 {
			return fmt.Errorf("%w: route %q: segment on %q does not follow %q", ErrInvalidInfra, r.ID, s.Edge, prev.Edge)
		}
	}
	if len(r.TVDSectionPaths) == 0 {
		return fmt.Errorf("%w: route %q has no tvd section paths", ErrInvalidInfra, r.ID)
	}
	paths := make([]TVDSectionPath, len(r.TVDSectionPaths))
	for i, p := range r.TVDSectionPaths {
		t, ok := g.tvdMap[p.TVDSection]
		if !ok {
			return fmt.Errorf("%w: route %q: tvd section %q not found", ErrInvalidInfra, r.ID, p.TVDSection)
		}
		start, ok := g.waypointMap[p.Start]
		if !ok {
			return fmt.Errorf("%w: route %q: tvd path start %q not found", ErrInvalidInfra, r.ID, p.Start)
		}
		end, ok := g.waypointMap[p.End]
		if !ok {
			return fmt.Errorf("%w: route %q: tvd path end %q not found", ErrInvalidInfra, r.ID, p.End)
		}
		if p.Direction == "" {
			p.Direction = DirectionForward
		}
		if p.Direction != DirectionForward && p.Direction != DirectionBackward {
			return fmt.Errorf("%w: route %q: unknown direction %q", ErrInvalidInfra, r.ID, p.Direction)
		}
		p.sectionIndex = t.Index
		p.startIndex = start.Index
		p.endIndex = end.Index
		paths[i] = p
	}
	r.TVDSectionPaths = paths
	r.Segments = append([]Segment(nil), r.Segments...)
	rp := &r
	if r.EntrySignal != "" {
		sig, ok := g.signalMap[r.EntrySignal]
		if !ok {
			return fmt.Errorf("%w: route %q: entry signal %q not found", ErrInvalidInfra, r.ID, r.EntrySignal)
		}
		g.protects[sig.ID] = append(g.protects[sig.ID], rp)
		for _, p := range paths {
			if !containsSignal(g.guardedBy[p.sectionIndex], sig) {
				g.guardedBy[p.sectionIndex] = append(g.guardedBy[p.sectionIndex], sig)
			}
		}
	}
	g.routes = append(g.routes, rp)
	g.routeMap[r.ID] = rp
	g.dist = nil // invalidate cached plans
	return nil
}

func containsSignal(list []*Signal, s *Signal) bool {
	for _, o := range list {
		if o == s {
			return true
		}
	}
	return false
}

// indexInteractables groups waypoints and signals by edge, sorted by offset.
// Ties keep declaration order, waypoints before signals.
func (g *Graph) indexInteractables() {
	for _, w := range g.waypoints {
		g.interactables[w.Edge] = append(g.interactables[w.Edge], Interactable{Offset: w.Offset, Waypoint: w})
	}
	for _, s := range g.signals {
		g.interactables[s.Edge] = append(g.interactables[s.Edge], Interactable{Offset: s.Offset, Signal: s})
	}
	for _, list := range g.interactables {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Offset < list[j].Offset })
	}
}

// GetEdgeByID looks up an edge by its ID.
func (g *Graph) GetEdgeByID(id EdgeID) (Edge, error) {
	e, ok := g.edgeMap[id]
	if !ok {
		return Edge{}, fmt.Errorf("edge %q not found", id)
	}
	return e, nil
}

// GetEdge returns the directed edge from u to v.
func (g *Graph) GetEdge(u, v NodeID) (Edge, error) {
	if m, ok := g.edgeByNodes[u]; ok {
		if e, ok := m[v]; ok {
			return e, nil
		}
	}
	return Edge{}, fmt.Errorf("no edge from %q to %q", u, v)
}

// Interactables returns the waypoints and signals on an edge, sorted by offset.
// The returned slice must not be modified.
func (g *Graph) Interactables(edge EdgeID) []Interactable {
	return g.interactables[edge]
}

// Waypoint returns the waypoint with the given dense index.
func (g *Graph) Waypoint(index int) *Waypoint { return g.waypoints[index] }

// WaypointByID looks up a waypoint by its ID.
func (g *Graph) WaypointByID(id WaypointID) (*Waypoint, error) {
	w, ok := g.waypointMap[id]
	if !ok {
		return nil, fmt.Errorf("waypoint %q not found", id)
	}
	return w, nil
}

// Signals returns all signals in declaration order.
func (g *Graph) Signals() []*Signal { return g.signals }

// SignalByID looks up a signal by its ID.
func (g *Graph) SignalByID(id SignalID) (*Signal, error) {
	s, ok := g.signalMap[id]
	if !ok {
		return nil, fmt.Errorf("signal %q not found", id)
	}
	return s, nil
}

// Aspect looks up an aspect by its ID.
func (g *Graph) Aspect(id AspectID) (*Aspect, error) {
	a, ok := g.aspectMap[id]
	if !ok {
		return nil, fmt.Errorf("aspect %q not found", id)
	}
	return a, nil
}

// TVDSections returns all TVD sections, indexed by their Index.
func (g *Graph) TVDSections() []*TVDSection { return g.tvdSections }

// TVDSection returns the TVD section with the given index.
func (g *Graph) TVDSection(index int) *TVDSection { return g.tvdSections[index] }

// Route looks up a route by its ID.
func (g *Graph) Route(id RouteID) (*Route, error) {
	r, ok := g.routeMap[id]
	if !ok {
		return nil, fmt.Errorf("route %q not found", id)
	}
	return r, nil
}

// RoutesProtectedBy returns the routes whose entry signal is s.
func (g *Graph) RoutesProtectedBy(s SignalID) []*Route { return g.protects[s] }

// SignalsGuarding returns the signals protecting a route that crosses the TVD section.
func (g *Graph) SignalsGuarding(tvdIndex int) []*Signal { return g.guardedBy[tvdIndex] }

// LocateOnRoutes finds where pos lies on routes: the index of the first route
// passing through it and the TVD section path of that route it is in. A
// position on a detector belongs to the section the detector closes.
func (g *Graph) LocateOnRoutes(routes []*Route, pos Position) (int, TVDSectionPath, error) {
	for i, r := range routes {
		at, ok := r.Offset(pos.Edge, pos.DistanceAlongEdge)
		if !ok {
			continue
		}
		for _, p := range r.TVDSectionPaths {
			w := g.waypoints[p.EndNode()]
			exit, ok := r.Offset(w.Edge, w.Offset)
			if ok && exit >= at {
				return i, p, nil
			}
		}
		return 0, TVDSectionPath{}, fmt.Errorf("%w: route %q: no tvd section path around %s", ErrInvalidInfra, r.ID, pos)
	}
	return 0, TVDSectionPath{}, fmt.Errorf("%w: %s is not on the routes", ErrInvalidInfra, pos)
}

// RoutesToSegments concatenates the segments of routes and trims them to the
// range [start, end]. start must lie on the first segment using start.Edge and
// end on a later or the same segment.
func RoutesToSegments(routes []*Route, start, end Position) ([]Segment, error) {
	var all []Segment
	for _, r := range routes {
		all = append(all, r.Segments...)
	}
	first := -1
	for i, s := range all {
		if s.Edge == start.Edge && s.Contains(start.DistanceAlongEdge) {
			first = i
			break
		}
	}
	if first == -1 {
		return nil, fmt.Errorf("start %s@%v not on route path", start.Edge, start.DistanceAlongEdge)
	}
	last := -1
	for i := first; i < len(all); i++ {
		s := all[i]
		if s.Edge != end.Edge || !s.Contains(end.DistanceAlongEdge) {
			continue
		}
		if i == first && end.DistanceAlongEdge < start.DistanceAlongEdge {
			continue
		}
		last = i
		break
	}
	if last == -1 {
		return nil, fmt.Errorf("end %s@%v not on route path after start", end.Edge, end.DistanceAlongEdge)
	}
	res := append([]Segment(nil), all[first:last+1]...)
	res[0].Start = start.DistanceAlongEdge
	res[len(res)-1].End = end.DistanceAlongEdge
	return res, nil
}
