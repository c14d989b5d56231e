// Package graphtest provides small infrastructures for tests.
package graphtest

import "github.com/cxd309/railsim/internal/graph"

// Line returns a single-track line of three 1000 m edges E1→E2→E3:
//
//	BS0 ─T0─ D1 ─T1─ D2 ─T2─ D3 ─T3─ BS1
//	E1@0     E1@500  E2@500  E3@500  E3@1000
//
// with routes R1 (BS0→D1), R2 (D1→D2), R3 (D2→D3) and R4 (D3→BS1). When
// signals is true, S1, S2 and S3 stand 20 m before D1, D2 and D3 and protect
// R2, R3 and R4 respectively.
func Line(signals bool) graph.GraphData {
	data := graph.GraphData{
		Nodes: []graph.Node{
			{ID: "N0", Type: graph.NodeTypeStation},
			{ID: "N1", Loc: graph.Coordinate{X: 1000}, Type: graph.NodeTypeMain},
			{ID: "N2", Loc: graph.Coordinate{X: 2000}, Type: graph.NodeTypeMain},
			{ID: "N3", Loc: graph.Coordinate{X: 3000}, Type: graph.NodeTypeStation},
		},
		Edges: []graph.Edge{
			{ID: "E1", U: "N0", V: "N1", Length: 1000},
			{ID: "E2", U: "N1", V: "N2", Length: 1000},
			{ID: "E3", U: "N2", V: "N3", Length: 1000},
		},
		Waypoints: []graph.Waypoint{
			{ID: "BS0", Kind: graph.WaypointBufferStop, Edge: "E1", Offset: 0},
			{ID: "D1", Kind: graph.WaypointDetector, Edge: "E1", Offset: 500},
			{ID: "D2", Kind: graph.WaypointDetector, Edge: "E2", Offset: 500},
			{ID: "D3", Kind: graph.WaypointDetector, Edge: "E3", Offset: 500},
			{ID: "BS1", Kind: graph.WaypointBufferStop, Edge: "E3", Offset: 1000},
		},
		TVDSections: []graph.TVDSection{{ID: "T0"}, {ID: "T1"}, {ID: "T2"}, {ID: "T3"}},
		Routes: []graph.Route{
			{
				ID: "R1", Entry: "BS0", Exit: "D1",
				Segments:        []graph.Segment{{Edge: "E1", Start: 0, End: 500}},
				TVDSectionPaths: []graph.TVDSectionPath{{TVDSection: "T0", Start: "BS0", End: "D1"}},
			},
			{
				ID: "R2", Entry: "D1", Exit: "D2",
				Segments:        []graph.Segment{{Edge: "E1", Start: 500, End: 1000}, {Edge: "E2", Start: 0, End: 500}},
				TVDSectionPaths: []graph.TVDSectionPath{{TVDSection: "T1", Start: "D1", End: "D2"}},
			},
			{
				ID: "R3", Entry: "D2", Exit: "D3",
				Segments:        []graph.Segment{{Edge: "E2", Start: 500, End: 1000}, {Edge: "E3", Start: 0, End: 500}},
				TVDSectionPaths: []graph.TVDSectionPath{{TVDSection: "T2", Start: "D2", End: "D3"}},
			},
			{
				ID: "R4", Entry: "D3", Exit: "BS1",
				Segments:        []graph.Segment{{Edge: "E3", Start: 500, End: 1000}},
				TVDSectionPaths: []graph.TVDSectionPath{{TVDSection: "T3", Start: "D3", End: "BS1"}},
			},
		},
	}
	if signals {
		data.Signals = []graph.Signal{
			{ID: "S1", Edge: "E1", Offset: 480, SightDistance: 500},
			{ID: "S2", Edge: "E2", Offset: 480, SightDistance: 500},
			{ID: "S3", Edge: "E3", Offset: 480, SightDistance: 500},
		}
		data.Routes[1].EntrySignal = "S1"
		data.Routes[2].EntrySignal = "S2"
		data.Routes[3].EntrySignal = "S3"
	}
	return data
}

// RouteIDs lists the routes of Line from origin to destination.
var RouteIDs = []graph.RouteID{"R1", "R2", "R3", "R4"}
