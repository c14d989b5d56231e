package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxd309/railsim/internal/config"
	"github.com/cxd309/railsim/internal/graph"
	"github.com/cxd309/railsim/internal/graph/graphtest"
	"github.com/cxd309/railsim/internal/service"
	"github.com/cxd309/railsim/internal/speedcontrol"
)

func newSim(t *testing.T, data graph.GraphData, cfg config.Config, trains ...service.TrainSchedule) *Simulation {
	t.Helper()
	sim, err := NewSimulation(SimulationInput{GraphData: data, Trains: trains}, cfg)
	require.NoError(t, err)
	return sim
}

func trainStates(sim *Simulation, train string) []TrainSnapshot {
	var out []TrainSnapshot
	for _, r := range sim.Records() {
		if c, ok := r.Change.(*TrainStateChange); ok && c.Train == train {
			out = append(out, c.State)
		}
	}
	return out
}

// caution limits a train seeing it to 10 m/s from the signal to the next one.
func cautionLine(sight float64) graph.GraphData {
	data := graphtest.Line(true)
	data.Aspects = []graph.Aspect{{ID: "caution", Constraints: []graph.AspectConstraint{{
		Kind:      graph.ConstraintKindSpeedLimit,
		Speed:     10,
		AppliesAt: graph.ConstraintPosition{Element: graph.ElementCurrentSignal},
		Until:     graph.ConstraintPosition{Element: graph.ElementNextSignal},
	}}}}
	data.Signals[1].ClearAspect = "caution"
	data.Signals[1].SightDistance = sight
	return data
}

func TestDepartureMidRoute(t *testing.T) {
	tr := lineTrain("IC1", 0)
	tr.Start = graph.Position{Edge: "E2", DistanceAlongEdge: 700}
	sim := newLineSim(t, false, tr)
	newInvariantObserver(t, sim)

	require.NoError(t, sim.Run(context.Background()))

	records := sim.Records()
	created, ok := records[0].Change.(*TrainCreatedChange)
	require.True(t, ok)
	assert.Equal(t, 2, created.State.RouteIndex)
	assert.Equal(t, []string{"+T2 IC1", "+T3 IC1", "-T2 IC1"}, tvdLog(records))
	assert.Equal(t, service.StatusReachedDestination, trainByName(t, sim, "IC1").State().Status)
}

func TestDepartureAcrossDetector(t *testing.T) {
	tr := lineTrain("IC1", 0)
	tr.Start = graph.Position{Edge: "E2", DistanceAlongEdge: 600}
	sim := newLineSim(t, false, tr)
	newInvariantObserver(t, sim)

	require.NoError(t, sim.Run(context.Background()))

	records := sim.Records()
	created, ok := records[0].Change.(*TrainCreatedChange)
	require.True(t, ok)
	assert.Equal(t, 2, created.State.RouteIndex)
	assert.Equal(t, []float64{100}, created.State.UnderTrain, "the tail still stands before D2")
	assert.Equal(t, []string{"+T1 IC1", "+T2 IC1", "-T1 IC1", "+T3 IC1", "-T2 IC1"}, tvdLog(records))
}

func TestDepartureWaitsForSectionUnderBody(t *testing.T) {
	blocker := lineTrain("IC1", 0)
	blocker.Phases = []service.PhaseSpec{{Routes: []graph.RouteID{"R1", "R2"}, End: graph.Position{Edge: "E1", DistanceAlongEdge: 900}}}
	late := lineTrain("IC2", 60)
	late.Start = graph.Position{Edge: "E2", DistanceAlongEdge: 600}
	sim := newLineSim(t, false, blocker, late)

	err := sim.Run(context.Background())
	require.ErrorIs(t, err, ErrTimeLimit)
	assert.Nil(t, trainByName(t, sim, "IC2").State(), "T1 stays held by IC1")
}

func TestDepartureInsideLongRoute(t *testing.T) {
	data := graphtest.Line(false)
	data.Routes = []graph.Route{{
		ID: "RX", Entry: "BS0", Exit: "BS1",
		Segments: []graph.Segment{{Edge: "E1", End: 1000}, {Edge: "E2", End: 1000}, {Edge: "E3", End: 1000}},
		TVDSectionPaths: []graph.TVDSectionPath{
			{TVDSection: "T0", Start: "BS0", End: "D1"},
			{TVDSection: "T1", Start: "D1", End: "D2"},
			{TVDSection: "T2", Start: "D2", End: "D3"},
			{TVDSection: "T3", Start: "D3", End: "BS1"},
		},
	}}
	tr := lineTrain("IC1", 0)
	tr.Start = graph.Position{Edge: "E2", DistanceAlongEdge: 200}
	tr.Phases = []service.PhaseSpec{{Routes: []graph.RouteID{"RX"}, End: lineEnd}}
	sim := newSim(t, data, testConfig(), tr)
	newInvariantObserver(t, sim)

	require.NoError(t, sim.Run(context.Background()))
	assert.Equal(t, []string{"+T1 IC1", "+T2 IC1", "-T1 IC1", "+T3 IC1", "-T2 IC1"}, tvdLog(sim.Records()))
}

func TestSignalSpeedLimitIsHonoured(t *testing.T) {
	sim := newSim(t, cautionLine(500), testConfig(), lineTrain("IC1", 0))
	newInvariantObserver(t, sim)

	require.NoError(t, sim.Run(context.Background()))
	assert.Equal(t, []string{graph.AspectStop, "caution"}, aspects(sim.Records(), "S2"))

	// S2 at 1380, S3 at 2380
	inside := 0
	for _, st := range trainStates(sim, "IC1") {
		if st.Position >= 1380 && st.Position < 2380 {
			inside++
			assert.LessOrEqual(t, st.Speed, 10+1e-6, "at %.1f m", st.Position)
		}
	}
	assert.Positive(t, inside)
	assert.Equal(t, service.StatusReachedDestination, trainByName(t, sim, "IC1").State().Status)
}

func TestLateAspectTriggersEmergencyBraking(t *testing.T) {
	sim := newSim(t, cautionLine(20), testConfig(), lineTrain("IC1", 0))

	require.NoError(t, sim.Run(context.Background()))

	emergency := -1
	released := false
	for i, st := range trainStates(sim, "IC1") {
		switch {
		case st.Status == service.StatusEmergencyBraking && emergency < 0:
			emergency = i
		case st.Status == service.StatusRolling && emergency >= 0:
			released = true
		}
	}
	require.GreaterOrEqual(t, emergency, 0, "seen 20 m ahead at 20 m/s")
	assert.True(t, released, "service braking takes over once back near the limit")
}

func TestStopPointIsReachedAtStandstill(t *testing.T) {
	sim := newLineSim(t, false, lineTrain("IC1", 0))
	tr := trainByName(t, sim, "IC1")
	ph := tr.Phases[0]
	tr.state = &TrainState{
		Speed:       20,
		Status:      service.StatusRolling,
		Controllers: append(ph.staticControllers(tr.RollingStock), speedcontrol.FromSpeedLimit(20, 0, 1000, math.Inf(1), 0.5)...),
	}

	st := tr.state.clone()
	reached, samples, err := tr.evolve(sim, st, ph, ph.Length)
	require.NoError(t, err)
	assert.False(t, reached)
	assert.Equal(t, service.StatusStop, st.Status)
	assert.Equal(t, 1000.0, st.Position)

	for _, s := range samples {
		assert.LessOrEqual(t, s.position, 1000.0)
		if s.position >= 1000-1e-6 {
			assert.LessOrEqual(t, s.speed, 1e-6, "arrives at %.6f m/s", s.speed)
		}
	}
}

func TestDetectorOutsideTVDSectionsAborts(t *testing.T) {
	data := graphtest.Line(false)
	data.Waypoints = append(data.Waypoints, graph.Waypoint{ID: "DX", Kind: graph.WaypointDetector, Edge: "E2", Offset: 200})
	sim := newSim(t, data, testConfig(), lineTrain("IC1", 0))

	err := sim.Run(context.Background())
	require.ErrorIs(t, err, ErrTopology)
	var topo *TopologyError
	require.ErrorAs(t, err, &topo)
	assert.Equal(t, "DX", topo.Waypoint)
	assert.Equal(t, "IC1", topo.Train)
}

func TestUnknownStatusIsRejected(t *testing.T) {
	sim := newLineSim(t, false, lineTrain("IC1", 0))
	tr := trainByName(t, sim, "IC1")
	tr.state = &TrainState{Status: "teleporting"}

	_, err := tr.simulate(sim)
	require.ErrorIs(t, err, ErrInvalidState)
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, service.TrainStatus("teleporting"), invalid.Status)

	_, err = tr.maxAcceleration(service.StatusReachedDestination, 0)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func drain(t *testing.T, sim *Simulation) {
	t.Helper()
	for {
		ev, ok := sim.queue.Pop()
		if !ok {
			return
		}
		require.NoError(t, ev.Handler())
	}
}

func TestEventsOfFinishedTrainAreIgnored(t *testing.T) {
	sim := newLineSim(t, false, lineTrain("IC1", 0))
	require.NoError(t, sim.Run(context.Background()))
	tr := trainByName(t, sim, "IC1")
	before := len(sim.Records())

	called := false
	require.NoError(t, sim.trainEvent(tr, sim.Now()+1, "late", func() error {
		called = true
		return nil
	}))
	drain(t, sim)

	assert.False(t, called)
	assert.Len(t, sim.Records(), before)
}

func TestSupersededEventsAreIgnored(t *testing.T) {
	sim := newLineSim(t, false, lineTrain("IC1", 0))
	tr := trainByName(t, sim, "IC1")

	called := false
	require.NoError(t, sim.trainEvent(tr, 5, "stale", func() error {
		called = true
		return nil
	}))
	tr.generation++
	drain(t, sim)
	assert.False(t, called)
	assert.Empty(t, sim.Records(), "the departure was scheduled before the bump too")

	sim = newLineSim(t, false, lineTrain("IC1", 0))
	tr = trainByName(t, sim, "IC1")
	require.NoError(t, sim.trainEvent(tr, 5, "current", func() error {
		called = true
		return nil
	}))
	require.NoError(t, sim.Run(context.Background()))
	assert.True(t, called)
}

// A short train clears the detector before reaching the end of the path.
func TestTailInteractionBeforePathEnd(t *testing.T) {
	data := graph.GraphData{
		Nodes: []graph.Node{{ID: "N0", Type: graph.NodeTypeStation}, {ID: "N1", Loc: graph.Coordinate{X: 150}, Type: graph.NodeTypeStation}},
		Edges: []graph.Edge{{ID: "E1", U: "N0", V: "N1", Length: 150}},
		Waypoints: []graph.Waypoint{
			{ID: "BS0", Kind: graph.WaypointBufferStop, Edge: "E1", Offset: 0},
			{ID: "D1", Kind: graph.WaypointDetector, Edge: "E1", Offset: 100},
			{ID: "BS1", Kind: graph.WaypointBufferStop, Edge: "E1", Offset: 150},
		},
		TVDSections: []graph.TVDSection{{ID: "T0"}, {ID: "T1"}},
		Routes: []graph.Route{
			{
				ID: "R1", Entry: "BS0", Exit: "D1",
				Segments:        []graph.Segment{{Edge: "E1", Start: 0, End: 100}},
				TVDSectionPaths: []graph.TVDSectionPath{{TVDSection: "T0", Start: "BS0", End: "D1"}},
			},
			{
				ID: "R2", Entry: "D1", Exit: "BS1",
				Segments:        []graph.Segment{{Edge: "E1", Start: 100, End: 150}},
				TVDSectionPaths: []graph.TVDSectionPath{{TVDSection: "T1", Start: "D1", End: "BS1"}},
			},
		},
	}
	short := lineTrain("IC1", 0)
	short.Vehicle.Length = 20
	short.Start = graph.Position{Edge: "E1"}
	short.Phases = []service.PhaseSpec{{Routes: []graph.RouteID{"R1", "R2"}, End: graph.Position{Edge: "E1", DistanceAlongEdge: 150}}}
	cfg := testConfig()
	cfg.SightDistance = 50
	sim := newSim(t, data, cfg, short)
	newInvariantObserver(t, sim)

	require.NoError(t, sim.Run(context.Background()))

	var seen []float64
	for _, st := range trainStates(sim, "IC1") {
		switch st.Position {
		case 100:
			assert.Equal(t, []float64{120}, st.UnderTrain)
			seen = append(seen, st.Position)
		case 120:
			assert.Empty(t, st.UnderTrain)
			seen = append(seen, st.Position)
		case 150:
			seen = append(seen, st.Position)
		}
	}
	assert.Equal(t, []float64{100, 120, 150}, seen)
	assert.Equal(t, []string{"+T0 IC1", "+T1 IC1", "-T0 IC1"}, tvdLog(sim.Records()))
	assert.Equal(t, service.StatusReachedDestination, trainByName(t, sim, "IC1").State().Status)
}
