package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cxd309/railsim/internal/config"
	"github.com/cxd309/railsim/internal/graph"
	"github.com/cxd309/railsim/internal/graph/graphtest"
	"github.com/cxd309/railsim/internal/infrastate"
	"github.com/cxd309/railsim/internal/kinematics"
	"github.com/cxd309/railsim/internal/service"
	"github.com/cxd309/railsim/internal/timeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	lineStart = graph.Position{Edge: "E1", DistanceAlongEdge: 100}
	lineEnd   = graph.Position{Edge: "E3", DistanceAlongEdge: 900}
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.SightDistance = 500
	cfg.MaxSimulatedTime = 600
	return cfg
}

// testVehicle accelerates to 20 m/s over 400 m and brakes over the same
// distance.
func testVehicle() service.Vehicle {
	return service.Vehicle{RollingStock: kinematics.RollingStock{
		Name:                  "emu",
		Length:                200,
		Mass:                  400_000,
		MaxSpeed:              20,
		StartUpAcceleration:   0.5,
		ComfortAcceleration:   0.5,
		TimetableGamma:        0.5,
		EmergencyDeceleration: 1.5,
		InertiaCoefficient:    1,
	}}
}

func lineTrain(id string, departure float64) service.TrainSchedule {
	return service.TrainSchedule{
		TrainID:       id,
		DepartureTime: departure,
		Start:         lineStart,
		Phases:        []service.PhaseSpec{{Routes: graphtest.RouteIDs, End: lineEnd}},
		Vehicle:       testVehicle(),
	}
}

func newLineSim(t *testing.T, signals bool, trains ...service.TrainSchedule) *Simulation {
	t.Helper()
	in := SimulationInput{
		Meta:      SimulationMeta{SimulationID: "line", RunID: "test"},
		GraphData: graphtest.Line(signals),
		Trains:    trains,
	}
	sim, err := NewSimulation(in, testConfig())
	require.NoError(t, err)
	return sim
}

func trainByName(t *testing.T, sim *Simulation, name string) *Train {
	t.Helper()
	for _, tr := range sim.Trains() {
		if tr.Name == name {
			return tr
		}
	}
	t.Fatalf("train %q not found", name)
	return nil
}

// invariantObserver checks every published record as it happens.
type invariantObserver struct {
	t       *testing.T
	holders map[string]string
	last    map[string]TrainSnapshot
	maxV    float64
}

func newInvariantObserver(t *testing.T, sim *Simulation) *invariantObserver {
	o := &invariantObserver{t: t, holders: map[string]string{}, last: map[string]TrainSnapshot{}, maxV: testVehicle().MaxSpeed}
	sim.Subscribe(o)
	return o
}

func (o *invariantObserver) OnChange(r timeline.Record) {
	switch c := r.Change.(type) {
	case *TVDOccupyChange:
		if h, held := o.holders[c.Section]; held {
			o.t.Errorf("seq %d: %s occupied by %s while held by %s", r.Seq, c.Section, c.Train, h)
		}
		o.holders[c.Section] = c.Train
	case *TVDUnoccupyChange:
		if o.holders[c.Section] != c.Train {
			o.t.Errorf("seq %d: %s freed by %s, holder %q", r.Seq, c.Section, c.Train, o.holders[c.Section])
		}
		delete(o.holders, c.Section)
	case *TrainStateChange:
		if prev, ok := o.last[c.Train]; ok && prev.Phase == c.State.Phase {
			if c.State.Cursor < prev.Cursor || c.State.Position < prev.Position-1e-9 || c.State.Time < prev.Time {
				o.t.Errorf("seq %d: train %s went back: %+v after %+v", r.Seq, c.Train, c.State, prev)
			}
		}
		if c.State.Speed < 0 || c.State.Speed > o.maxV+1 {
			o.t.Errorf("seq %d: train %s speed %v", r.Seq, c.Train, c.State.Speed)
		}
		o.last[c.Train] = c.State
	case *TrainCreatedChange:
		o.last[c.Train] = c.State
	case *PhaseAdvanceChange:
		o.last[c.Train] = c.State
	}
}

func tvdLog(records []timeline.Record) []string {
	var out []string
	for _, r := range records {
		switch c := r.Change.(type) {
		case *TVDOccupyChange:
			out = append(out, "+"+c.Section+" "+c.Train)
		case *TVDUnoccupyChange:
			out = append(out, "-"+c.Section+" "+c.Train)
		}
	}
	return out
}

func aspects(records []timeline.Record, signal string) []string {
	var out []string
	for _, r := range records {
		if c, ok := r.Change.(*SignalAspectChange); ok && c.Signal == signal {
			out = append(out, c.Aspect)
		}
	}
	return out
}

func TestSingleTrainRunsToDestination(t *testing.T) {
	sim := newLineSim(t, false, lineTrain("IC1", 0))
	newInvariantObserver(t, sim)

	require.NoError(t, sim.Run(context.Background()))

	tr := trainByName(t, sim, "IC1")
	st := tr.State()
	assert.Equal(t, service.StatusReachedDestination, st.Status)
	assert.Equal(t, 0.0, st.Speed)
	assert.InDelta(t, 2800, st.Position, 1e-9)
	assert.InDelta(t, 180, tr.arrival, 10)

	assert.Equal(t, []string{
		"+T0 IC1", "+T1 IC1", "-T0 IC1", "+T2 IC1", "-T1 IC1", "+T3 IC1", "-T2 IC1",
	}, tvdLog(sim.Records()))

	out := sim.Output()
	require.Len(t, out.Trains, 1)
	assert.Equal(t, []string{"T3"}, out.Trains[0].OccupiedTVD)
	require.NotNil(t, out.Trains[0].Location)
	assert.Equal(t, lineEnd, *out.Trains[0].Location)
}

func TestTailIsQueuedWhenHeadPassesDetector(t *testing.T) {
	sim := newLineSim(t, false, lineTrain("IC1", 0))
	require.NoError(t, sim.Run(context.Background()))

	var atD1 *TrainSnapshot
	for _, r := range sim.Records() {
		if c, ok := r.Change.(*TrainStateChange); ok && c.State.Position == 400 {
			atD1 = &c.State
			break
		}
	}
	require.NotNil(t, atD1)
	assert.Equal(t, []float64{600}, atD1.UnderTrain)
	assert.Equal(t, 1, atD1.Cursor)
}

func TestConflictWithoutSignalsAborts(t *testing.T) {
	sim := newLineSim(t, false, lineTrain("IC1", 0), lineTrain("IC2", 120))
	newInvariantObserver(t, sim)

	err := sim.Run(context.Background())
	require.ErrorIs(t, err, infrastate.ErrOccupied)
	assert.Contains(t, err.Error(), "Detector{D3}")

	t3 := sim.Infra().TVDSection(3)
	assert.Equal(t, infrastate.Occupied, t3.Status)
	assert.Equal(t, "IC1", t3.Holder)

	var conflict *infrastate.OccupancyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "IC2", conflict.Requester)
	for _, r := range sim.Records() {
		if c, ok := r.Change.(*TVDOccupyChange); ok {
			assert.False(t, c.Section == "T3" && c.Train == "IC2", "failed change published")
		}
	}
}

func TestSignalsKeepTrainsApart(t *testing.T) {
	sim := newLineSim(t, true, lineTrain("IC1", 0), lineTrain("IC2", 120))
	newInvariantObserver(t, sim)

	err := sim.Run(context.Background())
	require.ErrorIs(t, err, ErrTimeLimit)
	assert.NotErrorIs(t, err, infrastate.ErrOccupied)

	first := trainByName(t, sim, "IC1").State()
	assert.Equal(t, service.StatusReachedDestination, first.Status)

	second := trainByName(t, sim, "IC2").State()
	assert.Equal(t, service.StatusStop, second.Status)
	assert.Equal(t, 0.0, second.Speed)
	assert.InDelta(t, 2380, second.Position, 1e-9, "held at S3")
	assert.Equal(t, graph.AspectStop, sim.Infra().Signal(2).Aspect)
	assert.Equal(t, []string{"IC2"}, sim.Infra().Signal(2).Watchers)
}

func TestAspectClearsAfterDwell(t *testing.T) {
	dwelling := lineTrain("IC1", 0)
	dwelling.Phases = []service.PhaseSpec{
		{Routes: []graph.RouteID{"R1", "R2", "R3"}, End: graph.Position{Edge: "E3", DistanceAlongEdge: 300}, Dwell: 60},
		{Routes: []graph.RouteID{"R3", "R4"}, End: lineEnd},
	}
	sim := newLineSim(t, true, dwelling, lineTrain("IC2", 120))
	newInvariantObserver(t, sim)

	err := sim.Run(context.Background())
	require.ErrorIs(t, err, ErrTimeLimit)

	records := sim.Records()
	assert.Equal(t, []string{graph.AspectStop, graph.AspectClear, graph.AspectStop}, aspects(records, "S2"))

	var advancedAt float64
	resumed := false
	passedS2 := false
	for _, r := range records {
		switch c := r.Change.(type) {
		case *PhaseAdvanceChange:
			if c.Train == "IC1" && !c.Destination {
				advancedAt = r.Time
				assert.Equal(t, 1, c.Phase)
			}
		case *TrainStateChange:
			if c.Train == "IC1" && c.State.Phase == 1 && !resumed {
				resumed = true
				assert.GreaterOrEqual(t, r.Time, advancedAt+60-1e-9)
			}
		case *SignalWatchChange:
			if c.Train == "IC2" && c.Signal == "S2" && !c.Watch {
				passedS2 = true
			}
		}
	}
	assert.True(t, resumed)
	assert.True(t, passedS2, "IC2 passes S2 once it clears")

	assert.Equal(t, service.StatusReachedDestination, trainByName(t, sim, "IC1").State().Status)
	assert.InDelta(t, 2380, trainByName(t, sim, "IC2").State().Position, 1e-9)
}

func TestAdmissionWaitsForFreeRoute(t *testing.T) {
	blocker := lineTrain("IC1", 0)
	blocker.Phases = []service.PhaseSpec{{Routes: []graph.RouteID{"R1"}, End: graph.Position{Edge: "E1", DistanceAlongEdge: 400}}}
	sim := newLineSim(t, false, blocker, lineTrain("IC2", 10))

	err := sim.Run(context.Background())
	require.ErrorIs(t, err, ErrTimeLimit)
	assert.Nil(t, trainByName(t, sim, "IC2").State(), "IC2 never enters while R1 is held")
	for _, r := range sim.Records() {
		if c, ok := r.Change.(*TrainCreatedChange); ok {
			assert.Equal(t, "IC1", c.Train)
		}
	}
}

func TestRunHonoursContext(t *testing.T) {
	sim := newLineSim(t, false, lineTrain("IC1", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sim.Run(ctx), context.Canceled)
	assert.Empty(t, sim.Records())
}

func TestNewSimulationRejectsBadInput(t *testing.T) {
	dup := SimulationInput{GraphData: graphtest.Line(false), Trains: []service.TrainSchedule{lineTrain("A", 0), lineTrain("A", 5)}}
	_, err := NewSimulation(dup, testConfig())
	assert.ErrorIs(t, err, service.ErrInvalidSchedule)

	badRoute := lineTrain("A", 0)
	badRoute.Phases[0].Routes = []graph.RouteID{"R2", "R1"}
	_, err = NewSimulation(SimulationInput{GraphData: graphtest.Line(false), Trains: []service.TrainSchedule{badRoute}}, testConfig())
	assert.ErrorIs(t, err, ErrInvalidPath)

	cfg := testConfig()
	cfg.TimeStep = 0
	_, err = NewSimulation(SimulationInput{GraphData: graphtest.Line(false)}, cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

const vehicleJSON = `{
	"name": "emu", "length": 200, "mass": 400000, "max_speed": 20,
	"start_up_acceleration": 0.5, "comfort_acceleration": 0.5,
	"timetable_gamma": 0.5, "emergency_deceleration": 1.5,
	"resistance": {"model": "davis", "a": 2000, "b": 50, "c": 5}
}`

func lineInputJSON(t *testing.T) string {
	t.Helper()
	graphData, err := json.Marshal(graphtest.Line(true))
	require.NoError(t, err)

	var trains []string
	for i, dep := range []float64{0, 120} {
		trains = append(trains, fmt.Sprintf(`{
			"train_id": "IC%d", "departure_time": %v,
			"start": {"edge": "E1", "distance_along_edge": 100},
			"phases": [{"from": "BS0", "to": "BS1", "end": {"edge": "E3", "distance_along_edge": 900}}],
			"vehicle": %s}`, i+1, dep, vehicleJSON))
	}
	return fmt.Sprintf(`{"simulation_meta": {"simulation_id": "line"}, "graph_data": %s, "train_schedules": [%s]}`,
		graphData, strings.Join(trains, ","))
}

func TestRunJSONIsDeterministic(t *testing.T) {
	input := lineInputJSON(t)

	first, err := RunJSON(input, testConfig())
	require.ErrorIs(t, err, ErrTimeLimit)
	second, err := RunJSON(input, testConfig())
	require.ErrorIs(t, err, ErrTimeLimit)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("outputs differ (-first +second):\n%s", diff)
	}

	var out struct {
		Meta     SimulationMeta `json:"simulation_meta"`
		Timeline []struct {
			Seq  uint64 `json:"seq"`
			Kind string `json:"kind"`
		} `json:"timeline"`
		Trains []TrainSummary `json:"trains"`
		Error  string         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(first), &out))
	assert.Equal(t, RunID(input), out.Meta.RunID)
	assert.Equal(t, 500.0, out.Meta.SightDistance)
	assert.Contains(t, out.Error, ErrTimeLimit.Error())
	require.NotEmpty(t, out.Timeline)
	assert.Equal(t, KindTrainCreated, out.Timeline[0].Kind)
	for i, r := range out.Timeline {
		assert.Equal(t, uint64(i), r.Seq)
	}
	require.Len(t, out.Trains, 2)
	assert.Equal(t, service.StatusReachedDestination, out.Trains[0].Status)
	assert.NotNil(t, out.Trains[0].ArrivalTime)
}

func TestRunJSONRejectsGarbage(t *testing.T) {
	out, err := RunJSON("{", testConfig())
	assert.Error(t, err)
	assert.Empty(t, out)
}
