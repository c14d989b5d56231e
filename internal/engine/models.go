package engine

import (
	"github.com/cxd309/railsim/internal/graph"
	"github.com/cxd309/railsim/internal/service"
	"github.com/cxd309/railsim/internal/timeline"
)

// SimulationMeta holds the identity and timing parameters of a simulation run.
// The timing fields are filled from the configuration the run used.
type SimulationMeta struct {
	SimulationID     string  `json:"simulation_id"`
	RunID            string  `json:"run_id,omitempty"`
	TimeStep         float64 `json:"time_step"`          // seconds
	SightDistance    float64 `json:"sight_distance"`     // metres
	MaxSimulatedTime float64 `json:"max_simulated_time"` // seconds
}

// SimulationInput is the JSON-serialisable input to the engine.
type SimulationInput struct {
	Meta      SimulationMeta          `json:"simulation_meta"`
	GraphData graph.GraphData         `json:"graph_data"`
	Trains    []service.TrainSchedule `json:"train_schedules"`
}

// ChangeRecord is one published change in the output timeline.
type ChangeRecord struct {
	Seq    uint64          `json:"seq"`
	Time   float64         `json:"time"` // seconds
	Kind   string          `json:"kind"`
	Change timeline.Change `json:"change"`
}

// TrainSummary is the final state of a train at the end of the run.
type TrainSummary struct {
	TrainID     string              `json:"train_id"`
	Status      service.TrainStatus `json:"status"`
	Departed    bool                `json:"departed"`
	ArrivalTime *float64            `json:"arrival_time,omitempty"` // seconds
	Location    *graph.Position     `json:"location,omitempty"`
	OccupiedTVD []string            `json:"occupied_tvd_sections,omitempty"`
}

// SimulationLog is the complete output of a simulation run.
type SimulationLog struct {
	Meta     SimulationMeta `json:"simulation_meta"`
	Timeline []ChangeRecord `json:"timeline"`
	Trains   []TrainSummary `json:"trains"`
	Error    string         `json:"error,omitempty"`
}

// Output returns the log of everything published so far.
func (sim *Simulation) Output() SimulationLog {
	records := sim.log.Records()
	out := SimulationLog{
		Meta:     sim.meta,
		Timeline: make([]ChangeRecord, 0, len(records)),
		Trains:   make([]TrainSummary, 0, len(sim.trains)),
	}
	for _, r := range records {
		out.Timeline = append(out.Timeline, ChangeRecord{Seq: r.Seq, Time: r.Time, Kind: r.Change.Kind(), Change: r.Change})
	}
	for _, t := range sim.trains {
		s := TrainSummary{TrainID: t.Name, Departed: t.state != nil}
		if t.state != nil {
			s.Status = t.state.Status
			loc := t.phase().Locate(t.state.Position)
			s.Location = &loc
			if t.finished() {
				arrival := t.arrival
				s.ArrivalTime = &arrival
			}
			for _, i := range sim.infra.OccupiedBy(t.Name) {
				s.OccupiedTVD = append(s.OccupiedTVD, sim.graph.TVDSection(i).ID)
			}
		}
		out.Trains = append(out.Trains, s)
	}
	return out
}
