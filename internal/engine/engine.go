// Package engine implements the discrete-event simulation of trains running
// on a signalled network.
//
// Every train moves from one interaction to the next along a precomputed
// path. Each step is planned ahead on a copy of the train state and becomes
// an event on the shared queue:
//
//  1. Plan - the train integrates its motion under its speed controllers until
//     the head (or the tail, or the driver's sight) reaches the next action
//     point, or until a stop point holds it.
//
//  2. Publish - when the event fires, the planned state is published and the
//     train interacts with the action point: detectors occupy and free TVD
//     sections, signals start or stop constraining the train.
//
// Occupancy changes re-evaluate signal aspects, and trains watching a signal
// whose aspect changed drop their pending plan and plan again from the
// current time.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cxd309/railsim/internal/config"
	"github.com/cxd309/railsim/internal/timeline"
)

// RunID derives the run identifier from the raw input, so that replaying the
// same input yields the same output.
func RunID(jsonInput string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(jsonInput)).String()
}

// RunJSON is the entry point shared by the CLI and WASM targets. It accepts a
// JSON-encoded SimulationInput, runs the simulation under cfg, and returns a
// JSON-encoded SimulationLog.
//
// When the run aborts, the log of everything published up to the failure is
// returned together with the error.
func RunJSON(jsonInput string, cfg config.Config, observers ...timeline.Observer) (string, error) {
	return RunJSONContext(context.Background(), jsonInput, cfg, observers...)
}

// RunJSONContext is RunJSON stopping early when ctx is done.
func RunJSONContext(ctx context.Context, jsonInput string, cfg config.Config, observers ...timeline.Observer) (string, error) {
	var input SimulationInput
	if err := json.Unmarshal([]byte(jsonInput), &input); err != nil {
		return "", fmt.Errorf("invalid input JSON: %w", err)
	}
	if input.Meta.RunID == "" {
		input.Meta.RunID = RunID(jsonInput)
	}

	sim, err := NewSimulation(input, cfg)
	if err != nil {
		return "", err
	}
	for _, o := range observers {
		sim.Subscribe(o)
	}

	runErr := sim.Run(ctx)
	simLog := sim.Output()
	if runErr != nil {
		simLog.Error = runErr.Error()
	}

	out, err := json.Marshal(simLog)
	if err != nil {
		return "", fmt.Errorf("marshaling output: %w", err)
	}
	return string(out), runErr
}
