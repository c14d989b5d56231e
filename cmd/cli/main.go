// Command railsim reads a SimulationInput JSON from a file argument (or stdin),
// runs the simulation, and writes the SimulationLog JSON to stdout.
//
// A run that stops on an inconsistency still writes the timeline published up
// to that point, then exits with status 1.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cxd309/railsim/internal/config"
	"github.com/cxd309/railsim/internal/engine"
	xlog "github.com/cxd309/railsim/internal/log"
	"github.com/cxd309/railsim/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	metricsOut := flag.String("metrics-out", "", "write Prometheus metrics of the run to this file")
	outPath := flag.String("out", "", "write the simulation log to this file instead of stdout")
	flag.Parse()

	xlog.Configure(xlog.Config{Level: "info"})
	logger := xlog.WithComponent("cli")

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xlog.FieldEvent, "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel})
	logger = xlog.WithComponent("cli")

	var data []byte
	if flag.NArg() > 0 {
		data, err = os.ReadFile(flag.Arg(0))
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	out, runErr := engine.RunJSONContext(ctx, string(data), cfg, metrics.New(reg))

	if *metricsOut != "" {
		if err := prometheus.WriteToTextfile(*metricsOut, reg); err != nil {
			logger.Error().Err(err).Str("path", *metricsOut).Msg("failed to write metrics")
		}
	}
	if out != "" {
		if *outPath == "" {
			fmt.Println(out)
		} else if err := writeOutput(*outPath, out); err != nil {
			logger.Error().Err(err).Str("path", *outPath).Msg("failed to write simulation log")
			stop()
			os.Exit(1)
		}
	}
	if runErr != nil {
		if errors.Is(runErr, engine.ErrTimeLimit) {
			logger.Warn().Err(runErr).Msg("run stopped at the simulated time limit")
		}
		fmt.Fprintf(os.Stderr, "simulation error: %v\n", runErr)
		stop()
		os.Exit(1)
	}
}

// writeOutput replaces path with the log in one step, so readers never see a
// partial timeline.
func writeOutput(path, out string) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending output file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.WriteString(pending, out+"\n"); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace output file: %w", err)
	}
	return nil
}
