// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// apm-loadgen drives the agent with synthetic traffic: concurrent
// operations, each with a run of database calls, some of which fail.
// It is used to watch batching, span compression and central config
// against a collector (or apm-collector-mock) under load.
//
// The agent is configured the usual way: an optional YAML file, an
// optional .env file, BUREAU_APM_* variables, then --set overrides.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/bureau-foundation/apm/lib/apm"
	"github.com/bureau-foundation/apm/lib/config"
	"github.com/bureau-foundation/apm/lib/logging"
	"github.com/bureau-foundation/apm/lib/process"
	"github.com/bureau-foundation/apm/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configFile  string
		dotEnvFile  string
		overrides   []string
		load        loadOptions
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("apm-loadgen", pflag.ContinueOnError)
	flagSet.StringVar(&configFile, "config", "", "YAML agent configuration file")
	flagSet.StringVar(&dotEnvFile, "env-file", "", ".env file of BUREAU_APM_* variables")
	flagSet.StringArrayVar(&overrides, "set", nil, "option=value override, repeatable")
	flagSet.IntVar(&load.Operations, "operations", 1000, "operations to run")
	flagSet.IntVar(&load.Concurrency, "concurrency", 16, "operations in flight at once")
	flagSet.IntVar(&load.Steps, "steps", 5, "database calls per operation")
	flagSet.Float64Var(&load.ErrorRate, "error-rate", 0.01, "fraction of operations that capture an error")
	flagSet.DurationVar(&load.StepDuration, "step-duration", 2*time.Millisecond, "simulated duration of each call")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Println(version.Banner("apm-loadgen"))
		return nil
	}
	if err := load.validate(); err != nil {
		return &process.UsageError{Err: err}
	}
	values, err := parseOverrides(overrides)
	if err != nil {
		return &process.UsageError{Err: err}
	}

	levels := new(slog.LevelVar)
	logger := logging.New(os.Stderr, levels)
	cfg, err := config.Load(config.LoadOptions{
		File:       configFile,
		DotEnvFile: dotEnvFile,
		Overrides:  values,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "apm-loadgen"
	}

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	agent := apm.NewAgent(apm.AgentOptions{
		Logger:   logger,
		LevelVar: levels,
		Meter:    provider.Meter("github.com/bureau-foundation/apm/cmd/apm-loadgen"),
	})
	if err := agent.Start(cfg); err != nil {
		return err
	}
	if !agent.IsActive() {
		return fmt.Errorf("agent did not start, see the log above")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	result, runErr := generate(ctx, agent, load)
	elapsed := time.Since(started)

	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := agent.Flush(flushCtx); err != nil {
		logger.Warn("final flush failed", "error", err)
	}
	transport := collectGauges(flushCtx, reader, logger)
	if err := agent.Destroy(flushCtx); err != nil {
		logger.Warn("agent shutdown timed out", "error", err)
	}
	if err := provider.Shutdown(flushCtx); err != nil {
		logger.Debug("meter provider shutdown", "error", err)
	}

	logger.Info("load finished",
		"operations", result.Operations,
		"steps", result.Steps,
		"errors", result.Errors,
		"elapsed", elapsed.Round(time.Millisecond),
		"per_second", int(float64(result.Operations)/elapsed.Seconds()),
		"batches_sent", transport["apm.transport.batches.sent_total"],
		"dropped", transport["apm.transport.queue.dropped_total"],
	)
	return runErr
}

// parseOverrides turns repeated option=value flags into a map.
func parseOverrides(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("--set %q: want option=value", pair)
		}
		values[strings.TrimSpace(name)] = value
	}
	return values, nil
}
