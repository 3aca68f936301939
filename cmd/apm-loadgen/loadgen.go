// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/apm/lib/apm"
)

// loadOptions shapes the generated traffic.
type loadOptions struct {
	Operations   int
	Concurrency  int
	Steps        int
	ErrorRate    float64
	StepDuration time.Duration
}

func (o loadOptions) validate() error {
	switch {
	case o.Operations <= 0:
		return fmt.Errorf("--operations must be positive, got %d", o.Operations)
	case o.Concurrency <= 0:
		return fmt.Errorf("--concurrency must be positive, got %d", o.Concurrency)
	case o.Steps < 0:
		return fmt.Errorf("--steps must not be negative, got %d", o.Steps)
	case o.ErrorRate < 0 || o.ErrorRate > 1:
		return fmt.Errorf("--error-rate must be within [0, 1], got %v", o.ErrorRate)
	case o.StepDuration < 0:
		return fmt.Errorf("--step-duration must not be negative, got %s", o.StepDuration)
	}
	return nil
}

type loadResult struct {
	Operations int64
	Steps      int64
	Errors     int64
}

var errSimulated = errors.New("simulated failure")

// generate runs o.Operations operations, o.Concurrency at a time, and
// stops early when ctx is cancelled.
func generate(ctx context.Context, agent *apm.Agent, o loadOptions) (loadResult, error) {
	var operations, steps, failures atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.Concurrency)
	for i := range o.Operations {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return nil
			}
			path := fmt.Sprintf("/orders/%d", i%50)
			opCtx, op := agent.StartOperation(groupCtx, "GET /orders/{id}", "request", apm.OperationOptions{URLPath: path})
			op.SetLabel("shard", i%4)

			for range o.Steps {
				_, step := agent.StartStep(opCtx, "SELECT FROM orders", "db", "postgresql", "query", apm.StepOptions{
					Exit:                true,
					DestinationResource: "postgresql",
				})
				if o.StepDuration > 0 {
					time.Sleep(o.StepDuration)
				}
				step.End(time.Time{})
				steps.Add(1)
			}

			status := 200
			if rand.Float64() < o.ErrorRate {
				agent.CaptureError(opCtx, fmt.Errorf("loading order %d: %w", i, errSimulated), apm.CaptureOptions{})
				failures.Add(1)
				status = 500
			}
			op.SetHTTPStatus(status)
			op.End(fmt.Sprintf("HTTP %dxx", status/100), time.Time{})
			operations.Add(1)
			return nil
		})
	}
	err := group.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return loadResult{
		Operations: operations.Load(),
		Steps:      steps.Load(),
		Errors:     failures.Load(),
	}, err
}

// collectGauges reads the transport gauges once, keyed by name.
func collectGauges(ctx context.Context, reader *sdkmetric.ManualReader, logger *slog.Logger) map[string]int64 {
	var metrics metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &metrics); err != nil {
		logger.Debug("collecting transport metrics", "error", err)
		return nil
	}
	values := make(map[string]int64)
	for _, scope := range metrics.ScopeMetrics {
		for _, m := range scope.Metrics {
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok || len(gauge.DataPoints) == 0 {
				continue
			}
			values[m.Name] = gauge.DataPoints[0].Value
		}
	}
	return values
}
