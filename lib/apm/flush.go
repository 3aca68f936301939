// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"context"
	"time"

	"github.com/bureau-foundation/apm/lib/inflight"
	"github.com/bureau-foundation/apm/lib/transport"
)

// FlushOptions modifies FlushWithOptions.
type FlushOptions struct {
	// LambdaEnd marks the flush as the end of a serverless invocation.
	LambdaEnd bool

	// InflightTimeout bounds the wait for captures in progress.
	// Defaults to flush_timeout.
	InflightTimeout time.Duration
}

// Flush sends everything recorded so far and waits for the collector's
// answer.
func (a *Agent) Flush(ctx context.Context) error {
	return a.FlushWithOptions(ctx, FlushOptions{})
}

// FlushWithOptions first waits, up to InflightTimeout, for error
// captures already in progress, then sends everything queued and
// returns the send error.
//
// Captures started after the flush began are tracked in a fresh
// inflight set, so they neither hold this flush up nor escape the next
// one.
func (a *Agent) FlushWithOptions(ctx context.Context, options FlushOptions) error {
	a.mu.Lock()
	client := a.client.Load()
	if !a.IsActive() || client == nil {
		a.mu.Unlock()
		return ErrNotStarted
	}
	timeout := options.InflightTimeout
	if timeout <= 0 {
		timeout = a.config.Load().FlushTimeout
	}
	draining := a.inflight
	drained := make(chan error, 1)
	waiting := draining.SetDrainHandler(func(err error) { drained <- err }, timeout)
	if waiting {
		a.inflight = inflight.New(a.clock)
	}
	a.mu.Unlock()

	if waiting {
		select {
		case err := <-drained:
			if err != nil {
				a.logger.Debug("flushing before all captures finished",
					"error", err,
					"pending", draining.Len(),
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return client.Flush(ctx, transport.FlushOptions{LambdaEnd: options.LambdaEnd})
}
