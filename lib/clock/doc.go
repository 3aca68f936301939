// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source used by the agent's timed machinery:
// the transport's batch interval, the inflight drain timeout, and the
// central-config poll schedule.
//
// Components hold a Clock instead of calling the time package. Production
// wiring passes Real(); tests pass a FakeClock and move time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client := transport.New(transport.Options{Clock: fake, ...})
//	go client.Run(ctx)
//	fake.WaitForTimers(1)       // the sender loop has armed its ticker
//	fake.Advance(10 * time.Second)
//
// WaitForTimers closes the window between a goroutine arming a timer and
// the test advancing past it, so no test needs to sleep.
package clock
