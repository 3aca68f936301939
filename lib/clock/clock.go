// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the agent depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// After returns a channel that receives once d has elapsed. A
	// non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The real clock runs f on
	// its own goroutine; the fake clock runs it inside Advance.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker returns a ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) Ticker
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop cancels the call. It reports false if the call already
	// happened or was already stopped.
	Stop() bool
}

// Ticker delivers periodic ticks. The channel has capacity 1; a slow
// reader loses ticks rather than queueing them.
type Ticker interface {
	C() <-chan time.Time

	// Reset restarts the period at d, counted from now.
	Reset(d time.Duration)

	Stop()
}
