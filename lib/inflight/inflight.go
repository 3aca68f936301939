// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package inflight tracks telemetry work that completes asynchronously,
// such as a captured error still passing through filters, so that a
// flush can wait for it.
//
// A Set carries a single-shot drain latch: one handler, fired once,
// either when the set empties or when its timeout expires, whichever
// happens first. A flush registers the latch on the current set and
// swaps a fresh Set in for work that starts afterwards, so late
// arrivals are accounted to the next flush instead of stalling this one.
package inflight

import (
	"errors"
	"sync"
	"time"

	"github.com/bureau-foundation/apm/lib/clock"
)

// ErrDrainTimeout is passed to a drain handler whose timeout expired
// before the set emptied.
var ErrDrainTimeout = errors.New("inflight: drain timed out")

// Set is a set of in-progress event ids. Safe for concurrent use.
type Set struct {
	clock clock.Clock

	mu      sync.Mutex
	ids     map[string]struct{}
	handler func(error)
	timer   clock.Timer

	// registration counts SetDrainHandler calls, so a timer that fires
	// after its handler was replaced leaves the replacement alone.
	registration uint64
}

// New returns an empty Set whose drain timeouts run on clk.
func New(clk clock.Clock) *Set {
	return &Set{clock: clk, ids: make(map[string]struct{})}
}

// Add records id as in progress.
func (s *Set) Add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

// Delete records id as finished. If this empties the set and a drain
// handler is registered, the handler runs once with a nil error and is
// cleared. Deleting an id that is not present changes nothing.
func (s *Set) Delete(id string) {
	s.mu.Lock()
	if _, ok := s.ids[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.ids, id)
	var handler func(error)
	if len(s.ids) == 0 {
		handler = s.takeHandlerLocked()
	}
	s.mu.Unlock()

	if handler != nil {
		handler(nil)
	}
}

// Len returns the number of ids in progress.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// SetDrainHandler registers handler to run once the set empties. A
// positive timeout bounds the wait: when it expires first, handler runs
// with ErrDrainTimeout and a later drain does nothing.
//
// When the set is already empty nothing is registered and SetDrainHandler
// returns false; a later Delete could never fire the handler, so the
// caller should proceed as though drained. A handler registered
// earlier is replaced.
func (s *Set) SetDrainHandler(handler func(error), timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ids) == 0 {
		return false
	}
	s.takeHandlerLocked()
	s.registration++
	s.handler = handler
	if timeout > 0 {
		registration := s.registration
		s.timer = s.clock.AfterFunc(timeout, func() { s.expire(registration) })
	}
	return true
}

// expire fires the handler from the given registration with
// ErrDrainTimeout, unless a natural drain already took it.
func (s *Set) expire(registration uint64) {
	s.mu.Lock()
	if registration != s.registration {
		s.mu.Unlock()
		return
	}
	handler := s.handler
	s.handler = nil
	s.timer = nil
	s.mu.Unlock()

	if handler != nil {
		handler(ErrDrainTimeout)
	}
}

// takeHandlerLocked clears and returns the handler, stopping its timer.
func (s *Set) takeHandlerLocked() func(error) {
	handler := s.handler
	s.handler = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return handler
}
