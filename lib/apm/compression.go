// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"sync"
	"time"

	"github.com/bureau-foundation/apm/lib/config"
	schema "github.com/bureau-foundation/apm/lib/schema/apm"
)

// Span compression merges runs of similar exit steps that share a
// parent into one composite span. Each parent holds at most one ended,
// compressible child; the next sibling to end either merges into it or
// replaces it, sending the held one. Compression never spans parents.

// childBuffer is a parent's slot for the held child.
type childBuffer struct {
	mu      sync.Mutex
	pending *Step

	// closed is set when the parent ends. Children ending later are
	// reported directly.
	closed bool
}

// take removes and returns the held child.
func (b *childBuffer) take() *Step {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.pending
	b.pending = nil
	return pending
}

// close marks the parent ended and returns the held child.
func (b *childBuffer) close() *Step {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.pending
	b.pending = nil
	b.closed = true
	return pending
}

// summary is the part of an ended step compression compares.
type summary struct {
	name     string
	kind     string
	subtype  string
	resource string
	duration time.Duration
	end      time.Time
}

// compressible reports whether s, now ended, may merge with siblings:
// an exit step that did not fail, started no children and names its
// destination.
func (s *Step) compressible() (summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.exit && s.outcome != schema.OutcomeFailure && !s.childStarted && s.resource != ""
	return summary{
		name:     s.name,
		kind:     s.kind,
		subtype:  s.subtype,
		resource: s.resource,
		duration: s.end.Sub(s.start),
		end:      s.end,
	}, ok
}

// finish hands an ended step to its parent's buffer. Wire order per
// parent stays the order in which children ended.
func (s *Step) finish() {
	cfg := s.operation.config
	buffer := s.siblings()
	current, ok := s.compressible()
	if !cfg.SpanCompressionEnabled || !ok {
		if pending := buffer.take(); pending != nil {
			s.agent.reportStep(pending)
		}
		s.agent.reportStep(s)
		return
	}

	buffer.mu.Lock()
	if buffer.closed {
		buffer.mu.Unlock()
		s.agent.reportStep(s)
		return
	}
	pending := buffer.pending
	if pending == nil || !pending.absorb(current, cfg) {
		buffer.pending = s
	} else {
		pending = nil
	}
	buffer.mu.Unlock()

	if pending != nil {
		s.agent.reportStep(pending)
	}
}

// absorb merges next into s if the two are compatible. An exact match
// needs the same name and both durations within
// span_compression_exact_match_max_duration; a same-kind match needs
// both within span_compression_same_kind_max_duration and renames the
// composite after the destination. A composite only grows by its
// original strategy.
func (s *Step) absorb(next summary, cfg *config.Config) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kind != next.kind || s.subtype != next.subtype || s.resource != next.resource {
		return false
	}
	exactMax := cfg.SpanCompressionExactMatchMaxDuration
	sameKindMax := cfg.SpanCompressionSameKindMaxDuration

	if s.composite == nil {
		duration := s.end.Sub(s.start)
		switch {
		case s.name == next.name && duration <= exactMax && next.duration <= exactMax:
			s.composite = &schema.Composite{CompressionStrategy: schema.CompressionExactMatch}
		case duration <= sameKindMax && next.duration <= sameKindMax:
			s.composite = &schema.Composite{CompressionStrategy: schema.CompressionSameKind}
			s.name = "Calls to " + s.resource
		default:
			return false
		}
		s.composite.Count = 1
		s.composite.Sum = milliseconds(duration)
	} else {
		switch s.composite.CompressionStrategy {
		case schema.CompressionExactMatch:
			if s.name != next.name || next.duration > exactMax {
				return false
			}
		case schema.CompressionSameKind:
			if next.duration > sameKindMax {
				return false
			}
		}
	}

	s.composite.Count++
	s.composite.Sum += milliseconds(next.duration)
	if next.end.After(s.end) {
		s.end = next.end
	}
	return true
}
