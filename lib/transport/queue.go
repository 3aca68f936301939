// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"sync"

	"github.com/bureau-foundation/apm/lib/codec"
)

// queue is the bounded FIFO of encoded events awaiting a send. At
// capacity it drops the incoming event, keeping the older events that
// are already queued. Events are removed only by remove, after the
// collector accepts them.
//
// Exceeding the byte threshold signals the sender through full
// (capacity 1, so repeated signals before the sender wakes coalesce).
// A queue holding exactly threshold bytes waits for the timer.
type queue struct {
	mu        sync.Mutex
	events    []codec.RawMessage
	bytes     int
	capacity  int
	threshold int
	dropped   uint64
	full      chan struct{}
}

func newQueue(capacity, threshold int) *queue {
	return &queue{
		capacity:  capacity,
		threshold: threshold,
		full:      make(chan struct{}, 1),
	}
}

// push appends event, or drops it and reports false at capacity.
func (q *queue) push(event codec.RawMessage) bool {
	q.mu.Lock()
	if len(q.events) >= q.capacity {
		q.dropped++
		q.mu.Unlock()
		return false
	}
	q.events = append(q.events, event)
	q.bytes += len(event)
	crossed := q.bytes > q.threshold
	q.mu.Unlock()

	if crossed {
		q.signal()
	}
	return true
}

// signal wakes the sender without blocking.
func (q *queue) signal() {
	select {
	case q.full <- struct{}{}:
	default:
	}
}

// peek returns up to limit of the oldest events, stopping early after
// the event that takes the batch past the byte threshold. At least one
// event is returned when the queue is non-empty.
func (q *queue) peek(limit int) []codec.RawMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	count, size := 0, 0
	for count < len(q.events) && count < limit {
		size += len(q.events[count])
		count++
		if size > q.threshold {
			break
		}
	}
	return append([]codec.RawMessage(nil), q.events[:count]...)
}

// remove drops the n oldest events.
func (q *queue) remove(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n = min(n, len(q.events))
	for i := range n {
		q.bytes -= len(q.events[i])
		q.events[i] = nil
	}
	q.events = q.events[n:]
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// overThreshold reports whether the queued bytes exceed the threshold.
func (q *queue) overThreshold() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events) > 0 && q.bytes > q.threshold
}

func (q *queue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// resize changes the limits. Events beyond a reduced capacity stay
// queued; only new events are refused until the queue shrinks.
func (q *queue) resize(capacity, threshold int) {
	q.mu.Lock()
	q.capacity = capacity
	q.threshold = threshold
	crossed := len(q.events) > 0 && q.bytes > threshold
	q.mu.Unlock()
	if crossed {
		q.signal()
	}
}
