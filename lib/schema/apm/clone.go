// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"maps"
	"slices"
)

// Clone copies the transaction. Its maps and slices are copied one
// level deep, so changes to the clone's labels or links leave t alone.
func (t *Transaction) Clone() *Transaction {
	clone := *t
	clone.Breakdown = slices.Clone(t.Breakdown)
	clone.Links = slices.Clone(t.Links)
	clone.Labels = maps.Clone(t.Labels)
	clone.Custom = maps.Clone(t.Custom)
	return &clone
}

// Clone copies the span, including its destination and composite.
func (s *Span) Clone() *Span {
	clone := *s
	if s.Destination != nil {
		destination := *s.Destination
		clone.Destination = &destination
	}
	if s.Composite != nil {
		composite := *s.Composite
		clone.Composite = &composite
	}
	clone.Labels = maps.Clone(s.Labels)
	return &clone
}

// Clone copies the error report, including its exception, log record
// and transaction summary.
func (e *Error) Clone() *Error {
	clone := *e
	if e.Exception != nil {
		exception := *e.Exception
		exception.Stacktrace = slices.Clone(e.Exception.Stacktrace)
		clone.Exception = &exception
	}
	if e.Log != nil {
		log := *e.Log
		clone.Log = &log
	}
	if e.Transaction != nil {
		summary := *e.Transaction
		clone.Transaction = &summary
	}
	clone.Labels = maps.Clone(e.Labels)
	clone.Custom = maps.Clone(e.Custom)
	return &clone
}
