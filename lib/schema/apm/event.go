// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import "github.com/bureau-foundation/apm/lib/codec"

// Timestamps are microseconds since the Unix epoch; durations are
// milliseconds with fractional precision.

// Transaction is the reported form of an ended operation.
type Transaction struct {
	TraceID  TraceID `cbor:"trace_id"`
	ID       SpanID  `cbor:"id"`
	ParentID SpanID  `cbor:"parent_id,omitempty"`

	Name      string  `cbor:"name"`
	Type      string  `cbor:"type"`
	Result    string  `cbor:"result,omitempty"`
	Outcome   Outcome `cbor:"outcome"`
	Timestamp int64   `cbor:"timestamp"`
	Duration  float64 `cbor:"duration"`

	Sampled    bool    `cbor:"sampled"`
	SampleRate float64 `cbor:"sample_rate"`

	SpanCount SpanCount        `cbor:"span_count"`
	Breakdown []BreakdownEntry `cbor:"breakdown,omitempty"`
	Links     []Link           `cbor:"links,omitempty"`

	Labels map[string]any `cbor:"labels,omitempty"`
	Custom map[string]any `cbor:"custom,omitempty"`
}

// SpanCount records how many spans a transaction started and how many
// of those were never reported.
type SpanCount struct {
	Started int `cbor:"started"`
	Dropped int `cbor:"dropped"`
}

// BreakdownEntry aggregates the self-time of one span type within a
// transaction.
type BreakdownEntry struct {
	Type    string  `cbor:"type"`
	Subtype string  `cbor:"subtype,omitempty"`
	Count   int     `cbor:"count"`
	Sum     float64 `cbor:"sum"`
}

// Link references a span in another trace, used when an incoming trace
// is restarted rather than continued.
type Link struct {
	TraceID TraceID `cbor:"trace_id"`
	SpanID  SpanID  `cbor:"span_id"`
}

// Span is the reported form of an ended step.
type Span struct {
	TraceID       TraceID `cbor:"trace_id"`
	ID            SpanID  `cbor:"id"`
	ParentID      SpanID  `cbor:"parent_id"`
	TransactionID SpanID  `cbor:"transaction_id"`

	Name    string `cbor:"name"`
	Type    string `cbor:"type"`
	Subtype string `cbor:"subtype,omitempty"`
	Action  string `cbor:"action,omitempty"`

	Timestamp int64   `cbor:"timestamp"`
	Duration  float64 `cbor:"duration"`
	Outcome   Outcome `cbor:"outcome"`

	Exit        bool         `cbor:"exit,omitempty"`
	Destination *Destination `cbor:"destination,omitempty"`
	Composite   *Composite   `cbor:"composite,omitempty"`
	SampleRate  float64      `cbor:"sample_rate"`

	Labels map[string]any `cbor:"labels,omitempty"`
}

// Destination names the downstream service an exit span called.
type Destination struct {
	Resource string `cbor:"resource"`
}

// Compression strategies recorded on a Composite.
const (
	CompressionExactMatch = "exact_match"
	CompressionSameKind   = "same_kind"
)

// Composite marks a span that stands for several compressed siblings.
type Composite struct {
	Count               int     `cbor:"count"`
	Sum                 float64 `cbor:"sum"`
	CompressionStrategy string  `cbor:"compression_strategy"`
}

// Error is a captured error report.
type Error struct {
	ID            string  `cbor:"id"`
	TraceID       TraceID `cbor:"trace_id,omitempty"`
	TransactionID SpanID  `cbor:"transaction_id,omitempty"`
	ParentID      SpanID  `cbor:"parent_id,omitempty"`

	Timestamp int64  `cbor:"timestamp"`
	Culprit   string `cbor:"culprit,omitempty"`

	Exception *Exception `cbor:"exception,omitempty"`
	Log       *LogRecord `cbor:"log,omitempty"`

	Transaction *TransactionSummary `cbor:"transaction,omitempty"`

	Labels map[string]any `cbor:"labels,omitempty"`
	Custom map[string]any `cbor:"custom,omitempty"`
}

// Exception describes a captured Go error value.
type Exception struct {
	Type       string       `cbor:"type"`
	Message    string       `cbor:"message"`
	Handled    bool         `cbor:"handled"`
	Stacktrace []StackFrame `cbor:"stacktrace,omitempty"`
}

// LogRecord carries the message of an error captured from a string.
type LogRecord struct {
	Message string `cbor:"message"`
}

// StackFrame is one frame of the capture site's stack.
type StackFrame struct {
	Function string `cbor:"function"`
	File     string `cbor:"file"`
	Line     int    `cbor:"line"`
}

// TransactionSummary ties an error to the transaction it occurred in.
type TransactionSummary struct {
	Name    string `cbor:"name"`
	Type    string `cbor:"type"`
	Sampled bool   `cbor:"sampled"`
}

// EventKind discriminates the payload of an Event.
type EventKind string

const (
	KindTransaction EventKind = "transaction"
	KindSpan        EventKind = "span"
	KindError       EventKind = "error"
)

// Event is one queued record. Exactly one payload field matches Kind.
type Event struct {
	Kind        EventKind    `cbor:"kind"`
	Transaction *Transaction `cbor:"transaction,omitempty"`
	Span        *Span        `cbor:"span,omitempty"`
	Error       *Error       `cbor:"error,omitempty"`
}

// Batch is the body of one intake request. Events are the encodings
// produced when each event was queued, in queue order.
type Batch struct {
	Metadata Metadata           `cbor:"metadata"`
	Events   []codec.RawMessage `cbor:"events"`

	// Flushed marks the final batch of a serverless invocation.
	Flushed bool `cbor:"flushed,omitempty"`
}

// DecodeEvents decodes every event in the batch.
func (b *Batch) DecodeEvents() ([]Event, error) {
	events := make([]Event, 0, len(b.Events))
	for _, raw := range b.Events {
		var event Event
		if err := codec.Unmarshal(raw, &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
