// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"fmt"
	"math/rand/v2"

	"go.opentelemetry.io/otel/trace"

	"github.com/bureau-foundation/apm/lib/config"
	schema "github.com/bureau-foundation/apm/lib/schema/apm"
)

// continueTrace sets op's trace identity and sampling decision from
// options.ChildOf, or starts a new trace.
func (a *Agent) continueTrace(op *Operation, options OperationOptions) {
	switch parent := options.ChildOf.(type) {
	case *Operation:
		if parent != nil {
			op.inherit(parent.traceID, parent.id, parent.sampled, parent.sampleRate, parent.tracestate)
			return
		}
	case *Step:
		if parent != nil {
			owner := parent.operation
			op.inherit(owner.traceID, parent.id, owner.sampled, owner.sampleRate, owner.tracestate)
			return
		}
	case string:
		if parent != "" && a.continueTraceparent(op, parent, options.TraceState) {
			return
		}
	case nil:
	default:
		a.logger.Debug("ignoring unsupported operation parent", "type", fmt.Sprintf("%T", parent))
	}
	op.startTrace()
}

// continueTraceparent applies trace_continuation_strategy to an incoming
// traceparent. It reports false when op should start a new trace: the
// header is malformed, or the strategy restarts it. A restarted trace
// keeps a link to the incoming parent.
func (a *Agent) continueTraceparent(op *Operation, traceparent, tracestate string) bool {
	incoming, ok := parseTraceparent(traceparent, tracestate)
	if !ok {
		a.logger.Debug("ignoring malformed traceparent", "traceparent", traceparent)
		return false
	}

	restart := false
	switch op.config.TraceContinuationStrategy {
	case config.ContinuationRestart:
		restart = true
	case config.ContinuationRestartExternal:
		// Traces started by another agent of ours carry our
		// tracestate entry; anything else is external.
		restart = incoming.TraceState().Get(vendorKey) == ""
	}
	if restart {
		op.links = append(op.links, schema.Link{
			TraceID: schema.TraceID(incoming.TraceID()),
			SpanID:  schema.SpanID(incoming.SpanID()),
		})
		return false
	}

	rate, ok := vendorSampleRate(incoming.TraceState())
	if !ok {
		rate = op.config.TransactionSampleRate
	}
	op.inherit(schema.TraceID(incoming.TraceID()), schema.SpanID(incoming.SpanID()),
		incoming.IsSampled(), rate, incoming.TraceState())
	return true
}

func (o *Operation) inherit(traceID schema.TraceID, parentID schema.SpanID, sampled bool, rate float64, state trace.TraceState) {
	o.traceID = traceID
	o.parentID = parentID
	o.sampled = sampled
	o.sampleRate = rate
	o.tracestate = state
}

// startTrace makes o a trace root, sampled at transaction_sample_rate.
func (o *Operation) startTrace() {
	rate := o.config.TransactionSampleRate
	o.traceID = schema.NewTraceID()
	o.sampled = sample(rate)
	o.sampleRate = rate
	o.tracestate = withVendorSampleRate(trace.TraceState{}, rate)
}

func sample(rate float64) bool {
	switch {
	case rate >= 1:
		return true
	case rate <= 0:
		return false
	}
	return rand.Float64() < rate
}
