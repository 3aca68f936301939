// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"context"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	schema "github.com/bureau-foundation/apm/lib/schema/apm"
)

// W3C trace-context header names.
const (
	HeaderTraceparent = "traceparent"
	HeaderTracestate  = "tracestate"
)

// vendorKey is this agent's tracestate entry. Its "s" field carries
// the sample rate the trace root used.
const vendorKey = "es"

var traceContext propagation.TraceContext

// parseTraceparent decodes a traceparent header and its optional
// tracestate. It reports false for a malformed or all-zero header.
func parseTraceparent(traceparent, tracestate string) (trace.SpanContext, bool) {
	carrier := propagation.MapCarrier{HeaderTraceparent: strings.TrimSpace(traceparent)}
	if tracestate != "" {
		carrier[HeaderTracestate] = tracestate
	}
	spanContext := trace.SpanContextFromContext(traceContext.Extract(context.Background(), carrier))
	return spanContext, spanContext.IsValid()
}

// formatTraceparent renders the traceparent header for a span.
func formatTraceparent(traceID schema.TraceID, spanID schema.SpanID, sampled bool) string {
	var flags trace.TraceFlags
	if sampled {
		flags = trace.FlagsSampled
	}
	spanContext := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID(traceID),
		SpanID:     trace.SpanID(spanID),
		TraceFlags: flags,
	})
	carrier := propagation.MapCarrier{}
	traceContext.Inject(trace.ContextWithSpanContext(context.Background(), spanContext), carrier)
	return carrier.Get(HeaderTraceparent)
}

// vendorSampleRate reads the root sample rate from the tracestate.
func vendorSampleRate(state trace.TraceState) (float64, bool) {
	for field := range strings.SplitSeq(state.Get(vendorKey), ";") {
		value, ok := strings.CutPrefix(field, "s:")
		if !ok {
			continue
		}
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil || rate < 0 || rate > 1 {
			return 0, false
		}
		return rate, true
	}
	return 0, false
}

// withVendorSampleRate records rate in the tracestate, replacing any
// previous entry of ours.
func withVendorSampleRate(state trace.TraceState, rate float64) trace.TraceState {
	updated, err := state.Insert(vendorKey, "s:"+strconv.FormatFloat(rate, 'f', -1, 64))
	if err != nil {
		return state
	}
	return updated
}
