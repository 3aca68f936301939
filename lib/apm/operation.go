// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/bureau-foundation/apm/lib/config"
	schema "github.com/bureau-foundation/apm/lib/schema/apm"
)

// OperationOptions modifies StartOperation.
type OperationOptions struct {
	// StartTime defaults to now.
	StartTime time.Time

	// ChildOf continues an existing trace. It accepts a W3C
	// traceparent header value, an *Operation, or a *Step.
	ChildOf any

	// TraceState is the tracestate header that arrived with a
	// traceparent ChildOf.
	TraceState string

	// URLPath is the request path of an inbound request. Paths
	// matching transaction_ignore_urls are not traced.
	URLPath string

	// Links reference spans in other traces.
	Links []schema.Link
}

// Operation is a traced unit of work such as one inbound request. It is
// reported as a transaction when it ends.
type Operation struct {
	agent  *Agent
	config *config.Config

	traceID    schema.TraceID
	id         schema.SpanID
	parentID   schema.SpanID
	sampled    bool
	sampleRate float64
	tracestate trace.TraceState
	start      time.Time

	mu            sync.Mutex
	name          string
	kind          string
	result        string
	outcome       schema.Outcome
	outcomeSet    bool
	httpStatus    int
	errorCaptured bool
	labels        map[string]any
	custom        map[string]any
	links         []schema.Link
	end           time.Time
	ended         bool
	spansStarted  int
	spansDropped  int
	breakdown     map[breakdownKey]*schema.BreakdownEntry

	children childBuffer
}

type breakdownKey struct {
	kind    string
	subtype string
}

// StartOperation begins an operation and returns a context in which it
// is current. The operation is nil when the agent is inactive or
// options.URLPath is ignored; the returned context then carries no
// operation, so steps started under it are not traced either.
func (a *Agent) StartOperation(ctx context.Context, name, kind string, options OperationOptions) (context.Context, *Operation) {
	rc := a.manager.Current(ctx)
	cfg := a.activeConfig()
	if cfg == nil {
		return a.manager.ContextWith(ctx, rc.EnterOperation(nil)), nil
	}
	if options.URLPath != "" && cfg.IgnoreURL(options.URLPath) {
		a.logger.Debug("not tracing ignored URL", "path", options.URLPath)
		return a.manager.ContextWith(ctx, rc.EnterOperation(nil)), nil
	}

	start := options.StartTime
	if start.IsZero() {
		start = a.clock.Now()
	}
	op := &Operation{
		agent:   a,
		config:  cfg,
		id:      schema.NewSpanID(),
		start:   start,
		name:    name,
		kind:    kind,
		outcome: schema.OutcomeUnknown,
		links:   slices.Clone(options.Links),
	}
	a.continueTrace(op, options)
	return a.manager.ContextWith(ctx, rc.EnterOperation(op)), op
}

// EndOperation ends the operation current in ctx. It does nothing when
// there is none.
func (a *Agent) EndOperation(ctx context.Context, result string, endTime time.Time) {
	a.manager.Current(ctx).Operation().End(result, endTime)
}

// mutableLocked reports whether o may still change, logging the
// attempted change otherwise. Caller holds o.mu.
func (o *Operation) mutableLocked(field string) bool {
	if o.ended {
		o.agent.logger.Debug("ignoring change to ended operation", "operation", o.name, "field", field)
		return false
	}
	return true
}

// SetName renames the operation until it ends.
func (o *Operation) SetName(name string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mutableLocked("name") {
		o.name = name
	}
}

// SetType sets the operation's type, such as "request".
func (o *Operation) SetType(kind string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mutableLocked("type") {
		o.kind = kind
	}
}

// SetLabel sets an indexed label. Values other than strings, numbers
// and booleans are stored as their fmt.Sprint form.
func (o *Operation) SetLabel(key string, value any) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mutableLocked("labels") {
		if o.labels == nil {
			o.labels = make(map[string]any)
		}
		o.labels[sanitizeLabelKey(key)] = labelValue(value)
	}
}

// SetCustom attaches unindexed context.
func (o *Operation) SetCustom(key string, value any) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mutableLocked("custom") {
		if o.custom == nil {
			o.custom = make(map[string]any)
		}
		o.custom[key] = value
	}
}

// SetResult records a short result such as "HTTP 2xx".
func (o *Operation) SetResult(result string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mutableLocked("result") {
		o.result = result
	}
}

// SetOutcome sets the outcome explicitly, overriding inference.
func (o *Operation) SetOutcome(outcome schema.Outcome) error {
	if o == nil {
		return nil
	}
	if !outcome.Valid() {
		return fmt.Errorf("%w %q", schema.ErrInvalidOutcome, outcome)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mutableLocked("outcome") {
		o.outcome, o.outcomeSet = outcome, true
	}
	return nil
}

// SetHTTPStatus attaches the response status, used to infer the outcome.
func (o *Operation) SetHTTPStatus(status int) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mutableLocked("http_status") {
		o.httpStatus = status
	}
}

func (o *Operation) markErrorCaptured() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.ended {
		o.errorCaptured = true
	}
}

// Name returns the current name.
func (o *Operation) Name() string {
	if o == nil {
		return ""
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.name
}

// Outcome returns the explicit or inferred outcome; unknown until End
// when none was set.
func (o *Operation) Outcome() schema.Outcome {
	if o == nil {
		return schema.OutcomeUnknown
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcome
}

// Ended reports whether End has been called.
func (o *Operation) Ended() bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ended
}

// Sampled reports whether the operation's steps are recorded.
func (o *Operation) Sampled() bool {
	return o != nil && o.sampled
}

// TraceID returns the trace the operation belongs to.
func (o *Operation) TraceID() schema.TraceID {
	if o == nil {
		return schema.TraceID{}
	}
	return o.traceID
}

// ID returns the operation's span id, the parent of its top-level steps.
func (o *Operation) ID() schema.SpanID {
	if o == nil {
		return schema.SpanID{}
	}
	return o.id
}

// Traceparent renders the W3C traceparent header identifying o, for
// propagation to downstream services.
func (o *Operation) Traceparent() string {
	if o == nil {
		return ""
	}
	return formatTraceparent(o.traceID, o.id, o.sampled)
}

// TraceState renders the tracestate header to send alongside
// Traceparent.
func (o *Operation) TraceState() string {
	if o == nil {
		return ""
	}
	return o.tracestate.String()
}

// Duration is the elapsed time so far, or the final duration once
// ended.
func (o *Operation) Duration() time.Duration {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ended {
		return o.end.Sub(o.start)
	}
	return o.agent.clock.Since(o.start)
}

// End finishes o and reports it. A zero endTime means now; an endTime
// before the start is clamped to the start. A non-empty result replaces
// the one set earlier. Ending twice does nothing.
func (o *Operation) End(result string, endTime time.Time) {
	if o == nil {
		return
	}
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		o.agent.logger.Debug("operation already ended", "operation", o.name)
		return
	}
	if endTime.IsZero() {
		endTime = o.agent.clock.Now()
	}
	if endTime.Before(o.start) {
		endTime = o.start
	}
	o.end, o.ended = endTime, true
	if result != "" {
		o.result = result
	}
	if !o.outcomeSet {
		o.outcome = inferOutcome(o.errorCaptured, o.httpStatus)
	}
	o.mu.Unlock()

	if pending := o.children.close(); pending != nil {
		o.agent.reportStep(pending)
	}
	o.agent.reportOperation(o)
}

// claimStep counts a new step, or counts it dropped once
// transaction_max_spans steps have started. A non-positive limit means
// no limit.
func (o *Operation) claimStep() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if limit := o.config.TransactionMaxSpans; limit > 0 && o.spansStarted >= limit {
		o.spansDropped++
		return false
	}
	o.spansStarted++
	return true
}

func (o *Operation) dropStep() {
	o.mu.Lock()
	o.spansDropped++
	o.mu.Unlock()
}

// addBreakdown accumulates an ended step's duration under its type.
func (o *Operation) addBreakdown(kind, subtype string, duration time.Duration) {
	if !o.config.BreakdownMetrics {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ended {
		return
	}
	if o.breakdown == nil {
		o.breakdown = make(map[breakdownKey]*schema.BreakdownEntry)
	}
	key := breakdownKey{kind: kind, subtype: subtype}
	entry, ok := o.breakdown[key]
	if !ok {
		entry = &schema.BreakdownEntry{Type: kind, Subtype: subtype}
		o.breakdown[key] = entry
	}
	entry.Count++
	entry.Sum += milliseconds(duration)
}

// record builds the wire form. Unsampled operations carry no labels,
// context or breakdown.
func (o *Operation) record() *schema.Transaction {
	o.mu.Lock()
	defer o.mu.Unlock()
	transaction := &schema.Transaction{
		TraceID:    o.traceID,
		ID:         o.id,
		ParentID:   o.parentID,
		Name:       o.name,
		Type:       o.kind,
		Result:     o.result,
		Outcome:    o.outcome,
		Timestamp:  o.start.UnixMicro(),
		Duration:   milliseconds(o.end.Sub(o.start)),
		Sampled:    o.sampled,
		SampleRate: o.sampleRate,
		SpanCount:  schema.SpanCount{Started: o.spansStarted, Dropped: o.spansDropped},
		Links:      slices.Clone(o.links),
	}
	if !o.sampled {
		return transaction
	}
	transaction.Labels = redact(o.config, o.labels)
	transaction.Custom = redact(o.config, o.custom)
	for _, entry := range o.breakdown {
		transaction.Breakdown = append(transaction.Breakdown, *entry)
	}
	slices.SortFunc(transaction.Breakdown, func(a, b schema.BreakdownEntry) int {
		if c := strings.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return strings.Compare(a.Subtype, b.Subtype)
	})
	return transaction
}

// inferOutcome applies when no outcome was set explicitly: a captured
// error means failure, otherwise the HTTP status decides, otherwise
// the outcome is unknown.
func inferOutcome(errorCaptured bool, httpStatus int) schema.Outcome {
	switch {
	case errorCaptured:
		return schema.OutcomeFailure
	case httpStatus > 0:
		return schema.OutcomeFromHTTPStatus(httpStatus)
	}
	return schema.OutcomeUnknown
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// sanitizeLabelKey replaces the characters label keys may not contain.
func sanitizeLabelKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '"':
			return '_'
		}
		return r
	}, key)
}

func labelValue(value any) any {
	switch value.(type) {
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return value
	}
	return fmt.Sprint(value)
}
