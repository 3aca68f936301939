// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"context"
	"fmt"
	"sync"
	"time"

	schema "github.com/bureau-foundation/apm/lib/schema/apm"
)

// StepOptions modifies StartStep.
type StepOptions struct {
	// StartTime defaults to now.
	StartTime time.Time

	// ChildOf parents the step explicitly: an *Operation or a *Step.
	// By default the step nests under the current step, or the current
	// operation when no step is running.
	ChildOf any

	// Exit marks a call leaving the process. Steps started under an
	// exit step are not traced.
	Exit bool

	// DestinationResource names the downstream service of an exit
	// step, e.g. "postgresql" or "api.example.com:443".
	DestinationResource string
}

// Step is a timed sub-unit of an operation, reported as a span.
type Step struct {
	agent     *Agent
	operation *Operation
	parent    *Step
	id        schema.SpanID
	start     time.Time
	exit      bool

	mu            sync.Mutex
	name          string
	kind          string
	subtype       string
	action        string
	resource      string
	outcome       schema.Outcome
	outcomeSet    bool
	httpStatus    int
	errorCaptured bool
	labels        map[string]any
	end           time.Time
	ended         bool
	childStarted  bool
	composite     *schema.Composite

	children childBuffer
}

// StartStep begins a step under the current step or operation and
// returns a context in which it is current. The step is nil, and ctx is
// returned unchanged, when there is no sampled running operation, when
// the parent is an exit step, or when the operation has reached
// transaction_max_spans.
func (a *Agent) StartStep(ctx context.Context, name, kind, subtype, action string, options StepOptions) (context.Context, *Step) {
	rc := a.manager.Current(ctx)
	op, parent := rc.Operation(), rc.Step()
	switch explicit := options.ChildOf.(type) {
	case *Operation:
		if explicit != nil {
			op, parent = explicit, nil
		}
	case *Step:
		if explicit != nil {
			op, parent = explicit.operation, explicit
		}
	case nil:
	default:
		a.logger.Debug("ignoring unsupported step parent", "type", fmt.Sprintf("%T", explicit))
	}

	if op == nil || !op.sampled {
		return ctx, nil
	}
	if op.Ended() {
		a.logger.Debug("not starting step on ended operation", "operation", op.Name(), "step", name)
		return ctx, nil
	}
	if parent != nil && parent.exit {
		return ctx, nil
	}
	if !op.claimStep() {
		a.logger.Debug("transaction_max_spans reached, dropping step", "operation", op.Name(), "step", name)
		return ctx, nil
	}
	if parent != nil {
		parent.markChildStarted()
	}

	start := options.StartTime
	if start.IsZero() {
		start = a.clock.Now()
	}
	step := &Step{
		agent:     a,
		operation: op,
		parent:    parent,
		id:        schema.NewSpanID(),
		start:     start,
		exit:      options.Exit,
		name:      name,
		kind:      kind,
		subtype:   subtype,
		action:    action,
		resource:  options.DestinationResource,
		outcome:   schema.OutcomeUnknown,
	}
	return a.manager.ContextWith(ctx, rc.EnterStep(step)), step
}

// mutableLocked reports whether s may still change. Caller holds s.mu.
func (s *Step) mutableLocked(field string) bool {
	if s.ended {
		s.agent.logger.Debug("ignoring change to ended step", "step", s.name, "field", field)
		return false
	}
	return true
}

// SetOutcome sets the outcome explicitly, overriding inference.
func (s *Step) SetOutcome(outcome schema.Outcome) error {
	if s == nil {
		return nil
	}
	if !outcome.Valid() {
		return fmt.Errorf("%w %q", schema.ErrInvalidOutcome, outcome)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutableLocked("outcome") {
		s.outcome, s.outcomeSet = outcome, true
	}
	return nil
}

// SetHTTPStatus attaches the status of the response the step received.
func (s *Step) SetHTTPStatus(status int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutableLocked("http_status") {
		s.httpStatus = status
	}
}

// SetLabel attaches an indexed label. Keys are sanitized and values
// that are not scalars are stored as strings.
func (s *Step) SetLabel(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutableLocked("labels") {
		if s.labels == nil {
			s.labels = make(map[string]any)
		}
		s.labels[sanitizeLabelKey(key)] = labelValue(value)
	}
}

// SetDestinationResource names the downstream service an exit step
// calls. Compression only merges steps with the same resource.
func (s *Step) SetDestinationResource(resource string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutableLocked("destination") {
		s.resource = resource
	}
}

func (s *Step) markErrorCaptured() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.errorCaptured = true
	}
}

func (s *Step) markChildStarted() {
	s.mu.Lock()
	s.childStarted = true
	s.mu.Unlock()
}

// Operation returns the operation s belongs to.
func (s *Step) Operation() *Operation {
	if s == nil {
		return nil
	}
	return s.operation
}

// ID returns the step's span id.
func (s *Step) ID() schema.SpanID {
	if s == nil {
		return schema.SpanID{}
	}
	return s.id
}

// Name returns the step's name.
func (s *Step) Name() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Outcome returns the explicit outcome, or once the step has ended the
// one inferred from a captured error or HTTP status.
func (s *Step) Outcome() schema.Outcome {
	if s == nil {
		return schema.OutcomeUnknown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Ended reports whether End has been called.
func (s *Step) Ended() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Traceparent renders the W3C traceparent header naming s as the
// parent of a downstream call.
func (s *Step) Traceparent() string {
	if s == nil {
		return ""
	}
	return formatTraceparent(s.operation.traceID, s.id, s.operation.sampled)
}

// End finishes s. A zero endTime means now; an endTime before the
// start is clamped to the start. Ending twice does nothing.
//
// The step may not be reported immediately: an exit step eligible for
// compression waits in its parent until a sibling either merges into
// it or ends the run.
func (s *Step) End(endTime time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		s.agent.logger.Debug("step already ended", "step", s.name)
		return
	}
	if endTime.IsZero() {
		endTime = s.agent.clock.Now()
	}
	if endTime.Before(s.start) {
		endTime = s.start
	}
	s.end, s.ended = endTime, true
	if !s.outcomeSet {
		s.outcome = inferOutcome(s.errorCaptured, s.httpStatus)
	}
	kind, subtype := s.kind, s.subtype
	s.mu.Unlock()

	s.operation.addBreakdown(kind, subtype, endTime.Sub(s.start))
	if pending := s.children.close(); pending != nil {
		s.agent.reportStep(pending)
	}
	s.finish()
}

// siblings returns the compression buffer of s's parent.
func (s *Step) siblings() *childBuffer {
	if s.parent != nil {
		return &s.parent.children
	}
	return &s.operation.children
}

// record builds the wire form and reports whether exit_span_min_duration
// discards it instead.
func (s *Step) record() (*schema.Span, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	duration := s.end.Sub(s.start)
	if s.exit && s.outcome != schema.OutcomeFailure && duration < s.operation.config.ExitSpanMinDuration {
		return nil, true
	}
	parentID := s.operation.id
	if s.parent != nil {
		parentID = s.parent.id
	}
	span := &schema.Span{
		TraceID:       s.operation.traceID,
		ID:            s.id,
		ParentID:      parentID,
		TransactionID: s.operation.id,
		Name:          s.name,
		Type:          s.kind,
		Subtype:       s.subtype,
		Action:        s.action,
		Timestamp:     s.start.UnixMicro(),
		Duration:      milliseconds(duration),
		Outcome:       s.outcome,
		Exit:          s.exit,
		SampleRate:    s.operation.sampleRate,
		Labels:        redact(s.operation.config, s.labels),
	}
	if s.resource != "" {
		span.Destination = &schema.Destination{Resource: s.resource}
	}
	if s.composite != nil {
		composite := *s.composite
		span.Composite = &composite
	}
	return span, false
}
