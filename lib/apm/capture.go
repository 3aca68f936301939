// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/apm/lib/config"
	"github.com/bureau-foundation/apm/lib/inflight"
	schema "github.com/bureau-foundation/apm/lib/schema/apm"
)

// maxStackFrames bounds the stack recorded for a captured error.
const maxStackFrames = 64

// redacted replaces values whose keys match sanitize_field_names.
const redacted = "[REDACTED]"

// CaptureOptions modifies CaptureError.
type CaptureOptions struct {
	// Handled records that the application recovered from the error.
	Handled bool

	// Parent attaches the error to an *Operation or *Step. By default
	// it attaches to the current step, or the current operation.
	Parent any

	Labels map[string]any
	Custom map[string]any

	// SkipOutcome leaves the parent's outcome alone. Otherwise a
	// captured error makes the parent's inferred outcome failure.
	SkipOutcome bool

	// Message is reported as the log message. It is required when err
	// is nil.
	Message string

	// Callback runs once the error has been processed and flushed,
	// with the flush error.
	Callback func(id string, err error)
}

// capture is an error report on its way through filters.
type capture struct {
	id        string
	err       error
	options   CaptureOptions
	timestamp time.Time
	stack     []uintptr
	operation *Operation
	step      *Step
	config    *config.Config
	set       *inflight.Set
}

// CaptureError reports err and returns the id of the report. Filters
// and queueing run on another goroutine; until they finish, the report
// is inflight and a Flush waits for it.
//
// On an inactive agent CaptureError returns "" and passes ErrNotStarted
// to options.Callback.
func (a *Agent) CaptureError(ctx context.Context, err error, options CaptureOptions) string {
	cfg := a.activeConfig()
	if cfg == nil {
		if options.Callback != nil {
			options.Callback("", ErrNotStarted)
		}
		return ""
	}
	if err == nil && options.Message == "" {
		a.logger.Debug("ignoring capture with neither error nor message")
		return ""
	}

	var pcs [maxStackFrames]uintptr
	depth := runtime.Callers(2, pcs[:])

	op, step := a.captureParent(ctx, options.Parent)
	if !options.SkipOutcome {
		switch {
		case step != nil:
			step.markErrorCaptured()
		case op != nil:
			op.markErrorCaptured()
		}
	}

	pending := &capture{
		id:        uuid.NewString(),
		err:       err,
		options:   options,
		timestamp: a.clock.Now(),
		stack:     pcs[:depth],
		operation: op,
		step:      step,
		config:    cfg,
	}
	a.mu.Lock()
	pending.set = a.inflight
	pending.set.Add(pending.id)
	a.mu.Unlock()

	go a.processCapture(pending)
	return pending.id
}

func (a *Agent) captureParent(ctx context.Context, parent any) (*Operation, *Step) {
	switch p := parent.(type) {
	case *Operation:
		if p != nil {
			return p, nil
		}
	case *Step:
		if p != nil {
			return p.operation, p
		}
	}
	rc := a.manager.Current(ctx)
	return rc.Operation(), rc.Step()
}

func (a *Agent) processCapture(pending *capture) {
	a.queueCapture(pending)

	if callback := pending.options.Callback; callback != nil {
		defer func() {
			if recovered := recover(); recovered != nil {
				a.logger.Error("capture callback panicked", "id", pending.id, "panic", recovered)
			}
		}()
		callback(pending.id, a.Flush(context.Background()))
	}
}

// queueCapture builds, filters and queues the report, then leaves the
// inflight set. A panic from the captured error's own methods drops the
// report.
func (a *Agent) queueCapture(pending *capture) {
	defer pending.set.Delete(pending.id)
	defer func() {
		if recovered := recover(); recovered != nil {
			a.logger.Error("dropping error report that panicked while being built",
				"id", pending.id,
				"panic", recovered,
			)
		}
	}()

	errorFilters, _, _ := a.filters.snapshot()
	record := runFilters(a.logger, "error", errorFilters, pending.record(), (*schema.Error).Clone)
	if record != nil {
		a.enqueue(schema.Event{Kind: schema.KindError, Error: record})
	}
}

func (c *capture) record() *schema.Error {
	record := &schema.Error{
		ID:        c.id,
		Timestamp: c.timestamp.UnixMicro(),
		Labels:    redact(c.config, sanitizeLabels(c.options.Labels)),
		Custom:    redact(c.config, c.options.Custom),
	}

	stack := stackFrames(c.stack)
	if len(stack) > 0 {
		record.Culprit = stack[0].Function
	}
	if c.err != nil {
		record.Exception = &schema.Exception{
			Type:       errorType(c.err),
			Message:    errorMessage(c.err),
			Handled:    c.options.Handled,
			Stacktrace: stack,
		}
	}
	if c.options.Message != "" {
		record.Log = &schema.LogRecord{Message: c.options.Message}
	}

	if op := c.operation; op != nil {
		record.TraceID = op.traceID
		record.TransactionID = op.id
		record.ParentID = op.id
		if c.step != nil {
			record.ParentID = c.step.id
		}
		record.Transaction = &schema.TransactionSummary{
			Name:    op.Name(),
			Type:    op.kindName(),
			Sampled: op.sampled,
		}
	}
	return record
}

func (o *Operation) kindName() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.kind
}

func stackFrames(pcs []uintptr) []schema.StackFrame {
	if len(pcs) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs)
	stack := make([]schema.StackFrame, 0, len(pcs))
	for {
		frame, more := frames.Next()
		stack = append(stack, schema.StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more {
			return stack
		}
	}
}

// maxUnwrap bounds the wrap chain errorType follows.
const maxUnwrap = 32

// errorType names the innermost error of a wrap chain; the wrappers
// themselves are rarely informative.
func errorType(err error) string {
	for range maxUnwrap {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return fmt.Sprintf("%T", err)
}

// errorMessage is err.Error() through fmt, which turns a panicking
// Error method (a typed nil pointer, usually) into text.
func errorMessage(err error) string {
	return fmt.Sprint(err)
}

func sanitizeLabels(labels map[string]any) map[string]any {
	if len(labels) == 0 {
		return nil
	}
	sanitized := make(map[string]any, len(labels))
	for key, value := range labels {
		sanitized[sanitizeLabelKey(key)] = labelValue(value)
	}
	return sanitized
}

// redact copies values, replacing those whose keys match
// sanitize_field_names.
func redact(cfg *config.Config, values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		if cfg.SanitizeField(key) {
			out[key] = redacted
		} else {
			out[key] = value
		}
	}
	return out
}
