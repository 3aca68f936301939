// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/apm/lib/config"
	schema "github.com/bureau-foundation/apm/lib/schema/apm"
	"github.com/bureau-foundation/apm/lib/wildcard"
)

func TestStepOutcomeFromHTTPStatus(t *testing.T) {
	agent, sender, _ := newTestAgent(t, nil)
	ctx, op := agent.StartOperation(context.Background(), "GET /orders", "request", OperationOptions{})

	tests := []struct {
		name     string
		status   int
		explicit schema.Outcome
		want     schema.Outcome
	}{
		{"unavailable", 503, "", schema.OutcomeFailure},
		{"no content", 204, "", schema.OutcomeSuccess},
		{"not found", 404, "", schema.OutcomeSuccess},
		{"no status", 0, "", schema.OutcomeUnknown},
		{"explicit wins", 503, schema.OutcomeSuccess, schema.OutcomeSuccess},
	}
	for _, test := range tests {
		_, step := agent.StartStep(ctx, test.name, "external", "http", "GET", StepOptions{})
		if test.explicit != "" {
			if err := step.SetOutcome(test.explicit); err != nil {
				t.Fatalf("%s: SetOutcome: %v", test.name, err)
			}
		}
		if test.status != 0 {
			step.SetHTTPStatus(test.status)
		}
		step.End(time.Time{})
		if got := step.Outcome(); got != test.want {
			t.Errorf("%s: outcome %q, want %q", test.name, got, test.want)
		}
	}
	op.End("", time.Time{})

	spans := spansOf(flushEvents(t, agent, sender))
	if len(spans) != len(tests) {
		t.Fatalf("sent %d spans, want %d", len(spans), len(tests))
	}
	for i, span := range spans {
		if span.Outcome != tests[i].want {
			t.Errorf("span %q reported outcome %q, want %q", span.Name, span.Outcome, tests[i].want)
		}
	}
}

func TestOperationOutcomeFromCapturedError(t *testing.T) {
	agent, sender, _ := newTestAgent(t, nil)

	ctx, failed := agent.StartOperation(context.Background(), "failed", "request", OperationOptions{})
	agent.CaptureError(ctx, errors.New("payment declined"), CaptureOptions{})
	failed.SetHTTPStatus(200)
	failed.End("", time.Time{})

	ctx, skipped := agent.StartOperation(context.Background(), "skipped", "request", OperationOptions{})
	agent.CaptureError(ctx, errors.New("cache miss"), CaptureOptions{SkipOutcome: true})
	skipped.End("", time.Time{})

	if failed.Outcome() != schema.OutcomeFailure {
		t.Errorf("operation with captured error: outcome %q", failed.Outcome())
	}
	if skipped.Outcome() != schema.OutcomeUnknown {
		t.Errorf("operation with SkipOutcome capture: outcome %q", skipped.Outcome())
	}
	if got := len(errorsOf(flushEvents(t, agent, sender))); got != 2 {
		t.Fatalf("sent %d errors, want 2", got)
	}
}

func TestSetOutcomeRejectsInvalid(t *testing.T) {
	agent, _, _ := newTestAgent(t, nil)
	ctx, op := agent.StartOperation(context.Background(), "op", "request", OperationOptions{})
	_, step := agent.StartStep(ctx, "step", "app", "", "", StepOptions{})

	if err := op.SetOutcome("partial"); !errors.Is(err, schema.ErrInvalidOutcome) {
		t.Errorf("Operation.SetOutcome(partial) = %v", err)
	}
	if err := step.SetOutcome("ok"); !errors.Is(err, schema.ErrInvalidOutcome) {
		t.Errorf("Step.SetOutcome(ok) = %v", err)
	}
	if op.Outcome() != schema.OutcomeUnknown {
		t.Errorf("invalid outcome was applied: %q", op.Outcome())
	}
}

func TestNilEntitiesAreNoOps(t *testing.T) {
	t.Parallel()
	var op *Operation
	var step *Step
	op.SetName("x")
	op.SetLabel("k", "v")
	op.SetHTTPStatus(500)
	op.End("", time.Time{})
	step.SetLabel("k", 1)
	step.SetDestinationResource("db")
	step.End(time.Time{})
	if op.SetOutcome("bogus") != nil || step.SetOutcome("bogus") != nil {
		t.Fatal("nil receivers returned an error")
	}
	if op.Sampled() || op.Ended() || step.Ended() || op.Traceparent() != "" || step.Traceparent() != "" {
		t.Fatal("nil receivers reported state")
	}
}

func TestEndClampsAndHappensOnce(t *testing.T) {
	agent, sender, fake := newTestAgent(t, nil)
	_, op := agent.StartOperation(context.Background(), "op", "request", OperationOptions{})

	op.End("early", fake.Now().Add(-time.Second))
	if op.Duration() != 0 {
		t.Fatalf("end before start gave duration %v, want 0", op.Duration())
	}
	op.SetName("renamed")
	op.End("again", fake.Now().Add(time.Hour))

	transactions := transactionsOf(flushEvents(t, agent, sender))
	if len(transactions) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(transactions))
	}
	if transactions[0].Name != "op" || transactions[0].Result != "early" || transactions[0].Duration != 0 {
		t.Fatalf("ended transaction changed: %+v", transactions[0])
	}
}

func TestStepsStartOnlyUnderTracedOperations(t *testing.T) {
	agent, _, _ := newTestAgent(t, func(cfg *config.Config) {
		cfg.TransactionIgnoreURLs = wildcard.CompileAll([]string{"/health*"})
	})

	if _, step := agent.StartStep(context.Background(), "orphan", "db", "", "", StepOptions{}); step != nil {
		t.Fatal("step started without an operation")
	}

	ctx, outer := agent.StartOperation(context.Background(), "outer", "request", OperationOptions{})
	ignoredCtx, ignored := agent.StartOperation(ctx, "GET /healthz", "request", OperationOptions{URLPath: "/healthz"})
	if ignored != nil {
		t.Fatal("ignored URL was traced")
	}
	if agent.CurrentOperation(ignoredCtx) != nil {
		t.Fatal("the enclosing operation leaked into an ignored request")
	}
	if _, step := agent.StartStep(ignoredCtx, "lookup", "db", "", "", StepOptions{}); step != nil {
		t.Fatal("step started under an ignored operation")
	}

	exitCtx, exit := agent.StartStep(ctx, "GET api", "external", "http", "GET", StepOptions{Exit: true})
	if exit == nil {
		t.Fatal("exit step not started")
	}
	if _, nested := agent.StartStep(exitCtx, "dns", "external", "dns", "", StepOptions{}); nested != nil {
		t.Fatal("step started under an exit step")
	}
	if agent.CurrentStep(exitCtx) != exit {
		t.Fatal("exit step not current in its context")
	}

	outer.End("", time.Time{})
	if _, late := agent.StartStep(ctx, "late", "app", "", "", StepOptions{}); late != nil {
		t.Fatal("step started on an ended operation")
	}
}

func TestTransactionMaxSpans(t *testing.T) {
	agent, sender, _ := newTestAgent(t, func(cfg *config.Config) { cfg.TransactionMaxSpans = 2 })
	ctx, op := agent.StartOperation(context.Background(), "op", "request", OperationOptions{})

	var started int
	for range 3 {
		if _, step := agent.StartStep(ctx, "work", "app", "", "", StepOptions{}); step != nil {
			started++
			step.End(time.Time{})
		}
	}
	if started != 2 {
		t.Fatalf("started %d steps with a limit of 2", started)
	}
	op.End("", time.Time{})

	transactions := transactionsOf(flushEvents(t, agent, sender))
	if len(transactions) != 1 {
		t.Fatalf("sent %d transactions", len(transactions))
	}
	if count := transactions[0].SpanCount; count.Started != 2 || count.Dropped != 1 {
		t.Fatalf("span count = %+v, want 2 started, 1 dropped", count)
	}
}

func TestUnsampledOperationIsReportedBare(t *testing.T) {
	agent, sender, _ := newTestAgent(t, func(cfg *config.Config) { cfg.TransactionSampleRate = 0 })
	ctx, op := agent.StartOperation(context.Background(), "op", "request", OperationOptions{})
	if op == nil || op.Sampled() {
		t.Fatal("rate 0 produced a missing or sampled operation")
	}
	op.SetLabel("customer", "42")
	if _, step := agent.StartStep(ctx, "work", "app", "", "", StepOptions{}); step != nil {
		t.Fatal("unsampled operation started a step")
	}
	if !strings.HasSuffix(op.Traceparent(), "-00") {
		t.Fatalf("unsampled traceparent %q lacks the unsampled flag", op.Traceparent())
	}
	op.End("", time.Time{})

	transactions := transactionsOf(flushEvents(t, agent, sender))
	if len(transactions) != 1 || transactions[0].Sampled || transactions[0].Labels != nil {
		t.Fatalf("unsampled transaction = %+v", transactions)
	}
}

func TestStepMayOutliveItsOperation(t *testing.T) {
	agent, sender, fake := newTestAgent(t, nil)
	ctx, op := agent.StartOperation(context.Background(), "op", "request", OperationOptions{})
	_, step := agent.StartStep(ctx, "background", "app", "", "", StepOptions{})
	op.End("", time.Time{})
	fake.Advance(time.Second)
	step.End(time.Time{})

	events := flushEvents(t, agent, sender)
	if len(events) != 2 || events[0].Kind != schema.KindTransaction || events[1].Kind != schema.KindSpan {
		t.Fatalf("events = %+v", events)
	}
	if events[1].Span.TransactionID != op.ID() || events[1].Span.Duration != 1000 {
		t.Fatalf("late span = %+v", events[1].Span)
	}
}

func TestBreakdownAggregatesByType(t *testing.T) {
	agent, sender, _ := newTestAgent(t, nil)
	ctx, op := agent.StartOperation(context.Background(), "op", "request", OperationOptions{})
	start := epoch
	for _, d := range []time.Duration{10, 30} {
		_, step := agent.StartStep(ctx, "query", "db", "postgresql", "query", StepOptions{StartTime: start})
		step.End(start.Add(d * time.Millisecond))
	}
	_, step := agent.StartStep(ctx, "render", "template", "", "", StepOptions{StartTime: start})
	step.End(start.Add(5 * time.Millisecond))
	op.End("", time.Time{})

	transactions := transactionsOf(flushEvents(t, agent, sender))
	breakdown := transactions[0].Breakdown
	if len(breakdown) != 2 {
		t.Fatalf("breakdown = %+v", breakdown)
	}
	if db := breakdown[0]; db.Type != "db" || db.Subtype != "postgresql" || db.Count != 2 || db.Sum != 40 {
		t.Fatalf("db breakdown = %+v", db)
	}
	if tmpl := breakdown[1]; tmpl.Type != "template" || tmpl.Count != 1 || tmpl.Sum != 5 {
		t.Fatalf("template breakdown = %+v", tmpl)
	}
}

func TestExitSpanMinDurationDiscardsShortCalls(t *testing.T) {
	agent, sender, _ := newTestAgent(t, func(cfg *config.Config) { cfg.ExitSpanMinDuration = 10 * time.Millisecond })
	ctx, op := agent.StartOperation(context.Background(), "op", "request", OperationOptions{})

	_, fast := agent.StartStep(ctx, "fast", "cache", "redis", "GET", StepOptions{Exit: true, StartTime: epoch})
	fast.End(epoch.Add(2 * time.Millisecond))
	_, failing := agent.StartStep(ctx, "failing", "cache", "redis", "GET", StepOptions{Exit: true, StartTime: epoch})
	failing.SetOutcome(schema.OutcomeFailure)
	failing.End(epoch.Add(2 * time.Millisecond))
	_, slow := agent.StartStep(ctx, "slow", "cache", "redis", "GET", StepOptions{Exit: true, StartTime: epoch})
	slow.End(epoch.Add(20 * time.Millisecond))
	op.End("", time.Time{})

	events := flushEvents(t, agent, sender)
	spans := spansOf(events)
	if len(spans) != 2 || spans[0].Name != "failing" || spans[1].Name != "slow" {
		t.Fatalf("spans = %+v", spans)
	}
	if dropped := transactionsOf(events)[0].SpanCount.Dropped; dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}

func TestLabelsAreSanitized(t *testing.T) {
	agent, sender, _ := newTestAgent(t, nil)
	ctx, op := agent.StartOperation(context.Background(), "op", "request", OperationOptions{})
	op.SetLabel("user.id", 7)
	op.SetLabel("session_token", "abc")
	op.SetCustom("cart", []string{"book"})
	_, step := agent.StartStep(ctx, "step", "app", "", "", StepOptions{})
	step.SetLabel("api_key", "secret")
	step.End(time.Time{})
	op.End("", time.Time{})

	events := flushEvents(t, agent, sender)
	labels := transactionsOf(events)[0].Labels
	if labels["user_id"] != uint64(7) || labels["session_token"] != redacted {
		t.Fatalf("transaction labels = %#v", labels)
	}
	if spansOf(events)[0].Labels["api_key"] != redacted {
		t.Fatalf("span labels = %#v", spansOf(events)[0].Labels)
	}
}
