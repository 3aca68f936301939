// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"context"
	"errors"
	"testing"
	"time"

	schema "github.com/bureau-foundation/apm/lib/schema/apm"
	"github.com/bureau-foundation/apm/lib/testutil"
)

// detailError dereferences its receiver in Error, so a typed nil
// *detailError panics there.
type detailError struct{ detail string }

func (e *detailError) Error() string { return e.detail }

// unwrapPanicError panics when unwrapped.
type unwrapPanicError struct{}

func (unwrapPanicError) Error() string { return "wrapped" }
func (unwrapPanicError) Unwrap() error { panic("unwrap exploded") }

func TestCaptureTypedNilError(t *testing.T) {
	agent, sender, _ := newTestAgent(t, nil)

	var err *detailError
	done := make(chan error, 1)
	agent.CaptureError(context.Background(), err, CaptureOptions{
		Callback: func(_ string, err error) { done <- err },
	})
	if err := testutil.RequireReceive(t, done, 5*time.Second, "capture callback"); err != nil {
		t.Fatalf("capture flush: %v", err)
	}

	captured := errorsOf(sender.events(t))
	if len(captured) != 1 {
		t.Fatalf("sent %d errors, want 1", len(captured))
	}
	exception := captured[0].Exception
	if exception == nil || exception.Type != "*apm.detailError" || exception.Message != "<nil>" {
		t.Fatalf("exception = %+v", exception)
	}
}

func TestCapturePanickingErrorIsDropped(t *testing.T) {
	agent, sender, _ := newTestAgent(t, nil)

	done := make(chan error, 1)
	agent.CaptureError(context.Background(), unwrapPanicError{}, CaptureOptions{
		Callback: func(_ string, err error) { done <- err },
	})
	if err := testutil.RequireReceive(t, done, 5*time.Second, "capture callback"); err != nil {
		t.Fatalf("capture flush: %v", err)
	}

	// The report left the inflight set, so this flush does not wait on
	// it; the fake clock never fires the drain timeout.
	flushed := make(chan error, 1)
	go func() { flushed <- agent.Flush(context.Background()) }()
	if err := testutil.RequireReceive(t, flushed, 5*time.Second, "flush after a dropped capture"); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := len(errorsOf(sender.events(t))); got != 0 {
		t.Fatalf("sent %d errors, want the report dropped", got)
	}
}

func TestCaptureCallbackPanicIsContained(t *testing.T) {
	agent, sender, _ := newTestAgent(t, nil)

	called := make(chan struct{})
	agent.CaptureError(context.Background(), errors.New("boom"), CaptureOptions{
		Callback: func(string, error) {
			close(called)
			panic("callback exploded")
		},
	})
	testutil.RequireClosed(t, called, 5*time.Second, "capture callback")

	// The agent keeps working after the callback's panic.
	agent.CaptureError(context.Background(), errors.New("second"), CaptureOptions{})
	if got := len(errorsOf(flushEvents(t, agent, sender))); got != 2 {
		t.Fatalf("sent %d errors, want 2", got)
	}
}

func TestFlushIgnoresCapturesStartedAfterIt(t *testing.T) {
	agent, sender, fake := newTestAgent(t, nil)

	gates := map[string]chan struct{}{
		"first":  make(chan struct{}),
		"second": make(chan struct{}),
	}
	agent.AddErrorFilter(func(record *schema.Error) (*schema.Error, bool) {
		<-gates[record.Exception.Message]
		return record, true
	})

	agent.CaptureError(context.Background(), errors.New("first"), CaptureOptions{})
	firstFlush := make(chan error, 1)
	go func() { firstFlush <- agent.Flush(context.Background()) }()

	// The transport ticker and the first flush's drain timer: the
	// inflight set has been rotated.
	fake.WaitForTimers(2)
	agent.CaptureError(context.Background(), errors.New("second"), CaptureOptions{})

	close(gates["first"])
	if err := testutil.RequireReceive(t, firstFlush, 5*time.Second, "first flush while the second capture is pending"); err != nil {
		t.Fatalf("first Flush: %v", err)
	}
	captured := errorsOf(sender.events(t))
	if len(captured) != 1 || captured[0].Exception.Message != "first" {
		t.Fatalf("after the first flush sent %+v", captured)
	}

	secondFlush := make(chan error, 1)
	go func() { secondFlush <- agent.Flush(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-secondFlush:
		t.Fatalf("second flush returned before the second capture finished: %v", err)
	default:
	}

	close(gates["second"])
	if err := testutil.RequireReceive(t, secondFlush, 5*time.Second, "second flush"); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if got := len(errorsOf(sender.events(t))); got != 2 {
		t.Fatalf("sent %d errors, want 2", got)
	}
}

func TestPanickingFilterLeavesNestedFieldsAlone(t *testing.T) {
	agent, sender, _ := newTestAgent(t, nil)
	agent.AddErrorFilter(func(record *schema.Error) (*schema.Error, bool) {
		record.Labels["region"] = "tampered"
		record.Exception.Message = "tampered"
		panic("filter bug")
	})
	agent.AddTransactionFilter(func(record *schema.Transaction) (*schema.Transaction, bool) {
		record.Labels["tier"] = "tampered"
		panic("filter bug")
	})

	ctx, op := agent.StartOperation(context.Background(), "op", "request", OperationOptions{})
	op.SetLabel("tier", "gold")
	agent.CaptureError(ctx, errors.New("card declined"), CaptureOptions{
		Labels: map[string]any{"region": "eu"},
	})
	op.End("", time.Time{})

	events := flushEvents(t, agent, sender)
	captured := errorsOf(events)
	if len(captured) != 1 {
		t.Fatalf("sent %d errors, want 1", len(captured))
	}
	if captured[0].Labels["region"] != "eu" || captured[0].Exception.Message != "card declined" {
		t.Fatalf("error after a panicking filter: labels=%v exception=%+v", captured[0].Labels, captured[0].Exception)
	}
	transactions := transactionsOf(events)
	if len(transactions) != 1 || transactions[0].Labels["tier"] != "gold" {
		t.Fatalf("transactions = %+v", transactions)
	}
}
