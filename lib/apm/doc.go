// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package apm is the in-process tracing agent: it tracks which
// operation and step are active along each logical flow of execution,
// records their timing and outcome, captures errors, and hands the
// finished records to the batching transport.
//
// The active operation travels explicitly. A *RunContext names the
// current Operation and Step; it rides inside a context.Context, and
// every entry point takes the caller's context and returns a derived
// one for the work it starts:
//
//	ctx, op := agent.StartOperation(ctx, "GET /orders", "request", apm.OperationOptions{})
//	defer op.End("HTTP 2xx", time.Time{})
//
//	ctx, step := agent.StartStep(ctx, "SELECT orders", "db", "postgresql", "query",
//		apm.StepOptions{Exit: true})
//	rows, err := query(ctx)
//	step.End(time.Time{})
//
// Work that leaves the current goroutine keeps its context by carrying
// ctx along, or through the binding helpers on RunContextManager (Go,
// BindFunc, BindEmitter) when the callee's signature is fixed.
//
// A nil *Operation or *Step means "not traced": sampling dropped it,
// the agent is inactive, or a limit was reached. Every method on a nil
// receiver is a no-op, so instrumentation never needs to check.
package apm
