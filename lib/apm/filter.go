// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"log/slog"
	"sync"

	schema "github.com/bureau-foundation/apm/lib/schema/apm"
)

// Filters see each record before it is queued. A filter returns the
// record to keep (the one it was given, modified or not, or a
// replacement) and true, or false to drop the event. A filter that
// panics is logged and skipped: the record continues as it was before
// that filter ran, labels and exception included.
type (
	ErrorFilter       func(*schema.Error) (*schema.Error, bool)
	TransactionFilter func(*schema.Transaction) (*schema.Transaction, bool)
	SpanFilter        func(*schema.Span) (*schema.Span, bool)
)

type filters struct {
	mu           sync.Mutex
	errors       []ErrorFilter
	transactions []TransactionFilter
	spans        []SpanFilter
}

// AddErrorFilter appends a filter run on every captured error.
func (a *Agent) AddErrorFilter(filter ErrorFilter) {
	a.filters.mu.Lock()
	a.filters.errors = append(a.filters.errors, filter)
	a.filters.mu.Unlock()
}

// AddTransactionFilter appends a filter run on every ended operation.
func (a *Agent) AddTransactionFilter(filter TransactionFilter) {
	a.filters.mu.Lock()
	a.filters.transactions = append(a.filters.transactions, filter)
	a.filters.mu.Unlock()
}

// AddSpanFilter appends a filter run on every reported step.
func (a *Agent) AddSpanFilter(filter SpanFilter) {
	a.filters.mu.Lock()
	a.filters.spans = append(a.filters.spans, filter)
	a.filters.mu.Unlock()
}

// snapshot returns the filter lists. Appends after this call do not
// affect the returned slices.
func (f *filters) snapshot() ([]ErrorFilter, []TransactionFilter, []SpanFilter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errors[:len(f.errors):len(f.errors)],
		f.transactions[:len(f.transactions):len(f.transactions)],
		f.spans[:len(f.spans):len(f.spans)]
}

// runFilters passes record through filters in order and returns the
// result, or nil when a filter dropped it. Each filter is handed a
// clone.
func runFilters[T any, F ~func(*T) (*T, bool)](logger *slog.Logger, kind string, filters []F, record *T, clone func(*T) *T) *T {
	for i, filter := range filters {
		next, keep, recovered := callFilter(filter, clone(record))
		if recovered != nil {
			logger.Error("event filter panicked, passing event through",
				"kind", kind,
				"filter", i,
				"panic", recovered,
			)
			continue
		}
		if !keep || next == nil {
			logger.Debug("event dropped by filter", "kind", kind, "filter", i)
			return nil
		}
		record = next
	}
	return record
}

// callFilter runs filter, converting a panic into recovered.
func callFilter[T any, F ~func(*T) (*T, bool)](filter F, record *T) (next *T, keep bool, recovered any) {
	defer func() {
		if r := recover(); r != nil {
			next, keep, recovered = nil, false, r
		}
	}()
	next, keep = filter(record)
	return next, keep, nil
}

func (a *Agent) reportOperation(o *Operation) {
	_, transactionFilters, _ := a.filters.snapshot()
	record := runFilters(a.logger, "transaction", transactionFilters, o.record(), (*schema.Transaction).Clone)
	if record == nil {
		return
	}
	a.enqueue(schema.Event{Kind: schema.KindTransaction, Transaction: record})
}

func (a *Agent) reportStep(s *Step) {
	record, discard := s.record()
	if discard {
		s.operation.dropStep()
		return
	}
	_, _, spanFilters := a.filters.snapshot()
	record = runFilters(a.logger, "span", spanFilters, record, (*schema.Span).Clone)
	if record == nil {
		return
	}
	a.enqueue(schema.Event{Kind: schema.KindSpan, Span: record})
}
