// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/apm/lib/clock"
	"github.com/bureau-foundation/apm/lib/config"
	"github.com/bureau-foundation/apm/lib/logging"
	schema "github.com/bureau-foundation/apm/lib/schema/apm"
	"github.com/bureau-foundation/apm/lib/transport"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// orderLog records named points in the order they happen.
type orderLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *orderLog) add(entry string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *orderLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// recordingSender keeps every request it is given.
type recordingSender struct {
	mu       sync.Mutex
	requests []*transport.Request
	log      *orderLog
}

func (s *recordingSender) Send(_ context.Context, request *transport.Request) error {
	s.mu.Lock()
	s.requests = append(s.requests, request)
	s.mu.Unlock()
	if s.log != nil {
		s.log.add("send")
	}
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// events decodes every event received so far, in send order.
func (s *recordingSender) events(t *testing.T) []schema.Event {
	t.Helper()
	s.mu.Lock()
	requests := append([]*transport.Request(nil), s.requests...)
	s.mu.Unlock()

	var events []schema.Event
	for _, request := range requests {
		batch, err := transport.DecodeRequest(request.Body, request.Encoding, request.Digest)
		if err != nil {
			t.Fatalf("DecodeRequest: %v", err)
		}
		decoded, err := batch.DecodeEvents()
		if err != nil {
			t.Fatalf("DecodeEvents: %v", err)
		}
		events = append(events, decoded...)
	}
	return events
}

// newTestAgent starts an agent for service "checkout" on a fake clock,
// sending to a recordingSender. configure may adjust the configuration
// before Start.
func newTestAgent(t *testing.T, configure func(*config.Config)) (*Agent, *recordingSender, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	sender := &recordingSender{}
	agent := NewAgent(AgentOptions{Logger: logging.Discard(), Clock: fake, Sender: sender})

	cfg := config.Default()
	cfg.ServiceName = "checkout"
	if configure != nil {
		configure(cfg)
	}
	if err := agent.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !agent.IsActive() {
		t.Fatal("agent did not become active")
	}
	t.Cleanup(func() { agent.Destroy(context.Background()) })
	return agent, sender, fake
}

// flushEvents flushes the agent and returns everything sent so far.
func flushEvents(t *testing.T, agent *Agent, sender *recordingSender) []schema.Event {
	t.Helper()
	if err := agent.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return sender.events(t)
}

func spansOf(events []schema.Event) []*schema.Span {
	var spans []*schema.Span
	for _, event := range events {
		if event.Kind == schema.KindSpan {
			spans = append(spans, event.Span)
		}
	}
	return spans
}

func transactionsOf(events []schema.Event) []*schema.Transaction {
	var transactions []*schema.Transaction
	for _, event := range events {
		if event.Kind == schema.KindTransaction {
			transactions = append(transactions, event.Transaction)
		}
	}
	return transactions
}

func errorsOf(events []schema.Event) []*schema.Error {
	var captured []*schema.Error
	for _, event := range events {
		if event.Kind == schema.KindError {
			captured = append(captured, event.Error)
		}
	}
	return captured
}
