// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/apm/lib/clock"
	"github.com/bureau-foundation/apm/lib/logging"
)

const centralDocument = `{
	// Raised during the incident on 2026-03-02.
	"transaction_sample_rate": 0.25,
	"log_level": "debug",
	"transaction_ignore_urls": ["/health*", "/metrics"],
	"span_compression_enabled": false,
}`

func TestParseCentralConfig(t *testing.T) {
	values, err := ParseCentralConfig([]byte(centralDocument))
	if err != nil {
		t.Fatalf("ParseCentralConfig: %v", err)
	}
	want := map[string]string{
		"transaction_sample_rate":  "0.25",
		"log_level":                "debug",
		"transaction_ignore_urls":  "/health*,/metrics",
		"span_compression_enabled": "false",
	}
	if len(values) != len(want) {
		t.Fatalf("values = %v, want %v", values, want)
	}
	for key, value := range want {
		if values[key] != value {
			t.Errorf("%s = %q, want %q", key, values[key], value)
		}
	}

	if _, err := ParseCentralConfig([]byte(`{"nested": {"a": 1}}`)); err == nil {
		t.Fatal("nested object accepted")
	}
	if _, err := ParseCentralConfig([]byte(`not json`)); err == nil {
		t.Fatal("garbage accepted")
	}
}

// centralServer serves centralDocument with an ETag and answers 304 to
// a matching If-None-Match.
type centralServer struct {
	*httptest.Server
	requests atomic.Int32

	mu      sync.Mutex
	queries []string
}

func newCentralServer(t *testing.T) *centralServer {
	t.Helper()
	server := &centralServer{}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.requests.Add(1)
		server.mu.Lock()
		server.queries = append(server.queries, r.URL.RawQuery)
		server.mu.Unlock()

		w.Header().Set("Cache-Control", "private, max-age=30")
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(centralDocument))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCentralConfigPollerPoll(t *testing.T) {
	server := newCentralServer(t)
	var received []map[string]string
	poller, err := NewCentralConfigPoller(CentralConfigOptions{
		ServerURL:   server.URL,
		ServiceName: "checkout",
		Environment: "staging",
		Logger:      logging.Discard(),
		OnConfig:    func(values map[string]string) { received = append(received, values) },
	})
	if err != nil {
		t.Fatalf("NewCentralConfigPoller: %v", err)
	}

	next, err := poller.Poll(context.Background())
	if err != nil {
		t.Fatalf("first Poll: %v", err)
	}
	if next != 30*time.Second {
		t.Fatalf("next poll in %v, want max-age 30s", next)
	}
	if len(received) != 1 || received[0]["log_level"] != "debug" {
		t.Fatalf("OnConfig calls = %v", received)
	}

	if _, err := poller.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("unchanged configuration delivered again: %v", received)
	}

	server.mu.Lock()
	query := server.queries[0]
	server.mu.Unlock()
	if query != "service.environment=staging&service.name=checkout" {
		t.Fatalf("query = %q", query)
	}
}

func TestCentralConfigPollerReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()
	poller, err := NewCentralConfigPoller(CentralConfigOptions{
		ServerURL:   server.URL,
		ServiceName: "checkout",
		Interval:    time.Minute,
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewCentralConfigPoller: %v", err)
	}
	next, err := poller.Poll(context.Background())
	if err == nil {
		t.Fatal("Poll succeeded against a failing collector")
	}
	if next != time.Minute {
		t.Fatalf("retry in %v, want the configured interval", next)
	}
}

func TestCentralConfigPollerRunUsesMaxAge(t *testing.T) {
	server := newCentralServer(t)
	fake := clock.Fake(epoch)
	poller, err := NewCentralConfigPoller(CentralConfigOptions{
		ServerURL:   server.URL,
		ServiceName: "checkout",
		Clock:       fake,
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewCentralConfigPoller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	fake.WaitForTimers(1)
	if got := server.requests.Load(); got != 1 {
		t.Fatalf("%d requests before the first wait, want 1", got)
	}
	fake.Advance(29 * time.Second)
	if got := server.requests.Load(); got != 1 {
		t.Fatalf("polled again before max-age expired (%d requests)", got)
	}
	fake.Advance(time.Second)
	fake.WaitForTimers(1)
	if got := server.requests.Load(); got != 2 {
		t.Fatalf("%d requests after max-age, want 2", got)
	}
}

func TestNewCentralConfigPollerRequiresService(t *testing.T) {
	if _, err := NewCentralConfigPoller(CentralConfigOptions{ServerURL: "http://collector:8200"}); err == nil {
		t.Fatal("poller created without a service name")
	}
}
