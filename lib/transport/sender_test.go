// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bureau-foundation/apm/lib/config"
)

func TestHTTPSenderPostsBatch(t *testing.T) {
	type received struct {
		header http.Header
		path   string
		body   []byte
	}
	got := make(chan received, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{header: r.Header.Clone(), path: r.URL.Path, body: body}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender, err := NewHTTPSender(HTTPSenderOptions{
		ServerURL:   server.URL,
		SecretToken: "token",
		UserAgent:   "apm-go/test",
	})
	if err != nil {
		t.Fatalf("NewHTTPSender: %v", err)
	}
	request, err := EncodeRequest(testBatch(t, 2), config.CompressionZstd)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	request.Flushed = true
	if err := sender.Send(context.Background(), request); err != nil {
		t.Fatalf("Send: %v", err)
	}

	r := <-got
	if r.path != IntakePath {
		t.Errorf("path = %q, want %q", r.path, IntakePath)
	}
	checks := map[string]string{
		"Content-Type":     ContentType,
		"Content-Encoding": "zstd",
		"Authorization":    "Bearer token",
		"User-Agent":       "apm-go/test",
		HeaderDigest:       request.Digest,
		HeaderFlushed:      "true",
	}
	for name, want := range checks {
		if value := r.header.Get(name); value != want {
			t.Errorf("%s = %q, want %q", name, value, want)
		}
	}
	batch, err := DecodeRequest(r.body, r.header.Get("Content-Encoding"), r.header.Get(HeaderDigest))
	if err != nil {
		t.Fatalf("collector could not decode body: %v", err)
	}
	if len(batch.Events) != 2 {
		t.Fatalf("collector received %d events, want 2", len(batch.Events))
	}
}

func TestAuthorizationPrefersAPIKey(t *testing.T) {
	if got := authorization("token", "key"); got != "ApiKey key" {
		t.Fatalf("authorization = %q", got)
	}
	if got := authorization("", ""); got != "" {
		t.Fatalf("authorization without credentials = %q", got)
	}
}

func TestHTTPSenderErrors(t *testing.T) {
	tests := []struct {
		status   int
		fatal    bool
		sentinel error
		message  string
	}{
		{http.StatusNotFound, true, ErrIntakeNotFound, "intake endpoint not found"},
		{http.StatusUnauthorized, true, ErrUnauthorized, "credentials rejected"},
		{http.StatusServiceUnavailable, false, nil, "503: queue full"},
	}
	for _, test := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "queue full", test.status)
		}))
		sender, err := NewHTTPSender(HTTPSenderOptions{ServerURL: server.URL})
		if err != nil {
			t.Fatalf("NewHTTPSender: %v", err)
		}
		request, err := EncodeRequest(testBatch(t, 1), config.CompressionNone)
		if err != nil {
			t.Fatalf("EncodeRequest: %v", err)
		}
		err = sender.Send(context.Background(), request)
		server.Close()

		var requestError *RequestError
		if !errors.As(err, &requestError) || requestError.StatusCode != test.status {
			t.Fatalf("status %d: Send error = %v", test.status, err)
		}
		if IsFatal(err) != test.fatal {
			t.Errorf("status %d: IsFatal = %v, want %v", test.status, IsFatal(err), test.fatal)
		}
		if test.sentinel != nil && !errors.Is(err, test.sentinel) {
			t.Errorf("status %d: error does not wrap %v", test.status, test.sentinel)
		}
		if !strings.Contains(err.Error(), test.message) {
			t.Errorf("status %d: message %q lacks %q", test.status, err.Error(), test.message)
		}
	}
}

func TestNewHTTPSenderRejectsBadURL(t *testing.T) {
	if _, err := NewHTTPSender(HTTPSenderOptions{ServerURL: "collector:8200"}); err == nil {
		t.Fatal("NewHTTPSender accepted a URL without scheme")
	}
}
