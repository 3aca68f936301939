// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReadLimited(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		limit   int64
		wantErr error
	}{
		{"under limit", `{"log_level":"debug"}`, 64, nil},
		{"exactly at limit", "12345678", 8, nil},
		{"empty", "", 8, nil},
		{"over limit", "123456789", 8, ErrBodyTooLarge},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			data, err := ReadLimited(strings.NewReader(test.body), test.limit)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("ReadLimited error = %v, want %v", err, test.wantErr)
			}
			if err == nil && string(data) != test.body {
				t.Fatalf("ReadLimited = %q, want %q", data, test.body)
			}
		})
	}

	if _, err := ReadLimited(&failReader{}, 8); err == nil {
		t.Fatal("read error was swallowed")
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	var status struct {
		Batches int `json:"batches"`
	}
	if err := DecodeJSON(strings.NewReader(`{"batches":3}`), 64, &status); err != nil || status.Batches != 3 {
		t.Fatalf("DecodeJSON = %v, batches %d", err, status.Batches)
	}
	if err := DecodeJSON(strings.NewReader(`not json`), 64, &status); err == nil {
		t.Fatal("invalid JSON decoded")
	}
	if err := DecodeJSON(strings.NewReader(`{"batches":3}`), 4, &status); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("oversized body error = %v", err)
	}
}

func TestErrorBody(t *testing.T) {
	t.Parallel()
	if got := ErrorBody(strings.NewReader("queue full")); string(got) != "queue full" {
		t.Fatalf("ErrorBody = %q", got)
	}
	long := bytes.Repeat([]byte("x"), MaxErrorBody*2)
	if got := ErrorBody(bytes.NewReader(long)); len(got) != MaxErrorBody {
		t.Fatalf("ErrorBody kept %d bytes, want %d", len(got), MaxErrorBody)
	}
	if got := ErrorBody(&failReader{}); len(got) != 0 {
		t.Fatalf("ErrorBody of failing reader = %q", got)
	}
}

type failReader struct{}

func (*failReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}
