// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type probe struct {
	Name   string         `cbor:"name"`
	Count  int            `cbor:"count"`
	Labels map[string]any `cbor:"labels,omitempty"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	value := probe{Name: "GET /users", Count: 3, Labels: map[string]any{"b": 1, "a": "x", "c": true}}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("two encodings of the same value differ")
		}
	}
}

func TestUnmarshalAnyMapsUseStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	inner, ok := decoded["outer"].(map[string]any)
	if !ok {
		t.Fatalf("nested map decoded as %T, want map[string]any", decoded["outer"])
	}
	if inner["inner"] != "v" {
		t.Fatalf("inner = %v", inner["inner"])
	}
}

func TestRawMessageSplicesWithoutReencoding(t *testing.T) {
	encoded, err := Marshal(probe{Name: "db.query", Count: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	wrapper := struct {
		Items []RawMessage `cbor:"items"`
	}{Items: []RawMessage{encoded, encoded}}

	data, err := Marshal(wrapper)
	if err != nil {
		t.Fatalf("Marshal wrapper: %v", err)
	}
	var decoded struct {
		Items []probe `cbor:"items"`
	}
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal wrapper: %v", err)
	}
	if len(decoded.Items) != 2 || decoded.Items[1].Name != "db.query" {
		t.Fatalf("decoded %+v", decoded.Items)
	}
}

func TestEncodedSizeMatchesMarshal(t *testing.T) {
	value := probe{Name: "size", Count: 1 << 20}
	data, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	size, err := EncodedSize(value)
	if err != nil {
		t.Fatalf("EncodedSize: %v", err)
	}
	if size != len(data) {
		t.Fatalf("EncodedSize = %d, want %d", size, len(data))
	}
}

func TestDecoderReadsSequence(t *testing.T) {
	var buffer bytes.Buffer
	for i := range 3 {
		data, err := Marshal(probe{Name: "item", Count: i})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		buffer.Write(data)
	}
	decoder := NewDecoder(&buffer)
	for i := range 3 {
		var item probe
		if err := decoder.Decode(&item); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if item.Count != i {
			t.Fatalf("item %d has count %d", i, item.Count)
		}
	}
}
