// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/bureau-foundation/apm/lib/codec"
)

// TraceID identifies one distributed trace. Text form is 32 lowercase
// hex characters (the W3C traceparent field); CBOR form is a 16-byte
// byte string.
type TraceID [16]byte

// SpanID identifies a transaction or span within a trace. Text form is
// 16 lowercase hex characters; CBOR form is an 8-byte byte string.
type SpanID [8]byte

// NewTraceID returns a random, non-zero TraceID.
func NewTraceID() TraceID {
	var id TraceID
	for id.IsZero() {
		rand.Read(id[:])
	}
	return id
}

// NewSpanID returns a random, non-zero SpanID.
func NewSpanID() SpanID {
	var id SpanID
	for id.IsZero() {
		rand.Read(id[:])
	}
	return id
}

func (id TraceID) IsZero() bool   { return id == TraceID{} }
func (id TraceID) String() string { return hex.EncodeToString(id[:]) }

func (id TraceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TraceID) UnmarshalText(text []byte) error {
	return decodeHex("trace id", text, id[:])
}

func (id TraceID) MarshalCBOR() ([]byte, error) { return codec.Marshal(id[:]) }

func (id *TraceID) UnmarshalCBOR(data []byte) error {
	return decodeBytes("trace id", data, id[:])
}

func (id SpanID) IsZero() bool   { return id == SpanID{} }
func (id SpanID) String() string { return hex.EncodeToString(id[:]) }

func (id SpanID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SpanID) UnmarshalText(text []byte) error {
	return decodeHex("span id", text, id[:])
}

func (id SpanID) MarshalCBOR() ([]byte, error) { return codec.Marshal(id[:]) }

func (id *SpanID) UnmarshalCBOR(data []byte) error {
	return decodeBytes("span id", data, id[:])
}

// decodeHex fills dst from hex text. Empty text zeroes dst.
func decodeHex(what string, text []byte, dst []byte) error {
	if len(text) == 0 {
		clear(dst)
		return nil
	}
	if len(text) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("%s %q: want %d hex characters", what, text, hex.EncodedLen(len(dst)))
	}
	if _, err := hex.Decode(dst, text); err != nil {
		return fmt.Errorf("%s %q: %w", what, text, err)
	}
	return nil
}

// decodeBytes fills dst from a CBOR byte string of exactly len(dst).
func decodeBytes(what string, data []byte, dst []byte) error {
	var raw []byte
	if err := codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding %s: %w", what, err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("decoding %s: got %d bytes, want %d", what, len(raw), len(dst))
	}
	copy(dst, raw)
	return nil
}
