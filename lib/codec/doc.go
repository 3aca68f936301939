// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the agent's CBOR codec. Intake batches, the events
// inside them, and the identifiers they carry are all encoded through
// this package so every producer and the collector agree on one
// deterministic configuration.
//
// Events are encoded once, when the transport accepts them. The length
// of that encoding is what the transport's byte threshold counts, and
// the bytes themselves are spliced into the batch body as RawMessage
// values without being re-encoded.
package codec
