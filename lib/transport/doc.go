// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport batches finished telemetry events and ships them to
// the collector.
//
// The Client accepts events without ever blocking the caller. Each
// event is CBOR-encoded as it is queued; the encoded length counts
// toward the byte threshold. A single sender goroutine (Client.Run)
// sends a batch when the queued bytes reach APIRequestSize or when
// APIRequestTime has passed since the previous send, whichever happens
// first. A full queue drops the incoming event and counts it. Events
// leave the queue only after the collector accepts them, so a failed
// send is retried at the next trigger.
//
// A batch body is the CBOR encoding of a schema Batch, compressed
// (zstd by default, or lz4) and identified by the BLAKE3 digest of the
// uncompressed bytes. DecodeRequest reverses the encoding for
// collectors and tests.
//
// CentralConfigPoller fetches the collector's remote configuration for
// this service and hands each new version to a callback.
package transport
