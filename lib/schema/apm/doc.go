// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package apm defines the records the agent reports: transactions
// (operations), spans (steps), captured errors, and the process
// metadata that prefixes every intake batch.
//
// The types are plain data. Lifecycle rules such as freezing after end,
// outcome inference and compression live in lib/apm; this package only
// fixes how a finished record is identified and encoded. Records use
// cbor struct tags and travel in a Batch, whose events are pre-encoded
// by the transport when they are queued.
package apm
