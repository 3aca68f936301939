// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for the agent's binaries:
// reporting an error that happened before the structured logger
// existed, and exiting.
package process
