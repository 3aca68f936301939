// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the wall-clock safety valves shared by tests
// that wait on goroutines: [RequireReceive], [RequireClosed] and
// [Eventually]. Timing under test is otherwise driven by clock.Fake;
// these only bound how long a broken test can hang.
package testutil
