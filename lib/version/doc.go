// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build of the agent and its tools.
//
// Four variables are injected at build time with -ldflags -X:
//
//   - [GitCommit]: short git SHA of the build
//   - [GitDirty]: "true" if there were uncommitted changes
//   - [BuildTime]: UTC timestamp of the build
//   - [Version]: semantic version, set manually for releases
//
// Development builds and test runs see the defaults, "unknown" and
// "0.1.0-dev".
//
// [Short] is what the agent reports in event metadata and its
// User-Agent. [Info] identifies the exact build in logs, and [Banner]
// is the --version output of the binaries.
package version
