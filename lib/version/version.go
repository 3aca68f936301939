// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Build stamps, overridden by the release build:
//
//	go build -ldflags "-X github.com/bureau-foundation/apm/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Short is the bare version the agent puts in metadata and its
// User-Agent header.
func Short() string {
	return Version
}

// Info identifies the exact build: "<version> (<commit>[-dirty], <time>)".
func Info() string {
	commit := GitCommit
	if GitDirty == "true" {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, BuildTime)
}

// Full is Info followed by the toolchain and target platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Banner is the --version output of the named binary.
func Banner(binary string) string {
	return binary + " " + Full()
}
