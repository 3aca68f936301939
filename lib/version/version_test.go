// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoMarksDirtyBuilds(t *testing.T) {
	savedCommit, savedDirty, savedTime := GitCommit, GitDirty, BuildTime
	t.Cleanup(func() { GitCommit, GitDirty, BuildTime = savedCommit, savedDirty, savedTime })

	GitCommit, GitDirty, BuildTime = "abc1234", "true", "2026-03-01T00:00:00Z"
	if got, want := Info(), Version+" (abc1234-dirty, 2026-03-01T00:00:00Z)"; got != want {
		t.Fatalf("Info() = %q, want %q", got, want)
	}
	GitDirty = "false"
	if strings.Contains(Info(), "dirty") {
		t.Fatalf("clean build reported dirty: %q", Info())
	}
	if !strings.HasPrefix(Full(), Info()+"\n  Go: ") {
		t.Fatalf("Full() = %q", Full())
	}
}

func TestBannerNamesBinary(t *testing.T) {
	banner := Banner("apm-loadgen")
	if !strings.HasPrefix(banner, "apm-loadgen "+Version+" (") || !strings.Contains(banner, "Platform: ") {
		t.Fatalf("Banner() = %q", banner)
	}
}
