// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace":    LevelTrace,
		"debug":    slog.LevelDebug,
		"INFO":     slog.LevelInfo,
		"warning":  slog.LevelWarn,
		"warn":     slog.LevelWarn,
		"error":    slog.LevelError,
		"critical": slog.LevelError,
		" off ":    LevelOff,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("ParseLevel(verbose) succeeded")
	}
}

func TestNewFollowsLevelVar(t *testing.T) {
	var buffer bytes.Buffer
	var level slog.LevelVar
	level.Set(slog.LevelWarn)
	logger := New(&buffer, &level)

	logger.Info("hidden")
	if buffer.Len() != 0 {
		t.Fatalf("info record written at warn level: %s", buffer.String())
	}

	level.Set(LevelTrace)
	logger.Log(t.Context(), LevelTrace, "visible", "queue", 3)

	var record map[string]any
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buffer.String())
	}
	if record["level"] != "TRACE" || record["msg"] != "visible" {
		t.Fatalf("record = %v", record)
	}
}

func TestOffSilencesErrors(t *testing.T) {
	var buffer bytes.Buffer
	var level slog.LevelVar
	level.Set(LevelOff)
	New(&buffer, &level).Error("dropped")
	if buffer.Len() != 0 {
		t.Fatalf("error record written at off level: %s", buffer.String())
	}
}
