// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	config, err := Load(LoadOptions{Environ: []string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if config.ServerURL != Default().ServerURL {
		t.Fatalf("server_url = %s", config.ServerURL)
	}
}

func TestLoadPrecedence(t *testing.T) {
	file := writeFile(t, "apm.yaml", `
service_name: checkout
api_request_size: 1mb
api_request_time: 5s
max_queue_size: 100
transaction_sample_rate: 0.5
transaction_ignore_urls:
  - /health*
  - /metrics
global_labels:
  team: payments
  tier: 1
`)
	dotEnv := writeFile(t, ".env", "BUREAU_APM_MAX_QUEUE_SIZE=200\nBUREAU_APM_API_REQUEST_TIME=7s\n")

	config, err := Load(LoadOptions{
		File:       file,
		DotEnvFile: dotEnv,
		Environ: []string{
			"BUREAU_APM_API_REQUEST_TIME=9s",
			"UNRELATED=1",
		},
		Overrides: map[string]string{"transaction_sample_rate": "0.25"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if config.ServiceName != "checkout" || config.APIRequestSize != 1<<20 {
		t.Errorf("file values lost: name=%q size=%d", config.ServiceName, config.APIRequestSize)
	}
	if config.MaxQueueSize != 200 {
		t.Errorf("max_queue_size = %d, want the .env value", config.MaxQueueSize)
	}
	if config.APIRequestTime != 9*time.Second {
		t.Errorf("api_request_time = %v, want the process environment value", config.APIRequestTime)
	}
	if config.TransactionSampleRate != 0.25 {
		t.Errorf("transaction_sample_rate = %v, want the override", config.TransactionSampleRate)
	}
	if !config.IgnoreURL("/healthz") || !config.IgnoreURL("/metrics") || config.IgnoreURL("/api") {
		t.Errorf("transaction_ignore_urls = %v", config.TransactionIgnoreURLs.Strings())
	}
	if config.GlobalLabels["team"] != "payments" || config.GlobalLabels["tier"] != "1" {
		t.Errorf("global_labels = %v", config.GlobalLabels)
	}
}

func TestLoadEnvironmentSection(t *testing.T) {
	file := writeFile(t, "apm.yaml", `
service_name: checkout
server_url: ${COLLECTOR_URL:-http://localhost:8200}
transaction_sample_rate: 1
environments:
  production:
    transaction_sample_rate: 0.1
    central_config: false
`)

	development, err := Load(LoadOptions{File: file, Environ: []string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if development.TransactionSampleRate != 1 || !development.CentralConfig {
		t.Errorf("development picked up the production section: %+v", development)
	}
	if development.ServerURL != "http://localhost:8200" {
		t.Errorf("server_url default expansion = %s", development.ServerURL)
	}

	production, err := Load(LoadOptions{
		File:    file,
		Environ: []string{"BUREAU_APM_ENVIRONMENT=production", "COLLECTOR_URL=https://apm.prod:8200"},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if production.TransactionSampleRate != 0.1 || production.CentralConfig {
		t.Errorf("production section not applied: rate=%v central=%v",
			production.TransactionSampleRate, production.CentralConfig)
	}
	if production.ServerURL != "https://apm.prod:8200" {
		t.Errorf("server_url expansion = %s", production.ServerURL)
	}
}

func TestLoadWarnsAndKeepsDefaults(t *testing.T) {
	file := writeFile(t, "apm.yaml", `
service_name: checkout
transaction_sample_rate: 2
api_request_size: lots
no_such_option: 1
`)
	var logs bytes.Buffer
	config, err := Load(LoadOptions{
		File:    file,
		Environ: []string{},
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if config.TransactionSampleRate != 1 {
		t.Errorf("invalid sample rate changed the default to %v", config.TransactionSampleRate)
	}
	if config.APIRequestSize != 768*1024 {
		t.Errorf("invalid size changed the default to %d", config.APIRequestSize)
	}
	output := logs.String()
	for _, want := range []string{"no_such_option", "transaction_sample_rate", "api_request_size"} {
		if !strings.Contains(output, want) {
			t.Errorf("no warning mentioning %s in:\n%s", want, output)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "absent.yaml")}); err == nil {
		t.Fatal("Load succeeded with a missing file")
	}
	if _, err := Load(LoadOptions{DotEnvFile: filepath.Join(t.TempDir(), "absent.env")}); err == nil {
		t.Fatal("Load succeeded with a missing .env file")
	}
}
