// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"maps"
	"slices"
)

// CentralOptions maps each central-config key a collector may send to
// the option it sets. Keys outside this map are never applied.
var CentralOptions = map[string]string{
	"api_request_time":                          "api_request_time",
	"exit_span_min_duration":                    "exit_span_min_duration",
	"log_level":                                 "log_level",
	"sanitize_field_names":                      "sanitize_field_names",
	"trace_continuation_strategy":               "trace_continuation_strategy",
	"transaction_ignore_urls":                   "transaction_ignore_urls",
	"transaction_max_spans":                     "transaction_max_spans",
	"transaction_sample_rate":                   "transaction_sample_rate",
	"span_compression_enabled":                  "span_compression_enabled",
	"span_compression_exact_match_max_duration": "span_compression_exact_match_max_duration",
	"span_compression_same_kind_max_duration":   "span_compression_same_kind_max_duration",
}

// CentralResult is the outcome of applying one central-config payload.
type CentralResult struct {
	// Config is the new snapshot.
	Config *Config

	// Applied lists the options that were set, sorted.
	Applied []string

	// Unknown lists keys outside CentralOptions, sorted.
	Unknown []string

	// Invalid maps keys whose values failed normalization to the
	// reason. Those options keep their local value.
	Invalid map[string]error
}

// ApplyCentral applies a central-config payload on top of local, the
// snapshot built from local sources. Each payload is applied to the
// local snapshot rather than to the previous central result, so a key
// the collector stops sending reverts to its local value.
func ApplyCentral(local *Config, remote map[string]string) CentralResult {
	result := CentralResult{Config: local.Clone()}
	for _, key := range slices.Sorted(maps.Keys(remote)) {
		name, ok := CentralOptions[key]
		if !ok {
			result.Unknown = append(result.Unknown, key)
			continue
		}
		if err := result.Config.Set(name, remote[key]); err != nil {
			if result.Invalid == nil {
				result.Invalid = make(map[string]error)
			}
			result.Invalid[key] = err
			continue
		}
		result.Applied = append(result.Applied, name)
	}
	return result
}
