// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/bureau-foundation/apm/lib/logging"
	"github.com/bureau-foundation/apm/lib/wildcard"
)

// option binds a name to the normalizer that parses its raw value and
// stores it on a snapshot.
type option struct {
	name string
	set  func(c *Config, raw string) error
}

var (
	secondsUnits = []string{"ms", "s", "m"}
	spanUnits    = []string{"us", "ms", "s", "m"}
)

func stringOption(name string, field func(*Config) *string) option {
	return option{name, func(c *Config, raw string) error {
		*field(c) = raw
		return nil
	}}
}

func boolOption(name string, field func(*Config) *bool) option {
	return option{name, func(c *Config, raw string) error {
		value, err := ParseBool(raw)
		if err != nil {
			return err
		}
		*field(c) = value
		return nil
	}}
}

func positiveIntOption(name string, field func(*Config) *int) option {
	return option{name, func(c *Config, raw string) error {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return fmt.Errorf("%q is not a non-negative integer", raw)
		}
		*field(c) = value
		return nil
	}}
}

func durationOption(name, defaultUnit string, units []string, field func(*Config) *time.Duration) option {
	return option{name, func(c *Config, raw string) error {
		value, err := ParseDuration(raw, defaultUnit, units, false)
		if err != nil {
			return err
		}
		*field(c) = value
		return nil
	}}
}

func selectOption(name string, field func(*Config) *string, choices ...string) option {
	return option{name, func(c *Config, raw string) error {
		value, err := ParseSelect(raw, choices...)
		if err != nil {
			return err
		}
		*field(c) = value
		return nil
	}}
}

func patternsOption(name string, field func(*Config) *wildcard.Set) option {
	return option{name, func(c *Config, raw string) error {
		*field(c) = wildcard.CompileAll(ParseList(raw))
		return nil
	}}
}

var options = []option{
	stringOption("service_name", func(c *Config) *string { return &c.ServiceName }),
	stringOption("service_version", func(c *Config) *string { return &c.ServiceVersion }),
	stringOption("service_node_name", func(c *Config) *string { return &c.ServiceNodeName }),
	stringOption("environment", func(c *Config) *string { return &c.Environment }),
	boolOption("active", func(c *Config) *bool { return &c.Active }),

	{"server_url", func(c *Config, raw string) error {
		if _, err := ParseURL(raw); err != nil {
			return err
		}
		c.ServerURL = raw
		return nil
	}},
	stringOption("secret_token", func(c *Config) *string { return &c.SecretToken }),
	stringOption("api_key", func(c *Config) *string { return &c.APIKey }),
	durationOption("server_timeout", "s", secondsUnits, func(c *Config) *time.Duration { return &c.ServerTimeout }),
	boolOption("disable_send", func(c *Config) *bool { return &c.DisableSend }),
	boolOption("central_config", func(c *Config) *bool { return &c.CentralConfig }),

	{"api_request_size", func(c *Config, raw string) error {
		value, err := ParseBytes(raw)
		if err != nil {
			return err
		}
		c.APIRequestSize = value
		return nil
	}},
	durationOption("api_request_time", "s", secondsUnits, func(c *Config) *time.Duration { return &c.APIRequestTime }),
	positiveIntOption("max_queue_size", func(c *Config) *int { return &c.MaxQueueSize }),
	selectOption("compression", func(c *Config) *string { return &c.Compression },
		CompressionZstd, CompressionLZ4, CompressionNone),
	durationOption("flush_timeout", "ms", secondsUnits, func(c *Config) *time.Duration { return &c.FlushTimeout }),

	{"transaction_sample_rate", func(c *Config, raw string) error {
		rate, err := NormalizeSampleRate(raw)
		if err != nil {
			return err
		}
		c.TransactionSampleRate = rate
		return nil
	}},
	positiveIntOption("transaction_max_spans", func(c *Config) *int { return &c.TransactionMaxSpans }),
	patternsOption("transaction_ignore_urls", func(c *Config) *wildcard.Set { return &c.TransactionIgnoreURLs }),
	selectOption("trace_continuation_strategy", func(c *Config) *string { return &c.TraceContinuationStrategy },
		ContinuationContinue, ContinuationRestart, ContinuationRestartExternal),

	boolOption("span_compression_enabled", func(c *Config) *bool { return &c.SpanCompressionEnabled }),
	durationOption("span_compression_exact_match_max_duration", "ms", spanUnits,
		func(c *Config) *time.Duration { return &c.SpanCompressionExactMatchMaxDuration }),
	durationOption("span_compression_same_kind_max_duration", "ms", spanUnits,
		func(c *Config) *time.Duration { return &c.SpanCompressionSameKindMaxDuration }),
	durationOption("exit_span_min_duration", "ms", spanUnits, func(c *Config) *time.Duration { return &c.ExitSpanMinDuration }),

	boolOption("breakdown_metrics", func(c *Config) *bool { return &c.BreakdownMetrics }),
	patternsOption("sanitize_field_names", func(c *Config) *wildcard.Set { return &c.SanitizeFieldNames }),
	{"global_labels", func(c *Config, raw string) error {
		labels, err := ParseLabels(raw)
		if err != nil {
			return err
		}
		c.GlobalLabels = labels
		return nil
	}},

	stringOption("framework_name", func(c *Config) *string { return &c.FrameworkName }),
	stringOption("framework_version", func(c *Config) *string { return &c.FrameworkVersion }),

	{"log_level", func(c *Config, raw string) error {
		if _, err := logging.ParseLevel(raw); err != nil {
			return err
		}
		c.LogLevel = raw
		return nil
	}},
}

func lookupOption(name string) (option, bool) {
	index := slices.IndexFunc(options, func(o option) bool { return o.name == name })
	if index < 0 {
		return option{}, false
	}
	return options[index], true
}

// OptionNames lists every recognized option name.
func OptionNames() []string {
	names := make([]string, len(options))
	for i, o := range options {
		names[i] = o.name
	}
	return names
}

// Set parses raw and stores it as option name on c. An unknown name or
// an invalid value leaves c unchanged and returns an error.
func (c *Config) Set(name, raw string) error {
	o, ok := lookupOption(name)
	if !ok {
		return fmt.Errorf("unknown option %q", name)
	}
	if err := o.set(c, raw); err != nil {
		return fmt.Errorf("option %s: %w", name, err)
	}
	return nil
}
