// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config holds the agent's option model: defaults, the
// normalizers that turn raw option strings into typed values, loading
// from a YAML file and the environment, and the allow-list for options
// a collector may change at runtime (central config).
//
// A *Config is a snapshot. Nothing mutates a snapshot after it is
// handed out; changes produce a new snapshot (Clone, then set), and
// readers swap pointers. That keeps a reader from ever observing half of
// a central-config update.
//
// Every option has one snake_case name. The same name is the YAML key,
// the suffix of its BUREAU_APM_ environment variable, the key in
// LoadOptions.Overrides, and (for allow-listed options) the central
// config key.
//
// Invalid values never fail loading. The value is logged and the option
// keeps what it had, which is its default unless an earlier source set
// it. Only Validate, run when the agent starts, can reject a
// configuration.
package config
