// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"time"

	"github.com/bureau-foundation/apm/lib/wildcard"
)

// Trace continuation strategies for incoming traceparent headers.
const (
	ContinuationContinue        = "continue"
	ContinuationRestart         = "restart"
	ContinuationRestartExternal = "restart_external"
)

// Compression algorithms for intake requests.
const (
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
	CompressionNone = "none"
)

// Config is one snapshot of the agent's options.
type Config struct {
	ServiceName     string
	ServiceVersion  string
	ServiceNodeName string
	Environment     string

	// Active false disables the agent entirely.
	Active bool

	ServerURL     string
	SecretToken   string
	APIKey        string
	ServerTimeout time.Duration

	// DisableSend keeps instrumentation running but discards every
	// batch instead of sending it.
	DisableSend bool

	CentralConfig bool

	// Batching. A batch is sent when queued events encode to more
	// than APIRequestSize bytes or APIRequestTime has passed since the
	// previous send, whichever comes first.
	APIRequestSize int
	APIRequestTime time.Duration
	MaxQueueSize   int
	Compression    string

	// FlushTimeout bounds how long a flush waits for in-progress error
	// captures before sending what it has.
	FlushTimeout time.Duration

	TransactionSampleRate     float64
	TransactionMaxSpans       int
	TransactionIgnoreURLs     wildcard.Set
	TraceContinuationStrategy string

	SpanCompressionEnabled               bool
	SpanCompressionExactMatchMaxDuration time.Duration
	SpanCompressionSameKindMaxDuration   time.Duration
	ExitSpanMinDuration                  time.Duration

	BreakdownMetrics   bool
	SanitizeFieldNames wildcard.Set
	GlobalLabels       map[string]string

	FrameworkName    string
	FrameworkVersion string

	LogLevel string
}

// Default returns a snapshot with every option at its default.
func Default() *Config {
	return &Config{
		Environment:   "development",
		Active:        true,
		ServerURL:     "http://127.0.0.1:8200",
		ServerTimeout: 30 * time.Second,
		CentralConfig: true,

		APIRequestSize: 768 * 1024,
		APIRequestTime: 10 * time.Second,
		MaxQueueSize:   1024,
		Compression:    CompressionZstd,
		FlushTimeout:   time.Second,

		TransactionSampleRate:     1.0,
		TransactionMaxSpans:       500,
		TraceContinuationStrategy: ContinuationContinue,

		SpanCompressionEnabled:               true,
		SpanCompressionExactMatchMaxDuration: 50 * time.Millisecond,
		SpanCompressionSameKindMaxDuration:   0,
		ExitSpanMinDuration:                  0,

		BreakdownMetrics: true,
		SanitizeFieldNames: wildcard.CompileAll([]string{
			"password", "passwd", "pwd", "secret", "*key", "*token*",
			"*session*", "*credit*", "*card*", "*auth*", "set-cookie",
		}),

		LogLevel: "info",
	}
}

// Clone returns a copy that shares nothing mutable with c.
func (c *Config) Clone() *Config {
	clone := *c
	clone.GlobalLabels = maps.Clone(c.GlobalLabels)
	clone.TransactionIgnoreURLs = append(wildcard.Set(nil), c.TransactionIgnoreURLs...)
	clone.SanitizeFieldNames = append(wildcard.Set(nil), c.SanitizeFieldNames...)
	return &clone
}

// IgnoreURL reports whether transactions for the given request path are
// excluded by transaction_ignore_urls.
func (c *Config) IgnoreURL(path string) bool {
	return c.TransactionIgnoreURLs.Match(path)
}

// SanitizeField reports whether a label or custom-context key must be
// redacted.
func (c *Config) SanitizeField(key string) bool {
	return c.SanitizeFieldNames.Match(key)
}

var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// Validate reports the problems that prevent the agent from starting.
func (c *Config) Validate() error {
	var errs []error
	switch {
	case c.ServiceName == "":
		errs = append(errs, errors.New("service_name is required"))
	case !serviceNamePattern.MatchString(c.ServiceName):
		errs = append(errs, fmt.Errorf("service_name %q may only contain letters, digits, spaces, underscores and hyphens", c.ServiceName))
	}
	if _, err := ParseURL(c.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("server_url: %w", err))
	}
	if c.MaxQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("max_queue_size must be positive, got %d", c.MaxQueueSize))
	}
	return errors.Join(errs...)
}

// ServerEndpoint joins path onto the server URL.
func (c *Config) ServerEndpoint(path string) (*url.URL, error) {
	base, err := ParseURL(c.ServerURL)
	if err != nil {
		return nil, err
	}
	return base.JoinPath(path), nil
}
