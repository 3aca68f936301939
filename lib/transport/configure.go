// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/apm/lib/config"
	"github.com/bureau-foundation/apm/lib/schema/apm"
)

// UnknownKeysError lists Configure keys the client does not accept.
type UnknownKeysError struct {
	Keys []string
}

func (e *UnknownKeysError) Error() string {
	return "transport: unsupported configuration keys: " + strings.Join(e.Keys, ", ")
}

// Configure changes client settings at runtime. Accepted keys:
//
//	api_request_size   int bytes, or a size string such as "1mb"
//	api_request_time   time.Duration, or a duration string such as "5s"
//	max_queue_size     int
//	server_timeout     time.Duration or duration string
//	compression        "zstd", "lz4" or "none"
//	global_labels      map[string]string, replacing the metadata labels
//	framework_name     string
//	framework_version  string
//
// Every accepted key with a valid value is applied. Unknown keys are
// reported in an *UnknownKeysError; invalid values in a joined error
// alongside it.
func (c *Client) Configure(fields map[string]any) error {
	var errs []error
	var unknown []string

	c.mu.Lock()
	next := c.settings
	next.metadata.Labels = maps.Clone(c.settings.metadata.Labels)
	capacity, threshold := -1, -1
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		value := fields[key]
		var err error
		switch key {
		case "api_request_size":
			threshold, err = sizeValue(value)
		case "api_request_time":
			next.requestTime, err = durationValue(value, next.requestTime)
		case "max_queue_size":
			capacity, err = sizeValue(value)
		case "server_timeout":
			next.serverTimeout, err = durationValue(value, next.serverTimeout)
		case "compression":
			var name string
			if name, err = stringValue(value); err == nil {
				next.compression, err = config.ParseSelect(name,
					config.CompressionZstd, config.CompressionLZ4, config.CompressionNone)
				if err != nil {
					next.compression = c.settings.compression
				}
			}
		case "global_labels":
			labels, ok := value.(map[string]string)
			if !ok {
				err = fmt.Errorf("want map[string]string, got %T", value)
				break
			}
			next.metadata.Labels = maps.Clone(labels)
		case "framework_name", "framework_version":
			var text string
			if text, err = stringValue(value); err == nil {
				framework := apm.Named{}
				if next.metadata.Service.Framework != nil {
					framework = *next.metadata.Service.Framework
				}
				if key == "framework_name" {
					framework.Name = text
				} else {
					framework.Version = text
				}
				next.metadata.Service.Framework = &framework
			}
		default:
			unknown = append(unknown, key)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	retimed := next.requestTime != c.settings.requestTime
	c.settings = next
	c.mu.Unlock()

	if capacity > 0 || threshold > 0 {
		c.queue.mu.Lock()
		if capacity <= 0 {
			capacity = c.queue.capacity
		}
		if threshold <= 0 {
			threshold = c.queue.threshold
		}
		c.queue.mu.Unlock()
		c.queue.resize(capacity, threshold)
	}
	if retimed {
		select {
		case c.retime <- struct{}{}:
		default:
		}
	}

	if len(unknown) > 0 {
		errs = append([]error{&UnknownKeysError{Keys: unknown}}, errs...)
	}
	return errors.Join(errs...)
}

func stringValue(value any) (string, error) {
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("want string, got %T", value)
	}
	return text, nil
}

func sizeValue(value any) (int, error) {
	switch typed := value.(type) {
	case int:
		if typed <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", typed)
		}
		return typed, nil
	case string:
		size, err := config.ParseBytes(typed)
		if err == nil && size <= 0 {
			err = fmt.Errorf("must be positive, got %q", typed)
		}
		return size, err
	}
	return 0, fmt.Errorf("want int or size string, got %T", value)
}

// durationValue parses value, returning current unchanged on error.
func durationValue(value any, current time.Duration) (time.Duration, error) {
	var parsed time.Duration
	switch typed := value.(type) {
	case time.Duration:
		parsed = typed
	case string:
		var err error
		parsed, err = config.ParseDuration(typed, "s", []string{"ms", "s", "m"}, false)
		if err != nil {
			return current, err
		}
	default:
		return current, fmt.Errorf("want time.Duration or duration string, got %T", value)
	}
	if parsed <= 0 {
		return current, fmt.Errorf("must be positive, got %v", parsed)
	}
	return parsed, nil
}
