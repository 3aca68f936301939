// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MinimumSampleRate is the smallest non-zero sample rate. Smaller
// positive rates are raised to it rather than rounded away to zero.
const MinimumSampleRate = 0.0001

// NormalizeSampleRate parses a sample rate in [0, 1], raising positive
// values below MinimumSampleRate to it and rounding the rest to four
// decimal places.
func NormalizeSampleRate(raw string) (float64, error) {
	rate, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(rate) {
		return 0, fmt.Errorf("sample rate %q is not a number", raw)
	}
	if rate < 0 || rate > 1 {
		return 0, fmt.Errorf("sample rate %v is outside [0, 1]", rate)
	}
	if rate > 0 && rate < MinimumSampleRate {
		return MinimumSampleRate, nil
	}
	return math.Round(rate*10000) / 10000, nil
}

var bytesPattern = regexp.MustCompile(`^(\d+)(b|kb|mb|gb)?$`)

// ParseBytes parses a size such as "768kb", "2mb" or "1024". Units are
// binary multiples and case-insensitive.
func ParseBytes(raw string) (int, error) {
	match := bytesPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(raw)))
	if match == nil {
		return 0, fmt.Errorf("size %q: want digits with an optional b, kb, mb or gb suffix", raw)
	}
	value, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("size %q: %w", raw, err)
	}
	switch match[2] {
	case "kb":
		value *= 1 << 10
	case "mb":
		value *= 1 << 20
	case "gb":
		value *= 1 << 30
	}
	return value, nil
}

var durationPattern = regexp.MustCompile(`^(-?\d+)(us|ms|s|m)?$`)

var durationUnits = map[string]time.Duration{
	"us": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
}

// ParseDuration parses an integer with an optional unit suffix (us, ms,
// s, m). A bare integer is read in defaultUnit. The unit must be in
// allowedUnits; a negative value is an error unless allowNegative.
func ParseDuration(raw, defaultUnit string, allowedUnits []string, allowNegative bool) (time.Duration, error) {
	match := durationPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(raw)))
	if match == nil {
		return 0, fmt.Errorf("duration %q: want an integer with an optional unit", raw)
	}
	unit := match[2]
	if unit == "" {
		unit = defaultUnit
	}
	if !slices.Contains(allowedUnits, unit) {
		return 0, fmt.Errorf("duration %q: unit %q not allowed here (allowed: %s)", raw, unit, strings.Join(allowedUnits, ", "))
	}
	value, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", raw, err)
	}
	if value < 0 && !allowNegative {
		return 0, fmt.Errorf("duration %q must not be negative", raw)
	}
	return time.Duration(value) * durationUnits[unit], nil
}

// ParseBool accepts true or false in any case.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("boolean %q: want true or false", raw)
}

// ParseURL parses an absolute http or https URL.
func ParseURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("url %q: scheme must be http or https", raw)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("url %q: missing host", raw)
	}
	return parsed, nil
}

// ParseSelect returns the lowercased value if it is one of choices.
func ParseSelect(raw string, choices ...string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if !slices.Contains(choices, value) {
		return "", fmt.Errorf("value %q: want one of %s", raw, strings.Join(choices, ", "))
	}
	return value, nil
}

// ParseList splits a comma-separated list, dropping empty items.
func ParseList(raw string) []string {
	var items []string
	for item := range strings.SplitSeq(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ParseLabels parses "key=value,key2=value2".
func ParseLabels(raw string) (map[string]string, error) {
	labels := make(map[string]string)
	for _, pair := range ParseList(raw) {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("label %q: want key=value", pair)
		}
		labels[key] = strings.TrimSpace(value)
	}
	return labels, nil
}
