// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wildcard matches strings against the simple patterns used by
// options such as transaction_ignore_urls and sanitize_field_names.
//
// A pattern matches the whole input. "*" matches any run of characters,
// including none; every other character is literal. Matching ignores
// case unless the pattern starts with "(?-i)".
package wildcard

import (
	"regexp"
	"strings"
)

const caseSensitivePrefix = "(?-i)"

// Pattern is one compiled wildcard pattern.
type Pattern struct {
	source string
	re     *regexp.Regexp
}

// Compile compiles pattern. Every input is a valid pattern.
func Compile(pattern string) Pattern {
	body, caseSensitive := strings.CutPrefix(pattern, caseSensitivePrefix)

	var expression strings.Builder
	if !caseSensitive {
		expression.WriteString("(?i)")
	}
	expression.WriteString("^")
	for i, literal := range strings.Split(body, "*") {
		if i > 0 {
			expression.WriteString(".*")
		}
		expression.WriteString(regexp.QuoteMeta(literal))
	}
	expression.WriteString("$")

	return Pattern{source: pattern, re: regexp.MustCompile(expression.String())}
}

// Match reports whether s matches the pattern.
func (p Pattern) Match(s string) bool {
	return p.re != nil && p.re.MatchString(s)
}

func (p Pattern) String() string { return p.source }

// Set is an ordered list of patterns. The zero Set matches nothing.
type Set []Pattern

// CompileAll compiles each pattern in order.
func CompileAll(patterns []string) Set {
	set := make(Set, 0, len(patterns))
	for _, pattern := range patterns {
		set = append(set, Compile(pattern))
	}
	return set
}

// Match reports whether any pattern matches s.
func (s Set) Match(input string) bool {
	for _, pattern := range s {
		if pattern.Match(input) {
			return true
		}
	}
	return false
}

// Strings returns the source patterns.
func (s Set) Strings() []string {
	sources := make([]string, len(s))
	for i, pattern := range s {
		sources[i] = pattern.source
	}
	return sources
}
