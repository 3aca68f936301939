// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"errors"
	"fmt"
)

// Outcome is the reported result class of a transaction or span.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// ErrInvalidOutcome is returned for an outcome string outside the three
// defined values.
var ErrInvalidOutcome = errors.New("invalid outcome")

// ParseOutcome validates s.
func ParseOutcome(s string) (Outcome, error) {
	switch outcome := Outcome(s); outcome {
	case OutcomeSuccess, OutcomeFailure, OutcomeUnknown:
		return outcome, nil
	}
	return "", fmt.Errorf("%w %q (want success, failure or unknown)", ErrInvalidOutcome, s)
}

// Valid reports whether o is one of the defined outcomes.
func (o Outcome) Valid() bool {
	_, err := ParseOutcome(string(o))
	return err == nil
}

// OutcomeFromHTTPStatus classifies a response status: 5xx is a failure,
// anything else a success.
func OutcomeFromHTTPStatus(status int) Outcome {
	if status >= 500 {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
