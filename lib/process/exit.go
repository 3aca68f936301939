// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

// UsageError is a bad command line. Fatal exits with status 2 for it.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// Usagef returns a *UsageError with a formatted message.
func Usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// ExitCode maps the error returned by run() to a process exit status:
// 0 for nil or a --help request, 2 for usage errors, 1 otherwise.
func ExitCode(err error) int {
	var usage *UsageError
	switch {
	case err == nil, errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.As(err, &usage):
		return 2
	}
	return 1
}

// Fatal writes "error: err" to stderr and exits with ExitCode(err).
// main() calls it with the error from run(), which may have failed
// before a logger was built. A --help request exits quietly.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	code := ExitCode(err)
	if code != 0 {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return code
}
