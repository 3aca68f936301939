// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP body reads. Collector responses and
// agent requests are read through these helpers rather than io.ReadAll
// so a misbehaving peer cannot exhaust memory.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxErrorBody is how much of an error response ErrorBody keeps.
const MaxErrorBody = 1024

// ErrBodyTooLarge is returned by ReadLimited when a body exceeds its
// limit.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// ReadLimited reads body whole, failing with ErrBodyTooLarge rather
// than truncating when it holds more than limit bytes.
func ReadLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// DecodeJSON reads body up to limit bytes and decodes it into v.
func DecodeJSON(body io.Reader, limit int64, v any) error {
	data, err := ReadLimited(body, limit)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody returns the start of an error response for use in an error
// message. Read errors are ignored; a partial body is still useful.
func ErrorBody(body io.Reader) []byte {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBody))
	return data
}
